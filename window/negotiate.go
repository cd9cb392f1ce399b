package window

import (
	"fmt"

	"github.com/nvgpu/eglxpresent/driver"
	"github.com/nvgpu/eglxpresent/internal/wire"
	"github.com/nvgpu/eglxpresent/platform"
)

// negotiatedModifiers is the outcome of the modifier negotiation
// algorithm (spec.md §4.7): the chosen working set for the render
// pool, whether it came from the window-specific server set, and
// whether the presenter must go through a PRIME intermediate.
type negotiatedModifiers struct {
	Modifiers  []uint64
	FromWindow bool
	Prime      bool
}

// negotiateModifiers implements spec.md §4.7 end to end: under
// force_prime the server is not even asked; otherwise the window's and
// screen's supported-modifier sets are fetched over DRI3
// GetSupportedModifiers and fed to chooseModifiers.
func negotiateModifiers(conn *wire.Conn, windowXID uint32, depth, bpp uint8, fmtRec platform.Format, forcePrime, supportsPrime bool) (negotiatedModifiers, error) {
	if forcePrime {
		// Step 1: skip the server request entirely; the render pool uses
		// the driver's full renderable list since the server never sees
		// these buffers directly.
		return negotiatedModifiers{Modifiers: fmtRec.RenderableModifiers, Prime: true}, nil
	}
	w, s, err := conn.DRI3GetSupportedModifiers(windowXID, depth, bpp)
	if err != nil {
		return negotiatedModifiers{}, fmt.Errorf("%w: GetSupportedModifiers: %v", driver.ErrTransientWire, err)
	}
	return chooseModifiers(fmtRec, w, s, supportsPrime)
}

// chooseModifiers is the wire-free decision core of spec.md §4.7's
// window/screen fallback and PRIME decision. Split out from
// negotiateModifiers so the modifier-negotiation property tests can
// drive it directly with literal W/S values instead of a fake wire
// connection.
//
// Step 2: intersect the window-specific set against the driver's
// renderable list.
// Step 3: an empty intersection means PRIME either way, but which
// server list gets consulted differs — a non-empty window list that
// shares nothing with the driver means the server has already told us
// its per-window preference won't avoid a blit, so the screen-wide set
// is not worth trying; an empty window list means the server simply
// has no per-window opinion, so fall back to its screen-wide set.
// Step 4: a non-empty result after all that means prime = false and
// the intersection is the render-pool modifier set; otherwise
// prime = true, and the render pool falls back to the driver's own
// renderable list (the server never sees these buffers) while the
// caller is responsible for giving the PRIME pool LINEAR only.
func chooseModifiers(fmtRec platform.Format, w, s []uint64, supportsPrime bool) (negotiatedModifiers, error) {
	renderable := fmtRec.RenderableModifiers

	if got := platform.Intersect(renderable, w); len(got) > 0 {
		return negotiatedModifiers{Modifiers: got, FromWindow: true}, nil
	}

	if len(w) == 0 {
		if got := platform.Intersect(renderable, s); len(got) > 0 {
			return negotiatedModifiers{Modifiers: got, FromWindow: false}, nil
		}
	}

	if !supportsPrime {
		return negotiatedModifiers{}, fmt.Errorf("%w: no common modifier between driver and server, and PRIME is unavailable", driver.ErrNotAvailable)
	}
	return negotiatedModifiers{Modifiers: renderable, Prime: true}, nil
}
