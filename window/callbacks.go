package window

import (
	"log"

	"golang.org/x/sys/unix"

	"github.com/nvgpu/eglxpresent/colorbuffer"
	"github.com/nvgpu/eglxpresent/driver"
	"github.com/nvgpu/eglxpresent/internal/wire"
)

// onUpdate implements the UpdateFunc the presenter registers with
// driver.SurfaceOwner.CreateSurface (spec.md §4.10): the driver calls
// this immediately before it starts using the surface's attached
// buffers, from its own internal thread, holding its window-system
// lock. It may only take the presenter mutex, never the display lock
// (spec.md §5's deadlock-avoidance ordering), and must return quickly.
// If skip_update_callback is raised (a SwapBuffers is concurrently in
// progress on this surface) it no-ops; otherwise it polls for events
// and, if a resize has been observed, performs a resize-only
// reallocation (allow_modifier_change = false) so the driver sees a
// coherently sized surface before it continues.
func (p *Presenter) onUpdate(param any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.skipUpdateCallback > 0 {
		return
	}
	for p.pump.pollOnce() {
	}
	defer p.cond.Broadcast()
	if p.deleted || p.nativeDestroyed {
		return
	}
	if p.pendingWidth != p.width || p.pendingHeight != p.height {
		if err := p.reallocateLocked(false); err != nil {
			log.Printf("eglxpresent: window %#x: resize-only reallocation in update callback failed: %v", p.window, err)
			return
		}
		p.resizePending = false
	}
}

// onDamage implements the DamageFunc the presenter registers (spec.md
// §4.10): called after the driver flushes rendering to the
// front/single buffer, carrying a fence the platform may synchronize
// on. It performs a pre-present of the current front (non-PRIME) or
// current prime (PRIME) buffer with ASYNC|COPY options — signalling
// mid-frame damage, not a swap — reusing that buffer's existing server
// pixmap and NOT rotating front/back. syncfd stays the driver's: it is
// handed straight to the sync path, which only imports it, and is not
// retained or closed here (the driver closes it on return).
func (p *Presenter) onDamage(param any, syncfd int, flags uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.cond.Broadcast()
	if p.skipUpdateCallback > 0 || p.deleted || p.nativeDestroyed {
		return
	}

	target := p.front
	if p.negotiated.Prime && p.prime != nil {
		target = p.prime
	}
	if target == nil || target.Pixmap == 0 {
		// No server pixmap yet to damage-present against (first frame
		// hasn't swapped); nothing useful to do before a real swap.
		return
	}

	params := wire.PresentPixmapParams{
		Window:  p.window,
		Pixmap:  target.Pixmap,
		Options: wire.PresentOptionAsync | wire.PresentOptionCopy,
	}
	p.lastPresentSerial++
	params.Serial = p.lastPresentSerial
	params, synced, err := p.syncCtx.preparePresent(params, target, syncfd)
	if err != nil {
		log.Printf("eglxpresent: window %#x: damage pre-present sync prep failed: %v", p.window, err)
		return
	}
	if err := p.conn.Pixmap(params, synced); err != nil {
		log.Printf("eglxpresent: window %#x: damage pre-present failed: %v", p.window, err)
	}
	target.State = colorbuffer.StatePresented
	target.Serial = p.lastPresentSerial
}

func closeIfOwned(fd int) {
	if fd >= 0 {
		unix.Close(fd)
	}
}

// driverCallbacks is the concrete driver.CallbackSafe a Presenter was
// constructed with; kept as a named type only so onUpdate/onDamage's
// doc comments above can reference "the presenter mutex" without
// re-deriving the interface each time.
type driverCallbacks = driver.CallbackSafe
