package platform

import (
	"fmt"

	"github.com/nvgpu/eglxpresent/driver"
	"github.com/nvgpu/eglxpresent/internal/wire"
)

// Config surface-type bits (spec.md §4.2 "WINDOW_BIT/PIXMAP_BIT").
const (
	SurfaceTypeWindow uint32 = 1 << 0
	SurfaceTypePixmap uint32 = 1 << 1
)

// Config is one entry of the EGL config list this bridge publishes,
// built by pairing a driver format against the screen's matching
// visual (spec.md §4.2).
type Config struct {
	Fourcc      uint32
	Format      Format
	SurfaceType uint32
	// NativeVisualID is the XID of the TrueColor visual whose RGB
	// masks match this config's format, or 0 if no visual matched
	// (the config is then pixmap-only).
	NativeVisualID uint32
}

// BuildConfigs implements spec.md §4.2: for every driver format in the
// registry, decide whether it can back a window (a TrueColor visual's
// masks match its R/G/B widths and offsets) and/or a pixmap (DRI3
// PixmapFromBuffers never needs a visual match), and assign the
// corresponding surface-type bits.
func BuildConfigs(d *Display) ([]Config, error) {
	if d.Formats == nil {
		return nil, fmt.Errorf("%w: format registry not set", driver.ErrNotAvailable)
	}
	var out []Config
	for _, fourcc := range d.Formats.Fourccs() {
		f, _ := d.Formats.Lookup(fourcc)
		cfg := Config{Fourcc: fourcc, Format: f, SurfaceType: SurfaceTypePixmap}
		if vis, ok := matchVisual(d.Screen.Visuals, f); ok {
			cfg.SurfaceType |= SurfaceTypeWindow
			cfg.NativeVisualID = vis.ID
		}
		out = append(out, cfg)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no usable driver formats", driver.ErrNotAvailable)
	}
	return out, nil
}

// matchVisual finds a TrueColor visual whose channel masks are
// consistent with f's RGB layout (spec.md §4.2: "native visual id is
// the TrueColor visual whose RGB masks match the format").
func matchVisual(visuals []wire.Visual, f Format) (wire.Visual, bool) {
	wantRed := maskFor(f.RedWidth, f.RedOffset)
	wantGreen := maskFor(f.GreenWidth, f.GreenOffset)
	wantBlue := maskFor(f.BlueWidth, f.BlueOffset)
	for _, v := range visuals {
		if v.Class != wire.VisualClassTrueColor {
			continue
		}
		if v.RedMask == wantRed && v.GreenMask == wantGreen && v.BlueMask == wantBlue {
			return v, true
		}
	}
	return wire.Visual{}, false
}

func maskFor(width, offset int) uint32 {
	if width <= 0 || width >= 32 {
		return 0
	}
	return ((uint32(1) << uint(width)) - 1) << uint(offset)
}

// LookupConfig returns the config backing fourcc, if any was built.
func (d *Display) LookupConfig(fourcc uint32) (Config, bool) {
	for _, c := range d.Configs {
		if c.Fourcc == fourcc {
			return c, true
		}
	}
	return Config{}, false
}
