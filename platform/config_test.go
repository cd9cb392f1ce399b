package platform

import (
	"errors"
	"testing"

	"github.com/nvgpu/eglxpresent/driver"
	"github.com/nvgpu/eglxpresent/internal/wire"
)

func TestMaskFor(t *testing.T) {
	cases := []struct {
		width, offset int
		want          uint32
	}{
		{8, 16, 0x00ff0000},
		{8, 8, 0x0000ff00},
		{8, 0, 0x000000ff},
		{0, 0, 0},
		{32, 0, 0}, // guarded: a 32-bit-wide mask would overflow the shift
	}
	for _, c := range cases {
		if got := maskFor(c.width, c.offset); got != c.want {
			t.Errorf("maskFor(%d, %d) = %#x, want %#x", c.width, c.offset, got, c.want)
		}
	}
}

func TestMatchVisualFindsTrueColorMatch(t *testing.T) {
	f := Format{
		RedWidth: 8, RedOffset: 16,
		GreenWidth: 8, GreenOffset: 8,
		BlueWidth: 8, BlueOffset: 0,
	}
	visuals := []wire.Visual{
		{ID: 1, Class: wire.VisualClassTrueColor + 1}, // wrong class
		{ID: 2, Class: wire.VisualClassTrueColor, RedMask: 0xff0000, GreenMask: 0xff00, BlueMask: 0xff},
	}
	v, ok := matchVisual(visuals, f)
	if !ok || v.ID != 2 {
		t.Fatalf("matchVisual = %+v, %v, want visual ID 2", v, ok)
	}
}

func TestMatchVisualNoMatch(t *testing.T) {
	f := Format{RedWidth: 8, RedOffset: 16, GreenWidth: 8, GreenOffset: 8, BlueWidth: 8, BlueOffset: 0}
	visuals := []wire.Visual{{ID: 1, Class: wire.VisualClassTrueColor, RedMask: 0x1, GreenMask: 0x2, BlueMask: 0x4}}
	if _, ok := matchVisual(visuals, f); ok {
		t.Error("matchVisual: expected no match for mismatched masks")
	}
}

func TestBuildConfigsSetsWindowBitOnlyOnVisualMatch(t *testing.T) {
	d := &Display{
		Formats: NewRegistry([]Format{
			{
				Fourcc: FourccXRGB8888,
				RedWidth: 8, RedOffset: 16,
				GreenWidth: 8, GreenOffset: 8,
				BlueWidth: 8, BlueOffset: 0,
			},
			{Fourcc: 0x2, RedWidth: 5, RedOffset: 11, GreenWidth: 6, GreenOffset: 5, BlueWidth: 5, BlueOffset: 0},
		}),
		Screen: wire.Screen{
			Visuals: []wire.Visual{
				{ID: 99, Class: wire.VisualClassTrueColor, RedMask: 0xff0000, GreenMask: 0xff00, BlueMask: 0xff},
			},
		},
	}
	configs, err := BuildConfigs(d)
	if err != nil {
		t.Fatalf("BuildConfigs: %v", err)
	}
	if len(configs) != 2 {
		t.Fatalf("BuildConfigs returned %d configs, want 2", len(configs))
	}
	for _, c := range configs {
		// PIXMAP_BIT is unconditional (spec.md §4.2: "we can always
		// synthesize a linear intermediate" via PRIME).
		if c.SurfaceType&SurfaceTypePixmap == 0 {
			t.Errorf("config %#x: missing PIXMAP_BIT", c.Fourcc)
		}
		switch c.Fourcc {
		case FourccXRGB8888:
			if c.SurfaceType&SurfaceTypeWindow == 0 || c.NativeVisualID != 99 {
				t.Errorf("XRGB8888 config = %+v, want WINDOW_BIT set and NativeVisualID 99", c)
			}
		case 0x2:
			if c.SurfaceType&SurfaceTypeWindow != 0 {
				t.Errorf("unmatched-visual config = %+v, want WINDOW_BIT clear", c)
			}
		}
	}
}

func TestBuildConfigsRequiresFormatRegistry(t *testing.T) {
	_, err := BuildConfigs(&Display{})
	if !errors.Is(err, driver.ErrNotAvailable) {
		t.Fatalf("BuildConfigs with nil registry: got %v, want ErrNotAvailable", err)
	}
}

func TestLookupConfig(t *testing.T) {
	d := &Display{Configs: []Config{{Fourcc: FourccXRGB8888}}}
	if _, ok := d.LookupConfig(FourccXRGB8888); !ok {
		t.Error("LookupConfig: expected hit")
	}
	if _, ok := d.LookupConfig(0xbad); ok {
		t.Error("LookupConfig: expected miss")
	}
}
