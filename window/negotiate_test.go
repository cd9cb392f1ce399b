package window

import (
	"testing"

	"github.com/nvgpu/eglxpresent/platform"
)

func TestChooseModifiersPrefersRenderableWindowIntersection(t *testing.T) {
	fmtRec := platform.Format{
		RenderableModifiers:   []uint64{1, 2, 3},
		ExternalOnlyModifiers: []uint64{9},
	}
	got, err := chooseModifiers(fmtRec, []uint64{2, 3, 8}, []uint64{9}, true)
	if err != nil {
		t.Fatalf("chooseModifiers: %v", err)
	}
	if got.Prime {
		t.Error("expected prime = false when the window list intersects renderable")
	}
	if !got.FromWindow {
		t.Error("expected a window-sourced modifier set when the window list intersects renderable")
	}
	for _, m := range got.Modifiers {
		if !platform.Contains(fmtRec.RenderableModifiers, m) {
			t.Errorf("modifier %d not in driver's renderable set", m)
		}
	}
}

func TestChooseModifiersFallsBackToScreenWhenWindowEmpty(t *testing.T) {
	fmtRec := platform.Format{RenderableModifiers: []uint64{1, 2}}
	got, err := chooseModifiers(fmtRec, nil, []uint64{2}, true)
	if err != nil {
		t.Fatalf("chooseModifiers: %v", err)
	}
	if got.Prime {
		t.Error("expected prime = false when the screen list intersects renderable")
	}
	if got.FromWindow {
		t.Error("expected a screen-sourced modifier set when the window list is empty")
	}
	if len(got.Modifiers) != 1 || got.Modifiers[0] != 2 {
		t.Errorf("chooseModifiers = %+v, want [2]", got)
	}
}

// TestChooseModifiersNonEmptyWindowListSkipsScreenFallback covers
// spec.md §4.7 step 3's asymmetry: a non-empty window list that shares
// nothing with the driver means the server already told us nothing in
// its per-window set avoids a blit, so the screen-wide set must not be
// consulted even though it would otherwise intersect.
func TestChooseModifiersNonEmptyWindowListSkipsScreenFallback(t *testing.T) {
	fmtRec := platform.Format{RenderableModifiers: []uint64{1, 2}}
	got, err := chooseModifiers(fmtRec, []uint64{99}, []uint64{1}, true)
	if err != nil {
		t.Fatalf("chooseModifiers: %v", err)
	}
	if !got.Prime {
		t.Error("expected prime = true: non-empty window list with no intersection must not fall back to the screen list")
	}
}

func TestChooseModifiersEmptyIntersectionGoesPrime(t *testing.T) {
	fmtRec := platform.Format{RenderableModifiers: []uint64{7}}
	got, err := chooseModifiers(fmtRec, []uint64{1, 2}, []uint64{3, 4}, true)
	if err != nil {
		t.Fatalf("chooseModifiers: %v", err)
	}
	if !got.Prime {
		t.Error("expected prime = true when no common modifier exists")
	}
	for _, m := range got.Modifiers {
		if !platform.Contains(fmtRec.RenderableModifiers, m) {
			t.Errorf("prime-path render pool modifier %d not in driver's renderable set", m)
		}
	}
}

func TestChooseModifiersNoCommonModifierAndNoPrimeFails(t *testing.T) {
	fmtRec := platform.Format{RenderableModifiers: []uint64{7}}
	_, err := chooseModifiers(fmtRec, []uint64{1, 2}, []uint64{3, 4}, false)
	if err == nil {
		t.Fatal("chooseModifiers with no common modifier and no PRIME support: want error, got nil")
	}
}

func TestChooseModifiersLinearWindowIntersection(t *testing.T) {
	fmtRec := platform.Format{RenderableModifiers: []uint64{7, platform.ModifierLinear}}
	got, err := chooseModifiers(fmtRec, []uint64{platform.ModifierLinear}, nil, true)
	if err != nil {
		t.Fatalf("chooseModifiers: %v", err)
	}
	if got.Prime {
		t.Error("expected prime = false: LINEAR is a renderable modifier shared with the window list")
	}
	if len(got.Modifiers) != 1 || got.Modifiers[0] != platform.ModifierLinear || !got.FromWindow {
		t.Errorf("chooseModifiers = %+v, want [LINEAR] from window", got)
	}
}

func TestNegotiateModifiersForcePrimeSkipsServerRequest(t *testing.T) {
	fmtRec := platform.Format{RenderableModifiers: []uint64{1, 2, 3}}
	got, err := negotiateModifiers(nil, 0, 0, 0, fmtRec, true, true)
	if err != nil {
		t.Fatalf("negotiateModifiers(force_prime): %v", err)
	}
	if !got.Prime {
		t.Error("expected prime = true under force_prime")
	}
	if len(got.Modifiers) != len(fmtRec.RenderableModifiers) {
		t.Errorf("negotiateModifiers(force_prime) modifiers = %v, want the full renderable list %v", got.Modifiers, fmtRec.RenderableModifiers)
	}
}

// TestChooseModifiersResultAlwaysSubsetOfDriver is the modifier-
// negotiation property: whatever non-prime list comes back must be a
// subset of what the driver itself claims to support
// (renderable+external), or the LINEAR fallback; the PRIME-path render
// pool is always exactly the driver's renderable list.
func TestChooseModifiersResultAlwaysSubsetOfDriver(t *testing.T) {
	fmtRec := platform.Format{
		RenderableModifiers:   []uint64{10, 11},
		ExternalOnlyModifiers: []uint64{12},
	}
	allowed := append(append([]uint64{}, fmtRec.RenderableModifiers...), fmtRec.ExternalOnlyModifiers...)
	allowed = append(allowed, platform.ModifierLinear)

	cases := [][2][]uint64{
		{{10}, {11}},
		{{}, {10}},
		{{12}, {}},
		{{platform.ModifierLinear}, {}},
		{{}, {platform.ModifierLinear}},
	}
	for _, c := range cases {
		got, err := chooseModifiers(fmtRec, c[0], c[1], true)
		if err != nil {
			t.Fatalf("chooseModifiers(%v, %v): %v", c[0], c[1], err)
		}
		for _, m := range got.Modifiers {
			if !platform.Contains(allowed, m) {
				t.Errorf("chooseModifiers(%v, %v) = %v, modifier %d not in driver's advertised set", c[0], c[1], got.Modifiers, m)
			}
		}
	}
}
