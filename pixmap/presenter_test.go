package pixmap

import (
	"testing"

	"github.com/nvgpu/eglxpresent/platform"
)

func TestPrimeRequiredForceAlwaysTrue(t *testing.T) {
	if !primeRequired(true, []uint64{1, 2, 3}, 2) {
		t.Error("force_prime must require PRIME regardless of modifier membership")
	}
}

func TestPrimeRequiredModifierOutsideRenderableSet(t *testing.T) {
	if !primeRequired(false, []uint64{1, 2}, 9) {
		t.Error("a modifier outside the renderable set must require PRIME")
	}
}

func TestPrimeRequiredModifierInsideRenderableSet(t *testing.T) {
	if primeRequired(false, []uint64{1, 2, 9}, 9) {
		t.Error("a modifier the driver can render must not require PRIME")
	}
}

func TestPrimeRequiredEmptyRenderableSet(t *testing.T) {
	if !primeRequired(false, nil, platform.ModifierLinear) {
		t.Error("an empty renderable set can never satisfy a direct-render match")
	}
}

func TestCanBlitDirectLinearOnly(t *testing.T) {
	if !canBlitDirect(platform.ModifierLinear) {
		t.Error("LINEAR must be a valid direct blit target")
	}
	if canBlitDirect(platform.ModifierLinear + 1) {
		t.Error("a non-LINEAR modifier must not be treated as a direct blit target")
	}
}
