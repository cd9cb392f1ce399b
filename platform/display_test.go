package platform

import (
	"errors"
	"testing"

	"github.com/nvgpu/eglxpresent/driver"
	"github.com/nvgpu/eglxpresent/internal/wire"
)

func TestResolveScreenNumPriority(t *testing.T) {
	// attribute beats caller-provided beats DISPLAY-parsed default
	// beats 0 (spec.md §4.1 step 1).
	conn := &wire.Conn{}
	if got := resolveScreenNum(Options{ScreenAttr: 3, ScreenArg: 2}, conn); got != 3 {
		t.Errorf("ScreenAttr should win: got %d, want 3", got)
	}
	if got := resolveScreenNum(Options{ScreenAttr: -1, ScreenArg: 2}, conn); got != 2 {
		t.Errorf("ScreenArg should win over default: got %d, want 2", got)
	}
	if got := resolveScreenNum(Options{ScreenAttr: -1, ScreenArg: -1}, conn); got != 0 {
		t.Errorf("fallback to 0 on an unconfigured conn: got %d, want 0", got)
	}
}

func TestIsNVIDIALike(t *testing.T) {
	cases := []struct {
		dev  driver.GPUDevice
		want bool
	}{
		{driver.GPUDevice{IsNVIDIA: true}, true},
		{driver.GPUDevice{Name: "NVIDIA Tegra234 GPU"}, true},
		{driver.GPUDevice{Name: "tegra-udrm"}, true},
		{driver.GPUDevice{Name: "llvmpipe"}, false},
	}
	for _, c := range cases {
		if got := isNVIDIALike(c.dev); got != c.want {
			t.Errorf("isNVIDIALike(%+v) = %v, want %v", c.dev, got, c.want)
		}
	}
}

func TestFindDeviceByNode(t *testing.T) {
	devices := []driver.GPUDevice{
		{Name: "a", DRMPrimaryNodePath: "/dev/dri/card0"},
		{Name: "b", DRMPrimaryNodePath: "/dev/dri/card1"},
	}
	dev, ok := findDeviceByNode(devices, "/dev/dri/card1")
	if !ok || dev.Name != "b" {
		t.Fatalf("findDeviceByNode = %+v, %v, want device b", dev, ok)
	}
	if _, ok := findDeviceByNode(devices, ""); ok {
		t.Error("findDeviceByNode(\"\") should never match")
	}
	if _, ok := findDeviceByNode(devices, "/dev/dri/card9"); ok {
		t.Error("findDeviceByNode: expected miss for unknown path")
	}
}

// TestSelectDeviceServerIsNVIDIA covers spec.md §4.1 step 4's first
// branch: the server's own device is NVIDIA, so we always use it and
// implicit sync is unnecessary (same-device path).
func TestSelectDeviceServerIsNVIDIA(t *testing.T) {
	serverDev := driver.GPUDevice{Name: "nv0", IsNVIDIA: true}
	var implicitSync, forcePrime bool
	chosen, useServerFD, err := selectDevice(nil, serverDev, true, Options{}, &implicitSync, &forcePrime)
	if err != nil {
		t.Fatalf("selectDevice: %v", err)
	}
	if chosen != serverDev || !useServerFD || implicitSync {
		t.Errorf("selectDevice(server=NVIDIA) = %+v, useServerFD=%v, implicitSync=%v", chosen, useServerFD, implicitSync)
	}
}

// TestSelectDeviceRejectsNVToNVOffload covers the "Reject a request for
// a different NVIDIA device" rule.
func TestSelectDeviceRejectsNVToNVOffload(t *testing.T) {
	serverDev := driver.GPUDevice{Name: "nv0", IsNVIDIA: true}
	var implicitSync, forcePrime bool
	_, _, err := selectDevice(nil, serverDev, true, Options{RequestedDevice: "nv1"}, &implicitSync, &forcePrime)
	if !errors.Is(err, driver.ErrDeviceMismatch) {
		t.Fatalf("selectDevice(NV->NV offload) = %v, want ErrDeviceMismatch", err)
	}
}

// TestSelectDeviceOffloadPicksNVIDIA covers the offload branch: server
// device is not NVIDIA, caller allows offload, an NVIDIA device exists
// in the enumeration.
func TestSelectDeviceOffloadPicksNVIDIA(t *testing.T) {
	devices := []driver.GPUDevice{
		{Name: "intel0"},
		{Name: "nv-offload", IsNVIDIA: true},
	}
	var implicitSync, forcePrime bool
	chosen, useServerFD, err := selectDevice(devices, driver.GPUDevice{Name: "intel0"}, true, Options{AllowOffload: true}, &implicitSync, &forcePrime)
	if err != nil {
		t.Fatalf("selectDevice: %v", err)
	}
	if useServerFD {
		t.Error("offload path must not reuse the server's fd")
	}
	if chosen.Name != "nv-offload" || !implicitSync || !forcePrime {
		t.Errorf("selectDevice(offload) = %+v, implicitSync=%v, forcePrime=%v", chosen, implicitSync, forcePrime)
	}
}

func TestSelectDeviceNoOffloadNoMatchFails(t *testing.T) {
	var implicitSync, forcePrime bool
	_, _, err := selectDevice(nil, driver.GPUDevice{Name: "intel0"}, true, Options{}, &implicitSync, &forcePrime)
	if !errors.Is(err, driver.ErrNotAvailable) {
		t.Fatalf("selectDevice(no offload, no NVIDIA) = %v, want ErrNotAvailable", err)
	}
}
