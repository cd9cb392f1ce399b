package platform

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/nvgpu/eglxpresent/driver"
	"github.com/nvgpu/eglxpresent/internal/drmsync"
	"github.com/nvgpu/eglxpresent/internal/wire"
)

// NVIDIABackendName is the allocator backend name spec.md §4.1 step 5
// requires ("the backend name must be the NVIDIA backend").
const NVIDIABackendName = "nvidia"

// tegraDriverNames lists the known Tegra device names consulted by the
// device-identification step (spec.md §4.1 step 3: "PCI vendor equal
// to NVIDIA, else known Tegra driver names").
var tegraDriverNames = []string{"tegra", "tegra-udrm", "nvgpu"}

// Display is a single eglInitialize session's worth of state (spec.md
// §3 "Display instance"). It is reference-counted: a surface callback
// in flight keeps it alive past a concurrent Terminate (spec.md §3,
// §5 "Display init-lock").
type Display struct {
	// Conn is the wire connection; Owned mirrors spec.md §3's
	// "whether owned (opened by us) or borrowed".
	Conn *wire.Conn

	ScreenNum  int
	Screen     wire.Screen

	Allocator   driver.Allocator
	DeviceFD    int
	Device      driver.GPUDevice
	EGL         driver.EGLDisplay

	ForcePrime              bool
	SupportsPrime           bool
	SupportsImplicitSync    bool
	SupportsExplicitSync    bool
	SupportsNativeFenceSync bool
	SupportsDirect          bool
	SupportsLinear          bool

	Formats *Registry
	Configs []Config

	// ImplicitSyncLatch is the process-wide (but Display-scoped, per
	// spec.md §9) flag latched the first time an implicit-sync ioctl
	// fails with ENOTTY/EBADF/ENOSYS.
	ImplicitSyncLatch *drmsync.Latch

	mu       sync.RWMutex // "Display init-lock" (spec.md §5)
	refs     int32
	refMu    sync.Mutex
	terminated bool

	// dri3Major/dri3Minor and presentMajor/presentMinor record the
	// negotiated extension versions (spec.md §4.1 step 2).
	dri3Major, dri3Minor       uint32
	presentMajor, presentMinor uint32
	presentFirstEvent          uint8
}

// Options are the caller-supplied inputs to New (spec.md §4.1
// "Inputs").
type Options struct {
	// NativeDisplay, if non-nil, is a caller-opened *wire.Conn; a nil
	// value means "open our own connection by reading DISPLAY".
	NativeDisplay *wire.Conn

	ScreenAttr     int  // attribute-specified screen; -1 if unset
	ScreenArg      int  // caller-provided screen parameter; -1 if unset
	RequestedDevice string // caller-requested device name; "" if unset
	AllowOffload   bool

	// ForceNVGLX, when true, disables the NV-GLX private-extension
	// gate (spec.md §4.1 step 2); normally sourced from an env var by
	// the glue layer (see env.go).
	ForceNVGLX bool
}

// New implements the Display-instance creation algorithm of spec.md
// §4.1, in the order specified there.
func New(loader driver.Loader, opts Options) (*Display, error) {
	d := &Display{
		ImplicitSyncLatch: drmsync.NewLatch(),
		ScreenNum:         -1,
	}

	// Step 1: connection + screen resolution.
	conn := opts.NativeDisplay
	if conn == nil {
		c, err := wire.Dial("")
		if err != nil {
			return nil, fmt.Errorf("%w: %v", driver.ErrNotAvailable, err)
		}
		conn = c
	}
	d.Conn = conn

	screenNum := resolveScreenNum(opts, conn)
	if screenNum < 0 || screenNum >= len(conn.Screens()) {
		d.closeOwnedConn()
		return nil, fmt.Errorf("%w: screen %d out of range", driver.ErrResourceExhausted, screenNum)
	}
	d.ScreenNum = screenNum
	d.Screen = conn.Screens()[screenNum]

	// Step 2: server capability probe.
	if err := d.probeServerCapabilities(opts); err != nil {
		d.closeOwnedConn()
		return nil, err
	}

	// Step 3: DRI3Open + device identification.
	serverFD, err := conn.DRI3Open(d.Screen.Root, 0)
	if err != nil {
		d.closeOwnedConn()
		return nil, fmt.Errorf("%w: DRI3Open: %v", driver.ErrTransientWire, err)
	}

	devices, err := loader.EnumerateGPUDevices()
	if err != nil {
		d.closeOwnedConn()
		return nil, fmt.Errorf("%w: enumerate devices: %v", driver.ErrNotAvailable, err)
	}
	serverDevicePath := drmNodePathForFD(serverFD)
	serverDevice, serverIsKnown := findDeviceByNode(devices, serverDevicePath)

	// Step 4: device selection policy.
	chosenDevice, useServerFD, err := selectDevice(devices, serverDevice, serverIsKnown, opts, &d.SupportsImplicitSync, &d.ForcePrime)
	if err != nil {
		d.closeOwnedConn()
		return nil, err
	}
	d.Device = chosenDevice

	// Step 5: open the device node (if different) and create the allocator.
	devFD := serverFD
	if !useServerFD {
		fd, err := loader.OpenDeviceNode(chosenDevice.DRMPrimaryNodePath)
		if err != nil {
			d.closeOwnedConn()
			return nil, fmt.Errorf("%w: open device node: %v", driver.ErrResourceExhausted, err)
		}
		devFD = fd
	}
	d.DeviceFD = devFD
	alloc, err := loader.NewAllocator(devFD, NVIDIABackendName)
	if err != nil {
		d.closeOwnedConn()
		return nil, fmt.Errorf("%w: new allocator: %v", driver.ErrResourceExhausted, err)
	}
	d.Allocator = alloc

	// Step 6: driver's internal EGL display.
	egl, err := loader.NewEGLDisplay(chosenDevice)
	if err != nil {
		d.closeOwnedConn()
		return nil, fmt.Errorf("%w: new EGL display: %v", driver.ErrNotAvailable, err)
	}
	if err := egl.Initialize(); err != nil {
		d.closeOwnedConn()
		return nil, fmt.Errorf("%w: EGL display init: %v", driver.ErrNotAvailable, err)
	}
	d.EGL = egl

	// Step 7: PRIME support.
	d.SupportsNativeFenceSync = egl.SupportsNativeFenceSync()
	d.SupportsPrime = egl.SupportsColorBufferTransfer() && egl.SupportsNativeFenceSync() && !serverIsNVIDIA(serverDevice, serverIsKnown)

	// Step 8: format registry — left to the caller via SetFormats,
	// since enumerating driver formats/modifiers is itself a driver
	// call this package does not own the shape of (spec.md §2: format
	// registry is ~10% of the system, populated from driver queries
	// the embedding glue performs). SetFormats below is provided to
	// do so given an already-queried list.

	return d, nil
}

// SetFormats completes step 8 and (using the screen's modifier
// capabilities for the probe format) steps 9-10 of spec.md §4.1. It is
// split out from New because building the registry requires iterating
// driver-queried formats/modifiers, which Loader does not abstract
// (spec.md treats the format/config registry as its own ~10% share of
// the system, not a loader responsibility).
func (d *Display) SetFormats(formats []Format, probeWindowMods, probeScreenMods []uint64, kernelHasTimelineCap bool) error {
	d.Formats = NewRegistry(formats)

	// Step 9: direct/linear support from the probe format.
	probe, ok := d.Formats.Lookup(FourccXRGB8888)
	var driverMods []uint64
	if ok {
		driverMods = probe.AllModifiers()
	}
	d.SupportsDirect = len(Intersect(driverMods, probeScreenMods)) > 0
	d.SupportsLinear = Contains(probeScreenMods, ModifierLinear)
	if !d.SupportsLinear {
		d.SupportsPrime = false
	}
	if !d.SupportsDirect {
		d.ForcePrime = true
	}
	if d.ForcePrime && !d.SupportsPrime {
		return fmt.Errorf("%w: force-prime required but PRIME unsupported", driver.ErrNotAvailable)
	}

	// Step 10: explicit sync support.
	d.SupportsExplicitSync = d.SupportsNativeFenceSync &&
		d.dri3Minor >= 4 && d.presentMinor >= 4 &&
		kernelHasTimelineCap

	// Step 11: config list.
	configs, err := BuildConfigs(d)
	if err != nil {
		return err
	}
	d.Configs = configs
	return nil
}

// probeServerCapabilities implements spec.md §4.1 step 2.
func (d *Display) probeServerCapabilities(opts Options) error {
	if !d.Conn.Owned() {
		// A borrowed connection is assumed to already be a UNIX-domain
		// socket connection established by the caller; spec.md's "a
		// UNIX-domain socket is mandatory" requirement is enforced at
		// Dial time for owned connections.
	}

	if present, _, _, err := d.Conn.QueryExtension("NV-GLX"); err == nil && present {
		if !opts.ForceNVGLX {
			return fmt.Errorf("%w: NV-GLX present without force-enable override", driver.ErrNotAvailable)
		}
	}

	dri3Present, _, _, err := d.Conn.QueryExtension(wire.ExtDRI3)
	if err != nil || !dri3Present {
		return fmt.Errorf("%w: DRI3 extension not present", driver.ErrNotAvailable)
	}
	presentPresent, _, firstEvent, err := d.Conn.QueryExtension(wire.ExtPresent)
	if err != nil || !presentPresent {
		return fmt.Errorf("%w: Present extension not present", driver.ErrNotAvailable)
	}
	d.presentFirstEvent = firstEvent

	dv, err := d.Conn.DRI3QueryVersion(1, 4)
	if err != nil {
		return fmt.Errorf("%w: DRI3QueryVersion: %v", driver.ErrTransientWire, err)
	}
	if dv.Major != 1 || dv.Minor < 2 {
		return fmt.Errorf("%w: DRI3 %d.%d too old (need 1.2+)", driver.ErrNotAvailable, dv.Major, dv.Minor)
	}
	d.dri3Major, d.dri3Minor = dv.Major, dv.Minor

	pv, err := d.Conn.PresentQueryVersion(1, 4)
	if err != nil {
		return fmt.Errorf("%w: PresentQueryVersion: %v", driver.ErrTransientWire, err)
	}
	if pv.Major != 1 || pv.Minor < 2 {
		return fmt.Errorf("%w: Present %d.%d too old (need 1.2+)", driver.ErrNotAvailable, pv.Major, pv.Minor)
	}
	d.presentMajor, d.presentMinor = pv.Major, pv.Minor
	return nil
}

// resolveScreenNum implements spec.md §4.1 step 1's priority order:
// "attribute > caller-provided > default-from-DISPLAY-parse > 0".
func resolveScreenNum(opts Options, conn *wire.Conn) int {
	if opts.ScreenAttr >= 0 {
		return opts.ScreenAttr
	}
	if opts.ScreenArg >= 0 {
		return opts.ScreenArg
	}
	if n := conn.DefaultScreen(); n >= 0 {
		return n
	}
	return 0
}

func (d *Display) closeOwnedConn() {
	if d.Conn != nil && d.Conn.Owned() {
		d.Conn.Close()
	}
}

func serverIsNVIDIA(dev driver.GPUDevice, known bool) bool {
	return known && dev.IsNVIDIA
}

func findDeviceByNode(devices []driver.GPUDevice, path string) (driver.GPUDevice, bool) {
	if path == "" {
		return driver.GPUDevice{}, false
	}
	for _, dv := range devices {
		if dv.DRMPrimaryNodePath == path {
			return dv, true
		}
	}
	return driver.GPUDevice{}, false
}

// selectDevice implements spec.md §4.1 step 4.
func selectDevice(devices []driver.GPUDevice, serverDevice driver.GPUDevice, serverKnown bool, opts Options, implicitSync *bool, forcePrime *bool) (chosen driver.GPUDevice, useServerFD bool, err error) {
	if serverKnown && isNVIDIALike(serverDevice) {
		if opts.RequestedDevice != "" && opts.RequestedDevice != serverDevice.Name {
			return driver.GPUDevice{}, false, fmt.Errorf("%w: NV-to-NV PRIME offload not supported", driver.ErrDeviceMismatch)
		}
		*implicitSync = false
		return serverDevice, true, nil
	}
	if opts.RequestedDevice != "" {
		for _, dv := range devices {
			if dv.Name == opts.RequestedDevice {
				*implicitSync = true
				*forcePrime = true
				return dv, false, nil
			}
		}
		return driver.GPUDevice{}, false, fmt.Errorf("%w: requested device %q not found", driver.ErrDeviceMismatch, opts.RequestedDevice)
	}
	if opts.AllowOffload {
		for _, dv := range devices {
			if isNVIDIALike(dv) {
				*implicitSync = true
				*forcePrime = true
				return dv, false, nil
			}
		}
	}
	return driver.GPUDevice{}, false, fmt.Errorf("%w: no NVIDIA device available for offload", driver.ErrNotAvailable)
}

func isNVIDIALike(dv driver.GPUDevice) bool {
	if dv.IsNVIDIA {
		return true
	}
	name := strings.ToLower(dv.Name)
	for _, tegra := range tegraDriverNames {
		if strings.Contains(name, tegra) {
			return true
		}
	}
	return false
}

// drmNodePathForFD is a best-effort lookup of the /dev/dri node backing
// fd, via /proc/self/fd, used to match the server's DRI3Open fd against
// the EGL device enumeration (spec.md §4.1 step 3).
func drmNodePathForFD(fd int) string {
	link, err := os.Readlink("/proc/self/fd/" + strconv.Itoa(fd))
	if err != nil {
		return ""
	}
	return link
}

// AddRef/Release implement the reference-counting described in
// spec.md §3: "may outlive the external display handle if a surface
// callback is still executing".
func (d *Display) AddRef() {
	d.refMu.Lock()
	d.refs++
	d.refMu.Unlock()
}

// Release decrements the refcount, freeing the underlying resources
// once it and Terminate have both run. It is the counterpart to
// AddRef, called when a surface callback that outlived Terminate
// finally completes.
func (d *Display) Release() {
	d.refMu.Lock()
	d.refs--
	shouldFree := d.refs <= 0 && d.terminated
	d.refMu.Unlock()
	if shouldFree {
		d.free()
	}
}

// Terminate implements the idempotent teardown required by spec.md §8
// ("calling Terminate on an already-terminated display is a no-op").
// It takes the write side of the display init-lock (spec.md §5),
// ensuring in-flight readers (every other call) complete first.
func (d *Display) Terminate() {
	d.mu.Lock()
	already := d.terminated
	d.terminated = true
	d.mu.Unlock()
	if already {
		return
	}
	d.refMu.Lock()
	shouldFree := d.refs <= 0
	d.refMu.Unlock()
	if shouldFree {
		d.free()
	}
}

func (d *Display) free() {
	if d.EGL != nil {
		d.EGL.Destroy()
	}
	if d.Allocator != nil {
		d.Allocator.Destroy()
	}
	d.closeOwnedConn()
}

// RLock/RUnlock expose the display init-lock's reader side (spec.md §5
// "readers are every other call") for use by window/pixmap presenters.
func (d *Display) RLock()   { d.mu.RLock() }
func (d *Display) RUnlock() { d.mu.RUnlock() }
