// Package driver defines the contract between this platform and the
// EGL/GL driver that embeds it.
//
// The platform never implements rendering; it only imports, allocates,
// exports and copies color buffers on the driver's behalf, and tells the
// driver which buffers are currently attached to a surface. The driver, in
// turn, may call back into the platform from its own internal thread,
// while holding its window-system lock (see UpdateFunc and DamageFunc).
// That asymmetry is why the methods below are split into two capability
// sets: ones that are safe to call from such a callback, and ones that
// require the calling goroutine to own the surface outright.
package driver

import "errors"

// ErrNotAvailable means a required driver or server capability is
// missing, stale, or intentionally gated off.
var ErrNotAvailable = errors.New("eglxpresent: capability not available")

// ErrDeviceMismatch means the requested GPU device could not be
// honored (e.g. NV-to-NV PRIME offload, or an unknown device handle).
var ErrDeviceMismatch = errors.New("eglxpresent: device selection mismatch")

// ErrBadNativeWindow means the native window handle is unusable: wrong
// screen, invalid XID, zero size, or a visual/config mismatch.
var ErrBadNativeWindow = errors.New("eglxpresent: bad native window")

// ErrBadNativePixmap means the native pixmap handle is unusable: depth,
// bpp or plane-count mismatch against the requested config.
var ErrBadNativePixmap = errors.New("eglxpresent: bad native pixmap")

// ErrBadMatch means the requested EGL config lacks a required surface
// type bit, or names a format the driver does not support.
var ErrBadMatch = errors.New("eglxpresent: bad config match")

// ErrResourceExhausted means a buffer, syncobj, or file descriptor could
// not be allocated.
var ErrResourceExhausted = errors.New("eglxpresent: resource exhausted")

// ErrTransientWire means an X11 round trip returned a protocol error;
// the operation failed but the connection and display remain usable.
var ErrTransientWire = errors.New("eglxpresent: wire request failed")

// ErrServerTerminated means the special-event channel observed
// connection loss; the window is unusable from this point on.
var ErrServerTerminated = errors.New("eglxpresent: server connection terminated")

// ErrImplicitSyncUnsupported is reported internally once the implicit
// dma-buf sync ioctls have latched as unavailable; callers should not
// normally see it surface, since the sync path downgrades to CPU waits
// silently (spec §4.8), but it is exported so tests can assert on it.
var ErrImplicitSyncUnsupported = errors.New("eglxpresent: implicit sync ioctls unsupported")

// Destroyer is the interface that wraps the Destroy method.
// Types implementing it hold external (non-GC-tracked) resources —
// GPU memory, file descriptors, server-side XIDs — that must be
// released explicitly.
type Destroyer interface {
	Destroy()
}

// ColorBuffer is an opaque driver-owned handle to GPU memory backing a
// single color buffer. The platform never interprets its contents; it
// only threads the handle through alloc/import/export/copy calls and
// surface attachment.
type ColorBuffer interface {
	Destroyer
}

// Sync is an opaque driver-owned GPU synchronization object (a "native
// fence" in EGL_ANDROID_native_fence_sync terms).
type Sync interface {
	Destroyer
}

// CallbackSafe is a marker interface for the subset of driver entry
// points that an UpdateFunc or DamageFunc callback is allowed to call.
// The driver already holds its window-system lock when it invokes
// those callbacks; any entry point that would need to re-acquire that
// lock must not implement this interface. Encoding the split as two
// distinct interfaces (CallbackSafe and SurfaceOwner) lets callers be
// checked at compile time rather than relying on a comment.
type CallbackSafe interface {
	// ImportColorBuffer imports a dma-buf fd as a driver color buffer.
	// The platform retains ownership of fd and must not close it; the
	// driver dup()s what it needs.
	ImportColorBuffer(fd int, fourcc uint32, modifier uint64, width, height, stride int) (ColorBuffer, error)

	// AllocColorBuffer allocates a new, driver-owned color buffer
	// using one of the modifiers in mods (driver's choice).
	AllocColorBuffer(fourcc uint32, mods []uint64, width, height int) (ColorBuffer, error)

	// FreeColorBuffer releases a color buffer previously obtained from
	// ImportColorBuffer or AllocColorBuffer.
	FreeColorBuffer(cb ColorBuffer)

	// ExportColorBuffer returns a dma-buf fd for cb. Only valid for
	// buffers allocated for PRIME intermediate use; the driver returns
	// an error for a regular shared buffer (spec §3 "Color buffer").
	ExportColorBuffer(cb ColorBuffer) (fd int, err error)

	// CopyColorBuffer blits src into dst, both driver-owned buffers of
	// matching dimensions. Used for the PRIME path (spec §4.6 step 2)
	// and for pixmap CopyArea fallback (spec §4.11).
	CopyColorBuffer(dst, src ColorBuffer) error

	// CreateNativeFenceSync creates a driver sync object that
	// signals when all rendering submitted so far has completed.
	CreateNativeFenceSync() (Sync, error)

	// DupNativeFenceFD exports sync as a pollable fence fd. The
	// caller owns the returned fd and must close it.
	DupNativeFenceFD(sync Sync) (fd int, err error)

	// WaitSync blocks the calling goroutine until sync signals.
	WaitSync(sync Sync) error
}

// SurfaceOwner is the subset of driver entry points that require the
// calling goroutine to hold exclusive use of the surface (i.e. they are
// never called from inside UpdateFunc/DamageFunc).
type SurfaceOwner interface {
	// CreateSurface registers a driver-side surface for a window or
	// pixmap, along with the attached buffers and the two foreign-
	// thread callbacks the driver may invoke against it.
	CreateSurface(front, back, prime ColorBuffer, update UpdateFunc, damage DamageFunc, param any) (Surface, error)
}

// Surface is the driver-side handle created by SurfaceOwner.CreateSurface.
type Surface interface {
	Destroyer

	// SetColorBuffers updates which buffers are attached as
	// front/back/prime. A nil argument leaves that slot unchanged.
	SetColorBuffers(front, back, prime ColorBuffer) error
}

// GPUDevice describes one device the EGL driver can enumerate, enough
// for the selection policy of spec.md §4.1 step 4 (NVIDIA vs. Tegra
// name match, DRM primary-node path match).
type GPUDevice struct {
	Name               string
	IsNVIDIA           bool
	DRMPrimaryNodePath string
}

// Allocator is the GPU memory allocator handle obtained from the
// buffer-allocator library spec.md §1 explicitly delegates allocation
// algorithms to (a Non-goal of this module).
type Allocator interface {
	Destroyer
	Backend() string
}

// EGLDisplay is the driver's internal EGL display handle for one
// chosen device (spec.md §3 "driver-handle of the internal EGL
// display").
type EGLDisplay interface {
	Destroyer
	Initialize() error
	SupportsNativeFenceSync() bool
	SupportsColorBufferTransfer() bool
}

// Loader is the thin set of entry points the display-creation
// algorithm (spec.md §4.1) calls into the driver and allocator
// libraries for. It is the only piece of "loader/entrypoint glue"
// (spec.md §2) this module defines as an interface rather than
// implementing outright — everything else in that row is environment
// parsing and vtable plumbing that belongs to the embedding EGL
// implementation, not this bridge.
type Loader interface {
	// EnumerateGPUDevices lists every device the driver knows about.
	EnumerateGPUDevices() ([]GPUDevice, error)

	// OpenDeviceNode opens the DRM render/primary node at path,
	// returning an owned fd.
	OpenDeviceNode(path string) (fd int, err error)

	// NewAllocator creates an allocator bound to fd. The backend name
	// must be the NVIDIA backend (spec.md §4.1 step 5).
	NewAllocator(fd int, backendName string) (Allocator, error)

	// NewEGLDisplay obtains (but does not yet Initialize) the
	// driver's internal EGL display for dev.
	NewEGLDisplay(dev GPUDevice) (EGLDisplay, error)
}

// UpdateFunc is invoked by the driver before it starts using a surface,
// on the driver's internal thread, while the driver's window-system
// lock is held. Implementations must only call methods satisfying
// CallbackSafe and must not block for longer than a short wire round
// trip.
type UpdateFunc func(param any)

// DamageFunc is invoked by the driver after it flushes rendering to the
// front/single buffer, under the same locking constraints as
// UpdateFunc. syncfd is a fence the platform may wait on before
// presenting; the driver keeps ownership of syncfd and closes it when
// the callback returns, so a callback that retains it past the call
// must dup it.
type DamageFunc func(param any, syncfd int, flags uint32)
