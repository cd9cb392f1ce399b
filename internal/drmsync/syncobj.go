// Package drmsync wraps the kernel DRM timeline-syncobj and dma-buf
// sync-file ioctls this platform's two explicit/implicit sync paths
// need (spec.md §4.8, §6 "Kernel surface"). It is the Go-side analogue
// of what a C driver would reach via <xf86drm.h> and <linux/dma-buf.h>;
// golang.org/x/sys/unix supplies the raw ioctl/syscall plumbing, the
// same package gazed-vu and IntuitionAmiga-IntuitionEngine depend on
// for their own low-level platform glue.
package drmsync

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// DRM ioctl numbers for the syncobj family (include/uapi/drm/drm.h).
// These are fixed ABI constants, not something a Go binding generates.
const (
	ioctlSyncobjCreate        = 0xc00864bf // DRM_IOCTL_SYNCOBJ_CREATE
	ioctlSyncobjDestroy       = 0xc00864c0
	ioctlSyncobjHandleToFD    = 0xc01064c1
	ioctlSyncobjFDToHandle    = 0xc01064c2
	ioctlSyncobjTransfer      = 0xc02064cc
	ioctlSyncobjTimelineWait  = 0xc02864ca
	ioctlSyncobjTimelineSignal = 0xc01864cd
)

const capSyncobjTimeline = 0x14 // DRM_CAP_SYNCOBJ_TIMELINE

// HasTimelineCap reports whether the open DRM render-node fd advertises
// timeline-syncobj support, consulted once during display init (spec.md
// §4.1 step 10).
func HasTimelineCap(fd int) (bool, error) {
	var cap struct {
		Capability uint64
		Value      uint64
	}
	cap.Capability = capSyncobjTimeline
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), drmIoctlGetCap, uintptr(unsafe.Pointer(&cap)))
	if errno != 0 {
		return false, fmt.Errorf("drmsync: DRM_IOCTL_GET_CAP: %w", errno)
	}
	return cap.Value != 0, nil
}

const drmIoctlGetCap = 0xc010640c

// Handle is a kernel syncobj handle local to one DRM fd.
type Handle uint32

// Create allocates a new (binary, unsignaled) kernel syncobj.
func Create(fd int) (Handle, error) {
	var args struct {
		Handle uint32
		Flags  uint32
	}
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), ioctlSyncobjCreate, uintptr(unsafe.Pointer(&args))); errno != 0 {
		return 0, fmt.Errorf("drmsync: SYNCOBJ_CREATE: %w", errno)
	}
	return Handle(args.Handle), nil
}

// Destroy frees a kernel syncobj handle.
func Destroy(fd int, h Handle) error {
	var args struct{ Handle, Pad uint32 }
	args.Handle = uint32(h)
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), ioctlSyncobjDestroy, uintptr(unsafe.Pointer(&args))); errno != 0 {
		return fmt.Errorf("drmsync: SYNCOBJ_DESTROY: %w", errno)
	}
	return nil
}

// ExportFD exports h as a syncobj fd, shareable with the server via
// DRI3ImportSyncobj (spec.md §4.3 "Init").
func ExportFD(fd int, h Handle) (int, error) {
	var args struct {
		Handle uint32
		Flags  uint32
		FD     int32
		Pad    uint32
	}
	args.Handle = uint32(h)
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), ioctlSyncobjHandleToFD, uintptr(unsafe.Pointer(&args))); errno != 0 {
		return -1, fmt.Errorf("drmsync: SYNCOBJ_HANDLE_TO_FD: %w", errno)
	}
	return int(args.FD), nil
}

// ImportFD imports a syncobj fd (or, with flags set appropriately, a
// plain sync_file fence fd) as a new kernel syncobj handle.
func ImportFD(fd int, syncFD int) (Handle, error) {
	var args struct {
		Handle uint32
		Flags  uint32
		FD     int32
		Pad    uint32
	}
	args.FD = int32(syncFD)
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), ioctlSyncobjFDToHandle, uintptr(unsafe.Pointer(&args))); errno != 0 {
		return 0, fmt.Errorf("drmsync: SYNCOBJ_FD_TO_HANDLE: %w", errno)
	}
	return Handle(args.Handle), nil
}

// Transfer moves the signal state at srcPoint on src to dstPoint on
// dst, used by the timeline helper's Init/attach/point-to-sync-fd
// operations (spec.md §4.3).
func Transfer(fd int, dst Handle, dstPoint uint64, src Handle, srcPoint uint64) error {
	var args struct {
		SrcHandle uint32
		DstHandle uint32
		SrcPoint  uint64
		DstPoint  uint64
		Flags     uint32
		Pad       uint32
	}
	args.SrcHandle = uint32(src)
	args.DstHandle = uint32(dst)
	args.SrcPoint = srcPoint
	args.DstPoint = dstPoint
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), ioctlSyncobjTransfer, uintptr(unsafe.Pointer(&args))); errno != 0 {
		return fmt.Errorf("drmsync: SYNCOBJ_TRANSFER: %w", errno)
	}
	return nil
}

// WaitFlagAvailable mirrors DRM_SYNCOBJ_WAIT_FLAGS_WAIT_AVAILABLE: wait
// until the point is submitted (has a pending or signaled fence),
// rather than until it's signaled. Used by the free-buffer search
// (spec.md §4.5: "wait on the pool's timelines with WAIT_AVAILABLE").
const WaitFlagAvailable uint32 = 1 << 2

// TimelineWait blocks until every (handle, point) pair has reached the
// requested state, or the deadline (absolute CLOCK_MONOTONIC
// nanoseconds; 0 means return immediately if not already satisfied).
func TimelineWait(fd int, handles []Handle, points []uint64, flags uint32, deadlineNsec int64) error {
	if len(handles) != len(points) || len(handles) == 0 {
		return fmt.Errorf("drmsync: TimelineWait: mismatched handles/points")
	}
	hs := make([]uint32, len(handles))
	for i, h := range handles {
		hs[i] = uint32(h)
	}
	var args struct {
		Handles     uint64
		Points      uint64
		Timeout     int64
		Count       uint32
		Flags       uint32
		FirstSignaled uint32
		Pad         uint32
	}
	args.Handles = uint64(uintptr(unsafe.Pointer(&hs[0])))
	args.Points = uint64(uintptr(unsafe.Pointer(&points[0])))
	args.Timeout = deadlineNsec
	args.Count = uint32(len(handles))
	args.Flags = flags
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), ioctlSyncobjTimelineWait, uintptr(unsafe.Pointer(&args))); errno != 0 {
		return fmt.Errorf("drmsync: SYNCOBJ_TIMELINE_WAIT: %w", errno)
	}
	return nil
}
