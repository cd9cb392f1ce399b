package drmsync

import (
	"errors"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ErrImplicitSyncUnsupported is returned by ImportSyncFile/ExportSyncFile
// once the process-wide Latch has tripped (spec.md §4.8, §9 "Process-
// wide flags").
var ErrImplicitSyncUnsupported = errors.New("drmsync: implicit sync ioctls unsupported")

const (
	ioctlDMABufImportSyncFile = 0x40086203
	ioctlDMABufExportSyncFile = 0xc0086202
)

type dmaBufSyncFile struct {
	Flags uint32
	FD    int32
}

const (
	dmaBufSyncRead  uint32 = 1 << 0
	dmaBufSyncWrite uint32 = 1 << 1
)

// Latch is process-wide, scoped state (spec.md §9: "should become
// scoped module-state with explicit init/teardown rather than free
// global state") recording whether the implicit-sync ioctls have been
// observed to fail with ENOTTY/EBADF/ENOSYS. Once tripped it never
// resets (spec.md §4.8: "conservative: never re-enabled at runtime").
// Unlike a bare package-level var, it is owned by whoever constructs
// it — the display layer creates exactly one per Display instance —
// so tests can exercise the latched and unlatched paths side by side
// without interference.
type Latch struct {
	mu      sync.Mutex
	tripped bool
}

// NewLatch returns a fresh, untripped latch.
func NewLatch() *Latch { return &Latch{} }

// Tripped reports whether implicit sync has been found unsupported.
func (l *Latch) Tripped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tripped
}

func (l *Latch) trip() {
	l.mu.Lock()
	l.tripped = true
	l.mu.Unlock()
}

// isUnsupported reports whether errno indicates the ioctl itself is
// unavailable, as opposed to a transient per-call failure.
func isUnsupported(err error) bool {
	return errors.Is(err, unix.ENOTTY) || errors.Is(err, unix.EBADF) || errors.Is(err, unix.ENOSYS)
}

// ImportSyncFile plugs fenceFD into dmabufFD's reservation object for
// the given read/write direction (spec.md §4.8 "Implicit" row). If the
// latch is already tripped it returns ErrImplicitSyncUnsupported
// immediately without issuing the ioctl.
func ImportSyncFile(l *Latch, dmabufFD, fenceFD int, write bool) error {
	if l.Tripped() {
		return ErrImplicitSyncUnsupported
	}
	flags := dmaBufSyncRead
	if write {
		flags = dmaBufSyncWrite
	}
	arg := dmaBufSyncFile{Flags: flags, FD: int32(fenceFD)}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(dmabufFD), ioctlDMABufImportSyncFile, uintptr(unsafe.Pointer(&arg)))
	if errno != 0 {
		if isUnsupported(errno) {
			l.trip()
			return ErrImplicitSyncUnsupported
		}
		return errno
	}
	return nil
}

// ExportSyncFile exports dmabufFD's current (read or write) fence as a
// new, caller-owned fence fd (spec.md §4.8 "Implicit" row, used at
// buffer reuse once PresentIdleNotify has fired).
func ExportSyncFile(l *Latch, dmabufFD int, write bool) (int, error) {
	if l.Tripped() {
		return -1, ErrImplicitSyncUnsupported
	}
	flags := dmaBufSyncRead
	if write {
		flags = dmaBufSyncWrite
	}
	arg := dmaBufSyncFile{Flags: flags}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(dmabufFD), ioctlDMABufExportSyncFile, uintptr(unsafe.Pointer(&arg)))
	if errno != 0 {
		if isUnsupported(errno) {
			l.trip()
			return -1, ErrImplicitSyncUnsupported
		}
		return -1, errno
	}
	return int(arg.FD), nil
}

// PollWritable polls dmabufFD for POLLOUT with the given timeout,
// the CPU-fallback implicit-sync wait path of spec.md §4.5. A negative
// fd is rejected with EBADF.
func PollWritable(dmabufFD int, timeoutMillis int) (ready bool, err error) {
	if dmabufFD < 0 {
		return false, unix.EBADF
	}
	fds := []unix.PollFd{{Fd: int32(dmabufFD), Events: unix.POLLOUT}}
	n, err := unix.Poll(fds, timeoutMillis)
	if err != nil {
		return false, err
	}
	return n > 0 && fds[0].Revents&unix.POLLOUT != 0, nil
}
