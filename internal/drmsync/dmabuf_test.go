package drmsync

import (
	"errors"
	"testing"

	"golang.org/x/sys/unix"
)

func TestLatchStartsUntripped(t *testing.T) {
	l := NewLatch()
	if l.Tripped() {
		t.Error("NewLatch() should start untripped")
	}
}

// TestImportSyncFileTripsLatchOnBadFD exercises the real ioctl syscall
// with an invalid fd: the kernel returns EBADF, which isUnsupported
// treats as "implicit sync unavailable" and trips the latch for good
// (spec.md §4.8: never re-enabled at runtime).
func TestImportSyncFileTripsLatchOnBadFD(t *testing.T) {
	l := NewLatch()
	err := ImportSyncFile(l, -1, -1, false)
	if !errors.Is(err, ErrImplicitSyncUnsupported) {
		t.Fatalf("ImportSyncFile(bad fd) = %v, want ErrImplicitSyncUnsupported", err)
	}
	if !l.Tripped() {
		t.Fatal("latch should be tripped after an EBADF ioctl failure")
	}

	// Once tripped, further calls must short-circuit without issuing
	// the ioctl again.
	err = ImportSyncFile(l, -1, -1, false)
	if !errors.Is(err, ErrImplicitSyncUnsupported) {
		t.Errorf("ImportSyncFile after trip = %v, want ErrImplicitSyncUnsupported", err)
	}
}

func TestExportSyncFileTripsLatchOnBadFD(t *testing.T) {
	l := NewLatch()
	_, err := ExportSyncFile(l, -1, true)
	if !errors.Is(err, ErrImplicitSyncUnsupported) {
		t.Fatalf("ExportSyncFile(bad fd) = %v, want ErrImplicitSyncUnsupported", err)
	}
	if !l.Tripped() {
		t.Fatal("latch should be tripped after an EBADF ioctl failure")
	}
}

func TestIsUnsupported(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{unix.ENOTTY, true},
		{unix.EBADF, true},
		{unix.ENOSYS, true},
		{unix.EINVAL, false},
		{nil, false},
	}
	for _, c := range cases {
		if got := isUnsupported(c.err); got != c.want {
			t.Errorf("isUnsupported(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestPollWritableBadFD(t *testing.T) {
	if _, err := PollWritable(-1, 1); err == nil {
		t.Error("PollWritable(-1, ...) should fail")
	}
}
