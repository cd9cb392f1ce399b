// Package timeline implements the explicit-sync timeline helper
// (spec.md §4.3): a kernel DRM timeline syncobj paired with the
// server-side XID that shares it, plus a monotonically increasing
// point counter used to mint fresh acquire/release points for each
// present.
package timeline

import (
	"fmt"
	"sync/atomic"

	"github.com/nvgpu/eglxpresent/driver"
	"github.com/nvgpu/eglxpresent/internal/drmsync"
	"github.com/nvgpu/eglxpresent/internal/wire"
)

// Timeline is one explicit-sync timeline: a kernel syncobj handle
// local to the GPU device fd, the server XID importing it, and the
// next point to hand out.
type Timeline struct {
	conn    *wire.Conn
	deviceFD int
	handle  drmsync.Handle
	xid     uint32
	point   uint64 // accessed via atomic
}

// Init creates a new kernel syncobj on deviceFD and shares it with the
// server under a fresh XID (spec.md §4.3 "Init"). drawable is the
// window or pixmap XID the syncobj is associated with.
func Init(conn *wire.Conn, deviceFD int, drawable uint32) (*Timeline, error) {
	h, err := drmsync.Create(deviceFD)
	if err != nil {
		return nil, fmt.Errorf("%w: create syncobj: %v", driver.ErrResourceExhausted, err)
	}
	fd, err := drmsync.ExportFD(deviceFD, h)
	if err != nil {
		drmsync.Destroy(deviceFD, h)
		return nil, fmt.Errorf("%w: export syncobj fd: %v", driver.ErrResourceExhausted, err)
	}
	xid := conn.NewXID()
	if err := conn.DRI3ImportSyncobj(xid, drawable, fd); err != nil {
		drmsync.Destroy(deviceFD, h)
		return nil, fmt.Errorf("%w: DRI3ImportSyncobj: %v", driver.ErrTransientWire, err)
	}
	return &Timeline{conn: conn, deviceFD: deviceFD, handle: h, xid: xid}, nil
}

// XID returns the server-side syncobj XID, used as the acquire or
// release syncobj field of a PresentPixmapParams (spec.md §4.8
// "Explicit").
func (t *Timeline) XID() uint32 { return t.xid }

// NextPoint atomically advances and returns the timeline's point
// counter, minting a fresh value for the next present's release point
// (spec.md §4.3 "monotone point counter").
func (t *Timeline) NextPoint() uint64 {
	return atomic.AddUint64(&t.point, 1)
}

// CurrentPoint returns the most recently minted point without
// advancing the counter.
func (t *Timeline) CurrentPoint() uint64 {
	return atomic.LoadUint64(&t.point)
}

// AttachSyncFD imports an existing sync_file fd (e.g. from
// DupNativeFenceFD) into this timeline at point, so a driver-side
// fence can be waited on through the kernel timeline (spec.md §4.3
// "attach sync fd").
func (t *Timeline) AttachSyncFD(fd int, point uint64) error {
	tmp, err := drmsync.ImportFD(t.deviceFD, fd)
	if err != nil {
		return fmt.Errorf("%w: import sync fd: %v", driver.ErrResourceExhausted, err)
	}
	defer drmsync.Destroy(t.deviceFD, tmp)
	if err := drmsync.Transfer(t.deviceFD, t.handle, point, tmp, 0); err != nil {
		return fmt.Errorf("%w: transfer to timeline point: %v", driver.ErrResourceExhausted, err)
	}
	return nil
}

// PointToSyncFD exports the fence at point as a new sync_file fd the
// caller owns, e.g. to hand to the driver's WaitSync (spec.md §4.3
// "point to sync fd").
func (t *Timeline) PointToSyncFD(point uint64) (int, error) {
	tmp, err := drmsync.Create(t.deviceFD)
	if err != nil {
		return -1, fmt.Errorf("%w: create transfer syncobj: %v", driver.ErrResourceExhausted, err)
	}
	defer drmsync.Destroy(t.deviceFD, tmp)
	if err := drmsync.Transfer(t.deviceFD, tmp, 0, t.handle, point); err != nil {
		return -1, fmt.Errorf("%w: transfer from timeline point: %v", driver.ErrResourceExhausted, err)
	}
	fd, err := drmsync.ExportFD(t.deviceFD, tmp)
	if err != nil {
		return -1, fmt.Errorf("%w: export transfer syncobj: %v", driver.ErrResourceExhausted, err)
	}
	return fd, nil
}

// Wait blocks until point has been submitted on the timeline
// (WAIT_AVAILABLE semantics), with deadlineNsec an absolute
// CLOCK_MONOTONIC deadline (spec.md §4.5 free-buffer search).
func (t *Timeline) Wait(point uint64, deadlineNsec int64) error {
	return drmsync.TimelineWait(t.deviceFD, []drmsync.Handle{t.handle}, []uint64{point}, drmsync.WaitFlagAvailable, deadlineNsec)
}

// Destroy frees the server XID and the kernel syncobj handle (spec.md
// §4.3 "Destroy").
func (t *Timeline) Destroy() {
	t.conn.DRI3FreeSyncobj(t.xid)
	drmsync.Destroy(t.deviceFD, t.handle)
}
