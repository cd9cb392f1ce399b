package window

import (
	"github.com/nvgpu/eglxpresent/colorbuffer"
	"github.com/nvgpu/eglxpresent/driver"
	"github.com/nvgpu/eglxpresent/internal/drmsync"
	"github.com/nvgpu/eglxpresent/internal/wire"
	"github.com/nvgpu/eglxpresent/timeline"
)

// syncPath is the synchronization strategy a presenter settled on at
// creation time, per spec.md §4.8: explicit (kernel timeline syncobj),
// implicit (dma-buf fence), or none (glFinish + PresentIdleNotify as
// the sole liveness signal).
type syncPath int

const (
	syncNone syncPath = iota
	syncImplicit
	syncExplicit
)

// syncContext bundles the state a presenter needs to fill in a
// present's wait/acquire/release fields and to decide when a returned
// buffer is actually idle, regardless of which of the three paths is
// active.
type syncContext struct {
	path  syncPath
	tl    *timeline.Timeline
	latch *drmsync.Latch
}

// newSyncContext picks the path once, the way spec.md §4.1 step 10
// derives SupportsExplicitSync up front: explicit is preferred when
// available, implicit is the fallback when the device requires
// PRIME (cross-GPU) transfer, and none otherwise.
func newSyncContext(explicitSupported bool, tl *timeline.Timeline, implicitSupported bool, latch *drmsync.Latch) *syncContext {
	switch {
	case explicitSupported && tl != nil:
		return &syncContext{path: syncExplicit, tl: tl, latch: latch}
	case implicitSupported:
		return &syncContext{path: syncImplicit, latch: latch}
	default:
		return &syncContext{path: syncNone, latch: latch}
	}
}

// preparePresent fills the sync-related fields of p for buf's present,
// returning an updated params value and whether the PixmapSynced
// (rather than plain Pixmap) request variant must be used.
func (s *syncContext) preparePresent(p wire.PresentPixmapParams, buf *colorbuffer.Buffer, acquireFenceFD int) (wire.PresentPixmapParams, bool, error) {
	switch s.path {
	case syncExplicit:
		// spec.md §4.3 "Attach-sync-fd(point+1)": a just-created fence
		// is attached at a freshly minted point, never at one already
		// handed out (a syncobj timeline point may only be used once).
		// spec.md §4.6 step 8 then takes that same point as this
		// present's acquire point and mints one further point as the
		// release point — two distinct advances per present, each by
		// exactly one (spec.md §3 invariant 6).
		acquirePoint := s.tl.CurrentPoint()
		if acquireFenceFD >= 0 {
			acquirePoint = s.tl.NextPoint()
			if err := s.tl.AttachSyncFD(acquireFenceFD, acquirePoint); err != nil {
				return p, false, err
			}
		}
		releasePoint := s.tl.NextPoint()
		p.AcquireSyncobj = s.tl.XID()
		p.AcquirePoint = acquirePoint
		p.ReleaseSyncobj = s.tl.XID()
		p.ReleasePoint = releasePoint
		return p, true, nil
	case syncImplicit:
		if acquireFenceFD >= 0 && buf.DmabufFD > 0 && !s.latch.Tripped() {
			drmsync.ImportSyncFile(s.latch, buf.DmabufFD, acquireFenceFD, false)
		}
		return p, false, nil
	default:
		return p, false, nil
	}
}

// finishSync performs the "none" path's CPU stall: a native fence
// created immediately after the driver flushes, waited on synchronously
// before the buffer is handed to Present (spec.md §4.8 "None" row).
func finishSync(cbs driver.CallbackSafe) error {
	sync, err := cbs.CreateNativeFenceSync()
	if err != nil {
		return err
	}
	defer sync.Destroy()
	return cbs.WaitSync(sync)
}

// createFenceFD creates a driver native fence that signals once all
// rendering submitted so far completes, and exports it as a pollable
// fd the caller owns (spec.md §4.6 step 4: "attaches the next timeline
// acquire-point from a just-created native-fence sync" / "plugs a
// fence fd into the dma-buf"). Used by the explicit and implicit sync
// paths in the regular (non-damage-driven) swap; the damage callback
// instead reuses the fence fd the driver already handed it.
func createFenceFD(cbs driver.CallbackSafe) (int, error) {
	sync, err := cbs.CreateNativeFenceSync()
	if err != nil {
		return -1, err
	}
	defer sync.Destroy()
	return cbs.DupNativeFenceFD(sync)
}
