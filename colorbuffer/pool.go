package colorbuffer

import (
	"fmt"
	"time"

	"github.com/nvgpu/eglxpresent/driver"
	"github.com/nvgpu/eglxpresent/internal/drmsync"
)

// pollInterval is the granularity of the bounded CPU-fallback wait
// (spec.md §4.5: "poll the pool... in a bounded loop"); kept short
// enough that swap-buffers latency stays unnoticeable while a real
// fence/timeline wait is unavailable.
const pollInterval = 4 * time.Millisecond

// freeBufferTimeout bounds how long the free-buffer search waits
// before giving up and reporting exhaustion (spec.md §4.5: "bounded
// timeout, not an unbounded wait").
const freeBufferTimeout = 100 * time.Millisecond

// Pool is a window presenter's collection of regular and
// (optionally) PRIME intermediate buffers (spec.md §4.5).
type Pool struct {
	Regular []*Buffer
	Prime   []*Buffer
}

// NewPool allocates an empty pool; buffers are appended lazily as the
// presenter needs them, up to MaxColorBuffers/MaxPrimeBuffers.
func NewPool() *Pool {
	return &Pool{}
}

// SyncPath selects which of the three synchronization strategies
// (spec.md §4.8) the free-buffer search uses to decide a candidate is
// actually idle.
type SyncPath int

const (
	SyncPathNone SyncPath = iota
	SyncPathImplicit
	SyncPathExplicit
)

// ScanFree performs one non-blocking pass over pool looking for a
// buffer of the right kind that is immediately returnable (spec.md
// §4.5 "any buffer IDLE is returnable"): StateFree always qualifies;
// StateIdleNotified qualifies too, under the same per-path rules
// Acquire's wait loop uses, except that the implicit-sync dma-buf
// check uses a zero-length poll (a readiness check, not a wait) so
// this never blocks. Called both as Acquire's first pass and, by
// SwapBuffers, before deciding whether the pool has room to grow
// instead of waiting (spec.md §4.5 "if none is IDLE and pool size <
// max, allocate a new one" — allocation must be tried before any
// wait, not after one).
func ScanFree(pool []*Buffer, prime bool, path SyncPath) (*Buffer, bool) {
	for _, b := range pool {
		if b.IsPrime != prime {
			continue
		}
		if b.State == StateFree {
			return b, true
		}
		if path != SyncPathExplicit && b.State == StateIdleNotified {
			if path == SyncPathNone {
				b.State = StateFree
				return b, true
			}
			if b.DmabufFD > 0 {
				if ready, _ := drmsync.PollWritable(b.DmabufFD, 0); ready {
					b.State = StateFree
					return b, true
				}
			}
		}
	}
	return nil, false
}

// Acquire implements the free-buffer search's wait path (spec.md
// §4.5): only meaningful once the pool is already at capacity, since a
// pool with room to grow should allocate immediately rather than reach
// here (see ScanFree's doc comment and SwapBuffers). What counts as
// "ready to wait on" depends on the sync path: explicit sync polls
// events and consults the per-buffer timeline directly
// (StateIdleNotified never occurs under explicit sync, since Idle is
// not even requested — spec.md §3 invariant 5); implicit sync waits
// only on buffers a PresentIdleNotify already marked StateIdleNotified,
// then promotes them to StateFree; no-sync treats StateIdleNotified as
// StateFree immediately. The search is bounded by freeBufferTimeout,
// re-scanning after each wait tick so a concurrent ConfigureNotify
// (window destruction) is still observed by the caller.
func Acquire(pool []*Buffer, prime bool, path SyncPath, tl *TimelineWaiter, latch *drmsync.Latch) (*Buffer, error) {
	deadline := time.Now().Add(freeBufferTimeout)
	for {
		if b, ok := ScanFree(pool, prime, path); ok {
			return b, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: no free %sbuffer within %s", driver.ErrResourceExhausted, primeLabel(prime), freeBufferTimeout)
		}
		switch path {
		case SyncPathExplicit:
			if tl != nil {
				// A bounded, short per-tick wait; the outer loop
				// re-scans and re-evaluates the deadline regardless of
				// why TimelineWait returned.
				tl.waitTick()
			}
		case SyncPathImplicit:
			// Nothing StateIdleNotified yet to poll; give the server a
			// moment to deliver PresentIdleNotify before re-scanning.
			time.Sleep(pollInterval)
		default:
			time.Sleep(pollInterval)
		}
	}
}

func primeLabel(prime bool) string {
	if prime {
		return "prime "
	}
	return ""
}

// TimelineWaiter is the minimal surface Acquire needs from
// timeline.Timeline, kept as a thin function wrapper here so this
// package does not import timeline (which itself depends on wire —
// colorbuffer stays a leaf package, wired together by window/pixmap).
type TimelineWaiter struct {
	wait func()
}

func (t *TimelineWaiter) waitTick() {
	if t != nil && t.wait != nil {
		t.wait()
	}
}

// NewTimelineWaiter adapts a poll function (typically a short,
// bounded timeline.Timeline.Wait call) for use by Acquire.
func NewTimelineWaiter(wait func()) *TimelineWaiter {
	return &TimelineWaiter{wait: wait}
}

// Grow appends a freshly allocated buffer to the pool if under
// capacity, or returns ErrResourceExhausted (spec.md §4.5 "pool is
// capped at MAX_COLOR_BUFFERS/MAX_PRIME_BUFFERS").
func (p *Pool) Grow(b *Buffer) error {
	if b.IsPrime {
		if len(p.Prime) >= MaxPrimeBuffers {
			return fmt.Errorf("%w: prime pool at capacity (%d)", driver.ErrResourceExhausted, MaxPrimeBuffers)
		}
		p.Prime = append(p.Prime, b)
		return nil
	}
	if len(p.Regular) >= MaxColorBuffers {
		return fmt.Errorf("%w: regular pool at capacity (%d)", driver.ErrResourceExhausted, MaxColorBuffers)
	}
	p.Regular = append(p.Regular, b)
	return nil
}

// All returns every buffer in the pool, regular first then prime, used
// by reallocation and teardown (spec.md §4.6 resize/modifier change).
func (p *Pool) All() []*Buffer {
	out := make([]*Buffer, 0, len(p.Regular)+len(p.Prime))
	out = append(out, p.Regular...)
	out = append(out, p.Prime...)
	return out
}

// Reset clears the pool's slices without destroying buffers (caller
// destroys them first); used during a forced reallocation.
func (p *Pool) Reset() {
	p.Regular = nil
	p.Prime = nil
}
