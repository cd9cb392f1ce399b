package colorbuffer

import (
	"errors"
	"testing"
	"time"

	"github.com/nvgpu/eglxpresent/driver"
	"github.com/nvgpu/eglxpresent/internal/drmsync"
)

func TestPoolGrowRespectsCapacity(t *testing.T) {
	p := NewPool()
	for i := 0; i < MaxColorBuffers; i++ {
		if err := p.Grow(&Buffer{}); err != nil {
			t.Fatalf("Grow #%d: %v", i, err)
		}
	}
	if err := p.Grow(&Buffer{}); !errors.Is(err, driver.ErrResourceExhausted) {
		t.Fatalf("Grow beyond MaxColorBuffers = %v, want ErrResourceExhausted", err)
	}

	for i := 0; i < MaxPrimeBuffers; i++ {
		if err := p.Grow(&Buffer{IsPrime: true}); err != nil {
			t.Fatalf("Grow prime #%d: %v", i, err)
		}
	}
	if err := p.Grow(&Buffer{IsPrime: true}); !errors.Is(err, driver.ErrResourceExhausted) {
		t.Fatalf("Grow beyond MaxPrimeBuffers = %v, want ErrResourceExhausted", err)
	}
	if len(p.All()) != MaxColorBuffers+MaxPrimeBuffers {
		t.Errorf("All() returned %d buffers, want %d", len(p.All()), MaxColorBuffers+MaxPrimeBuffers)
	}
}

func TestPoolResetClearsWithoutDestroying(t *testing.T) {
	p := NewPool()
	cb := &Buffer{CB: &fakeCB{}}
	p.Grow(cb)
	p.Reset()
	if len(p.All()) != 0 {
		t.Errorf("All() after Reset = %d buffers, want 0", len(p.All()))
	}
	if cb.CB == nil {
		t.Error("Reset must not itself destroy buffers (spec.md §4.6: caller destroys first)")
	}
}

func TestAcquireReturnsImmediatelyFreeBuffer(t *testing.T) {
	free := &Buffer{State: StateFree}
	busy := &Buffer{State: StateRendering}
	got, err := Acquire([]*Buffer{busy, free}, false, SyncPathNone, nil, drmsync.NewLatch())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if got != free {
		t.Errorf("Acquire returned %p, want the free buffer %p", got, free)
	}
}

func TestAcquireSkipsWrongPoolKind(t *testing.T) {
	regularFree := &Buffer{State: StateFree, IsPrime: false}
	primeFree := &Buffer{State: StateFree, IsPrime: true}
	got, err := Acquire([]*Buffer{regularFree, primeFree}, true, SyncPathNone, nil, drmsync.NewLatch())
	if err != nil {
		t.Fatalf("Acquire(prime=true): %v", err)
	}
	if got != primeFree {
		t.Errorf("Acquire(prime=true) returned %p, want the prime buffer %p", got, primeFree)
	}
}

func TestAcquireTimesOutWhenNoneFree(t *testing.T) {
	start := time.Now()
	pool := []*Buffer{{State: StateRendering}, {State: StatePresented}}
	_, err := Acquire(pool, false, SyncPathNone, nil, drmsync.NewLatch())
	elapsed := time.Since(start)
	if !errors.Is(err, driver.ErrResourceExhausted) {
		t.Fatalf("Acquire with no free buffer = %v, want ErrResourceExhausted", err)
	}
	if elapsed < freeBufferTimeout {
		t.Errorf("Acquire returned after %s, want at least the bounded timeout %s", elapsed, freeBufferTimeout)
	}
}

func TestAcquireExplicitSyncConsultsTimelineWaiter(t *testing.T) {
	var ticks int
	waiter := NewTimelineWaiter(func() { ticks++ })
	pool := []*Buffer{{State: StateRendering}}
	_, err := Acquire(pool, false, SyncPathExplicit, waiter, drmsync.NewLatch())
	if !errors.Is(err, driver.ErrResourceExhausted) {
		t.Fatalf("Acquire: %v", err)
	}
	if ticks == 0 {
		t.Error("Acquire(SyncPathExplicit) never consulted the timeline waiter")
	}
}
