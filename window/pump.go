package window

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nvgpu/eglxpresent/colorbuffer"
	"github.com/nvgpu/eglxpresent/driver"
	"github.com/nvgpu/eglxpresent/internal/wire"
)

// pump owns a presenter's special-event queue and folds incoming
// Present events into the presenter's state (spec.md §4.9 "event
// pump"). It runs as its own goroutine, started by Presenter.New and
// stopped by Presenter.Destroy. The goroutine is supervised through an
// errgroup so a fatal decode error (one that signals the wire
// connection itself has gone bad, as opposed to a single malformed
// event worth skipping) surfaces to Stop's caller instead of vanishing
// into a detached goroutine.
type pump struct {
	p      *Presenter
	seq    *wire.SpecialEventQueue
	cancel context.CancelFunc
	g      *errgroup.Group
}

func newPump(p *Presenter, seq *wire.SpecialEventQueue) *pump {
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	pm := &pump{p: p, seq: seq, cancel: cancel, g: g}
	g.Go(func() error { return pm.run(ctx) })
	return pm
}

// run is the pump's body: wait on the special-event queue with a short
// timeout so ctx cancellation is observed promptly, decode whatever
// arrives, and dispatch it under the presenter's mutex. Every
// iteration — whether or not an event arrived — broadcasts the
// presenter's condition variable, so SwapBuffers' throttle wait and
// the free-buffer search wake on a steady ~50ms cadence even absent a
// matching event (spec.md §4.9 "a short timeout between checks").
func (pm *pump) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		ev, ok := pm.seq.Wait(50 * time.Millisecond)
		if !ok {
			pm.p.broadcast()
			continue
		}
		decoded, err := decodeEventForPresenter(pm.p, ev)
		if err != nil {
			// A single malformed event is not fatal to the pump; only
			// wire.ErrClosed (the wire connection itself died)
			// ends the loop, matching spec.md §9's requirement that a
			// dead connection surface to the caller rather than spin.
			if isFatalPumpErr(err) {
				pm.p.setPumpErr(err)
				return err
			}
			pm.p.broadcast()
			continue
		}
		pm.p.mu.Lock()
		pm.p.handleEventLocked(decoded)
		pm.p.cond.Broadcast()
		pm.p.mu.Unlock()
	}
}

// pollOnce implements the non-blocking poll entry point spec.md §4.9
// describes ("non-blocking poll from the update callback and between
// retries"). It returns false if nothing was queued.
func (pm *pump) pollOnce() bool {
	ev, ok := pm.seq.Poll()
	if !ok {
		return false
	}
	decoded, err := decodeEventForPresenter(pm.p, ev)
	if err != nil {
		return false
	}
	pm.p.handleEventLocked(decoded)
	return true
}

func isFatalPumpErr(err error) bool {
	return err == wire.ErrClosed
}

// Stop cancels the pump goroutine, waits for it to exit, and
// deregisters the special-event queue. Any error the goroutine
// returned (spec.md §9's dead-connection case) is returned here so
// Presenter.Destroy can report it instead of silently losing it.
func (pm *pump) Stop() error {
	pm.cancel()
	err := pm.g.Wait()
	pm.seq.Close()
	pm.p.broadcast()
	return err
}

// decodeEventForPresenter maps a raw special event to its decoded
// Present payload, taking the sub-code from the low byte of the
// generic-event type field at byte 8 (spec.md §6 "generic events").
func decodeEventForPresenter(p *Presenter, ev wire.Event) (any, error) {
	if len(ev.Data) < 12 {
		return nil, fmt.Errorf("%w: short event", driver.ErrTransientWire)
	}
	subCode := ev.Data[8]
	return wire.DecodePresentEvent(subCode, ev.Data)
}

// broadcast wakes every goroutine parked on p.cond (SwapBuffers'
// throttle wait, the free-buffer search); safe to call whether or not
// anyone is actually waiting.
func (p *Presenter) broadcast() {
	p.mu.Lock()
	p.cond.Broadcast()
	p.mu.Unlock()
}

// setPumpErr records a fatal pump-goroutine error and wakes any
// blocked waiter so it observes the failure instead of hanging until
// its own bounded timeout (spec.md §9 "a dead connection must surface
// to the caller").
func (p *Presenter) setPumpErr(err error) {
	p.mu.Lock()
	p.pumpErr = err
	p.nativeDestroyed = true
	p.cond.Broadcast()
	p.mu.Unlock()
}

// handleEventLocked folds one decoded Present event into the
// presenter's buffer/serial bookkeeping (spec.md §4.6 step 8, §4.9).
// Only pending_width/height are touched here (spec.md §3 invariant 4:
// width/height change only on a successful reallocation, which
// SwapBuffers or Reallocate performs later by consulting
// pendingWidth/pendingHeight). Caller must hold p.mu.
func (p *Presenter) handleEventLocked(ev any) {
	switch e := ev.(type) {
	case wire.ConfigureNotify:
		p.pendingWidth = int(e.Width)
		p.pendingHeight = int(e.Height)
		if e.WindowDestroyed {
			p.nativeDestroyed = true
		} else {
			p.resizePending = true
		}
	case wire.CompleteNotify:
		// Wrap-safe advance-only update (spec.md §4.9, §8 "round trip
		// law"/open question on 32-bit serial wrap): only accept e.Serial
		// as the new last_complete_serial if doing so narrows the gap to
		// last_present_serial, which holds even across a wraparound of
		// both counters since the subtraction is itself modular.
		if p.lastPresentSerial-e.Serial < p.lastPresentSerial-p.lastCompleteSerial {
			p.lastCompleteSerial = e.Serial
		}
		p.lastCompleteMSC = e.MSC
		if e.Mode == wire.PresentCompleteModeSuboptimalCopy && !p.display.ForcePrime {
			p.needsModifierCheck = true
		}
	case wire.IdleNotify:
		// Under explicit sync, Idle is neither requested (the event mask
		// omits it) nor consulted; buffer liveness comes from timeline
		// waits alone (spec.md §3 invariant 5, §4.8).
		if p.syncCtx.path == syncExplicit {
			return
		}
		for _, b := range p.pool.All() {
			if b.Pixmap == e.Pixmap && b.Serial == e.Serial {
				b.State = colorbuffer.StateIdleNotified
			}
		}
	}
}
