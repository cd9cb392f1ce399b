package wire

import "time"

// presentFirstEvent caches the Present extension's first-event code
// once QueryExtension(ExtPresent) succeeds, so routeSpecialEvent can
// recognize Present's three event sub-types without every caller
// re-deriving it.
func (c *Conn) presentFirstEvent() (uint8, bool) {
	c.extMu.Lock()
	defer c.extMu.Unlock()
	ev, ok := c.extFirstEv[ExtPresent]
	return ev, ok
}

// routeSpecialEvent delivers a Present event straight to the channel
// registered for its target window (the "special-event channel" of
// spec.md §4.9), returning true if it recognized and routed the event.
// Present's wire events all carry the target window XID at byte offset
// 12 in the fixed 32-byte body (following extension/sequence/length/
// evtype/event-id), which this platform uses as the routing key since
// SelectInput is always called with eid == window in this codebase.
func (c *Conn) routeSpecialEvent(ev Event) bool {
	first, ok := c.presentFirstEvent()
	if !ok {
		return false
	}
	if ev.ResponseType < first || ev.ResponseType > first+presentEvtIdleNotify {
		return false
	}
	if len(ev.Data) < 16 {
		return false
	}
	window := byteOrder.Uint32(ev.Data[12:])
	c.specialMu.Lock()
	ch, registered := c.special[window]
	c.specialMu.Unlock()
	if !registered {
		return false
	}
	select {
	case ch <- ev:
	default:
		// The queue is full because nobody has polled/waited in a
		// while; drop the oldest rather than block the shared reader.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- ev:
		default:
		}
	}
	return true
}

// SpecialEventQueue is a per-window view over Present's event stream,
// implementing spec.md §4.9's non-blocking poll and blocking wait.
type SpecialEventQueue struct {
	conn   *Conn
	window uint32
	ch     chan Event
}

// NewSpecialEventQueue registers window's special-event channel,
// matching spec.md §4.4 step 4 ("Register the event mask on the window
// before fetching geometry"): registration must happen before any
// PresentSelectInput call can race a server-side resize. eid is the
// event-context id passed to PresentSelectInput; routeSpecialEvent
// keys on the window XID carried in the event body, not on eid, since
// this codebase always calls PresentSelectInput with eid == window.
func (c *Conn) NewSpecialEventQueue(window uint32, eid uint32) *SpecialEventQueue {
	ch := make(chan Event, 16)
	c.specialMu.Lock()
	c.special[window] = ch
	c.specialMu.Unlock()
	return &SpecialEventQueue{conn: c, window: window, ch: ch}
}

// Close deregisters the queue. Any event that arrives afterward for
// this window is silently dropped by routeSpecialEvent.
func (q *SpecialEventQueue) Close() {
	q.conn.specialMu.Lock()
	delete(q.conn.special, q.window)
	q.conn.specialMu.Unlock()
}

// Poll returns the next pending event without blocking.
func (q *SpecialEventQueue) Poll() (ev Event, ok bool) {
	select {
	case ev, chOpen := <-q.ch:
		return ev, chOpen
	default:
		return Event{}, false
	}
}

// Wait blocks up to timeout for the next event (timeout<=0 means
// block indefinitely). It implements the ~100ms bounded wait of
// spec.md §4.5/§4.9.
func (q *SpecialEventQueue) Wait(timeout time.Duration) (ev Event, ok bool) {
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timeoutCh = t.C
	}
	select {
	case ev, chOpen := <-q.ch:
		return ev, chOpen
	case <-timeoutCh:
		return Event{}, false
	}
}
