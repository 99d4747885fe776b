package broker

import (
	"sync"
	"time"
)

// ackFlushInterval is the staleness threshold a broker timeout tick uses to
// force-flush an in-progress acknowledgement window (spec.md §4.5.6).
const ackFlushInterval = time.Second

// ackWindow implements the per-client acknowledgement-window throttle: a
// sender gets an ack() callback every `window` published messages, or on the
// first timeout tick at least one second after the window's first publish,
// whichever comes first.
type ackWindow struct {
	mu sync.Mutex

	window       int
	counter      int
	ackInitiated time.Time // zero value means "no cycle in progress"
}

// setWindow configures the batch size. A non-positive value disables
// windowing: onPublish becomes a no-op since counter never reaches zero
// through decrement from a non-positive start.
func (a *ackWindow) setWindow(n int) {
	a.mu.Lock()
	a.window = n
	a.counter = n
	a.ackInitiated = time.Time{}
	a.mu.Unlock()
}

// onPublish runs the per-publish bookkeeping for the sending client. ack is
// invoked synchronously when the window completes.
func (a *ackWindow) onPublish(now time.Time, ack func()) {
	a.mu.Lock()
	if a.counter <= 0 {
		a.mu.Unlock()
		return
	}
	a.counter--
	if a.counter == 0 {
		a.counter = a.window
		a.ackInitiated = time.Time{}
		a.mu.Unlock()
		ack()
		return
	}
	if a.ackInitiated.IsZero() {
		a.ackInitiated = now
	}
	a.mu.Unlock()
}

// flushIfStale forces an ack callback if a window has been open for at
// least ackFlushInterval, as run from Queue.Timeout once per tick.
func (a *ackWindow) flushIfStale(now time.Time, ack func()) {
	a.mu.Lock()
	if a.ackInitiated.IsZero() || now.Sub(a.ackInitiated) < ackFlushInterval {
		a.mu.Unlock()
		return
	}
	a.counter = a.window
	a.ackInitiated = time.Time{}
	a.mu.Unlock()
	ack()
}
