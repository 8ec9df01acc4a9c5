package rabbit

import (
	"context"
	"sync"
)

// Trigger fires a Tripwire. Cancel may be called any number of times from
// any goroutine; only the first call has an effect.
type Trigger struct {
	once sync.Once
	done chan struct{}
}

// Tripwire observes a Trigger. It is a small value and can be copied freely.
// The zero Tripwire never fires.
type Tripwire struct {
	done <-chan struct{}
}

// NewTripwire returns a connected Trigger and Tripwire.
func NewTripwire() (*Trigger, Tripwire) {
	done := make(chan struct{})
	return &Trigger{done: done}, Tripwire{done: done}
}

// Cancel fires the tripwire.
func (t *Trigger) Cancel() {
	t.once.Do(func() {
		close(t.done)
	})
}

// Done is closed once the tripwire fires.
func (w Tripwire) Done() <-chan struct{} {
	return w.done
}

// Fired reports whether the tripwire has fired, without blocking.
func (w Tripwire) Fired() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// Context returns a child of parent that is cancelled when the tripwire
// fires.
func (w Tripwire) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	if w.done == nil {
		return ctx, cancel
	}
	go func() {
		select {
		case <-w.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
