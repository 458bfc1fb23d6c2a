// Package scheduler runs at most one delayed callback at a time.
//
// Every ExecuteAfter or Cancel advances a generation counter. A fired
// callback compares the generation it captured with the current one and
// silently returns when they differ, so a superseded callback can never run
// even if its timer could not be stopped in time.
package scheduler

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/philipch07/cuetrack/internal/clock"
)

// Executor schedules a single cancellable callback.
type Executor interface {
	// ExecuteAfter cancels any pending callback, then runs fn once delay has
	// elapsed. A delay <= 0 fires as soon as possible.
	ExecuteAfter(delay time.Duration, fn func())
	// Cancel invalidates the pending callback, if any. It is idempotent.
	Cancel()
}

// Delayed is the clock-backed Executor.
type Delayed struct {
	clock    clock.Clock
	dispatch func(func())

	generation atomic.Uint64

	mu    sync.Mutex
	timer clock.Timer
}

// New returns a Delayed executor. Fired callbacks are handed to dispatch,
// which must run them on the owner's serialized context; the generation check
// runs there too. A nil dispatch runs callbacks on the timer goroutine.
func New(c clock.Clock, dispatch func(func())) *Delayed {
	if c == nil {
		c = clock.Real()
	}
	if dispatch == nil {
		dispatch = func(fn func()) { fn() }
	}
	return &Delayed{clock: c, dispatch: dispatch}
}

// ExecuteAfter implements Executor.
func (d *Delayed) ExecuteAfter(delay time.Duration, fn func()) {
	d.Cancel()

	gen := d.generation.Load()
	if delay < 0 {
		delay = 0
	}

	timer := d.clock.AfterFunc(delay, func() {
		d.dispatch(func() {
			if d.generation.Load() != gen {
				return
			}
			fn()
		})
	})

	d.mu.Lock()
	d.timer = timer
	d.mu.Unlock()
}

// Cancel implements Executor.
func (d *Delayed) Cancel() {
	d.generation.Add(1)

	d.mu.Lock()
	timer := d.timer
	d.timer = nil
	d.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
}

// Generation returns the current generation token.
func (d *Delayed) Generation() uint64 {
	return d.generation.Load()
}

var _ Executor = (*Delayed)(nil)
