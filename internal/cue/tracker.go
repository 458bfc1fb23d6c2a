// Package cue tracks a virtual playback clock against an ordered list of cue
// points and reports which points the clock crosses.
//
// Moving forward (natural playback or a forward seek) reports points as
// "went through"; a backward seek reports previously announced points as
// "restored". A cursor holding the highest announced index guarantees that
// a point is never announced twice going forward and that only announced
// points are ever restored.
//
// A Tracker is not safe for concurrent use. All calls, including the
// delayed callbacks its Executor delivers, must run on one serialized
// context; see the session package for the owner loop that does this.
package cue

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/philipch07/cuetrack/internal/clock"
	"github.com/philipch07/cuetrack/internal/scheduler"
)

// DefaultMinNotificationInterval is the default debounce gap between
// went-through notifications during playback.
const DefaultMinNotificationInterval = 500 * time.Millisecond

var (
	ErrNegativePoint  = errors.New("cue point is negative")
	ErrUnsortedPoints = errors.New("cue points are not in non-decreasing order")
)

// Observer receives crossing notifications. Indices are ascending and
// contiguous, and refer to the cue list as it was when the call was made.
type Observer interface {
	WentThrough(indices []int)
	Restored(indices []int)
}

// ObserverFuncs adapts a pair of functions to Observer. Nil fields are
// ignored.
type ObserverFuncs struct {
	OnWentThrough func(indices []int)
	OnRestored    func(indices []int)
}

func (o ObserverFuncs) WentThrough(indices []int) {
	if o.OnWentThrough != nil {
		o.OnWentThrough(indices)
	}
}

func (o ObserverFuncs) Restored(indices []int) {
	if o.OnRestored != nil {
		o.OnRestored(indices)
	}
}

type Config struct {
	Clock clock.Clock
	// Executor delivers the delayed wait callbacks. It must run them on the
	// same serialized context as every other Tracker call. When nil, callbacks
	// run on the clock's timer goroutine, which is only safe with clock.Fake
	// driven from the caller's goroutine.
	Executor scheduler.Executor
	Observer Observer

	// MinNotificationInterval coalesces points closer than this to the
	// current position into a later notification. Zero disables coalescing;
	// a negative value selects DefaultMinNotificationInterval.
	MinNotificationInterval time.Duration

	Logger zerolog.Logger
}

// Tracker owns the playback clock, the cue list and the last reported index.
type Tracker struct {
	clock       clock.Clock
	executor    scheduler.Executor
	observer    Observer
	minInterval time.Duration
	logger      zerolog.Logger

	points []time.Duration
	head   playhead

	// lastSent is the highest index reported while moving forward, -1 if none.
	lastSent int
}

// New returns a stopped Tracker with no cue points. A nil Clock uses the
// real clock and a nil Executor schedules directly on that clock.
func New(cfg Config) *Tracker {
	c := cfg.Clock
	if c == nil {
		c = clock.Real()
	}
	executor := cfg.Executor
	if executor == nil {
		executor = scheduler.New(c, nil)
	}
	observer := cfg.Observer
	if observer == nil {
		observer = ObserverFuncs{}
	}
	minInterval := cfg.MinNotificationInterval
	if minInterval < 0 {
		minInterval = DefaultMinNotificationInterval
	}

	return &Tracker{
		clock:       c,
		executor:    executor,
		observer:    observer,
		minInterval: minInterval,
		logger:      cfg.Logger,
		lastSent:    -1,
	}
}

// Add appends points to the cue list. Points must be non-negative and keep
// the list in non-decreasing order; otherwise nothing is appended.
//
// While playing, the pending wait is re-armed so appended points are
// announced during the current pass.
func (t *Tracker) Add(points ...time.Duration) error {
	prev, hasPrev := t.lastPoint()
	for i, p := range points {
		if p < 0 {
			return fmt.Errorf("point %d (%s): %w", i, p, ErrNegativePoint)
		}
		if hasPrev && p < prev {
			return fmt.Errorf("point %d (%s) after %s: %w", i, p, prev, ErrUnsortedPoints)
		}
		prev, hasPrev = p, true
	}
	if len(points) == 0 {
		return nil
	}

	playing := t.head.state == Playing
	if playing {
		// Pin the clamp against the old last point before the limit moves.
		t.CurrentTime()
	}
	t.points = append(t.points, points...)

	t.logger.Debug().Int("added", len(points)).Int("total", len(t.points)).Msg("cue points added")

	if playing {
		t.waitForNextPoint()
	}
	return nil
}

// CurrentTime returns the playback position, or false while stopped. While
// playing, a position past the last cue point is clamped to it.
func (t *Tracker) CurrentTime() (time.Duration, bool) {
	switch t.head.state {
	case Stopped:
		return 0, false
	case Paused:
		return t.head.static, true
	}

	last, _ := t.lastPoint()
	return t.head.elapsed(t.clock.Now(), last), true
}

// Start begins or resumes playback. It does nothing when there are no cue
// points or playback is already running.
func (t *Tracker) Start() {
	if len(t.points) == 0 || t.head.state == Playing {
		return
	}

	t.head.play(t.clock.Now())
	pos, _ := t.CurrentTime()
	t.logger.Debug().Dur("position", pos).Msg("playback started")

	t.waitForNextPoint()
}

// Pause freezes the position and cancels the pending wait.
func (t *Tracker) Pause() {
	t.executor.Cancel()
	if t.head.state != Playing {
		return
	}

	pos, _ := t.CurrentTime()
	t.head.pause(pos)
	t.logger.Debug().Dur("position", pos).Msg("playback paused")
}

// Seek jumps to the given position, clamped to [0, last cue point], and
// reports the points crossed on the way. Seeking while stopped, or to the
// current position, does nothing.
func (t *Tracker) Seek(to time.Duration) {
	target := t.clampTarget(to)

	current, ok := t.CurrentTime()
	if !ok || current == target {
		return
	}

	t.executor.Cancel()
	t.head.moveTo(current, target)

	t.logger.Debug().Dur("from", current).Dur("to", target).Msg("seek")

	if target > current {
		if first, last, ok := t.forwardRange(target); ok {
			t.reportWentThrough(first, last)
		}
	} else {
		if first, last, ok := t.backwardRange(target); ok {
			t.reportRestored(first, last)
		}
	}

	if t.head.state == Playing {
		t.waitForNextPoint()
	}
}

// State returns the clock state.
func (t *Tracker) State() State {
	return t.head.state
}

// Points returns a copy of the cue list.
func (t *Tracker) Points() []time.Duration {
	out := make([]time.Duration, len(t.points))
	copy(out, t.points)
	return out
}

// LastReported returns the highest index announced while moving forward.
func (t *Tracker) LastReported() (int, bool) {
	if t.lastSent < 0 {
		return 0, false
	}
	return t.lastSent, true
}

// MinNotificationInterval returns the configured debounce gap.
func (t *Tracker) MinNotificationInterval() time.Duration {
	return t.minInterval
}

// Snapshot returns the tracker's current view.
func (t *Tracker) Snapshot() Snapshot {
	pos, hasPos := t.CurrentTime()
	last, hasLast := t.LastReported()
	return Snapshot{
		State:        t.head.state,
		Position:     pos,
		HasPosition:  hasPos,
		CuePoints:    len(t.points),
		LastReported: last,
		HasReported:  hasLast,
	}
}

// waitForNextPoint schedules the next went-through notification. Each firing
// reports the batch and calls back in here as a fresh timer step, so long
// sessions never grow the stack.
func (t *Tracker) waitForNextPoint() {
	now, ok := t.CurrentTime()
	if !ok {
		return
	}
	start, ok := t.nextUnreported()
	if !ok {
		return
	}

	next := t.firstAfter(start, now+t.minInterval)
	delay := t.points[next] - now

	t.executor.ExecuteAfter(delay, func() {
		t.reportWentThrough(start, next)
		t.waitForNextPoint()
	})
}

func (t *Tracker) reportWentThrough(first, last int) {
	t.lastSent = last
	t.observer.WentThrough(span(first, last))
}

func (t *Tracker) reportRestored(first, last int) {
	t.lastSent = first - 1
	t.observer.Restored(span(first, last))
}

func (t *Tracker) lastPoint() (time.Duration, bool) {
	if len(t.points) == 0 {
		return 0, false
	}
	return t.points[len(t.points)-1], true
}

func (t *Tracker) clampTarget(to time.Duration) time.Duration {
	if last, ok := t.lastPoint(); ok && to > last {
		return last
	}
	if to < 0 {
		return 0
	}
	return to
}

func span(first, last int) []int {
	out := make([]int, 0, last-first+1)
	for i := first; i <= last; i++ {
		out = append(out, i)
	}
	return out
}
