// Package session runs one cue tracker on its own goroutine.
//
// The tracker is single-threaded. Session serializes every public call and
// every fired timer onto one owner loop, and turns the tracker's observer
// calls into events for subscribers.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/philipch07/cuetrack/internal/clock"
	"github.com/philipch07/cuetrack/internal/cue"
	"github.com/philipch07/cuetrack/internal/events"
	"github.com/philipch07/cuetrack/internal/scheduler"
)

var ErrClosed = errors.New("session closed")

type Options struct {
	Clock  clock.Clock
	Logger zerolog.Logger
	// MinNotificationInterval is passed to the tracker: zero disables
	// coalescing, negative selects cue.DefaultMinNotificationInterval.
	MinNotificationInterval time.Duration
	EventHistory            int
}

type Session struct {
	id     string
	clock  clock.Clock
	logger zerolog.Logger

	tracker  *cue.Tracker
	executor *scheduler.Delayed
	events   *events.Broadcaster

	ops  chan func()
	done chan struct{}
}

// Status is a point-in-time view of the session.
type Status struct {
	ID string
	cue.Snapshot
	MinNotificationInterval time.Duration
}

// New starts the owner loop. It stops when ctx is cancelled.
func New(ctx context.Context, opts Options) *Session {
	c := opts.Clock
	if c == nil {
		c = clock.Real()
	}

	s := &Session{
		id:     uuid.NewString(),
		clock:  c,
		events: events.NewBroadcaster(opts.EventHistory),
		ops:    make(chan func()),
		done:   make(chan struct{}),
	}
	s.logger = opts.Logger.With().Str("component", "session").Str("session", s.id).Logger()
	s.executor = scheduler.New(c, s.dispatch)
	s.tracker = cue.New(cue.Config{
		Clock:                   c,
		Executor:                s.executor,
		Observer:                s,
		MinNotificationInterval: opts.MinNotificationInterval,
		Logger:                  s.logger,
	})

	go s.run(ctx)
	return s
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer s.events.Close()

	s.logger.Info().Dur("min_interval", s.tracker.MinNotificationInterval()).Msg("session started")
	for {
		select {
		case <-ctx.Done():
			s.executor.Cancel()
			s.logger.Info().Msg("session stopped")
			return
		case fn := <-s.ops:
			fn()
		}
	}
}

// dispatch hands a fired timer callback to the owner loop and waits until it
// has run, so a timer goroutine never races the loop.
func (s *Session) dispatch(fn func()) {
	ran := make(chan struct{})
	select {
	case s.ops <- func() { fn(); close(ran) }:
	case <-s.done:
		return
	}
	<-ran
}

func (s *Session) do(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	select {
	case s.ops <- func() { fn(); close(ran) }:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-ran
	return nil
}

func (s *Session) ID() string { return s.id }

// Events returns the broadcaster every crossing is published to.
func (s *Session) Events() *events.Broadcaster { return s.events }

// Done is closed once the owner loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Start(ctx context.Context) error {
	return s.do(ctx, s.tracker.Start)
}

func (s *Session) Pause(ctx context.Context) error {
	return s.do(ctx, s.tracker.Pause)
}

func (s *Session) Seek(ctx context.Context, to time.Duration) error {
	return s.do(ctx, func() { s.tracker.Seek(to) })
}

func (s *Session) Add(ctx context.Context, points ...time.Duration) error {
	var addErr error
	if err := s.do(ctx, func() { addErr = s.tracker.Add(points...) }); err != nil {
		return err
	}
	return addErr
}

// Position returns the playback position, or false while stopped.
func (s *Session) Position(ctx context.Context) (time.Duration, bool, error) {
	var (
		pos time.Duration
		ok  bool
	)
	err := s.do(ctx, func() { pos, ok = s.tracker.CurrentTime() })
	return pos, ok, err
}

func (s *Session) Status(ctx context.Context) (Status, error) {
	var st Status
	err := s.do(ctx, func() {
		st = Status{
			ID:                      s.id,
			Snapshot:                s.tracker.Snapshot(),
			MinNotificationInterval: s.tracker.MinNotificationInterval(),
		}
	})
	return st, err
}

func (s *Session) Points(ctx context.Context) ([]time.Duration, error) {
	var points []time.Duration
	err := s.do(ctx, func() { points = s.tracker.Points() })
	return points, err
}

// WentThrough implements cue.Observer. It runs on the owner loop.
func (s *Session) WentThrough(indices []int) {
	s.publish(events.WentThrough, indices)
}

// Restored implements cue.Observer. It runs on the owner loop.
func (s *Session) Restored(indices []int) {
	s.publish(events.Restored, indices)
}

func (s *Session) publish(kind events.Kind, indices []int) {
	points := s.tracker.Points()
	values := make([]float64, len(indices))
	for i, idx := range indices {
		values[i] = events.Seconds(points[idx])
	}
	pos, _ := s.tracker.CurrentTime()

	ev := events.Event{
		ID:       uuid.NewString(),
		Kind:     kind,
		Indices:  indices,
		Points:   values,
		Position: events.Seconds(pos),
		At:       s.clock.Now(),
	}

	s.logger.Info().
		Str("kind", string(kind)).
		Ints("indices", indices).
		Dur("position", pos).
		Msg("cue crossing")

	s.events.Publish(ev)
}

var _ cue.Observer = (*Session)(nil)
