package cue

import (
	"fmt"
	"time"
)

// State is the tracker's clock state.
//
//	          Start()            Pause()
//	Stopped ──────────► Playing ─────────► Paused
//	                       ▲                  │
//	                       └──────────────────┘
//	                             Start()
//
// Seek keeps the state and only moves the position.
type State int

const (
	// Stopped means playback never started and there is no position.
	Stopped State = iota
	// Playing means the position follows the wall clock.
	Playing
	// Paused means the position is frozen.
	Paused
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// playhead tracks virtual playback time in wall-clock terms: while playing the
// position is now minus anchor, while paused it is the frozen static value.
type playhead struct {
	state  State
	anchor time.Time
	static time.Duration
}

// play establishes the anchor. From Paused the anchor is moved back by the
// frozen position so elapsed time is continuous across the pause.
func (p *playhead) play(now time.Time) {
	switch p.state {
	case Stopped:
		p.anchor = now
	case Paused:
		p.anchor = now.Add(-p.static)
	default:
		return
	}
	p.state = Playing
}

// elapsed returns the playing position. Past limit the position is clamped
// and the anchor rewritten so later reads stay at limit instead of jumping.
func (p *playhead) elapsed(now time.Time, limit time.Duration) time.Duration {
	pos := now.Sub(p.anchor)
	if pos > limit {
		pos = limit
		p.anchor = now.Add(-limit)
	}
	return pos
}

func (p *playhead) pause(pos time.Duration) {
	p.static = pos
	p.state = Paused
}

// moveTo relocates the position from one value to another without changing
// the state.
func (p *playhead) moveTo(from, to time.Duration) {
	switch p.state {
	case Playing:
		p.anchor = p.anchor.Add(from - to)
	case Paused:
		p.static = to
	}
}

// Snapshot is a point-in-time view of a tracker.
type Snapshot struct {
	State        State
	Position     time.Duration
	HasPosition  bool
	CuePoints    int
	LastReported int
	HasReported  bool
}
