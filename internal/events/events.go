// Package events carries cue crossings from the session to its subscribers.
package events

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

type Kind string

const (
	WentThrough Kind = "went_through"
	Restored    Kind = "restored"
)

// Event is one observer notification. Points and Position are in seconds.
type Event struct {
	ID       string    `json:"id"`
	Kind     Kind      `json:"kind"`
	Indices  []int     `json:"indices"`
	Points   []float64 `json:"points"`
	Position float64   `json:"position"`
	At       time.Time `json:"at"`
}

const (
	DefaultHistory   = 32
	clientBufferSize = 64
)

// Broadcaster fans events out to subscribers and keeps the most recent ones
// for late joiners. A client whose buffer is full is dropped rather than
// allowed to stall the publisher.
type Broadcaster struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	closed     bool
	dropCnt    uint64
	recent     []Event
	maxRecent  int
	bufferSize int
}

// Client is a subscription. C is closed when the client is removed, dropped
// or the broadcaster shuts down.
type Client struct {
	C  <-chan Event
	ch chan Event
}

func NewBroadcaster(history int) *Broadcaster {
	if history < 0 {
		history = 0
	}
	return &Broadcaster{
		clients:    make(map[*Client]struct{}),
		maxRecent:  history,
		bufferSize: clientBufferSize,
	}
}

func (b *Broadcaster) AddClient() *Client {
	ch := make(chan Event, b.bufferSize)
	c := &Client{C: ch, ch: ch}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(c.ch)
		return c
	}
	b.clients[c] = struct{}{}
	return c
}

func (b *Broadcaster) RemoveClient(c *Client) {
	if c == nil {
		return
	}
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.ch)
	}
	b.mu.Unlock()
}

// Snapshot returns the retained events, oldest first.
func (b *Broadcaster) Snapshot() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed || len(b.recent) == 0 {
		return nil
	}
	return append([]Event(nil), b.recent...)
}

// Publish delivers ev to every client without blocking.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.appendRecentLocked(ev)

	for c := range b.clients {
		select {
		case c.ch <- ev:
		default:
			delete(b.clients, c)
			close(c.ch)
			atomic.AddUint64(&b.dropCnt, 1)
		}
	}
}

func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for c := range b.clients {
		delete(b.clients, c)
		close(c.ch)
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// DropCount returns how many clients were dropped for falling behind.
func (b *Broadcaster) DropCount() uint64 {
	return atomic.LoadUint64(&b.dropCnt)
}

func (b *Broadcaster) appendRecentLocked(ev Event) {
	if b.maxRecent <= 0 {
		return
	}
	b.recent = append(b.recent, ev)
	if over := len(b.recent) - b.maxRecent; over > 0 {
		b.recent = append(b.recent[:0:0], b.recent[over:]...)
	}
}

// Seconds converts a duration to the float seconds used on the wire.
func Seconds(d time.Duration) float64 {
	return d.Seconds()
}

// Duration converts wire seconds back to a duration. Values beyond the
// duration range saturate and NaN maps to zero.
func Duration(seconds float64) time.Duration {
	ns := seconds * float64(time.Second)
	switch {
	case math.IsNaN(ns):
		return 0
	case ns >= math.MaxInt64:
		return math.MaxInt64
	case ns <= math.MinInt64:
		return math.MinInt64
	}
	return time.Duration(math.Round(ns))
}
