package cue

import (
	"sort"
	"time"
)

// nextUnreported returns the first index not yet announced going forward.
// It reports false when every point has been announced.
func (t *Tracker) nextUnreported() (int, bool) {
	next := t.lastSent + 1
	if next >= len(t.points) {
		return 0, false
	}
	return next, true
}

// forwardRange returns the unannounced points at or before target.
func (t *Tracker) forwardRange(target time.Duration) (first, last int, ok bool) {
	first, ok = t.nextUnreported()
	if !ok {
		return 0, 0, false
	}
	last = sort.Search(len(t.points), func(i int) bool { return t.points[i] > target }) - 1
	if last < first {
		return 0, 0, false
	}
	return first, last, true
}

// backwardRange returns the announced points strictly after target.
func (t *Tracker) backwardRange(target time.Duration) (first, last int, ok bool) {
	if t.lastSent < 0 {
		return 0, 0, false
	}
	last = t.lastSent
	first = sort.Search(last+1, func(i int) bool { return t.points[i] > target })
	if first > last {
		return 0, 0, false
	}
	return first, last, true
}

// firstAfter returns the earliest index at or after start whose point lies
// beyond bound, or the last index when none does.
func (t *Tracker) firstAfter(start int, bound time.Duration) int {
	tail := t.points[start:]
	i := sort.Search(len(tail), func(i int) bool { return tail[i] > bound })
	if i == len(tail) {
		return len(t.points) - 1
	}
	return start + i
}
