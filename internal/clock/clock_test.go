package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

func TestFake_AdvanceMovesNow(t *testing.T) {
	f := NewFake(epoch)
	f.Advance(3 * time.Second)
	assert.Equal(t, epoch.Add(3*time.Second), f.Now())
}

func TestFake_FiresInDeadlineOrder(t *testing.T) {
	f := NewFake(epoch)
	var order []string
	var seen []time.Time

	f.AfterFunc(2*time.Second, func() {
		order = append(order, "b")
		seen = append(seen, f.Now())
	})
	f.AfterFunc(time.Second, func() {
		order = append(order, "a")
		seen = append(seen, f.Now())
	})
	f.AfterFunc(5*time.Second, func() { order = append(order, "late") })

	f.Advance(3 * time.Second)

	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, []time.Time{epoch.Add(time.Second), epoch.Add(2 * time.Second)}, seen)
	assert.Equal(t, 1, f.Pending())
	assert.Equal(t, epoch.Add(3*time.Second), f.Now())
}

func TestFake_StopPreventsFiring(t *testing.T) {
	f := NewFake(epoch)
	fired := false
	timer := f.AfterFunc(time.Second, func() { fired = true })

	require.True(t, timer.Stop())
	assert.False(t, timer.Stop())

	f.Advance(time.Minute)
	assert.False(t, fired)
	assert.Equal(t, 0, f.Pending())
}

func TestFake_CallbackSchedulesFollowUp(t *testing.T) {
	f := NewFake(epoch)
	count := 0
	var tick func()
	tick = func() {
		count++
		if count < 3 {
			f.AfterFunc(time.Second, tick)
		}
	}
	f.AfterFunc(time.Second, tick)

	f.Advance(10 * time.Second)
	assert.Equal(t, 3, count)
}

func TestFake_ZeroDelayFiresOnAdvanceZero(t *testing.T) {
	f := NewFake(epoch)
	fired := false
	f.AfterFunc(-time.Second, func() { fired = true })

	f.Advance(0)
	assert.True(t, fired)
	assert.Equal(t, epoch, f.Now())
}

func TestReal_AfterFunc(t *testing.T) {
	done := make(chan struct{})
	Real().AfterFunc(time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("real timer did not fire")
	}
}
