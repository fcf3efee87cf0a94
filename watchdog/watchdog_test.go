package watchdog

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchdog_FiresAfterDelay(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	w := New(clock)

	var fired atomic.Int32
	require.True(t, w.Arm(time.Minute, func() { fired.Add(1) }))
	assert.Equal(t, Armed, w.State())

	clock.Advance(59 * time.Second)
	assert.Equal(t, int32(0), fired.Load())

	clock.Advance(time.Second)
	assert.Equal(t, int32(1), fired.Load())
	assert.Equal(t, Fired, w.State())
}

func TestWatchdog_CancelledNeverFires(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	w := New(clock)

	var fired atomic.Int32
	w.Arm(time.Second, func() { fired.Add(1) })
	w.Cancel()
	w.Cancel()

	clock.Advance(time.Hour)
	assert.Equal(t, int32(0), fired.Load())
	assert.Equal(t, Cancelled, w.State())
	assert.Equal(t, 0, clock.Pending())
}

func TestWatchdog_OneShot(t *testing.T) {
	w := New(NewManualClock(time.Unix(0, 0)))
	require.True(t, w.Arm(time.Second, func() {}))
	assert.False(t, w.Arm(time.Second, func() {}))

	idle := New(nil)
	idle.Cancel()
	assert.False(t, idle.Arm(time.Second, func() {}))
}

func TestWatchdog_CancelWinsRaceWithDeadline(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	w := New(clock)

	var fired atomic.Int32
	w.Arm(time.Second, func() { fired.Add(1) })

	// deadline reached, timer callback captured but not yet run
	timer := clock.timers[0]
	w.Cancel()
	timer.f()

	assert.Equal(t, int32(0), fired.Load())
}

func TestSlot_RearmInvalidatesPrevious(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	slot := NewSlot(clock)

	var first, second atomic.Int32
	w1 := slot.Rearm(10*time.Second, func() { first.Add(1) })
	clock.Advance(5 * time.Second)
	w2 := slot.Rearm(10*time.Second, func() { second.Add(1) })

	assert.Equal(t, Cancelled, w1.State())
	assert.Same(t, w2, slot.Current())

	clock.Advance(6 * time.Second)
	assert.Equal(t, int32(0), first.Load())
	assert.Equal(t, int32(0), second.Load())

	clock.Advance(4 * time.Second)
	assert.Equal(t, int32(1), second.Load())

	slot.Cancel()
	assert.Nil(t, slot.Current())
}

func TestWatchdog_SystemClock(t *testing.T) {
	w := New(nil)
	done := make(chan struct{})
	w.Arm(10*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watchdog did not fire")
	}
	assert.Equal(t, Fired, w.State())
}
