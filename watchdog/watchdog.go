// Package watchdog provides a one-shot cancellable delayed action used to
// detect stalled agents.
package watchdog

import (
	"sync"
	"sync/atomic"
	"time"
)

// State of a Watchdog.
type State int32

const (
	Idle State = iota
	Armed
	Cancelled
	Fired
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Cancelled:
		return "cancelled"
	case Fired:
		return "fired"
	}
	return "unknown"
}

// Watchdog runs an action once after a delay unless cancelled first. It is
// one-shot: once armed it can never be re-armed.
type Watchdog struct {
	clock Clock
	state atomic.Int32

	mu    sync.Mutex
	timer Timer
}

// New creates an idle watchdog scheduled on clock. A nil clock uses the
// system clock.
func New(clock Clock) *Watchdog {
	if clock == nil {
		clock = SystemClock()
	}
	return &Watchdog{clock: clock}
}

// Arm schedules fn to run after delay. It returns false if the watchdog was
// already armed, cancelled or fired.
func (w *Watchdog) Arm(delay time.Duration, fn func()) bool {
	if !w.state.CompareAndSwap(int32(Idle), int32(Armed)) {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.timer = w.clock.AfterFunc(delay, func() {
		// cancellation must win any race with the deadline
		if w.state.CompareAndSwap(int32(Armed), int32(Fired)) {
			fn()
		}
	})
	return true
}

// Cancel guarantees fn will not run after Cancel returns unless it had
// already started. It is safe to call at any time and more than once.
func (w *Watchdog) Cancel() {
	if !w.state.CompareAndSwap(int32(Armed), int32(Cancelled)) {
		w.state.CompareAndSwap(int32(Idle), int32(Cancelled))
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

// State returns the current state.
func (w *Watchdog) State() State {
	return State(w.state.Load())
}

// Slot holds at most one live watchdog for an agent.
type Slot struct {
	clock Clock

	mu      sync.Mutex
	current *Watchdog
}

// NewSlot creates an empty slot whose watchdogs use clock.
func NewSlot(clock Clock) *Slot {
	return &Slot{clock: clock}
}

// Rearm cancels the previous watchdog, if any, and arms a new one.
func (s *Slot) Rearm(delay time.Duration, fn func()) *Watchdog {
	w := New(s.clock)

	s.mu.Lock()
	previous := s.current
	s.current = w
	s.mu.Unlock()

	if previous != nil {
		previous.Cancel()
	}
	w.Arm(delay, fn)
	return w
}

// Cancel cancels the live watchdog, if any.
func (s *Slot) Cancel() {
	s.mu.Lock()
	current := s.current
	s.current = nil
	s.mu.Unlock()

	if current != nil {
		current.Cancel()
	}
}

// Current returns the live watchdog or nil.
func (s *Slot) Current() *Watchdog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}
