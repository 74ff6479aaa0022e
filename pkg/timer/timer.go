package timer

import (
	"errors"
	"time"

	"github.com/zoobzio/clockz"
)

var (
	// ErrTimerAlreadyRunning reports a start on a timer that already
	// left NotStarted. Timers are one-way and cannot be restarted.
	ErrTimerAlreadyRunning = errors.New("timer already running")
	// ErrTimerNotStarted reports a stop on a timer that isn't Running.
	ErrTimerNotStarted = errors.New("timer not started")
)

type state uint8

const (
	notStarted state = iota
	running
	stopped
)

// Timer is a one-way NotStarted -> Running -> Stopped machine with
// nanosecond timestamps. The zero value reads from the real clock.
type Timer struct {
	clock     clockz.Clock
	startTime time.Time
	endTime   time.Time
	state     state
}

// New returns a Timer reading from clk.
func New(clk clockz.Clock) Timer {
	return Timer{clock: clk}
}

// Start moves the timer to Running. A zero at means now.
func (t *Timer) Start(at time.Time) error {
	if t.state != notStarted {
		return ErrTimerAlreadyRunning
	}
	if at.IsZero() {
		at = t.now()
	}
	t.startTime = at
	t.state = running
	return nil
}

// Stop moves the timer to Stopped. A zero at means now.
func (t *Timer) Stop(at time.Time) error {
	if t.state != running {
		return ErrTimerNotStarted
	}
	if at.IsZero() {
		at = t.now()
	}
	t.endTime = at
	t.state = stopped
	return nil
}

// Running reports whether the timer started and hasn't stopped yet.
func (t *Timer) Running() bool {
	return t.state == running
}

// StartTime is zero until the timer starts.
func (t *Timer) StartTime() time.Time {
	return t.startTime
}

// EndTime is zero until the timer stops.
func (t *Timer) EndTime() time.Time {
	return t.endTime
}

// Duration is end minus start once stopped, elapsed-so-far while
// running, and zero before start.
func (t *Timer) Duration() time.Duration {
	switch t.state {
	case running:
		return t.now().Sub(t.startTime)
	case stopped:
		return t.endTime.Sub(t.startTime)
	default:
		return 0
	}
}

func (t *Timer) now() time.Time {
	if t.clock == nil {
		return clockz.RealClock.Now()
	}
	return t.clock.Now()
}
