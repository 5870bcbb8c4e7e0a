package nbody

import "time"

// Timer yields the simulated time slice of each step. A fixed timer always
// returns the step size; otherwise the slice is the wall-clock time since
// the previous call scaled by the step size.
type Timer struct {
	stepSize float32
	fixed    bool
	now      func() time.Time
	last     time.Time
}

func NewTimer(stepSize float32, fixed bool) *Timer {
	return newTimerWithClock(stepSize, fixed, time.Now)
}

func newTimerWithClock(stepSize float32, fixed bool, now func() time.Time) *Timer {
	return &Timer{stepSize: stepSize, fixed: fixed, now: now}
}

// Start marks the reference point of the first wall-clock slice.
func (t *Timer) Start() {
	if !t.fixed {
		t.last = t.now()
	}
}

// Next returns the time slice for the next step.
func (t *Timer) Next() float32 {
	if t.fixed {
		return t.stepSize
	}
	now := t.now()
	diff := now.Sub(t.last)
	t.last = now
	return float32(diff.Seconds()) * t.stepSize
}
