package capture

import "time"

// TimeBase closes windows from a polled clock on boards without a hardware
// time base timer. Windows follow each other back to back so no edges fall
// between two of them.
type TimeBase struct {
	acc     *Accumulator
	period  time.Duration
	start   time.Time
	running bool
}

// NewTimeBase creates a TimeBase closing windows on acc.
func NewTimeBase(acc *Accumulator) *TimeBase {
	return &TimeBase{acc: acc}
}

// Start begins the first window at now.
func (t *TimeBase) Start(now time.Time, period time.Duration) {
	t.period = period
	t.start = now
	t.running = period > 0
}

func (t *TimeBase) Stop() { t.running = false }

// Poll closes the current window once its period elapsed, with raw as the
// edge counter value. A poll that arrives a whole period or more late
// cannot tell which edges belong to which window, so the overdue window is
// dropped and a new one starts at now.
func (t *TimeBase) Poll(now time.Time, raw uint16) bool {
	if !t.running {
		return false
	}
	elapsed := now.Sub(t.start)
	switch {
	case elapsed < t.period:
		return false
	case elapsed >= 2*t.period:
		t.start = now
		t.acc.Restart(raw)
		return false
	}
	t.start = t.start.Add(t.period)
	t.acc.OnWindowClose(raw)
	return true
}
