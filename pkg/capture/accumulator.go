// Package capture accumulates oscillator pulse statistics from interrupt
// context and hands one closed sampling window at a time to the foreground.
//
// Three interrupt sources feed an Accumulator:
//
//   - OnPulseCapture: one measured oscillator half-cycle
//   - OnCaptureOverflow: the pulse timer wrapped without a capture
//   - OnWindowClose: the fixed time base closed the current window
//
// plus OnCounterOverflow for the free-running edge counter. Each handler runs
// inside its own critical section; the foreground only ever sees whole
// windows through Take.
package capture

// Window is one closed sampling window.
type Window struct {
	// Seq increases by one for every closed window since the last Reset.
	Seq uint32

	RiseAccumulated uint32 // summed widths of rising half-cycles (timer ticks)
	FallAccumulated uint32 // summed widths of falling half-cycles (timer ticks)
	RisePulses      uint32
	FallPulses      uint32

	// FrequencyCount is the number of oscillator edges counted across the
	// window, corrected for counter wraparound.
	FrequencyCount uint32
}

// Errors is a snapshot of the capture error state.
type Errors struct {
	Overflow             bool   // next captured pulse will be discarded
	ConsecutiveOverflows uint32 // overflows since the foreground last cleared the count
	Discarded            uint32 // pulses dropped because they followed an overflow
	Overruns             uint32 // windows replaced before the foreground read them
}

// PolarityFunc reports the comparator output level at capture time.
// true means the half-cycle that just ended was rising.
type PolarityFunc func() bool

// Accumulator is the interrupt-shared measurement state.
type Accumulator struct {
	polarity PolarityFunc

	riseAcc    uint32
	fallAcc    uint32
	risePulses uint32
	fallPulses uint32

	overflow             bool
	consecutiveOverflows uint32
	discarded            uint32

	counterOverflows uint32
	lastRaw          uint16
	seq              uint32

	box mailbox
}

// New creates an Accumulator sampling polarity through p.
func New(p PolarityFunc) *Accumulator {
	if p == nil {
		p = func() bool { return false }
	}
	return &Accumulator{polarity: p}
}

// Reset zeros all accumulators, error tracking and the mailbox. raw is the
// frequency counter value at the moment measurement starts.
func (a *Accumulator) Reset(raw uint16) {
	s := disableInterrupts()
	a.riseAcc, a.fallAcc = 0, 0
	a.risePulses, a.fallPulses = 0, 0
	a.overflow = false
	a.consecutiveOverflows = 0
	a.discarded = 0
	a.counterOverflows = 0
	a.lastRaw = raw
	a.seq = 0
	a.box.reset()
	restoreInterrupts(s)
}

// Restart drops the window in progress and starts a new one with raw as
// its edge counter baseline. Closed windows and the sequence survive.
func (a *Accumulator) Restart(raw uint16) {
	s := disableInterrupts()
	a.riseAcc, a.fallAcc = 0, 0
	a.risePulses, a.fallPulses = 0, 0
	a.overflow = false
	a.counterOverflows = 0
	a.lastRaw = raw
	restoreInterrupts(s)
}

// OnPulseCapture records one half-cycle of width timer ticks. A pulse that
// follows a capture overflow is discarded and clears the overflow flag.
func (a *Accumulator) OnPulseCapture(width uint16) {
	s := disableInterrupts()
	if a.overflow {
		a.overflow = false
		a.discarded++
		restoreInterrupts(s)
		return
	}
	if a.polarity() {
		a.riseAcc += uint32(width)
		a.risePulses++
	} else {
		a.fallAcc += uint32(width)
		a.fallPulses++
	}
	restoreInterrupts(s)
}

// OnCaptureOverflow marks the pulse in progress as too long to represent.
func (a *Accumulator) OnCaptureOverflow() {
	s := disableInterrupts()
	a.overflow = true
	a.consecutiveOverflows++
	restoreInterrupts(s)
}

// OnCounterOverflow records a wrap of the 16-bit edge counter.
func (a *Accumulator) OnCounterOverflow() {
	s := disableInterrupts()
	a.counterOverflows++
	restoreInterrupts(s)
}

// OnWindowClose latches the current window with raw as the captured edge
// counter value, resets the current accumulators and posts the window.
func (a *Accumulator) OnWindowClose(raw uint16) {
	s := disableInterrupts()
	w := Window{
		RiseAccumulated: a.riseAcc,
		FallAccumulated: a.fallAcc,
		RisePulses:      a.risePulses,
		FallPulses:      a.fallPulses,
		FrequencyCount:  frequencyCount(a.lastRaw, raw, a.counterOverflows),
	}
	a.seq++
	w.Seq = a.seq

	a.lastRaw = raw
	a.riseAcc, a.fallAcc = 0, 0
	a.risePulses, a.fallPulses = 0, 0
	a.counterOverflows = 0

	a.box.post(w)
	restoreInterrupts(s)
}

// Take returns the latest closed window if the foreground has not read it
// yet. Each window is returned at most once.
func (a *Accumulator) Take() (Window, bool) {
	s := disableInterrupts()
	w, ok := a.box.take()
	restoreInterrupts(s)
	return w, ok
}

// Ready reports whether an unread window is waiting.
func (a *Accumulator) Ready() bool {
	s := disableInterrupts()
	ok := a.box.full
	restoreInterrupts(s)
	return ok
}

// Errors returns a snapshot of the capture error state.
func (a *Accumulator) Errors() Errors {
	s := disableInterrupts()
	e := Errors{
		Overflow:             a.overflow,
		ConsecutiveOverflows: a.consecutiveOverflows,
		Discarded:            a.discarded,
		Overruns:             a.box.overrun,
	}
	restoreInterrupts(s)
	return e
}

// ClearConsecutiveOverflows resets the consecutive overflow count. The
// foreground calls it whenever a window closes, since that proves the
// capture path is alive.
func (a *Accumulator) ClearConsecutiveOverflows() {
	s := disableInterrupts()
	a.consecutiveOverflows = 0
	restoreInterrupts(s)
}

// frequencyCount returns the number of counts between two raw captures of a
// 16-bit counter. Reported overflows give whole wraps; a raw value below the
// previous one means one of those wraps is already part of the difference.
// With no overflow reported, a smaller raw value is taken as a single wrap.
func frequencyCount(last, raw uint16, overflows uint32) uint32 {
	delta := uint32(raw - last)
	if raw < last && overflows > 0 {
		overflows--
	}
	return overflows<<16 + delta
}
