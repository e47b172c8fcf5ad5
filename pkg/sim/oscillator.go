package sim

import (
	"time"

	"github.com/chewxy/math32"

	"github.com/itohio/gocapmeter/pkg/capture"
	"github.com/itohio/gocapmeter/pkg/hal"
)

// oscillator models the comparator RC oscillator and the three timers
// around it: the pulse capture timer, the edge counter and the window time
// base. Events are delivered straight into the accumulator, in the order
// the interrupts would fire.
type oscillator struct {
	board *Board
	acc   *capture.Accumulator

	running bool
	cfg     hal.CaptureConfig
	window  time.Duration

	untilWindow time.Duration

	inHalf    bool // a half-cycle is in progress
	inRising  bool
	rising    bool // polarity of the half-cycle that just ended
	untilEdge time.Duration
	carryNs   float64 // sub-nanosecond remainder of scheduled half-cycles
	ticks     float32
	counter   uint16
}

func (o *oscillator) start(cfg hal.CaptureConfig) {
	if cfg.Divider == 0 {
		cfg.Divider = 1
	}
	o.running = true
	o.cfg = cfg
	o.window = time.Duration(cfg.Period+1) * time.Second / hal.TimeBaseHz
	o.untilWindow = o.window
	o.inHalf = false
	o.carryNs = 0
	o.counter = 0
}

func (o *oscillator) stop() {
	o.running = false
}

func (o *oscillator) oscillating() bool {
	b := o.board
	if !b.feedbackOn || !b.muxOn || int(b.mux) >= len(b.cfg.RangeOhms) {
		return false
	}
	return b.cfg.Capacitance+b.cfg.ParasiticF > 0
}

// halfCycle returns the duration in seconds of the next half-cycle. The
// comparator charges the capacitor from the first to the second threshold
// toward the rail and discharges it back to the first toward ground.
func (o *oscillator) halfCycle(rising bool) float32 {
	b := o.board
	rc := b.cfg.RangeOhms[b.mux] * (b.cfg.Capacitance + b.cfg.ParasiticF)
	v1 := float32(b.cal.FirstThreshold)
	v2 := float32(b.cal.SecondThreshold)
	if rising {
		top := b.cfg.RailCode
		return rc * math32.Log((top-v1)/(top-v2))
	}
	return rc * math32.Log(v2/v1)
}

// begin schedules the next half-cycle.
func (o *oscillator) begin() {
	t := o.halfCycle(o.inRising)
	o.ticks = t * o.board.cfg.TimerHz / float32(o.cfg.Divider)
	if j := o.board.cfg.JitterTicks; j > 0 {
		o.ticks = math32.Max(1, o.ticks+j*float32(o.board.rng.NormFloat64()))
	}
	ns := float64(t)*float64(time.Second) + o.carryNs
	whole := time.Duration(ns)
	o.carryNs = ns - float64(whole)
	o.untilEdge = max(whole, time.Nanosecond)
	o.inHalf = true
}

// edge ends the half-cycle in progress: the capture timer reports its
// width, after any overflows it took, and a completed cycle advances the
// edge counter.
func (o *oscillator) edge() {
	width := uint32(o.ticks)
	for ; width > 0xFFFF; width -= 0x10000 {
		o.acc.OnCaptureOverflow()
	}
	o.rising = o.inRising
	o.acc.OnPulseCapture(uint16(width))
	if !o.inRising {
		o.counter++
		if o.counter == 0 {
			o.acc.OnCounterOverflow()
		}
	}
	o.inRising = !o.inRising
	o.begin()
}

func (o *oscillator) advance(d time.Duration) {
	if !o.running || o.acc == nil {
		return
	}
	for d > 0 {
		osc := o.oscillating()
		if !osc {
			o.inHalf = false
		} else if !o.inHalf {
			o.begin()
		}

		step := min(d, o.untilWindow)
		if osc {
			step = min(step, o.untilEdge)
		}
		d -= step
		o.untilWindow -= step
		if osc {
			o.untilEdge -= step
			if o.untilEdge <= 0 {
				o.edge()
			}
		}
		if o.untilWindow <= 0 {
			o.acc.OnWindowClose(o.counter)
			o.untilWindow += o.window
		}
	}
}
