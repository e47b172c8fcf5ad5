// Package sim simulates the meter board. Board implements hal.Hardware on
// a virtual clock: delays advance simulated time instead of sleeping, the
// bias node follows a first-order model of the LDO and step-up paths, and a
// running capture raises the same events the timer interrupts deliver on
// the real board.
package sim

import (
	"math/rand"
	"time"

	"github.com/chewxy/math32"

	"github.com/itohio/gocapmeter/pkg/capture"
	"github.com/itohio/gocapmeter/pkg/hal"
)

// Config describes the simulated board and device under test.
type Config struct {
	Seed int64 `yaml:"seed"`

	LdoOffsetMv  float32 `yaml:"ldo_offset_mv"`
	LdoSlopeMv   float32 `yaml:"ldo_slope_mv"`
	LdoRailMv    float32 `yaml:"ldo_rail_mv"`
	StepUpRailMv float32 `yaml:"step_up_rail_mv"`
	BiasTauUs    float32 `yaml:"bias_tau_us"`
	QuenchTauUs  float32 `yaml:"quench_tau_us"`
	IdleTauUs    float32 `yaml:"idle_tau_us"`

	AdcRefMv       float32 `yaml:"adc_ref_mv"`
	AdcNoise       int     `yaml:"adc_noise"`
	ConversionUs   uint32  `yaml:"conversion_us"`
	StabilizeTries int     `yaml:"stabilize_tries"`

	// Stuck keeps the bias node from discharging, as a failed quench path.
	Stuck bool `yaml:"stuck"`

	LeakageOhms float32 `yaml:"leakage_ohms"`
	SenseOhms   float32 `yaml:"sense_ohms"`

	RangeOhms   []float32 `yaml:"range_ohms"`
	Capacitance float32   `yaml:"capacitance"`
	ParasiticF  float32   `yaml:"parasitic"`
	TimerHz     float32   `yaml:"timer_hz"`
	RailCode    float32   `yaml:"rail_code"`
	JitterTicks float32   `yaml:"jitter_ticks"`
}

// DefaultConfig returns a board with a 10 nF device and a 1 GΩ leak.
func DefaultConfig() Config {
	return Config{
		Seed:           1,
		LdoOffsetMv:    16038,
		LdoSlopeMv:     3.7851,
		LdoRailMv:      4900,
		StepUpRailMv:   16500,
		BiasTauUs:      2,
		QuenchTauUs:    1000,
		IdleTauUs:      500000,
		AdcRefMv:       3300,
		AdcNoise:       1,
		ConversionUs:   4,
		StabilizeTries: 8,
		LeakageOhms:    1e9,
		SenseOhms:      1e6,
		RangeOhms:      []float32{270, 1000, 10000, 100000},
		Capacitance:    10e-9,
		ParasiticF:     20e-12,
		TimerHz:        32e6,
		RailCode:       10898,
	}
}

// Board is a simulated meter.
type Board struct {
	cfg Config
	cal *hal.StaticCalibration
	rng *rand.Rand
	now time.Duration

	biasMv float32

	dac        uint16
	dacOn      bool
	ldoOn      bool
	stepUpOn   bool
	quenchOn   bool
	senseOn    bool
	feedbackOn bool

	muxOn bool
	mux   hal.RangeID

	channel hal.Channel
	gain    hal.Gain

	osc oscillator
}

var _ hal.Hardware = (*Board)(nil)

// New creates a board. cal converts between millivolts and ADC codes and
// supplies the comparator thresholds of the oscillator.
func New(cfg Config, cal *hal.StaticCalibration) *Board {
	b := &Board{
		cfg: cfg,
		cal: cal,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}
	b.osc.board = b
	return b
}

// Attach connects the accumulator receiving capture events.
func (b *Board) Attach(acc *capture.Accumulator) {
	b.osc.acc = acc
}

// Polarity reports whether the half-cycle that just ended was rising. It is
// meant as the accumulator's capture.PolarityFunc.
func (b *Board) Polarity() bool {
	return b.osc.rising
}

// Now returns the simulated time since the board was created.
func (b *Board) Now() time.Duration {
	return b.now
}

// BiasMv returns the true bias node voltage.
func (b *Board) BiasMv() float32 {
	return b.biasMv
}

// SetCapacitance changes the device under test.
func (b *Board) SetCapacitance(f float32) {
	b.cfg.Capacitance = f
}

// SetLeakage changes the device under test leakage resistance.
func (b *Board) SetLeakage(ohms float32) {
	b.cfg.LeakageOhms = ohms
}

// SetStuck simulates a failed quench path.
func (b *Board) SetStuck(stuck bool) {
	b.cfg.Stuck = stuck
}

// LDOEnabled reports the LDO enable line.
func (b *Board) LDOEnabled() bool { return b.ldoOn }

// StepUpEnabled reports the step-up enable line.
func (b *Board) StepUpEnabled() bool { return b.stepUpOn }

// QuenchEnabled reports the quench enable line.
func (b *Board) QuenchEnabled() bool { return b.quenchOn }

// DAC returns the last DAC code written.
func (b *Board) DAC() uint16 { return b.dac }

// DACEnabled reports whether the DAC output is driven.
func (b *Board) DACEnabled() bool { return b.dacOn }

// CurrentSenseEnabled reports the sense amplifier enable line.
func (b *Board) CurrentSenseEnabled() bool { return b.senseOn }

// Resistor returns the selected resistor mux setting.
func (b *Board) Resistor() (hal.RangeID, bool) { return b.mux, b.muxOn }

func (b *Board) SetDAC(code uint16) {
	b.dac = code
	b.dacOn = true
}

func (b *Board) DisableDAC() { b.dacOn = false }

func (b *Board) SetResistorRange(id hal.RangeID) {
	b.mux = id
	b.muxOn = true
}

func (b *Board) DisableResistorRange() { b.muxOn = false }

func (b *Board) EnableLDO()     { b.ldoOn = true }
func (b *Board) DisableLDO()    { b.ldoOn = false }
func (b *Board) EnableStepUp()  { b.stepUpOn = true }
func (b *Board) DisableStepUp() { b.stepUpOn = false }
func (b *Board) EnableQuench()  { b.quenchOn = true }
func (b *Board) DisableQuench() { b.quenchOn = false }

func (b *Board) EnableCurrentSense()  { b.senseOn = true }
func (b *Board) DisableCurrentSense() { b.senseOn = false }
func (b *Board) EnableFeedback()      { b.feedbackOn = true }
func (b *Board) DisableFeedback()     { b.feedbackOn = false }

func (b *Board) StartCapture(cfg hal.CaptureConfig) {
	b.osc.start(cfg)
}

func (b *Board) StopCapture() {
	b.osc.stop()
}

func (b *Board) DelayMs(ms uint32) {
	b.Advance(time.Duration(ms) * time.Millisecond)
}

func (b *Board) DelayUs(us uint32) {
	b.Advance(time.Duration(us) * time.Microsecond)
}

// Advance runs the simulation for d.
func (b *Board) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	b.settleBias(d)
	b.osc.advance(d)
	b.now += d
}

// ldoMv returns the steady state output the enabled paths drive toward.
func (b *Board) ldoMv() float32 {
	code := float32(b.dac)
	if !b.dacOn {
		code = 0
	}
	v := b.cfg.LdoOffsetMv - code*b.cfg.LdoSlopeMv
	rail := b.cfg.LdoRailMv
	if b.stepUpOn {
		rail = b.cfg.StepUpRailMv
	}
	return math32.Max(0, math32.Min(v, rail))
}

func (b *Board) settleBias(d time.Duration) {
	var target, tau float32
	switch {
	case b.cfg.Stuck && !b.ldoOn:
		return
	case b.quenchOn:
		target, tau = 0, b.cfg.QuenchTauUs
	case b.ldoOn:
		target, tau = b.ldoMv(), b.cfg.BiasTauUs
	default:
		target, tau = 0, b.cfg.IdleTauUs
	}
	us := float32(d) / float32(time.Microsecond)
	if tau <= 0 {
		b.biasMv = target
		return
	}
	b.biasMv = target + (b.biasMv-target)*math32.Exp(-us/tau)
}
