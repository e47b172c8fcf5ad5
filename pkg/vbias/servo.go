// Package vbias drives the bias voltage applied to the device under test.
//
// The output comes from one of two paths. Low voltages use the LDO, whose
// output falls as the DAC code rises. Above the step-up threshold the
// step-up converter feeds the LDO and the same DAC code direction applies.
// The servo walks the DAC one code at a time against an ADC reading until
// the target is met or the DAC reaches its limit.
package vbias

import (
	"fmt"
	"log"

	"github.com/itohio/gocapmeter/pkg/hal"
)

// Sampling is one ADC averaging setting.
type Sampling struct {
	Shift    uint8  `yaml:"shift"`
	PeakPeak uint16 `yaml:"peak_peak"`
}

// Delays are the settle times of the servo.
type Delays struct {
	DecreaseStepUs uint32 `yaml:"decrease_step_us"`
	IncreaseStepUs uint32 `yaml:"increase_step_us"`
	FineSettleMs   uint32 `yaml:"fine_settle_ms"`
	StepUpOffMs    uint32 `yaml:"step_up_off_ms"`
	StepUpOnMs     uint32 `yaml:"step_up_on_ms"`
	ConvergedMs    uint32 `yaml:"converged_ms"`
	SoftStartMs    uint32 `yaml:"soft_start_ms"`
}

// Config holds the servo tunables.
type Config struct {
	DACMax      uint16 `yaml:"dac_max"`
	StartCode   uint16 `yaml:"start_code"`
	MinMv       uint16 `yaml:"min_mv"`
	StepUpMv    uint16 `yaml:"step_up_mv"`
	ApproachMv  uint16 `yaml:"approach_mv"`
	OvershootMv uint16 `yaml:"overshoot_mv"`

	Coarse Sampling `yaml:"coarse"`
	Fine   Sampling `yaml:"fine"`
	Delays Delays   `yaml:"delays"`

	QuenchMv        uint16 `yaml:"quench_mv"`
	QuenchPollMs    uint32 `yaml:"quench_poll_ms"`
	QuenchTimeoutMs uint32 `yaml:"quench_timeout_ms"` // 0 waits forever

	Debug bool `yaml:"debug"`
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		DACMax:      4095,
		StartCode:   4000,
		MinMv:       850,
		StepUpMv:    4500,
		ApproachMv:  300,
		OvershootMv: 20,
		Coarse:      Sampling{Shift: 4, PeakPeak: 10},
		Fine:        Sampling{Shift: 8, PeakPeak: 3},
		Delays: Delays{
			DecreaseStepUs: 20,
			IncreaseStepUs: 10,
			FineSettleMs:   2,
			StepUpOffMs:    1,
			StepUpOnMs:     10,
			ConvergedMs:    10,
			SoftStartMs:    200,
		},
		QuenchMv:        100,
		QuenchPollMs:    1,
		QuenchTimeoutMs: 5000,
	}
}

// Validate checks that c describes a usable servo.
func (c Config) Validate() error {
	if c.DACMax == 0 {
		return fmt.Errorf("invalid servo config: zero dac_max")
	}
	if c.StartCode > c.DACMax {
		return fmt.Errorf("invalid servo config: start_code %d above dac_max %d", c.StartCode, c.DACMax)
	}
	if c.MinMv == 0 {
		return fmt.Errorf("invalid servo config: zero min_mv")
	}
	if c.QuenchPollMs == 0 {
		return fmt.Errorf("invalid servo config: zero quench_poll_ms")
	}
	return nil
}

// Hardware is the part of the board the servo drives.
type Hardware interface {
	hal.ADC
	hal.DAC
	hal.Power
	hal.Clock
}

// Servo is the bias voltage controller.
type Servo struct {
	hw    Hardware
	cal   hal.Calibration
	cfg   Config
	state State
}

// New creates a servo in the Off phase.
func New(hw Hardware, cal hal.Calibration, cfg Config) (*Servo, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Servo{hw: hw, cal: cal, cfg: cfg}, nil
}

// State returns a snapshot of the servo.
func (s *Servo) State() State {
	return s.state
}

// Config returns the servo configuration.
func (s *Servo) Config() Config {
	return s.cfg
}

func (s *Servo) transition(next Phase) error {
	if !s.state.Phase.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrTransition, s.state.Phase, next)
	}
	s.state.Phase = next
	return nil
}

// Enable starts the LDO at the lowest output, lets it soft-start and ramps
// to targetMv.
func (s *Servo) Enable(targetMv uint16) (Result, error) {
	if err := s.transition(PhaseRamping); err != nil {
		return Result{}, err
	}
	s.state.RequestedMv = s.cfg.MinMv - 1
	s.state.MeasuredMv = s.cfg.MinMv
	s.state.DAC = s.cfg.StartCode
	s.state.Source = SourceLDO

	s.hw.DisableQuench()
	s.hw.DisableStepUp()
	s.hw.SetDAC(s.state.DAC)
	s.hw.EnableLDO()
	s.hw.DelayMs(s.cfg.Delays.SoftStartMs)

	targetMv, clamped := s.clamp(targetMv)
	return s.ramp(targetMv, clamped)
}

// Update moves the output to targetMv. Repeating the current request is a
// no-op returning the last measurement.
func (s *Servo) Update(targetMv uint16) (Result, error) {
	switch s.state.Phase {
	case PhaseOff, PhaseQuenching:
		return Result{}, ErrNotEnabled
	}

	targetMv, clamped := s.clamp(targetMv)
	if targetMv == s.state.RequestedMv {
		if err := s.transition(PhaseHolding); err != nil {
			return Result{}, err
		}
		return s.result(targetMv, StatusUnchanged, clamped, 0), nil
	}

	if err := s.transition(PhaseRamping); err != nil {
		return Result{}, err
	}
	return s.ramp(targetMv, clamped)
}

// clamp raises a request below the minimum to the minimum and releases the
// quench path.
func (s *Servo) clamp(targetMv uint16) (uint16, bool) {
	if targetMv >= s.cfg.MinMv {
		return targetMv, false
	}
	s.hw.DisableQuench()
	return s.cfg.MinMv, true
}

// ramp runs the search from the Ramping phase.
func (s *Servo) ramp(targetMv uint16, clamped bool) (Result, error) {
	s.hw.ConfigureChannel(hal.ChannelVbias, 0, true)

	down := targetMv < s.state.RequestedMv
	s.arbitrate(targetMv, down)

	mv, steps, saturated := s.stepSearch(down, targetMv)
	s.hw.DelayMs(s.cfg.Delays.ConvergedMs)

	from := s.state.RequestedMv
	s.state.RequestedMv = targetMv
	s.state.MeasuredMv = mv
	if err := s.transition(PhaseHolding); err != nil {
		return Result{}, err
	}

	status := StatusReached
	switch {
	case saturated:
		status = StatusSaturated
	case clamped:
		status = StatusClamped
	}
	if s.cfg.Debug {
		log.Printf("vbias: %d -> %d mV, measured %d mV, dac %d, %s, %d steps, %s",
			from, targetMv, mv, s.state.DAC, s.state.Source, steps, status)
	}
	return s.result(targetMv, status, clamped, steps), nil
}

// arbitrate switches the step-up converter when the request crosses its
// activation threshold.
func (s *Servo) arbitrate(targetMv uint16, down bool) {
	threshold := s.cfg.StepUpMv
	wasUp := s.state.RequestedMv >= threshold
	switch {
	case down && wasUp && targetMv < threshold:
		s.hw.DisableStepUp()
		s.state.Source = SourceLDO
		s.hw.DelayMs(s.cfg.Delays.StepUpOffMs)
	case !down && !wasUp && targetMv >= threshold:
		s.hw.EnableStepUp()
		s.state.Source = SourceStepUp
		s.hw.DelayMs(s.cfg.Delays.StepUpOnMs)
	}
}

// stepSearch walks the DAC one code at a time. down raises the code, which
// lowers the output. Every search takes at least one step and one sample
// before testing the target, so the result is always a fresh reading. It
// ends when the target is met or the DAC sits at its limit and runs at most
// DACMax+1 times. Once a sample lands inside the approach band the fine
// read is kept for the rest of the search.
func (s *Servo) stepSearch(down bool, targetMv uint16) (mv uint16, steps int, saturated bool) {
	mv = s.state.MeasuredMv
	settle := s.cfg.Delays.IncreaseStepUs
	if down {
		settle = s.cfg.Delays.DecreaseStepUs
	}

	fine := false
	for {
		fine = fine || s.near(down, mv, targetMv)
		if down && s.state.DAC >= s.cfg.DACMax || !down && s.state.DAC == 0 {
			if steps == 0 {
				mv = s.sample(down, fine)
			}
			return mv, steps, !s.reached(down, mv, targetMv)
		}
		if down {
			s.state.DAC++
		} else {
			s.state.DAC--
		}
		s.hw.SetDAC(s.state.DAC)
		s.hw.DelayUs(settle)
		mv = s.sample(down, fine)
		steps++
		if s.reached(down, mv, targetMv) {
			return mv, steps, false
		}
	}
}

func (s *Servo) reached(down bool, mv, targetMv uint16) bool {
	if down {
		return mv <= targetMv
	}
	return int(mv) >= int(targetMv)-int(s.cfg.OvershootMv)
}

// near reports whether mv is inside the approach band of targetMv.
func (s *Servo) near(down bool, mv, targetMv uint16) bool {
	dist := int(targetMv) - int(mv)
	if down {
		dist = -dist
	}
	return dist < int(s.cfg.ApproachMv)
}

// sample reads the output. Far from the target a peak-peak constrained read
// rejects ringing from capacitive loads; close to it the read is slower and
// finer.
func (s *Servo) sample(down, fine bool) uint16 {
	var code uint16
	switch {
	case !fine:
		code = s.hw.SampleStabilized(s.cfg.Coarse.Shift, s.cfg.Coarse.PeakPeak, false)
	case down:
		code = s.hw.SampleStabilized(s.cfg.Fine.Shift, s.cfg.Fine.PeakPeak, false)
	default:
		s.hw.DelayMs(s.cfg.Delays.FineSettleMs)
		code = s.hw.SampleAveraged(s.cfg.Fine.Shift)
	}
	return s.cal.Millivolts(code)
}

// Disable turns both paths and the DAC off and discharges the output
// through the quench path until it reads below QuenchMv.
func (s *Servo) Disable() (Result, error) {
	if err := s.transition(PhaseQuenching); err != nil {
		return Result{}, err
	}
	s.hw.DisableLDO()
	s.hw.DisableStepUp()
	s.hw.DisableDAC()
	s.hw.EnableQuench()
	s.state.Source = SourceOff
	s.hw.ConfigureChannel(hal.ChannelVbias, 0, true)

	var (
		elapsed uint32
		mv      uint16
		status  = StatusQuenched
	)
	for {
		mv = s.cal.Millivolts(s.hw.SampleAveraged(s.cfg.Coarse.Shift))
		if mv < s.cfg.QuenchMv {
			break
		}
		if s.cfg.QuenchTimeoutMs != 0 && elapsed >= s.cfg.QuenchTimeoutMs {
			status = StatusQuenchTimeout
			break
		}
		s.hw.DelayMs(s.cfg.QuenchPollMs)
		elapsed += s.cfg.QuenchPollMs
	}

	s.state.RequestedMv = 0
	s.state.MeasuredMv = mv
	if err := s.transition(PhaseOff); err != nil {
		return Result{}, err
	}
	res := s.result(0, status, false, 0)
	if status == StatusQuenchTimeout {
		// The quench path stays engaged; Enable releases it.
		log.Printf("vbias: quench timeout after %d ms at %d mV", elapsed, mv)
		return res, fmt.Errorf("%w: %d mV after %d ms", ErrQuenchTimeout, mv, elapsed)
	}
	s.hw.DisableQuench()
	if s.cfg.Debug {
		log.Printf("vbias: quenched to %d mV in %d ms", mv, elapsed)
	}
	return res, nil
}

func (s *Servo) result(targetMv uint16, status Status, clamped bool, steps int) Result {
	return Result{
		TargetMv:   targetMv,
		MeasuredMv: s.state.MeasuredMv,
		DAC:        s.state.DAC,
		Source:     s.state.Source,
		Status:     status,
		Clamped:    clamped,
		Steps:      steps,
	}
}
