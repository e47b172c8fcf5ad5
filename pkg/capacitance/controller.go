// Package capacitance implements the capacitance measurement mode: it keeps
// the RC oscillator inside a resolvable frequency band by switching the
// reference resistor, and hands every closed window to the host as a raw
// report.
package capacitance

import (
	"fmt"
	"log"

	"github.com/itohio/gocapmeter/pkg/capture"
	"github.com/itohio/gocapmeter/pkg/hal"
	"github.com/itohio/gocapmeter/pkg/report"
)

// Config holds the range controller tunables.
type Config struct {
	Ranges         []Range `yaml:"ranges"`
	MinHz          uint32  `yaml:"min_hz"`
	MaxHz          uint32  `yaml:"max_hz"`
	Hysteresis     uint32  `yaml:"hysteresis"`
	WindowHz       uint16  `yaml:"window_hz"`
	CounterDivider uint16  `yaml:"counter_divider"`
	Debug          bool    `yaml:"debug"`
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		Ranges:         DefaultRanges(),
		MinHz:          500,
		MaxHz:          50000,
		Hysteresis:     3,
		WindowHz:       1,
		CounterDivider: 1,
	}
}

// Validate checks that c describes a usable controller.
func (c Config) Validate() error {
	if _, err := NewRangeTable(c.Ranges); err != nil {
		return err
	}
	if c.MinHz >= c.MaxHz {
		return fmt.Errorf("%w: %d Hz >= %d Hz", ErrBounds, c.MinHz, c.MaxHz)
	}
	if _, err := FrequencySettingFor(c.WindowHz); err != nil {
		return err
	}
	if _, err := CounterDividerIndex(c.CounterDivider); err != nil {
		return err
	}
	return nil
}

// Hardware is the part of the board the controller drives.
type Hardware interface {
	hal.Mux
	hal.Amplifier
	hal.Capture
}

// RangeStep is the range decision taken for one window.
type RangeStep int8

const (
	StepNone RangeStep = 0
	StepUp   RangeStep = 1
	StepDown RangeStep = -1
)

func (s RangeStep) String() string {
	switch s {
	case StepUp:
		return "up"
	case StepDown:
		return "down"
	default:
		return "none"
	}
}

// Result describes one processed window.
type Result struct {
	Window capture.Window
	// EstimateHz is the oscillator frequency estimated from the window.
	EstimateHz uint32
	// Index and Range identify the resistor the window was measured with.
	Index int
	Range Range
	Step  RangeStep
}

// Controller is the capacitance range controller.
type Controller struct {
	hw      Hardware
	acc     *capture.Accumulator
	cal     hal.Calibration
	cfg     Config
	ranges  RangeTable
	setting FrequencySetting

	index     int
	outOfBand uint32
	active    bool

	verbose bool
	sink    func(report.Report)
}

// New creates a controller. acc must be the accumulator fed by hw's capture
// interrupts.
func New(hw Hardware, acc *capture.Accumulator, cal hal.Calibration, cfg Config) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid capacitance config: %w", err)
	}
	ranges, _ := NewRangeTable(cfg.Ranges)
	setting, _ := FrequencySettingFor(cfg.WindowHz)
	return &Controller{
		hw:      hw,
		acc:     acc,
		cal:     cal,
		cfg:     cfg,
		ranges:  ranges,
		setting: setting,
		index:   ranges.Highest(),
	}, nil
}

// OnReport registers the sink receiving reports in verbose mode.
func (c *Controller) OnReport(fn func(report.Report)) {
	c.sink = fn
}

// SetVerbose enables report emission.
func (c *Controller) SetVerbose(v bool) {
	c.verbose = v
}

// Verbose reports whether report emission is enabled.
func (c *Controller) Verbose() bool {
	return c.verbose
}

// Active reports whether the controller has been entered.
func (c *Controller) Active() bool {
	return c.active
}

// Enter zeros the accumulator, selects the largest resistor and starts the
// oscillator and its time base.
func (c *Controller) Enter() {
	c.index = c.ranges.Highest()
	c.outOfBand = 0
	c.acc.Reset(0)

	r, _ := c.ranges.At(c.index)
	c.hw.SetResistorRange(r.ID)
	c.hw.EnableFeedback()
	c.hw.StartCapture(hal.CaptureConfig{
		Divider: c.cfg.CounterDivider,
		Period:  c.setting.Period,
	})
	c.active = true
}

// Exit stops the time base and disconnects the resistor ladder.
func (c *Controller) Exit() {
	if !c.active {
		return
	}
	c.hw.StopCapture()
	c.hw.DisableFeedback()
	c.hw.DisableResistorRange()
	c.active = false
}

// Range returns the selected range.
func (c *Controller) Range() (int, Range) {
	r, _ := c.ranges.At(c.index)
	return c.index, r
}

// SetRange selects range index i and clears the hysteresis count.
func (c *Controller) SetRange(i int) error {
	r, ok := c.ranges.At(i)
	if !ok {
		return fmt.Errorf("%w: %d", ErrRangeIndex, i)
	}
	c.index = i
	c.outOfBand = 0
	if c.active {
		c.hw.SetResistorRange(r.ID)
	}
	return nil
}

// Bounds returns the frequency band valid for range index i.
func (c *Controller) Bounds(i int) (lo, hi uint32) {
	lo, hi = c.cfg.MinHz, c.cfg.MaxHz
	if r, ok := c.ranges.At(i); ok {
		if r.MinHz != 0 {
			lo = r.MinHz
		}
		if r.MaxHz != 0 {
			hi = r.MaxHz
		}
	}
	return lo, hi
}

// Poll processes the latest closed window, if any.
func (c *Controller) Poll() (Result, bool) {
	if !c.active {
		return Result{}, false
	}
	w, ok := c.acc.Take()
	if !ok {
		return Result{}, false
	}

	idx, r := c.Range()
	res := Result{
		Window:     w,
		EstimateHz: w.FrequencyCount << c.setting.Shift,
		Index:      idx,
		Range:      r,
	}
	res.Step = c.selectRange(res.EstimateHz)
	c.acc.ClearConsecutiveOverflows()

	if c.verbose && c.sink != nil {
		c.sink(c.report(w, r))
	}
	return res, true
}

// selectRange applies the hysteresis rule to one frequency estimate.
func (c *Controller) selectRange(hz uint32) RangeStep {
	lo, hi := c.Bounds(c.index)
	var step RangeStep
	switch {
	case hz > hi && c.index < c.ranges.Highest():
		step = StepUp
	case hz < lo && c.index > 0:
		step = StepDown
	default:
		c.outOfBand = 0
		return StepNone
	}

	c.outOfBand++
	if c.outOfBand <= c.cfg.Hysteresis {
		return StepNone
	}
	from := c.index
	c.index += int(step)
	c.outOfBand = 0
	r, _ := c.ranges.At(c.index)
	c.hw.SetResistorRange(r.ID)
	if c.cfg.Debug {
		log.Printf("capacitance: %d Hz, range %d -> %d (%d ohm)", hz, from, c.index, r.Ohms)
	}
	return step
}

func (c *Controller) report(w capture.Window, r Range) report.Report {
	return report.Report{
		CounterDivider:   uint32(c.cfg.CounterDivider),
		FallAccumulated:  w.FallAccumulated,
		FrequencyCount:   w.FrequencyCount,
		ResistorHalfOhms: r.HalfOhms(),
		SecondThreshold:  c.cal.SecondThresholdUp(),
		FirstThreshold:   c.cal.FirstThresholdUp(),
		MeasurementHz:    c.setting.Hz,
	}
}
