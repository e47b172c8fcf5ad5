// Package instrument is the meter's foreground loop. It owns the
// measurement modes and the bias servo, dispatches host commands and runs
// the range controller once per iteration.
package instrument

import (
	"errors"
	"fmt"
	"log"

	"github.com/itohio/gocapmeter/pkg/capacitance"
	"github.com/itohio/gocapmeter/pkg/capture"
	"github.com/itohio/gocapmeter/pkg/command"
	"github.com/itohio/gocapmeter/pkg/current"
	"github.com/itohio/gocapmeter/pkg/hal"
	"github.com/itohio/gocapmeter/pkg/report"
	"github.com/itohio/gocapmeter/pkg/vbias"
)

// Version is reported by the VER command.
const Version = "0.3.0"

// Mode is the active measurement mode.
type Mode uint8

const (
	ModeIdle Mode = iota
	ModeCapacitance
	ModeCurrent
)

func (m Mode) String() string {
	switch m {
	case ModeCapacitance:
		return "capacitance"
	case ModeCurrent:
		return "current"
	default:
		return "idle"
	}
}

// Config groups the engine configuration.
type Config struct {
	Capacitance capacitance.Config `yaml:"capacitance"`
	Servo       vbias.Config       `yaml:"servo"`
	Current     current.Config     `yaml:"current"`
}

// DefaultConfig returns the tuned defaults of every engine part.
func DefaultConfig() Config {
	return Config{
		Capacitance: capacitance.DefaultConfig(),
		Servo:       vbias.DefaultConfig(),
		Current:     current.DefaultConfig(),
	}
}

// Instrument is the meter.
type Instrument struct {
	cfg   Config
	acc   *capture.Accumulator
	cap   *capacitance.Controller
	cur   *current.Mode
	servo *vbias.Servo
	mode  Mode
}

// New wires the engine over hw. acc must be the accumulator hw delivers
// capture events to.
func New(hw hal.Hardware, acc *capture.Accumulator, cal hal.Calibration, cfg Config) (*Instrument, error) {
	c, err := capacitance.New(hw, acc, cal, cfg.Capacitance)
	if err != nil {
		return nil, err
	}
	s, err := vbias.New(hw, cal, cfg.Servo)
	if err != nil {
		return nil, err
	}
	return &Instrument{
		cfg:   cfg,
		acc:   acc,
		cap:   c,
		cur:   current.New(hw),
		servo: s,
	}, nil
}

// OnReport registers the sink receiving capacitance reports.
func (i *Instrument) OnReport(fn func(report.Report)) {
	i.cap.OnReport(fn)
}

// Mode returns the active measurement mode.
func (i *Instrument) Mode() Mode {
	return i.mode
}

// Bias returns the servo state.
func (i *Instrument) Bias() vbias.State {
	return i.servo.State()
}

// Range returns the selected resistor range.
func (i *Instrument) Range() (int, capacitance.Range) {
	return i.cap.Range()
}

// CaptureErrors returns the accumulator error counters.
func (i *Instrument) CaptureErrors() capture.Errors {
	return i.acc.Errors()
}

// Poll runs one foreground iteration.
func (i *Instrument) Poll() (capacitance.Result, bool) {
	if i.mode != ModeCapacitance {
		return capacitance.Result{}, false
	}
	return i.cap.Poll()
}

// HandleLine parses and executes one command line.
func (i *Instrument) HandleLine(line string) command.Reply {
	c, err := command.Parse(line)
	if err != nil {
		return command.Err(err)
	}
	return i.Handle(c)
}

// Handle executes one command.
func (i *Instrument) Handle(c command.Command) command.Reply {
	switch c.Op {
	case command.OpPing:
		return command.OK(c.Op)
	case command.OpVersion:
		return command.OK(c.Op, Version)
	case command.OpBias:
		return i.bias(c.Mv)
	case command.OpQuench:
		return i.quench()
	case command.OpCapacitance:
		i.enter(ModeCapacitance, 0)
		i.cap.SetVerbose(c.Verbose)
		return command.OK(c.Op)
	case command.OpCurrent:
		g, shift := hal.Gain(c.Gain), c.Shift
		if c.Defaults {
			g, shift = i.cfg.Current.Gain, i.cfg.Current.Shift
		}
		i.enter(ModeCurrent, g)
		code := i.cur.Measure(shift)
		return command.OK(c.Op, command.Uint(uint64(code)))
	case command.OpRange:
		if err := i.cap.SetRange(int(c.Range)); err != nil {
			return command.Err(err)
		}
		return command.OK(c.Op, command.Uint(uint64(c.Range)))
	case command.OpStatus:
		return i.status()
	case command.OpIdle:
		i.enter(ModeIdle, 0)
		return command.OK(c.Op)
	default:
		return command.Err(fmt.Errorf("%w: %d", command.ErrUnknownCommand, c.Op))
	}
}

// enter switches the measurement mode. Entering capacitance mode restarts
// the window sequence; entering current mode keeps the amplifier up when
// only the gain changes.
func (i *Instrument) enter(m Mode, g hal.Gain) {
	switch m {
	case ModeCapacitance:
		i.cur.Exit()
		i.cap.Enter()
	case ModeCurrent:
		i.cap.Exit()
		if !i.cur.Active() || i.cur.Gain() != g {
			i.cur.Enter(g)
		}
	default:
		i.cap.Exit()
		i.cur.Exit()
	}
	i.mode = m
}

func (i *Instrument) bias(mv uint16) command.Reply {
	var (
		res vbias.Result
		err error
	)
	if i.servo.State().Phase == vbias.PhaseOff {
		res, err = i.servo.Enable(mv)
	} else {
		res, err = i.servo.Update(mv)
	}
	if err != nil {
		return command.Err(err)
	}
	return command.OK(command.OpBias, res.Status.String(), command.Uint(uint64(res.MeasuredMv)))
}

func (i *Instrument) quench() command.Reply {
	res, err := i.servo.Disable()
	if err != nil && !errors.Is(err, vbias.ErrQuenchTimeout) {
		return command.Err(err)
	}
	if err != nil {
		log.Printf("instrument: %v", err)
	}
	return command.OK(command.OpQuench, res.Status.String(), command.Uint(uint64(res.MeasuredMv)))
}

func (i *Instrument) status() command.Reply {
	st := i.servo.State()
	idx, _ := i.cap.Range()
	return command.OK(command.OpStatus,
		i.mode.String(),
		st.Phase.String(),
		st.Source.String(),
		command.Uint(uint64(st.RequestedMv)),
		command.Uint(uint64(st.MeasuredMv)),
		command.Uint(uint64(idx)),
	)
}
