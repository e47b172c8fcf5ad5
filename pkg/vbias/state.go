package vbias

import (
	"errors"
	"fmt"
)

var (
	// ErrNotEnabled is returned by Update before Enable.
	ErrNotEnabled = errors.New("bias servo not enabled")
	// ErrQuenchTimeout is returned when the output did not discharge in time.
	ErrQuenchTimeout = errors.New("quench timeout")
	// ErrTransition is returned for a phase change the servo does not allow.
	ErrTransition = errors.New("invalid servo transition")
)

// Source is the active voltage generation path.
type Source uint8

const (
	SourceOff Source = iota
	SourceLDO
	SourceStepUp
)

func (s Source) String() string {
	switch s {
	case SourceLDO:
		return "ldo"
	case SourceStepUp:
		return "step-up"
	default:
		return "off"
	}
}

// Phase is the servo state.
type Phase uint8

const (
	PhaseOff Phase = iota
	PhaseRamping
	PhaseHolding
	PhaseQuenching
)

func (p Phase) String() string {
	switch p {
	case PhaseRamping:
		return "ramping"
	case PhaseHolding:
		return "holding"
	case PhaseQuenching:
		return "quenching"
	default:
		return "off"
	}
}

// transitions[from] is the set of phases reachable from it.
var transitions = [...][]Phase{
	PhaseOff:       {PhaseRamping, PhaseQuenching},
	PhaseRamping:   {PhaseHolding, PhaseQuenching},
	PhaseHolding:   {PhaseRamping, PhaseHolding, PhaseQuenching},
	PhaseQuenching: {PhaseOff},
}

// CanTransition reports whether the servo may move from p to next.
func (p Phase) CanTransition(next Phase) bool {
	if int(p) >= len(transitions) {
		return false
	}
	for _, n := range transitions[p] {
		if n == next {
			return true
		}
	}
	return false
}

// Status tells how an operation ended.
type Status uint8

const (
	// StatusReached means the target was met within the allowed tolerance.
	StatusReached Status = iota
	// StatusUnchanged means the target equals the current request; nothing ran.
	StatusUnchanged
	// StatusClamped means the target was raised to the minimum and then reached.
	StatusClamped
	// StatusSaturated means the DAC hit its limit before the target was met.
	StatusSaturated
	// StatusQuenched means the output discharged below the quench threshold.
	StatusQuenched
	// StatusQuenchTimeout means the discharge did not finish in time.
	StatusQuenchTimeout
)

func (s Status) String() string {
	switch s {
	case StatusReached:
		return "reached"
	case StatusUnchanged:
		return "unchanged"
	case StatusClamped:
		return "clamped"
	case StatusSaturated:
		return "saturated"
	case StatusQuenched:
		return "quenched"
	case StatusQuenchTimeout:
		return "quench-timeout"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// State is a snapshot of the servo.
type State struct {
	RequestedMv uint16
	MeasuredMv  uint16
	DAC         uint16
	Source      Source
	Phase       Phase
}

// Result is the outcome of Enable, Update or Disable. MeasuredMv is the
// achieved voltage and is authoritative over TargetMv.
type Result struct {
	TargetMv   uint16
	MeasuredMv uint16
	DAC        uint16
	Source     Source
	Status     Status
	// Clamped is set when the target was below the minimum, whatever the
	// final status.
	Clamped bool
	Steps   int
}
