// Package command is the host link line protocol. The host sends one
// command per line and the meter answers each with one reply line:
//
//	P                 ping              OK P
//	VER               firmware version  OK VER <version>
//	B <mv>            set bias          OK B <status> <measured mv>
//	Q                 quench bias       OK Q <status> <measured mv>
//	C [0|1]           capacitance mode  OK C
//	I <gain> <shift>  current reading   OK I <code>
//	R <index>         select range      OK R <index>
//	S                 status            OK S <mode> <phase> <source> <requested mv> <measured mv> <range>
//	X                 idle              OK X
//
// Failures answer ERR <text>. Capacitance reports are interleaved as SYNC
// blocks (see package report) and never start with OK or ERR.
package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrEmpty          = errors.New("empty command")
	ErrUnknownCommand = errors.New("unknown command")
	ErrArgument       = errors.New("bad argument")
	ErrReply          = errors.New("malformed reply")
)

// Op identifies a command.
type Op uint8

const (
	OpPing Op = iota + 1
	OpVersion
	OpBias
	OpQuench
	OpCapacitance
	OpCurrent
	OpRange
	OpStatus
	OpIdle
)

var opTokens = map[Op]string{
	OpPing:        "P",
	OpVersion:     "VER",
	OpBias:        "B",
	OpQuench:      "Q",
	OpCapacitance: "C",
	OpCurrent:     "I",
	OpRange:       "R",
	OpStatus:      "S",
	OpIdle:        "X",
}

func (o Op) String() string {
	if s, ok := opTokens[o]; ok {
		return s
	}
	return "?"
}

func lookupOp(tok string) (Op, bool) {
	tok = strings.ToUpper(tok)
	for op, s := range opTokens {
		if s == tok {
			return op, true
		}
	}
	return 0, false
}

// Command is one parsed request. Only the fields of its Op are meaningful.
type Command struct {
	Op      Op
	Mv      uint16 // OpBias
	Verbose bool   // OpCapacitance
	Gain    uint8  // OpCurrent
	Shift   uint8  // OpCurrent
	Range   uint8  // OpRange

	// Defaults asks OpCurrent to use the instrument's configured gain and
	// shift instead of Gain and Shift.
	Defaults bool
}

// Parse parses one command line.
func Parse(line string) (Command, error) {
	f := strings.Fields(line)
	if len(f) == 0 {
		return Command{}, ErrEmpty
	}
	op, ok := lookupOp(f[0])
	if !ok {
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, f[0])
	}
	args := f[1:]
	c := Command{Op: op}

	switch op {
	case OpBias:
		if len(args) != 1 {
			return Command{}, fmt.Errorf("%w: B takes one value", ErrArgument)
		}
		v, err := parseUint(args[0], 16)
		if err != nil {
			return Command{}, err
		}
		c.Mv = uint16(v)
	case OpCapacitance:
		c.Verbose = true
		if len(args) > 1 {
			return Command{}, fmt.Errorf("%w: C takes at most one value", ErrArgument)
		}
		if len(args) == 1 {
			v, err := parseUint(args[0], 1)
			if err != nil {
				return Command{}, err
			}
			c.Verbose = v == 1
		}
	case OpCurrent:
		if len(args) == 0 {
			c.Defaults = true
			break
		}
		if len(args) != 2 {
			return Command{}, fmt.Errorf("%w: I takes gain and shift or nothing", ErrArgument)
		}
		g, err := parseUint(args[0], 8)
		if err != nil {
			return Command{}, err
		}
		s, err := parseUint(args[1], 8)
		if err != nil {
			return Command{}, err
		}
		c.Gain, c.Shift = uint8(g), uint8(s)
	case OpRange:
		if len(args) != 1 {
			return Command{}, fmt.Errorf("%w: R takes one index", ErrArgument)
		}
		v, err := parseUint(args[0], 8)
		if err != nil {
			return Command{}, err
		}
		c.Range = uint8(v)
	default:
		if len(args) != 0 {
			return Command{}, fmt.Errorf("%w: %s takes no value", ErrArgument, op)
		}
	}
	return c, nil
}

func parseUint(s string, bits int) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, bits)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrArgument, s)
	}
	return v, nil
}

// AppendTo appends the wire form of c, with its line terminator.
func (c Command) AppendTo(b []byte) []byte {
	b = append(b, c.Op.String()...)
	switch c.Op {
	case OpBias:
		b = appendUint(b, uint64(c.Mv))
	case OpCapacitance:
		if c.Verbose {
			b = appendUint(b, 1)
		} else {
			b = appendUint(b, 0)
		}
	case OpCurrent:
		if !c.Defaults {
			b = appendUint(b, uint64(c.Gain))
			b = appendUint(b, uint64(c.Shift))
		}
	case OpRange:
		b = appendUint(b, uint64(c.Range))
	}
	return append(b, '\r', '\n')
}

func (c Command) String() string {
	return strings.TrimSpace(string(c.AppendTo(nil)))
}

func appendUint(b []byte, v uint64) []byte {
	b = append(b, ' ')
	return strconv.AppendUint(b, v, 10)
}
