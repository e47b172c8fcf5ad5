package capacitance

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/itohio/gocapmeter/pkg/hal"
)

var (
	ErrNoRanges         = errors.New("no resistor ranges")
	ErrRangeOrder       = errors.New("resistor ranges must be ascending")
	ErrBounds           = errors.New("invalid frequency bounds")
	ErrFrequencySetting = errors.New("unsupported measurement frequency")
	ErrCounterDivider   = errors.New("unsupported counter divider")
	ErrRangeIndex       = errors.New("range index out of bounds")
)

// Range is one reference resistor of the oscillator. MinHz and MaxHz
// override the controller bounds for this range when non-zero.
type Range struct {
	ID    hal.RangeID `yaml:"id"`
	Ohms  uint32      `yaml:"ohms"`
	MinHz uint32      `yaml:"min_hz,omitempty"`
	MaxHz uint32      `yaml:"max_hz,omitempty"`
}

// HalfOhms returns half of the resistor value, as reported to the host.
func (r Range) HalfOhms() uint32 {
	return r.Ohms / 2
}

// RangeTable is an ordered list of ranges with ascending resistance.
type RangeTable struct {
	ranges []Range
}

// NewRangeTable validates and copies r.
func NewRangeTable(r []Range) (RangeTable, error) {
	if len(r) == 0 {
		return RangeTable{}, ErrNoRanges
	}
	for i := 1; i < len(r); i++ {
		if r[i].Ohms <= r[i-1].Ohms {
			return RangeTable{}, fmt.Errorf("%w: %d ohm after %d ohm", ErrRangeOrder, r[i].Ohms, r[i-1].Ohms)
		}
	}
	for _, rr := range r {
		if rr.MinHz != 0 && rr.MaxHz != 0 && rr.MinHz >= rr.MaxHz {
			return RangeTable{}, fmt.Errorf("%w: range %d ohm", ErrBounds, rr.Ohms)
		}
	}
	return RangeTable{ranges: append([]Range(nil), r...)}, nil
}

// Len returns the number of ranges.
func (t RangeTable) Len() int {
	return len(t.ranges)
}

// At returns the range at index i.
func (t RangeTable) At(i int) (Range, bool) {
	if i < 0 || i >= len(t.ranges) {
		return Range{}, false
	}
	return t.ranges[i], true
}

// Highest returns the index of the largest resistance.
func (t RangeTable) Highest() int {
	return len(t.ranges) - 1
}

// Ranges returns a copy of the table.
func (t RangeTable) Ranges() []Range {
	return append([]Range(nil), t.ranges...)
}

// DefaultRanges returns the board's resistor ladder.
func DefaultRanges() []Range {
	return []Range{
		{ID: 0, Ohms: 270},
		{ID: 1, Ohms: 1000},
		{ID: 2, Ohms: 10000},
		{ID: 3, Ohms: 100000},
	}
}

// FrequencySetting is one window rate of the time base. A window counter
// value shifted left by Shift estimates the oscillator frequency in Hz.
type FrequencySetting struct {
	Hz     uint16
	Shift  uint8
	Period uint16
}

func (s FrequencySetting) String() string {
	return strconv.Itoa(int(s.Hz)) + " Hz"
}

var frequencySettings = []FrequencySetting{
	{Hz: 1, Shift: 0, Period: hal.TimeBaseHz/1 - 1},
	{Hz: 32, Shift: 5, Period: hal.TimeBaseHz/32 - 1},
	{Hz: 64, Shift: 6, Period: hal.TimeBaseHz/64 - 1},
	{Hz: 128, Shift: 7, Period: hal.TimeBaseHz/128 - 1},
}

// FrequencySettingFor returns the setting for a window rate.
func FrequencySettingFor(hz uint16) (FrequencySetting, error) {
	for _, s := range frequencySettings {
		if s.Hz == hz {
			return s, nil
		}
	}
	return FrequencySetting{}, fmt.Errorf("%w: %d Hz", ErrFrequencySetting, hz)
}

var counterDividers = []uint16{1, 2, 4, 8, 16, 64, 256, 1024}

// CounterDividerIndex returns the prescaler register value for divider d.
func CounterDividerIndex(d uint16) (uint8, error) {
	for i, v := range counterDividers {
		if v == d {
			return uint8(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %d", ErrCounterDivider, d)
}
