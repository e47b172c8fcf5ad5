// Package current implements the leakage current measurement mode: a plain
// amplified ADC read with no feedback loop.
package current

import "github.com/itohio/gocapmeter/pkg/hal"

// MaxShift bounds the averaging depth (65536 conversions).
const MaxShift = 16

// Config holds the defaults used when a caller does not pass its own.
type Config struct {
	Gain  hal.Gain `yaml:"gain"`
	Shift uint8    `yaml:"shift"`
}

// DefaultConfig returns 16x gain with 256 averaged conversions.
func DefaultConfig() Config {
	return Config{Gain: 4, Shift: 8}
}

// Hardware is the part of the board current mode drives.
type Hardware interface {
	hal.ADC
	hal.Mux
	hal.Amplifier
}

// Mode is the current measurement mode.
type Mode struct {
	hw     Hardware
	gain   hal.Gain
	active bool
}

// New creates a current mode over hw.
func New(hw Hardware) *Mode {
	return &Mode{hw: hw}
}

// Enter detaches the oscillator, powers the sense amplifier and points the
// ADC at the current channel with gain g.
func (m *Mode) Enter(g hal.Gain) {
	if g > hal.MaxGain {
		g = hal.MaxGain
	}
	m.hw.DisableFeedback()
	m.hw.DisableResistorRange()
	m.hw.EnableCurrentSense()
	m.hw.ConfigureChannel(hal.ChannelCurrent, g, true)
	m.gain = g
	m.active = true
}

// Active reports whether the mode has been entered.
func (m *Mode) Active() bool {
	return m.active
}

// Gain returns the configured gain.
func (m *Mode) Gain() hal.Gain {
	return m.gain
}

// Measure returns the mean of 1<<shift conversions of the current channel.
// If another user left the ADC on a different channel or gain it is
// switched back first.
func (m *Mode) Measure(shift uint8) uint16 {
	if shift > MaxShift {
		shift = MaxShift
	}
	if m.hw.ConfiguredChannel() != hal.ChannelCurrent || m.hw.ConfiguredGain() != m.gain {
		m.hw.ConfigureChannel(hal.ChannelCurrent, m.gain, true)
	}
	return m.hw.SampleAveraged(shift)
}

// Exit powers the sense amplifier down.
func (m *Mode) Exit() {
	if !m.active {
		return
	}
	m.hw.DisableCurrentSense()
	m.active = false
}
