// Package hal defines the hardware surface consumed by the measurement engine.
//
// Implementations live outside the engine: firmware/ drives the real
// peripherals through TinyGo's machine package and pkg/sim provides a
// simulated board for tests and the mock device.
package hal

// Channel selects the ADC input multiplexer.
type Channel uint8

const (
	ChannelNone Channel = iota
	ChannelVbias
	ChannelCurrent
	ChannelAvccDiv10
	ChannelAref
)

// String returns the channel name.
func (c Channel) String() string {
	switch c {
	case ChannelVbias:
		return "vbias"
	case ChannelCurrent:
		return "current"
	case ChannelAvccDiv10:
		return "avcc/10"
	case ChannelAref:
		return "aref"
	default:
		return "none"
	}
}

// Gain is the ADC amplification expressed as a power-of-two shift (gain 2 = 4x).
type Gain uint8

// MaxGain is the largest amplification supported by the ADC front end (64x).
const MaxGain Gain = 6

// Factor returns the linear amplification factor.
func (g Gain) Factor() uint32 {
	return 1 << uint32(g)
}

// RangeID is an opaque resistor mux setting. Only the board knows its
// encoding; the engine treats it as an identifier.
type RangeID uint8

// ADC samples the currently configured input channel.
type ADC interface {
	// ConfigureChannel selects the channel and gain. It is a no-op when the
	// channel and gain are already configured. settle requests the extra
	// settling delay the mux needs after a switch.
	ConfigureChannel(ch Channel, gain Gain, settle bool)
	ConfiguredChannel() Channel
	ConfiguredGain() Gain

	// SampleAveraged returns the mean of 1<<shift conversions.
	SampleAveraged(shift uint8) uint16

	// SampleStabilized repeats averaged conversions until the spread of one
	// batch is within peakPeak codes, or an implementation-defined retry
	// bound is reached. fast trades accuracy for a shorter conversion.
	SampleStabilized(shift uint8, peakPeak uint16, fast bool) uint16
}

// DAC drives the bias regulator reference.
type DAC interface {
	SetDAC(code uint16)
	DisableDAC()
}

// Mux selects the reference resistor of the RC oscillator.
type Mux interface {
	SetResistorRange(id RangeID)
	DisableResistorRange()
}

// Power switches the bias voltage generation paths.
type Power interface {
	EnableLDO()
	DisableLDO()
	EnableStepUp()
	DisableStepUp()
	EnableQuench()
	DisableQuench()
}

// Amplifier switches the current sense chain and the oscillator feedback.
type Amplifier interface {
	EnableCurrentSense()
	DisableCurrentSense()
	EnableFeedback()
	DisableFeedback()
}

// TimeBaseHz is the clock of the window time base (the 32.768 kHz crystal).
const TimeBaseHz = 32768

// CaptureConfig programs the pulse timer and the window time base.
type CaptureConfig struct {
	Divider uint16 // pulse timer prescaler
	Period  uint16 // time base ticks per window, minus one
}

// Capture starts and stops the oscillator timing peripherals. Once started
// the board delivers pulse, overflow and window events to its accumulator.
type Capture interface {
	StartCapture(cfg CaptureConfig)
	StopCapture()
}

// Clock provides blocking delays.
type Clock interface {
	DelayMs(ms uint32)
	DelayUs(us uint32)
}

// Hardware is the complete surface the engine depends on.
type Hardware interface {
	ADC
	DAC
	Mux
	Power
	Amplifier
	Capture
	Clock
}
