//go:build tinygo

package main

import (
	"machine"
	"time"

	"github.com/itohio/gocapmeter/pkg/capture"
	"github.com/itohio/gocapmeter/pkg/hal"
)

// xiao drives the meter front end of a Seeed XIAO SAMD21.
//
// machine exposes no input capture, so oscillator edges raise a pin
// interrupt and are timestamped from the runtime clock. Front end gain is
// applied after conversion for the same reason.
type xiao struct {
	acc *capture.Accumulator

	adcVbias   machine.ADC
	adcCurrent machine.ADC
	active     *machine.ADC
	channel    hal.Channel
	gain       hal.Gain

	capturing bool
	divider   uint16
	clock     *capture.TimeBase
	lastEdge  int64
	edges     uint16
}

var _ hal.Hardware = (*xiao)(nil)

func newBoard(acc *capture.Accumulator) *xiao {
	for _, p := range []machine.Pin{
		PIN_LDO_EN, PIN_STEPUP_EN, PIN_QUENCH, PIN_SENSE_EN, PIN_FEEDBACK,
		PIN_RANGE_EN, PIN_RANGE_SEL0, PIN_RANGE_SEL1, PIN_RANGE_SEL2,
	} {
		p.Configure(machine.PinConfig{Mode: machine.PinOutput})
		p.Low()
	}

	PIN_VBIAS_ADC.Configure(machine.PinConfig{Mode: machine.PinInput})
	PIN_CURRENT_ADC.Configure(machine.PinConfig{Mode: machine.PinInput})
	PIN_COMPARATOR.Configure(machine.PinConfig{Mode: machine.PinInput})

	b := &xiao{
		acc:        acc,
		clock:      capture.NewTimeBase(acc),
		adcVbias:   machine.ADC{Pin: PIN_VBIAS_ADC},
		adcCurrent: machine.ADC{Pin: PIN_CURRENT_ADC},
	}
	adcConfig := machine.ADCConfig{
		Reference:  ADC_REFERENCE_MV,
		Resolution: ADC_RESOLUTION,
	}
	b.adcVbias.Configure(adcConfig)
	b.adcCurrent.Configure(adcConfig)

	machine.DAC0.Configure(machine.DACConfig{})

	return b
}

// polarity reports whether the half-cycle that just ended was rising. The
// comparator output drops when the charging capacitor crosses the upper
// threshold.
func (b *xiao) polarity() bool {
	return !PIN_COMPARATOR.Get()
}

func (b *xiao) ConfigureChannel(ch hal.Channel, g hal.Gain, settle bool) {
	if ch == b.channel && g == b.gain {
		return
	}
	b.channel, b.gain = ch, g
	switch ch {
	case hal.ChannelVbias:
		b.active = &b.adcVbias
	case hal.ChannelCurrent:
		b.active = &b.adcCurrent
	default:
		b.active = nil
	}
	if settle {
		time.Sleep(time.Millisecond)
	}
}

func (b *xiao) ConfiguredChannel() hal.Channel { return b.channel }
func (b *xiao) ConfiguredGain() hal.Gain       { return b.gain }

// convert returns one 12-bit conversion with the configured gain.
func (b *xiao) convert() uint32 {
	if b.active == nil {
		return 0
	}
	v := uint32(b.active.Get()>>(16-ADC_RESOLUTION)) << b.gain
	if v > 0xFFFF {
		v = 0xFFFF
	}
	return v
}

func (b *xiao) SampleAveraged(shift uint8) uint16 {
	var sum uint32
	for range 1 << shift {
		sum += b.convert()
	}
	return uint16(sum >> shift)
}

func (b *xiao) SampleStabilized(shift uint8, peakPeak uint16, fast bool) uint16 {
	const tries = 8
	n := 1 << shift
	if fast && shift > 2 {
		n = 1 << (shift - 2)
	}

	var avg uint16
	for range tries {
		var sum uint32
		lo, hi := uint32(0xFFFF), uint32(0)
		for range n {
			v := b.convert()
			sum += v
			lo, hi = min(lo, v), max(hi, v)
		}
		avg = uint16(sum / uint32(n))
		if hi-lo <= uint32(peakPeak) {
			break
		}
	}
	return avg
}

func (b *xiao) SetDAC(code uint16) {
	machine.DAC0.Set(code << (16 - DAC_BITS))
}

func (b *xiao) DisableDAC() {
	machine.DAC0.Set(0)
}

func (b *xiao) SetResistorRange(id hal.RangeID) {
	PIN_RANGE_SEL0.Set(id&1 != 0)
	PIN_RANGE_SEL1.Set(id&2 != 0)
	PIN_RANGE_SEL2.Set(id&4 != 0)
	PIN_RANGE_EN.High()
}

func (b *xiao) DisableResistorRange() { PIN_RANGE_EN.Low() }

func (b *xiao) EnableLDO()     { PIN_LDO_EN.High() }
func (b *xiao) DisableLDO()    { PIN_LDO_EN.Low() }
func (b *xiao) EnableStepUp()  { PIN_STEPUP_EN.High() }
func (b *xiao) DisableStepUp() { PIN_STEPUP_EN.Low() }
func (b *xiao) EnableQuench()  { PIN_QUENCH.High() }
func (b *xiao) DisableQuench() { PIN_QUENCH.Low() }

func (b *xiao) EnableCurrentSense()  { PIN_SENSE_EN.High() }
func (b *xiao) DisableCurrentSense() { PIN_SENSE_EN.Low() }
func (b *xiao) EnableFeedback()      { PIN_FEEDBACK.High() }
func (b *xiao) DisableFeedback()     { PIN_FEEDBACK.Low() }

func (b *xiao) StartCapture(cfg hal.CaptureConfig) {
	if cfg.Divider == 0 {
		cfg.Divider = 1
	}
	b.divider = cfg.Divider
	b.edges = 0
	b.lastEdge = 0
	b.clock.Start(time.Now(), time.Duration(cfg.Period+1)*time.Second/hal.TimeBaseHz)
	b.capturing = true

	PIN_COMPARATOR.SetInterrupt(machine.PinToggle, b.onEdge)
}

func (b *xiao) StopCapture() {
	b.capturing = false
	b.clock.Stop()
	PIN_COMPARATOR.SetInterrupt(0, nil)
}

// onEdge runs in interrupt context.
func (b *xiao) onEdge(machine.Pin) {
	now := time.Now().UnixNano()

	b.edges++
	if b.edges == 0 {
		b.acc.OnCounterOverflow()
	}

	if b.lastEdge != 0 {
		ticks := (now - b.lastEdge) * (CAPTURE_TIMER_HZ / 1000) / 1_000_000 / int64(b.divider)
		if ticks > 0xFFFF {
			b.acc.OnCaptureOverflow()
		} else {
			b.acc.OnPulseCapture(uint16(ticks))
		}
	}
	b.lastEdge = now
}

// tick closes the window once the time base period elapsed.
func (b *xiao) tick() {
	if !b.capturing {
		return
	}
	b.clock.Poll(time.Now(), b.edges)
}

func (b *xiao) DelayMs(ms uint32) {
	time.Sleep(time.Duration(ms) * time.Millisecond)
}

func (b *xiao) DelayUs(us uint32) {
	time.Sleep(time.Duration(us) * time.Microsecond)
}
