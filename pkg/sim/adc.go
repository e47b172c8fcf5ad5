package sim

import (
	"time"

	"github.com/chewxy/math32"

	"github.com/itohio/gocapmeter/pkg/hal"
)

const adcMax = 4095

// MuxSettle is the delay ConfigureChannel spends when asked to settle.
const MuxSettle = 100 * time.Microsecond

func (b *Board) ConfigureChannel(ch hal.Channel, g hal.Gain, settle bool) {
	if b.channel == ch && b.gain == g {
		return
	}
	b.channel, b.gain = ch, g
	if settle {
		b.Advance(MuxSettle)
	}
}

func (b *Board) ConfiguredChannel() hal.Channel { return b.channel }
func (b *Board) ConfiguredGain() hal.Gain       { return b.gain }

func (b *Board) SampleAveraged(shift uint8) uint16 {
	avg, _ := b.batch(shift, false)
	return avg
}

func (b *Board) SampleStabilized(shift uint8, peakPeak uint16, fast bool) uint16 {
	tries := b.cfg.StabilizeTries
	if tries < 1 {
		tries = 1
	}
	var avg uint16
	for range tries {
		var spread uint16
		avg, spread = b.batch(shift, fast)
		if spread <= peakPeak {
			break
		}
	}
	return avg
}

// batch converts 1<<shift samples and returns their mean and spread.
func (b *Board) batch(shift uint8, fast bool) (avg, spread uint16) {
	n := uint32(1) << shift
	conv := time.Duration(b.cfg.ConversionUs) * time.Microsecond
	if fast {
		conv /= 2
	}
	var (
		sum    uint32
		lo, hi uint16 = adcMax, 0
	)
	for range n {
		b.Advance(conv)
		c := b.convert()
		sum += uint32(c)
		lo, hi = min(lo, c), max(hi, c)
	}
	return uint16(sum >> shift), hi - lo
}

// convert returns one noisy conversion of the selected channel.
func (b *Board) convert() uint16 {
	var code float32
	switch b.channel {
	case hal.ChannelVbias:
		code = float32(b.cal.Code(uint16(math32.Max(0, math32.Min(b.biasMv, 0xFFFF)))))
	case hal.ChannelCurrent:
		code = b.currentMv() * float32(b.gain.Factor()) * adcMax / b.cfg.AdcRefMv
	case hal.ChannelAvccDiv10:
		code = adcMax / 10
	case hal.ChannelAref:
		code = adcMax
	}
	if b.cfg.AdcNoise > 0 {
		code += float32(b.rng.Intn(2*b.cfg.AdcNoise+1) - b.cfg.AdcNoise)
	}
	return uint16(math32.Max(0, math32.Min(math32.Round(code), adcMax)))
}

// currentMv returns the transimpedance output for the leakage current.
func (b *Board) currentMv() float32 {
	if !b.senseOn || b.cfg.LeakageOhms <= 0 {
		return 0
	}
	return b.biasMv / b.cfg.LeakageOhms * b.cfg.SenseOhms
}

// CurrentCode returns the noiseless current channel code at gain g, for
// tests comparing against Measure.
func (b *Board) CurrentCode(g hal.Gain) uint16 {
	code := b.currentMv() * float32(g.Factor()) * adcMax / b.cfg.AdcRefMv
	return uint16(math32.Max(0, math32.Min(math32.Round(code), adcMax)))
}
