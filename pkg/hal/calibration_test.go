package hal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStaticCalibration_Millivolts(t *testing.T) {
	cal := DefaultCalibration()

	tests := []struct {
		name string
		code uint16
		want uint16
	}{
		{name: "zero", code: 0, want: 0},
		{name: "one lsb", code: 1, want: 4},
		{name: "quench threshold", code: 100, want: 408},
		{name: "mid scale", code: 2048, want: 8372},
		{name: "full scale", code: 4095, want: 16740},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cal.Millivolts(tt.code))
		})
	}
}

func TestStaticCalibration_CodeInverse(t *testing.T) {
	cal := DefaultCalibration()

	for _, mv := range []uint16{0, 100, 850, 4500, 12000, 16000} {
		code := cal.Code(mv)
		got := cal.Millivolts(code)
		assert.LessOrEqual(t, got, mv, "code %d for %dmV", code, mv)
		assert.InDelta(t, float64(mv), float64(got), 5, "code %d for %dmV", code, mv)
	}
}

func TestStaticCalibration_Saturates(t *testing.T) {
	cal := &StaticCalibration{Scale: 100}
	assert.Equal(t, uint16(0xFFFF), cal.Millivolts(4095))
}

func TestGain_Factor(t *testing.T) {
	assert.Equal(t, uint32(1), Gain(0).Factor())
	assert.Equal(t, uint32(4), Gain(2).Factor())
	assert.Equal(t, uint32(64), MaxGain.Factor())
}

func TestChannel_String(t *testing.T) {
	assert.Equal(t, "vbias", ChannelVbias.String())
	assert.Equal(t, "current", ChannelCurrent.String())
	assert.Equal(t, "none", Channel(42).String())
}
