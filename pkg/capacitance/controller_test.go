package capacitance

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/gocapmeter/pkg/capture"
	"github.com/itohio/gocapmeter/pkg/hal"
	"github.com/itohio/gocapmeter/pkg/report"
)

type fakeHW struct {
	ranges   []hal.RangeID
	muxOn    bool
	feedback bool
	capture  *hal.CaptureConfig
}

func (f *fakeHW) SetResistorRange(id hal.RangeID) {
	f.ranges = append(f.ranges, id)
	f.muxOn = true
}
func (f *fakeHW) DisableResistorRange()  { f.muxOn = false }
func (f *fakeHW) EnableCurrentSense()    {}
func (f *fakeHW) DisableCurrentSense()   {}
func (f *fakeHW) EnableFeedback()        { f.feedback = true }
func (f *fakeHW) DisableFeedback()       { f.feedback = false }
func (f *fakeHW) StopCapture()           { f.capture = nil }
func (f *fakeHW) StartCapture(cfg hal.CaptureConfig) {
	f.capture = &cfg
}

type harness struct {
	hw  *fakeHW
	acc *capture.Accumulator
	c   *Controller
	raw uint16
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{hw: &fakeHW{}, acc: capture.New(nil)}
	c, err := New(h.hw, h.acc, hal.DefaultCalibration(), cfg)
	require.NoError(t, err)
	h.c = c
	h.c.Enter()
	return h
}

// window closes one window with count oscillator cycles and polls it.
func (h *harness) window(t *testing.T, count uint32) Result {
	t.Helper()
	h.raw += uint16(count)
	h.acc.OnWindowClose(h.raw)
	res, ok := h.c.Poll()
	require.True(t, ok)
	return res
}

func TestController_Enter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WindowHz = 32
	cfg.CounterDivider = 8
	h := newHarness(t, cfg)

	idx, r := h.c.Range()
	assert.Equal(t, 3, idx)
	assert.Equal(t, uint32(100000), r.Ohms)
	assert.Equal(t, []hal.RangeID{3}, h.hw.ranges)
	assert.True(t, h.hw.feedback)
	require.NotNil(t, h.hw.capture)
	assert.Equal(t, hal.CaptureConfig{Divider: 8, Period: 1023}, *h.hw.capture)

	_, ok := h.c.Poll()
	assert.False(t, ok, "no window yet")

	h.c.Exit()
	assert.False(t, h.c.Active())
	assert.False(t, h.hw.muxOn)
	assert.False(t, h.hw.feedback)
	assert.Nil(t, h.hw.capture)
}

// TestController_HysteresisAtSecondHighest closes threshold+1 high windows
// at the second-highest range; the range must step up exactly once.
func TestController_HysteresisAtSecondHighest(t *testing.T) {
	cfg := DefaultConfig()
	h := newHarness(t, cfg)
	require.NoError(t, h.c.SetRange(2))

	steps := 0
	for i := uint32(0); i < cfg.Hysteresis+1; i++ {
		res := h.window(t, 60000)
		assert.Equal(t, uint32(60000), res.EstimateHz)
		assert.Equal(t, 2, res.Index, "window %d measured on the old range", i)
		if res.Step != StepNone {
			steps++
			assert.Equal(t, StepUp, res.Step)
			assert.Equal(t, cfg.Hysteresis, i, "change only on window threshold+1")
		}
	}
	assert.Equal(t, 1, steps)
	idx, _ := h.c.Range()
	assert.Equal(t, 3, idx)

	// Already at the top: further high windows never move the range.
	for range 10 {
		assert.Equal(t, StepNone, h.window(t, 60000).Step)
	}
	idx, _ = h.c.Range()
	assert.Equal(t, 3, idx)
	assert.Equal(t, []hal.RangeID{3, 2, 3}, h.hw.ranges)
}

func TestController_InBandResetsHysteresis(t *testing.T) {
	cfg := DefaultConfig()
	h := newHarness(t, cfg)

	for range 3 {
		for i := uint32(0); i < cfg.Hysteresis; i++ {
			assert.Equal(t, StepNone, h.window(t, 100).Step)
		}
		assert.Equal(t, StepNone, h.window(t, 1000).Step, "in band")
	}
	idx, _ := h.c.Range()
	assert.Equal(t, 3, idx)

	for i := uint32(0); i < cfg.Hysteresis; i++ {
		h.window(t, 100)
	}
	assert.Equal(t, StepDown, h.window(t, 100).Step)
	idx, _ = h.c.Range()
	assert.Equal(t, 2, idx)
}

func TestController_WalkToBottom(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	for range 100 {
		h.window(t, 10)
	}
	idx, r := h.c.Range()
	assert.Equal(t, 0, idx)
	assert.Equal(t, uint32(270), r.Ohms)
	assert.Equal(t, []hal.RangeID{3, 2, 1, 0}, h.hw.ranges)
}

func TestController_EstimateShift(t *testing.T) {
	tests := []struct {
		hz    uint16
		count uint32
		want  uint32
	}{
		{hz: 1, count: 1000, want: 1000},
		{hz: 32, count: 100, want: 3200},
		{hz: 64, count: 100, want: 6400},
		{hz: 128, count: 100, want: 12800},
	}

	for _, tt := range tests {
		t.Run(FrequencySetting{Hz: tt.hz}.String(), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.WindowHz = tt.hz
			h := newHarness(t, cfg)
			assert.Equal(t, tt.want, h.window(t, tt.count).EstimateHz)
		})
	}
}

func TestController_PerRangeBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ranges[3].MaxHz = 5000
	h := newHarness(t, cfg)

	lo, hi := h.c.Bounds(3)
	assert.Equal(t, uint32(500), lo)
	assert.Equal(t, uint32(5000), hi)

	// 6 kHz is out of band for the top range only; the top cannot step up.
	for range 10 {
		assert.Equal(t, StepNone, h.window(t, 6000).Step)
	}
}

func TestController_VerboseReport(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	var got []report.Report
	h.c.OnReport(func(r report.Report) { got = append(got, r) })

	h.acc.OnPulseCapture(10)
	h.window(t, 1000)
	assert.Empty(t, got, "quiet unless verbose")

	h.c.SetVerbose(true)
	h.acc.OnPulseCapture(25)
	h.acc.OnPulseCapture(30)
	h.window(t, 1000)
	require.Len(t, got, 1)
	assert.Equal(t, report.Report{
		CounterDivider:   1,
		FallAccumulated:  55,
		FrequencyCount:   1000,
		ResistorHalfOhms: 50000,
		SecondThreshold:  3574,
		FirstThreshold:   1929,
		MeasurementHz:    1,
	}, got[0])
}

func TestController_ClearsConsecutiveOverflows(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.acc.OnCaptureOverflow()
	h.acc.OnCaptureOverflow()
	require.Equal(t, uint32(2), h.acc.Errors().ConsecutiveOverflows)

	h.window(t, 1000)
	assert.Zero(t, h.acc.Errors().ConsecutiveOverflows)
}

// TestController_RangeInvariant feeds random estimates and checks the index
// stays in bounds and moves at most one step per window, only after the
// out-of-band run exceeds the threshold.
func TestController_RangeInvariant(t *testing.T) {
	cfg := DefaultConfig()
	rng := rand.New(rand.NewSource(7))
	h := newHarness(t, cfg)

	run := uint32(0)
	for range 5000 {
		var count uint32
		switch rng.Intn(3) {
		case 0:
			count = uint32(rng.Intn(int(cfg.MinHz)))
		case 1:
			count = cfg.MaxHz + 1 + uint32(rng.Intn(10000))
		default:
			count = cfg.MinHz + uint32(rng.Intn(int(cfg.MaxHz-cfg.MinHz)))
		}

		before, _ := h.c.Range()
		res := h.window(t, count)
		after, _ := h.c.Range()

		want := StepNone
		switch {
		case count > cfg.MaxHz && before < 3:
			want = StepUp
		case count < cfg.MinHz && before > 0:
			want = StepDown
		}
		if want == StepNone {
			run = 0
		} else {
			run++
		}

		require.GreaterOrEqual(t, after, 0)
		require.LessOrEqual(t, after, 3)
		require.LessOrEqual(t, abs(after-before), 1)
		if after != before {
			require.Equal(t, cfg.Hysteresis+1, run)
			require.Equal(t, want, res.Step)
			run = 0
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{name: "no ranges", mutate: func(c *Config) { c.Ranges = nil }, want: ErrNoRanges},
		{name: "descending", mutate: func(c *Config) { c.Ranges[1].Ohms = 100 }, want: ErrRangeOrder},
		{name: "bounds", mutate: func(c *Config) { c.MinHz = c.MaxHz }, want: ErrBounds},
		{name: "range bounds", mutate: func(c *Config) { c.Ranges[0].MinHz, c.Ranges[0].MaxHz = 10, 5 }, want: ErrBounds},
		{name: "window", mutate: func(c *Config) { c.WindowHz = 10 }, want: ErrFrequencySetting},
		{name: "divider", mutate: func(c *Config) { c.CounterDivider = 3 }, want: ErrCounterDivider},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := New(&fakeHW{}, capture.New(nil), hal.DefaultCalibration(), cfg)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSetRange(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	assert.ErrorIs(t, h.c.SetRange(4), ErrRangeIndex)
	assert.ErrorIs(t, h.c.SetRange(-1), ErrRangeIndex)
	require.NoError(t, h.c.SetRange(1))
	assert.Equal(t, []hal.RangeID{3, 1}, h.hw.ranges)
}

func TestCounterDividerIndex(t *testing.T) {
	i, err := CounterDividerIndex(1024)
	require.NoError(t, err)
	assert.Equal(t, uint8(7), i)
	i, err = CounterDividerIndex(16)
	require.NoError(t, err)
	assert.Equal(t, uint8(4), i)
}
