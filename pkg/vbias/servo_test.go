package vbias

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/gocapmeter/pkg/hal"
	"github.com/itohio/gocapmeter/pkg/sim"
)

// read is one ADC read taken by the servo.
type read struct {
	mv       uint16
	shift    uint8
	fast     bool
	averaged bool
}

// recorder logs every millivolt sample the servo takes. A non-zero glitch
// is added once to the first read taken with glitchShift.
type recorder struct {
	*sim.Board
	cal   *hal.StaticCalibration
	mvs   []uint16
	reads []read

	glitch      uint16
	glitchShift uint8
}

func (r *recorder) SampleAveraged(shift uint8) uint16 {
	c := r.distort(shift, r.Board.SampleAveraged(shift))
	r.log(read{mv: r.cal.Millivolts(c), shift: shift, averaged: true})
	return c
}

func (r *recorder) SampleStabilized(shift uint8, pp uint16, fast bool) uint16 {
	c := r.distort(shift, r.Board.SampleStabilized(shift, pp, fast))
	r.log(read{mv: r.cal.Millivolts(c), shift: shift, fast: fast})
	return c
}

func (r *recorder) distort(shift uint8, c uint16) uint16 {
	if r.glitch != 0 && shift == r.glitchShift {
		c += r.glitch
		r.glitch = 0
	}
	return c
}

func (r *recorder) log(rd read) {
	r.mvs = append(r.mvs, rd.mv)
	r.reads = append(r.reads, rd)
}

func newServo(t *testing.T, mutate func(*Config), simCfg sim.Config) (*Servo, *recorder) {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	cal := hal.DefaultCalibration()
	hw := &recorder{Board: sim.New(simCfg, cal), cal: cal}
	s, err := New(hw, cal, cfg)
	require.NoError(t, err)
	return s, hw
}

func quiet() sim.Config {
	cfg := sim.DefaultConfig()
	cfg.AdcNoise = 0
	return cfg
}

func TestServo_EnableThenDisable(t *testing.T) {
	s, hw := newServo(t, nil, sim.DefaultConfig())

	res, err := s.Enable(4500)
	require.NoError(t, err)
	assert.Equal(t, StatusReached, res.Status)
	assert.Equal(t, SourceStepUp, res.Source)
	assert.GreaterOrEqual(t, res.MeasuredMv, uint16(4480))
	assert.LessOrEqual(t, res.MeasuredMv, uint16(4530))
	assert.True(t, hw.StepUpEnabled())
	assert.Equal(t, PhaseHolding, s.State().Phase)

	res, err = s.Disable()
	require.NoError(t, err)
	assert.Equal(t, StatusQuenched, res.Status)
	assert.Less(t, res.MeasuredMv, uint16(100))
	assert.Less(t, hw.BiasMv(), float32(100))
	assert.False(t, hw.LDOEnabled())
	assert.False(t, hw.StepUpEnabled())
	assert.False(t, hw.DACEnabled())
	assert.False(t, hw.QuenchEnabled())
	assert.Equal(t, State{MeasuredMv: res.MeasuredMv, DAC: res.DAC, Source: SourceOff, Phase: PhaseOff}, s.State())
}

func TestServo_Idempotent(t *testing.T) {
	s, hw := newServo(t, nil, sim.DefaultConfig())

	first, err := s.Enable(3000)
	require.NoError(t, err)
	now := hw.Now()
	samples := len(hw.mvs)

	again, err := s.Update(3000)
	require.NoError(t, err)
	assert.Equal(t, StatusUnchanged, again.Status)
	assert.Equal(t, first.MeasuredMv, again.MeasuredMv)
	assert.Equal(t, first.DAC, again.DAC)
	assert.Zero(t, again.Steps)
	assert.Equal(t, now, hw.Now(), "no delays")
	assert.Len(t, hw.mvs, samples, "no samples")
}

func TestServo_MonotonicDecreasing(t *testing.T) {
	s, hw := newServo(t, nil, quiet())
	_, err := s.Enable(8000)
	require.NoError(t, err)
	startDAC := s.State().DAC

	hw.mvs = nil
	res, err := s.Update(2000)
	require.NoError(t, err)
	assert.Equal(t, StatusReached, res.Status)
	assert.LessOrEqual(t, res.MeasuredMv, uint16(2000))
	assert.GreaterOrEqual(t, res.MeasuredMv, uint16(1985))
	assert.Equal(t, SourceLDO, res.Source)

	require.NotEmpty(t, hw.mvs)
	for i := 1; i < len(hw.mvs); i++ {
		require.LessOrEqual(t, hw.mvs[i], hw.mvs[i-1], "sample %d", i)
	}
	assert.LessOrEqual(t, res.Steps, int(s.Config().DACMax)+1)
	assert.Equal(t, int(res.DAC-startDAC), res.Steps)
}

func TestServo_MonotonicIncreasing(t *testing.T) {
	s, hw := newServo(t, nil, quiet())
	_, err := s.Enable(1000)
	require.NoError(t, err)
	startDAC := s.State().DAC

	hw.mvs = nil
	res, err := s.Update(12000)
	require.NoError(t, err)
	assert.Equal(t, StatusReached, res.Status)
	assert.GreaterOrEqual(t, res.MeasuredMv, uint16(12000-20))
	assert.LessOrEqual(t, res.MeasuredMv, uint16(12010))
	assert.Equal(t, SourceStepUp, res.Source)

	require.NotEmpty(t, hw.mvs)
	for i := 1; i < len(hw.mvs); i++ {
		require.GreaterOrEqual(t, hw.mvs[i], hw.mvs[i-1], "sample %d", i)
	}
	assert.LessOrEqual(t, res.Steps, int(s.Config().DACMax)+1)
	assert.Equal(t, int(startDAC-res.DAC), res.Steps)
}

func TestServo_SourceBoundary(t *testing.T) {
	tests := []struct {
		name    string
		targets []uint16
		want    Source
	}{
		{name: "below", targets: []uint16{4499}, want: SourceLDO},
		{name: "at", targets: []uint16{4500}, want: SourceStepUp},
		{name: "above", targets: []uint16{9000}, want: SourceStepUp},
		{name: "up then below", targets: []uint16{9000, 4499}, want: SourceLDO},
		{name: "below then at", targets: []uint16{3000, 4500}, want: SourceStepUp},
		{name: "stay up", targets: []uint16{9000, 4500}, want: SourceStepUp},
		{name: "stay low", targets: []uint16{4499, 1000}, want: SourceLDO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, hw := newServo(t, nil, sim.DefaultConfig())
			res, err := s.Enable(tt.targets[0])
			require.NoError(t, err)
			for _, mv := range tt.targets[1:] {
				res, err = s.Update(mv)
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, res.Source)
			assert.Equal(t, tt.want, s.State().Source)
			assert.Equal(t, tt.want == SourceStepUp, hw.StepUpEnabled())
			assert.True(t, hw.LDOEnabled())
			assert.Equal(t, StatusReached, res.Status)
		})
	}
}

func TestServo_Clamp(t *testing.T) {
	s, hw := newServo(t, nil, quiet())

	res, err := s.Enable(500)
	require.NoError(t, err)
	assert.True(t, res.Clamped)
	assert.Equal(t, StatusClamped, res.Status)
	assert.Equal(t, uint16(850), res.TargetMv)
	assert.InDelta(t, hw.BiasMv(), float32(res.MeasuredMv), 10, "reported voltage is a real reading")

	hw.EnableQuench()
	res, err = s.Update(100)
	require.NoError(t, err)
	assert.True(t, res.Clamped)
	assert.Equal(t, StatusUnchanged, res.Status)
	assert.False(t, hw.QuenchEnabled(), "clamping releases the quench path")
}

func TestServo_EnableNearFloorMeasures(t *testing.T) {
	// The LDO sits just under 900 mV at the start code, so all of these
	// targets are met before the first DAC step.
	tests := []struct {
		name   string
		target uint16
	}{
		{"below floor", 500},
		{"at floor", 850},
		{"floor plus 10", 860},
		{"floor plus 20", 870},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, hw := newServo(t, nil, quiet())

			res, err := s.Enable(tt.target)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, res.Steps, 1)
			require.NotEmpty(t, hw.reads)
			assert.InDelta(t, hw.BiasMv(), float32(res.MeasuredMv), 10)
			assert.Equal(t, res.MeasuredMv, s.State().MeasuredMv)
		})
	}
}

func TestServo_CoarseReadsAreNotFast(t *testing.T) {
	s, hw := newServo(t, nil, quiet())
	coarse := s.Config().Coarse.Shift

	_, err := s.Enable(3000)
	require.NoError(t, err)

	n := 0
	for i, rd := range hw.reads {
		if rd.shift == coarse {
			n++
			assert.False(t, rd.fast, "read %d", i)
		}
	}
	assert.NotZero(t, n, "a far target is approached with coarse reads")
}

func TestServo_FineReadsLatch(t *testing.T) {
	s, hw := newServo(t, nil, quiet())
	cfg := s.Config()

	_, err := s.Enable(1500)
	require.NoError(t, err)

	// Kick the first fine read of the descent back outside the approach band.
	hw.reads = nil
	hw.glitchShift = cfg.Fine.Shift
	hw.glitch = 200
	res, err := s.Update(850)
	require.NoError(t, err)
	assert.Equal(t, StatusReached, res.Status)

	first := -1
	for i, rd := range hw.reads {
		if rd.shift == cfg.Fine.Shift {
			first = i
			break
		}
	}
	require.GreaterOrEqual(t, first, 1, "descent starts with coarse reads")
	require.Less(t, first+1, len(hw.reads))
	assert.Greater(t, hw.reads[first].mv, uint16(850+cfg.ApproachMv), "glitched read")
	for i := first; i < len(hw.reads); i++ {
		assert.Equal(t, cfg.Fine.Shift, hw.reads[i].shift, "read %d", i)
	}
}

func TestServo_SaturatedIncreasing(t *testing.T) {
	s, _ := newServo(t, nil, sim.DefaultConfig())

	// The LDO tops out at 16038 mV with the DAC at zero.
	res, err := s.Enable(16500)
	require.NoError(t, err)
	assert.Equal(t, StatusSaturated, res.Status)
	assert.Zero(t, res.DAC)
	assert.Less(t, res.MeasuredMv, uint16(16480))
	assert.LessOrEqual(t, res.Steps, 4096)
	assert.Equal(t, PhaseHolding, s.State().Phase)
}

func TestServo_SaturatedDecreasing(t *testing.T) {
	s, _ := newServo(t, func(c *Config) { c.DACMax = 4010 }, sim.DefaultConfig())

	_, err := s.Enable(1500)
	require.NoError(t, err)
	res, err := s.Update(850)
	require.NoError(t, err)
	assert.Equal(t, StatusSaturated, res.Status)
	assert.Equal(t, uint16(4010), res.DAC)
	assert.Greater(t, res.MeasuredMv, uint16(850))
}

func TestServo_QuenchTimeout(t *testing.T) {
	s, hw := newServo(t, nil, sim.DefaultConfig())
	_, err := s.Enable(3000)
	require.NoError(t, err)

	hw.SetStuck(true)
	start := hw.Now()
	res, err := s.Disable()
	require.ErrorIs(t, err, ErrQuenchTimeout)
	assert.Equal(t, StatusQuenchTimeout, res.Status)
	assert.Greater(t, res.MeasuredMv, uint16(2900))
	assert.True(t, hw.QuenchEnabled())
	assert.Equal(t, PhaseOff, s.State().Phase)

	elapsed := hw.Now() - start
	assert.GreaterOrEqual(t, elapsed, 5*time.Second)
	assert.Less(t, elapsed, 6*time.Second)

	hw.SetStuck(false)
	res, err = s.Enable(2000)
	require.NoError(t, err)
	assert.False(t, hw.QuenchEnabled())
	assert.Equal(t, StatusReached, res.Status)
}

func TestServo_NotEnabled(t *testing.T) {
	s, _ := newServo(t, nil, sim.DefaultConfig())
	_, err := s.Update(1000)
	assert.ErrorIs(t, err, ErrNotEnabled)

	_, err = s.Enable(1000)
	require.NoError(t, err)
	_, err = s.Disable()
	require.NoError(t, err)
	_, err = s.Update(1000)
	assert.ErrorIs(t, err, ErrNotEnabled)
}

func TestServo_DisableWhenOff(t *testing.T) {
	s, hw := newServo(t, nil, sim.DefaultConfig())
	res, err := s.Disable()
	require.NoError(t, err)
	assert.Equal(t, StatusQuenched, res.Status)
	assert.False(t, hw.QuenchEnabled())
}

func TestServo_ReEnableResets(t *testing.T) {
	s, hw := newServo(t, nil, sim.DefaultConfig())
	_, err := s.Enable(9000)
	require.NoError(t, err)

	res, err := s.Enable(2000)
	require.NoError(t, err)
	assert.Equal(t, SourceLDO, res.Source)
	assert.False(t, hw.StepUpEnabled())
	assert.LessOrEqual(t, res.MeasuredMv, uint16(2010))
	assert.GreaterOrEqual(t, res.MeasuredMv, uint16(1980))
}

func TestPhase_CanTransition(t *testing.T) {
	tests := []struct {
		from, to Phase
		want     bool
	}{
		{PhaseOff, PhaseRamping, true},
		{PhaseOff, PhaseHolding, false},
		{PhaseOff, PhaseQuenching, true},
		{PhaseRamping, PhaseHolding, true},
		{PhaseRamping, PhaseRamping, false},
		{PhaseHolding, PhaseRamping, true},
		{PhaseHolding, PhaseHolding, true},
		{PhaseHolding, PhaseQuenching, true},
		{PhaseQuenching, PhaseOff, true},
		{PhaseQuenching, PhaseRamping, false},
		{Phase(9), PhaseOff, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "zero dac max", mutate: func(c *Config) { c.DACMax = 0 }},
		{name: "start above max", mutate: func(c *Config) { c.StartCode = c.DACMax + 1 }},
		{name: "zero min", mutate: func(c *Config) { c.MinMv = 0 }},
		{name: "zero poll", mutate: func(c *Config) { c.QuenchPollMs = 0 }},
	}

	require.NoError(t, DefaultConfig().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
