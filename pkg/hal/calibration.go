package hal

// Calibration supplies the per-board constants the engine needs. The same
// millivolt conversion is used by the bias servo and by host reporting.
type Calibration interface {
	FirstThresholdUp() uint16
	SecondThresholdUp() uint16
	Millivolts(code uint16) uint16
}

// StaticCalibration is a fixed set of calibration values.
//
// The vbias conversion is code*Scale + code*FracNum/FracDen millivolts, an
// integer form of the divider ratio that fits 16-bit arithmetic on the MCU.
type StaticCalibration struct {
	FirstThreshold  uint16 `yaml:"first_threshold"`
	SecondThreshold uint16 `yaml:"second_threshold"`
	Scale           uint16 `yaml:"scale"`
	FracNum         uint16 `yaml:"frac_num"`
	FracDen         uint16 `yaml:"frac_den"`
}

var _ Calibration = (*StaticCalibration)(nil)

// DefaultCalibration returns the nominal values for an uncalibrated board:
// thresholds at the middle of their tolerance windows and the 16.2/1.2
// divider with a 1.24 V reference.
func DefaultCalibration() *StaticCalibration {
	return &StaticCalibration{
		FirstThreshold:  1929,
		SecondThreshold: 3574,
		Scale:           4,
		FracNum:         16,
		FracDen:         182,
	}
}

// FirstThresholdUp returns the lower comparator threshold DAC code.
func (c *StaticCalibration) FirstThresholdUp() uint16 {
	return c.FirstThreshold
}

// SecondThresholdUp returns the upper comparator threshold DAC code.
func (c *StaticCalibration) SecondThresholdUp() uint16 {
	return c.SecondThreshold
}

// Millivolts converts a vbias ADC code to millivolts.
func (c *StaticCalibration) Millivolts(code uint16) uint16 {
	v := uint32(code) * uint32(c.Scale)
	if c.FracDen != 0 {
		v += uint32(code) * uint32(c.FracNum) / uint32(c.FracDen)
	}
	if v > 0xFFFF {
		return 0xFFFF
	}
	return uint16(v)
}

// Code is the inverse of Millivolts, rounded down. Used by simulators.
func (c *StaticCalibration) Code(mv uint16) uint16 {
	den := uint32(c.FracDen)
	if den == 0 {
		if c.Scale == 0 {
			return 0
		}
		return uint16(uint32(mv) / uint32(c.Scale))
	}
	num := uint32(c.Scale)*den + uint32(c.FracNum)
	if num == 0 {
		return 0
	}
	code := uint32(mv) * den / num
	if code > 0xFFFF {
		return 0xFFFF
	}
	return uint16(code)
}
