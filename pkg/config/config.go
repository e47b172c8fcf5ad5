package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/itohio/gocapmeter/pkg/capacitance"
	"github.com/itohio/gocapmeter/pkg/current"
	"github.com/itohio/gocapmeter/pkg/hal"
	"github.com/itohio/gocapmeter/pkg/instrument"
	"github.com/itohio/gocapmeter/pkg/sim"
	"github.com/itohio/gocapmeter/pkg/vbias"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid config")

// Config represents the application configuration.
type Config struct {
	Serial SerialConfig `yaml:"serial"`

	// Instrument carries the capacitance, servo and current sections at the
	// top level of the file.
	Instrument instrument.Config `yaml:",inline"`

	Calibration hal.StaticCalibration `yaml:"calibration"`
	Meter       MeterConfig           `yaml:"meter"`
	Sim         sim.Config            `yaml:"sim"`
	Mock        MockConfig            `yaml:"mock"`
}

// SerialConfig contains serial port configuration.
type SerialConfig struct {
	Port         string        `yaml:"port"`
	Baud         int           `yaml:"baud"`
	ReplyTimeout time.Duration `yaml:"reply_timeout"`
}

// MeterConfig contains host side measurement parameters.
type MeterConfig struct {
	WindowSeconds   float64 `yaml:"window_seconds"`
	SettleThreshold float64 `yaml:"settle_threshold"` // relative standard deviation
	AverageSamples  int     `yaml:"average_samples"`  // 0 disables averaging
	TimerHz         float64 `yaml:"timer_hz"`         // pulse capture timer clock
	MaxPoints       int     `yaml:"max_points"`       // plot decimation limit
}

// MockConfig contains mock device pacing. Every Tick of wall time the
// simulated board advances Tick*Speedup.
type MockConfig struct {
	Tick    time.Duration `yaml:"tick"`
	Speedup float64       `yaml:"speedup"`
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:         "/dev/ttyACM0",
			Baud:         115200,
			ReplyTimeout: 10 * time.Second, // a stuck quench takes 5 s to report
		},
		Instrument:  instrument.DefaultConfig(),
		Calibration: *hal.DefaultCalibration(),
		Meter: MeterConfig{
			WindowSeconds:   30,
			SettleThreshold: 0.002,
			AverageSamples:  0,
			TimerHz:         32e6,
			MaxPoints:       1000,
		},
		Sim: sim.DefaultConfig(),
		Mock: MockConfig{
			Tick:    50 * time.Millisecond,
			Speedup: 1,
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate rejects values the firmware engine or the host pipeline cannot run with.
func (c *Config) Validate() error {
	if err := c.Instrument.Capacitance.Validate(); err != nil {
		return fmt.Errorf("%w: capacitance: %w", ErrInvalid, err)
	}
	if err := c.Instrument.Servo.Validate(); err != nil {
		return fmt.Errorf("%w: servo: %w", ErrInvalid, err)
	}
	if c.Instrument.Current.Shift > current.MaxShift {
		return fmt.Errorf("%w: current shift %d above %d", ErrInvalid, c.Instrument.Current.Shift, current.MaxShift)
	}
	if c.Calibration.FirstThreshold >= c.Calibration.SecondThreshold {
		return fmt.Errorf("%w: calibration thresholds %d >= %d", ErrInvalid,
			c.Calibration.FirstThreshold, c.Calibration.SecondThreshold)
	}
	if c.Meter.TimerHz <= 0 {
		return fmt.Errorf("%w: meter timer_hz must be positive", ErrInvalid)
	}
	if c.Meter.WindowSeconds <= 0 {
		return fmt.Errorf("%w: meter window_seconds must be positive", ErrInvalid)
	}
	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.Baud == 0 {
		c.Serial.Baud = def.Serial.Baud
	}
	if c.Serial.ReplyTimeout == 0 {
		c.Serial.ReplyTimeout = def.Serial.ReplyTimeout
	}

	ensureCapacitance(&c.Instrument.Capacitance, def.Instrument.Capacitance)
	ensureServo(&c.Instrument.Servo, def.Instrument.Servo)

	if c.Calibration.Scale == 0 && c.Calibration.FracDen == 0 {
		c.Calibration = def.Calibration
	}

	if c.Meter.WindowSeconds == 0 {
		c.Meter.WindowSeconds = def.Meter.WindowSeconds
	}
	if c.Meter.SettleThreshold == 0 {
		c.Meter.SettleThreshold = def.Meter.SettleThreshold
	}
	if c.Meter.TimerHz == 0 {
		c.Meter.TimerHz = def.Meter.TimerHz
	}
	if c.Meter.MaxPoints == 0 {
		c.Meter.MaxPoints = def.Meter.MaxPoints
	}

	if len(c.Sim.RangeOhms) == 0 {
		c.Sim.RangeOhms = def.Sim.RangeOhms
	}
	if c.Sim.TimerHz == 0 {
		c.Sim.TimerHz = def.Sim.TimerHz
	}

	if c.Mock.Tick == 0 {
		c.Mock.Tick = def.Mock.Tick
	}
	if c.Mock.Speedup == 0 {
		c.Mock.Speedup = def.Mock.Speedup
	}
}

func ensureCapacitance(c *capacitance.Config, def capacitance.Config) {
	if len(c.Ranges) == 0 {
		c.Ranges = def.Ranges
	}
	if c.MaxHz == 0 {
		c.MaxHz = def.MaxHz
	}
	if c.Hysteresis == 0 {
		c.Hysteresis = def.Hysteresis
	}
	if c.WindowHz == 0 {
		c.WindowHz = def.WindowHz
	}
	if c.CounterDivider == 0 {
		c.CounterDivider = def.CounterDivider
	}
}

func ensureServo(c *vbias.Config, def vbias.Config) {
	if c.DACMax == 0 {
		c.DACMax = def.DACMax
	}
	if c.MinMv == 0 {
		c.MinMv = def.MinMv
	}
	if c.QuenchPollMs == 0 {
		c.QuenchPollMs = def.QuenchPollMs
	}
	if c.Coarse.Shift == 0 {
		c.Coarse = def.Coarse
	}
	if c.Fine.Shift == 0 {
		c.Fine = def.Fine
	}
}
