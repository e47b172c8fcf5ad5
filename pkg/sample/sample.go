// Package sample turns raw meter reports into physical readings.
package sample

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/itohio/gocapmeter/pkg/config"
	"github.com/itohio/gocapmeter/pkg/device"
)

// ErrNoSignal is returned for a report whose window saw no usable pulses.
var ErrNoSignal = errors.New("no oscillator signal")

// Reading represents one processed capacitance measurement.
type Reading struct {
	Timestamp   time.Time
	Capacitance float64 // F
	Frequency   float64 // oscillator frequency (Hz)
	FallTime    float64 // mean falling half-cycle (s)
	RangeOhms   uint32  // reference resistor of the window
}

// Converter is a function type that converts a report channel to a Reading channel.
type Converter func(in <-chan device.Report) <-chan Reading

// NewConverter creates a converter function that transforms reports to readings.
func NewConverter(cfg *config.Config, bufSize int) Converter {
	if bufSize <= 0 {
		bufSize = 100
	}
	timerHz := cfg.Meter.TimerHz

	return func(in <-chan device.Report) <-chan Reading {
		out := make(chan Reading, bufSize)

		go func() {
			defer close(out)

			for r := range in {
				reading, err := Convert(r, timerHz)
				if err != nil {
					log.Printf("Failed to convert report: %v", err)
					continue
				}

				select {
				case out <- reading:
				case <-time.After(time.Second):
					log.Printf("Converter output channel full, dropping reading")
				}
			}
		}()

		return out
	}
}

// Convert computes the reading of one report. timerHz is the pulse capture
// timer clock.
func Convert(r device.Report, timerHz float64) (Reading, error) {
	c := r.Capacitance(float32(timerHz))
	if c <= 0 {
		return Reading{}, fmt.Errorf("%w: %d edges, %d ticks on %d ohm", ErrNoSignal,
			r.FrequencyCount, r.FallAccumulated, r.ResistorOhms())
	}

	return Reading{
		Timestamp:   r.Timestamp,
		Capacitance: float64(c),
		Frequency:   float64(r.OscillatorHz()),
		FallTime:    float64(r.FallTime(float32(timerHz))),
		RangeOhms:   r.ResistorOhms(),
	}, nil
}
