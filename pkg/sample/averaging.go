package sample

import (
	"log"

	"gonum.org/v1/gonum/stat"

	"github.com/itohio/gocapmeter/pkg/config"
	"github.com/itohio/gocapmeter/pkg/device"
)

// NewAveragingConverter creates a converter that outputs the moving average
// of the last windowSize readings for every report received. A range change
// restarts the average, since readings on different resistors carry
// different systematic errors.
func NewAveragingConverter(cfg *config.Config, windowSize int, bufSize int) Converter {
	if windowSize <= 0 {
		windowSize = 1 // No averaging if invalid
	}
	if bufSize <= 0 {
		bufSize = 100
	}
	timerHz := cfg.Meter.TimerHz

	return func(in <-chan device.Report) <-chan Reading {
		out := make(chan Reading, bufSize)

		go func() {
			defer close(out)

			var buffer []Reading
			for r := range in {
				reading, err := Convert(r, timerHz)
				if err != nil {
					log.Printf("Failed to convert report: %v", err)
					continue
				}

				if len(buffer) > 0 && buffer[len(buffer)-1].RangeOhms != reading.RangeOhms {
					buffer = buffer[:0]
				}
				buffer = append(buffer, reading)
				if len(buffer) > windowSize {
					buffer = buffer[1:] // Remove oldest
				}

				select {
				case out <- Average(buffer):
				default:
					log.Printf("Averaging converter output channel full")
				}
			}
		}()

		return out
	}
}

// Average averages readings. The result carries the most recent timestamp
// and range.
func Average(readings []Reading) Reading {
	if len(readings) == 0 {
		return Reading{}
	}

	c := make([]float64, len(readings))
	f := make([]float64, len(readings))
	ft := make([]float64, len(readings))
	for i, r := range readings {
		c[i], f[i], ft[i] = r.Capacitance, r.Frequency, r.FallTime
	}

	last := readings[len(readings)-1]
	return Reading{
		Timestamp:   last.Timestamp,
		Capacitance: stat.Mean(c, nil),
		Frequency:   stat.Mean(f, nil),
		FallTime:    stat.Mean(ft, nil),
		RangeOhms:   last.RangeOhms,
	}
}
