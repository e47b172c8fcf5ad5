package sample

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/gocapmeter/pkg/config"
	"github.com/itohio/gocapmeter/pkg/device"
)

func TestAverage(t *testing.T) {
	now := time.Now()
	readings := []Reading{
		{Timestamp: now, Capacitance: 1e-9, Frequency: 100, FallTime: 1e-3, RangeOhms: 1000},
		{Timestamp: now.Add(time.Second), Capacitance: 2e-9, Frequency: 200, FallTime: 2e-3, RangeOhms: 1000},
		{Timestamp: now.Add(2 * time.Second), Capacitance: 3e-9, Frequency: 300, FallTime: 3e-3, RangeOhms: 1000},
	}

	avg := Average(readings)
	assert.Equal(t, now.Add(2*time.Second), avg.Timestamp)
	assert.InDelta(t, 2e-9, avg.Capacitance, 1e-15)
	assert.InDelta(t, 200, avg.Frequency, 1e-9)
	assert.InDelta(t, 2e-3, avg.FallTime, 1e-12)
	assert.Equal(t, uint32(1000), avg.RangeOhms)

	assert.Equal(t, Reading{}, Average(nil))
}

func TestNewAveragingConverter(t *testing.T) {
	tests := []struct {
		name     string
		window   int
		falls    []uint32
		wantLast float64 // fall ticks of the final average
	}{
		{name: "window 3", window: 3, falls: []uint32{1000, 2000, 3000, 4000, 5000}, wantLast: 4000},
		{name: "window larger than input", window: 10, falls: []uint32{1000, 2000, 3000}, wantLast: 2000},
		{name: "invalid window", window: 0, falls: []uint32{1000, 7000}, wantLast: 7000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			converter := NewAveragingConverter(config.Default(), tt.window, 10)
			in := make(chan device.Report, len(tt.falls))
			out := converter(in)

			now := time.Now()
			for i, f := range tt.falls {
				r := tenNano(now.Add(time.Duration(i) * time.Second))
				r.FallAccumulated = f
				r.FrequencyCount = 1
				in <- r
			}
			close(in)

			var got []Reading
			for r := range out {
				got = append(got, r)
			}
			require.Len(t, got, len(tt.falls))
			assert.InEpsilon(t, tt.wantLast/32e6, got[len(got)-1].FallTime, 1e-4)
		})
	}
}

func TestNewAveragingConverter_RangeChangeRestarts(t *testing.T) {
	converter := NewAveragingConverter(config.Default(), 5, 10)
	in := make(chan device.Report, 3)
	out := converter(in)

	now := time.Now()
	a := tenNano(now)
	b := tenNano(now.Add(time.Second))
	b.ResistorHalfOhms = 50000
	b.FallAccumulated *= 10
	in <- a
	in <- tenNano(now)
	in <- b
	close(in)

	var got []Reading
	for r := range out {
		got = append(got, r)
	}
	require.Len(t, got, 3)
	last := got[2]
	assert.Equal(t, uint32(100000), last.RangeOhms)
	assert.InEpsilon(t, 10*197357.0/100/32e6, last.FallTime, 1e-4, "only the new range is averaged")
}

// TestConverter_GracefulShutdown tests that converters close their output
// channel when the input channel is closed.
func TestConverter_GracefulShutdown(t *testing.T) {
	cfg := config.Default()
	for name, conv := range map[string]Converter{
		"plain":     NewConverter(cfg, 10),
		"averaging": NewAveragingConverter(cfg, 4, 10),
	} {
		t.Run(name, func(t *testing.T) {
			in := make(chan device.Report)
			out := conv(in)

			go func() {
				for i := range 3 {
					in <- tenNano(time.Now().Add(time.Duration(i) * time.Second))
				}
				close(in)
			}()

			count := 0
			done := make(chan struct{})
			go func() {
				defer close(done)
				for range out {
					count++
				}
			}()

			select {
			case <-done:
			case <-time.After(5 * time.Second):
				t.Fatal("Output channel did not close within timeout")
			}
			assert.Equal(t, 3, count)
		})
	}
}
