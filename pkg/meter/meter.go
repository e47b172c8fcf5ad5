// Package meter keeps a time window of capacitance readings and derives
// statistics and a settle indication from it.
package meter

import (
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/itohio/gocapmeter/pkg/config"
	"github.com/itohio/gocapmeter/pkg/sample"
)

var _ CapacitanceMeter = (*Meter)(nil)

// MinSettleReadings is the smallest window that can be reported settled.
const MinSettleReadings = 3

// Stats summarizes the readings inside the window.
type Stats struct {
	Count    int
	Mean     float64 // F
	StdDev   float64 // F
	Relative float64 // StdDev / Mean
	Min      float64 // F
	Max      float64 // F
	Drift    float64 // least squares slope, F/s
	Settled  bool
}

// CapacitanceMeter processes readings, maintains the window and its statistics.
type CapacitanceMeter interface {
	ProcessReadings(input <-chan sample.Reading)
	// Readings returns the current window, oldest first.
	Readings() []sample.Reading
	// Derivatives returns dC/dt between consecutive readings, n-1 for n readings.
	Derivatives() []float64
	Stats() Stats
	OnUpdate(func(readings []sample.Reading, derivatives []float64, stats Stats))
}

// Meter implements CapacitanceMeter.
//
// readings and derivatives are FIFO buffers ordered oldest first. Removal
// is by timestamp. derivative[i] is the change from reading[i] to
// reading[i+1].
type Meter struct {
	readings    []sample.Reading
	derivatives []float64
	stats       Stats

	mu sync.RWMutex

	callbacks []func(readings []sample.Reading, derivatives []float64, stats Stats)
	cbMu      sync.RWMutex

	windowDuration time.Duration
	threshold      float64

	// Set when the input channel closes, prevents further callbacks.
	shutdown bool
}

// New creates a new Meter.
func New(cfg *config.Config) *Meter {
	return &Meter{
		readings:       make([]sample.Reading, 0),
		derivatives:    make([]float64, 0),
		windowDuration: time.Duration(cfg.Meter.WindowSeconds * float64(time.Second)),
		threshold:      cfg.Meter.SettleThreshold,
	}
}

// Configure applies new window and settle parameters. Readings already in
// the window are kept until they age out.
func (m *Meter) Configure(cfg *config.Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windowDuration = time.Duration(cfg.Meter.WindowSeconds * float64(time.Second))
	m.threshold = cfg.Meter.SettleThreshold
}

// ProcessReadings consumes readings until the input channel closes.
func (m *Meter) ProcessReadings(input <-chan sample.Reading) {
	for r := range input {
		m.processReading(r)
	}
	m.mu.Lock()
	m.shutdown = true
	m.mu.Unlock()
}

// Reset clears the window, e.g. after the device under test was replaced.
func (m *Meter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readings = m.readings[:0]
	m.derivatives = m.derivatives[:0]
	m.stats = Stats{}
}

func (m *Meter) processReading(r sample.Reading) {
	m.mu.Lock()

	// A range change invalidates the window.
	if n := len(m.readings); n > 0 && m.readings[n-1].RangeOhms != r.RangeOhms {
		m.readings = m.readings[:0]
		m.derivatives = m.derivatives[:0]
	}

	m.readings = append(m.readings, r)

	cutoff := r.Timestamp.Add(-m.windowDuration)
	cut := 0
	for cut < len(m.readings)-1 && !m.readings[cut].Timestamp.After(cutoff) {
		cut++
	}
	if cut > 0 {
		m.readings = m.readings[cut:]
		if cut <= len(m.derivatives) {
			m.derivatives = m.derivatives[cut:]
		} else {
			m.derivatives = m.derivatives[:0]
		}
	}

	if n := len(m.readings); n >= 2 {
		prev, curr := m.readings[n-2], m.readings[n-1]
		dt := curr.Timestamp.Sub(prev.Timestamp).Seconds()
		d := 0.0
		if dt > 0 {
			d = (curr.Capacitance - prev.Capacitance) / dt
		}
		m.derivatives = append(m.derivatives, d)
		if len(m.derivatives) > n-1 {
			m.derivatives = m.derivatives[len(m.derivatives)-(n-1):]
		}
	}

	m.stats = computeStats(m.readings, m.threshold)
	notify := !m.shutdown
	m.mu.Unlock()

	if notify {
		m.notifyCallbacks()
	}
}

// computeStats summarizes readings. Settled requires MinSettleReadings and
// a relative deviation below threshold.
func computeStats(readings []sample.Reading, threshold float64) Stats {
	n := len(readings)
	if n == 0 {
		return Stats{}
	}

	c := make([]float64, n)
	ts := make([]float64, n)
	t0 := readings[0].Timestamp
	s := Stats{Count: n, Min: readings[0].Capacitance, Max: readings[0].Capacitance}
	for i, r := range readings {
		c[i] = r.Capacitance
		ts[i] = r.Timestamp.Sub(t0).Seconds()
		s.Min = min(s.Min, r.Capacitance)
		s.Max = max(s.Max, r.Capacitance)
	}

	if n == 1 {
		s.Mean = c[0]
		return s
	}

	s.Mean, s.StdDev = stat.MeanStdDev(c, nil)
	if s.Mean != 0 {
		s.Relative = s.StdDev / s.Mean
	}
	if ts[n-1] > 0 {
		_, s.Drift = stat.LinearRegression(ts, c, nil, false)
	}
	s.Settled = n >= MinSettleReadings && s.Relative < threshold
	return s
}

// Readings returns a copy of the current window.
func (m *Meter) Readings() []sample.Reading {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]sample.Reading, len(m.readings))
	copy(result, m.readings)
	return result
}

// Derivatives returns a copy of the current derivatives buffer.
func (m *Meter) Derivatives() []float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]float64, len(m.derivatives))
	copy(result, m.derivatives)
	return result
}

// Stats returns the statistics of the current window.
func (m *Meter) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// OnUpdate registers a callback invoked after every processed reading.
// The callback should copy data quickly and return as fast as possible.
func (m *Meter) OnUpdate(callback func(readings []sample.Reading, derivatives []float64, stats Stats)) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.callbacks = append(m.callbacks, callback)
}

// ResetShutdown resets the shutdown flag, allowing callbacks to be sent again.
// This should be called before starting a new measurement chain.
func (m *Meter) ResetShutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdown = false
}

// notifyCallbacks copies the window under the read lock, then calls the
// callbacks without holding any lock.
func (m *Meter) notifyCallbacks() {
	m.mu.RLock()
	readings := make([]sample.Reading, len(m.readings))
	copy(readings, m.readings)
	derivatives := make([]float64, len(m.derivatives))
	copy(derivatives, m.derivatives)
	stats := m.stats
	m.mu.RUnlock()

	m.cbMu.RLock()
	callbacks := make([]func([]sample.Reading, []float64, Stats), len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.cbMu.RUnlock()

	for _, cb := range callbacks {
		if cb != nil {
			cb(readings, derivatives, stats)
		}
	}
}
