// Package report carries one capacitance window from the meter to the host.
//
// The meter does not compute capacitance. It sends the raw window values
// and the calibration thresholds; the host does the arithmetic. On the wire
// a report is a SYNC line followed by one decimal value per line:
//
//	SYNC
//	<counter divider>
//	<fall accumulated ticks>
//	<frequency counter>
//	<resistor half value, ohms>
//	<second threshold>
//	<first threshold>
//	<measurement frequency, Hz>
package report

import (
	"errors"
	"strconv"

	"github.com/chewxy/math32"
)

// SyncMarker starts every report block.
const SyncMarker = "SYNC"

// NumFields is the number of value lines following the marker.
const NumFields = 7

var (
	// ErrMalformed is returned for a report line that is not an unsigned number.
	ErrMalformed = errors.New("malformed report")
	// ErrTruncated is returned when a block ends before all fields arrived.
	ErrTruncated = errors.New("truncated report")
)

// Report is one window's raw measurement.
type Report struct {
	CounterDivider   uint32 // pulse timer prescaler
	FallAccumulated  uint32 // summed falling half-cycle widths, timer ticks
	FrequencyCount   uint32 // oscillator cycles counted in the window
	ResistorHalfOhms uint32 // half of the selected reference resistor
	SecondThreshold  uint16 // upper comparator threshold, DAC code
	FirstThreshold   uint16 // lower comparator threshold, DAC code
	MeasurementHz    uint16 // windows per second
}

// AppendTo appends the wire form of r to b.
func (r Report) AppendTo(b []byte) []byte {
	b = append(b, SyncMarker...)
	b = append(b, '\r', '\n')
	for _, v := range r.fields() {
		b = strconv.AppendUint(b, uint64(v), 10)
		b = append(b, '\r', '\n')
	}
	return b
}

func (r Report) fields() [NumFields]uint32 {
	return [NumFields]uint32{
		r.CounterDivider,
		r.FallAccumulated,
		r.FrequencyCount,
		r.ResistorHalfOhms,
		uint32(r.SecondThreshold),
		uint32(r.FirstThreshold),
		uint32(r.MeasurementHz),
	}
}

func fromFields(v [NumFields]uint32) Report {
	return Report{
		CounterDivider:   v[0],
		FallAccumulated:  v[1],
		FrequencyCount:   v[2],
		ResistorHalfOhms: v[3],
		SecondThreshold:  uint16(v[4]),
		FirstThreshold:   uint16(v[5]),
		MeasurementHz:    uint16(v[6]),
	}
}

// ResistorOhms returns the reference resistor value.
func (r Report) ResistorOhms() uint32 {
	return r.ResistorHalfOhms * 2
}

// OscillatorHz returns the oscillator frequency implied by the window.
func (r Report) OscillatorHz() float32 {
	return float32(r.FrequencyCount) * float32(r.MeasurementHz)
}

// FallTime returns the mean falling half-cycle duration in seconds for a
// pulse timer clocked at timerHz before the prescaler.
func (r Report) FallTime(timerHz float32) float32 {
	if r.FrequencyCount == 0 || timerHz <= 0 {
		return 0
	}
	div := float32(r.CounterDivider)
	if div == 0 {
		div = 1
	}
	ticks := float32(r.FallAccumulated) / float32(r.FrequencyCount)
	return ticks * div / timerHz
}

// Capacitance returns the capacitance in farads. The falling half-cycle is
// an RC discharge from the second to the first threshold:
//
//	t = R * C * ln(second/first)
//
// Zero is returned when the report cannot yield a value.
func (r Report) Capacitance(timerHz float32) float32 {
	if r.FirstThreshold == 0 || r.SecondThreshold <= r.FirstThreshold {
		return 0
	}
	ohms := float32(r.ResistorOhms())
	if ohms == 0 {
		return 0
	}
	ln := math32.Log(float32(r.SecondThreshold) / float32(r.FirstThreshold))
	return r.FallTime(timerHz) / (ohms * ln)
}
