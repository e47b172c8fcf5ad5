// Package scope is a fyne widget plotting capacitance readings over time.
package scope

import (
	"image/color"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/widget"

	"github.com/itohio/gocapmeter/pkg/config"
	"github.com/itohio/gocapmeter/pkg/meter"
	"github.com/itohio/gocapmeter/pkg/sample"
)

// ScopeWidget is a custom Fyne widget that displays the capacitance trend.
type ScopeWidget struct {
	widget.BaseWidget

	window time.Duration

	// Data (protected by mu)
	mu             sync.RWMutex
	stats          meter.Stats
	displayReading []sample.Reading // reused for downsampling

	yMin, yMax float64
	xMin, xMax time.Time

	maxDisplayPoints int
}

// New creates a new ScopeWidget instance.
func New(cfg *config.Config) *ScopeWidget {
	points := cfg.Meter.MaxPoints
	if points <= 0 {
		points = 1000
	}
	s := &ScopeWidget{
		window:           time.Duration(cfg.Meter.WindowSeconds * float64(time.Second)),
		displayReading:   make([]sample.Reading, 0, points),
		maxDisplayPoints: points,
	}
	s.yMin, s.yMax, s.xMin, s.xMax = autoScale(nil, s.window)
	s.ExtendBaseWidget(s)
	s.Refresh()
	return s
}

// UpdateData updates the widget with new measurement data.
// This should be called from the meter callback using fyne.Do().
func (s *ScopeWidget) UpdateData(readings []sample.Reading, stats meter.Stats) {
	s.mu.Lock()
	s.displayReading = sample.Downsample(s.displayReading, readings, s.maxDisplayPoints)
	s.stats = stats
	s.yMin, s.yMax, s.xMin, s.xMax = autoScale(s.displayReading, s.window)
	s.mu.Unlock()

	// Refresh outside the lock, the renderer takes a read lock.
	s.Refresh()
}

// autoScale returns the plot ranges for readings: the capacitance span with
// a 10% margin and at least window of time.
func autoScale(readings []sample.Reading, window time.Duration) (yMin, yMax float64, xMin, xMax time.Time) {
	if len(readings) == 0 {
		now := time.Now()
		return 0, 1e-9, now, now.Add(window)
	}

	yMin, yMax = readings[0].Capacitance, readings[0].Capacitance
	for _, r := range readings {
		yMin = min(yMin, r.Capacitance)
		yMax = max(yMax, r.Capacitance)
	}

	span := yMax - yMin
	if span == 0 {
		span = yMax * 0.01
		if span == 0 {
			span = 1e-12
		}
	}
	margin := span * 0.1
	yMin -= margin
	yMax += margin

	xMin = readings[0].Timestamp
	xMax = readings[len(readings)-1].Timestamp
	if xMax.Sub(xMin) < window {
		xMax = xMin.Add(window)
	}
	return yMin, yMax, xMin, xMax
}

// CreateRenderer creates the widget renderer.
func (s *ScopeWidget) CreateRenderer() fyne.WidgetRenderer {
	grid := canvas.NewRectangle(color.RGBA{R: 20, G: 20, B: 20, A: 255}) // Dark background
	return &scopeRenderer{
		scope:   s,
		grid:    grid,
		objects: []fyne.CanvasObject{grid},
	}
}
