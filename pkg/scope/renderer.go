package scope

import (
	"image/color"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"

	"github.com/itohio/gocapmeter/pkg/meter"
	"github.com/itohio/gocapmeter/pkg/sample"
)

var (
	gridColor    = color.RGBA{R: 40, G: 40, B: 40, A: 255}
	labelColor   = color.RGBA{R: 150, G: 150, B: 150, A: 255}
	traceColor   = color.RGBA{R: 255, G: 165, B: 0, A: 255}   // Orange
	meanColor    = color.RGBA{R: 100, G: 200, B: 255, A: 255} // Light blue
	settledColor = color.RGBA{R: 80, G: 220, B: 120, A: 255}
)

// scopeRenderer renders the scope widget.
type scopeRenderer struct {
	scope *ScopeWidget

	grid    *canvas.Rectangle
	objects []fyne.CanvasObject

	// Track last size to detect changes
	lastSize fyne.Size
}

// plot is the drawing area and its value ranges.
type plot struct {
	x, y, w, h float32
	yMin, yMax float64
	xMin, xMax time.Time
}

func (p plot) pos(t time.Time, v float64) fyne.Position {
	x := p.x + float32(t.Sub(p.xMin).Seconds()/p.xMax.Sub(p.xMin).Seconds())*p.w
	y := p.y + p.h - float32((v-p.yMin)/(p.yMax-p.yMin))*p.h
	return fyne.NewPos(x, y)
}

// MinSize returns the minimum size of the widget.
func (r *scopeRenderer) MinSize() fyne.Size {
	return fyne.NewSize(400, 300)
}

// Layout arranges the widget components.
func (r *scopeRenderer) Layout(size fyne.Size) {
	r.grid.Resize(size)

	if r.lastSize != size {
		r.lastSize = size
		r.scope.BaseWidget.Refresh()
	}
}

// Refresh updates the widget display.
func (r *scopeRenderer) Refresh() {
	r.scope.mu.RLock()
	readings := r.scope.displayReading
	stats := r.scope.stats
	p := plot{
		yMin: r.scope.yMin, yMax: r.scope.yMax,
		xMin: r.scope.xMin, xMax: r.scope.xMax,
	}
	r.scope.mu.RUnlock()

	size := r.scope.Size()
	if size.Width == 0 || size.Height == 0 {
		return
	}

	r.objects = []fyne.CanvasObject{r.grid}

	const (
		marginLeft   = 70
		marginRight  = 20
		marginTop    = 30
		marginBottom = 40
	)
	p.x, p.y = marginLeft, marginTop
	p.w = size.Width - marginLeft - marginRight
	p.h = size.Height - marginTop - marginBottom

	r.drawGrid(p)
	if stats.Count > 1 {
		r.drawMean(p, readings, stats)
	}
	if len(readings) > 1 {
		r.drawTrace(p, readings)
	}
	r.drawStats(p, stats, readings)
}

// drawGrid draws the oscilloscope-style grid.
func (r *scopeRenderer) drawGrid(p plot) {
	numHLines := 8
	for i := range numHLines + 1 {
		y := p.y + float32(i)*p.h/float32(numHLines)
		r.line(gridColor, 1, fyne.NewPos(p.x, y), fyne.NewPos(p.x+p.w, y))

		value := p.yMax - float64(i)*(p.yMax-p.yMin)/float64(numHLines)
		text := canvas.NewText(sample.FormatCapacitance(value), labelColor)
		text.TextSize = 10
		text.Alignment = fyne.TextAlignTrailing
		text.Move(fyne.NewPos(p.x-5, y-6))
		r.objects = append(r.objects, text)
	}

	numVLines := 10
	span := p.xMax.Sub(p.xMin)
	for i := range numVLines + 1 {
		x := p.x + float32(i)*p.w/float32(numVLines)
		r.line(gridColor, 1, fyne.NewPos(x, p.y), fyne.NewPos(x, p.y+p.h))

		offset := span * time.Duration(i) / time.Duration(numVLines)
		text := canvas.NewText(formatTime(offset), labelColor)
		text.TextSize = 10
		text.Alignment = fyne.TextAlignCenter
		text.Move(fyne.NewPos(x-20, p.y+p.h+5))
		r.objects = append(r.objects, text)
	}
}

// drawTrace draws the capacitance readings (orange).
func (r *scopeRenderer) drawTrace(p plot, readings []sample.Reading) {
	prev := p.pos(readings[0].Timestamp, readings[0].Capacitance)
	for _, rd := range readings[1:] {
		next := p.pos(rd.Timestamp, rd.Capacitance)
		r.line(traceColor, 1.5, prev, next)
		prev = next
	}
}

// drawMean draws the window mean and the one sigma band (light blue).
func (r *scopeRenderer) drawMean(p plot, readings []sample.Reading, stats meter.Stats) {
	if len(readings) == 0 {
		return
	}
	t0, t1 := readings[0].Timestamp, readings[len(readings)-1].Timestamp
	r.line(meanColor, 2, p.pos(t0, stats.Mean), p.pos(t1, stats.Mean))
	for _, v := range []float64{stats.Mean - stats.StdDev, stats.Mean + stats.StdDev} {
		r.line(meanColor, 0.5, p.pos(t0, v), p.pos(t1, v))
	}
}

// drawStats prints the latest value, the range and the settle state.
func (r *scopeRenderer) drawStats(p plot, stats meter.Stats, readings []sample.Reading) {
	if len(readings) == 0 {
		return
	}
	last := readings[len(readings)-1]

	label := sample.FormatCapacitance(stats.Mean) + " ± " + sample.FormatCapacitance(stats.StdDev) +
		"   R=" + sample.FormatOhms(last.RangeOhms)
	c := labelColor
	if stats.Settled {
		label += "   settled"
		c = settledColor
	}
	text := canvas.NewText(label, c)
	text.TextSize = 12
	text.Move(fyne.NewPos(p.x+10, p.y-22))
	r.objects = append(r.objects, text)
}

func (r *scopeRenderer) line(c color.Color, width float32, from, to fyne.Position) {
	l := canvas.NewLine(c)
	l.Position1 = from
	l.Position2 = to
	l.StrokeWidth = width
	r.objects = append(r.objects, l)
}

// Objects returns all canvas objects for rendering.
func (r *scopeRenderer) Objects() []fyne.CanvasObject {
	return r.objects
}

// Destroy cleans up resources.
func (r *scopeRenderer) Destroy() {}
