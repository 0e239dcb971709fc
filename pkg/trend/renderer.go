package trend

import (
	"image/color"
	"strconv"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"github.com/chewxy/math32"
	"github.com/itohio/pumpctl/pkg/history"
)

const (
	marginLeft   = float32(60)
	marginRight  = float32(60)
	marginTop    = float32(24)
	marginBottom = float32(32)
	gridRows     = 5
	gridCols     = 10
)

type renderer struct {
	trend    *Widget
	bg       *canvas.Rectangle
	objects  []fyne.CanvasObject
	lastSize fyne.Size
}

// plotArea is the rectangle inside the margins.
type plotArea struct {
	x, y, w, h float32
}

func newPlotArea(size fyne.Size) plotArea {
	return plotArea{
		x: marginLeft,
		y: marginTop,
		w: math32.Max(size.Width-marginLeft-marginRight, 1),
		h: math32.Max(size.Height-marginTop-marginBottom, 1),
	}
}

// yFor maps v on a [0, max] axis to a screen y, clamped to the plot.
func (p plotArea) yFor(v, max float64) float32 {
	if max <= 0 {
		return p.y + p.h
	}
	f := math32.Min(math32.Max(float32(v/max), 0), 1)
	return p.y + p.h - f*p.h
}

// xFor maps t within [from, to] to a screen x.
func (p plotArea) xFor(t, from, to time.Time) float32 {
	span := to.Sub(from).Seconds()
	if span <= 0 {
		return p.x + p.w
	}
	f := float32(t.Sub(from).Seconds() / span)
	return p.x + math32.Min(math32.Max(f, 0), 1)*p.w
}

func (r *renderer) MinSize() fyne.Size {
	return fyne.NewSize(400, 240)
}

func (r *renderer) Layout(size fyne.Size) {
	r.bg.Resize(size)
	if r.lastSize != size {
		r.lastSize = size
		r.trend.BaseWidget.Refresh()
	}
}

func (r *renderer) Refresh() {
	r.trend.mu.RLock()
	pts := append([]history.Point(nil), r.trend.display...)
	r.trend.mu.RUnlock()

	size := r.trend.Size()
	if size.Width == 0 || size.Height == 0 {
		return
	}

	r.objects = []fyne.CanvasObject{r.bg}
	area := newPlotArea(size)
	xMin, xMax := timeRange(pts, r.trend.window)

	r.drawGrid(area, xMin, xMax)
	r.drawThresholds(area, r.trend.level)
	r.drawThresholds(area, r.trend.pressure)
	r.drawSeries(area, pts, xMin, xMax, r.trend.level.Max, colorLevel, func(p history.Point) float64 { return p.Level })
	r.drawSeries(area, pts, xMin, xMax, r.trend.pressure.Max, colorPressure, func(p history.Point) float64 { return p.Pressure })
	r.drawLegend(area)
}

func (r *renderer) drawGrid(a plotArea, xMin, xMax time.Time) {
	for i := range gridRows + 1 {
		y := a.y + float32(i)*a.h/gridRows
		r.line(colorGrid, 1, fyne.NewPos(a.x, y), fyne.NewPos(a.x+a.w, y))

		frac := 1 - float64(i)/gridRows
		r.text(formatValue(frac*r.trend.level.Max), colorLevel, fyne.TextAlignTrailing, fyne.NewPos(a.x-6, y-7))
		r.text(formatValue(frac*r.trend.pressure.Max), colorPressure, fyne.TextAlignLeading, fyne.NewPos(a.x+a.w+6, y-7))
	}

	span := xMax.Sub(xMin)
	for i := range gridCols + 1 {
		x := a.x + float32(i)*a.w/gridCols
		r.line(colorGrid, 1, fyne.NewPos(x, a.y), fyne.NewPos(x, a.y+a.h))

		ago := span - time.Duration(float64(span)*float64(i)/gridCols)
		r.text(formatAgo(ago), colorLabel, fyne.TextAlignCenter, fyne.NewPos(x, a.y+a.h+4))
	}
}

func (r *renderer) drawThresholds(a plotArea, axis Axis) {
	for _, th := range axis.Thresholds {
		y := a.yFor(th, axis.Max)
		// Dashed marker
		const dash = float32(6)
		for x := a.x; x < a.x+a.w; x += 2 * dash {
			r.line(colorThreshold, 1, fyne.NewPos(x, y), fyne.NewPos(math32.Min(x+dash, a.x+a.w), y))
		}
	}
}

func (r *renderer) drawSeries(a plotArea, pts []history.Point, xMin, xMax time.Time, max float64, c color.Color, value func(history.Point) float64) {
	if len(pts) < 2 {
		return
	}
	prev := fyne.NewPos(a.xFor(pts[0].Time, xMin, xMax), a.yFor(value(pts[0]), max))
	for _, p := range pts[1:] {
		cur := fyne.NewPos(a.xFor(p.Time, xMin, xMax), a.yFor(value(p), max))
		r.line(c, 1.5, prev, cur)
		prev = cur
	}
}

func (r *renderer) drawLegend(a plotArea) {
	r.text(r.trend.level.Label+" ("+r.trend.level.Unit+")", colorLevel, fyne.TextAlignLeading, fyne.NewPos(a.x+8, 4))
	r.text(r.trend.pressure.Label+" ("+r.trend.pressure.Unit+")", colorPressure, fyne.TextAlignTrailing, fyne.NewPos(a.x+a.w-8, 4))
}

func (r *renderer) line(c color.Color, width float32, p1, p2 fyne.Position) {
	l := canvas.NewLine(c)
	l.Position1 = p1
	l.Position2 = p2
	l.StrokeWidth = width
	r.objects = append(r.objects, l)
}

func (r *renderer) text(s string, c color.Color, align fyne.TextAlign, pos fyne.Position) {
	t := canvas.NewText(s, c)
	t.TextSize = 10
	t.Alignment = align
	t.Move(pos)
	r.objects = append(r.objects, t)
}

func (r *renderer) Objects() []fyne.CanvasObject {
	return r.objects
}

func (r *renderer) Destroy() {}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}

// formatAgo renders a time offset into the past, "now" for zero.
func formatAgo(d time.Duration) string {
	if d <= 0 {
		return "now"
	}
	return "-" + strconv.FormatFloat(d.Seconds(), 'f', 0, 64) + "s"
}
