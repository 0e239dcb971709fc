// Package trend provides a Fyne widget plotting water level and discharge
// pressure over time on two fixed-scale axes.
package trend

import (
	"image/color"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/widget"
	"github.com/itohio/pumpctl/pkg/history"
)

const maxDisplayPoints = 500

var (
	colorBackground = color.RGBA{R: 20, G: 20, B: 20, A: 255}
	colorGrid       = color.RGBA{R: 40, G: 40, B: 40, A: 255}
	colorLabel      = color.RGBA{R: 150, G: 150, B: 150, A: 255}
	colorLevel      = color.RGBA{R: 100, G: 200, B: 255, A: 255}
	colorPressure   = color.RGBA{R: 255, G: 165, B: 0, A: 255}
	colorThreshold  = color.RGBA{R: 200, G: 60, B: 60, A: 255}
)

// Axis describes one fixed-scale series.
type Axis struct {
	Label      string
	Unit       string
	Max        float64
	Thresholds []float64 // Drawn as dashed markers
}

// Widget displays the recent trend.
type Widget struct {
	widget.BaseWidget

	level    Axis
	pressure Axis
	window   time.Duration

	mu      sync.RWMutex
	points  []history.Point
	display []history.Point
}

// New creates a trend widget. window is the minimum time span shown.
func New(level, pressure Axis, window time.Duration) *Widget {
	w := &Widget{
		level:    level,
		pressure: pressure,
		window:   window,
		display:  make([]history.Point, 0, maxDisplayPoints),
	}
	w.ExtendBaseWidget(w)
	return w
}

// UpdateData replaces the plotted points. Call from the UI goroutine.
func (w *Widget) UpdateData(points []history.Point) {
	w.mu.Lock()
	w.points = append(w.points[:0], points...)
	w.display = history.Downsample(w.display, w.points, maxDisplayPoints)
	w.mu.Unlock()

	w.Refresh()
}

// timeRange returns the visible time span of pts.
func timeRange(pts []history.Point, window time.Duration) (time.Time, time.Time) {
	if len(pts) == 0 {
		now := time.Now()
		return now.Add(-window), now
	}
	xMin := pts[0].Time
	xMax := pts[len(pts)-1].Time
	if xMax.Sub(xMin) < window {
		xMin = xMax.Add(-window)
	}
	return xMin, xMax
}

func (w *Widget) CreateRenderer() fyne.WidgetRenderer {
	bg := canvas.NewRectangle(colorBackground)
	return &renderer{
		trend:   w,
		bg:      bg,
		objects: []fyne.CanvasObject{bg},
	}
}
