// Package history keeps the recent level and pressure trend for the chart.
package history

import (
	"sync"
	"time"
)

// DefaultCapacity is the number of points kept when New gets a non-positive
// capacity.
const DefaultCapacity = 100

// Point is a pair of physical readings at one dispatch tick.
type Point struct {
	Time     time.Time
	Level    float64 // m
	Pressure float64 // Bar
}

// History is a fixed-capacity ring of points. The oldest point is dropped
// when a new one is added to a full ring. Safe for concurrent use.
type History struct {
	mu    sync.RWMutex
	buf   []Point
	start int
	n     int
}

func New(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &History{buf: make([]Point, capacity)}
}

func (h *History) Add(p Point) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = p
		h.n++
		return
	}
	h.buf[h.start] = p
	h.start = (h.start + 1) % len(h.buf)
}

// Points copies the points, oldest first, into dst and returns it. dst is
// reused when it has enough capacity.
func (h *History) Points(dst []Point) []Point {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if cap(dst) < h.n {
		dst = make([]Point, h.n)
	}
	dst = dst[:h.n]
	for i := range h.n {
		dst[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return dst
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.n
}

func (h *History) Capacity() int {
	return len(h.buf)
}

func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.start, h.n = 0, 0
}

// Downsample decimates src to at most maxPoints evenly spaced elements.
// dst is reused when it has enough capacity.
func Downsample[T any](dst, src []T, maxPoints int) []T {
	if maxPoints <= 0 {
		return dst[:0]
	}
	if len(src) <= maxPoints {
		if cap(dst) < len(src) {
			dst = make([]T, len(src))
		}
		dst = dst[:len(src)]
		copy(dst, src)
		return dst
	}

	if cap(dst) < maxPoints {
		dst = make([]T, 0, maxPoints)
	}
	dst = dst[:0]

	step := float64(len(src)) / float64(maxPoints)
	for i := range maxPoints {
		dst = append(dst, src[int(float64(i)*step)])
	}
	return dst
}
