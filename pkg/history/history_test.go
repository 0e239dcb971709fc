package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func points(n int) []Point {
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	out := make([]Point, n)
	for i := range out {
		out[i] = Point{Time: t0.Add(time.Duration(i) * 100 * time.Millisecond), Level: float64(i)}
	}
	return out
}

func TestHistory_Ring(t *testing.T) {
	h := New(3)
	assert.Empty(t, h.Points(nil))

	for _, p := range points(2) {
		h.Add(p)
	}
	got := h.Points(nil)
	require.Len(t, got, 2)
	assert.Equal(t, 0.0, got[0].Level)
	assert.Equal(t, 1.0, got[1].Level)

	for _, p := range points(5) {
		h.Add(p)
	}
	got = h.Points(got)
	require.Len(t, got, 3)
	assert.Equal(t, []float64{2, 3, 4}, []float64{got[0].Level, got[1].Level, got[2].Level})
	assert.Equal(t, 3, h.Len())

	h.Reset()
	assert.Equal(t, 0, h.Len())
}

func TestHistory_DefaultCapacity(t *testing.T) {
	h := New(0)
	assert.Equal(t, DefaultCapacity, h.Capacity())

	for _, p := range points(150) {
		h.Add(p)
	}
	got := h.Points(nil)
	require.Len(t, got, DefaultCapacity)
	assert.Equal(t, 50.0, got[0].Level)
	assert.Equal(t, 149.0, got[len(got)-1].Level)
}

func TestDownsample(t *testing.T) {
	tests := []struct {
		name      string
		src       []int
		maxPoints int
		want      []int
	}{
		{name: "fits", src: []int{1, 2, 3}, maxPoints: 5, want: []int{1, 2, 3}},
		{name: "exact", src: []int{1, 2, 3}, maxPoints: 3, want: []int{1, 2, 3}},
		{name: "half", src: []int{0, 1, 2, 3, 4, 5, 6, 7}, maxPoints: 4, want: []int{0, 2, 4, 6}},
		{name: "uneven", src: []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, maxPoints: 3, want: []int{0, 3, 6}},
		{name: "zero points", src: []int{1, 2}, maxPoints: 0, want: []int{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Downsample([]int{}, tt.src, tt.maxPoints)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDownsample_ReusesDst(t *testing.T) {
	dst := make([]int, 0, 10)
	got := Downsample(dst, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}, 6)
	assert.Len(t, got, 6)
	assert.Equal(t, &dst[:1][0], &got[0], "dst backing array reused")
}
