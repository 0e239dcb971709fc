package sensor

// movingAverage averages the last N raw readings of a channel.
type movingAverage struct {
	buf   []int
	next  int
	count int
	sum   int
}

func newMovingAverage(window int) *movingAverage {
	if window <= 0 {
		window = 1
	}
	return &movingAverage{buf: make([]int, window)}
}

// add records a sample and returns the rounded mean of the window.
func (m *movingAverage) add(v int) int {
	if m.count == len(m.buf) {
		m.sum -= m.buf[m.next]
	} else {
		m.count++
	}
	m.buf[m.next] = v
	m.sum += v
	m.next = (m.next + 1) % len(m.buf)

	return int(float64(m.sum)/float64(m.count) + 0.5) // Round to nearest
}
