// Package ingest moves telemetry lines from the transport to the dispatch
// loop: a background Reader polls the transport and pushes complete lines
// into a Queue that the dispatch loop drains once per tick.
package ingest

import "sync"

// Queue is an unbounded FIFO of telemetry lines for one producer and one
// consumer.
type Queue struct {
	mu    sync.Mutex
	lines []string
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Push appends a line.
func (q *Queue) Push(line string) {
	q.mu.Lock()
	q.lines = append(q.lines, line)
	q.mu.Unlock()
}

// PopAll removes and returns every queued line in arrival order. It returns
// nil when the queue is empty.
func (q *Queue) PopAll() []string {
	q.mu.Lock()
	lines := q.lines
	q.lines = nil
	q.mu.Unlock()
	return lines
}

// Len returns the number of queued lines.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lines)
}
