package inbox

import (
	"sync"
)

// Queue is a FIFO of received clock values. The sender is not recorded.
// It is safe for concurrent use by any number of producers and one consumer.
type Queue struct {
	mu     sync.Mutex
	values []int64
	head   int
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{}
}

// Push appends v at the back.
func (q *Queue) Push(v int64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.values = append(q.values, v)
}

// Pop removes and returns the front value. ok is false when the queue is
// empty. remaining is the length after the pop, read under the same lock so
// the caller sees a consistent pair.
func (q *Queue) Pop() (v int64, remaining int, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head == len(q.values) {
		return 0, 0, false
	}

	v = q.values[q.head]
	q.head++

	// Reclaim the consumed prefix once it dominates the backing array.
	if q.head > 64 && q.head*2 >= len(q.values) {
		n := copy(q.values, q.values[q.head:])
		q.values = q.values[:n]
		q.head = 0
	}

	return v, len(q.values) - q.head, true
}

// Len returns the number of queued values.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.values) - q.head
}

// Snapshot returns a copy of the queued values, front first.
func (q *Queue) Snapshot() []int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]int64(nil), q.values[q.head:]...)
}
