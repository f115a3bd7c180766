package processor

import (
	"sync"

	"github.com/roach88/formsheet/internal/events"
)

// job is a queued notification and where its result goes. result has a
// buffer of one so the worker never blocks on a caller that gave up.
type job struct {
	n      events.Grouped
	result chan Result
}

// queue is a thread-safe unbounded FIFO of jobs.
//
// Any goroutine may enqueue; one goroutine dequeues. signal has a buffer of
// one so repeated enqueues coalesce into a single wakeup, and it is closed
// when the queue closes to wake the consumer.
type queue struct {
	mu     sync.Mutex
	items  []job
	closed bool
	signal chan struct{}
}

func newQueue() *queue {
	return &queue{
		items:  make([]job, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds j at the back. Returns false once the queue is closed.
func (q *queue) Enqueue(j job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, j)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front job without blocking.
func (q *queue) TryDequeue() (job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return job{}, false
	}
	j := q.items[0]
	// Release the submissions for GC.
	q.items[0] = job{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return j, true
}

// Wait returns a channel that fires when items may be available.
func (q *queue) Wait() <-chan struct{} {
	return q.signal
}

func (q *queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// drained reports whether the queue is closed with nothing left.
func (q *queue) drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.items) == 0
}

// Close stops further enqueues and wakes the consumer.
func (q *queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
