package sweep

import (
	"sync"
	"sync/atomic"
)

// DefaultQueueSize holds about 10 s of averaged sensor samples.
const DefaultQueueSize = 1024

// Queue carries samples from the sensor reader to the tick loop. Offer never
// blocks the producer; when the buffer is full the sample is dropped and
// counted. Close marks the end of the stream.
type Queue struct {
	ch      chan Sample
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

// NewQueue creates a queue holding up to size samples.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{ch: make(chan Sample, size)}
}

// Offer enqueues s without blocking and reports whether it was accepted.
func (q *Queue) Offer(s Sample) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	select {
	case q.ch <- s:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Close ends the stream. Samples already queued can still be drained.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

// Dropped returns how many samples were rejected because the queue was full.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

// Len returns the number of queued samples.
func (q *Queue) Len() int { return len(q.ch) }

// Drain hands every sample queued at call time to fn without blocking. At most
// one extra sample that arrives during the drain is taken, so a fast producer
// cannot hold the caller. ended is true once the stream is closed and empty.
func (q *Queue) Drain(fn func(Sample)) (n int, ended bool) {
	limit := len(q.ch)
	for i := 0; i <= limit; i++ {
		select {
		case s, ok := <-q.ch:
			if !ok {
				return n, true
			}
			fn(s)
			n++
		default:
			return n, false
		}
	}
	return n, false
}
