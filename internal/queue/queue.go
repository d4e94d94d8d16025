package queue

import (
	"context"
	"errors"
	"sync"
)

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 64

var ErrClosed = errors.New("outbound queue closed")

// Queue is a bounded FIFO of outbound messages. Offer never blocks: at capacity the
// oldest entry is evicted. Take is for a single consumer only.
type Queue struct {
	mu      sync.Mutex
	items   []string
	head    int
	size    int
	closed  bool
	evicted uint64

	ready chan struct{}
	done  chan struct{}
}

func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		items: make([]string, capacity),
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Offer appends msg and reports whether an older entry was evicted to make room.
func (q *Queue) Offer(msg string) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}

	evicted := false
	if q.size == len(q.items) {
		q.items[q.head] = ""
		q.head = (q.head + 1) % len(q.items)
		q.size--
		q.evicted++
		evicted = true
	}
	q.items[(q.head+q.size)%len(q.items)] = msg
	q.size++
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return evicted
}

// Take blocks until a message is available, the queue is closed or ctx is done.
func (q *Queue) Take(ctx context.Context) (string, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return "", ErrClosed
		}
		if q.size > 0 {
			msg := q.items[q.head]
			q.items[q.head] = ""
			q.head = (q.head + 1) % len(q.items)
			q.size--
			q.mu.Unlock()
			return msg, nil
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-q.done:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// Close wakes the consumer and rejects further offers.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

func (q *Queue) Cap() int {
	return len(q.items)
}

// Evicted returns how many entries were dropped to admit newer ones.
func (q *Queue) Evicted() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.evicted
}
