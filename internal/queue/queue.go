// Package queue provides the bounded multi-producer, single-consumer queue used
// to move k-mer and result batches between pipeline stages.
package queue

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Push once the queue has been closed.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded FIFO. Push blocks while the queue is full; Pop blocks
// while it is empty and reports false once it is closed and drained.
type Queue[T any] struct {
	ch     chan T
	mu     sync.RWMutex
	closed bool
}

// New creates a queue holding at most capacity items. A non-positive capacity
// makes every Push wait for a matching Pop.
func New[T any](capacity int) *Queue[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue[T]{ch: make(chan T, capacity)}
}

// Push appends v, blocking while the queue is full.
func (q *Queue[T]) Push(v T) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	q.ch <- v
	return nil
}

// Pop removes the oldest item. It returns false when the queue is closed and
// no items are left.
func (q *Queue[T]) Pop() (T, bool) {
	v, ok := <-q.ch
	return v, ok
}

// Close marks the end of the stream. Items already queued can still be popped.
// Close waits for in-flight pushes, so the consumer must keep popping.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// Closed reports whether Close has been called.
func (q *Queue[T]) Closed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}
