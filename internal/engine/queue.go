package engine

import (
	"context"
	"sync"
)

// task is one unit of work for the run loop. Every mutation of the sync
// tree is a task.
type task func(ctx context.Context)

// queue is a thread-safe unbounded FIFO queue.
//
// Callers on any goroutine enqueue while a single loop dequeues. The
// queue is unbounded so server messages and user writes never block the
// goroutine that delivers them.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the run loop (prevents goroutine hangs on context cancellation).
type queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	signal chan struct{} // Signals item availability (buffered, size 1)
}

// newQueue creates an empty queue.
func newQueue[T any]() *queue[T] {
	return &queue[T]{
		items:  make([]T, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an item to the back of the queue.
// Returns false if the queue is closed.
func (q *queue[T]) Enqueue(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.items = append(q.items, item)

	// Signal availability (non-blocking - buffer of 1 coalesces multiple signals)
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes the front item without blocking.
// Returns false if the queue is empty.
func (q *queue[T]) TryDequeue() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}

	item := q.items[0]

	// Nil out the slot so the backing array does not retain closures.
	q.items[0] = zero

	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}

	return item, true
}

// Wait returns a channel that signals when items may be available.
// The channel is closed when the queue is closed.
func (q *queue[T]) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Closed reports whether Close was called.
func (q *queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close signals that no more items will be enqueued. Items already queued
// are still dequeued.
func (q *queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal) // Wakes all waiters
}

// drain runs handle for every item in FIFO order until ctx is cancelled
// or the queue is closed and empty.
func drain[T any](ctx context.Context, q *queue[T], handle func(T)) error {
	for {
		if item, ok := q.TryDequeue(); ok {
			handle(item)
			continue
		}

		select {
		case <-ctx.Done():
			q.Close()
			return ctx.Err()

		case <-q.Wait():
			// A closed signal channel fires immediately; stop once the
			// remaining items are handled.
			if q.Closed() && q.Len() == 0 {
				return nil
			}
		}
	}
}
