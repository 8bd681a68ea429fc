// Package queue provides the unbounded FIFO that bridges network handlers
// and session worker goroutines. Pops support blocking, timed, and
// non-blocking modes; Close wakes every waiter.
package queue

import (
	"sync"
	"time"
)

// Queue is an unbounded, close-aware FIFO safe for concurrent use.
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	closed bool
}

// New creates an empty queue.
func New[T any]() *Queue[T] {
	q := &Queue[T]{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends an item. It reports false if the queue is closed, in which
// case the item is dropped.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, item)
	q.cond.Signal()
	return true
}

// Pop removes the oldest item, waiting up to timeout for one to arrive.
// timeout == 0 is non-blocking; timeout < 0 blocks until an item arrives or
// the queue is closed. The second return is false on timeout or close.
func (q *Queue[T]) Pop(timeout time.Duration) (T, bool) {
	var zero T
	q.mu.Lock()
	defer q.mu.Unlock()

	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}

	for len(q.items) == 0 {
		if q.closed {
			return zero, false
		}
		if timeout >= 0 {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return zero, false
			}
			// A timer broadcast bounds the cond wait; spurious wakeups
			// re-enter the loop.
			timer := time.AfterFunc(remaining, q.cond.Broadcast)
			q.cond.Wait()
			timer.Stop()
		} else {
			q.cond.Wait()
		}
	}

	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// PopWait blocks until an item arrives or the queue is closed.
func (q *Queue[T]) PopWait() (T, bool) {
	return q.Pop(-1)
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close marks the queue closed and wakes all waiters. Pending items remain
// poppable; further pushes are dropped. Close is idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}

// Closed reports whether Close has been called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
