// Package queue provides the unbounded outbound queue drained by a single
// connection writer.
package queue

import (
	"sync"

	"github.com/gammazero/deque"
)

// Outbox is an unbounded FIFO with one consumer. Push never blocks; an
// unresponsive consumer makes the queue grow instead of stalling producers.
type Outbox[T any] struct {
	mu     sync.Mutex
	items  deque.Deque[T]
	wake   chan struct{}
	done   chan struct{}
	closed bool
}

// New returns an empty open outbox.
func New[T any]() *Outbox[T] {
	return &Outbox[T]{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Push appends v. It returns false once the outbox is closed.
func (o *Outbox[T]) Push(v T) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	o.items.PushBack(v)
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
	return true
}

// Pop blocks until an item is available or the outbox is closed.
func (o *Outbox[T]) Pop() (T, bool) {
	for {
		o.mu.Lock()
		if o.closed {
			o.mu.Unlock()
			var zero T
			return zero, false
		}
		if o.items.Len() > 0 {
			v := o.items.PopFront()
			o.mu.Unlock()
			return v, true
		}
		o.mu.Unlock()

		select {
		case <-o.wake:
		case <-o.done:
		}
	}
}

// Len returns the number of queued items.
func (o *Outbox[T]) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.items.Len()
}

// Close discards pending items and wakes the consumer. It returns how many
// items were dropped; later calls return 0.
func (o *Outbox[T]) Close() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return 0
	}
	o.closed = true
	dropped := o.items.Len()
	o.items.Clear()
	close(o.done)
	return dropped
}
