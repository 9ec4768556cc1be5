// Package queue provides a bounded in-memory queue with non-blocking enqueue
// and channel-based dequeue.
package queue

import (
	"context"
	"sync"

	"github.com/okian/amep/pkg/metrics"
)

const defaultQueueCapacity = 10000

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue[T any] interface {
	// Enqueue adds v without blocking. It returns ErrFull when the buffer is
	// full and ErrClosed after Close.
	Enqueue(ctx context.Context, v T) error

	// Dequeue returns a channel that receives items until the queue is closed
	// and drained, or ctx ends.
	Dequeue(ctx context.Context) <-chan T

	// Len returns the number of buffered items.
	Len() int

	// Close stops accepting items. Buffered items can still be dequeued.
	Close() error

	// IsClosed returns true if the queue has been closed.
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue[T any] struct {
	items chan T
	name  string

	mu     sync.RWMutex
	closed bool
}

// NewInMemoryQueue creates a new in-memory queue.
func NewInMemoryQueue[T any](opts ...Option) *InMemoryQueue[T] {
	o := options{name: "default", capacity: defaultQueueCapacity}
	for _, opt := range opts {
		opt(&o)
	}
	q := &InMemoryQueue[T]{
		items: make(chan T, o.capacity),
		name:  o.name,
	}
	metrics.UpdateQueueSize(q.name, 0)
	return q
}

// Enqueue adds v to the queue.
func (q *InMemoryQueue[T]) Enqueue(ctx context.Context, v T) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueRejected(q.name, "closed")
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		metrics.RecordQueueRejected(q.name, "context_cancelled")
		return err
	}

	select {
	case q.items <- v:
		metrics.UpdateQueueSize(q.name, len(q.items))
		return nil
	default:
		metrics.RecordQueueRejected(q.name, "full")
		return ErrFull
	}
}

// Dequeue returns a channel that receives items as they become available.
func (q *InMemoryQueue[T]) Dequeue(ctx context.Context) <-chan T {
	out := make(chan T)
	go func() {
		defer close(out)
		for {
			select {
			case v, ok := <-q.items:
				if !ok {
					return
				}
				select {
				case out <- v:
					metrics.UpdateQueueSize(q.name, len(q.items))
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Len returns the current number of queued items.
func (q *InMemoryQueue[T]) Len() int {
	return len(q.items)
}

// Close gracefully shuts down the queue.
func (q *InMemoryQueue[T]) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.items)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue[T]) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
