// Package worker drains a queue with a pool of goroutines that hand each item
// to a Handler.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/okian/amep/pkg/logger"
	"github.com/okian/amep/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerMultiplier = 4 // multiplier for runtime.NumCPU()
	poolShutdownTimeout     = 30 * time.Second
)

// Handler processes one item. Errors are logged and counted; the item is not retried.
type Handler[T any] interface {
	Handle(ctx context.Context, item T) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc[T any] func(ctx context.Context, item T) error

// Handle implements Handler.
func (f HandlerFunc[T]) Handle(ctx context.Context, item T) error { return f(ctx, item) }

// Queue defines how workers receive items.
type Queue[T any] interface {
	Dequeue(ctx context.Context) <-chan T
}

// Worker runs a single dequeue loop.
type Worker[T any] struct {
	queue   Queue[T]
	handler Handler[T]
	name    string

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewWorker creates a worker reading from q.
func NewWorker[T any](q Queue[T], h Handler[T], opts ...Option) *Worker[T] {
	o := options{name: "worker", logger: logger.Named("worker")}
	for _, opt := range opts {
		opt(&o)
	}
	return &Worker[T]{
		queue:    q,
		handler:  h,
		name:     o.name,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   o.logger.With(logger.String("worker", o.name)),
	}
}

// Run processes items until the queue closes, ctx ends or Shutdown is called.
func (w *Worker[T]) Run(ctx context.Context) {
	defer close(w.done)

	items := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case item, ok := <-items:
			if !ok {
				return
			}
			w.process(ctx, item)
		}
	}
}

func (w *Worker[T]) process(ctx context.Context, item T) {
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessing(float64(time.Since(start).Microseconds()) / 1000)
	}()
	if err := w.handler.Handle(ctx, item); err != nil {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "handler_error")
		w.logger.Error(ctx, "error processing item", logger.Error(err))
	}
}

// Shutdown stops the worker without waiting for the queue to drain.
func (w *Worker[T]) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Done is closed when Run returns.
func (w *Worker[T]) Done() <-chan struct{} { return w.done }

// Pool manages multiple workers sharing one queue.
type Pool[T any] struct {
	workers []*Worker[T]
	queue   Queue[T]
	logger  logger.Logger
}

// NewPool creates a pool of workerCount workers. A count below one uses a
// multiple of the CPU count.
func NewPool[T any](workerCount int, q Queue[T], h Handler[T], opts ...Option) *Pool[T] {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * defaultWorkerMultiplier
	}
	o := options{name: "worker", logger: logger.Named("worker-pool")}
	for _, opt := range opts {
		opt(&o)
	}
	p := &Pool[T]{
		workers: make([]*Worker[T], workerCount),
		queue:   q,
		logger:  o.logger,
	}
	for i := range p.workers {
		p.workers[i] = NewWorker(q, h, WithName(o.name+"-"+strconv.Itoa(i)), WithLogger(o.logger))
	}
	return p
}

// Size returns the number of workers.
func (p *Pool[T]) Size() int { return len(p.workers) }

// Start starts all workers.
func (p *Pool[T]) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Shutdown closes the queue when it can be closed and waits for the workers
// to drain it. Workers still running when ctx ends are stopped.
func (p *Pool[T]) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var timedOut bool
	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-waitCtx.Done():
			timedOut = true
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			_ = w.Shutdown(waitCtx)
		}
	}
	if timedOut {
		return fmt.Errorf("worker pool shutdown: %w", waitCtx.Err())
	}
	return nil
}
