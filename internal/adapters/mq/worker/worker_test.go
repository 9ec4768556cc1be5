package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/amep/internal/adapters/mq/queue"
	"github.com/okian/amep/internal/adapters/mq/worker"
	"github.com/okian/amep/internal/domain/model"
	logging "github.com/okian/amep/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

type recordingHandler struct {
	mu     sync.Mutex
	seen   map[string]int
	errors map[string]error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{seen: map[string]int{}, errors: map[string]error{}}
}

func (h *recordingHandler) Handle(_ context.Context, ev model.ResponseEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err, ok := h.errors[ev.EventID]; ok {
		return err
	}
	h.seen[ev.EventID]++
	return nil
}

func (h *recordingHandler) count(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seen[id]
}

func (h *recordingHandler) total() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, c := range h.seen {
		n += c
	}
	return n
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestWorker(t *testing.T) {
	convey.Convey("Given a worker reading from a queue", t, func() {
		_ = logging.Init()
		q := queue.NewInMemoryQueue[model.ResponseEvent](queue.WithCapacity(10))
		h := newRecordingHandler()
		w := worker.NewWorker[model.ResponseEvent](q, h, worker.WithName("test-worker"), worker.WithLogger(logging.Nop()))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go w.Run(ctx)

		convey.Convey("When an event is enqueued", func() {
			convey.So(q.Enqueue(ctx, model.ResponseEvent{EventID: "e1"}), convey.ShouldBeNil)

			convey.Convey("Then the handler receives it once", func() {
				convey.So(waitFor(func() bool { return h.count("e1") == 1 }), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the handler fails", func() {
			h.mu.Lock()
			h.errors["bad"] = errors.New("boom")
			h.mu.Unlock()
			_ = q.Enqueue(ctx, model.ResponseEvent{EventID: "bad"})
			_ = q.Enqueue(ctx, model.ResponseEvent{EventID: "good"})

			convey.Convey("Then the worker keeps going", func() {
				convey.So(waitFor(func() bool { return h.count("good") == 1 }), convey.ShouldBeTrue)
				convey.So(h.count("bad"), convey.ShouldEqual, 0)
			})
		})

		convey.Convey("When shutting down", func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
			defer shutdownCancel()

			convey.So(w.Shutdown(shutdownCtx), convey.ShouldBeNil)
			convey.So(w.Shutdown(shutdownCtx), convey.ShouldBeNil)
		})

		convey.Convey("When the context is cancelled", func() {
			cancel()

			convey.Convey("Then Run returns", func() {
				select {
				case <-w.Done():
				case <-time.After(time.Second):
					convey.So("worker still running", convey.ShouldBeEmpty)
				}
			})
		})
	})
}

func TestPool(t *testing.T) {
	convey.Convey("Given a pool of four workers", t, func() {
		_ = logging.Init()
		q := queue.NewInMemoryQueue[model.ResponseEvent](queue.WithCapacity(1000))
		h := newRecordingHandler()
		pool := worker.NewPool[model.ResponseEvent](4, q, h, worker.WithLogger(logging.Nop()))
		convey.So(pool.Size(), convey.ShouldEqual, 4)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		pool.Start(ctx)

		convey.Convey("When many events arrive concurrently", func() {
			var wg sync.WaitGroup
			for p := 0; p < 5; p++ {
				wg.Add(1)
				go func(p int) {
					defer wg.Done()
					for i := 0; i < 100; i++ {
						_ = q.Enqueue(ctx, model.ResponseEvent{EventID: fmt.Sprintf("e-%d-%d", p, i)})
					}
				}(p)
			}
			wg.Wait()

			convey.Convey("Then each is handled exactly once", func() {
				convey.So(waitFor(func() bool { return h.total() == 500 }), convey.ShouldBeTrue)
				convey.So(h.count("e-3-42"), convey.ShouldEqual, 1)
			})
		})

		convey.Convey("When shutting down with buffered events", func() {
			for i := 0; i < 20; i++ {
				_ = q.Enqueue(ctx, model.ResponseEvent{EventID: fmt.Sprintf("late-%d", i)})
			}
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
			defer shutdownCancel()
			err := pool.Shutdown(shutdownCtx)

			convey.Convey("Then the queue is drained and closed", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(h.total(), convey.ShouldEqual, 20)
				convey.So(q.IsClosed(), convey.ShouldBeTrue)
			})
		})
	})

	convey.Convey("Given a pool with the default size", t, func() {
		q := queue.NewInMemoryQueue[int]()
		pool := worker.NewPool[int](0, q, worker.HandlerFunc[int](func(context.Context, int) error { return nil }))
		convey.So(pool.Size(), convey.ShouldBeGreaterThan, 0)
	})
}
