// Package broadcast fans domain notifications out to real-time subscribers.
package broadcast

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/okian/amep/internal/adapters/mq/queue"
	"github.com/okian/amep/internal/adapters/mq/worker"
	"github.com/okian/amep/internal/domain/model"
	"github.com/okian/amep/pkg/logger"
	"github.com/okian/amep/pkg/metrics"
)

// Subscriber receives notifications, optionally only those of one class.
type Subscriber struct {
	id      uint64
	classID string
	ch      chan model.Notification
}

// C is closed when the subscriber is removed.
func (s *Subscriber) C() <-chan model.Notification { return s.ch }

func (s *Subscriber) wants(n model.Notification) bool {
	return s.classID == "" || n.ClassID == s.classID
}

// Hub drains an outbound queue and delivers each notification to every
// matching subscriber. Delivery is best effort: a subscriber whose buffer is
// full misses the notification.
type Hub struct {
	queue  queue.Queue[model.Notification]
	worker *worker.Worker[model.Notification]

	mu   sync.RWMutex
	subs map[uint64]*Subscriber
	next uint64

	subscriberBuffer int
	pingInterval     time.Duration
	logger           logger.Logger
}

// NewHub creates a hub over q.
func NewHub(q queue.Queue[model.Notification], opts ...Option) *Hub {
	h := &Hub{
		queue:            q,
		subs:             make(map[uint64]*Subscriber),
		subscriberBuffer: 64,
		pingInterval:     30 * time.Second,
		logger:           logger.Named("broadcast"),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.worker = worker.NewWorker[model.Notification](q, worker.HandlerFunc[model.Notification](h.deliver),
		worker.WithName("broadcast"), worker.WithLogger(h.logger))
	return h
}

// Start drains the queue until ctx ends or the queue is closed and empty.
func (h *Hub) Start(ctx context.Context) {
	go h.worker.Run(ctx)
}

// Shutdown stops delivery and removes all subscribers.
func (h *Hub) Shutdown(ctx context.Context) error {
	err := h.worker.Shutdown(ctx)
	h.mu.Lock()
	for id, s := range h.subs {
		delete(h.subs, id)
		close(s.ch)
	}
	h.mu.Unlock()
	metrics.UpdateSubscribers(0)
	return err
}

// Publish queues n for delivery without blocking.
func (h *Hub) Publish(ctx context.Context, n model.Notification) error {
	err := h.queue.Enqueue(ctx, n)
	if errors.Is(err, queue.ErrFull) {
		metrics.RecordNotificationDropped()
		h.logger.Debug(ctx, "notification dropped", logger.String("type", string(n.Type)))
	}
	return err
}

// Subscribe registers a subscriber. An empty classID receives everything.
func (h *Hub) Subscribe(classID string) *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	s := &Subscriber{id: h.next, classID: classID, ch: make(chan model.Notification, h.subscriberBuffer)}
	h.subs[s.id] = s
	metrics.UpdateSubscribers(len(h.subs))
	return s
}

// Unsubscribe removes s and closes its channel. It is safe to call twice.
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s.id]; !ok {
		return
	}
	delete(h.subs, s.id)
	close(s.ch)
	metrics.UpdateSubscribers(len(h.subs))
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) deliver(_ context.Context, n model.Notification) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		if !s.wants(n) {
			continue
		}
		select {
		case s.ch <- n:
			metrics.RecordNotificationSent()
		default:
			metrics.RecordNotificationDropped()
		}
	}
	return nil
}
