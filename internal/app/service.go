// Package service wires the estimators, planner and state store into the
// engine the HTTP API talks to.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/amep/internal/adapters/broadcast"
	"github.com/okian/amep/internal/adapters/catalog"
	"github.com/okian/amep/internal/adapters/journal"
	eventqueue "github.com/okian/amep/internal/adapters/mq/queue"
	workerpool "github.com/okian/amep/internal/adapters/mq/worker"
	"github.com/okian/amep/internal/adapters/repository"
	"github.com/okian/amep/internal/domain/dedupe"
	"github.com/okian/amep/internal/domain/engagement"
	"github.com/okian/amep/internal/domain/ingest"
	"github.com/okian/amep/internal/domain/mastery"
	"github.com/okian/amep/internal/domain/model"
	"github.com/okian/amep/internal/domain/planner"
	"github.com/okian/amep/pkg/logger"
)

// Service is the engine. Its methods are safe for concurrent use once Start
// has returned.
type Service struct {
	mu sync.RWMutex

	// Core components
	store      *repository.SessionStore
	journal    *journal.Journal
	ingestor   *ingest.Ingestor
	estimator  mastery.Estimator
	engagement *engagement.Estimator
	planner    *planner.Planner
	catalog    planner.Catalog
	deduper    dedupe.Deduper

	events        *eventqueue.InMemoryQueue[model.MasteryRequest]
	workerPool    *workerpool.Pool[model.MasteryRequest]
	notifications *eventqueue.InMemoryQueue[model.Notification]
	hub           *broadcast.Hub

	classMu sync.Mutex
	classes map[string]model.ClassEngagement

	// Configuration
	estimatorName    string
	masteryParams    mastery.Params
	engagementParams engagement.Params
	plannerParams    planner.Params
	opTimeout        time.Duration
	workerCount      int
	queueSize        int
	dedupeSize       int
	shardCount       int
	notifyQueueSize  int
	subscriberBuffer int
	journalOpts      []journal.Option
	snapshotInterval time.Duration
	sweepInterval    time.Duration
	now              func() time.Time

	// State
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	logger logger.Logger
}

// New constructs a Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		estimatorName:    mastery.NameHybrid,
		masteryParams:    mastery.DefaultParams(),
		engagementParams: engagement.DefaultParams(),
		plannerParams:    planner.DefaultParams(),
		opTimeout:        200 * time.Millisecond,
		workerCount:      runtime.NumCPU() * 2,
		queueSize:        100_000,
		dedupeSize:       50_000,
		shardCount:       32,
		notifyQueueSize:  10_000,
		subscriberBuffer: 64,
		snapshotInterval: time.Minute,
		sweepInterval:    30 * time.Second,
		now:              time.Now,
		classes:          make(map[string]model.ClassEngagement),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start builds the components, restores persisted state and starts the
// background loops. A journal that cannot be opened is fatal.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	s.logger.Info(ctx, "starting engine...")

	var err error
	if s.estimator, err = mastery.New(s.estimatorName, s.masteryParams); err != nil {
		return fmt.Errorf("mastery estimator: %w", err)
	}
	if s.engagement, err = engagement.New(s.engagementParams); err != nil {
		return fmt.Errorf("engagement estimator: %w", err)
	}
	if s.catalog == nil {
		if s.catalog, err = catalog.Default(); err != nil {
			return fmt.Errorf("content catalog: %w", err)
		}
	}
	if s.planner, err = planner.New(s.catalog,
		planner.WithParams(s.plannerParams),
		planner.WithClock(s.now),
		planner.WithLogger(s.logger.Named("planner"))); err != nil {
		return fmt.Errorf("session planner: %w", err)
	}
	s.ingestor = ingest.New(ingest.WithClock(s.now), ingest.WithLogger(s.logger.Named("ingest")))

	jopts := append([]journal.Option{journal.WithLogger(s.logger.Named("journal"))}, s.journalOpts...)
	if s.journal, err = journal.Open(jopts...); err != nil {
		return err
	}
	dump, err := s.journal.Restore(ctx)
	if err != nil {
		_ = s.journal.Close()
		return fmt.Errorf("restore state: %w", err)
	}

	s.store = repository.NewSessionStore(ctx,
		repository.WithShards(s.shardCount),
		repository.WithObserver(s.journal),
		repository.WithLogger(s.logger.Named("repository")))
	s.store.Seed(ctx, dump)

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.events = eventqueue.NewInMemoryQueue[model.MasteryRequest](
		eventqueue.WithName("events"),
		eventqueue.WithCapacity(s.queueSize))
	s.notifications = eventqueue.NewInMemoryQueue[model.Notification](
		eventqueue.WithName("notifications"),
		eventqueue.WithCapacity(s.notifyQueueSize))

	s.hub = broadcast.NewHub(s.notifications,
		broadcast.WithSubscriberBuffer(s.subscriberBuffer),
		broadcast.WithLogger(s.logger.Named("broadcast")))
	s.hub.Start(ctx)

	s.workerPool = workerpool.NewPool[model.MasteryRequest](s.workerCount, s.events,
		workerpool.HandlerFunc[model.MasteryRequest](s.handleEvent),
		workerpool.WithName("mastery"),
		workerpool.WithLogger(s.logger.Named("worker")))
	s.workerPool.Start(ctx)

	s.stopCh = make(chan struct{})
	s.startBackground(ctx)

	s.started = true
	s.logger.Info(ctx, "engine started",
		logger.String("estimator", s.estimator.Name()),
		logger.Int("workers", s.workerPool.Size()),
		logger.Int("queueSize", s.queueSize),
		logger.Int("restoredMastery", len(dump.Mastery)),
		logger.Int("restoredEngagement", len(dump.Engagement)),
	)
	return nil
}

// Stop drains queued events, writes a final checkpoint and releases all
// resources.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping engine...")

	close(s.stopCh)
	s.wg.Wait()

	if err := s.workerPool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "worker pool shutdown", logger.Error(err))
	}
	_ = s.notifications.Close()
	if err := s.hub.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "broadcast shutdown", logger.Error(err))
	}
	if err := s.checkpoint(ctx); err != nil {
		s.logger.Error(ctx, "final checkpoint failed", logger.Error(err))
	}
	_ = s.store.Close()
	if err := s.journal.Close(); err != nil {
		s.logger.Error(ctx, "journal close failed", logger.Error(err))
	}

	s.started = false
	s.logger.Info(ctx, "engine stopped")
}

// Hub returns the notification hub for transport adapters.
func (s *Service) Hub() *broadcast.Hub {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hub
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":     s.started,
		"estimator":   s.estimatorName,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"dedupeSize":  s.dedupeSize,
	}
	if s.started {
		snap := s.store.Snapshot()
		stats["queueLength"] = s.events.Len()
		stats["notificationQueueLength"] = s.notifications.Len()
		stats["subscribers"] = s.hub.Subscribers()
		stats["dedupeEntries"] = s.deduper.Size()
		stats["journalSeq"] = s.journal.Seq()
		stats["store"] = snap
	}
	return stats
}

// Size returns the current number of entries in the deduper.
func (s *Service) Size() int64 {
	if s.deduper == nil {
		return 0
	}
	return s.deduper.Size()
}

// notify publishes a notification without blocking. Failures are counted by
// the hub and otherwise ignored.
func (s *Service) notify(ctx context.Context, typ model.NotificationType, studentID, classID string, payload any) {
	err := s.hub.Publish(context.WithoutCancel(ctx), model.Notification{
		ID:        uuid.NewString(),
		Type:      typ,
		StudentID: studentID,
		ClassID:   classID,
		Payload:   payload,
		At:        s.now(),
	})
	if err != nil && !errors.Is(err, eventqueue.ErrFull) {
		s.logger.Debug(ctx, "notification not published", logger.String("type", string(typ)), logger.Error(err))
	}
}

// classOf returns the class a student was last seen in, if any.
func (s *Service) classOf(ctx context.Context, studentID string) string {
	if st, err := s.store.Engagement(ctx, studentID); err == nil {
		return st.ClassID
	}
	return ""
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
