package service

import (
	"time"

	"github.com/okian/amep/internal/adapters/journal"
	"github.com/okian/amep/internal/domain/engagement"
	"github.com/okian/amep/internal/domain/mastery"
	"github.com/okian/amep/internal/domain/planner"
	"github.com/okian/amep/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithEstimator selects the mastery estimator by name.
func WithEstimator(name string) Option {
	return func(s *Service) {
		if name != "" {
			s.estimatorName = name
		}
	}
}

// WithMasteryParams sets the mastery estimator parameters.
func WithMasteryParams(p mastery.Params) Option {
	return func(s *Service) { s.masteryParams = p }
}

// WithEngagementParams sets the engagement estimator parameters.
func WithEngagementParams(p engagement.Params) Option {
	return func(s *Service) { s.engagementParams = p }
}

// WithPlannerParams sets the session planner parameters.
func WithPlannerParams(p planner.Params) Option {
	return func(s *Service) { s.plannerParams = p }
}

// WithCatalog replaces the built-in content catalog.
func WithCatalog(c planner.Catalog) Option {
	return func(s *Service) {
		if c != nil {
			s.catalog = c
		}
	}
}

// WithOperationTimeout bounds each synchronous update.
func WithOperationTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.opTimeout = d
		}
	}
}

// WithWorkerCount sets the number of worker goroutines.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum size of the event queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets the size of the deduplication cache.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithShardCount sets the number of store shards.
func WithShardCount(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.shardCount = n
		}
	}
}

// WithNotificationQueueSize bounds the outbound notification queue.
func WithNotificationQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.notifyQueueSize = size
		}
	}
}

// WithSubscriberBuffer sets the per-subscriber notification buffer.
func WithSubscriberBuffer(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.subscriberBuffer = n
		}
	}
}

// WithJournalOptions configures the write-behind journal.
func WithJournalOptions(opts ...journal.Option) Option {
	return func(s *Service) {
		s.journalOpts = append(s.journalOpts, opts...)
	}
}

// WithSnapshotInterval sets how often a journal checkpoint is written.
func WithSnapshotInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.snapshotInterval = d
		}
	}
}

// WithDecaySweepInterval sets how often idle engagement states are decayed.
func WithDecaySweepInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.sweepInterval = d
		}
	}
}

// WithClock overrides the engine clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
