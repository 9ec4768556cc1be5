package repository

import (
	"time"

	"github.com/okian/amep/pkg/logger"
)

// Option applies a configuration option to the SessionStore.
type Option func(*SessionStore)

// WithShards sets the number of shards per table.
func WithShards(n int) Option {
	return func(s *SessionStore) {
		if n > 0 {
			s.shardCount = n
		}
	}
}

// WithSnapshotInterval sets how often the stats snapshot is republished.
func WithSnapshotInterval(interval time.Duration) Option {
	return func(s *SessionStore) {
		if interval > 0 {
			s.snapshotInterval = interval
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(l logger.Logger) Option {
	return func(s *SessionStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithObserver registers a commit observer.
func WithObserver(o Observer) Option {
	return func(s *SessionStore) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}
