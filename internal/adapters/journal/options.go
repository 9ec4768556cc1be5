package journal

import (
	"time"

	"github.com/okian/amep/pkg/logger"
)

// Option configures a Journal.
type Option func(*Journal)

// WithPath sets the badger directory.
func WithPath(path string) Option {
	return func(j *Journal) { j.path = path }
}

// WithInMemory keeps all data in memory. Used by tests.
func WithInMemory() Option {
	return func(j *Journal) { j.inMemory = true }
}

// WithSyncWrites makes every batch durable before it is acknowledged.
func WithSyncWrites(sync bool) Option {
	return func(j *Journal) { j.syncWrites = sync }
}

// WithBufferSize sets how many entries may wait for the writer.
func WithBufferSize(n int) Option {
	return func(j *Journal) {
		if n > 0 {
			j.bufferSize = n
		}
	}
}

// WithBatchSize sets how many entries are written per batch.
func WithBatchSize(n int) Option {
	return func(j *Journal) {
		if n > 0 {
			j.batchSize = n
		}
	}
}

// WithFlushInterval sets the longest an entry waits before being written.
func WithFlushInterval(d time.Duration) Option {
	return func(j *Journal) {
		if d > 0 {
			j.flushInterval = d
		}
	}
}

// WithGCInterval enables periodic value log garbage collection. Zero disables it.
func WithGCInterval(d time.Duration) Option {
	return func(j *Journal) { j.gcInterval = d }
}

// WithLogger sets the journal logger.
func WithLogger(l logger.Logger) Option {
	return func(j *Journal) {
		if l != nil {
			j.logger = l
		}
	}
}
