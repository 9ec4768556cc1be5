package journal

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/okian/amep/pkg/logger"
)

// badgerLogger routes badger's own logging into the service logger.
type badgerLogger struct {
	l logger.Logger
}

func (b badgerLogger) Errorf(format string, args ...any) {
	b.l.Error(context.Background(), fmt.Sprintf(format, args...))
}

func (b badgerLogger) Warningf(format string, args ...any) {
	b.l.Warn(context.Background(), fmt.Sprintf(format, args...))
}

func (b badgerLogger) Infof(format string, args ...any) {
	b.l.Debug(context.Background(), fmt.Sprintf(format, args...))
}

func (b badgerLogger) Debugf(format string, args ...any) {
	b.l.Debug(context.Background(), fmt.Sprintf(format, args...))
}

func (j *Journal) open() (*badger.DB, error) {
	var opts badger.Options
	if j.inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if j.path == "" {
			return nil, errors.New("path is required for a persistent journal")
		}
		if err := os.MkdirAll(j.path, 0o750); err != nil {
			return nil, fmt.Errorf("create journal directory %s: %w", j.path, err)
		}
		opts = badger.DefaultOptions(j.path)
	}
	opts = opts.
		WithSyncWrites(j.syncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{l: j.logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return db, nil
}

func (j *Journal) runGC() {
	err := j.db.RunValueLogGC(0.5)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		j.logger.Warn(context.Background(), "value log gc failed", logger.Error(err))
	}
}
