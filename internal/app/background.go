package service

import (
	"context"
	"time"

	"github.com/okian/amep/pkg/logger"
)

// startBackground runs the decay sweep and the journal checkpoint until Stop.
func (s *Service) startBackground(ctx context.Context) {
	s.every(ctx, s.sweepInterval, func(ctx context.Context) {
		if n := s.DecaySweep(ctx); n > 0 {
			s.logger.Debug(ctx, "decay sweep changed levels", logger.Int("students", n))
		}
	})
	s.every(ctx, s.snapshotInterval, func(ctx context.Context) {
		if err := s.checkpoint(ctx); err != nil {
			s.logger.Error(ctx, "checkpoint failed", logger.Error(err))
		}
	})
}

func (s *Service) every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	stop := s.stopCh
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
}

// Checkpoint writes a journal snapshot of the whole store.
func (s *Service) Checkpoint(ctx context.Context) error {
	return s.checkpoint(ctx)
}

func (s *Service) checkpoint(ctx context.Context) error {
	watermark := s.journal.Seq()
	dump := s.store.Export(ctx)
	return s.journal.Checkpoint(ctx, watermark, dump)
}
