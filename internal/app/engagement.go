package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/amep/internal/adapters/repository"
	"github.com/okian/amep/internal/domain/engagement"
	"github.com/okian/amep/internal/domain/ingest"
	"github.com/okian/amep/internal/domain/model"
	"github.com/okian/amep/pkg/logger"
	"github.com/okian/amep/pkg/metrics"
)

// AnalyzeEngagement validates raw and folds it into the student's engagement.
// A lock timeout is reported like UpdateMastery.
func (s *Service) AnalyzeEngagement(ctx context.Context, raw ingest.RawEngagement) (model.EngagementResult, error) {
	sig, err := s.ingestor.IngestEngagement(ctx, raw)
	if err != nil {
		return model.EngagementResult{}, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var result model.EngagementResult
	upd, err := s.store.UpdateEngagement(ctx, sig.StudentID, func(prev *model.EngagementState) (*model.EngagementState, error) {
		result = s.engagement.Update(prev, sig, s.now())
		return result.State, nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrConcurrencyTimeout) {
			s.logger.Warn(ctx, "engagement update timed out", logger.String("student_id", sig.StudentID))
			return model.EngagementResult{State: upd.State, Stale: true}, err
		}
		return model.EngagementResult{}, fmt.Errorf("update engagement %s: %w", sig.StudentID, err)
	}

	metrics.RecordEngagementUpdate(result.Alert)
	st := result.State
	if result.PreviousLevel != st.Level {
		s.notify(ctx, model.NotifyEngagementChanged, st.StudentID, st.ClassID, result)
	}
	if result.Alert {
		s.logger.Warn(ctx, "engagement alert",
			logger.String("student_id", st.StudentID),
			logger.String("class_id", st.ClassID),
			logger.String("from", string(result.PreviousLevel)),
			logger.String("to", string(st.Level)))
		s.notify(ctx, model.NotifyEngagementAlert, st.StudentID, st.ClassID, result)
	}
	return result, nil
}

// StudentEngagement returns the student's engagement decayed to now. The
// decayed view is not written back; the sweep does that.
func (s *Service) StudentEngagement(ctx context.Context, studentID string) (*model.EngagementState, error) {
	st, err := s.store.Engagement(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("student %s: %w", studentID, err)
	}
	return s.engagement.Decay(st, s.now()), nil
}

// ClassEngagement aggregates the class dashboard and remembers it for the
// next trend comparison.
func (s *Service) ClassEngagement(ctx context.Context, classID string) (model.ClassEngagement, error) {
	states := s.store.ClassEngagement(ctx, classID)
	if len(states) == 0 {
		return model.ClassEngagement{}, fmt.Errorf("class %s: %w", classID, ErrUnknownClass)
	}

	s.classMu.Lock()
	defer s.classMu.Unlock()
	var prev *model.ClassEngagement
	if p, ok := s.classes[classID]; ok {
		prev = &p
	}
	agg := s.engagement.Aggregate(classID, states, prev, s.now())
	s.classes[classID] = agg
	metrics.UpdateEngagementDistribution(engagement.Distribution(agg))
	return agg, nil
}

// DecaySweep writes the decayed score back for every idle student and
// returns how many states changed level.
func (s *Service) DecaySweep(ctx context.Context) int {
	now := s.now()
	changed := 0
	for _, st := range s.store.EngagementStates(ctx) {
		if !s.engagement.Idle(st, now) {
			continue
		}
		opCtx, cancel := s.withTimeout(ctx)
		upd, err := s.store.UpdateEngagement(opCtx, st.StudentID, func(prev *model.EngagementState) (*model.EngagementState, error) {
			if prev == nil {
				return nil, nil
			}
			return s.engagement.Decay(prev, now), nil
		})
		cancel()
		if err != nil {
			s.logger.Debug(ctx, "decay skipped", logger.String("student_id", st.StudentID), logger.Error(err))
			continue
		}
		if upd.Previous != nil && upd.State != nil && upd.Previous.Level != upd.State.Level {
			changed++
			s.notify(ctx, model.NotifyEngagementChanged, upd.State.StudentID, upd.State.ClassID, model.EngagementResult{
				State:           upd.State,
				PreviousLevel:   upd.Previous.Level,
				Recommendations: s.engagement.Recommendations(upd.State.Level, nil),
			})
		}
	}
	metrics.RecordDecaySweep()
	return changed
}
