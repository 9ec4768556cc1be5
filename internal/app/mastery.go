package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	eventqueue "github.com/okian/amep/internal/adapters/mq/queue"
	"github.com/okian/amep/internal/adapters/repository"
	"github.com/okian/amep/internal/domain/ingest"
	"github.com/okian/amep/internal/domain/model"
	"github.com/okian/amep/pkg/logger"
	"github.com/okian/amep/pkg/metrics"
)

// UpdateMastery validates raw and applies it synchronously. On a lock
// timeout the result carries the last known state, Stale is set and the
// error wraps repository.ErrConcurrencyTimeout.
func (s *Service) UpdateMastery(ctx context.Context, raw ingest.RawResponse) (model.MasteryResult, error) {
	req, err := s.ingestor.IngestMastery(ctx, raw)
	if err != nil {
		return model.MasteryResult{}, err
	}
	return s.applyMastery(ctx, req)
}

// Submit validates raw and queues it for asynchronous processing. Events
// carrying an already seen event_id are reported as duplicates and skipped.
func (s *Service) Submit(ctx context.Context, raw ingest.RawResponse) (duplicate bool, err error) {
	req, err := s.ingestor.IngestMastery(ctx, raw)
	if err != nil {
		return false, err
	}
	if req.Event.EventID == "" {
		req.Event.EventID = uuid.NewString()
	}
	if s.SeenAndRecord(ctx, req.Event.EventID) {
		s.logger.Debug(ctx, "duplicate event detected, skipping",
			logger.String("eventID", req.Event.EventID),
			logger.String("studentID", req.Event.StudentID))
		return true, nil
	}

	if err := s.events.Enqueue(ctx, req); err != nil {
		// Let the client retry the same event id.
		s.Unrecord(ctx, req.Event.EventID)
		if errors.Is(err, eventqueue.ErrFull) {
			return false, fmt.Errorf("%w: %w", ErrBackpressure, err)
		}
		return false, err
	}
	return false, nil
}

// SeenAndRecord atomically checks if an event id was seen and records it if not.
func (s *Service) SeenAndRecord(ctx context.Context, id string) bool {
	seen := s.deduper.SeenAndRecord(ctx, id)
	if seen {
		metrics.RecordEventDuplicate()
	}
	return seen
}

// Unrecord removes an event ID from the seen list, allowing it to be retried.
func (s *Service) Unrecord(ctx context.Context, id string) {
	s.deduper.Unrecord(ctx, id)
}

// maxEventRetries bounds how often a queued event is requeued after its key's
// lock timed out.
const maxEventRetries = 3

func (s *Service) handleEvent(ctx context.Context, req model.MasteryRequest) error {
	_, err := s.applyMastery(ctx, req)
	if !errors.Is(err, repository.ErrConcurrencyTimeout) {
		return err
	}
	if req.Attempts < maxEventRetries {
		req.Attempts++
		if qerr := s.events.Enqueue(ctx, req); qerr == nil {
			s.logger.Debug(ctx, "event requeued after lock timeout",
				logger.String("eventID", req.Event.EventID),
				logger.Int("attempt", req.Attempts))
			return nil
		}
	}
	// The event was not applied; forget its id so the client can resubmit it.
	s.Unrecord(ctx, req.Event.EventID)
	return fmt.Errorf("event %s dropped after %d attempts: %w", req.Event.EventID, req.Attempts+1, err)
}

func (s *Service) applyMastery(ctx context.Context, req model.MasteryRequest) (model.MasteryResult, error) {
	start := time.Now()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	key := req.Event.KeyOf()
	related := s.resolveRelated(ctx, key.StudentID, req.Related)

	res, err := s.store.UpdateMastery(ctx, key, func(prev *model.MasteryState) (*model.MasteryState, error) {
		return s.estimator.Update(prev, req.Event, related)
	})
	if err != nil {
		if errors.Is(err, repository.ErrConcurrencyTimeout) {
			s.logger.Warn(ctx, "mastery update timed out",
				logger.String("student_id", key.StudentID),
				logger.String("concept_id", key.ConceptID))
			out := model.MasteryResult{State: res.State, Stale: true}
			if res.State != nil {
				out.NeedsPractice, out.Recommendation = s.estimator.Assess(res.State)
			}
			return out, err
		}
		return model.MasteryResult{}, fmt.Errorf("update mastery %s: %w", key, err)
	}

	out := model.MasteryResult{State: res.State}
	out.NeedsPractice, out.Recommendation = s.estimator.Assess(res.State)
	metrics.RecordMasteryUpdate(elapsedMs(start))
	s.notify(ctx, model.NotifyMasteryUpdated, key.StudentID, s.classOf(ctx, key.StudentID), out)
	return out, nil
}

// resolveRelated fills in the mastery of related concepts from the store
// when the caller did not supply it. Concepts with no live state are dropped.
func (s *Service) resolveRelated(ctx context.Context, studentID string, related []model.RelatedConcept) []model.RelatedConcept {
	if len(related) == 0 {
		return nil
	}
	out := make([]model.RelatedConcept, 0, len(related))
	for _, rc := range related {
		if rc.Mastery == nil {
			st, err := s.store.Mastery(ctx, model.Key{StudentID: studentID, ConceptID: rc.ConceptID})
			if err != nil || st.Archived {
				continue
			}
			fused := st.FusedScore
			rc.Mastery = &fused
		}
		out = append(out, rc)
	}
	return out
}

// StudentMastery returns the student's live mastery per concept, ordered by
// concept id.
func (s *Service) StudentMastery(ctx context.Context, studentID string) ([]model.MasteryResult, error) {
	states := s.store.StudentMastery(ctx, studentID)
	out := make([]model.MasteryResult, 0, len(states))
	for _, st := range states {
		if st.Archived {
			continue
		}
		r := model.MasteryResult{State: st}
		r.NeedsPractice, r.Recommendation = s.estimator.Assess(st)
		out = append(out, r)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("student %s: %w", studentID, repository.ErrNotFound)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].State.ConceptID < out[j].State.ConceptID })
	return out, nil
}

// EndSession archives the student's state. Later events start fresh.
func (s *Service) EndSession(ctx context.Context, studentID string) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	n, err := s.store.Archive(ctx, studentID)
	if err != nil {
		return n, err
	}
	s.logger.Info(ctx, "session ended", logger.String("student_id", studentID), logger.Int("states", n))
	return n, nil
}

// masteryView maps concept ids to the student's live fused scores.
func (s *Service) masteryView(ctx context.Context, studentID string) map[string]float64 {
	view := make(map[string]float64)
	for _, st := range s.store.StudentMastery(ctx, studentID) {
		if !st.Archived {
			view[st.ConceptID] = st.FusedScore
		}
	}
	return view
}
