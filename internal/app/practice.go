package service

import (
	"context"

	"github.com/okian/amep/internal/domain/ingest"
	"github.com/okian/amep/internal/domain/model"
)

// GeneratePractice plans a session from the student's live mastery. On
// planner.ErrInsufficientContent the returned session is empty, not nil.
func (s *Service) GeneratePractice(ctx context.Context, raw ingest.RawPlan) (model.PracticeSession, error) {
	req, err := s.ingestor.IngestPlan(ctx, raw)
	if err != nil {
		return model.PracticeSession{}, err
	}
	session, err := s.planner.Plan(ctx, req, s.masteryView(ctx, req.StudentID))
	if err != nil {
		return session, err
	}
	s.notify(ctx, model.NotifySessionPlanned, req.StudentID, s.classOf(ctx, req.StudentID), session)
	return session, nil
}
