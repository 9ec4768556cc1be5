package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/okian/amep/internal/domain/ingest"
	"github.com/okian/amep/internal/domain/model"
	"github.com/okian/amep/pkg/logger"
)

// TrackIntervention records a teacher intervention together with the
// targets' current mastery of the concept. A caller-supplied mastery_before
// takes precedence over the computed mean.
func (s *Service) TrackIntervention(ctx context.Context, raw ingest.RawIntervention) (model.InterventionRecord, error) {
	in, err := s.ingestor.IngestIntervention(ctx, raw)
	if err != nil {
		return model.InterventionRecord{}, err
	}

	before := s.conceptScores(ctx, in.ConceptID, in.TargetStudents)
	rec := model.InterventionRecord{
		InterventionID:   uuid.NewString(),
		TeacherID:        in.TeacherID,
		ConceptID:        in.ConceptID,
		InterventionType: in.InterventionType,
		TargetStudents:   append([]string(nil), in.TargetStudents...),
		MasteryBefore:    mean(before),
		StudentsBefore:   before,
		Notes:            in.Notes,
		PerformedAt:      s.now(),
	}
	if in.MasteryBefore != nil {
		rec.MasteryBefore = *in.MasteryBefore
	}

	if err := s.store.AppendIntervention(ctx, rec); err != nil {
		return model.InterventionRecord{}, fmt.Errorf("record intervention: %w", err)
	}
	if err := s.journal.AppendIntervention(rec); err != nil {
		s.logger.Warn(ctx, "intervention not journaled",
			logger.String("intervention_id", rec.InterventionID), logger.Error(err))
	}
	s.logger.Info(ctx, "intervention recorded",
		logger.String("intervention_id", rec.InterventionID),
		logger.String("teacher_id", rec.TeacherID),
		logger.Int("targets", len(rec.TargetStudents)))
	s.notify(ctx, model.NotifyInterventionRecorded, "", "", rec)
	return rec, nil
}

// InterventionImpact compares an intervention's snapshot with the targets'
// current mastery.
func (s *Service) InterventionImpact(ctx context.Context, id string) (model.InterventionImpact, error) {
	rec, err := s.store.Intervention(ctx, id)
	if err != nil {
		return model.InterventionImpact{}, fmt.Errorf("intervention %s: %w", id, err)
	}
	after := s.conceptScores(ctx, rec.ConceptID, rec.TargetStudents)
	impact := model.InterventionImpact{
		Record:        rec,
		MasteryAfter:  mean(after),
		StudentsAfter: after,
		MeasuredAt:    s.now(),
	}
	impact.Delta = impact.MasteryAfter - rec.MasteryBefore
	for id, v := range after {
		if b, ok := rec.StudentsBefore[id]; ok && v > b {
			impact.Improved++
		}
	}
	return impact, nil
}

// conceptScores returns the live fused score of each student that has one.
func (s *Service) conceptScores(ctx context.Context, conceptID string, students []string) map[string]float64 {
	out := make(map[string]float64, len(students))
	for _, id := range students {
		st, err := s.store.Mastery(ctx, model.Key{StudentID: id, ConceptID: conceptID})
		if err != nil || st.Archived {
			continue
		}
		out[id] = st.FusedScore
	}
	return out
}

func mean(m map[string]float64) float64 {
	if len(m) == 0 {
		return 0
	}
	var sum float64
	for _, v := range m {
		sum += v
	}
	return sum / float64(len(m))
}
