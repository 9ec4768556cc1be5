// Package ingest validates raw submissions at the engine boundary and turns
// them into canonical domain values.
package ingest

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/okian/amep/internal/domain/model"
	"github.com/okian/amep/pkg/logger"
	"github.com/okian/amep/pkg/metrics"
)

// RawRelated is an unvalidated related-concept reference.
type RawRelated struct {
	ConceptID  string   `json:"concept_id" validate:"required"`
	Similarity float64  `json:"similarity" validate:"gte=0,lte=1"`
	Mastery    *float64 `json:"mastery,omitempty" validate:"omitempty,gte=0,lte=100"`
}

// RawResponse is an answer submission as received from transport.
type RawResponse struct {
	EventID         string       `json:"event_id"`
	StudentID       string       `json:"student_id" validate:"required"`
	ConceptID       string       `json:"concept_id" validate:"required"`
	IsCorrect       *bool        `json:"is_correct" validate:"required"`
	ResponseTime    *float64     `json:"response_time" validate:"required,gte=0"`
	HintCount       int          `json:"hint_count" validate:"gte=0"`
	Timestamp       string       `json:"timestamp" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	RelatedConcepts []RawRelated `json:"related_concepts" validate:"omitempty,dive"`
}

// RawEngagement is an engagement signal submission.
type RawEngagement struct {
	StudentID       string                `json:"student_id" validate:"required"`
	ClassID         string                `json:"class_id"`
	ImplicitSignals model.ImplicitSignals `json:"implicit_signals"`
	ExplicitSignals model.ExplicitSignals `json:"explicit_signals"`
	// RecentResponses is accepted as an alias for implicit answers.
	RecentResponses []model.AnswerSignal `json:"recent_responses"`
}

// RawPlan is a practice-session request.
type RawPlan struct {
	StudentID       string  `json:"student_id" validate:"required"`
	SessionDuration float64 `json:"session_duration" validate:"gt=0,lte=240"`
	SubjectArea     string  `json:"subject_area" validate:"required"`
}

// RawIntervention is a teacher intervention submission.
type RawIntervention struct {
	TeacherID        string   `json:"teacher_id" validate:"required"`
	ConceptID        string   `json:"concept_id" validate:"required"`
	InterventionType string   `json:"intervention_type" validate:"required"`
	TargetStudents   []string `json:"target_students" validate:"required,min=1,dive,required"`
	MasteryBefore    *float64 `json:"mastery_before,omitempty" validate:"omitempty,gte=0,lte=100"`
	Notes            string   `json:"notes"`
}

// Ingestor validates submissions. It has no side effects beyond building values.
type Ingestor struct {
	validate *validator.Validate
	now      func() time.Time
	logger   logger.Logger
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithClock overrides the clock used for missing timestamps.
func WithClock(now func() time.Time) Option {
	return func(i *Ingestor) {
		if now != nil {
			i.now = now
		}
	}
}

// WithLogger sets the logger used for dropped inputs.
func WithLogger(l logger.Logger) Option {
	return func(i *Ingestor) {
		if l != nil {
			i.logger = l
		}
	}
}

// New creates an Ingestor.
func New(opts ...Option) *Ingestor {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	i := &Ingestor{
		validate: v,
		now:      time.Now,
		logger:   logger.Named("ingest"),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Ingest validates a response submission and returns the canonical event.
func (i *Ingestor) Ingest(ctx context.Context, raw RawResponse) (model.ResponseEvent, error) {
	req, err := i.IngestMastery(ctx, raw)
	if err != nil {
		return model.ResponseEvent{}, err
	}
	return req.Event, nil
}

// IngestMastery validates a response submission together with its related concepts.
func (i *Ingestor) IngestMastery(ctx context.Context, raw RawResponse) (model.MasteryRequest, error) {
	raw.StudentID = strings.TrimSpace(raw.StudentID)
	raw.ConceptID = strings.TrimSpace(raw.ConceptID)
	rel := make([]RawRelated, len(raw.RelatedConcepts))
	for j, r := range raw.RelatedConcepts {
		r.ConceptID = strings.TrimSpace(r.ConceptID)
		rel[j] = r
	}
	raw.RelatedConcepts = rel
	if err := i.check(ctx, "response", raw); err != nil {
		return model.MasteryRequest{}, err
	}

	ts := i.now()
	if raw.Timestamp != "" {
		// Already validated against RFC3339.
		ts, _ = time.Parse(time.RFC3339, raw.Timestamp)
	}

	related := make([]model.RelatedConcept, 0, len(raw.RelatedConcepts))
	for _, r := range raw.RelatedConcepts {
		if r.ConceptID == raw.ConceptID {
			continue
		}
		related = append(related, model.RelatedConcept{
			ConceptID:  r.ConceptID,
			Similarity: r.Similarity,
			Mastery:    r.Mastery,
		})
	}

	metrics.RecordEventIngested()
	return model.MasteryRequest{
		Event: model.ResponseEvent{
			EventID:      strings.TrimSpace(raw.EventID),
			StudentID:    raw.StudentID,
			ConceptID:    raw.ConceptID,
			IsCorrect:    *raw.IsCorrect,
			ResponseTime: *raw.ResponseTime,
			HintCount:    raw.HintCount,
			Timestamp:    ts,
		},
		Related: related,
	}, nil
}

// IngestEngagement validates an engagement signal submission.
func (i *Ingestor) IngestEngagement(ctx context.Context, raw RawEngagement) (model.EngagementSignals, error) {
	raw.StudentID = strings.TrimSpace(raw.StudentID)
	if err := i.check(ctx, "engagement", raw); err != nil {
		return model.EngagementSignals{}, err
	}

	answers := append(append([]model.AnswerSignal(nil), raw.ImplicitSignals.Answers...), raw.RecentResponses...)
	var fields []FieldError
	fields = append(fields, i.checkVar(raw.ImplicitSignals.ResponseTimes, "implicit_signals.response_times", "dive,gte=0")...)
	fields = append(fields, i.checkVar(raw.ImplicitSignals.IdleGaps, "implicit_signals.idle_gaps", "dive,gte=0")...)
	for _, a := range answers {
		fields = append(fields, i.checkVar(a.ResponseTime, "answers.response_time", "gte=0")...)
		fields = append(fields, i.checkVar(a.OptionCount, "answers.option_count", "gte=0")...)
	}
	if r := raw.ExplicitSignals.Rating; r != nil {
		fields = append(fields, i.checkVar(*r, "explicit_signals.rating", "gte=1,lte=5")...)
	}
	if c := raw.ExplicitSignals.Confidence; c != nil {
		fields = append(fields, i.checkVar(*c, "explicit_signals.confidence", "gte=1,lte=5")...)
	}
	if len(fields) > 0 {
		return model.EngagementSignals{}, i.reject(ctx, "engagement", fields)
	}

	now := i.now()
	explicit := raw.ExplicitSignals
	if explicit.Present() && explicit.ReportedAt.IsZero() {
		explicit.ReportedAt = now
	}
	return model.EngagementSignals{
		StudentID: raw.StudentID,
		ClassID:   strings.TrimSpace(raw.ClassID),
		Implicit: model.ImplicitSignals{
			ResponseTimes: raw.ImplicitSignals.ResponseTimes,
			IdleGaps:      raw.ImplicitSignals.IdleGaps,
			Answers:       answers,
		},
		Explicit: explicit,
		At:       now,
	}, nil
}

// IngestPlan validates a practice-session request.
func (i *Ingestor) IngestPlan(ctx context.Context, raw RawPlan) (model.PlanRequest, error) {
	raw.StudentID = strings.TrimSpace(raw.StudentID)
	raw.SubjectArea = strings.TrimSpace(raw.SubjectArea)
	if err := i.check(ctx, "plan", raw); err != nil {
		return model.PlanRequest{}, err
	}
	return model.PlanRequest{
		StudentID:       raw.StudentID,
		DurationMinutes: raw.SessionDuration,
		SubjectArea:     raw.SubjectArea,
	}, nil
}

// IngestIntervention validates an intervention submission.
func (i *Ingestor) IngestIntervention(ctx context.Context, raw RawIntervention) (RawIntervention, error) {
	raw.TeacherID = strings.TrimSpace(raw.TeacherID)
	raw.ConceptID = strings.TrimSpace(raw.ConceptID)
	if err := i.check(ctx, "intervention", raw); err != nil {
		return RawIntervention{}, err
	}
	return raw, nil
}

func (i *Ingestor) check(ctx context.Context, kind string, v any) error {
	err := i.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return i.reject(ctx, kind, []FieldError{{Field: kind, Rule: err.Error()}})
	}
	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{Field: jsonPath(fe.Namespace()), Rule: fe.Tag()})
	}
	return i.reject(ctx, kind, fields)
}

func (i *Ingestor) checkVar(v any, field, tag string) []FieldError {
	if err := i.validate.Var(v, tag); err != nil {
		return []FieldError{{Field: field, Rule: tag}}
	}
	return nil
}

func (i *Ingestor) reject(ctx context.Context, kind string, fields []FieldError) error {
	metrics.RecordValidationError(kind)
	verr := &ValidationError{Kind: kind, Fields: fields}
	i.logger.Warn(ctx, "dropping invalid input", logger.String("kind", kind), logger.Error(verr))
	return verr
}

// jsonPath drops the root struct name from a validator namespace, leaving
// "related_concepts[0].similarity".
func jsonPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}
