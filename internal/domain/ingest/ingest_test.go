package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/amep/internal/domain/model"
	"github.com/okian/amep/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func boolPtr(b bool) *bool        { return &b }
func floatPtr(f float64) *float64 { return &f }

func TestIngestResponse(t *testing.T) {
	Convey("Given an ingestor with a fixed clock", t, func() {
		ctx := context.Background()
		fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
		in := New(WithClock(func() time.Time { return fixed }), WithLogger(logger.Nop()))

		Convey("When a well-formed response arrives without a timestamp", func() {
			ev, err := in.Ingest(ctx, RawResponse{
				StudentID:    "  s1 ",
				ConceptID:    "fractions",
				IsCorrect:    boolPtr(true),
				ResponseTime: floatPtr(12.5),
				HintCount:    1,
			})

			Convey("Then it is trimmed and stamped with the clock", func() {
				So(err, ShouldBeNil)
				So(ev.StudentID, ShouldEqual, "s1")
				So(ev.IsCorrect, ShouldBeTrue)
				So(ev.ResponseTime, ShouldEqual, 12.5)
				So(ev.Timestamp, ShouldEqual, fixed)
			})
		})

		Convey("When the response carries an RFC3339 timestamp and related concepts", func() {
			req, err := in.IngestMastery(ctx, RawResponse{
				StudentID:    "s1",
				ConceptID:    "fractions",
				IsCorrect:    boolPtr(false),
				ResponseTime: floatPtr(3),
				Timestamp:    "2026-02-01T10:00:00Z",
				RelatedConcepts: []RawRelated{
					{ConceptID: "decimals", Similarity: 0.6},
					{ConceptID: "fractions", Similarity: 1},
				},
			})

			Convey("Then the timestamp is kept and self references are dropped", func() {
				So(err, ShouldBeNil)
				So(req.Event.Timestamp.Equal(time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)), ShouldBeTrue)
				So(len(req.Related), ShouldEqual, 1)
				So(req.Related[0].ConceptID, ShouldEqual, "decimals")
			})
		})

		Convey("When required fields are missing or out of range", func() {
			_, err := in.Ingest(ctx, RawResponse{
				StudentID:    "   ",
				ConceptID:    "fractions",
				ResponseTime: floatPtr(-1),
				HintCount:    -2,
			})

			Convey("Then a validation error names each field", func() {
				So(errors.Is(err, ErrValidation), ShouldBeTrue)
				var verr *ValidationError
				So(errors.As(err, &verr), ShouldBeTrue)
				So(verr.Kind, ShouldEqual, "response")
				fields := map[string]bool{}
				for _, f := range verr.Fields {
					fields[f.Field] = true
				}
				So(fields["student_id"], ShouldBeTrue)
				So(fields["is_correct"], ShouldBeTrue)
				So(fields["response_time"], ShouldBeTrue)
				So(fields["hint_count"], ShouldBeTrue)
			})
		})

		Convey("When the timestamp is malformed", func() {
			_, err := in.Ingest(ctx, RawResponse{
				StudentID: "s1", ConceptID: "c1",
				IsCorrect: boolPtr(true), ResponseTime: floatPtr(1),
				Timestamp: "yesterday",
			})
			So(errors.Is(err, ErrValidation), ShouldBeTrue)
		})

		Convey("When related concept ids are padded", func() {
			req, err := in.IngestMastery(ctx, RawResponse{
				StudentID: "s1", ConceptID: "c1",
				IsCorrect: boolPtr(true), ResponseTime: floatPtr(1),
				RelatedConcepts: []RawRelated{
					{ConceptID: " c1 ", Similarity: 1},
					{ConceptID: "c2  ", Similarity: 0.5},
				},
			})

			Convey("Then a padded self reference is still dropped", func() {
				So(err, ShouldBeNil)
				So(len(req.Related), ShouldEqual, 1)
				So(req.Related[0].ConceptID, ShouldEqual, "c2")
			})
		})

		Convey("When a related concept id is blank", func() {
			_, err := in.IngestMastery(ctx, RawResponse{
				StudentID: "s1", ConceptID: "c1",
				IsCorrect: boolPtr(true), ResponseTime: floatPtr(1),
				RelatedConcepts: []RawRelated{{ConceptID: "   ", Similarity: 0.5}},
			})

			Convey("Then it is rejected", func() {
				So(errors.Is(err, ErrValidation), ShouldBeTrue)
				var verr *ValidationError
				So(errors.As(err, &verr), ShouldBeTrue)
				So(verr.Fields[0].Field, ShouldEqual, "related_concepts[0].concept_id")
			})
		})

		Convey("When a related concept has similarity above one", func() {
			_, err := in.IngestMastery(ctx, RawResponse{
				StudentID: "s1", ConceptID: "c1",
				IsCorrect: boolPtr(true), ResponseTime: floatPtr(1),
				RelatedConcepts: []RawRelated{{ConceptID: "c2", Similarity: 1.5}},
			})
			So(errors.Is(err, ErrValidation), ShouldBeTrue)
		})
	})
}

func TestIngestEngagement(t *testing.T) {
	Convey("Given an ingestor", t, func() {
		ctx := context.Background()
		fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
		in := New(WithClock(func() time.Time { return fixed }), WithLogger(logger.Nop()))

		Convey("When signals are valid", func() {
			sig, err := in.IngestEngagement(ctx, RawEngagement{
				StudentID: "s1",
				ClassID:   "math-7",
				ImplicitSignals: model.ImplicitSignals{
					ResponseTimes: []float64{4, 5},
					IdleGaps:      []float64{10},
				},
				ExplicitSignals: model.ExplicitSignals{Rating: floatPtr(4)},
				RecentResponses: []model.AnswerSignal{{IsCorrect: true, ResponseTime: 4}},
			})

			Convey("Then answers are merged and the self report is stamped", func() {
				So(err, ShouldBeNil)
				So(sig.ClassID, ShouldEqual, "math-7")
				So(len(sig.Implicit.Answers), ShouldEqual, 1)
				So(sig.Explicit.ReportedAt, ShouldEqual, fixed)
				So(sig.At, ShouldEqual, fixed)
			})
		})

		Convey("When a rating is outside 1..5 and a gap is negative", func() {
			_, err := in.IngestEngagement(ctx, RawEngagement{
				StudentID:       "s1",
				ImplicitSignals: model.ImplicitSignals{IdleGaps: []float64{-3}},
				ExplicitSignals: model.ExplicitSignals{Rating: floatPtr(9)},
			})

			Convey("Then both fields are rejected", func() {
				var verr *ValidationError
				So(errors.As(err, &verr), ShouldBeTrue)
				So(len(verr.Fields), ShouldEqual, 2)
			})
		})

		Convey("When the student is missing", func() {
			_, err := in.IngestEngagement(ctx, RawEngagement{})
			So(errors.Is(err, ErrValidation), ShouldBeTrue)
		})
	})
}

func TestIngestPlanAndIntervention(t *testing.T) {
	Convey("Given an ingestor", t, func() {
		ctx := context.Background()
		in := New(WithLogger(logger.Nop()))

		Convey("When a plan request has a positive duration", func() {
			req, err := in.IngestPlan(ctx, RawPlan{StudentID: "s1", SessionDuration: 30, SubjectArea: "math"})
			So(err, ShouldBeNil)
			So(req.DurationMinutes, ShouldEqual, 30.0)
		})

		Convey("When a plan request has no duration", func() {
			_, err := in.IngestPlan(ctx, RawPlan{StudentID: "s1", SubjectArea: "math"})
			So(errors.Is(err, ErrValidation), ShouldBeTrue)
		})

		Convey("When an intervention has no targets", func() {
			_, err := in.IngestIntervention(ctx, RawIntervention{
				TeacherID: "t1", ConceptID: "c1", InterventionType: "small_group",
			})
			So(errors.Is(err, ErrValidation), ShouldBeTrue)
		})

		Convey("When an intervention is complete", func() {
			rec, err := in.IngestIntervention(ctx, RawIntervention{
				TeacherID: " t1 ", ConceptID: "c1", InterventionType: "small_group",
				TargetStudents: []string{"s1", "s2"},
			})
			So(err, ShouldBeNil)
			So(rec.TeacherID, ShouldEqual, "t1")
		})
	})
}

func TestJSONPath(t *testing.T) {
	Convey("Given validator namespaces", t, func() {
		So(jsonPath("RawResponse.student_id"), ShouldEqual, "student_id")
		So(jsonPath("RawResponse.related_concepts[0].similarity"), ShouldEqual, "related_concepts[0].similarity")
		So(jsonPath("plain"), ShouldEqual, "plain")
	})
}
