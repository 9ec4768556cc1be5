package mastery_test

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/okian/amep/internal/domain/mastery"
	"github.com/okian/amep/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

var t0 = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

func event(i int, correct bool) model.ResponseEvent {
	return model.ResponseEvent{
		StudentID:    "s1",
		ConceptID:    "c1",
		IsCorrect:    correct,
		ResponseTime: 8,
		Timestamp:    t0.Add(time.Duration(i) * time.Minute),
	}
}

func run(est mastery.Estimator, outcomes ...bool) *model.MasteryState {
	var st *model.MasteryState
	for i, ok := range outcomes {
		next, err := est.Update(st, event(i, ok), nil)
		So(err, ShouldBeNil)
		st = next
	}
	return st
}

func TestHybridScenario(t *testing.T) {
	Convey("Given the hybrid estimator with default parameters", t, func() {
		est, err := mastery.NewHybrid(mastery.DefaultParams())
		So(err, ShouldBeNil)

		Convey("When s1 answers five questions correctly and then one incorrectly", func() {
			st := run(est, true, true, true, true, true, false)
			needs, rec := est.Assess(st)

			Convey("Then the concept is mastered and the student may advance", func() {
				So(st.EventCount, ShouldEqual, 6)
				So(st.FusedScore, ShouldAlmostEqual, 87.1, 0.5)
				So(st.LearningVelocity, ShouldBeLessThan, 0)
				So(st.LearningVelocity, ShouldBeGreaterThan, -5)
				So(needs, ShouldBeFalse)
				So(rec.Action, ShouldEqual, model.ActionAdvance)
			})

			Convey("Then the components reflect the single miss", func() {
				So(st.BKT, ShouldBeGreaterThan, 99)
				So(st.DKT, ShouldAlmostEqual, 75.9, 0.2)
				So(st.DKVMN, ShouldAlmostEqual, 75.0, 0.2)
				So(st.Confidence, ShouldBeGreaterThan, 0.6)
				So(st.Confidence, ShouldBeLessThan, 0.98)
			})
		})

		Convey("When the same answers arrive at classroom pace", func() {
			for _, gap := range []time.Duration{0, time.Second, 5 * time.Second, 20 * time.Second, time.Minute} {
				var st *model.MasteryState
				for i, ok := range []bool{true, true, true, true, true, false} {
					ev := event(0, ok)
					ev.Timestamp = t0.Add(time.Duration(i) * gap)
					st, err = est.Update(st, ev, nil)
					So(err, ShouldBeNil)
				}
				needs, rec := est.Assess(st)

				So(st.FusedScore, ShouldAlmostEqual, 87.1, 0.5)
				So(st.LearningVelocity, ShouldBeLessThan, 0)
				So(st.LearningVelocity, ShouldBeGreaterThan, -5)
				So(needs, ShouldBeFalse)
				So(rec.Action, ShouldEqual, model.ActionAdvance)
			}
		})

		Convey("When a student keeps answering incorrectly", func() {
			st := run(est, false, false, false, false)
			needs, rec := est.Assess(st)

			Convey("Then intensive review is recommended", func() {
				So(needs, ShouldBeTrue)
				So(rec.Action, ShouldEqual, model.ActionIntensiveReview)
			})
		})

		Convey("When an event targets another key", func() {
			st := run(est, true)
			other := event(1, true)
			other.ConceptID = "c2"
			_, err := est.Update(st, other, nil)
			So(errors.Is(err, mastery.ErrKeyMismatch), ShouldBeTrue)
		})

		Convey("When the previous state is archived", func() {
			st := run(est, true, true, true)
			st.Archived = true
			fresh, err := est.Update(st, event(4, true), nil)

			Convey("Then the update starts over", func() {
				So(err, ShouldBeNil)
				So(fresh.EventCount, ShouldEqual, 1)
				So(fresh.Archived, ShouldBeFalse)
				So(st.EventCount, ShouldEqual, 3)
			})
		})
	})
}

func TestHybridProperties(t *testing.T) {
	Convey("Given random event sequences", t, func() {
		est, err := mastery.NewHybrid(mastery.DefaultParams())
		So(err, ShouldBeNil)
		rng := rand.New(rand.NewSource(42))

		Convey("Then fused stays in [0,100] and confidence in [0,1]", func() {
			for seq := 0; seq < 50; seq++ {
				var st *model.MasteryState
				for i := 0; i < 40; i++ {
					ev := event(i, rng.Intn(2) == 0)
					ev.HintCount = rng.Intn(5)
					m := rng.Float64() * 100
					related := []model.RelatedConcept{{ConceptID: "c9", Similarity: rng.Float64(), Mastery: &m}}
					st, err = est.Update(st, ev, related)
					So(err, ShouldBeNil)
					So(st.FusedScore, ShouldBeBetweenOrEqual, 0, 100)
					So(st.Confidence, ShouldBeBetweenOrEqual, 0, 1)
				}
				So(len(st.History), ShouldBeLessThanOrEqualTo, mastery.DefaultParams().HistoryWindow)
			}
		})

		Convey("Then correct-only sequences never lower the knowledge component", func() {
			var st *model.MasteryState
			last := -1.0
			for i := 0; i < 30; i++ {
				st, err = est.Update(st, event(i, true), nil)
				So(err, ShouldBeNil)
				So(st.BKT, ShouldBeGreaterThanOrEqualTo, last)
				last = st.BKT
			}
		})

		Convey("Then identical timestamps still give a slope", func() {
			var st *model.MasteryState
			for i := 0; i < 4; i++ {
				ev := event(0, true)
				st, err = est.Update(st, ev, nil)
				So(err, ShouldBeNil)
			}
			So(st.LearningVelocity, ShouldBeGreaterThan, 0)
		})
	})
}

func TestRelatedTransfer(t *testing.T) {
	Convey("Given a first event with a strongly mastered related concept", t, func() {
		est, err := mastery.NewHybrid(mastery.DefaultParams())
		So(err, ShouldBeNil)
		high := 95.0

		alone, err := est.Update(nil, event(0, true), nil)
		So(err, ShouldBeNil)
		helped, err := est.Update(nil, event(0, true), []model.RelatedConcept{{ConceptID: "c0", Similarity: 0.8, Mastery: &high}})
		So(err, ShouldBeNil)

		Convey("Then the memory component borrows from it", func() {
			So(helped.DKVMN, ShouldBeGreaterThan, alone.DKVMN)
			So(helped.BKT, ShouldEqual, alone.BKT)
		})
	})
}

func TestParamsValidation(t *testing.T) {
	Convey("Given parameter sets", t, func() {
		Convey("Then defaults are valid", func() {
			So(mastery.DefaultParams().Validate(), ShouldBeNil)
		})

		Convey("Then slip plus guess of one or more is rejected", func() {
			p := mastery.DefaultParams()
			p.Slip, p.Guess = 0.5, 0.5
			So(errors.Is(p.Validate(), mastery.ErrInvalidParams), ShouldBeTrue)
			_, err := mastery.NewHybrid(p)
			So(err, ShouldNotBeNil)
		})

		Convey("Then misordered thresholds are rejected", func() {
			p := mastery.DefaultParams()
			p.AdvanceThreshold = 60
			So(errors.Is(p.Validate(), mastery.ErrInvalidParams), ShouldBeTrue)
		})

		Convey("Then unknown estimator names are rejected", func() {
			_, err := mastery.New("neural", mastery.DefaultParams())
			So(errors.Is(err, mastery.ErrUnknownEstimator), ShouldBeTrue)
		})
	})
}

func TestRecommend(t *testing.T) {
	Convey("Given the default thresholds", t, func() {
		p := mastery.DefaultParams()

		Convey("Then the action follows the reading", func() {
			So(mastery.Recommend(30, true, 0, p).Action, ShouldEqual, model.ActionIntensiveReview)
			So(mastery.Recommend(60, true, 0, p).Action, ShouldEqual, model.ActionTargetedPractice)
			So(mastery.Recommend(75, false, 0, p).String(), ShouldEqual, "LIGHT_REVIEW - 1-2 questions for maintenance")
			So(mastery.Recommend(90, false, 1, p).Action, ShouldEqual, model.ActionAdvance)
		})

		Convey("Then a steep decline needs practice even when mastered", func() {
			So(mastery.NeedsPractice(85, -6, p), ShouldBeTrue)
			So(mastery.Recommend(85, true, -6, p).Action, ShouldEqual, model.ActionTargetedPractice)
		})
	})
}

func TestFixtureEstimator(t *testing.T) {
	Convey("Given the fixture estimator", t, func() {
		est, err := mastery.New(mastery.NameFixture, mastery.DefaultParams())
		So(err, ShouldBeNil)
		So(est.Name(), ShouldEqual, "fixture")

		Convey("When three correct answers are applied", func() {
			st := run(est, true, true, true)

			Convey("Then scores move in fixed steps", func() {
				So(st.FusedScore, ShouldEqual, 80.0)
				So(st.LearningVelocity, ShouldEqual, 10.0)
				So(st.Confidence, ShouldAlmostEqual, 0.3, 1e-9)
				_, rec := est.Assess(st)
				So(rec.Action, ShouldEqual, model.ActionAdvance)
			})
		})

		Convey("When the same sequence is replayed", func() {
			a := run(est, true, false, true)
			b := run(est, true, false, true)
			So(a.FusedScore, ShouldEqual, b.FusedScore)
			So(a.FusedScore, ShouldEqual, 60.0)
		})
	})
}
