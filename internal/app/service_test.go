package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/amep/internal/adapters/journal"
	"github.com/okian/amep/internal/adapters/repository"
	service "github.com/okian/amep/internal/app"
	"github.com/okian/amep/internal/domain/ingest"
	"github.com/okian/amep/internal/domain/model"
	"github.com/okian/amep/internal/domain/planner"
	"github.com/okian/amep/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func startService(opts ...service.Option) *service.Service {
	base := []service.Option{
		service.WithLogger(logger.Nop()),
		service.WithWorkerCount(2),
		service.WithQueueSize(1000),
		service.WithOperationTimeout(2 * time.Second),
	}
	svc := service.New(append(base, opts...)...)
	So(svc.Start(context.Background()), ShouldBeNil)
	return svc
}

func newService(opts ...service.Option) *service.Service {
	return startService(append([]service.Option{service.WithJournalOptions(journal.WithInMemory())}, opts...)...)
}

func response(student, concept string, i int, correct bool) ingest.RawResponse {
	rt := 8.0
	return ingest.RawResponse{
		StudentID:    student,
		ConceptID:    concept,
		IsCorrect:    &correct,
		ResponseTime: &rt,
		Timestamp:    t0.Add(time.Duration(i) * time.Minute).Format(time.RFC3339),
	}
}

func TestServiceMastery(t *testing.T) {
	Convey("Given a running engine", t, func() {
		svc := newService()
		defer svc.Stop()
		ctx := context.Background()

		Convey("When a student answers five correctly then one incorrectly", func() {
			var res model.MasteryResult
			var err error
			for i, ok := range []bool{true, true, true, true, true, false} {
				res, err = svc.UpdateMastery(ctx, response("s1", "c1", i, ok))
				So(err, ShouldBeNil)
			}

			Convey("Then the student may advance", func() {
				So(res.State.EventCount, ShouldEqual, 6)
				So(res.State.FusedScore, ShouldAlmostEqual, 87.1, 0.5)
				So(res.NeedsPractice, ShouldBeFalse)
				So(res.Recommendation.Action, ShouldEqual, model.ActionAdvance)
			})

			Convey("Then the student's mastery can be read back", func() {
				all, err := svc.StudentMastery(ctx, "s1")
				So(err, ShouldBeNil)
				So(len(all), ShouldEqual, 1)
				So(all[0].State.FusedScore, ShouldEqual, res.State.FusedScore)
			})
		})

		Convey("When a submission is invalid", func() {
			raw := response("s1", "c1", 0, true)
			bad := -1.0
			raw.ResponseTime = &bad
			_, err := svc.UpdateMastery(ctx, raw)

			Convey("Then a validation error is returned and nothing is stored", func() {
				So(errors.Is(err, ingest.ErrValidation), ShouldBeTrue)
				_, err = svc.StudentMastery(ctx, "s1")
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When many updates for one key arrive at once", func() {
			const n = 100
			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, _ = svc.UpdateMastery(ctx, response("s2", "c1", i, i%3 != 0))
				}(i)
			}
			wg.Wait()

			Convey("Then every update is applied exactly once", func() {
				all, err := svc.StudentMastery(ctx, "s2")
				So(err, ShouldBeNil)
				So(all[0].State.EventCount, ShouldEqual, n)
				So(all[0].State.FusedScore, ShouldBeBetweenOrEqual, 0, 100)
			})
		})

		Convey("When a related concept is already mastered", func() {
			for i := 0; i < 5; i++ {
				_, err := svc.UpdateMastery(ctx, response("s3", "base", i, true))
				So(err, ShouldBeNil)
			}
			plain, err := svc.UpdateMastery(ctx, response("s4", "next", 0, true))
			So(err, ShouldBeNil)
			raw := response("s3", "next", 0, true)
			raw.RelatedConcepts = []ingest.RawRelated{{ConceptID: "base", Similarity: 0.8}}
			helped, err := svc.UpdateMastery(ctx, raw)
			So(err, ShouldBeNil)

			Convey("Then its stored score feeds the memory component", func() {
				So(helped.State.DKVMN, ShouldBeGreaterThan, plain.State.DKVMN)
			})
		})

		Convey("When the student's session ends", func() {
			_, err := svc.UpdateMastery(ctx, response("s5", "c1", 0, true))
			So(err, ShouldBeNil)
			n, err := svc.EndSession(ctx, "s5")
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 1)

			Convey("Then reads no longer see it and new events start fresh", func() {
				_, err := svc.StudentMastery(ctx, "s5")
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
				res, err := svc.UpdateMastery(ctx, response("s5", "c1", 1, true))
				So(err, ShouldBeNil)
				So(res.State.EventCount, ShouldEqual, 1)
			})
		})
	})
}

func TestServiceSubmit(t *testing.T) {
	Convey("Given a running engine", t, func() {
		svc := newService()
		defer svc.Stop()
		ctx := context.Background()

		Convey("When the same event is submitted twice", func() {
			raw := response("s1", "c1", 0, true)
			raw.EventID = "evt-1"
			dup1, err1 := svc.Submit(ctx, raw)
			dup2, err2 := svc.Submit(ctx, raw)

			Convey("Then it is processed once", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(dup1, ShouldBeFalse)
				So(dup2, ShouldBeTrue)

				var count int
				deadline := time.Now().Add(2 * time.Second)
				for time.Now().Before(deadline) {
					if all, err := svc.StudentMastery(ctx, "s1"); err == nil {
						count = all[0].State.EventCount
						break
					}
					time.Sleep(10 * time.Millisecond)
				}
				So(count, ShouldEqual, 1)
				So(svc.Size(), ShouldEqual, 1)
			})
		})

		Convey("When an async submission is invalid", func() {
			raw := response("", "c1", 0, true)
			_, err := svc.Submit(ctx, raw)
			So(errors.Is(err, ingest.ErrValidation), ShouldBeTrue)
		})
	})
}

func TestServiceEngagement(t *testing.T) {
	Convey("Given a running engine with a controlled clock", t, func() {
		clk := &clock{now: t0}
		svc := newService(service.WithClock(clk.Now))
		defer svc.Stop()
		ctx := context.Background()
		sub := svc.Hub().Subscribe("k1")

		rating := 4.0
		engaged := ingest.RawEngagement{
			StudentID:       "s1",
			ClassID:         "k1",
			ImplicitSignals: model.ImplicitSignals{ResponseTimes: []float64{10, 11, 9, 10}},
			ExplicitSignals: model.ExplicitSignals{Rating: &rating},
		}

		Convey("When a steady student reports engagement", func() {
			res, err := svc.AnalyzeEngagement(ctx, engaged)

			Convey("Then a level is assigned and subscribers hear about it", func() {
				So(err, ShouldBeNil)
				So(res.State.ClassID, ShouldEqual, "k1")
				So(res.State.Level, ShouldNotBeEmpty)
				So(len(res.Recommendations), ShouldBeGreaterThan, 0)

				select {
				case n := <-sub.C():
					So(n.Type, ShouldEqual, model.NotifyEngagementChanged)
					So(n.StudentID, ShouldEqual, "s1")
				case <-time.After(time.Second):
					So("no notification", ShouldBeEmpty)
				}
			})

			Convey("Then the class dashboard includes the student", func() {
				agg, err := svc.ClassEngagement(ctx, "k1")
				So(err, ShouldBeNil)
				So(agg.StudentCount, ShouldEqual, 1)
				So(agg.EngagementIndex, ShouldAlmostEqual, res.State.FusedScore, 1e-9)
			})
		})

		Convey("When the student goes quiet well past the timeout", func() {
			res, err := svc.AnalyzeEngagement(ctx, engaged)
			So(err, ShouldBeNil)
			start := res.State.FusedScore
			clk.Advance(time.Hour)

			read, err := svc.StudentEngagement(ctx, "s1")
			So(err, ShouldBeNil)
			svc.DecaySweep(ctx)
			swept, err := svc.StudentEngagement(ctx, "s1")
			So(err, ShouldBeNil)

			Convey("Then the score drifts to the baseline on read and after the sweep", func() {
				So(start, ShouldBeGreaterThan, 55)
				So(read.FusedScore, ShouldBeLessThan, start)
				So(read.FusedScore, ShouldAlmostEqual, swept.FusedScore, 1e-9)
				So(swept.FusedScore, ShouldAlmostEqual, 50.0, 1.0)
			})
		})

		Convey("When an unknown class or student is requested", func() {
			_, err := svc.ClassEngagement(ctx, "nope")
			So(errors.Is(err, service.ErrUnknownClass), ShouldBeTrue)
			_, err = svc.StudentEngagement(ctx, "nobody")
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
		})
	})
}

func TestServicePractice(t *testing.T) {
	Convey("Given a running engine with the built-in catalog", t, func() {
		svc := newService()
		defer svc.Stop()
		ctx := context.Background()
		for i := 0; i < 4; i++ {
			_, err := svc.UpdateMastery(ctx, response("s1", "algebra_linear", i, true))
			So(err, ShouldBeNil)
		}

		Convey("When a session is requested", func() {
			s, err := svc.GeneratePractice(ctx, ingest.RawPlan{StudentID: "s1", SessionDuration: 20, SubjectArea: "algebra"})

			Convey("Then items fit the budget in difficulty order", func() {
				So(err, ShouldBeNil)
				So(s.TotalItems, ShouldBeGreaterThan, 0)
				So(s.EstimatedDuration, ShouldBeLessThanOrEqualTo, 20)
				for i := 1; i < len(s.ContentItems); i++ {
					So(s.ContentItems[i].Difficulty, ShouldBeGreaterThanOrEqualTo, s.ContentItems[i-1].Difficulty)
				}
			})
		})

		Convey("When the subject has no content", func() {
			s, err := svc.GeneratePractice(ctx, ingest.RawPlan{StudentID: "s1", SessionDuration: 20, SubjectArea: "history"})
			So(errors.Is(err, planner.ErrInsufficientContent), ShouldBeTrue)
			So(s.ContentItems, ShouldBeEmpty)
		})

		Convey("When the request is malformed", func() {
			_, err := svc.GeneratePractice(ctx, ingest.RawPlan{StudentID: "s1", SessionDuration: 0, SubjectArea: "algebra"})
			So(errors.Is(err, ingest.ErrValidation), ShouldBeTrue)
		})
	})
}

func TestServiceIntervention(t *testing.T) {
	Convey("Given two students struggling with a concept", t, func() {
		svc := newService()
		defer svc.Stop()
		ctx := context.Background()
		for _, s := range []string{"s1", "s2"} {
			for i := 0; i < 3; i++ {
				_, err := svc.UpdateMastery(ctx, response(s, "frac", i, false))
				So(err, ShouldBeNil)
			}
		}

		Convey("When an intervention is recorded and s1 improves", func() {
			rec, err := svc.TrackIntervention(ctx, ingest.RawIntervention{
				TeacherID:        "t1",
				ConceptID:        "frac",
				InterventionType: "small_group",
				TargetStudents:   []string{"s1", "s2", "s3"},
			})
			So(err, ShouldBeNil)
			for i := 3; i < 8; i++ {
				_, err := svc.UpdateMastery(ctx, response("s1", "frac", i, true))
				So(err, ShouldBeNil)
			}
			impact, err := svc.InterventionImpact(ctx, rec.InterventionID)

			Convey("Then the before snapshot covers known targets and the impact is positive", func() {
				So(err, ShouldBeNil)
				So(len(rec.StudentsBefore), ShouldEqual, 2)
				So(rec.MasteryBefore, ShouldBeLessThan, 50)
				So(impact.Delta, ShouldBeGreaterThan, 0)
				So(impact.Improved, ShouldEqual, 1)
				So(impact.StudentsAfter["s2"], ShouldEqual, rec.StudentsBefore["s2"])
			})
		})

		Convey("When an unknown intervention is queried", func() {
			_, err := svc.InterventionImpact(ctx, "missing")
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
		})

		Convey("When a submission has no targets", func() {
			_, err := svc.TrackIntervention(ctx, ingest.RawIntervention{TeacherID: "t1", ConceptID: "frac", InterventionType: "x"})
			So(errors.Is(err, ingest.ErrValidation), ShouldBeTrue)
		})
	})
}

func TestServiceRestart(t *testing.T) {
	Convey("Given an engine persisting to disk", t, func() {
		dir := t.TempDir()
		ctx := context.Background()
		opts := []service.Option{service.WithJournalOptions(journal.WithPath(dir))}

		first := startService(opts...)
		for i := 0; i < 3; i++ {
			_, err := first.UpdateMastery(ctx, response("s1", "c1", i, true))
			So(err, ShouldBeNil)
		}
		So(first.Checkpoint(ctx), ShouldBeNil)
		_, err := first.UpdateMastery(ctx, response("s1", "c1", 3, false))
		So(err, ShouldBeNil)
		first.Stop()

		Convey("When a new engine starts on the same directory", func() {
			second := startService(opts...)
			defer second.Stop()

			Convey("Then the state is restored", func() {
				all, err := second.StudentMastery(ctx, "s1")
				So(err, ShouldBeNil)
				So(all[0].State.EventCount, ShouldEqual, 4)
			})
		})
	})
}

func TestServiceStats(t *testing.T) {
	Convey("Given a service that is not started", t, func() {
		svc := service.New(service.WithLogger(logger.Nop()))
		So(svc.GetStats()["started"], ShouldEqual, false)
		So(svc.Size(), ShouldEqual, 0)
		svc.Stop()
	})

	Convey("Given a started service", t, func() {
		svc := newService()
		defer svc.Stop()
		stats := svc.GetStats()
		So(stats["started"], ShouldEqual, true)
		So(stats["estimator"], ShouldEqual, "hybrid")
	})

	Convey("Given a service that is stopped and started again", t, func() {
		svc := newService()
		svc.Stop()
		So(svc.GetStats()["started"], ShouldEqual, false)

		So(svc.Start(context.Background()), ShouldBeNil)
		_, err := svc.UpdateMastery(context.Background(), response("s1", "c1", 0, true))
		So(err, ShouldBeNil)
		So(svc.GetStats()["started"], ShouldEqual, true)
		So(func() { svc.Stop() }, ShouldNotPanic)
		So(svc.GetStats()["started"], ShouldEqual, false)
	})

	Convey("Given an unknown estimator", t, func() {
		svc := service.New(service.WithLogger(logger.Nop()), service.WithEstimator("neural"),
			service.WithJournalOptions(journal.WithInMemory()))
		So(svc.Start(context.Background()), ShouldNotBeNil)
	})
}
