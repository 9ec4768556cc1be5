package simulate_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/okian/amep/internal/adapters/http/api"
	"github.com/okian/amep/internal/adapters/journal"
	service "github.com/okian/amep/internal/app"
	"github.com/okian/amep/internal/simulate"
	"github.com/okian/amep/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func config() *simulate.Config {
	return &simulate.Config{
		Timeout:           5 * time.Second,
		Workers:           4,
		Students:          10,
		Classes:           2,
		Concepts:          []string{"algebra_linear", "algebra_quadratic"},
		AnswersPerConcept: 5,
		DuplicateRate:     0.3,
		SubjectArea:       "algebra",
		Settle:            10 * time.Second,
		Seed:              7,
	}
}

func TestGenerator(t *testing.T) {
	Convey("Given two generators with the same seed", t, func() {
		now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
		a := simulate.NewGenerator(config(), now)
		b := simulate.NewGenerator(config(), now)
		ra, rb := a.Roster(), b.Roster()

		Convey("Then the rosters have the same profiles", func() {
			So(len(ra), ShouldEqual, 10)
			for i := range ra {
				So(ra[i].Ability, ShouldEqual, rb[i].Ability)
				So(ra[i].ClassID, ShouldEqual, rb[i].ClassID)
			}
			So(ra[0].ClassID, ShouldEqual, "class-1")
			So(ra[1].ClassID, ShouldEqual, "class-2")
		})

		Convey("Then every student answers every concept in time order", func() {
			answers := a.Answers(ra)
			So(len(answers), ShouldEqual, 10*2*5)
			expected := simulate.Expected(answers)
			So(expected[ra[0].ID]["algebra_linear"], ShouldEqual, 5)
			So(answers[0].Timestamp < answers[1].Timestamp, ShouldBeTrue)
			for _, ans := range answers {
				So(ans.ResponseTime, ShouldBeGreaterThanOrEqualTo, 1)
			}
		})

		Convey("Then one signal is produced per student", func() {
			signals := a.Signals(ra)
			So(len(signals), ShouldEqual, len(ra))
			So(*signals[0].ExplicitSignals.Rating, ShouldBeBetweenOrEqual, 1, 5)
		})
	})
}

func TestMismatches(t *testing.T) {
	Convey("Given expected and observed counts", t, func() {
		expected := map[string]map[string]int{"s1": {"c1": 2, "c2": 1}}
		var ok, short simulate.ConceptMastery
		ok.State.EventCount = 2
		short.State.EventCount = 0
		observed := map[string]map[string]simulate.ConceptMastery{"s1": {"c1": ok}}

		Convey("Then missing and short pairs are reported", func() {
			So(simulate.Mismatches(expected, observed), ShouldResemble, []string{"s1/c2"})
			observed["s1"]["c2"] = short
			So(simulate.Mismatches(expected, observed), ShouldResemble, []string{"s1/c2"})
		})
	})
}

func TestRun(t *testing.T) {
	Convey("Given a running engine behind an HTTP server", t, func() {
		svc := service.New(
			service.WithLogger(logger.Nop()),
			service.WithWorkerCount(4),
			service.WithJournalOptions(journal.WithInMemory()))
		So(svc.Start(context.Background()), ShouldBeNil)
		defer svc.Stop()

		mux := http.NewServeMux()
		api.NewServer(svc, svc, api.WithLogger(logger.Nop())).Register(context.Background(), mux)
		srv := httptest.NewServer(mux)
		defer srv.Close()

		Convey("When a classroom is simulated", func() {
			cfg := config()
			cfg.BaseURL = srv.URL
			stats, err := simulate.Run(context.Background(), cfg)

			Convey("Then every distinct answer is applied exactly once", func() {
				So(err, ShouldBeNil)
				So(stats.CountMismatches, ShouldEqual, 0)
				So(stats.AnswersAccepted, ShouldEqual, stats.AnswersGenerated)
				So(stats.AnswersAccepted+stats.AnswersDuplicate, ShouldEqual, stats.AnswersSubmitted)
				So(stats.AnswersFailed, ShouldEqual, 0)
				So(stats.SignalsSubmitted, ShouldEqual, 10)
				So(stats.StudentsVerified, ShouldEqual, 10)
				So(stats.SessionsPlanned+stats.SessionsNoContent, ShouldEqual, 10)
			})
		})

		Convey("When the engine is unreachable", func() {
			cfg := config()
			cfg.BaseURL = "http://127.0.0.1:1"
			cfg.Timeout = 200 * time.Millisecond
			_, err := simulate.Run(context.Background(), cfg)
			So(err, ShouldNotBeNil)
		})
	})
}
