package journal_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/amep/internal/adapters/journal"
	"github.com/okian/amep/internal/adapters/repository"
	"github.com/okian/amep/internal/domain/model"
	"github.com/okian/amep/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func openJournal() *journal.Journal {
	j, err := journal.Open(
		journal.WithInMemory(),
		journal.WithFlushInterval(5*time.Millisecond),
		journal.WithLogger(logger.Nop()))
	So(err, ShouldBeNil)
	return j
}

func mastery(concept string, n int) *model.MasteryState {
	return &model.MasteryState{StudentID: "s1", ConceptID: concept, EventCount: n, FusedScore: float64(n) * 10}
}

func TestRestore(t *testing.T) {
	Convey("Given a journal with recorded transitions", t, func() {
		j := openJournal()
		defer j.Close()
		ctx := context.Background()

		j.MasteryCommitted(mastery("c1", 1))
		j.MasteryCommitted(mastery("c1", 2))
		j.MasteryCommitted(mastery("c2", 1))
		j.EngagementCommitted(&model.EngagementState{StudentID: "s1", ClassID: "k1", FusedScore: 70})
		j.EngagementCommitted(&model.EngagementState{StudentID: "s2", ClassID: "k1", FusedScore: 40})
		j.EngagementRemoved("s2")
		So(j.AppendIntervention(model.InterventionRecord{InterventionID: "i1"}), ShouldBeNil)
		So(j.Seq(), ShouldEqual, 7)
		So(j.Flush(ctx), ShouldBeNil)

		Convey("When the dump is restored", func() {
			d, err := j.Restore(ctx)

			Convey("Then the latest transition per key wins", func() {
				So(err, ShouldBeNil)
				So(len(d.Mastery), ShouldEqual, 2)
				So(d.Mastery[0].ConceptID, ShouldEqual, "c1")
				So(d.Mastery[0].EventCount, ShouldEqual, 2)
				So(len(d.Engagement), ShouldEqual, 1)
				So(d.Engagement[0].StudentID, ShouldEqual, "s1")
				So(len(d.Interventions), ShouldEqual, 1)
			})
		})

		Convey("When a checkpoint is taken and more transitions follow", func() {
			watermark := j.Seq()
			So(j.Checkpoint(ctx, watermark, repository.Dump{
				Mastery: []*model.MasteryState{mastery("c1", 2)},
			}), ShouldBeNil)
			j.MasteryCommitted(mastery("c1", 3))
			So(j.Flush(ctx), ShouldBeNil)

			d, err := j.Restore(ctx)

			Convey("Then only the snapshot and later transitions are used", func() {
				So(err, ShouldBeNil)
				So(len(d.Mastery), ShouldEqual, 1)
				So(d.Mastery[0].EventCount, ShouldEqual, 3)
				So(d.Engagement, ShouldBeEmpty)
			})
		})
	})
}

func TestStoreRoundTrip(t *testing.T) {
	Convey("Given a store observed by a journal", t, func() {
		j := openJournal()
		defer j.Close()
		ctx := context.Background()
		s := repository.NewSessionStore(ctx, repository.WithObserver(j), repository.WithLogger(logger.Nop()))
		defer s.Close()

		key := model.Key{StudentID: "s1", ConceptID: "c1"}
		for i := 1; i <= 3; i++ {
			n := i
			_, err := s.UpdateMastery(ctx, key, func(*model.MasteryState) (*model.MasteryState, error) {
				return mastery("c1", n), nil
			})
			So(err, ShouldBeNil)
		}
		So(j.Flush(ctx), ShouldBeNil)

		Convey("When a fresh store is seeded from the journal", func() {
			d, err := j.Restore(ctx)
			So(err, ShouldBeNil)
			fresh := repository.NewSessionStore(ctx, repository.WithLogger(logger.Nop()))
			defer fresh.Close()
			fresh.Seed(ctx, d)

			Convey("Then it holds the last committed state", func() {
				st, err := fresh.Mastery(ctx, key)
				So(err, ShouldBeNil)
				So(st.EventCount, ShouldEqual, 3)
			})
		})
	})
}

func TestClosed(t *testing.T) {
	Convey("Given a closed journal", t, func() {
		j := openJournal()
		So(j.Close(), ShouldBeNil)
		So(j.Close(), ShouldBeNil)

		Convey("Then appends are refused", func() {
			So(errors.Is(j.Append(journal.KindMastery, mastery("c1", 1)), journal.ErrUnavailable), ShouldBeTrue)
			So(errors.Is(j.Checkpoint(context.Background(), 0, repository.Dump{}), journal.ErrUnavailable), ShouldBeTrue)
		})
	})

	Convey("Given a persistent journal without a path", t, func() {
		_, err := journal.Open(journal.WithLogger(logger.Nop()))
		So(errors.Is(err, journal.ErrUnavailable), ShouldBeTrue)
	})
}
