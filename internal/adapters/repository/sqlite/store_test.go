package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/okian/biprop/internal/adapters/repository"
	"github.com/okian/biprop/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func testJob(id string) model.Job {
	return model.Job{
		ID:          id,
		Fingerprint: "fp-" + id,
		Election: model.Election{
			Title:     id,
			Districts: []model.District{{ID: "N", Seats: 2}},
			Parties:   []model.Party{{ID: "X"}, {ID: "Y"}},
			Votes:     map[string]map[string]int64{"X": {"N": 70}, "Y": {"N": 30}},
		},
		SubmittedAt: time.UnixMilli(1700000000123).UTC(),
	}
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(1700000100000).UTC()

	Convey("Given a store in a temporary file", t, func() {
		path := filepath.Join(t.TempDir(), "jobs.db")
		s, err := Open(path)
		So(err, ShouldBeNil)
		Reset(func() { _ = s.Close() })

		So(s.Count(ctx), ShouldEqual, 0)

		Convey("When a job is created", func() {
			So(s.Create(ctx, testJob("a")), ShouldBeNil)

			Convey("Then it reads back queued with its election", func() {
				rec, err := s.Get(ctx, "a")
				So(err, ShouldBeNil)
				So(rec.Status, ShouldEqual, model.JobQueued)
				So(rec.Fingerprint, ShouldEqual, "fp-a")
				So(rec.Election.Fingerprint(), ShouldEqual, testJob("a").Election.Fingerprint())
				So(rec.SubmittedAt, ShouldEqual, testJob("a").SubmittedAt)
				So(rec.StartedAt.IsZero(), ShouldBeTrue)
				So(rec.Outcome, ShouldBeNil)
				So(s.Count(ctx), ShouldEqual, 1)
			})

			Convey("Then the same ID is refused", func() {
				So(errors.Is(s.Create(ctx, testJob("a")), repository.ErrDuplicateID), ShouldBeTrue)
			})

			Convey("And it runs to completion", func() {
				So(s.MarkRunning(ctx, "a", now), ShouldBeNil)

				seats := model.NewSeatMatrix([]string{"N"}, []string{"X", "Y"})
				seats.Cells[0][0], seats.Cells[0][1] = 1, 1
				outcome := model.Outcome{
					Seats:      seats,
					State:      model.DivisorState{District: []float64{40}, Party: []float64{1, 1}},
					Targets:    model.Targets{District: []int{2}, Party: []int{1, 1}},
					Iterations: 1,
				}
				So(s.Complete(ctx, "a", outcome, now.Add(time.Second)), ShouldBeNil)

				Convey("Then the outcome survives a reopen", func() {
					So(s.Close(), ShouldBeNil)
					s, err = Open(path)
					So(err, ShouldBeNil)

					rec, err := s.Get(ctx, "a")
					So(err, ShouldBeNil)
					So(rec.Status, ShouldEqual, model.JobSucceeded)
					So(rec.Outcome, ShouldNotBeNil)
					So(rec.Outcome.Seats.Equal(seats), ShouldBeTrue)
					So(rec.Outcome.State.District, ShouldResemble, []float64{40})
					So(rec.StartedAt, ShouldEqual, now)
					So(rec.FinishedAt, ShouldEqual, now.Add(time.Second))
				})

				Convey("Then it can no longer fail", func() {
					err := s.Fail(ctx, "a", "configuration", "late", now)
					So(errors.Is(err, repository.ErrInvalidTransition), ShouldBeTrue)
				})
			})

			Convey("Then it cannot complete before running", func() {
				err := s.Complete(ctx, "a", model.Outcome{}, now)
				So(errors.Is(err, repository.ErrInvalidTransition), ShouldBeTrue)
			})

			Convey("And it fails while queued", func() {
				So(s.Fail(ctx, "a", "search_exhausted", "no divisor", now), ShouldBeNil)

				rec, err := s.Get(ctx, "a")
				So(err, ShouldBeNil)
				So(rec.Status, ShouldEqual, model.JobFailed)
				So(rec.ErrorKind, ShouldEqual, "search_exhausted")
				So(rec.Error, ShouldEqual, "no divisor")
			})
		})

		Convey("When the process stops with unfinished jobs", func() {
			older, newer := testJob("q"), testJob("r")
			newer.SubmittedAt = older.SubmittedAt.Add(time.Second)
			So(s.Create(ctx, newer), ShouldBeNil)
			So(s.Create(ctx, older), ShouldBeNil)
			So(s.Create(ctx, testJob("done")), ShouldBeNil)
			So(s.MarkRunning(ctx, "r", now), ShouldBeNil)
			So(s.Fail(ctx, "done", "configuration", "bad", now), ShouldBeNil)
			So(s.Close(), ShouldBeNil)

			s, err = Open(path)
			So(err, ShouldBeNil)
			jobs, err := s.Recover(ctx)
			So(err, ShouldBeNil)

			Convey("Then the reopened store hands them back queued, oldest first", func() {
				So(jobs, ShouldHaveLength, 2)
				So(jobs[0].ID, ShouldEqual, "q")
				So(jobs[1].ID, ShouldEqual, "r")
				So(jobs[1].Fingerprint, ShouldEqual, "fp-r")
				So(jobs[1].SubmittedAt, ShouldEqual, newer.SubmittedAt)
				So(jobs[1].Election.Fingerprint(), ShouldEqual, newer.Election.Fingerprint())

				rec, err := s.Get(ctx, "r")
				So(err, ShouldBeNil)
				So(rec.Status, ShouldEqual, model.JobQueued)
				So(rec.StartedAt.IsZero(), ShouldBeTrue)
				So(s.MarkRunning(ctx, "r", now), ShouldBeNil)
			})
		})

		Convey("When an unknown job is touched", func() {
			_, err := s.Get(ctx, "missing")
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			So(errors.Is(s.MarkRunning(ctx, "missing", now), repository.ErrNotFound), ShouldBeTrue)
		})
	})

	Convey("Given an empty path", t, func() {
		_, err := Open(" ")
		So(err, ShouldNotBeNil)
	})
}
