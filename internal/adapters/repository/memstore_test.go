package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/biprop/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func testJob(id string) model.Job {
	return model.Job{
		ID:          id,
		Fingerprint: "fp-" + id,
		Election:    model.Election{Title: id},
		SubmittedAt: time.Unix(1700000000, 0).UTC(),
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000100, 0).UTC()

	Convey("Given an empty memory store", t, func() {
		s := NewMemoryStore(WithCapacity(3))
		So(s.Count(ctx), ShouldEqual, 0)

		Convey("When a job is created", func() {
			So(s.Create(ctx, testJob("a")), ShouldBeNil)

			Convey("Then it is queued", func() {
				rec, err := s.Get(ctx, "a")
				So(err, ShouldBeNil)
				So(rec.Status, ShouldEqual, model.JobQueued)
				So(rec.Fingerprint, ShouldEqual, "fp-a")
				So(rec.Election.Title, ShouldEqual, "a")
				So(s.Count(ctx), ShouldEqual, 1)
			})

			Convey("Then the same ID is refused", func() {
				So(errors.Is(s.Create(ctx, testJob("a")), ErrDuplicateID), ShouldBeTrue)
			})

			Convey("And it runs to completion", func() {
				So(s.MarkRunning(ctx, "a", now), ShouldBeNil)
				outcome := model.Outcome{Iterations: 2}
				So(s.Complete(ctx, "a", outcome, now.Add(time.Second)), ShouldBeNil)

				Convey("Then the outcome and timestamps are stored", func() {
					rec, err := s.Get(ctx, "a")
					So(err, ShouldBeNil)
					So(rec.Status, ShouldEqual, model.JobSucceeded)
					So(rec.Outcome, ShouldNotBeNil)
					So(rec.Outcome.Iterations, ShouldEqual, 2)
					So(rec.StartedAt, ShouldEqual, now)
					So(rec.FinishedAt, ShouldEqual, now.Add(time.Second))
				})

				Convey("Then it cannot fail afterwards", func() {
					So(errors.Is(s.Fail(ctx, "a", "internal", "late", now), ErrInvalidTransition), ShouldBeTrue)
				})
			})

			Convey("And it fails while queued", func() {
				So(s.Fail(ctx, "a", "configuration", "bad input", now), ShouldBeNil)
				rec, _ := s.Get(ctx, "a")
				So(rec.Status, ShouldEqual, model.JobFailed)
				So(rec.ErrorKind, ShouldEqual, "configuration")
				So(rec.Error, ShouldEqual, "bad input")
			})

			Convey("When unfinished jobs are recovered", func() {
				So(s.Create(ctx, testJob("b")), ShouldBeNil)
				So(s.Create(ctx, testJob("c")), ShouldBeNil)
				So(s.MarkRunning(ctx, "a", now), ShouldBeNil)
				So(s.MarkRunning(ctx, "c", now), ShouldBeNil)
				So(s.Complete(ctx, "c", model.Outcome{}, now), ShouldBeNil)

				jobs, err := s.Recover(ctx)
				So(err, ShouldBeNil)

				Convey("Then running and queued jobs come back queued in order", func() {
					So(jobs, ShouldHaveLength, 2)
					So(jobs[0].ID, ShouldEqual, "a")
					So(jobs[0].Fingerprint, ShouldEqual, "fp-a")
					So(jobs[1].ID, ShouldEqual, "b")

					rec, _ := s.Get(ctx, "a")
					So(rec.Status, ShouldEqual, model.JobQueued)
					So(rec.StartedAt.IsZero(), ShouldBeTrue)
					So(s.MarkRunning(ctx, "a", now), ShouldBeNil)

					done, _ := s.Get(ctx, "c")
					So(done.Status, ShouldEqual, model.JobSucceeded)
				})
			})

			Convey("Then it cannot complete without running", func() {
				err := s.Complete(ctx, "a", model.Outcome{}, now)
				So(errors.Is(err, ErrInvalidTransition), ShouldBeTrue)
			})
		})

		Convey("When an unknown job is touched", func() {
			_, err := s.Get(ctx, "nope")
			So(errors.Is(err, ErrNotFound), ShouldBeTrue)
			So(errors.Is(s.MarkRunning(ctx, "nope", now), ErrNotFound), ShouldBeTrue)
		})

		Convey("When the store is full", func() {
			for _, id := range []string{"a", "b", "c"} {
				So(s.Create(ctx, testJob(id)), ShouldBeNil)
			}

			Convey("And nothing has finished", func() {
				So(errors.Is(s.Create(ctx, testJob("d")), ErrStoreFull), ShouldBeTrue)
			})

			Convey("And a later job has finished", func() {
				So(s.Fail(ctx, "b", "internal", "x", now), ShouldBeNil)
				So(s.Create(ctx, testJob("d")), ShouldBeNil)

				Convey("Then the finished job made room", func() {
					So(s.Count(ctx), ShouldEqual, 3)
					_, err := s.Get(ctx, "b")
					So(errors.Is(err, ErrNotFound), ShouldBeTrue)
					_, err = s.Get(ctx, "a")
					So(err, ShouldBeNil)
				})
			})
		})
	})

	Convey("Given concurrent writers", t, func() {
		s := NewMemoryStore()
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id := fmt.Sprintf("job-%d", i)
				_ = s.Create(ctx, testJob(id))
				_ = s.MarkRunning(ctx, id, now)
				_ = s.Complete(ctx, id, model.Outcome{}, now)
			}(i)
		}
		wg.Wait()

		So(s.Count(ctx), ShouldEqual, 20)
		rec, err := s.Get(ctx, "job-7")
		So(err, ShouldBeNil)
		So(rec.Status, ShouldEqual, model.JobSucceeded)
	})
}
