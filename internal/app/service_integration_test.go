package service_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/okian/biprop/internal/adapters/repository/sqlite"
	service "github.com/okian/biprop/internal/app"
	"github.com/okian/biprop/internal/domain/apportion"
	"github.com/okian/biprop/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestServiceIntegration(t *testing.T) {
	Convey("Given a service backed by SQLite", t, func() {
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "jobs.db")
		store, err := sqlite.Open(path)
		So(err, ShouldBeNil)

		svc := service.New(
			service.WithWorkerCount(4),
			service.WithQueueSize(64),
			service.WithStore(store),
			service.WithEngineOptions(apportion.WithMaxIterations(50)),
		)
		So(svc.Start(ctx), ShouldBeNil)

		Convey("When several distinct elections are submitted", func() {
			ids := make([]string, 0, 5)
			for i := range 5 {
				e := fixtureElection()
				e.Title = fmt.Sprintf("run %d", i)
				e.Votes["A"]["WK1"] += int64(i)
				sub, err := svc.Submit(ctx, e)
				So(err, ShouldBeNil)
				So(sub.Duplicate, ShouldBeFalse)
				ids = append(ids, sub.ID)
			}
			for _, id := range ids {
				rec := waitFinished(ctx, svc, id)
				So(rec.Status, ShouldEqual, model.JobSucceeded)
			}
			So(svc.GetStats(ctx)["jobsStored"], ShouldEqual, 5)
			So(svc.Stop(ctx), ShouldBeNil)

			Convey("Then the results are still there after a restart", func() {
				reopened, err := sqlite.Open(path)
				So(err, ShouldBeNil)
				next := service.New(service.WithStore(reopened))
				So(next.Start(ctx), ShouldBeNil)
				defer func() { _ = next.Stop(ctx) }()

				for _, id := range ids {
					rec, err := next.Job(ctx, id)
					So(err, ShouldBeNil)
					So(rec.Status, ShouldEqual, model.JobSucceeded)
					So(rec.Outcome.Seats.Total(), ShouldEqual, 15)
				}
			})
		})
	})
}

func TestServiceRecovery(t *testing.T) {
	Convey("Given a SQLite store left with unfinished jobs", t, func() {
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "jobs.db")
		store, err := sqlite.Open(path)
		So(err, ShouldBeNil)

		queued, running := fixtureElection(), fixtureElection()
		running.Votes["B"]["WK2"]++
		submitted := time.Unix(1700000000, 0).UTC()
		for id, e := range map[string]model.Election{"queued": queued, "running": running} {
			job := model.Job{ID: id, Fingerprint: e.Fingerprint(), Election: e, SubmittedAt: submitted}
			So(store.Create(ctx, job), ShouldBeNil)
		}
		So(store.MarkRunning(ctx, "running", submitted), ShouldBeNil)
		So(store.Close(), ShouldBeNil)

		Convey("When a service starts on the reopened store", func() {
			reopened, err := sqlite.Open(path)
			So(err, ShouldBeNil)
			svc := service.New(service.WithWorkerCount(2), service.WithStore(reopened))
			So(svc.Start(ctx), ShouldBeNil)
			defer func() { _ = svc.Stop(ctx) }()

			Convey("Then both jobs are computed", func() {
				for _, id := range []string{"queued", "running"} {
					rec := waitFinished(ctx, svc, id)
					So(rec.Status, ShouldEqual, model.JobSucceeded)
					So(rec.Outcome.Seats.Total(), ShouldEqual, 15)
				}
			})

			Convey("Then resubmitting a recovered election returns its job", func() {
				sub, err := svc.Submit(ctx, queued)
				So(err, ShouldBeNil)
				So(sub.Duplicate, ShouldBeTrue)
				So(sub.ID, ShouldEqual, "queued")
			})
		})

		Convey("When the recovered jobs do not fit in the queue", func() {
			reopened, err := sqlite.Open(path)
			So(err, ShouldBeNil)
			svc := service.New(service.WithWorkerCount(1), service.WithQueueSize(1), service.WithStore(reopened))
			So(svc.Start(ctx), ShouldBeNil)
			defer func() { _ = svc.Stop(ctx) }()

			Convey("Then the overflow is failed as rejected", func() {
				var succeeded, rejected int
				for _, id := range []string{"queued", "running"} {
					rec := waitFinished(ctx, svc, id)
					switch {
					case rec.Status == model.JobSucceeded:
						succeeded++
					case rec.ErrorKind == "rejected":
						rejected++
					}
				}
				So(succeeded, ShouldEqual, 1)
				So(rejected, ShouldEqual, 1)
			})
		})
	})
}
