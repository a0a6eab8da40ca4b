package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/biprop/internal/adapters/mq/queue"
	"github.com/okian/biprop/internal/adapters/mq/worker"
	"github.com/okian/biprop/internal/adapters/repository"
	"github.com/okian/biprop/internal/domain/apportion"
	"github.com/okian/biprop/internal/domain/model"
	logging "github.com/okian/biprop/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func fixtureElection() model.Election {
	return model.Election{
		Title: "fixture",
		Districts: []model.District{
			{ID: "WK1", Seats: 6},
			{ID: "WK2", Seats: 5},
			{ID: "WK3", Seats: 4},
		},
		Parties: []model.Party{{ID: "A"}, {ID: "B"}, {ID: "C"}},
		Votes: map[string]map[string]int64{
			"A": {"WK1": 14400, "WK2": 10100, "WK3": 6400},
			"B": {"WK1": 12000, "WK2": 10000, "WK3": 6000},
			"C": {"WK1": 4500, "WK2": 9900, "WK3": 5000},
		},
	}
}

type failingRunner struct{ err error }

func (f failingRunner) Run(context.Context, model.Election) (*apportion.Result, error) {
	return nil, f.err
}

// blockingRunner holds every run until release is closed.
type blockingRunner struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingRunner) Run(ctx context.Context, e model.Election) (*apportion.Result, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return apportion.NewEngine().Run(ctx, e)
}

// cancelingRunner cancels the worker context once the run has finished.
type cancelingRunner struct {
	cancel context.CancelFunc
}

func (c cancelingRunner) Run(ctx context.Context, e model.Election) (*apportion.Result, error) {
	res, err := apportion.NewEngine().Run(ctx, e)
	c.cancel()
	return res, err
}

// ctxRecorder refuses writes under a done context, like a database driver.
type ctxRecorder struct {
	repository.Store
}

func (r ctxRecorder) Complete(ctx context.Context, id string, outcome model.Outcome, at time.Time) error { //nolint:gocritic // hugeParam: matches the Recorder interface
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.Store.Complete(ctx, id, outcome, at)
}

func (r ctxRecorder) Fail(ctx context.Context, id, kind, message string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.Store.Fail(ctx, id, kind, message, at)
}

func submit(ctx context.Context, q queue.Queue, store repository.Store, id string, e model.Election) {
	job := model.Job{ID: id, Fingerprint: e.Fingerprint(), Election: e, SubmittedAt: time.Now()}
	convey.So(store.Create(ctx, job), convey.ShouldBeNil)
	convey.So(q.Enqueue(ctx, job), convey.ShouldBeNil)
}

func waitFinished(ctx context.Context, store repository.Store, id string) repository.Record {
	deadline := time.Now().Add(2 * time.Second)
	for {
		rec, err := store.Get(ctx, id)
		if err == nil && rec.Status.Finished() {
			return rec
		}
		if time.Now().After(deadline) {
			return rec
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestInMemoryWorker(t *testing.T) {
	_ = logging.Init()

	convey.Convey("Given a worker reading from a queue", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		q := queue.NewInMemoryQueue(queue.WithCapacity(8))
		store := repository.NewMemoryStore()
		fixed := time.Unix(1700000000, 0).UTC()

		convey.Convey("When the job apportions", func() {
			w := worker.NewInMemoryWorker(q, apportion.NewEngine(), store,
				worker.WithName("test-worker"),
				worker.WithClock(func() time.Time { return fixed }),
			)
			go w.Run(ctx)

			submit(ctx, q, store, "job-1", fixtureElection())
			rec := waitFinished(ctx, store, "job-1")

			convey.Convey("Then the outcome is stored", func() {
				convey.So(rec.Status, convey.ShouldEqual, model.JobSucceeded)
				convey.So(rec.Outcome, convey.ShouldNotBeNil)
				convey.So(rec.Outcome.Seats.Cells, convey.ShouldResemble, [][]int{{3, 2, 1}, {1, 2, 2}, {2, 1, 1}})
				convey.So(rec.Outcome.Targets.Party, convey.ShouldResemble, []int{6, 5, 4})
				convey.So(rec.StartedAt, convey.ShouldEqual, fixed)
				convey.So(rec.FinishedAt, convey.ShouldEqual, fixed)
			})

			convey.So(w.Shutdown(context.Background()), convey.ShouldBeNil)
		})

		convey.Convey("When the engine rejects the election", func() {
			w := worker.NewInMemoryWorker(q, apportion.NewEngine(), store)
			go w.Run(ctx)

			e := fixtureElection()
			e.Districts = append(e.Districts, model.District{ID: "WK4", Seats: 1})
			for _, p := range []string{"A", "B", "C"} {
				e.Votes[p]["WK4"] = 0
			}
			submit(ctx, q, store, "job-2", e)
			rec := waitFinished(ctx, store, "job-2")

			convey.Convey("Then the job fails with the configuration kind", func() {
				convey.So(rec.Status, convey.ShouldEqual, model.JobFailed)
				convey.So(rec.ErrorKind, convey.ShouldEqual, apportion.KindConfiguration)
				convey.So(rec.Error, convey.ShouldContainSubstring, "WK4")
				convey.So(rec.Outcome, convey.ShouldBeNil)
			})
		})

		convey.Convey("When the runner fails with a foreign error", func() {
			w := worker.NewInMemoryWorker(q, failingRunner{err: errors.New("disk on fire")}, store)
			go w.Run(ctx)

			submit(ctx, q, store, "job-3", fixtureElection())
			rec := waitFinished(ctx, store, "job-3")

			convey.So(rec.Status, convey.ShouldEqual, model.JobFailed)
			convey.So(rec.ErrorKind, convey.ShouldEqual, apportion.KindInternal)
		})

		convey.Convey("When the job is no longer queued in the store", func() {
			w := worker.NewInMemoryWorker(q, apportion.NewEngine(), store)
			go w.Run(ctx)

			job := model.Job{ID: "job-4", Election: fixtureElection(), SubmittedAt: fixed}
			convey.So(store.Create(ctx, job), convey.ShouldBeNil)
			convey.So(store.Fail(ctx, "job-4", "canceled", "withdrawn", fixed), convey.ShouldBeNil)
			convey.So(q.Enqueue(ctx, job), convey.ShouldBeNil)

			submit(ctx, q, store, "job-5", fixtureElection())
			waitFinished(ctx, store, "job-5")

			convey.Convey("Then the stored failure is left alone", func() {
				rec, err := store.Get(ctx, "job-4")
				convey.So(err, convey.ShouldBeNil)
				convey.So(rec.ErrorKind, convey.ShouldEqual, "canceled")
			})
		})

		convey.Convey("When the context is canceled while a job runs", func() {
			runCtx, stop := context.WithCancel(ctx)
			w := worker.NewInMemoryWorker(q, cancelingRunner{cancel: stop}, ctxRecorder{Store: store})
			go w.Run(runCtx)

			submit(ctx, q, store, "job-6", fixtureElection())
			rec := waitFinished(ctx, store, "job-6")

			convey.Convey("Then the finished run is still stored", func() {
				convey.So(runCtx.Err(), convey.ShouldNotBeNil)
				convey.So(rec.Status, convey.ShouldEqual, model.JobSucceeded)
				convey.So(rec.Outcome, convey.ShouldNotBeNil)
			})
		})

		convey.Convey("When shut down while idle", func() {
			w := worker.NewInMemoryWorker(q, apportion.NewEngine(), store)
			go w.Run(ctx)

			convey.So(w.Shutdown(context.Background()), convey.ShouldBeNil)
		})
	})
}

func TestPool(t *testing.T) {
	_ = logging.Init()

	convey.Convey("Given a pool of three workers", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		q := queue.NewInMemoryQueue(queue.WithCapacity(64))
		store := repository.NewMemoryStore()
		pool := worker.NewPool(3, q, apportion.NewEngine(), store)
		convey.So(pool.Size(), convey.ShouldEqual, 3)
		pool.Start(ctx)

		convey.Convey("When many jobs are queued", func() {
			for i := range 20 {
				submit(ctx, q, store, fmt.Sprintf("job-%d", i), fixtureElection())
			}

			convey.Convey("Then every job succeeds with the same seats", func() {
				for i := range 20 {
					rec := waitFinished(ctx, store, fmt.Sprintf("job-%d", i))
					convey.So(rec.Status, convey.ShouldEqual, model.JobSucceeded)
					convey.So(rec.Outcome.Seats.Cells[0], convey.ShouldResemble, []int{3, 2, 1})
				}
			})
		})

		convey.Convey("When shut down", func() {
			convey.So(pool.Shutdown(context.Background()), convey.ShouldBeNil)

			convey.Convey("Then the queue refuses new jobs", func() {
				err := q.Enqueue(ctx, model.Job{ID: "late"})
				convey.So(errors.Is(err, queue.ErrQueueClosed), convey.ShouldBeTrue)
			})

			convey.Convey("Then shutting down again is harmless", func() {
				convey.So(pool.Shutdown(context.Background()), convey.ShouldBeNil)
			})
		})
	})

	convey.Convey("Given a pool with a run in progress", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		q := queue.NewInMemoryQueue()
		store := repository.NewMemoryStore()
		runner := &blockingRunner{started: make(chan struct{}), release: make(chan struct{})}
		pool := worker.NewPool(2, q, runner, store)
		pool.Start(ctx)

		submit(ctx, q, store, "slow", fixtureElection())
		<-runner.started

		convey.Convey("Then it reports one active worker until the run ends", func() {
			convey.So(pool.Active(), convey.ShouldEqual, 1)
			close(runner.release)
			rec := waitFinished(ctx, store, "slow")
			convey.So(rec.Status, convey.ShouldEqual, model.JobSucceeded)
		})
	})
}
