// Package worker runs queued apportionment jobs on a pool of goroutines.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/biprop/internal/domain/apportion"
	"github.com/okian/biprop/internal/domain/model"
	"github.com/okian/biprop/pkg/logger"
	"github.com/okian/biprop/pkg/metrics"
	"github.com/okian/biprop/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
)

const poolShutdownTimeout = 30 * time.Second

// Runner computes an apportionment. *apportion.Engine satisfies it.
type Runner interface {
	Run(ctx context.Context, election model.Election) (*apportion.Result, error)
}

// Recorder receives job state transitions.
type Recorder interface {
	MarkRunning(ctx context.Context, id string, at time.Time) error
	Complete(ctx context.Context, id string, outcome model.Outcome, at time.Time) error
	Fail(ctx context.Context, id, kind, message string, at time.Time) error
}

// Queue defines how workers receive jobs.
type Queue interface {
	Dequeue(ctx context.Context) <-chan model.Job
}

// Worker processes jobs until stopped.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown stops the worker after the job in hand.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker runs jobs from a Queue and records their outcome.
type InMemoryWorker struct {
	queue    Queue
	runner   Runner
	recorder Recorder
	name     string
	active   *atomic.Int64
	now      func() time.Time

	shutdown chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a worker with configuration options.
func NewInMemoryWorker(queue Queue, runner Runner, recorder Recorder, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:    queue,
		runner:   runner,
		recorder: recorder,
		name:     "worker",
		active:   new(atomic.Int64),
		now:      time.Now,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	jobs := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			if err := w.process(ctx, job); err != nil {
				w.logger.Error(ctx, "job failed", logger.String("job_id", job.ID), logger.Error(err))
			}
		}
	}
}

// Shutdown stops the worker after the job in hand.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.stop()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *InMemoryWorker) stop() {
	w.stopOnce.Do(func() { close(w.shutdown) })
}

// process runs one job. The job is marked running first so a job that the
// store no longer accepts is never computed. Once the run has ended its
// result is recorded even if ctx was canceled meanwhile.
func (w *InMemoryWorker) process(ctx context.Context, job model.Job) error { //nolint:gocritic // hugeParam: jobs travel by value over the channel
	start := time.Now()
	w.active.Add(1)
	metrics.UpdateWorkerActiveCount(int(w.active.Load()))
	defer func() {
		metrics.UpdateWorkerActiveCount(int(w.active.Add(-1)))
		metrics.RecordWorkerProcessingLatency(time.Since(start))
	}()

	ctx, span := tracing.Start(ctx, "apportion.job",
		attribute.String("job_id", job.ID),
		attribute.String("fingerprint", job.Fingerprint),
	)
	defer span.End()

	if err := w.recorder.MarkRunning(ctx, job.ID, w.now()); err != nil {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "store_error")
		tracing.Fail(span, err)
		return fmt.Errorf("mark job %s running: %w", job.ID, err)
	}

	runStart := time.Now()
	res, err := w.runner.Run(ctx, job.Election)
	RecordRun(res, err, time.Since(runStart))
	storeCtx := context.WithoutCancel(ctx)

	if err != nil {
		tracing.Fail(span, err)
		kind := apportion.KindOf(err)
		span.SetAttributes(attribute.String("error_kind", kind))
		if ferr := w.recorder.Fail(storeCtx, job.ID, kind, err.Error(), w.now()); ferr != nil {
			metrics.RecordWorkerError()
			metrics.RecordErrorByComponent("worker", "store_error")
			return fmt.Errorf("record failure of job %s: %w", job.ID, errors.Join(err, ferr))
		}
		w.logger.Warn(ctx, "apportionment failed",
			logger.String("job_id", job.ID),
			logger.String("kind", kind),
			logger.Error(err),
		)
		return nil
	}

	span.SetAttributes(attribute.Int("iterations", res.Iterations))
	if err := w.recorder.Complete(storeCtx, job.ID, res.Outcome(), w.now()); err != nil {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "store_error")
		tracing.Fail(span, err)
		return fmt.Errorf("complete job %s: %w", job.ID, err)
	}
	w.logger.Debug(ctx, "apportionment done",
		logger.String("job_id", job.ID),
		logger.Int("iterations", res.Iterations),
		logger.Int("seats", res.Seats.Total()),
		logger.Any("party_seats", res.Seats.PartyTotals()),
	)
	return nil
}

// RecordRun reports one engine run to the metrics registry.
func RecordRun(res *apportion.Result, err error, d time.Duration) {
	sample := metrics.RunSample{Outcome: metrics.OutcomeSuccess, Duration: d}
	if err != nil {
		sample.Outcome = apportion.KindOf(err)
		if errors.Is(err, apportion.ErrUnbalancedUpper) {
			metrics.RecordUpperUnbalanced()
		}
		metrics.RecordErrorByComponent("engine", sample.Outcome)
		metrics.RecordRun(sample)
		return
	}
	sample.Iterations = res.Iterations
	sample.DistrictSearches = res.Stats.DistrictSearches
	sample.PartySearches = res.Stats.PartySearches
	sample.Widenings = res.Stats.Widenings
	sample.Refinements = res.Stats.Refinements
	sample.Seats = res.Seats.Total()
	metrics.RecordRun(sample)
}

// Pool manages multiple workers sharing one queue.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	active  *atomic.Int64

	logger logger.Logger
}

// NewPool creates a worker pool. A non-positive count uses one worker per CPU.
func NewPool(workerCount int, queue Queue, runner Runner, recorder Recorder, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}

	pool := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   queue,
		active:  new(atomic.Int64),
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := range workerCount {
		wopts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		w := NewInMemoryWorker(queue, runner, recorder, wopts...)
		w.active = pool.active
		pool.workers[i] = w
	}

	metrics.UpdateWorkerCount(workerCount)
	metrics.UpdateWorkerActiveCount(0)
	return pool
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Active returns the number of workers running a job.
func (p *Pool) Active() int { return int(p.active.Load()) }

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Shutdown closes the queue, then stops the workers.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}
	for _, w := range p.workers {
		w.stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
		}
	}
	return nil
}
