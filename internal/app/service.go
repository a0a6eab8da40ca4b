// Package service wires the apportionment engine, the job queue, the worker
// pool and the job store into the operations the HTTP API exposes.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/okian/biprop/internal/adapters/bazi"
	"github.com/okian/biprop/internal/adapters/mq/queue"
	"github.com/okian/biprop/internal/adapters/mq/worker"
	"github.com/okian/biprop/internal/adapters/repository"
	"github.com/okian/biprop/internal/domain/apportion"
	"github.com/okian/biprop/internal/domain/dedupe"
	"github.com/okian/biprop/internal/domain/model"
	"github.com/okian/biprop/pkg/logger"
	"github.com/okian/biprop/pkg/metrics"
	"github.com/okian/biprop/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
)

// Service implements the API dependencies for the apportionment service.
type Service struct {
	mu sync.RWMutex

	engine *apportion.Engine
	store  repository.Store
	index  dedupe.Index
	queue  queue.Queue
	pool   *worker.Pool
	calls  singleflight.Group

	workerCount   int
	queueSize     int
	dedupeSize    int
	storeCapacity int
	engineOpts    []apportion.Option
	charset       string
	now           func() time.Time

	started bool

	logger logger.Logger
}

// New constructs a Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:   runtime.NumCPU(),
		queueSize:     1_000,
		dedupeSize:    10_000,
		storeCapacity: 10_000,
		charset:       bazi.CharsetUTF8,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	s.engine = apportion.NewEngine(append([]apportion.Option{
		apportion.WithLogger(s.logger.Named("engine")),
	}, s.engineOpts...)...)
	return s
}

// Start creates the queue and the index and starts the worker pool.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if _, err := bazi.ParseCharset(s.charset); err != nil {
		return fmt.Errorf("bazi charset: %w", err)
	}

	s.logger.Info(ctx, "starting apportionment service...")

	if s.store == nil {
		s.store = repository.NewMemoryStore(repository.WithCapacity(s.storeCapacity))
	}
	s.index = dedupe.NewInMemoryIndex(dedupe.WithMaxSize(s.dedupeSize))
	s.queue = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
	if err := s.recoverJobs(ctx); err != nil {
		return err
	}
	s.pool = worker.NewPool(s.workerCount, s.queue, s.engine, s.store)
	s.pool.Start(ctx)

	s.started = true
	s.logger.Info(ctx, "apportionment service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queue_size", s.queueSize),
		logger.Int("dedupe_size", s.dedupeSize),
		logger.String("bazi_charset", s.charset),
	)
	return nil
}

// recoverJobs queues the jobs a previous process left unfinished. Jobs that no
// longer fit in the queue are failed as rejected.
func (s *Service) recoverJobs(ctx context.Context) error {
	jobs, err := s.store.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil
	}

	requeued := 0
	for _, job := range jobs {
		_, claimed := s.index.Claim(ctx, job.Fingerprint, job.ID)
		if err := s.queue.Enqueue(ctx, job); err != nil {
			if claimed {
				s.index.Release(ctx, job.Fingerprint)
			}
			metrics.RecordJobRejected()
			if ferr := s.store.Fail(ctx, job.ID, "rejected", err.Error(), s.now().UTC()); ferr != nil {
				return fmt.Errorf("reject recovered job %s: %w", job.ID, ferr)
			}
			continue
		}
		requeued++
	}
	s.logger.Info(ctx, "recovered unfinished jobs",
		logger.Int("requeued", requeued),
		logger.Int("rejected", len(jobs)-requeued),
	)
	return nil
}

// Stop closes the queue, waits for the workers and closes the store.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping apportionment service...")

	var errs []error
	if err := s.pool.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("worker pool: %w", err))
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}

	s.started = false
	s.logger.Info(ctx, "apportionment service stopped")
	return errors.Join(errs...)
}

func (s *Service) running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// Submit queues an election. Resubmitting an election with the same
// fingerprint returns the job already computing it.
func (s *Service) Submit(ctx context.Context, election model.Election) (model.Submission, error) { //nolint:gocritic // hugeParam: the election is stored by value
	if !s.running() {
		return model.Submission{}, ErrNotStarted
	}
	if _, err := model.NewVoteMatrixFromElection(election); err != nil {
		metrics.RecordJobRejected()
		return model.Submission{}, fmt.Errorf("%w: %w", ErrInvalidElection, err)
	}

	job := model.Job{
		ID:          uuid.NewString(),
		Fingerprint: election.Fingerprint(),
		Election:    election,
		SubmittedAt: s.now().UTC(),
	}

	owner, claimed := s.index.Claim(ctx, job.Fingerprint, job.ID)
	if !claimed {
		rec, err := s.store.Get(ctx, owner)
		if err == nil {
			metrics.RecordJobDuplicate()
			s.logger.Debug(ctx, "duplicate submission",
				logger.String("job_id", owner),
				logger.String("fingerprint", job.Fingerprint),
			)
			return model.Submission{ID: owner, Status: rec.Status, Duplicate: true}, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return model.Submission{}, fmt.Errorf("look up job %s: %w", owner, err)
		}
		// The owning job left the store; take the fingerprint over.
		s.index.Release(ctx, job.Fingerprint)
		if owner, claimed = s.index.Claim(ctx, job.Fingerprint, job.ID); !claimed {
			metrics.RecordJobDuplicate()
			return model.Submission{ID: owner, Status: model.JobQueued, Duplicate: true}, nil
		}
	}

	if err := s.store.Create(ctx, job); err != nil {
		s.index.Release(ctx, job.Fingerprint)
		metrics.RecordJobRejected()
		if errors.Is(err, repository.ErrStoreFull) {
			return model.Submission{}, fmt.Errorf("%w: %w", ErrBusy, err)
		}
		return model.Submission{}, fmt.Errorf("store job: %w", err)
	}

	if err := s.queue.Enqueue(ctx, job); err != nil {
		s.index.Release(ctx, job.Fingerprint)
		metrics.RecordJobRejected()
		if ferr := s.store.Fail(ctx, job.ID, "rejected", err.Error(), s.now().UTC()); ferr != nil {
			s.logger.Error(ctx, "failed to mark rejected job", logger.String("job_id", job.ID), logger.Error(ferr))
		}
		if errors.Is(err, queue.ErrQueueFull) || errors.Is(err, queue.ErrQueueClosed) {
			return model.Submission{}, fmt.Errorf("%w: %w", ErrBusy, err)
		}
		return model.Submission{}, fmt.Errorf("enqueue job: %w", err)
	}

	metrics.RecordJobSubmitted()
	s.logger.Debug(ctx, "job queued",
		logger.String("job_id", job.ID),
		logger.String("fingerprint", job.Fingerprint),
	)
	return model.Submission{ID: job.ID, Status: model.JobQueued}, nil
}

// Job returns the stored state of a job.
func (s *Service) Job(ctx context.Context, id string) (repository.Record, error) {
	if !s.running() {
		return repository.Record{}, ErrNotStarted
	}
	return s.store.Get(ctx, id)
}

// Upper computes the national party seats of an election without the lower
// apportionment. An unbalanced result is returned, not rejected.
func (s *Service) Upper(ctx context.Context, election model.Election) (apportion.UpperResult, error) { //nolint:gocritic // hugeParam: read-only input
	vm, err := model.NewVoteMatrixFromElection(election)
	if err != nil {
		return apportion.UpperResult{}, fmt.Errorf("%w: %w", ErrInvalidElection, err)
	}
	up, err := s.engine.Upper(ctx, vm)
	if err != nil {
		return apportion.UpperResult{}, err
	}
	if !up.Balanced() {
		metrics.RecordUpperUnbalanced()
	}
	return up, nil
}

// Compute apportions an election synchronously. Concurrent calls for the same
// fingerprint share one engine run and its result; callers must not modify
// the returned value.
func (s *Service) Compute(ctx context.Context, election model.Election) (*apportion.Result, error) { //nolint:gocritic // hugeParam: read-only input
	fp := election.Fingerprint()
	v, err, shared := s.calls.Do(fp, func() (any, error) {
		ctx, span := tracing.Start(ctx, "apportion.compute", attribute.String("fingerprint", fp))
		defer span.End()

		start := time.Now()
		res, err := s.engine.Run(ctx, election)
		worker.RecordRun(res, err, time.Since(start))
		if err != nil {
			tracing.Fail(span, err)
			return nil, err
		}
		span.SetAttributes(attribute.Int("iterations", res.Iterations))
		return res, nil
	})
	if shared {
		metrics.RecordSyncCoalesced()
	}
	if err != nil {
		return nil, err
	}
	return v.(*apportion.Result), nil
}

// ExportBAZI writes the election of a job as a BAZI block.
func (s *Service) ExportBAZI(ctx context.Context, id string) ([]byte, error) {
	rec, err := s.Job(ctx, id)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := bazi.Encode(&buf, bazi.FromElection(rec.Election), bazi.WithCharset(s.charset)); err != nil {
		return nil, fmt.Errorf("encode job %s: %w", id, err)
	}
	return buf.Bytes(), nil
}

// DecodeBAZI reads an election from a BAZI block in the configured charset.
func (s *Service) DecodeBAZI(r io.Reader) (model.Election, error) {
	doc, err := bazi.Decode(r, bazi.WithCharset(s.charset))
	if err != nil {
		return model.Election{}, fmt.Errorf("%w: %w", ErrInvalidElection, err)
	}
	e, err := doc.Election()
	if err != nil {
		return model.Election{}, fmt.Errorf("%w: %w", ErrInvalidElection, err)
	}
	return e, nil
}

// Charset returns the BAZI charset in use.
func (s *Service) Charset() string { return s.charset }

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":     s.started,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"dedupeSize":  s.dedupeSize,
		"baziCharset": s.charset,
	}
	if s.started {
		queueLen := s.queue.Len(ctx)
		stored := s.store.Count(ctx)

		stats["queueLength"] = queueLen
		stats["activeWorkers"] = s.pool.Active()
		stats["jobsStored"] = stored
		stats["fingerprints"] = s.index.Size()

		metrics.UpdateQueueSize(queueLen)
		metrics.UpdateJobsStored(stored)
		metrics.UpdateWorkerCount(s.workerCount)
	}
	return stats
}
