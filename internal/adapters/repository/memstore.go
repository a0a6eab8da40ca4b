package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/biprop/internal/domain/model"
	"github.com/okian/biprop/pkg/metrics"
)

const defaultCapacity = 10_000

// MemoryStore keeps jobs in a map. Insertion order is tracked so the oldest
// finished job is the first to go when the store is full.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[string]*Record
	order    []string
	capacity int
}

// NewMemoryStore creates an in-memory job store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		capacity: defaultCapacity,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.records = make(map[string]*Record, s.capacity)
	metrics.UpdateJobsStored(0)
	return s
}

// Create records a queued job.
func (s *MemoryStore) Create(_ context.Context, job model.Job) error { //nolint:gocritic // hugeParam: matches the Store interface
	defer observe("create", time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[job.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, job.ID)
	}
	if len(s.records) >= s.capacity && !s.evictFinished() {
		return ErrStoreFull
	}

	rec := newRecord(job)
	s.records[job.ID] = &rec
	s.order = append(s.order, job.ID)
	metrics.UpdateJobsStored(len(s.records))
	return nil
}

// evictFinished drops the oldest finished job. Caller holds s.mu.
func (s *MemoryStore) evictFinished() bool {
	for i, id := range s.order {
		if s.records[id].Status.Finished() {
			delete(s.records, id)
			s.order = append(s.order[:i], s.order[i+1:]...)
			return true
		}
	}
	return false
}

// MarkRunning moves a queued job to running.
func (s *MemoryStore) MarkRunning(_ context.Context, id string, at time.Time) error {
	defer observe("mark_running", time.Now())

	return s.update(id, func(r *Record) error {
		if r.Status != model.JobQueued {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, model.JobRunning)
		}
		r.Status = model.JobRunning
		r.StartedAt = at
		return nil
	})
}

// Complete stores the outcome of a running job.
func (s *MemoryStore) Complete(_ context.Context, id string, outcome model.Outcome, at time.Time) error { //nolint:gocritic // hugeParam: matches the Store interface
	defer observe("complete", time.Now())

	return s.update(id, func(r *Record) error {
		if r.Status != model.JobRunning {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, model.JobSucceeded)
		}
		r.Status = model.JobSucceeded
		r.Outcome = &outcome
		r.FinishedAt = at
		return nil
	})
}

// Fail marks an unfinished job failed.
func (s *MemoryStore) Fail(_ context.Context, id, kind, message string, at time.Time) error {
	defer observe("fail", time.Now())

	return s.update(id, func(r *Record) error {
		if r.Status.Finished() {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, model.JobFailed)
		}
		r.Status = model.JobFailed
		r.ErrorKind = kind
		r.Error = message
		r.FinishedAt = at
		return nil
	})
}

func (s *MemoryStore) update(id string, fn func(*Record) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return fn(r)
}

// Get returns a copy of the job record.
func (s *MemoryStore) Get(_ context.Context, id string) (Record, error) {
	defer observe("get", time.Now())

	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *r, nil
}

// Recover requeues running jobs and returns the queued ones in insertion order.
func (s *MemoryStore) Recover(_ context.Context) ([]model.Job, error) {
	defer observe("recover", time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	var jobs []model.Job
	for _, id := range s.order {
		r := s.records[id]
		if r.Status == model.JobRunning {
			r.Status = model.JobQueued
			r.StartedAt = time.Time{}
		}
		if r.Status == model.JobQueued {
			jobs = append(jobs, model.Job{
				ID:          r.ID,
				Fingerprint: r.Fingerprint,
				Election:    r.Election,
				SubmittedAt: r.SubmittedAt,
			})
		}
	}
	return jobs, nil
}

// Count returns the number of stored jobs.
func (s *MemoryStore) Count(_ context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error { return nil }

func observe(op string, start time.Time) {
	metrics.RecordStoreLatency(op, time.Since(start))
}

var _ Store = (*MemoryStore)(nil)
