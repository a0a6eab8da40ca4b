// Package repository defines the job store interface and its in-memory
// implementation.
package repository

import (
	"context"
	"time"

	"github.com/okian/biprop/internal/domain/model"
)

// Record is the stored view of a job.
type Record struct {
	ID          string          `json:"id"`
	Fingerprint string          `json:"fingerprint"`
	Status      model.JobStatus `json:"status"`
	Election    model.Election  `json:"-"`
	Outcome     *model.Outcome  `json:"outcome,omitempty"`
	ErrorKind   string          `json:"error_kind,omitempty"`
	Error       string          `json:"error,omitempty"`
	SubmittedAt time.Time       `json:"submitted_at"`
	StartedAt   time.Time       `json:"started_at,omitzero"`
	FinishedAt  time.Time       `json:"finished_at,omitzero"`
}

// Store tracks jobs from submission to their outcome.
type Store interface {
	// Create records a queued job. Returns ErrDuplicateID for a known ID and
	// ErrStoreFull when no finished job can be evicted to make room.
	Create(ctx context.Context, job model.Job) error

	// MarkRunning moves a queued job to running.
	MarkRunning(ctx context.Context, id string, at time.Time) error

	// Complete stores the outcome of a running job.
	Complete(ctx context.Context, id string, outcome model.Outcome, at time.Time) error

	// Fail marks an unfinished job failed with an error kind and message.
	Fail(ctx context.Context, id, kind, message string, at time.Time) error

	// Get returns the job or ErrNotFound.
	Get(ctx context.Context, id string) (Record, error)

	// Recover moves running jobs back to queued and returns every queued job
	// in submission order. It is called once on startup, before any worker
	// runs, so jobs interrupted by a restart are computed again.
	Recover(ctx context.Context) ([]model.Job, error)

	// Count returns the number of stored jobs.
	Count(ctx context.Context) int

	Close() error
}

func newRecord(job model.Job) Record { //nolint:gocritic // hugeParam: Job is copied into the record anyway
	return Record{
		ID:          job.ID,
		Fingerprint: job.Fingerprint,
		Status:      model.JobQueued,
		Election:    job.Election,
		SubmittedAt: job.SubmittedAt,
	}
}
