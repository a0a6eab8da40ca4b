// Package sqlite persists apportionment jobs in a SQLite database so results
// survive a restart.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/okian/biprop/internal/adapters/repository"
	"github.com/okian/biprop/internal/domain/model"
	"github.com/okian/biprop/pkg/metrics"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id            TEXT PRIMARY KEY,
	fingerprint   TEXT NOT NULL,
	status        TEXT NOT NULL,
	election      TEXT NOT NULL,
	outcome       TEXT,
	error_kind    TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	submitted_at  INTEGER NOT NULL,
	started_at    INTEGER NOT NULL DEFAULT 0,
	finished_at   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS jobs_fingerprint ON jobs (fingerprint);
`

// Store provides SQLite-backed job persistence.
type Store struct {
	sqlDB *sql.DB
}

// Open opens a job store and creates its schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one connection keeps :memory: databases and write ordering consistent
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Create records a queued job.
func (s *Store) Create(ctx context.Context, job model.Job) error { //nolint:gocritic // hugeParam: matches the Store interface
	defer observe("create", time.Now())

	election, err := json.Marshal(job.Election)
	if err != nil {
		return fmt.Errorf("encode election: %w", err)
	}
	res, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO jobs (id, fingerprint, status, election, submitted_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (id) DO NOTHING
`,
		job.ID,
		job.Fingerprint,
		string(model.JobQueued),
		string(election),
		job.SubmittedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", repository.ErrDuplicateID, job.ID)
	}
	metrics.UpdateJobsStored(s.Count(ctx))
	return nil
}

// MarkRunning moves a queued job to running.
func (s *Store) MarkRunning(ctx context.Context, id string, at time.Time) error {
	defer observe("mark_running", time.Now())

	return s.transition(ctx, id, model.JobRunning, `
UPDATE jobs SET status = ?, started_at = ? WHERE id = ? AND status = 'queued'`,
		string(model.JobRunning), at.UTC().UnixMilli(), id)
}

// Complete stores the outcome of a running job.
func (s *Store) Complete(ctx context.Context, id string, outcome model.Outcome, at time.Time) error { //nolint:gocritic // hugeParam: matches the Store interface
	defer observe("complete", time.Now())

	payload, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}
	return s.transition(ctx, id, model.JobSucceeded, `
UPDATE jobs SET status = ?, outcome = ?, finished_at = ? WHERE id = ? AND status = 'running'`,
		string(model.JobSucceeded), string(payload), at.UTC().UnixMilli(), id)
}

// Fail marks an unfinished job failed.
func (s *Store) Fail(ctx context.Context, id, kind, message string, at time.Time) error {
	defer observe("fail", time.Now())

	return s.transition(ctx, id, model.JobFailed, `
UPDATE jobs SET status = ?, error_kind = ?, error_message = ?, finished_at = ?
WHERE id = ? AND status IN ('queued', 'running')`,
		string(model.JobFailed), kind, message, at.UTC().UnixMilli(), id)
}

func (s *Store) transition(ctx context.Context, id string, to model.JobStatus, query string, args ...any) error {
	res, err := s.sqlDB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	if n == 1 {
		return nil
	}

	var from string
	err = s.sqlDB.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, id).Scan(&from)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", repository.ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("read job %s: %w", id, err)
	}
	return fmt.Errorf("%w: %s -> %s", repository.ErrInvalidTransition, from, to)
}

// Get returns the job record.
func (s *Store) Get(ctx context.Context, id string) (repository.Record, error) {
	defer observe("get", time.Now())

	var (
		rec                          repository.Record
		status, election             string
		outcome                      sql.NullString
		submitted, started, finished int64
	)
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT id, fingerprint, status, election, outcome, error_kind, error_message,
       submitted_at, started_at, finished_at
FROM jobs WHERE id = ?`, id).Scan(
		&rec.ID, &rec.Fingerprint, &status, &election, &outcome, &rec.ErrorKind, &rec.Error,
		&submitted, &started, &finished,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return repository.Record{}, fmt.Errorf("%w: %s", repository.ErrNotFound, id)
	}
	if err != nil {
		return repository.Record{}, fmt.Errorf("read job %s: %w", id, err)
	}

	rec.Status = model.JobStatus(status)
	if err := json.Unmarshal([]byte(election), &rec.Election); err != nil {
		return repository.Record{}, fmt.Errorf("decode election of %s: %w", id, err)
	}
	if outcome.Valid {
		var o model.Outcome
		if err := json.Unmarshal([]byte(outcome.String), &o); err != nil {
			return repository.Record{}, fmt.Errorf("decode outcome of %s: %w", id, err)
		}
		rec.Outcome = &o
	}
	rec.SubmittedAt = fromMillis(submitted)
	rec.StartedAt = fromMillis(started)
	rec.FinishedAt = fromMillis(finished)
	return rec, nil
}

// Recover requeues running jobs and returns the queued ones, oldest first.
func (s *Store) Recover(ctx context.Context) ([]model.Job, error) {
	defer observe("recover", time.Now())

	if _, err := s.sqlDB.ExecContext(ctx,
		`UPDATE jobs SET status = 'queued', started_at = 0 WHERE status = 'running'`); err != nil {
		return nil, fmt.Errorf("requeue running jobs: %w", err)
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, fingerprint, election, submitted_at
FROM jobs WHERE status = 'queued'
ORDER BY submitted_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("list queued jobs: %w", err)
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		var (
			job       model.Job
			election  string
			submitted int64
		)
		if err := rows.Scan(&job.ID, &job.Fingerprint, &election, &submitted); err != nil {
			return nil, fmt.Errorf("scan queued job: %w", err)
		}
		if err := json.Unmarshal([]byte(election), &job.Election); err != nil {
			return nil, fmt.Errorf("decode election of %s: %w", job.ID, err)
		}
		job.SubmittedAt = fromMillis(submitted)
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list queued jobs: %w", err)
	}
	return jobs, nil
}

// Count returns the number of stored jobs, or zero if the database cannot
// be read.
func (s *Store) Count(ctx context.Context) int {
	var n int
	if err := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs`).Scan(&n); err != nil {
		metrics.RecordErrorByComponent("sqlite_store", "count")
		return 0
	}
	return n
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func observe(op string, start time.Time) {
	metrics.RecordStoreLatency(op, time.Since(start))
}

var _ repository.Store = (*Store)(nil)
