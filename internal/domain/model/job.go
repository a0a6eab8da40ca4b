package model

import "time"

// JobStatus tracks an asynchronous apportionment run.
type JobStatus string

// Job lifecycle states.
const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Finished reports whether the job reached a terminal state.
func (s JobStatus) Finished() bool {
	return s == JobSucceeded || s == JobFailed
}

// Job is one submitted election flowing through the queue.
type Job struct {
	ID          string    // uuid assigned on submission
	Fingerprint string    // Election.Fingerprint, used for idempotency
	Election    Election  // input as submitted
	SubmittedAt time.Time // submission timestamp
}

// Outcome is the stored result of a finished run.
type Outcome struct {
	Seats      SeatMatrix   `json:"seats"`
	State      DivisorState `json:"divisors"`
	Targets    Targets      `json:"targets"`
	Iterations int          `json:"iterations"`
}

// Submission acknowledges a submitted election. Duplicate is set when the
// election was already known and ID names the existing job.
type Submission struct {
	ID        string    `json:"id"`
	Status    JobStatus `json:"status"`
	Duplicate bool      `json:"duplicate"`
}
