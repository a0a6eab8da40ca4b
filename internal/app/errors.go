package service

import "errors"

var (
	// ErrNotStarted is returned when the service is used before Start.
	ErrNotStarted = errors.New("service not started")

	// ErrBusy is returned when the queue or the store has no room for a job.
	ErrBusy = errors.New("service busy")

	// ErrInvalidElection is returned when a submitted election cannot be
	// turned into a vote matrix.
	ErrInvalidElection = errors.New("invalid election")
)
