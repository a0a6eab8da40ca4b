package cli

import "errors"

var (
	// ErrInvalidConfig is returned for unusable command line options.
	ErrInvalidConfig = errors.New("invalid options")
	// ErrLoadInput is returned when the election or reference cannot be read.
	ErrLoadInput = errors.New("failed to load input")
	// ErrRemote is returned when the service answers with an error.
	ErrRemote = errors.New("service request failed")
)
