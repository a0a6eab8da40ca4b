package apportion

import (
	"errors"
	"fmt"

	"github.com/okian/biprop/internal/domain/model"
)

// Sentinel kinds. Every engine failure matches exactly one of them with
// errors.Is.
var (
	ErrConfiguration   = errors.New("configuration error")
	ErrSearchExhausted = errors.New("divisor search exhausted")
	ErrNonConvergence  = errors.New("apportionment did not converge")
)

// Error kind labels used by transports and metrics.
const (
	KindConfiguration   = "configuration"
	KindSearchExhausted = "search_exhausted"
	KindNonConvergence  = "non_convergence"
	KindInternal        = "internal"
)

// ConfigurationError reports input that no divisor search can reconcile.
// It is fatal and never retried.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrConfiguration, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrConfiguration, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

func (e *ConfigurationError) Unwrap() error { return e.Err }

func configErr(reason string, err error) error {
	return &ConfigurationError{Reason: reason, Err: err}
}

// Axis names the margin a divisor search works on.
type Axis string

// Search axes.
const (
	AxisDistrict Axis = "district"
	AxisParty    Axis = "party"
)

// SearchExhaustedError reports that every widened bracket or scan range was
// tried without hitting the exact seat target. Tie is set when the margin
// jumps over the target at a single divisor, which no widening can fix.
type SearchExhaustedError struct {
	Axis     Axis
	Key      string
	Target   int
	Got      int
	Attempts int
	Tie      bool
}

func (e *SearchExhaustedError) Error() string {
	msg := fmt.Sprintf("%s: %s %q wants %d seats, has %d after %d attempts",
		ErrSearchExhausted, e.Axis, e.Key, e.Target, e.Got, e.Attempts)
	if e.Tie {
		msg += " (seat count jumps over the target)"
	}
	return msg
}

func (e *SearchExhaustedError) Is(target error) bool { return target == ErrSearchExhausted }

// NonConvergenceError reports that the alternating loop hit its iteration cap
// or revisited a divisor state. It carries the last projection for
// diagnostics; the matrix does not satisfy the targets.
type NonConvergenceError struct {
	Iterations int
	Cycle      bool
	Seats      model.SeatMatrix
	State      model.DivisorState
}

func (e *NonConvergenceError) Error() string {
	if e.Cycle {
		return fmt.Sprintf("%s: divisor state repeated after %d iterations", ErrNonConvergence, e.Iterations)
	}
	return fmt.Sprintf("%s: iteration cap of %d reached", ErrNonConvergence, e.Iterations)
}

func (e *NonConvergenceError) Is(target error) bool { return target == ErrNonConvergence }

// KindOf maps an error to its kind label.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrSearchExhausted):
		return KindSearchExhausted
	case errors.Is(err, ErrNonConvergence):
		return KindNonConvergence
	default:
		return KindInternal
	}
}
