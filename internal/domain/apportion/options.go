// Package apportion implements the biproportional divisor method: the upper
// apportionment of national party seats and the alternating district/party
// divisor search that meets both seat margins at once.
package apportion

import "github.com/okian/biprop/pkg/logger"

// Default search bounds.
const (
	DefaultMaxIterations    = 100_000
	DefaultMaxWidenings     = 32
	DefaultMaxBisections    = 200
	DefaultPartyStep        = 5e-4
	DefaultPartyRefinements = 8
)

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithMaxIterations caps the rounds of the alternating loop.
func WithMaxIterations(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxIterations = n
		}
	}
}

// WithMaxWidenings caps how often a divisor search doubles its range.
func WithMaxWidenings(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxWidenings = n
		}
	}
}

// WithMaxBisections caps the bisection steps inside one district bracket.
func WithMaxBisections(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxBisections = n
		}
	}
}

// WithPartyStep sets the party scan step relative to the segment start.
func WithPartyStep(step float64) Option {
	return func(e *Engine) {
		if step > 0 && step < 1 {
			e.partyStep = step
		}
	}
}

// WithPartyRefinements caps how often a party scan refines a crossing with a
// finer step.
func WithPartyRefinements(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.partyRefinements = n
		}
	}
}

// WithLogger sets a custom logger for the engine.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}
