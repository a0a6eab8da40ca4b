// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - New(ctx) builds a Config with defaults; Load layers file and env on top.
// - Validate is the single place that rejects unusable values.
// - Errors wrap ErrInvalidConfig or ErrLoadConfig.
package config

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/okian/biprop/internal/domain/apportion"
)

// Store drivers.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// Tracing exporters.
const (
	TracingNone   = "none"
	TracingStdout = "stdout"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// QueueSize bounds the in-memory job queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of apportionment workers.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize bounds the fingerprint index used for idempotent submission.
	DedupeSize int `koanf:"dedupe_size"`

	// StoreDriver selects the job store: memory or sqlite.
	StoreDriver string `koanf:"store_driver"`

	// StorePath is the SQLite database file.
	StorePath string `koanf:"store_path"`

	// StoreCapacity bounds the number of jobs the memory store keeps.
	StoreCapacity int `koanf:"store_capacity"`

	// Tracing selects the span exporter: none or stdout.
	Tracing string `koanf:"tracing"`

	// BaziCharset is the encoding of exported and imported BAZI blocks.
	BaziCharset string `koanf:"bazi_charset"`

	// Engine search bounds.
	MaxIterations    int     `koanf:"max_iterations"`
	MaxWidenings     int     `koanf:"max_widenings"`
	MaxBisections    int     `koanf:"max_bisections"`
	PartyStep        float64 `koanf:"party_step"`
	PartyRefinements int     `koanf:"party_refinements"`
}

// New creates a Config with defaults.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:         "info",
		LogFormat:        "text",
		Addr:             ":9080",
		QueueSize:        1_000,
		WorkerCount:      runtime.NumCPU(),
		DedupeSize:       10_000,
		StoreDriver:      StoreMemory,
		StorePath:        "biprop.db",
		StoreCapacity:    10_000,
		Tracing:          TracingNone,
		BaziCharset:      "utf-8",
		MaxIterations:    apportion.DefaultMaxIterations,
		MaxWidenings:     apportion.DefaultMaxWidenings,
		MaxBisections:    apportion.DefaultMaxBisections,
		PartyStep:        apportion.DefaultPartyStep,
		PartyRefinements: apportion.DefaultPartyRefinements,
	}
}

// Validate rejects values the service cannot run with.
func (c *Config) Validate() error {
	var problems []string
	check := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}

	check(c.Addr != "", "addr must not be empty")
	check(c.LogFormat == "text" || c.LogFormat == "json", "log_format must be text or json")
	check(c.QueueSize > 0, "queue_size must be positive")
	check(c.WorkerCount > 0, "worker_count must be positive")
	check(c.DedupeSize >= 0, "dedupe_size must not be negative")
	check(c.StoreCapacity > 0, "store_capacity must be positive")
	check(c.StoreDriver == StoreMemory || c.StoreDriver == StoreSQLite, "store_driver must be memory or sqlite")
	check(c.StoreDriver != StoreSQLite || c.StorePath != "", "store_path is required for sqlite")
	check(c.Tracing == TracingNone || c.Tracing == TracingStdout, "tracing must be none or stdout")
	check(c.MaxIterations > 0, "max_iterations must be positive")
	check(c.MaxWidenings > 0, "max_widenings must be positive")
	check(c.MaxBisections > 0, "max_bisections must be positive")
	check(c.PartyStep > 0 && c.PartyStep < 1, "party_step must be in (0, 1)")
	check(c.PartyRefinements >= 0, "party_refinements must not be negative")

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// EngineOptions maps the search bounds to engine options.
func (c *Config) EngineOptions() []apportion.Option {
	return []apportion.Option{
		apportion.WithMaxIterations(c.MaxIterations),
		apportion.WithMaxWidenings(c.MaxWidenings),
		apportion.WithMaxBisections(c.MaxBisections),
		apportion.WithPartyStep(c.PartyStep),
		apportion.WithPartyRefinements(c.PartyRefinements),
	}
}
