// Package tracing sets up the OpenTelemetry tracer provider used around
// engine runs.
package tracing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Exporter modes.
const (
	ModeNone   = "none"
	ModeStdout = "stdout"
)

const instrumentation = "github.com/okian/biprop"

// ErrUnknownMode is returned for an exporter mode other than ModeNone or ModeStdout.
var ErrUnknownMode = errors.New("unknown tracing mode")

// Option configures Init.
type Option func(*settings)

type settings struct {
	serviceName string
	writer      io.Writer
}

// WithServiceName sets the service.name resource attribute.
func WithServiceName(name string) Option {
	return func(s *settings) {
		if name != "" {
			s.serviceName = name
		}
	}
}

// WithWriter sets where the stdout exporter writes spans.
func WithWriter(w io.Writer) Option {
	return func(s *settings) {
		if w != nil {
			s.writer = w
		}
	}
}

var (
	mu       sync.Mutex
	provider *sdktrace.TracerProvider
)

// Init installs the global tracer provider for mode and returns a function
// that flushes and stops it. ModeNone installs a no-op provider.
func Init(ctx context.Context, mode string, opts ...Option) (func(context.Context) error, error) {
	s := settings{serviceName: "biprop", writer: os.Stdout}
	for _, opt := range opts {
		opt(&s)
	}

	mu.Lock()
	defer mu.Unlock()

	if provider != nil {
		_ = provider.Shutdown(ctx)
		provider = nil
	}

	switch mode {
	case "", ModeNone:
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	case ModeStdout:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(s.writer))
	if err != nil {
		return nil, fmt.Errorf("create stdout exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", s.serviceName))),
	)
	otel.SetTracerProvider(tp)
	provider = tp
	return tp.Shutdown, nil
}

// Tracer returns the service tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentation)
}

// Start opens a span on the service tracer.
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// Fail records err on span and marks it failed.
func Fail(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
