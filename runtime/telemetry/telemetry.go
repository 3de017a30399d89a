// Package telemetry defines the logging, metrics and tracing hooks used by
// live list pipelines and their adapters, with Clue/OpenTelemetry and no-op
// implementations.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Metric names recorded by the live list runtime.
const (
	// MetricEventsApplied counts change events that modified a list.
	MetricEventsApplied = "wflive.events.applied"
	// MetricEventsIgnored counts duplicate or stale change events.
	MetricEventsIgnored = "wflive.events.ignored"
	// MetricEventsRejected counts change events dropped as invalid.
	MetricEventsRejected = "wflive.events.rejected"
	// MetricPipelineErrors counts pipelines that stopped on a transport error.
	MetricPipelineErrors = "wflive.pipeline.errors"
	// MetricSnapshotDuration times snapshot fetches.
	MetricSnapshotDuration = "wflive.snapshot.duration"
	// SpanSnapshot names the span wrapping snapshot fetches.
	SpanSnapshot = "wflive.snapshot"
)

// Logger captures structured logging. Implementations typically delegate to
// Clue; tests use NoopLogger or a small recorder.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics exposes counter and timer helpers. Tags are key-value pairs.
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
}

// Tracer abstracts span creation so pipelines remain agnostic of the
// OpenTelemetry provider.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
}

// Span represents an in-flight tracing span.
type Span interface {
	End(opts ...trace.SpanEndOption)
	AddEvent(name string, attrs ...any)
	SetStatus(code codes.Code, description string)
	RecordError(err error, opts ...trace.EventOption)
}
