// Span helpers for sync and bus observability.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer wraps OpenTelemetry tracing with sync-specific helpers.
type Tracer struct {
	tracer trace.Tracer
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the global tracer instance.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer, or a no-op tracer if not set.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
	}
	return globalTracer
}

// NewTracer creates a new tracer with the given name.
func NewTracer(name string) *Tracer {
	return &Tracer{tracer: otel.Tracer(name)}
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// --- Sync Spans ---

// StartPatchSpan starts a span for a state patch merge.
func (t *Tracer) StartPatchSpan(ctx context.Context, role string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "sync.apply_patch",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("sync.role", role)),
	)
}

// EndPatchSpan ends a patch span with the resulting version.
func (t *Tracer) EndPatchSpan(span trace.Span, version uint64, err error) {
	span.SetAttributes(attribute.Int64("sync.version", int64(version)))
	endSpan(span, err)
}

// StartResetSpan starts a span for a session reinitialize.
func (t *Tracer) StartResetSpan(ctx context.Context, sessionID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "sync.reinitialize",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("sync.session", sessionID)),
	)
}

// StartInterpretSpan starts a span for glyph sequence interpretation.
func (t *Tracer) StartInterpretSpan(ctx context.Context, length int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "glyph.interpret",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.Int("glyph.sequence_length", length)),
	)
}

// EndSpan ends a span, recording err when non-nil.
func (t *Tracer) EndSpan(span trace.Span, err error) {
	endSpan(span, err)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
