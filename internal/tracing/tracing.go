// Package tracing wraps the admission request path and the worker
// poll cycle in OpenTelemetry spans. With no TracerProvider configured
// globally, otel's noop tracer is used and this becomes a pass-through.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/xraph/birdwatch"

// Tracer returns the package-wide tracer, scoped to the module's
// import path.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// Start begins a span named name with attrs, as an internal-kind span,
// and returns the derived context and span. Callers must call End on
// the returned span.
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// End records err on span if non-nil, sets the span status accordingly,
// and closes the span.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
