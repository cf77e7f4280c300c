package otel

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const emptyTraceID = "00000000000000000000000000000000"

type ctxKey int

const (
	tracerKey ctxKey = iota + 1
	traceIDKey
)

// InjectTracing stores the tracer and the current trace id in the context so
// downstream handlers can start spans and log the id.
func InjectTracing(ctx context.Context, tracer trace.Tracer) context.Context {
	ctx = context.WithValue(ctx, tracerKey, tracer)
	return context.WithValue(ctx, traceIDKey, GetTraceID(ctx))
}

// GetTraceID returns the trace id from the current span context.
func GetTraceID(ctx context.Context) string {
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return emptyTraceID
}

func tracerFromContext(ctx context.Context) trace.Tracer {
	if t, ok := ctx.Value(tracerKey).(trace.Tracer); ok {
		return t
	}
	return noop.NewTracerProvider().Tracer("")
}
