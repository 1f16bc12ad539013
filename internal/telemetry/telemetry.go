// Package telemetry wraps OpenTelemetry tracing for a span per MCP tool
// invocation (SPEC_FULL.md domain stack), grounded on
// r3e-network/service_layer's pkg/tracing/otel.go: a thin Tracer wrapper
// around oteltrace.Tracer whose StartSpan returns a context plus a finish
// closure that records the error and sets the span status.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Tracer starts spans for tool dispatch, carried through C4 governance into
// whichever of C3/C5/C6/C7 a tool call reaches.
type Tracer struct {
	tracer oteltrace.Tracer
}

// NewTracer builds a Tracer against the global TracerProvider under the
// given instrumentation name (cmd/hivemindd installs the real provider;
// tests run against the no-op default and still exercise this code path).
func NewTracer(instrumentationName string) *Tracer {
	return &Tracer{tracer: otel.Tracer(instrumentationName)}
}

// StartSpan opens a span named name with attrs attached, returning the
// span-carrying context and a finish func that records err (if non-nil)
// and closes the span. Caller defers finish(&err) or calls finish(nil).
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, func(error)) {
	ctx, span := t.tracer.Start(ctx, name, oteltrace.WithAttributes(convertAttrs(attrs)...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

func convertAttrs(attrs map[string]string) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		out = append(out, attribute.String(k, v))
	}
	return out
}
