package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys shared by reconcile and API spans.
const (
	AttrHardwareID   = attribute.Key("doni.hardware.id")
	AttrHardwareType = attribute.Key("doni.hardware.type")
	AttrWorkerType   = attribute.Key("doni.worker.type")
	AttrWorkerState  = attribute.Key("doni.worker.state")
	AttrOutcome      = attribute.Key("doni.worker.outcome")
	AttrGeneration   = attribute.Key("doni.worker.generation")
	AttrClaimed      = attribute.Key("doni.cycle.claimed")
	AttrResultCount  = attribute.Key("result.count")
)

// StartSpan starts a span on tracer, or returns the span already in ctx when
// tracer is nil.
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError records err on span and marks it failed. The status text stays
// generic; the error itself is attached as an event.
func RecordError(span trace.Span, err error) {
	if err != nil && span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "operation failed")
	}
}
