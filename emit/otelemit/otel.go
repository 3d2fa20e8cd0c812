// Package otelemit adapts emit.Event into OpenTelemetry spans, one span
// per event.
package otelemit

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hollow-sw/hsw/emit"
)

// Emitter creates one OpenTelemetry span per event. Spans are started
// and ended immediately: events represent points in time, not durations.
type Emitter struct {
	tracer trace.Tracer
}

// New creates an Emitter using tracer, typically obtained via
// otel.Tracer("hsw").
func New(tracer trace.Tracer) *Emitter {
	return &Emitter{tracer: tracer}
}

func (o *Emitter) Emit(event emit.Event) {
	ctx := context.Background()
	_, span := o.tracer.Start(ctx, string(event.Kind))
	defer span.End()
	o.decorate(span, event)
}

func (o *Emitter) EmitBatch(_ context.Context, events []emit.Event) error {
	for _, event := range events {
		_, span := o.tracer.Start(context.Background(), string(event.Kind))
		o.decorate(span, event)
		span.End()
	}
	return nil
}

// Flush is a no-op here: exporting is the configured
// sdktrace.TracerProvider's responsibility (ForceFlush on shutdown).
func (o *Emitter) Flush(context.Context) error { return nil }

func (o *Emitter) decorate(span trace.Span, event emit.Event) {
	span.SetAttributes(
		attribute.String("run.id", event.RunID),
		attribute.Int("step.index", event.StepIndex),
		attribute.Int("task.ordinal", event.TaskOrdinal),
		attribute.String("node.id", event.NodeID),
		attribute.Int64("event.index", event.Index),
	)
	for k, v := range event.Attributes {
		span.SetAttributes(attribute.String("attr."+k, fmt.Sprintf("%v", v)))
	}
	if errMsg, ok := event.Attributes["errorDescription"].(string); ok {
		span.SetStatus(codes.Error, errMsg)
		span.RecordError(fmt.Errorf("%s", errMsg))
	}
}
