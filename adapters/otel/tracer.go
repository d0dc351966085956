// Package otel exports engine trace points as OpenTelemetry spans.
package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/codewandler/cqrs-go/core/es"
)

const instrumentationName = "github.com/codewandler/cqrs-go/core/es"

// Tracer turns every trace point into a zero-length span under the span in
// ctx. Points that carry an error mark their span as failed.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer uses tp, or the global provider if tp is nil.
func NewTracer(tp trace.TracerProvider) *Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Tracer{tracer: tp.Tracer(instrumentationName)}
}

func (t *Tracer) Trace(ctx context.Context, ev es.TraceEvent) {
	_, span := t.tracer.Start(ctx, "es."+string(ev.Point),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attributes(ev)...),
	)
	if ev.Err != nil {
		span.RecordError(ev.Err)
		span.SetStatus(codes.Error, ev.Err.Error())
	}
	span.End()
}

func attributes(ev es.TraceEvent) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String("es.tenant", ev.Tenant)}
	if ev.Command != "" {
		attrs = append(attrs,
			attribute.String("es.command", ev.Command),
			attribute.String("es.aggregate.type", ev.AggregateType),
			attribute.String("es.aggregate.id", ev.AggregateID),
			attribute.Int64("es.aggregate.version", int64(ev.Version)),
			attribute.Bool("es.cached", ev.Cached),
			attribute.Int("es.events", ev.Events),
		)
	}
	if ev.Thread != "" {
		attrs = append(attrs, attribute.String("es.thread", ev.Thread))
	}
	if ev.LeaseToken != "" {
		attrs = append(attrs, attribute.String("es.lease", ev.LeaseToken))
	}
	if ev.Handler != "" {
		attrs = append(attrs, attribute.String("es.handler", ev.Handler))
	}
	if ev.Point == es.TraceCommitCursors {
		attrs = append(attrs, attribute.Bool("es.more", ev.More))
	}
	if env := ev.Envelope; env != nil {
		attrs = append(attrs,
			attribute.String("es.envelope.gid", env.GID),
			attribute.String("es.envelope.name", env.Name),
			attribute.String("es.envelope.aggregate_id", env.AggregateID),
		)
	}
	return attrs
}

var _ es.Tracer = (*Tracer)(nil)
