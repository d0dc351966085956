package otel

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/codewandler/cqrs-go/core/es"
	"github.com/codewandler/cqrs-go/core/es/estests/domain"
)

func newRecorder(t *testing.T) (*tracetest.SpanRecorder, *Tracer) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(t.Context()) })
	return rec, NewTracer(tp)
}

func attr(span sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestTracerSpans(t *testing.T) {
	rec, tracer := newRecorder(t)

	tracer.Trace(t.Context(), es.TraceEvent{
		Point:         es.TraceCommitEvents,
		Tenant:        "tenant1",
		Command:       "AddNumbers",
		AggregateType: "sum",
		AggregateID:   "a",
		Version:       3,
		Events:        1,
	})
	tracer.Trace(t.Context(), es.TraceEvent{
		Point:   es.TraceHandleError,
		Tenant:  "tenant1",
		Thread:  "projections",
		Handler: "counter",
		Err:     errors.New("boom"),
	})

	spans := rec.Ended()
	require.Len(t, spans, 2)

	require.Equal(t, "es.commitEvents", spans[0].Name())
	v, ok := attr(spans[0], "es.aggregate.version")
	require.True(t, ok)
	require.Equal(t, int64(3), v.AsInt64())
	_, ok = attr(spans[0], "es.thread")
	require.False(t, ok)

	require.Equal(t, "es.handleError", spans[1].Name())
	require.Equal(t, codes.Error, spans[1].Status().Code)
	require.Equal(t, "boom", spans[1].Status().Description)
	v, ok = attr(spans[1], "es.handler")
	require.True(t, ok)
	require.Equal(t, "counter", v.AsString())
}

func TestTracerInCommandHandler(t *testing.T) {
	rec, tracer := newRecorder(t)

	h, err := es.NewCommandHandler(es.NewMemoryStore(), []*es.AggregateType{domain.SumType}, es.WithTracer(tracer))
	require.NoError(t, err)
	t.Cleanup(h.Close)

	actor := es.Actor{Tenant: "tenant1", ID: "user1", Name: "user1", Roles: []string{}}
	_, err = h.Command(t.Context(), actor, domain.AddNumbers, domain.NewNumbers(1, 2))
	require.NoError(t, err)

	var names []string
	for _, s := range rec.Ended() {
		names = append(names, s.Name())
	}
	require.Equal(t, []string{"es.command", "es.loadAggregate", "es.commitEvents"}, names)
}

func TestSetupWithoutEndpoint(t *testing.T) {
	shutdown, err := Setup(t.Context(), "cqrs-test", "")
	require.NoError(t, err)
	require.NoError(t, shutdown(t.Context()))
}
