package es_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/cqrs-go/core/es"
	"github.com/codewandler/cqrs-go/core/es/estests/domain"
)

func TestNewStreamReader(t *testing.T) {
	_, err := es.NewStreamReader(nil)
	require.ErrorIs(t, err, es.MissingArgument("store"))
}

func TestStreamReader_Validation(t *testing.T) {
	r, err := es.NewStreamReader(es.NewMemoryStore())
	require.NoError(t, err)
	ctx := t.Context()
	handlers := []es.EventHandler{domain.NewEventCounter("c")}

	_, err = r.Poll(ctx, "", "main", handlers)
	require.ErrorIs(t, err, es.MissingArgument("tenant"))
	_, err = r.Poll(ctx, "tenant1", "", handlers)
	require.ErrorIs(t, err, es.MissingArgument("thread"))
	_, err = r.Poll(ctx, "tenant1", "main", nil)
	require.ErrorIs(t, err, es.MissingArgument("handlers"))

	// handlers without a name are dropped; nothing is left to poll for
	more, err := r.Poll(ctx, "tenant1", "main", []es.EventHandler{es.NewHandler("", nil), nil})
	require.NoError(t, err)
	require.False(t, more)
}

func TestStreamReader_Poll(t *testing.T) {
	store := es.NewMemoryStore()
	h, err := es.NewCommandHandler(store, []*es.AggregateType{domain.SumType})
	require.NoError(t, err)
	defer h.Close()
	for i := 0; i < 5; i++ {
		_, err := h.Command(t.Context(), actor1, domain.AddNumbers, domain.NewNumbers(i, i), es.WithAggregateID("s1"))
		require.NoError(t, err)
	}

	tr := &recordingTracer{}
	r, err := es.NewStreamReader(store, es.WithTracer(tr))
	require.NoError(t, err)
	counter := domain.NewEventCounter("counter")

	more, err := r.Poll(t.Context(), "tenant1", "main", []es.EventHandler{counter}, es.WithLimit(3))
	require.NoError(t, err)
	require.True(t, more)
	require.Equal(t, 3, counter.Count("s1"))

	more, err = r.Poll(t.Context(), "tenant1", "main", []es.EventHandler{counter}, es.WithLimit(3))
	require.NoError(t, err)
	require.False(t, more)
	require.Equal(t, 5, counter.Count("s1"))

	rec, err := store.Thread(t.Context(), "tenant1", "main")
	require.NoError(t, err)
	require.Equal(t, es.GID(5), rec.Cursors["counter"])
	require.Nil(t, rec.Lease)

	points := tr.Points()
	require.Equal(t, es.TracePollStream, points[0])
	require.Contains(t, points, es.TraceHandle)
	require.Equal(t, es.TraceCommitCursors, points[len(points)-1])

	var mores []bool
	for _, ev := range tr.Events() {
		if ev.Point == es.TraceCommitCursors {
			mores = append(mores, ev.More)
		}
	}
	require.Equal(t, []bool{true, false}, mores)
}

func TestStreamReader_DuplicateHandlerNames(t *testing.T) {
	store := es.NewMemoryStore()
	h, err := es.NewCommandHandler(store, []*es.AggregateType{domain.SumType})
	require.NoError(t, err)
	defer h.Close()
	_, err = h.Command(t.Context(), actor1, domain.AddNumbers, domain.NewNumbers(1, 1), es.WithAggregateID("s1"))
	require.NoError(t, err)

	r, err := es.NewStreamReader(store)
	require.NoError(t, err)
	first := domain.NewEventCounter("counter")
	second := domain.NewEventCounter("counter")

	_, err = r.Poll(t.Context(), "tenant1", "main", []es.EventHandler{first, second})
	require.NoError(t, err)
	require.Equal(t, 1, first.Count("s1"))
	require.Zero(t, second.Count("s1"))
}

func TestStreamReader_LeaseExpiredDuringDispatch(t *testing.T) {
	var now time.Time
	clock := func() time.Time { return now }
	now = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	store := es.NewMemoryStore(es.WithClock(clock))
	h, err := es.NewCommandHandler(store, []*es.AggregateType{domain.SumType})
	require.NoError(t, err)
	defer h.Close()
	for i := 0; i < 3; i++ {
		_, err = h.Command(t.Context(), actor1, domain.AddNumbers, domain.NewNumbers(1, 1), es.WithAggregateID("s1"))
		require.NoError(t, err)
	}

	handled := 0
	slow := es.NewHandler("slow", map[string]es.EventFunc{
		domain.NumbersAdded: func(context.Context, string, es.Envelope) error {
			handled++
			now = now.Add(time.Minute)
			return nil
		},
	})
	r, err := es.NewStreamReader(store, es.WithClock(clock))
	require.NoError(t, err)

	_, err = r.Poll(t.Context(), "tenant1", "main", []es.EventHandler{slow}, es.WithLeaseTimeout(time.Second))
	require.ErrorIs(t, err, es.ErrConcurrency)
	require.Equal(t, 1, handled, "dispatch stops once the lease expired")

	rec, err := store.Thread(t.Context(), "tenant1", "main")
	require.NoError(t, err)
	require.Empty(t, rec.Cursors["slow"])
}
