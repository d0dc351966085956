package es_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/cqrs-go/core/es"
	"github.com/codewandler/cqrs-go/core/es/estests/domain"
)

func TestNewRunner(t *testing.T) {
	r, err := es.NewStreamReader(es.NewMemoryStore())
	require.NoError(t, err)

	_, err = es.NewRunner(nil, nil)
	require.ErrorIs(t, err, es.MissingArgument("reader"))
	_, err = es.NewRunner(r, nil)
	require.ErrorIs(t, err, es.MissingArgument("subscriptions"))
	_, err = es.NewRunner(r, []es.Subscription{{Tenant: "t", Thread: "main"}})
	require.ErrorIs(t, err, es.MissingArgument("subscription.handlers"))

	c := domain.NewEventCounter("c")
	_, err = es.NewRunner(r, []es.Subscription{
		{Tenant: "t", Thread: "main", Handlers: []es.EventHandler{c}},
		{Tenant: "t", Thread: "main", Handlers: []es.EventHandler{c}},
	})
	require.ErrorIs(t, err, es.InvalidArgument("subscriptions"))
}

func TestRunner_Drain(t *testing.T) {
	store := es.NewMemoryStore()
	h, err := es.NewCommandHandler(store, []*es.AggregateType{domain.SumType})
	require.NoError(t, err)
	defer h.Close()
	for i := 0; i < 25; i++ {
		_, err := h.Command(t.Context(), actor1, domain.AddNumbers, domain.NewNumbers(1, 1), es.WithAggregateID("s1"))
		require.NoError(t, err)
	}

	reader, err := es.NewStreamReader(store)
	require.NoError(t, err)
	a := domain.NewEventCounter("a")
	b := domain.NewEventCounter("b")
	runner, err := es.NewRunner(reader, []es.Subscription{
		{Tenant: "tenant1", Thread: "one", Handlers: []es.EventHandler{a}, Options: []es.PollOption{es.WithLimit(4)}},
		{Tenant: "tenant1", Thread: "two", Handlers: []es.EventHandler{b}},
	})
	require.NoError(t, err)
	defer runner.Close()

	require.NoError(t, runner.Drain(t.Context()))
	require.Equal(t, 25, a.Total())
	require.Equal(t, 25, b.Total())

	require.NoError(t, runner.Drain(t.Context()))
	require.Equal(t, 25, a.Total())
}

func TestRunner_Run(t *testing.T) {
	store := es.NewMemoryStore()
	h, err := es.NewCommandHandler(store, []*es.AggregateType{domain.SumType})
	require.NoError(t, err)
	defer h.Close()

	reader, err := es.NewStreamReader(store)
	require.NoError(t, err)
	counter := domain.NewEventCounter("counter")
	runner, err := es.NewRunner(reader,
		[]es.Subscription{{Tenant: "tenant1", Thread: "main", Handlers: []es.EventHandler{counter}}},
		es.WithInterval(10*time.Millisecond),
	)
	require.NoError(t, err)
	defer runner.Close()

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	for i := 0; i < 3; i++ {
		_, err := h.Command(t.Context(), actor1, domain.AddNumbers, domain.NewNumbers(1, 1), es.WithAggregateID("s1"))
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return counter.Total() == 3 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestRunner_NotifyOnCommit(t *testing.T) {
	store := es.NewMemoryStore()
	reader, err := es.NewStreamReader(store)
	require.NoError(t, err)
	counter := domain.NewEventCounter("counter")
	runner, err := es.NewRunner(reader,
		[]es.Subscription{{Tenant: "tenant1", Thread: "main", Handlers: []es.EventHandler{counter}}},
		es.WithInterval(time.Hour),
	)
	require.NoError(t, err)
	defer runner.Close()

	h, err := es.NewCommandHandler(store, []*es.AggregateType{domain.SumType}, es.NotifyRunner(runner))
	require.NoError(t, err)
	defer h.Close()

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	// tenants without subscriptions are ignored
	runner.Notify("tenant2")

	for i := 1; i <= 3; i++ {
		_, err := h.Command(t.Context(), actor1, domain.AddNumbers, domain.NewNumbers(1, 1), es.WithAggregateID("s1"))
		require.NoError(t, err)
		require.Eventually(t, func() bool { return counter.Total() == i }, 2*time.Second, 5*time.Millisecond)
	}

	cancel()
	require.NoError(t, <-done)
}
