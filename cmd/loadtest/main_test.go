package main

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/cqrs-go/core/es"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("LOADTEST_BACKEND", "sqlite")
	t.Setenv("LOADTEST_WORKERS", "0")

	cfg, err := loadConfig()
	require.NoError(t, err)
	require.Equal(t, "sqlite", cfg.Backend)
	require.Equal(t, 1, cfg.Workers)
	require.Equal(t, 50000, cfg.N)
	require.True(t, cfg.Snapshots)
	require.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestWriteUserAndProject(t *testing.T) {
	ctx := t.Context()
	store := es.NewMemoryStore()
	h, err := es.NewCommandHandler(store, []*es.AggregateType{UserType})
	require.NoError(t, err)
	t.Cleanup(h.Close)

	actor := es.Actor{Tenant: "t", ID: "worker-0", Name: "loadtest", Roles: []string{}}
	var calls int
	require.NoError(t, writeUser(ctx, h, actor, 25, func() { calls++ }))
	require.Equal(t, 25, calls)

	reader, err := es.NewStreamReader(store)
	require.NoError(t, err)
	projection := NewEmailChanges()
	runner, err := es.NewRunner(reader, []es.Subscription{{
		Tenant:   "t",
		Thread:   "loadtest",
		Handlers: []es.EventHandler{projection},
	}})
	require.NoError(t, err)
	t.Cleanup(runner.Close)

	require.NoError(t, runner.Drain(ctx))
	require.Equal(t, int64(25), projection.Total())
}

func TestUserCommands(t *testing.T) {
	ctx := t.Context()
	h, err := es.NewCommandHandler(es.NewMemoryStore(), []*es.AggregateType{UserType})
	require.NoError(t, err)
	t.Cleanup(h.Close)
	actor := es.Actor{Tenant: "t", ID: "u", Name: "u", Roles: []string{}}

	_, err = h.Command(ctx, actor, RegisterUser, Registration{Name: "ann", Email: "nope"})
	require.ErrorIs(t, err, es.InvalidArgument("email"))

	_, err = h.Command(ctx, actor, ChangeEmail, EmailChange{Email: "a@b.c"})
	require.ErrorIs(t, err, es.ErrPrecondition)

	cc, err := h.Command(ctx, actor, RegisterUser, Registration{Name: "ann", Email: "ann@host"})
	require.NoError(t, err)
	id := cc.Aggregate().ID()

	_, err = h.Command(ctx, actor, RegisterUser, Registration{Name: "ann", Email: "ann@host"}, es.WithAggregateID(id))
	require.ErrorIs(t, err, es.ErrPrecondition)

	cc, err = h.Command(ctx, actor, ChangeEmail, EmailChange{Email: "ann@host"}, es.WithAggregateID(id))
	require.NoError(t, err)
	require.Empty(t, cc.Committed())
	require.Equal(t, es.Version(0), cc.Aggregate().Version())
}
