package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/cqrs-go/core/es"
	"github.com/codewandler/cqrs-go/core/es/estests"
	"github.com/codewandler/cqrs-go/core/es/estests/domain"
)

var actor = es.Actor{Tenant: "tenant1", ID: "user1", Name: "user1", Roles: []string{}}

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	store, err := Open(t.Context(), Config{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestEventStore(t *testing.T) {
	estests.Run(t, func(t *testing.T) es.EventStore {
		return openTestStore(t, filepath.Join(t.TempDir(), "es.db"))
	})
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(t.Context(), Config{Path: "  "})
	require.ErrorIs(t, err, es.MissingArgument("path"))
}

func TestReopenKeepsEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "es.db")

	first, err := Open(t.Context(), Config{Path: path})
	require.NoError(t, err)
	h, err := es.NewCommandHandler(first, []*es.AggregateType{domain.SumType})
	require.NoError(t, err)

	cc, err := h.Command(t.Context(), actor, domain.AddNumbers, domain.NewNumbers(4, 5))
	require.NoError(t, err)
	id := cc.Aggregate().ID()
	_, err = uuid.Parse(id)
	require.NoError(t, err, "new aggregates get uuids")

	_, err = h.Command(t.Context(), actor, domain.AddNumbers, domain.NewNumbers(1, 0), es.WithAggregateID(id))
	require.NoError(t, err)
	h.Close()
	require.NoError(t, first.Close())

	second := openTestStore(t, path)
	cc = es.NewCommandContext(second, actor, domain.SumType, "", id, es.NoVersion, nil)
	agg, err := second.LoadAggregate(t.Context(), cc, id, es.NoVersion)
	require.NoError(t, err)
	require.Equal(t, es.Version(1), agg.Version())
	require.Equal(t, 10, agg.(*domain.Sum).Sum)

	// the other type has no events under this id
	cc = es.NewCommandContext(second, actor, domain.SumNoSnapshotsType, "", id, es.NoVersion, nil)
	other, err := second.LoadAggregate(t.Context(), cc, id, es.NoVersion)
	require.NoError(t, err)
	require.Equal(t, es.NoVersion, other.Version())
}

func TestSnapshotsNeverMoveBack(t *testing.T) {
	store := openTestStore(t, filepath.Join(t.TempDir(), "es.db"))
	ctx := t.Context()

	_, err := store.LoadSnapshot(ctx, "t", "sum", "a")
	require.ErrorIs(t, err, es.ErrSnapshotNotFound)

	now := time.Unix(1700000000, 0).UTC()
	require.NoError(t, store.SaveSnapshot(ctx, "t", &es.Snapshot{
		AggregateType: "sum", AggregateID: "a", Version: 5, Data: []byte(`{"sum":5}`), CreatedAt: now,
	}))
	require.NoError(t, store.SaveSnapshot(ctx, "t", &es.Snapshot{
		AggregateType: "sum", AggregateID: "a", Version: 3, Data: []byte(`{"sum":3}`), CreatedAt: now,
	}))

	snap, err := store.LoadSnapshot(ctx, "t", "sum", "a")
	require.NoError(t, err)
	require.Equal(t, es.Version(5), snap.Version)
	require.JSONEq(t, `{"sum":5}`, string(snap.Data))
	require.True(t, now.Equal(snap.CreatedAt))

	_, err = store.LoadSnapshot(ctx, "other", "sum", "a")
	require.ErrorIs(t, err, es.ErrSnapshotNotFound)
}

func TestRangeAfterRejectsForeignOffsets(t *testing.T) {
	store := openTestStore(t, filepath.Join(t.TempDir(), "es.db"))

	_, err := store.rangeAfter(t.Context(), store.db, "t", "000000000000000042.007", 10)
	require.ErrorIs(t, err, es.InvalidArgument("offset"))

	envs, err := store.rangeAfter(t.Context(), store.db, "t", es.GID(42), 10)
	require.NoError(t, err)
	require.Empty(t, envs)
}

func TestThreadRecord(t *testing.T) {
	store := openTestStore(t, filepath.Join(t.TempDir(), "es.db"))
	ctx := t.Context()

	rec, err := store.Thread(ctx, actor.Tenant, "projections")
	require.NoError(t, err)
	require.Nil(t, rec.Lease)
	require.Empty(t, rec.Cursors)

	h, err := es.NewCommandHandler(store, []*es.AggregateType{domain.SumType})
	require.NoError(t, err)
	t.Cleanup(h.Close)
	cc, err := h.Command(ctx, actor, domain.AddNumbers, domain.NewNumbers(1, 1))
	require.NoError(t, err)

	counter := domain.NewEventCounter("counter")
	rc := &es.ReaderContext{Tenant: actor.Tenant, Thread: "projections", Handlers: []es.EventHandler{counter}, Timeout: time.Minute}
	lease, err := store.PollStream(ctx, rc, 10)
	require.NoError(t, err)
	require.NotNil(t, lease)

	rec, err = store.Thread(ctx, actor.Tenant, "projections")
	require.NoError(t, err)
	require.NotNil(t, rec.Lease)
	require.Equal(t, lease.Token, rec.Lease.Token)
	require.Equal(t, "", rec.Lease.Offset)

	lease.Cursors["counter"] = cc.Committed()[0].GID
	ok, err := store.CommitCursors(ctx, rc, lease)
	require.NoError(t, err)
	require.True(t, ok)

	rec, err = store.Thread(ctx, actor.Tenant, "projections")
	require.NoError(t, err)
	require.Nil(t, rec.Lease)
	require.Equal(t, cc.Committed()[0].GID, rec.Cursors["counter"])

	// a second commit of the same lease finds it gone
	_, err = store.CommitCursors(ctx, rc, lease)
	require.ErrorIs(t, err, es.ErrConcurrency)
}
