package nats

import (
	"testing"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/cqrs-go/core/es"
	"github.com/codewandler/cqrs-go/core/es/estests"
	"github.com/codewandler/cqrs-go/ports/kv"
)

func newTestStore(t *testing.T, connect Connector) *EventStore {
	t.Helper()
	id := gonanoid.MustGenerate("abcdefghijklmnopqrstuvwxyz", 8)
	store, err := NewEventStore(t.Context(), StoreConfig{
		Connect:       connect,
		SubjectPrefix: "cqrs.test." + id,
		StreamName:    "cqrs_test_" + id,
		Bucket:        "cqrs_test_" + id,
		Storage:       jetstream.MemoryStorage,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestEventStore(t *testing.T) {
	if testing.Short() {
		t.Skip("needs a nats container")
	}
	connect := NewTestContainer(t)

	estests.Run(t, func(t *testing.T) es.EventStore { return newTestStore(t, connect) })
}

func TestGID(t *testing.T) {
	gid := GID(42, 7)
	require.Equal(t, "000000000000000042.007", gid)

	seq, idx, err := parseGID(gid)
	require.NoError(t, err)
	require.Equal(t, uint64(42), seq)
	require.Equal(t, 7, idx)

	require.Less(t, GID(42, 999), GID(43, 0))

	_, _, err = parseGID("42")
	require.Error(t, err)
}

func TestSubjectTokens(t *testing.T) {
	require.True(t, validSubjectToken("tenant-1_A"))
	for _, bad := range []string{"", "a.b", "a b", "*", ">"} {
		require.False(t, validSubjectToken(bad), bad)
	}
}

func TestKvStore(t *testing.T) {
	if testing.Short() {
		t.Skip("needs a nats container")
	}
	connect := NewTestContainer(t)
	store, err := NewKvStore(t.Context(), KvConfig{Connect: connect, Bucket: "kv_test", Storage: jetstream.MemoryStorage})
	require.NoError(t, err)
	defer store.Close()
	ctx := t.Context()

	_, err = store.Get(ctx, "threads.t1.main")
	require.ErrorIs(t, err, kv.ErrNotFound)

	rev, err := store.Create(ctx, "threads.t1.main", []byte("a"))
	require.NoError(t, err)
	_, err = store.Create(ctx, "threads.t1.main", []byte("b"))
	require.ErrorIs(t, err, kv.ErrExists)

	next, err := store.Update(ctx, "threads.t1.main", []byte("c"), rev)
	require.NoError(t, err)
	_, err = store.Update(ctx, "threads.t1.main", []byte("d"), rev)
	require.ErrorIs(t, err, kv.ErrRevisionMismatch)

	e, err := store.Get(ctx, "threads.t1.main")
	require.NoError(t, err)
	require.Equal(t, []byte("c"), e.Data)
	require.Equal(t, next, e.Revision)

	require.NoError(t, store.Delete(ctx, "threads.t1.main"))
	_, err = store.Get(ctx, "threads.t1.main")
	require.ErrorIs(t, err, kv.ErrNotFound)

	_, err = store.Create(ctx, "threads.t1.main", []byte("e"))
	require.NoError(t, err)
}
