package es

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/cqrs-go/ports/kv"
)

func TestMinCursor(t *testing.T) {
	stored := map[string]string{"a": GID(7), "b": GID(3), "gone": GID(1)}

	offset, cursors := MinCursor(stored, []string{"a", "b"})
	require.Equal(t, GID(3), offset)
	require.Equal(t, map[string]string{"a": GID(7), "b": GID(3)}, cursors)

	offset, cursors = MinCursor(stored, []string{"a", "new"})
	require.Equal(t, "", offset)
	require.Equal(t, map[string]string{"a": GID(7), "new": ""}, cursors)
}

func TestMergeCursors(t *testing.T) {
	stored := map[string]string{"a": GID(5), "b": GID(2)}
	merged := MergeCursors(stored, map[string]string{"a": GID(4), "b": GID(3), "c": GID(1)})

	require.Equal(t, map[string]string{"a": GID(5), "b": GID(3), "c": GID(1)}, merged)
	require.Equal(t, GID(2), stored["b"])
}

func TestThreadRecord_Held(t *testing.T) {
	now := time.Now()
	var rec ThreadRecord
	require.False(t, rec.Held(now))

	rec.Lease = &LeaseRecord{Token: "t", ExpiresAt: now.Add(time.Second)}
	require.True(t, rec.Held(now))
	require.False(t, rec.Held(now.Add(time.Second)))

	l := Lease{ExpiresAt: now}
	require.True(t, l.Expired(now))
}

func TestKVThreads(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	threads := NewKVThreads(kv.NewMemStore(), WithClock(func() time.Time { return now }))

	envs := []Envelope{{GID: GID(1)}, {GID: GID(2)}, {GID: GID(3)}}
	load := func(_ context.Context, _ string, after string, limit int) ([]Envelope, error) {
		var out []Envelope
		for _, e := range envs {
			if e.GID > after && len(out) < limit {
				out = append(out, e)
			}
		}
		return out, nil
	}
	rc := &ReaderContext{
		Tenant:   "t1",
		Thread:   "main",
		Handlers: []EventHandler{NewHandler("h", nil)},
		Timeout:  time.Second,
	}
	ctx := t.Context()

	_, err := threads.Acquire(ctx, &ReaderContext{Tenant: "t1", Thread: "main"}, 1, load)
	require.ErrorIs(t, err, MissingArgument("handlers"))
	_, err = threads.Acquire(ctx, rc, 0, load)
	require.ErrorIs(t, err, InvalidArgument("limit"))

	lease, err := threads.Acquire(ctx, rc, 1, load)
	require.NoError(t, err)
	require.Len(t, lease.Envelopes, 2)
	require.Equal(t, now.Add(time.Second), lease.ExpiresAt)

	held, err := threads.Acquire(ctx, rc, 1, load)
	require.NoError(t, err)
	require.Nil(t, held)

	lease.Cursors["h"] = GID(1)
	ok, err := threads.Release(ctx, rc, lease)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = threads.Release(ctx, rc, lease)
	require.ErrorIs(t, err, ErrConcurrency)

	rec, err := threads.Thread(ctx, "t1", "main")
	require.NoError(t, err)
	require.Equal(t, GID(1), rec.Cursors["h"])

	// an expired lease is taken over
	lease, err = threads.Acquire(ctx, rc, 5, load)
	require.NoError(t, err)
	require.Equal(t, GID(1), lease.Offset)
	now = now.Add(2 * time.Second)

	next, err := threads.Acquire(ctx, rc, 5, load)
	require.NoError(t, err)
	require.NotNil(t, next)
	_, err = threads.Release(ctx, rc, lease)
	require.ErrorIs(t, err, ErrConcurrency)
	ok, err = threads.Release(ctx, rc, next)
	require.NoError(t, err)
	require.True(t, ok)

	missing := &ReaderContext{Tenant: "t1", Thread: "other", Handlers: rc.Handlers}
	_, err = threads.Release(ctx, missing, next)
	require.ErrorIs(t, err, &Error{Kind: KindConcurrency, Arg: "lease"})
}
