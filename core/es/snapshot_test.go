package es

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/cqrs-go/ports/kv"
)

func TestKVSnapshots(t *testing.T) {
	ctx := t.Context()
	snaps := NewKVSnapshots(kv.NewMemStore())

	_, err := snaps.LoadSnapshot(ctx, "t1", "sum", "a")
	require.ErrorIs(t, err, ErrSnapshotNotFound)

	require.NoError(t, snaps.SaveSnapshot(ctx, "t1", &Snapshot{AggregateType: "sum", AggregateID: "a", Version: 2, Data: []byte(`{"sum":3}`)}))
	snap, err := snaps.LoadSnapshot(ctx, "t1", "sum", "a")
	require.NoError(t, err)
	require.Equal(t, Version(2), snap.Version)
	require.JSONEq(t, `{"sum":3}`, string(snap.Data))

	_, err = snaps.LoadSnapshot(ctx, "t2", "sum", "a")
	require.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestSharedSnapshots(t *testing.T) {
	ctx := t.Context()
	shared := NewSharedSnapshots(NewKVSnapshots(kv.NewMemStore()))

	_, err := shared.LoadSnapshot(ctx, "t1", "sum", "a")
	require.ErrorIs(t, err, ErrSnapshotNotFound)

	require.NoError(t, shared.SaveSnapshot(ctx, "t1", &Snapshot{AggregateType: "sum", AggregateID: "a", Version: 0}))
	snap, err := shared.LoadSnapshot(ctx, "t1", "sum", "a")
	require.NoError(t, err)
	require.Equal(t, "a", snap.AggregateID)
	require.Equal(t, Version(0), snap.Version)
}

// gatedSnapshots holds the first load until gate is closed.
type gatedSnapshots struct {
	SnapshotStore
	loads   atomic.Int32
	started chan struct{}
	gate    chan struct{}
}

func (g *gatedSnapshots) LoadSnapshot(ctx context.Context, tenant, aggType, aggID string) (*Snapshot, error) {
	if g.loads.Add(1) == 1 {
		close(g.started)
		<-g.gate
	}
	return g.SnapshotStore.LoadSnapshot(ctx, tenant, aggType, aggID)
}

func TestSharedSnapshots_SaveDetachesInflightLoad(t *testing.T) {
	ctx := t.Context()
	inner := &gatedSnapshots{
		SnapshotStore: NewKVSnapshots(kv.NewMemStore()),
		started:       make(chan struct{}),
		gate:          make(chan struct{}),
	}
	shared := NewSharedSnapshots(inner)

	first := make(chan error, 1)
	go func() {
		_, err := shared.LoadSnapshot(ctx, "t1", "sum", "a")
		first <- err
	}()
	<-inner.started

	require.NoError(t, shared.SaveSnapshot(ctx, "t1", &Snapshot{AggregateType: "sum", AggregateID: "a", Version: 3}))

	second := make(chan *Snapshot, 1)
	go func() {
		snap, _ := shared.LoadSnapshot(ctx, "t1", "sum", "a")
		second <- snap
	}()
	select {
	case snap := <-second:
		require.NotNil(t, snap)
		require.Equal(t, Version(3), snap.Version)
	case <-time.After(2 * time.Second):
		t.Fatal("load after save joined the load in flight")
	}
	require.Equal(t, int32(2), inner.loads.Load())

	close(inner.gate)
	require.NoError(t, <-first)
}

func TestSnapshotKey(t *testing.T) {
	require.Equal(t, "snapshots.t1.sum.a", SnapshotKey("t1", "sum", "a"))
}
