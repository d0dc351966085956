package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/codewandler/cqrs-go/core/sf"
	"github.com/codewandler/cqrs-go/ports/kv"
)

var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotStore keeps the latest snapshot per aggregate and tenant.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, tenant string, snap *Snapshot) error
	LoadSnapshot(ctx context.Context, tenant, aggType, aggID string) (*Snapshot, error)
}

func (s *Snapshot) logAttrs() slog.Attr {
	return slog.Group(
		"snapshot",
		slog.String("agg_type", s.AggregateType),
		slog.String("agg_id", s.AggregateID),
		s.Version.SlogAttr(),
		slog.Int("size", len(s.Data)),
	)
}

// KVSnapshots stores snapshots as JSON in a kv.Store.
type KVSnapshots struct {
	kv kv.Store
}

func NewKVSnapshots(store kv.Store) *KVSnapshots { return &KVSnapshots{kv: store} }

func SnapshotKey(tenant, aggType, aggID string) string {
	return strings.Join([]string{"snapshots", tenant, aggType, aggID}, ".")
}

func (s *KVSnapshots) SaveSnapshot(ctx context.Context, tenant string, snap *Snapshot) error {
	_, err := kv.PutJSON(ctx, s.kv, SnapshotKey(tenant, snap.AggregateType, snap.AggregateID), snap)
	return err
}

func (s *KVSnapshots) LoadSnapshot(ctx context.Context, tenant, aggType, aggID string) (*Snapshot, error) {
	snap, _, err := kv.GetJSON[*Snapshot](ctx, s.kv, SnapshotKey(tenant, aggType, aggID))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("load snapshot %s/%s: %w", aggType, aggID, err)
	}
	return snap, nil
}

// LoadSnapshotFor returns the snapshot a load should start from, or nil if
// the type does not snapshot or none exists. Read failures are logged and
// treated as a miss; the events are authoritative.
func LoadSnapshotFor(
	ctx context.Context,
	snaps SnapshotStore,
	cc *CommandContext,
	aggID string,
	log *slog.Logger,
	m ESMetrics,
) *Snapshot {
	t := cc.AggregateType()
	if snaps == nil || !t.Snapshots() {
		return nil
	}
	defer m.SnapshotLoadDuration(t.Name()).ObserveDuration()

	snap, err := snaps.LoadSnapshot(ctx, cc.Tenant(), t.Name(), aggID)
	if err != nil {
		if !errors.Is(err, ErrSnapshotNotFound) {
			log.Warn("snapshot load failed", slog.String("agg_id", aggID), slog.Any("error", err))
		}
		return nil
	}
	log.Debug("snapshot loaded", snap.logAttrs())
	return snap
}

// SnapshotAfterCommit persists the committed state at version last. A
// failure is logged and counted but never returned.
func SnapshotAfterCommit(
	ctx context.Context,
	snaps SnapshotStore,
	cc *CommandContext,
	last Version,
	log *slog.Logger,
	m ESMetrics,
) {
	t := cc.AggregateType()
	if snaps == nil || !t.Snapshots() {
		return
	}
	defer m.SnapshotSaveDuration(t.Name()).ObserveDuration()

	snap, err := CloneAt(cc.Aggregate(), last)
	if err == nil {
		err = snaps.SaveSnapshot(ctx, cc.Tenant(), snap)
	}
	if err != nil {
		m.SnapshotFailed(t.Name())
		log.Warn(
			"snapshot save failed",
			slog.String("agg_id", cc.Aggregate().ID()),
			last.SlogAttr(),
			slog.Any("error", err),
		)
		return
	}
	log.Debug("snapshot saved", snap.logAttrs())
}

// SharedSnapshots collapses concurrent loads of the same snapshot into one
// read of the wrapped store. A save passes through and detaches loads still
// in flight for the key, so later loads read the saved snapshot.
type SharedSnapshots struct {
	SnapshotStore
	loads sf.Group[*Snapshot]
}

func NewSharedSnapshots(inner SnapshotStore) *SharedSnapshots {
	return &SharedSnapshots{SnapshotStore: inner}
}

func (s *SharedSnapshots) LoadSnapshot(ctx context.Context, tenant, aggType, aggID string) (*Snapshot, error) {
	snap, _, err := s.loads.Do(SnapshotKey(tenant, aggType, aggID), func() (*Snapshot, error) {
		return s.SnapshotStore.LoadSnapshot(ctx, tenant, aggType, aggID)
	})
	return snap, err
}

func (s *SharedSnapshots) SaveSnapshot(ctx context.Context, tenant string, snap *Snapshot) error {
	err := s.SnapshotStore.SaveSnapshot(ctx, tenant, snap)
	if err == nil && snap != nil {
		s.loads.Forget(SnapshotKey(tenant, snap.AggregateType, snap.AggregateID))
	}
	return err
}

var (
	_ SnapshotStore = (*KVSnapshots)(nil)
	_ SnapshotStore = (*SharedSnapshots)(nil)
)
