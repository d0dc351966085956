package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/codewandler/cqrs-go/core/es"
)

// SaveSnapshot keeps the newest snapshot per aggregate. An older version
// never replaces a newer one.
func (s *Store) SaveSnapshot(ctx context.Context, tenant string, snap *es.Snapshot) error {
	createdAt := snap.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.clock()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots (tenant, agg_type, agg_id, agg_version, data, saved_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tenant, agg_type, agg_id) DO UPDATE SET
		     agg_version = excluded.agg_version,
		     data        = excluded.data,
		     saved_at    = excluded.saved_at
		 WHERE excluded.agg_version > snapshots.agg_version`,
		tenant, snap.AggregateType, snap.AggregateID, int64(snap.Version), []byte(snap.Data), createdAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save snapshot %s/%s: %w", snap.AggregateType, snap.AggregateID, err)
	}
	return nil
}

func (s *Store) LoadSnapshot(ctx context.Context, tenant, aggType, aggID string) (*es.Snapshot, error) {
	var (
		snap    = &es.Snapshot{AggregateType: aggType, AggregateID: aggID}
		data    []byte
		savedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT agg_version, data, saved_at FROM snapshots WHERE tenant = ? AND agg_type = ? AND agg_id = ?`,
		tenant, aggType, aggID,
	).Scan(&snap.Version, &data, &savedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, es.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("load snapshot %s/%s: %w", aggType, aggID, err)
	}
	snap.Data = data
	snap.CreatedAt = time.Unix(0, savedAt).UTC()
	return snap, nil
}
