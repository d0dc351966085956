package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codewandler/cqrs-go/core/es"
)

// PollStream claims the thread with a conditional update and loads the
// batch inside the same transaction. An empty batch leaves no lease behind.
func (s *Store) PollStream(ctx context.Context, rc *es.ReaderContext, limit int) (*es.Lease, error) {
	if err := rc.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, es.InvalidArgument("limit")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin poll: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := readThread(ctx, tx, rc.Tenant, rc.Thread)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	if rec.Held(now) {
		return nil, nil
	}

	offset, cursors := es.MinCursor(rec.Cursors, rc.HandlerNames())
	envs, err := s.rangeAfter(ctx, tx, rc.Tenant, offset, limit+1)
	if err != nil {
		return nil, err
	}
	if len(envs) == 0 {
		return nil, nil
	}

	lease := &es.Lease{
		Token:     es.NewLeaseToken(),
		Cursors:   cursors,
		Envelopes: envs,
		Offset:    offset,
		ExpiresAt: now.Add(rc.LeaseTimeout()),
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO threads (tenant, thread, lease_token, lease_offset, lease_expires_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (tenant, thread) DO UPDATE SET
		     lease_token      = excluded.lease_token,
		     lease_offset     = excluded.lease_offset,
		     lease_expires_at = excluded.lease_expires_at`,
		rc.Tenant, rc.Thread, lease.Token, offset, lease.ExpiresAt.UnixNano(),
	); err != nil {
		return nil, fmt.Errorf("record lease %s/%s: %w", rc.Tenant, rc.Thread, err)
	}
	if err := tx.Commit(); err != nil {
		if isBusyError(err) {
			s.log.Debug("lease contended", slog.String("tenant", rc.Tenant), slog.String("thread", rc.Thread))
			return nil, nil
		}
		return nil, fmt.Errorf("record lease %s/%s: %w", rc.Tenant, rc.Thread, err)
	}
	return lease, nil
}

// CommitCursors merges the lease's cursors if the lease is still the
// thread's and unexpired, and clears it.
func (s *Store) CommitCursors(ctx context.Context, rc *es.ReaderContext, lease *es.Lease) (bool, error) {
	if lease == nil || len(lease.Envelopes) == 0 {
		return false, nil
	}
	if err := rc.Validate(); err != nil {
		return false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin cursor commit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := readThread(ctx, tx, rc.Tenant, rc.Thread)
	if err != nil {
		return false, err
	}
	if rec.Lease == nil || rec.Lease.Token != lease.Token || !rec.Held(s.clock()) {
		return false, es.LeaseLost()
	}

	merged, err := json.Marshal(es.MergeCursors(rec.Cursors, lease.Cursors))
	if err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE threads
		 SET cursors = ?, lease_token = NULL, lease_offset = '', lease_expires_at = 0
		 WHERE tenant = ? AND thread = ? AND lease_token = ?`,
		string(merged), rc.Tenant, rc.Thread, lease.Token,
	)
	if err != nil {
		return false, fmt.Errorf("commit cursors %s/%s: %w", rc.Tenant, rc.Thread, err)
	}
	if n, err := res.RowsAffected(); err != nil || n != 1 {
		return false, es.LeaseLost()
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit cursors %s/%s: %w", rc.Tenant, rc.Thread, err)
	}
	return true, nil
}

// Thread exposes a thread's persisted cursors and lease.
func (s *Store) Thread(ctx context.Context, tenant, thread string) (es.ThreadRecord, error) {
	return readThread(ctx, s.db, tenant, thread)
}

func readThread(ctx context.Context, q querier, tenant, thread string) (es.ThreadRecord, error) {
	var (
		rec     es.ThreadRecord
		cursors string
		token   sql.NullString
		offset  string
		expires int64
	)
	err := q.QueryRowContext(ctx,
		`SELECT cursors, lease_token, lease_offset, lease_expires_at FROM threads WHERE tenant = ? AND thread = ?`,
		tenant, thread,
	).Scan(&cursors, &token, &offset, &expires)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, nil
		}
		return rec, fmt.Errorf("load thread %s/%s: %w", tenant, thread, err)
	}
	if err := json.Unmarshal([]byte(cursors), &rec.Cursors); err != nil {
		return rec, fmt.Errorf("decode cursors of %s/%s: %w", tenant, thread, err)
	}
	if token.Valid && token.String != "" {
		rec.Lease = &es.LeaseRecord{Token: token.String, Offset: offset, ExpiresAt: time.Unix(0, expires)}
	}
	return rec, nil
}
