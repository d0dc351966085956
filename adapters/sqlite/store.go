// Package sqlite is an EventStore on a single SQLite database file.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/codewandler/cqrs-go/core/es"
)

//go:embed schema.sql
var schema string

const dsnParams = "_pragma=journal_mode(WAL)" +
	"&_pragma=foreign_keys(1)" +
	"&_pragma=busy_timeout(5000)" +
	"&_pragma=synchronous(NORMAL)" +
	"&_txlock=immediate"

type Config struct {
	Path    string       // database file, created if missing
	Log     *slog.Logger // optional
	Metrics es.ESMetrics // optional
	Clock   func() time.Time
}

// Store keeps events, snapshots and thread records in three tables. The
// events table's rowid is the stream sequence; the unique key on
// (tenant, agg_type, agg_id, agg_version) rejects concurrent appends.
// Writes go through one connection, so transactions serialize.
type Store struct {
	db      *sql.DB
	log     *slog.Logger
	metrics es.ESMetrics
	clock   func() time.Time
	snaps   *es.SharedSnapshots
}

// Open creates or opens the database at cfg.Path and applies the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, es.MissingArgument("path")
	}
	db, err := sql.Open("sqlite", "file:"+path+"?"+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", path, err)
	}

	s, err := New(ctx, db, cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.log.Debug("opened", slog.String("path", path))
	return s, nil
}

// New wraps an open database. Callers that share db with other goroutines
// should limit it to one open connection.
func New(ctx context.Context, db *sql.DB, cfg Config) (*Store, error) {
	if db == nil {
		return nil, es.MissingArgument("db")
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = es.NopESMetrics()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	s := &Store{
		db:      db,
		log:     log.With(slog.String("store", "sqlite")),
		metrics: metrics,
		clock:   clock,
	}
	s.snaps = es.NewSharedSnapshots(s)
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// querier is the part of *sql.DB and *sql.Tx the read paths need.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const envelopeColumns = `seq, agg_type, agg_id, agg_version, id, actor, command, name, event_version, payload, created_at`

func scanEnvelopes(rows *sql.Rows) ([]es.Envelope, error) {
	defer rows.Close()

	var out []es.Envelope
	for rows.Next() {
		var (
			env     es.Envelope
			seq     int64
			created int64
			payload []byte
		)
		if err := rows.Scan(
			&seq,
			&env.AggregateType,
			&env.AggregateID,
			&env.AggregateVersion,
			&env.ID,
			&env.ActorID,
			&env.Command,
			&env.Name,
			&env.EventVersion,
			&payload,
			&created,
		); err != nil {
			return nil, err
		}
		env.Seq = uint64(seq)
		env.GID = es.GID(env.Seq)
		env.Time = time.Unix(0, created).UTC()
		if len(payload) > 0 {
			env.Payload = json.RawMessage(payload)
		}
		out = append(out, env)
	}
	return out, rows.Err()
}

func (s *Store) LoadAggregate(ctx context.Context, cc *es.CommandContext, aggregateID string, expectedVersion es.Version) (es.Aggregate, error) {
	t := cc.AggregateType()
	if aggregateID == "" {
		return es.CreateWithID(t, uuid.NewString())
	}

	snap := es.LoadSnapshotFor(ctx, s.snaps, cc, aggregateID, s.log, s.metrics)
	return es.Rehydrate(ctx, t, aggregateID, expectedVersion, snap, func(ctx context.Context, after es.Version, limit int) ([]es.Envelope, error) {
		rows, err := s.db.QueryContext(ctx,
			`SELECT `+envelopeColumns+` FROM events
			 WHERE tenant = ? AND agg_type = ? AND agg_id = ? AND agg_version > ?
			 ORDER BY agg_version LIMIT ?`,
			cc.Tenant(), t.Name(), aggregateID, int64(after), limit,
		)
		if err != nil {
			return nil, fmt.Errorf("load %s/%s: %w", t.Name(), aggregateID, err)
		}
		return scanEnvelopes(rows)
	})
}

func (s *Store) CommitEvents(ctx context.Context, cc *es.CommandContext, expectedVersion es.Version) ([]es.Envelope, error) {
	envs, err := es.PrepareCommit(cc, expectedVersion, s.clock())
	if err != nil || len(envs) == 0 {
		return nil, err
	}
	agg := cc.Aggregate()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin commit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var head sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(agg_version) FROM events WHERE tenant = ? AND agg_type = ? AND agg_id = ?`,
		cc.Tenant(), agg.TypeName(), agg.ID(),
	).Scan(&head); err != nil {
		return nil, fmt.Errorf("read head of %s/%s: %w", agg.TypeName(), agg.ID(), err)
	}
	current := es.NoVersion
	if head.Valid {
		current = es.Version(head.Int64)
	}
	if current != expectedVersion {
		return nil, es.Concurrency(expectedVersion, current)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO events (tenant, agg_type, agg_id, agg_version, id, actor, command, name, event_version, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return nil, fmt.Errorf("prepare append: %w", err)
	}
	defer stmt.Close()

	for i := range envs {
		env := &envs[i]
		var payload []byte
		if len(env.Payload) > 0 {
			payload = env.Payload
		}
		res, err := stmt.ExecContext(ctx,
			cc.Tenant(),
			env.AggregateType,
			env.AggregateID,
			int64(env.AggregateVersion),
			env.ID,
			env.ActorID,
			env.Command,
			env.Name,
			env.EventVersion,
			payload,
			env.Time.UnixNano(),
		)
		if err != nil {
			if isConstraintError(err) {
				return nil, es.ConcurrencyCause(err)
			}
			return nil, fmt.Errorf("append %s/%s: %w", env.AggregateType, env.AggregateID, err)
		}
		seq, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("append %s/%s: %w", env.AggregateType, env.AggregateID, err)
		}
		env.Seq = uint64(seq)
		env.GID = es.GID(env.Seq)
	}
	if err := tx.Commit(); err != nil {
		if isConstraintError(err) || isBusyError(err) {
			return nil, es.ConcurrencyCause(err)
		}
		return nil, fmt.Errorf("commit %s/%s: %w", agg.TypeName(), agg.ID(), err)
	}

	s.log.Debug(
		"append",
		slog.String("tenant", cc.Tenant()),
		slog.Group("agg", slog.String("type", agg.TypeName()), slog.String("id", agg.ID())),
		slog.Uint64("last_seq", envs[len(envs)-1].Seq),
		slog.Int("num_events", len(envs)),
	)

	es.SnapshotAfterCommit(ctx, s.snaps, cc, envs[len(envs)-1].AggregateVersion, s.log, s.metrics)
	return envs, nil
}

func (s *Store) rangeAfter(ctx context.Context, q querier, tenant, after string, limit int) ([]es.Envelope, error) {
	var seq uint64
	if after != "" {
		var err error
		if seq, err = strconv.ParseUint(after, 10, 64); err != nil {
			return nil, &es.Error{Kind: es.KindInvalidArgument, Arg: "offset", Err: err}
		}
	}
	rows, err := q.QueryContext(ctx,
		`SELECT `+envelopeColumns+` FROM events WHERE tenant = ? AND seq > ? ORDER BY seq LIMIT ?`,
		tenant, int64(seq), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("read stream %s: %w", tenant, err)
	}
	return scanEnvelopes(rows)
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT, sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}

func isBusyError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

var (
	_ es.EventStore    = (*Store)(nil)
	_ es.ThreadReader  = (*Store)(nil)
	_ es.SnapshotStore = (*Store)(nil)
)
