package es

import (
	"context"
	"time"

	"github.com/codewandler/cqrs-go/core/pad"
)

// EventStore is the storage contract. The command handler and the stream
// reader depend on nothing else; every backend implements these four
// operations.
type EventStore interface {
	// LoadAggregate returns a fresh aggregate with a store-generated id when
	// aggregateID is empty. Otherwise it applies the latest snapshot (if the
	// type snapshots) and replays later events until expectedVersion is
	// reached or the stream ends; NoVersion replays to the end.
	LoadAggregate(ctx context.Context, cc *CommandContext, aggregateID string, expectedVersion Version) (Aggregate, error)

	// CommitEvents appends the context's events if the stored version equals
	// expectedVersion, with versions expectedVersion+1... and no gaps. On a
	// mismatch it persists nothing and fails with a Concurrency error.
	// Snapshot failures after a successful append are not returned.
	CommitEvents(ctx context.Context, cc *CommandContext, expectedVersion Version) ([]Envelope, error)

	// PollStream acquires a lease for rc.Thread and loads up to limit+1
	// envelopes after the lowest handler cursor. It returns nil when the
	// thread is leased by someone else or there is nothing to read.
	PollStream(ctx context.Context, rc *ReaderContext, limit int) (*Lease, error)

	// CommitCursors merges the lease's cursors and clears the lease. It
	// returns false for an empty batch and a Concurrency error when the
	// lease was lost or expired.
	CommitCursors(ctx context.Context, rc *ReaderContext, lease *Lease) (bool, error)
}

// DefaultPageSize is the replay page size used by Rehydrate.
const DefaultPageSize = 256

// PageFunc loads up to limit envelopes of one aggregate with a version
// greater than after, in ascending order.
type PageFunc func(ctx context.Context, after Version, limit int) ([]Envelope, error)

// Rehydrate rebuilds an aggregate from an optional snapshot plus paged
// replay. With a pinned expectedVersion no page reaches past it. Backends
// call it from LoadAggregate.
func Rehydrate(
	ctx context.Context,
	t *AggregateType,
	aggregateID string,
	expectedVersion Version,
	snap *Snapshot,
	page PageFunc,
) (Aggregate, error) {
	// a snapshot past the requested version cannot be rolled back
	if snap == nil || snap.AggregateID != aggregateID ||
		(expectedVersion != NoVersion && snap.Version > expectedVersion) {
		snap = &Snapshot{AggregateID: aggregateID, Version: NoVersion}
	}
	agg, err := Create(t, snap)
	if err != nil {
		return nil, err
	}
	for expectedVersion == NoVersion || agg.Version() < expectedVersion {
		limit := DefaultPageSize
		if expectedVersion != NoVersion {
			limit = min(limit, int(expectedVersion-agg.Version()))
		}
		envs, err := page(ctx, agg.Version(), limit)
		if err != nil {
			return nil, err
		}
		if err := Replay(agg, envs...); err != nil {
			return nil, err
		}
		if len(envs) < limit {
			break
		}
	}
	return agg, nil
}

// PrepareCommit checks the loaded aggregate against expectedVersion and
// stamps one envelope per produced event. Backends still have to enforce the
// version atomically; this check only short-circuits stale contexts. Seq
// and GID are left for the backend.
func PrepareCommit(cc *CommandContext, expectedVersion Version, now time.Time) ([]Envelope, error) {
	agg := cc.Aggregate()
	if agg == nil {
		return nil, Precondition("no aggregate to commit for %s", cc.Command())
	}
	if agg.ID() == "" {
		return nil, MissingArgument("aggregateId")
	}
	if expectedVersion < NoVersion {
		return nil, InvalidArgument("expectedVersion")
	}
	if agg.Version() != expectedVersion {
		return nil, Concurrency(expectedVersion, agg.Version())
	}

	events := cc.events
	out := make([]Envelope, 0, len(events))
	for i, e := range events {
		v := expectedVersion + Version(i+1)
		if err := pad.Default.Check(int64(v)); err != nil {
			return nil, &Error{Kind: KindInvalidArgument, Arg: "aggregateVersion", Err: err}
		}
		out = append(out, Envelope{
			ID:               pad.Default.Pad(int64(v)),
			AggregateID:      agg.ID(),
			AggregateType:    agg.TypeName(),
			AggregateVersion: v,
			ActorID:          cc.actor.ID,
			Command:          cc.command,
			Time:             now,
			Name:             e.Name,
			EventVersion:     e.Version,
			Payload:          e.Payload,
		})
	}
	return out, nil
}

// ThreadReader is implemented by stores that can expose a thread's
// persisted state.
type ThreadReader interface {
	Thread(ctx context.Context, tenant, thread string) (ThreadRecord, error)
}

// GID formats a stream sequence as a global ordering id.
func GID(seq uint64) string { return pad.Wide.Pad(int64(seq)) }
