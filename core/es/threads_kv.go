package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codewandler/cqrs-go/ports/kv"
)

// RangeFunc loads up to limit envelopes of a tenant's stream whose GID is
// greater than after, ordered by GID.
type RangeFunc func(ctx context.Context, tenant, after string, limit int) ([]Envelope, error)

type (
	kvThreadsOpts struct {
		clock func() time.Time
		log   *slog.Logger
	}
	KVThreadsOption interface{ applyToKVThreads(*kvThreadsOpts) }
)

// KVThreads implements the lease protocol over a revisioned kv.Store. Each
// thread is one ThreadRecord; acquiring and releasing a lease are single
// conditional writes against the record's revision.
type KVThreads struct {
	kv    kv.Store
	clock func() time.Time
	log   *slog.Logger
}

func NewKVThreads(store kv.Store, opts ...KVThreadsOption) *KVThreads {
	options := kvThreadsOpts{clock: time.Now, log: slog.Default()}
	for _, opt := range opts {
		opt.applyToKVThreads(&options)
	}
	return &KVThreads{kv: store, clock: options.clock, log: options.log}
}

func ThreadKey(tenant, thread string) string { return "threads." + tenant + "." + thread }

// Thread returns the persisted record of a thread.
func (t *KVThreads) Thread(ctx context.Context, tenant, thread string) (ThreadRecord, error) {
	rec, _, err := kv.GetJSON[ThreadRecord](ctx, t.kv, ThreadKey(tenant, thread))
	if errors.Is(err, kv.ErrNotFound) {
		return ThreadRecord{}, nil
	}
	return rec, err
}

// Acquire loads the next batch for rc and records a lease for it. It
// returns nil when the thread is leased or there is nothing to read.
func (t *KVThreads) Acquire(ctx context.Context, rc *ReaderContext, limit int, load RangeFunc) (*Lease, error) {
	if err := rc.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, InvalidArgument("limit")
	}

	key := ThreadKey(rc.Tenant, rc.Thread)
	rec, rev, err := kv.GetJSON[ThreadRecord](ctx, t.kv, key)
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		return nil, fmt.Errorf("load thread %s: %w", key, err)
	}

	now := t.clock()
	if rec.Held(now) {
		return nil, nil
	}

	offset, cursors := MinCursor(rec.Cursors, rc.HandlerNames())
	envs, err := load(ctx, rc.Tenant, offset, limit+1)
	if err != nil {
		return nil, err
	}
	if len(envs) == 0 {
		return nil, nil
	}

	lease := &Lease{
		Token:     NewLeaseToken(),
		Cursors:   cursors,
		Envelopes: envs,
		Offset:    offset,
		ExpiresAt: now.Add(rc.LeaseTimeout()),
	}
	rec.Lease = &LeaseRecord{Token: lease.Token, Offset: offset, ExpiresAt: lease.ExpiresAt}
	if _, err := kv.SwapJSON(ctx, t.kv, key, rec, rev); err != nil {
		if kv.IsConflict(err) {
			t.log.Debug("lease contended", slog.String("thread", key))
			return nil, nil
		}
		return nil, fmt.Errorf("record lease %s: %w", key, err)
	}
	return lease, nil
}

// Release merges the lease's cursors into the thread and clears the lease.
func (t *KVThreads) Release(ctx context.Context, rc *ReaderContext, lease *Lease) (bool, error) {
	if lease == nil || len(lease.Envelopes) == 0 {
		return false, nil
	}
	if err := rc.Validate(); err != nil {
		return false, err
	}

	key := ThreadKey(rc.Tenant, rc.Thread)
	rec, rev, err := kv.GetJSON[ThreadRecord](ctx, t.kv, key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return false, LeaseLost()
		}
		return false, fmt.Errorf("load thread %s: %w", key, err)
	}
	if rec.Lease == nil || rec.Lease.Token != lease.Token || !rec.Held(t.clock()) {
		return false, LeaseLost()
	}

	rec.Cursors = MergeCursors(rec.Cursors, lease.Cursors)
	rec.Lease = nil
	if _, err := kv.SwapJSON(ctx, t.kv, key, rec, rev); err != nil {
		if kv.IsConflict(err) {
			return false, LeaseLost()
		}
		return false, fmt.Errorf("commit cursors %s: %w", key, err)
	}
	return true, nil
}

// LeaseLost is the error for a commit whose lease expired or was taken
// over.
func LeaseLost() *Error {
	return &Error{Kind: KindConcurrency, Arg: "lease", Msg: "lease lost or expired"}
}
