package es

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codewandler/cqrs-go/core/ds"
)

const DefaultPollLimit = 10

type (
	streamReaderOpts struct {
		log     *slog.Logger
		tracer  Tracer
		metrics ESMetrics
		clock   func() time.Time
	}
	StreamReaderOption interface{ applyToStreamReader(*streamReaderOpts) }

	pollOpts struct {
		limit   int
		timeout time.Duration
	}
	PollOption interface{ applyToPoll(*pollOpts) }

	limitOption        valueOption[int]
	leaseTimeoutOption valueOption[time.Duration]
)

func (o limitOption) applyToPoll(p *pollOpts)        { p.limit = o.v }
func (o leaseTimeoutOption) applyToPoll(p *pollOpts) { p.timeout = o.v }

// WithLimit bounds the number of envelopes dispatched per poll (default 10).
func WithLimit(n int) PollOption { return limitOption{v: n} }

// WithLeaseTimeout sets how long the poll's lease stays valid (default 10s).
func WithLeaseTimeout(d time.Duration) PollOption { return leaseTimeoutOption{v: d} }

// StreamReader delivers a tenant's stream to named consumer threads.
type StreamReader struct {
	store   EventStore
	log     *slog.Logger
	tracer  Tracer
	metrics ESMetrics
	clock   func() time.Time
}

func NewStreamReader(store EventStore, opts ...StreamReaderOption) (*StreamReader, error) {
	if store == nil {
		return nil, MissingArgument("store")
	}
	options := streamReaderOpts{log: slog.Default(), tracer: NopTracer(), metrics: NopESMetrics(), clock: time.Now}
	for _, opt := range opts {
		opt.applyToStreamReader(&options)
	}
	if options.clock == nil {
		options.clock = time.Now
	}
	return &StreamReader{
		store:   store,
		log:     options.log.With(slog.String("component", "stream_reader")),
		tracer:  options.tracer,
		clock:   options.clock,
		metrics: options.metrics,
	}, nil
}

// Poll reads one batch for thread under a lease, hands every envelope to
// each handler whose cursor is behind it and commits the advanced cursors.
// A failing handler keeps its cursor, so it sees the envelope again on the
// next poll; other handlers are not affected. Poll reports whether more
// envelopes were pending beyond the batch.
func (r *StreamReader) Poll(
	ctx context.Context,
	tenant string,
	thread string,
	handlers []EventHandler,
	opts ...PollOption,
) (bool, error) {
	options := pollOpts{limit: DefaultPollLimit, timeout: DefaultLeaseTimeout}
	for _, opt := range opts {
		opt.applyToPoll(&options)
	}
	if options.limit <= 0 {
		options.limit = DefaultPollLimit
	}
	if options.timeout <= 0 {
		options.timeout = DefaultLeaseTimeout
	}

	switch {
	case tenant == "":
		return false, MissingArgument("tenant")
	case thread == "":
		return false, MissingArgument("thread")
	case handlers == nil:
		return false, MissingArgument("handlers")
	}

	// handlers without a name are skipped; a repeated name would share
	// one cursor, so only its first handler is kept
	names := ds.NewSet[string]()
	valid := make([]EventHandler, 0, len(handlers))
	for _, h := range handlers {
		if h == nil || h.Name() == "" {
			continue
		}
		if !names.Add(h.Name()) {
			r.log.Warn("duplicate handler name", slog.String("thread", thread), slog.String("handler", h.Name()))
			continue
		}
		valid = append(valid, h)
	}
	if len(valid) == 0 {
		return false, nil
	}

	defer r.metrics.PollDuration(thread).ObserveDuration()

	rc := &ReaderContext{Tenant: tenant, Thread: thread, Handlers: valid, Timeout: options.timeout}
	lease, err := r.store.PollStream(ctx, rc, options.limit)
	if err != nil {
		return false, fmt.Errorf("poll %s/%s: %w", tenant, thread, err)
	}
	trace(ctx, r.tracer, func() TraceEvent {
		ev := TraceEvent{Point: TracePollStream, Tenant: tenant, Thread: thread}
		if lease != nil {
			ev.LeaseToken = lease.Token
		}
		return ev
	})
	if lease == nil {
		r.metrics.PollSkipped(thread)
		return false, nil
	}
	if len(lease.Envelopes) == 0 {
		return false, nil
	}
	r.metrics.EnvelopesPolled(thread, len(lease.Envelopes))

	log := r.log.With(
		slog.String("tenant", tenant),
		slog.String("thread", thread),
		slog.String("offset", lease.Offset),
	)

	// a handler that failed stops for the rest of the batch so its cursor
	// stays in front of the failed envelope
	failed := map[string]bool{}
	n := min(len(lease.Envelopes), options.limit)
	for i := 0; i < n; i++ {
		// the cursors of an expired lease cannot be committed
		if lease.Expired(r.clock()) {
			log.Warn("lease expired during dispatch", slog.Int("dispatched", i), slog.Int("batch", n))
			break
		}
		env := lease.Envelopes[i]
		for _, h := range valid {
			name := h.Name()
			if failed[name] || lease.Cursors[name] >= env.GID {
				continue
			}
			if err := r.handle(ctx, tenant, thread, h, env); err != nil {
				failed[name] = true
				log.Warn(
					"handler failed",
					slog.String("handler", name),
					slog.String("gid", env.GID),
					slog.String("event", env.Name),
					slog.Any("error", err),
				)
				continue
			}
			lease.Cursors[name] = env.GID
		}
	}

	more := len(lease.Envelopes) > options.limit
	ok, err := r.store.CommitCursors(ctx, rc, lease)
	trace(ctx, r.tracer, func() TraceEvent {
		return TraceEvent{Point: TraceCommitCursors, Tenant: tenant, Thread: thread, LeaseToken: lease.Token, More: more, Err: err}
	})
	if err != nil {
		return false, fmt.Errorf("commit cursors %s/%s: %w", tenant, thread, err)
	}
	log.Debug("polled", slog.Int("envelopes", n), slog.Bool("committed", ok), slog.Bool("more", more))
	return more, nil
}

// handle runs h for env. Envelopes a handler does not subscribe to count as
// handled. A panic is reported as the handler's error.
func (r *StreamReader) handle(ctx context.Context, tenant, thread string, h EventHandler, env Envelope) (err error) {
	fn := lookup(h, env)
	if fn == nil {
		return nil
	}

	defer r.metrics.HandlerDuration(h.Name()).ObserveDuration()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler %s panicked: %v", h.Name(), p)
		}
		r.metrics.HandlerProcessed(h.Name(), err == nil)
		if err != nil {
			trace(ctx, r.tracer, func() TraceEvent {
				return TraceEvent{Point: TraceHandleError, Tenant: tenant, Thread: thread, Handler: h.Name(), Envelope: &env, Err: err}
			})
		}
	}()

	trace(ctx, r.tracer, func() TraceEvent {
		return TraceEvent{Point: TraceHandle, Tenant: tenant, Thread: thread, Handler: h.Name(), Envelope: &env}
	})
	return fn(ctx, tenant, env)
}
