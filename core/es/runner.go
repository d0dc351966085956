package es

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codewandler/cqrs-go/core/ds"
	"github.com/codewandler/cqrs-go/core/perkey"
)

const (
	DefaultRunnerInterval = 500 * time.Millisecond
	DefaultMaxRounds      = 1000
)

type (
	runnerOpts struct {
		log       *slog.Logger
		interval  time.Duration
		maxRounds int
	}
	RunnerOption interface{ applyToRunner(*runnerOpts) }
)

// Subscription binds handlers to one consumer thread of a tenant.
type Subscription struct {
	Tenant   string
	Thread   string
	Handlers []EventHandler
	Options  []PollOption
}

func (s Subscription) key() string { return s.Tenant + "/" + s.Thread }

// Runner keeps a set of subscriptions caught up by polling them. Polls of
// the same thread never overlap inside one Runner; different threads are
// polled concurrently.
type Runner struct {
	reader    *StreamReader
	subs      []Subscription
	tenants   *ds.Set[string]
	sched     *perkey.Scheduler[string]
	log       *slog.Logger
	interval  time.Duration
	maxRounds int

	wake    chan struct{}
	mu      sync.Mutex
	pending map[string]struct{}
}

func NewRunner(reader *StreamReader, subs []Subscription, opts ...RunnerOption) (*Runner, error) {
	if reader == nil {
		return nil, MissingArgument("reader")
	}
	if len(subs) == 0 {
		return nil, MissingArgument("subscriptions")
	}
	keys := ds.NewSet[string]()
	tenants := ds.NewSet[string]()
	for _, s := range subs {
		switch {
		case s.Tenant == "":
			return nil, MissingArgument("subscription.tenant")
		case s.Thread == "":
			return nil, MissingArgument("subscription.thread")
		case len(s.Handlers) == 0:
			return nil, MissingArgument("subscription.handlers")
		}
		if !keys.Add(s.key()) {
			return nil, &Error{Kind: KindInvalidArgument, Arg: "subscriptions", Msg: "duplicate thread " + s.key()}
		}
		tenants.Add(s.Tenant)
	}

	options := runnerOpts{
		log:       slog.Default(),
		interval:  DefaultRunnerInterval,
		maxRounds: DefaultMaxRounds,
	}
	for _, opt := range opts {
		opt.applyToRunner(&options)
	}
	if options.interval <= 0 {
		options.interval = DefaultRunnerInterval
	}
	if options.maxRounds <= 0 {
		options.maxRounds = DefaultMaxRounds
	}

	return &Runner{
		reader:    reader,
		subs:      subs,
		tenants:   tenants,
		sched:     perkey.New[string](),
		log:       options.log.With(slog.String("component", "runner")),
		interval:  options.interval,
		maxRounds: options.maxRounds,
		wake:      make(chan struct{}, 1),
		pending:   make(map[string]struct{}),
	}, nil
}

// Drain polls every subscription until it reports nothing more pending. A
// lost lease ends the subscription's drain without an error; the thread is
// picked up again on the next drain.
func (r *Runner) Drain(ctx context.Context) error { return r.drainAll(ctx, r.subs) }

// Notify asks a running Run to drain the tenant's subscriptions now instead
// of at the next tick. It never blocks; notifications for tenants without
// subscriptions are dropped.
func (r *Runner) Notify(tenant string) {
	if !r.tenants.Contains(tenant) {
		return
	}
	r.mu.Lock()
	r.pending[tenant] = struct{}{}
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// notified returns the subscriptions of the tenants notified since the last
// call.
func (r *Runner) notified() []Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	var subs []Subscription
	for _, sub := range r.subs {
		if _, ok := r.pending[sub.Tenant]; ok {
			subs = append(subs, sub)
		}
	}
	clear(r.pending)
	return subs
}

func (r *Runner) drainAll(ctx context.Context, subs []Subscription) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, sub := range subs {
		g.Go(func() error {
			return r.sched.DoContext(ctx, sub.key(), func() error { return r.drain(ctx, sub) })
		})
	}
	return g.Wait()
}

func (r *Runner) drain(ctx context.Context, sub Subscription) error {
	for round := 0; round < r.maxRounds; round++ {
		more, err := r.reader.Poll(ctx, sub.Tenant, sub.Thread, sub.Handlers, sub.Options...)
		if err != nil {
			if IsConcurrency(err) {
				r.log.Debug("lease lost", slog.String("thread", sub.key()), slog.Any("error", err))
				return nil
			}
			return err
		}
		if !more {
			return nil
		}
	}
	r.log.Warn("drain stopped after max rounds", slog.String("thread", sub.key()), slog.Int("rounds", r.maxRounds))
	return nil
}

// Run drains every interval, and right away for tenants passed to Notify,
// until ctx is done. Poll errors are logged and retried on the next drain.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	subs := r.subs
	for {
		if err := r.drainAll(ctx, subs); err != nil && ctx.Err() == nil {
			r.log.Error("drain failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			subs = r.subs
		case <-r.wake:
			subs = r.notified()
		}
	}
}

// Close waits for in-flight polls and stops the runner.
func (r *Runner) Close() { r.sched.Close() }
