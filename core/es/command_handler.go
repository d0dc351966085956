package es

import (
	"context"
	"errors"
	"log/slog"

	"github.com/codewandler/cqrs-go/core/cache"
)

const DefaultCacheSize = 10

type (
	commandHandlerOpts struct {
		log       *slog.Logger
		tracer    Tracer
		metrics   ESMetrics
		cache     cache.Cache
		cacheSize int
		onCommit  []CommitHook
	}
	CommandHandlerOption interface {
		applyToCommandHandler(*commandHandlerOpts)
	}

	commandOpts struct {
		aggregateID     string
		expectedVersion Version
	}
	CommandOption interface{ applyToCommand(*commandOpts) }

	aggregateIDOption     valueOption[string]
	expectedVersionOption valueOption[Version]

	// CommitHook runs on the committing goroutine after events were
	// appended. envs must not be modified.
	CommitHook       func(tenant string, envs []Envelope)
	commitHookOption valueOption[CommitHook]
)

func (o commitHookOption) applyToCommandHandler(h *commandHandlerOpts) {
	if o.v != nil {
		h.onCommit = append(h.onCommit, o.v)
	}
}

// WithCommitHook adds fn to the hooks called after every successful commit.
// A panicking hook is recovered and logged.
func WithCommitHook(fn CommitHook) CommandHandlerOption { return commitHookOption{v: fn} }

// NotifyRunner wakes r for the committing tenant, so its handlers see new
// events without waiting for the next tick.
func NotifyRunner(r *Runner) CommandHandlerOption {
	return WithCommitHook(func(tenant string, _ []Envelope) { r.Notify(tenant) })
}

func (o aggregateIDOption) applyToCommand(c *commandOpts)     { c.aggregateID = o.v }
func (o expectedVersionOption) applyToCommand(c *commandOpts) { c.expectedVersion = o.v }

// WithAggregateID targets an existing (or caller-named) aggregate. Without
// it the store creates a new aggregate with a generated id.
func WithAggregateID(id string) CommandOption { return aggregateIDOption{v: id} }

// WithExpectedVersion pins the version the command must be applied to. It
// requires WithAggregateID.
func WithExpectedVersion(v Version) CommandOption { return expectedVersionOption{v: v} }

// CommandHandler turns commands into committed events.
type CommandHandler struct {
	store    EventStore
	commands map[string]*AggregateType
	snaps    cache.TypedCache[*Snapshot]
	closer   func()
	log      *slog.Logger
	tracer   Tracer
	metrics  ESMetrics
	onCommit []CommitHook
}

// NewCommandHandler indexes every command of every aggregate type. A
// command name claimed by two types is rejected.
func NewCommandHandler(store EventStore, types []*AggregateType, opts ...CommandHandlerOption) (*CommandHandler, error) {
	if store == nil {
		return nil, MissingArgument("store")
	}
	if len(types) == 0 {
		return nil, MissingArgument("aggregates")
	}

	options := commandHandlerOpts{cacheSize: DefaultCacheSize}
	for _, opt := range opts {
		opt.applyToCommandHandler(&options)
	}
	if options.log == nil {
		options.log = slog.Default()
	}
	if options.tracer == nil {
		options.tracer = NopTracer()
	}
	if options.metrics == nil {
		options.metrics = NopESMetrics()
	}
	closer := func() {}
	if options.cache == nil {
		if options.cacheSize > 0 {
			lru := cache.NewLRU(cache.LRUOpts{Size: options.cacheSize})
			options.cache, closer = lru, lru.Close
		} else {
			options.cache = cache.NewNop()
		}
	}

	commands := make(map[string]*AggregateType)
	for _, t := range types {
		agg, err := Create(t, nil)
		if err != nil {
			return nil, err
		}
		cmds := agg.Commands()
		if cmds == nil {
			return nil, NotImplemented("commands")
		}
		if agg.Events() == nil {
			return nil, NotImplemented("events")
		}
		for name := range cmds {
			if prev, ok := commands[name]; ok && prev != t {
				return nil, &Error{
					Kind: KindInvalidArgument,
					Arg:  "commands." + name,
					Msg:  "registered by " + prev.Name() + " and " + t.Name(),
				}
			}
			commands[name] = t
		}
	}

	return &CommandHandler{
		store:    store,
		commands: commands,
		snaps:    cache.NewTyped[*Snapshot](options.cache),
		closer:   closer,
		log:      options.log.With(slog.String("component", "command_handler")),
		tracer:   options.tracer,
		metrics:  options.metrics,
		onCommit: options.onCommit,
	}, nil
}

// Close releases the cache the handler created. Caches passed in with
// WithCache are left to the caller.
func (h *CommandHandler) Close() { h.closer() }

// AggregateTypeOf returns the type that handles command.
func (h *CommandHandler) AggregateTypeOf(command string) (*AggregateType, bool) {
	t, ok := h.commands[command]
	return t, ok
}

// Command validates, executes and commits one command. Nothing is retried:
// on a Concurrency error the caller decides whether to reload and retry.
func (h *CommandHandler) Command(
	ctx context.Context,
	actor Actor,
	command string,
	payload any,
	opts ...CommandOption,
) (cc *CommandContext, err error) {
	options := commandOpts{expectedVersion: NoVersion}
	for _, opt := range opts {
		opt.applyToCommand(&options)
	}

	defer h.metrics.CommandDuration(command).ObserveDuration()
	defer func() {
		if err != nil {
			h.metrics.CommandFailed(command, KindOf(err))
		}
	}()

	// validate
	if err = actor.Validate(); err != nil {
		return nil, err
	}
	if command == "" {
		return nil, MissingArgument("command")
	}
	if options.expectedVersion < NoVersion {
		return nil, InvalidArgument("expectedVersion")
	}
	if options.expectedVersion >= 0 && options.aggregateID == "" {
		return nil, MissingArgument("aggregateId")
	}

	t, ok := h.commands[command]
	if !ok {
		return nil, InvalidArgument("command")
	}
	data, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}

	cc = NewCommandContext(h.store, actor, t, command, options.aggregateID, options.expectedVersion, data)
	trace(ctx, h.tracer, func() TraceEvent { return h.traceEvent(TraceCommand, cc) })

	log := h.log.With(
		slog.String("tenant", actor.Tenant),
		slog.String("command", command),
		slog.Group("agg",
			slog.String("type", t.Name()),
			slog.String("id", options.aggregateID),
			options.expectedVersion.SlogAttrWithKey("expected_version"),
		),
	)

	if err = h.resolve(ctx, cc); err != nil {
		return nil, err
	}
	agg := cc.Aggregate()

	// execute
	fn := agg.Commands()[command]
	if fn == nil {
		return nil, NotImplemented("commands." + command)
	}
	if err = fn(ctx, cc); err != nil {
		log.Debug("command rejected", slog.Any("error", err))
		return nil, err
	}
	if len(cc.events) == 0 {
		return cc, nil
	}

	// commit
	expected := options.expectedVersion
	if expected == NoVersion {
		expected = agg.Version()
	}
	envs, err := h.commit(ctx, cc, expected)
	if err != nil {
		if IsConcurrency(err) {
			h.metrics.ConcurrencyConflict(t.Name())
			h.snaps.Delete(h.cacheKey(actor.Tenant, t.Name(), agg.ID()))
		}
		log.Debug("commit failed", slog.Any("error", err))
		return nil, err
	}
	cc.committed = envs
	if n := len(envs); n > 0 {
		agg.base().setVersion(envs[n-1].AggregateVersion)
	}
	h.metrics.EventsCommitted(t.Name(), len(envs))
	trace(ctx, h.tracer, func() TraceEvent { return h.traceEvent(TraceCommitEvents, cc) })
	h.committed(log, actor.Tenant, envs)

	if snap, cloneErr := Clone(agg); cloneErr == nil {
		h.snaps.Put(h.cacheKey(actor.Tenant, t.Name(), agg.ID()), snap)
	} else {
		log.Warn("clone for cache failed", slog.Any("error", cloneErr))
	}

	log.Debug(
		"committed",
		slog.String("agg_id", agg.ID()),
		agg.Version().SlogAttr(),
		slog.Int("events", len(envs)),
	)
	return cc, nil
}

// resolve attaches the aggregate to cc: from the cache when the caller
// pinned a version and the cached clone is at exactly that version, from
// the store otherwise.
func (h *CommandHandler) resolve(ctx context.Context, cc *CommandContext) error {
	var (
		t        = cc.AggregateType()
		id       = cc.AggregateID()
		expected = cc.ExpectedVersion()
	)

	if id != "" && expected >= 0 {
		if snap, ok := h.snaps.Get(h.cacheKey(cc.Tenant(), t.Name(), id)); ok && snap.Version == expected {
			agg, err := Create(t, snap)
			if err == nil {
				cc.SetAggregate(agg)
				cc.cached = true
				h.metrics.CacheHit(t.Name())
				trace(ctx, h.tracer, func() TraceEvent { return h.traceEvent(TraceCacheResolve, cc) })
				return nil
			}
			h.log.Warn("cached snapshot unusable", slog.String("agg_id", id), slog.Any("error", err))
		}
		h.metrics.CacheMiss(t.Name())
	}

	timer := h.metrics.StoreLoadDuration(t.Name())
	agg, err := h.store.LoadAggregate(ctx, cc, id, expected)
	timer.ObserveDuration()
	if err != nil {
		return err
	}
	if agg == nil {
		return errors.New("store returned no aggregate")
	}
	cc.SetAggregate(agg)
	cc.cached = false
	trace(ctx, h.tracer, func() TraceEvent { return h.traceEvent(TraceLoadAggregate, cc) })
	return nil
}

func (h *CommandHandler) committed(log *slog.Logger, tenant string, envs []Envelope) {
	for _, hook := range h.onCommit {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Warn("commit hook panicked", slog.Any("panic", r))
				}
			}()
			hook(tenant, envs)
		}()
	}
}

func (h *CommandHandler) commit(ctx context.Context, cc *CommandContext, expected Version) ([]Envelope, error) {
	defer h.metrics.StoreCommitDuration(cc.AggregateType().Name()).ObserveDuration()
	return h.store.CommitEvents(ctx, cc, expected)
}

func (h *CommandHandler) cacheKey(tenant, typ, id string) string {
	return tenant + "/" + typ + "/" + id
}

func (h *CommandHandler) traceEvent(p TracePoint, cc *CommandContext) TraceEvent {
	ev := TraceEvent{
		Point:         p,
		Tenant:        cc.Tenant(),
		Command:       cc.Command(),
		AggregateType: cc.AggregateType().Name(),
		AggregateID:   cc.AggregateID(),
		Version:       cc.ExpectedVersion(),
		Cached:        cc.Cached(),
		Events:        len(cc.events),
	}
	if agg := cc.Aggregate(); agg != nil {
		ev.AggregateID = agg.ID()
		ev.Version = agg.Version()
	}
	return ev
}
