package es

import (
	"context"
	"log/slog"
)

type TracePoint string

const (
	TraceCommand       TracePoint = "command"
	TraceCacheResolve  TracePoint = "resolveFromCache"
	TraceLoadAggregate TracePoint = "loadAggregate"
	TraceCommitEvents  TracePoint = "commitEvents"
	TracePollStream    TracePoint = "pollStream"
	TraceHandle        TracePoint = "handle"
	TraceHandleError   TracePoint = "handleError"
	TraceCommitCursors TracePoint = "commitCursors"
)

// TraceEvent carries what is known at a trace point. Unset fields are
// zero.
type TraceEvent struct {
	Point TracePoint

	Tenant        string
	Command       string
	AggregateType string
	AggregateID   string
	Version       Version
	Cached        bool
	Events        int

	Thread     string
	Handler    string
	LeaseToken string
	Envelope   *Envelope
	More       bool

	Err error
}

// Tracer observes the command and stream paths. It must not block; a
// panicking tracer is recovered and ignored.
type Tracer interface {
	Trace(ctx context.Context, ev TraceEvent)
}

type TracerFunc func(ctx context.Context, ev TraceEvent)

func (f TracerFunc) Trace(ctx context.Context, ev TraceEvent) { f(ctx, ev) }

type nopTracer struct{}

func (nopTracer) Trace(context.Context, TraceEvent) {}

func NopTracer() Tracer { return nopTracer{} }

// SlogTracer logs every trace point at debug level, errors at warn.
type SlogTracer struct {
	log *slog.Logger
}

func NewSlogTracer(log *slog.Logger) *SlogTracer {
	if log == nil {
		log = slog.Default()
	}
	return &SlogTracer{log: log.With(slog.String("component", "tracer"))}
}

func (s *SlogTracer) Trace(ctx context.Context, ev TraceEvent) {
	attrs := []slog.Attr{
		slog.String("point", string(ev.Point)),
		slog.String("tenant", ev.Tenant),
	}
	if ev.Command != "" {
		attrs = append(attrs,
			slog.String("command", ev.Command),
			slog.Group("agg",
				slog.String("type", ev.AggregateType),
				slog.String("id", ev.AggregateID),
				ev.Version.SlogAttr(),
			),
			slog.Bool("cached", ev.Cached),
			slog.Int("events", ev.Events),
		)
	}
	if ev.Thread != "" {
		attrs = append(attrs, slog.String("thread", ev.Thread))
	}
	if ev.Handler != "" {
		attrs = append(attrs, slog.String("handler", ev.Handler))
	}
	if ev.Point == TraceCommitCursors {
		attrs = append(attrs, slog.Bool("more", ev.More))
	}
	if ev.Envelope != nil {
		attrs = append(attrs, slog.Group("env",
			slog.String("gid", ev.Envelope.GID),
			slog.String("name", ev.Envelope.Name),
			slog.String("agg_id", ev.Envelope.AggregateID),
		))
	}
	level := slog.LevelDebug
	if ev.Err != nil {
		level = slog.LevelWarn
		attrs = append(attrs, slog.Any("error", ev.Err))
	}
	s.log.LogAttrs(ctx, level, "trace", attrs...)
}

// trace builds the event lazily and shields the caller from tracer panics.
func trace(ctx context.Context, t Tracer, build func() TraceEvent) {
	if _, ok := t.(nopTracer); ok {
		return
	}
	defer func() { _ = recover() }()
	t.Trace(ctx, build())
}

var (
	_ Tracer = nopTracer{}
	_ Tracer = (*SlogTracer)(nil)
	_ Tracer = TracerFunc(nil)
)
