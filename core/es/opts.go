package es

import (
	"log/slog"
	"time"

	"github.com/codewandler/cqrs-go/core/cache"
)

type (
	valueOption[T any] struct{ v T }

	LogOption       valueOption[*slog.Logger]
	TracerOption    valueOption[Tracer]
	MetricsOption   valueOption[ESMetrics]
	ClockOption     valueOption[func() time.Time]
	CacheOption     valueOption[cache.Cache]
	CacheSizeOption valueOption[int]
	IntervalOption  valueOption[time.Duration]
	MaxRoundsOption valueOption[int]
)

func WithLog(l *slog.Logger) LogOption           { return LogOption{v: l} }
func WithTracer(t Tracer) TracerOption           { return TracerOption{v: t} }
func WithMetrics(m ESMetrics) MetricsOption      { return MetricsOption{v: m} }
func WithClock(now func() time.Time) ClockOption { return ClockOption{v: now} }
func WithCache(c cache.Cache) CacheOption        { return CacheOption{v: c} }
func WithCacheSize(size int) CacheSizeOption     { return CacheSizeOption{v: size} }

// WithInterval sets how long a Runner sleeps between drains.
func WithInterval(d time.Duration) IntervalOption { return IntervalOption{v: d} }

// WithMaxRounds caps the polls a Runner makes per subscription and drain.
func WithMaxRounds(n int) MaxRoundsOption { return MaxRoundsOption{v: n} }

// === command handler ===

func (o LogOption) applyToCommandHandler(h *commandHandlerOpts)       { h.log = o.v }
func (o TracerOption) applyToCommandHandler(h *commandHandlerOpts)    { h.tracer = o.v }
func (o MetricsOption) applyToCommandHandler(h *commandHandlerOpts)   { h.metrics = o.v }
func (o CacheOption) applyToCommandHandler(h *commandHandlerOpts)     { h.cache = o.v }
func (o CacheSizeOption) applyToCommandHandler(h *commandHandlerOpts) { h.cacheSize = o.v }

// === stream reader ===

func (o LogOption) applyToStreamReader(r *streamReaderOpts)     { r.log = o.v }
func (o TracerOption) applyToStreamReader(r *streamReaderOpts)  { r.tracer = o.v }
func (o MetricsOption) applyToStreamReader(r *streamReaderOpts) { r.metrics = o.v }
func (o ClockOption) applyToStreamReader(r *streamReaderOpts)   { r.clock = o.v }

// === memory store ===

func (o LogOption) applyToMemoryStore(s *memoryStoreOpts)     { s.log = o.v }
func (o MetricsOption) applyToMemoryStore(s *memoryStoreOpts) { s.metrics = o.v }
func (o ClockOption) applyToMemoryStore(s *memoryStoreOpts)   { s.clock = o.v }

// === kv threads ===

func (o ClockOption) applyToKVThreads(t *kvThreadsOpts) { t.clock = o.v }
func (o LogOption) applyToKVThreads(t *kvThreadsOpts)   { t.log = o.v }

// === runner ===

func (o LogOption) applyToRunner(r *runnerOpts)       { r.log = o.v }
func (o IntervalOption) applyToRunner(r *runnerOpts)  { r.interval = o.v }
func (o MaxRoundsOption) applyToRunner(r *runnerOpts) { r.maxRounds = o.v }
