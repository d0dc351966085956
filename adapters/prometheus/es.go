package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/cqrs-go/core/es"
	"github.com/codewandler/cqrs-go/core/metrics"
)

// esMetrics implements es.ESMetrics using Prometheus.
type esMetrics struct {
	// Command handler
	commandDuration      *prometheus.HistogramVec
	commandFailures      *prometheus.CounterVec
	concurrencyConflicts *prometheus.CounterVec
	cacheHits            *prometheus.CounterVec
	cacheMisses          *prometheus.CounterVec

	// Store
	storeLoadDuration   *prometheus.HistogramVec
	storeCommitDuration *prometheus.HistogramVec
	eventsCommitted     *prometheus.CounterVec

	// Snapshots
	snapshotLoadDuration *prometheus.HistogramVec
	snapshotSaveDuration *prometheus.HistogramVec
	snapshotFailures     *prometheus.CounterVec

	// Stream reader
	pollDuration     *prometheus.HistogramVec
	pollsSkipped     *prometheus.CounterVec
	envelopesPolled  *prometheus.CounterVec
	handlerDuration  *prometheus.HistogramVec
	handlerProcessed *prometheus.CounterVec
}

// NewESMetrics registers the engine's collectors on reg.
func NewESMetrics(reg prometheus.Registerer) es.ESMetrics {
	m := &esMetrics{
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cqrs_es_command_duration_seconds",
			Help:    "Command handling latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"command"}),

		commandFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cqrs_es_command_failures_total",
			Help: "Total number of failed commands by error kind",
		}, []string{"command", "kind"}),

		concurrencyConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cqrs_es_concurrency_conflicts_total",
			Help: "Total number of optimistic concurrency failures",
		}, []string{"aggregate_type"}),

		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cqrs_es_cache_hits_total",
			Help: "Total number of snapshot cache hits",
		}, []string{"aggregate_type"}),

		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cqrs_es_cache_misses_total",
			Help: "Total number of snapshot cache misses",
		}, []string{"aggregate_type"}),

		storeLoadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cqrs_es_store_load_duration_seconds",
			Help:    "Aggregate load latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),

		storeCommitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cqrs_es_store_commit_duration_seconds",
			Help:    "Event commit latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),

		eventsCommitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cqrs_es_events_committed_total",
			Help: "Total number of committed events",
		}, []string{"aggregate_type"}),

		snapshotLoadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cqrs_es_snapshot_load_duration_seconds",
			Help:    "Snapshot load latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),

		snapshotSaveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cqrs_es_snapshot_save_duration_seconds",
			Help:    "Snapshot save latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),

		snapshotFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cqrs_es_snapshot_failures_total",
			Help: "Total number of snapshots that could not be saved",
		}, []string{"aggregate_type"}),

		pollDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cqrs_es_poll_duration_seconds",
			Help:    "Stream poll latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"thread"}),

		pollsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cqrs_es_polls_skipped_total",
			Help: "Total number of polls that got no lease",
		}, []string{"thread"}),

		envelopesPolled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cqrs_es_envelopes_polled_total",
			Help: "Total number of envelopes loaded by polls",
		}, []string{"thread"}),

		handlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cqrs_es_handler_duration_seconds",
			Help:    "Event handler latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"handler"}),

		handlerProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cqrs_es_handler_events_total",
			Help: "Total number of envelopes handed to handlers",
		}, []string{"handler", "success"}),
	}

	reg.MustRegister(
		m.commandDuration,
		m.commandFailures,
		m.concurrencyConflicts,
		m.cacheHits,
		m.cacheMisses,
		m.storeLoadDuration,
		m.storeCommitDuration,
		m.eventsCommitted,
		m.snapshotLoadDuration,
		m.snapshotSaveDuration,
		m.snapshotFailures,
		m.pollDuration,
		m.pollsSkipped,
		m.envelopesPolled,
		m.handlerDuration,
		m.handlerProcessed,
	)

	return m
}

func (m *esMetrics) CommandDuration(command string) metrics.Timer {
	return newTimer(m.commandDuration.WithLabelValues(command))
}

func (m *esMetrics) CommandFailed(command string, kind es.Kind) {
	m.commandFailures.WithLabelValues(command, kind.String()).Inc()
}

func (m *esMetrics) ConcurrencyConflict(aggType string) {
	m.concurrencyConflicts.WithLabelValues(aggType).Inc()
}

func (m *esMetrics) CacheHit(aggType string) {
	m.cacheHits.WithLabelValues(aggType).Inc()
}

func (m *esMetrics) CacheMiss(aggType string) {
	m.cacheMisses.WithLabelValues(aggType).Inc()
}

func (m *esMetrics) StoreLoadDuration(aggType string) metrics.Timer {
	return newTimer(m.storeLoadDuration.WithLabelValues(aggType))
}

func (m *esMetrics) StoreCommitDuration(aggType string) metrics.Timer {
	return newTimer(m.storeCommitDuration.WithLabelValues(aggType))
}

func (m *esMetrics) EventsCommitted(aggType string, count int) {
	m.eventsCommitted.WithLabelValues(aggType).Add(float64(count))
}

func (m *esMetrics) SnapshotLoadDuration(aggType string) metrics.Timer {
	return newTimer(m.snapshotLoadDuration.WithLabelValues(aggType))
}

func (m *esMetrics) SnapshotSaveDuration(aggType string) metrics.Timer {
	return newTimer(m.snapshotSaveDuration.WithLabelValues(aggType))
}

func (m *esMetrics) SnapshotFailed(aggType string) {
	m.snapshotFailures.WithLabelValues(aggType).Inc()
}

func (m *esMetrics) PollDuration(thread string) metrics.Timer {
	return newTimer(m.pollDuration.WithLabelValues(thread))
}

func (m *esMetrics) PollSkipped(thread string) {
	m.pollsSkipped.WithLabelValues(thread).Inc()
}

func (m *esMetrics) EnvelopesPolled(thread string, count int) {
	m.envelopesPolled.WithLabelValues(thread).Add(float64(count))
}

func (m *esMetrics) HandlerDuration(handler string) metrics.Timer {
	return newTimer(m.handlerDuration.WithLabelValues(handler))
}

func (m *esMetrics) HandlerProcessed(handler string, success bool) {
	m.handlerProcessed.WithLabelValues(handler, boolToStr(success)).Inc()
}

var _ es.ESMetrics = (*esMetrics)(nil)
