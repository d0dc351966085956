package es

import "github.com/codewandler/cqrs-go/core/metrics"

// ESMetrics is the instrumentation surface of the engine. Implementations
// must be safe for concurrent use.
type ESMetrics interface {
	// Command handler
	CommandDuration(command string) metrics.Timer
	CommandFailed(command string, kind Kind)
	ConcurrencyConflict(aggType string)
	CacheHit(aggType string)
	CacheMiss(aggType string)

	// Store
	StoreLoadDuration(aggType string) metrics.Timer
	StoreCommitDuration(aggType string) metrics.Timer
	EventsCommitted(aggType string, count int)

	// Snapshots
	SnapshotLoadDuration(aggType string) metrics.Timer
	SnapshotSaveDuration(aggType string) metrics.Timer
	SnapshotFailed(aggType string)

	// Stream reader
	PollDuration(thread string) metrics.Timer
	PollSkipped(thread string)
	EnvelopesPolled(thread string, count int)
	HandlerDuration(handler string) metrics.Timer
	HandlerProcessed(handler string, success bool)
}

type nopESMetrics struct{}

func (nopESMetrics) CommandDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) CommandFailed(string, Kind)           {}
func (nopESMetrics) ConcurrencyConflict(string)           {}
func (nopESMetrics) CacheHit(string)                      {}
func (nopESMetrics) CacheMiss(string)                     {}

func (nopESMetrics) StoreLoadDuration(string) metrics.Timer   { return metrics.NopTimer() }
func (nopESMetrics) StoreCommitDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) EventsCommitted(string, int)              {}

func (nopESMetrics) SnapshotLoadDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) SnapshotSaveDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) SnapshotFailed(string)                     {}

func (nopESMetrics) PollDuration(string) metrics.Timer    { return metrics.NopTimer() }
func (nopESMetrics) PollSkipped(string)                   {}
func (nopESMetrics) EnvelopesPolled(string, int)          {}
func (nopESMetrics) HandlerDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) HandlerProcessed(string, bool)        {}

// NopESMetrics returns a no-op ESMetrics implementation.
func NopESMetrics() ESMetrics { return nopESMetrics{} }
