// Package metrics holds the backend-neutral metric primitives used by the
// engine. Concrete implementations live in adapters (e.g. Prometheus).
package metrics

import "time"

// Timer measures one operation. Call ObserveDuration when it completes:
//
//	defer m.StoreLoadDuration("account").ObserveDuration()
type Timer interface {
	ObserveDuration()
}

// TimerFunc adapts a function receiving the elapsed time to a Timer that
// starts now.
func TimerFunc(observe func(time.Duration)) Timer {
	return &funcTimer{start: time.Now(), observe: observe}
}

type funcTimer struct {
	start   time.Time
	observe func(time.Duration)
}

func (t *funcTimer) ObserveDuration() { t.observe(time.Since(t.start)) }

type nopTimer struct{}

func (nopTimer) ObserveDuration() {}

// NopTimer returns a Timer that records nothing.
func NopTimer() Timer { return nopTimer{} }
