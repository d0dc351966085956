package es

import (
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Lease is a time-bounded, tokenized claim on advancing one thread's
// cursors. A thread has at most one unexpired lease.
type Lease struct {
	Token string
	// Cursors holds the last handled GID per handler of the poll. The
	// stream reader advances it while dispatching.
	Cursors map[string]string
	// Envelopes is the loaded batch, at most limit+1 long.
	Envelopes []Envelope
	// Offset is the minimum cursor the batch was loaded after.
	Offset    string
	ExpiresAt time.Time
}

func (l *Lease) Expired(now time.Time) bool { return !now.Before(l.ExpiresAt) }

// ReaderContext describes one poll of a thread.
type ReaderContext struct {
	Tenant   string
	Thread   string
	Handlers []EventHandler
	Timeout  time.Duration
}

// DefaultLeaseTimeout applies when a ReaderContext carries no timeout.
const DefaultLeaseTimeout = 10 * time.Second

func (rc *ReaderContext) Validate() error {
	switch {
	case rc == nil:
		return MissingArgument("context")
	case rc.Tenant == "":
		return MissingArgument("tenant")
	case rc.Thread == "":
		return MissingArgument("thread")
	case len(rc.Handlers) == 0:
		return MissingArgument("handlers")
	}
	return nil
}

func (rc *ReaderContext) LeaseTimeout() time.Duration {
	if rc.Timeout > 0 {
		return rc.Timeout
	}
	return DefaultLeaseTimeout
}

func (rc *ReaderContext) HandlerNames() []string {
	names := make([]string, 0, len(rc.Handlers))
	for _, h := range rc.Handlers {
		names = append(names, h.Name())
	}
	return names
}

// ThreadRecord is the persisted state of a thread.
type ThreadRecord struct {
	Cursors map[string]string `json:"cursors"`
	Lease   *LeaseRecord      `json:"lease,omitempty"`
}

type LeaseRecord struct {
	Token     string    `json:"token"`
	Offset    string    `json:"offset"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Held reports whether the record carries a lease that has not expired.
func (r *ThreadRecord) Held(now time.Time) bool {
	return r.Lease != nil && r.Lease.Token != "" && now.Before(r.Lease.ExpiresAt)
}

func NewLeaseToken() string { return gonanoid.Must() }

// MinCursor returns the lowest cursor among names together with the cursor
// map for the lease. A handler without a cursor starts at "", which sorts
// before every GID.
func MinCursor(stored map[string]string, names []string) (offset string, cursors map[string]string) {
	cursors = make(map[string]string, len(names))
	for i, name := range names {
		c := stored[name]
		cursors[name] = c
		if i == 0 || c < offset {
			offset = c
		}
	}
	return offset, cursors
}

// MergeCursors folds updated into stored. Cursors never move backwards.
func MergeCursors(stored, updated map[string]string) map[string]string {
	out := make(map[string]string, len(stored)+len(updated))
	for k, v := range stored {
		out[k] = v
	}
	for k, v := range updated {
		if v > out[k] {
			out[k] = v
		}
	}
	return out
}
