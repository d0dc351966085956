package es

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the stored form of an event. It is the unit of durable
// storage and of stream delivery.
type Envelope struct {
	// ID is the padded aggregate version, sortable within one aggregate.
	ID string `json:"id"`
	// Seq is the backend's monotonic stream sequence.
	Seq uint64 `json:"seq"`
	// GID is the tenant-wide ordering id. Cursors compare GIDs as strings,
	// so backends must produce fixed-width values.
	GID string `json:"gid"`

	AggregateID      string    `json:"agg_id"`
	AggregateType    string    `json:"agg_type"`
	AggregateVersion Version   `json:"agg_version"`
	ActorID          string    `json:"actor"`
	Command          string    `json:"command"`
	Time             time.Time `json:"time"`

	Name         string          `json:"name"`
	EventVersion int             `json:"version"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// Event returns the domain event carried by the envelope.
func (e Envelope) Event() Event {
	return Event{Name: e.Name, Version: e.EventVersion, Payload: e.Payload}
}

// Bind decodes the payload into v.
func (e Envelope) Bind(v any) error { return e.Event().Bind(v) }

func (e Envelope) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("envelope id is empty")
	}
	if e.Time.IsZero() {
		return fmt.Errorf("envelope time is zero")
	}
	if e.AggregateID == "" {
		return fmt.Errorf("envelope aggregate id is empty")
	}
	if e.AggregateType == "" {
		return fmt.Errorf("envelope aggregate type is empty")
	}
	if e.Name == "" {
		return fmt.Errorf("envelope event name is empty")
	}
	if e.AggregateVersion < 0 {
		return fmt.Errorf("envelope aggregate version %d is negative", e.AggregateVersion)
	}
	return nil
}
