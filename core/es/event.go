package es

import (
	"encoding/json"
	"fmt"
)

// Event is an immutable domain fact produced by a command.
type Event struct {
	Name string `json:"name"`
	// Version is the schema version of the payload, not the aggregate version.
	Version int             `json:"version"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEvent encodes payload and returns the event.
func NewEvent(name string, payload any) (Event, error) {
	if name == "" {
		return Event{}, MissingArgument("event.name")
	}
	data, err := encodePayload(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Name: name, Payload: data}, nil
}

// Bind decodes the payload into v.
func (e Event) Bind(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode event %s: %w", e.Name, err)
	}
	return nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, &Error{Kind: KindInvalidArgument, Arg: "payload", Err: err}
	}
	return data, nil
}
