package es

import (
	"context"
	"encoding/json"
)

// CommandContext is the scope of one Command call. Everything but the
// aggregate and the produced events is fixed at construction; the context
// is owned by a single invocation and must not be shared.
type CommandContext struct {
	actor           Actor
	command         string
	aggType         *AggregateType
	aggregateID     string
	expectedVersion Version
	payload         json.RawMessage

	aggregate Aggregate
	reducers  Events
	events    []Event
	committed []Envelope
	cached    bool

	store EventStore
}

// NewCommandContext builds a context outside of a CommandHandler. Stores
// and tests use it to drive the SPI directly.
func NewCommandContext(
	store EventStore,
	actor Actor,
	t *AggregateType,
	command string,
	aggregateID string,
	expectedVersion Version,
	payload json.RawMessage,
) *CommandContext {
	return &CommandContext{
		actor:           actor,
		command:         command,
		aggType:         t,
		aggregateID:     aggregateID,
		expectedVersion: expectedVersion,
		payload:         payload,
		store:           store,
	}
}

func (cc *CommandContext) Actor() Actor                  { return cc.actor }
func (cc *CommandContext) Tenant() string                { return cc.actor.Tenant }
func (cc *CommandContext) Command() string               { return cc.command }
func (cc *CommandContext) AggregateType() *AggregateType { return cc.aggType }
func (cc *CommandContext) AggregateID() string           { return cc.aggregateID }
func (cc *CommandContext) ExpectedVersion() Version      { return cc.expectedVersion }
func (cc *CommandContext) Payload() json.RawMessage      { return cc.payload }
func (cc *CommandContext) Aggregate() Aggregate          { return cc.aggregate }

// Cached reports whether the aggregate was rehydrated from the handler's
// snapshot cache instead of the store.
func (cc *CommandContext) Cached() bool { return cc.cached }

// Events returns the events produced so far.
func (cc *CommandContext) Events() []Event {
	out := make([]Event, len(cc.events))
	copy(out, cc.events)
	return out
}

// Committed returns the stamped envelopes once the events were committed.
func (cc *CommandContext) Committed() []Envelope {
	out := make([]Envelope, len(cc.committed))
	copy(out, cc.committed)
	return out
}

// Bind decodes the command payload into v.
func (cc *CommandContext) Bind(v any) error {
	if len(cc.payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(cc.payload, v); err != nil {
		return &Error{Kind: KindInvalidArgument, Arg: "payload", Err: err}
	}
	return nil
}

// SetAggregate attaches the aggregate the command operates on and resets
// the cached reducer table.
func (cc *CommandContext) SetAggregate(agg Aggregate) {
	cc.aggregate = agg
	cc.reducers = nil
}

// Push creates an event and applies it to the aggregate right away, so
// later logic in the same command observes the new state. A nil payload
// re-uses the command payload. The aggregate version is not changed.
func (cc *CommandContext) Push(name string, payload any) error {
	if payload == nil {
		return cc.PushEvent(Event{Name: name, Payload: cc.payload})
	}
	e, err := NewEvent(name, payload)
	if err != nil {
		return err
	}
	return cc.PushEvent(e)
}

// PushEvent is Push for a fully built event, e.g. one with a schema version.
func (cc *CommandContext) PushEvent(e Event) error {
	if e.Name == "" {
		return MissingArgument("event.name")
	}
	if cc.aggregate == nil {
		return Precondition("no aggregate loaded for %s", cc.command)
	}
	if cc.reducers == nil {
		if cc.reducers = cc.aggregate.Events(); cc.reducers == nil {
			return NotImplemented("events")
		}
	}
	reduce, ok := cc.reducers[e.Name]
	if !ok {
		return NotImplemented("events." + e.Name)
	}
	if err := reduce(e); err != nil {
		return err
	}
	cc.events = append(cc.events, e)
	return nil
}

// Load reads another aggregate through the same store. The result is
// read-only: it is neither cached nor committed.
func (cc *CommandContext) Load(ctx context.Context, t *AggregateType, aggregateID string, expectedVersion Version) (Aggregate, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}
	if aggregateID == "" {
		return nil, MissingArgument("aggregateId")
	}
	if cc.store == nil {
		return nil, Precondition("no store attached to command context")
	}
	sub := NewCommandContext(cc.store, cc.actor, t, cc.command, aggregateID, expectedVersion, nil)
	return cc.store.LoadAggregate(ctx, sub, aggregateID, expectedVersion)
}
