package es

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"time"
)

type (
	// CommandFunc validates a command and pushes the resulting events onto
	// the context. Nothing is persisted unless it returns nil.
	CommandFunc func(ctx context.Context, cc *CommandContext) error
	// Reducer applies one event to the aggregate that built it.
	Reducer func(e Event) error

	// Commands maps command names to their handlers.
	Commands map[string]CommandFunc
	// Events maps event names to reducers.
	Events map[string]Reducer
)

// Aggregate is a versioned, event-built state machine.
//
// Implementations embed BaseAggregate and return their command and event
// tables from Commands and Events. The tables are built per instance so the
// closures can capture the receiver:
//
//	func (s *Sum) Events() es.Events {
//		return es.Events{
//			"NumbersAdded": es.Reduce(func(p Numbers) error {
//				s.Sum += p.A + p.B
//				return nil
//			}),
//		}
//	}
//
// A nil table means the capability was not supplied and is reported as
// NotImplemented.
type Aggregate interface {
	ID() string
	Version() Version
	TypeName() string
	Commands() Commands
	Events() Events

	base() *BaseAggregate
}

// BaseAggregate tracks identity and version. Its zero value is at NoVersion.
type BaseAggregate struct {
	id      string
	typ     string
	applied int64
}

func (b *BaseAggregate) ID() string         { return b.id }
func (b *BaseAggregate) TypeName() string   { return b.typ }
func (b *BaseAggregate) Version() Version   { return Version(b.applied - 1) }
func (b *BaseAggregate) Commands() Commands { return nil }
func (b *BaseAggregate) Events() Events     { return nil }

func (b *BaseAggregate) base() *BaseAggregate { return b }
func (b *BaseAggregate) setVersion(v Version) { b.applied = int64(v) + 1 }

// Snapshottable lets an aggregate control how its state is copied. Others
// are cloned through their JSON encoding.
type Snapshottable interface {
	Snapshot() ([]byte, error)
	RestoreSnapshot(data []byte) error
}

// Snapshot is a point-in-time copy of an aggregate's state. Cached and
// stored snapshots are never mutated; Create always builds a new instance.
type Snapshot struct {
	AggregateID   string          `json:"agg_id"`
	AggregateType string          `json:"agg_type"`
	Version       Version         `json:"agg_version"`
	Data          json.RawMessage `json:"data,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// === Aggregate types ===

type (
	aggregateTypeOptions struct{ snapshots bool }
	AggregateTypeOption  interface{ applyToAggregateType(*aggregateTypeOptions) }
	snapshotsOption      valueOption[bool]
)

func (o snapshotsOption) applyToAggregateType(opts *aggregateTypeOptions) { opts.snapshots = o.v }

// WithoutSnapshots stops stores from persisting snapshots for the type.
func WithoutSnapshots() AggregateTypeOption { return snapshotsOption{v: false} }

// AggregateType describes one kind of aggregate: its name (stamped on every
// envelope), a factory for empty instances and whether stores snapshot it.
type AggregateType struct {
	name      string
	factory   func() Aggregate
	snapshots bool
}

func NewAggregateType(name string, factory func() Aggregate, opts ...AggregateTypeOption) *AggregateType {
	options := aggregateTypeOptions{snapshots: true}
	for _, opt := range opts {
		opt.applyToAggregateType(&options)
	}
	return &AggregateType{name: name, factory: factory, snapshots: options.snapshots}
}

func (t *AggregateType) Name() string    { return t.name }
func (t *AggregateType) Snapshots() bool { return t.snapshots }
func (t *AggregateType) String() string  { return t.name }

func (t *AggregateType) validate() error {
	if t == nil {
		return MissingArgument("aggregateType")
	}
	if t.name == "" {
		return MissingArgument("aggregateType.name")
	}
	if t.factory == nil {
		return MissingArgument("aggregateType.factory")
	}
	return nil
}

// === Lifecycle ===

// Create builds a new aggregate of type t. With a snapshot, id, version and
// state are copied from it; without one the aggregate is empty at NoVersion.
func Create(t *AggregateType, snap *Snapshot) (Aggregate, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}
	agg := t.factory()
	if agg == nil {
		return nil, InvalidArgument("aggregateType.factory")
	}
	b := agg.base()
	b.typ = t.name
	b.setVersion(NoVersion)
	if snap == nil {
		return agg, nil
	}

	if snap.AggregateType != "" && snap.AggregateType != t.name {
		return nil, InvalidArgument("snapshot.agg_type")
	}
	if len(snap.Data) > 0 {
		var err error
		if s, ok := agg.(Snapshottable); ok {
			err = s.RestoreSnapshot(snap.Data)
		} else {
			resetState(reflect.ValueOf(agg))
			err = json.Unmarshal(snap.Data, agg)
		}
		if err != nil {
			return nil, fmt.Errorf("restore %s/%s: %w", t.name, snap.AggregateID, err)
		}
	}
	b.id = snap.AggregateID
	b.setVersion(snap.Version)
	return agg, nil
}

var baseAggregateType = reflect.TypeFor[BaseAggregate]()

// resetState zeroes the exported state a factory may have preset, so fields
// left out of a snapshot's JSON (omitempty) decode as they were cloned.
// Non-nil maps and slices are emptied rather than dropped; unexported and
// `json:"-"` fields keep the factory's value.
func resetState(v reflect.Value) {
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return
	}
	typ := v.Type()
	for i := range typ.NumField() {
		sf := typ.Field(i)
		f := v.Field(i)
		switch {
		case sf.Type == baseAggregateType || sf.Type == reflect.PointerTo(baseAggregateType):
			continue
		case sf.Anonymous && sf.Type.Kind() == reflect.Struct:
			resetState(f)
			continue
		case !sf.IsExported() || !f.CanSet() || sf.Tag.Get("json") == "-":
			continue
		}
		switch f.Kind() {
		case reflect.Map:
			if !f.IsNil() {
				f.Set(reflect.MakeMap(f.Type()))
			}
		case reflect.Slice:
			if !f.IsNil() {
				f.Set(reflect.MakeSlice(f.Type(), 0, 0))
			}
		case reflect.Struct:
			resetState(f)
		default:
			f.SetZero()
		}
	}
}

// CreateWithID builds an empty aggregate with the given id.
func CreateWithID(t *AggregateType, id string) (Aggregate, error) {
	return Create(t, &Snapshot{AggregateID: id, Version: NoVersion})
}

// Replay applies stored envelopes in ascending order. Each envelope must
// advance the version by exactly one.
func Replay(agg Aggregate, envelopes ...Envelope) error {
	if len(envelopes) == 0 {
		return nil
	}
	reducers := agg.Events()
	if reducers == nil {
		return NotImplemented("events")
	}
	b := agg.base()
	for _, env := range envelopes {
		expect := agg.Version().Next()
		if env.AggregateVersion != expect {
			return fmt.Errorf(
				"replay %s/%s: expect version %d, got %d",
				agg.TypeName(), agg.ID(), expect, env.AggregateVersion,
			)
		}
		reduce, ok := reducers[env.Name]
		if !ok {
			return NotImplemented("events." + env.Name)
		}
		if err := reduce(env.Event()); err != nil {
			return fmt.Errorf("replay %s/%s@%d: %w", agg.TypeName(), agg.ID(), env.AggregateVersion, err)
		}
		b.setVersion(env.AggregateVersion)
	}
	return nil
}

// Clone copies the aggregate's state at its current version.
func Clone(agg Aggregate) (*Snapshot, error) { return CloneAt(agg, agg.Version()) }

// CloneAt copies the aggregate's state and labels it with version v. Stores
// use it to snapshot state that already includes uncommitted events.
func CloneAt(agg Aggregate, v Version) (*Snapshot, error) {
	var (
		data []byte
		err  error
	)
	if s, ok := agg.(Snapshottable); ok {
		data, err = s.Snapshot()
	} else {
		data, err = json.Marshal(agg)
	}
	if err != nil {
		return nil, fmt.Errorf("clone %s/%s: %w", agg.TypeName(), agg.ID(), err)
	}
	return &Snapshot{
		AggregateID:   agg.ID(),
		AggregateType: agg.TypeName(),
		Version:       v,
		Data:          data,
		CreatedAt:     time.Now(),
	}, nil
}

// === Helpers ===

// Reduce adapts a typed reducer. The event payload is decoded into T.
func Reduce[T any](fn func(T) error) Reducer {
	return func(e Event) error {
		var p T
		if err := e.Bind(&p); err != nil {
			return err
		}
		return fn(p)
	}
}

// Handle adapts a typed command handler. The command payload is decoded into
// T; a payload of the wrong shape is an InvalidArgument.
func Handle[T any](fn func(ctx context.Context, cc *CommandContext, p T) error) CommandFunc {
	return func(ctx context.Context, cc *CommandContext) error {
		var p T
		if err := cc.Bind(&p); err != nil {
			return err
		}
		return fn(ctx, cc, p)
	}
}
