package es_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/cqrs-go/core/es"
	"github.com/codewandler/cqrs-go/core/es/estests/domain"
)

func numbersEnvelope(t *testing.T, v es.Version, name string, a, b int) es.Envelope {
	t.Helper()
	data, err := json.Marshal(domain.NewNumbers(a, b))
	require.NoError(t, err)
	return es.Envelope{AggregateID: "s1", AggregateType: "sum", AggregateVersion: v, Name: name, Payload: data}
}

func TestCreate(t *testing.T) {
	agg, err := es.Create(domain.SumType, nil)
	require.NoError(t, err)
	require.Equal(t, es.NoVersion, agg.Version())
	require.Equal(t, "sum", agg.TypeName())
	require.Empty(t, agg.ID())

	agg, err = es.CreateWithID(domain.SumType, "s1")
	require.NoError(t, err)
	require.Equal(t, "s1", agg.ID())
	require.Equal(t, es.NoVersion, agg.Version())

	_, err = es.Create(nil, nil)
	require.ErrorIs(t, err, es.MissingArgument("aggregateType"))
	_, err = es.Create(es.NewAggregateType("", nil), nil)
	require.ErrorIs(t, err, es.MissingArgument("aggregateType.name"))
	_, err = es.Create(domain.SumType, &es.Snapshot{AggregateType: "calculator"})
	require.ErrorIs(t, err, es.InvalidArgument("snapshot.agg_type"))
}

func TestReplay(t *testing.T) {
	agg, err := es.CreateWithID(domain.SumType, "s1")
	require.NoError(t, err)

	require.NoError(t, es.Replay(agg,
		numbersEnvelope(t, 0, domain.NumbersAdded, 1, 2),
		numbersEnvelope(t, 1, domain.NumbersAdded, 3, 4),
		numbersEnvelope(t, 2, domain.NumbersSubtracted, 1, 1),
	))
	require.Equal(t, es.Version(2), agg.Version())
	require.Equal(t, 8, agg.(*domain.Sum).Sum)

	t.Run("gap", func(t *testing.T) {
		err := es.Replay(agg, numbersEnvelope(t, 4, domain.NumbersAdded, 1, 1))
		require.ErrorContains(t, err, "expect version 3, got 4")
		require.Equal(t, es.Version(2), agg.Version())
	})

	t.Run("unknown event", func(t *testing.T) {
		err := es.Replay(agg, numbersEnvelope(t, 3, "NumbersMultiplied", 1, 1))
		require.ErrorIs(t, err, es.NotImplemented("events.NumbersMultiplied"))
	})
}

func TestClone(t *testing.T) {
	agg, err := es.CreateWithID(domain.SumType, "s1")
	require.NoError(t, err)
	require.NoError(t, es.Replay(agg, numbersEnvelope(t, 0, domain.NumbersAdded, 20, 22)))

	snap, err := es.Clone(agg)
	require.NoError(t, err)
	require.Equal(t, "s1", snap.AggregateID)
	require.Equal(t, "sum", snap.AggregateType)
	require.Equal(t, es.Version(0), snap.Version)

	restored, err := es.Create(domain.SumType, snap)
	require.NoError(t, err)
	require.Equal(t, 42, restored.(*domain.Sum).Sum)
	require.Equal(t, es.Version(0), restored.Version())

	// mutating the copy leaves the original alone
	require.NoError(t, es.Replay(restored, numbersEnvelope(t, 1, domain.NumbersAdded, 1, 1)))
	require.Equal(t, 42, agg.(*domain.Sum).Sum)

	at, err := es.CloneAt(agg, 5)
	require.NoError(t, err)
	require.Equal(t, es.Version(5), at.Version)
}

type tally struct {
	es.BaseAggregate
	n int
}

func (a *tally) Snapshot() ([]byte, error) {
	return []byte{byte(a.n)}, nil
}

func (a *tally) RestoreSnapshot(data []byte) error {
	a.n = int(data[0])
	return nil
}

func (a *tally) Events() es.Events {
	return es.Events{"Ticked": func(es.Event) error { a.n++; return nil }}
}

func TestClone_Snapshottable(t *testing.T) {
	typ := es.NewAggregateType("tally", func() es.Aggregate { return &tally{} }, es.WithoutSnapshots())
	require.False(t, typ.Snapshots())

	agg, err := es.CreateWithID(typ, "t1")
	require.NoError(t, err)
	require.NoError(t, es.Replay(agg, es.Envelope{AggregateVersion: 0, Name: "Ticked"}, es.Envelope{AggregateVersion: 1, Name: "Ticked"}))

	snap, err := es.Clone(agg)
	require.NoError(t, err)
	require.Equal(t, []byte{2}, []byte(snap.Data))

	restored, err := es.Create(typ, snap)
	require.NoError(t, err)
	require.Equal(t, 2, restored.(*tally).n)
}

// settings starts from non-zero defaults that omitempty leaves out of the
// snapshot once they are cleared.
type settings struct {
	es.BaseAggregate
	Mode   string            `json:"mode,omitempty"`
	Limit  int               `json:"limit,omitempty"`
	Labels map[string]string `json:"labels,omitempty"`
	Owner  *string           `json:"owner,omitempty"`
	Ignore string            `json:"-"`
}

func newSettings() es.Aggregate {
	owner := "root"
	return &settings{
		Mode:   "default",
		Limit:  10,
		Labels: map[string]string{"env": "dev"},
		Owner:  &owner,
		Ignore: "kept",
	}
}

func (s *settings) Events() es.Events {
	return es.Events{"Cleared": func(es.Event) error {
		s.Mode, s.Limit, s.Owner = "", 0, nil
		clear(s.Labels)
		return nil
	}}
}

func TestCreate_RestoresOmittedFields(t *testing.T) {
	typ := es.NewAggregateType("settings", newSettings)

	agg, err := es.CreateWithID(typ, "s1")
	require.NoError(t, err)
	require.NoError(t, es.Replay(agg, es.Envelope{AggregateVersion: 0, Name: "Cleared"}))

	snap, err := es.Clone(agg)
	require.NoError(t, err)
	require.JSONEq(t, `{}`, string(snap.Data))

	restored, err := es.Create(typ, snap)
	require.NoError(t, err)
	require.Equal(t, agg, restored)

	got := restored.(*settings)
	require.Empty(t, got.Mode)
	require.Zero(t, got.Limit)
	require.Nil(t, got.Owner)
	require.NotNil(t, got.Labels)
	require.Empty(t, got.Labels)
	require.Equal(t, "kept", got.Ignore)
}

func TestReduce_BadPayload(t *testing.T) {
	r := es.Reduce(func(domain.Numbers) error { return nil })
	err := r(es.Event{Name: "NumbersAdded", Payload: json.RawMessage(`"nope"`)})
	require.Error(t, err)

	want := errors.New("rejected")
	r = es.Reduce(func(domain.Numbers) error { return want })
	require.ErrorIs(t, r(es.Event{Name: "NumbersAdded"}), want)
}
