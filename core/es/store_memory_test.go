package es_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/cqrs-go/core/es"
	"github.com/codewandler/cqrs-go/core/es/estests"
	"github.com/codewandler/cqrs-go/core/es/estests/domain"
)

func TestMemoryStore(t *testing.T) {
	estests.Run(t, func(t *testing.T) es.EventStore { return es.NewMemoryStore() })
}

func TestRehydrate(t *testing.T) {
	var history []es.Envelope
	for v := es.Version(0); v < 600; v++ {
		history = append(history, numbersEnvelope(t, v, domain.NumbersAdded, 1, 0))
	}

	var limits []int
	page := func(_ context.Context, after es.Version, limit int) ([]es.Envelope, error) {
		limits = append(limits, limit)
		start := int(after) + 1
		end := min(start+limit, len(history))
		if start >= end {
			return nil, nil
		}
		return history[start:end], nil
	}
	snapshotAt := func(v es.Version) *es.Snapshot {
		agg, err := es.CreateWithID(domain.SumType, "s1")
		require.NoError(t, err)
		require.NoError(t, es.Replay(agg, history[:v+1]...))
		snap, err := es.Clone(agg)
		require.NoError(t, err)
		return snap
	}

	for _, tc := range []struct {
		name     string
		expected es.Version
		snap     *es.Snapshot
		version  es.Version
		limits   []int
	}{
		{name: "to the end", expected: es.NoVersion, version: 599, limits: []int{256, 256, 256}},
		{name: "pinned", expected: 300, version: 300, limits: []int{256, 45}},
		{name: "pinned after snapshot", expected: 12, snap: snapshotAt(9), version: 12, limits: []int{3}},
		{name: "snapshot past pinned version", expected: 5, snap: snapshotAt(20), version: 5, limits: []int{6}},
		{name: "pinned past the end", expected: 700, version: 599, limits: []int{256, 256, 189}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			limits = nil
			agg, err := es.Rehydrate(t.Context(), domain.SumType, "s1", tc.expected, tc.snap, page)
			require.NoError(t, err)
			require.Equal(t, tc.version, agg.Version())
			require.Equal(t, int(tc.version)+1, agg.(*domain.Sum).Sum)
			require.Equal(t, tc.limits, limits)
		})
	}
}
