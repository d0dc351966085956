package kv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemStore(t *testing.T) {
	ctx := t.Context()
	s := NewMemStore()

	_, err := s.Get(ctx, "a")
	require.ErrorIs(t, err, ErrNotFound)

	rev, err := s.Create(ctx, "a", []byte("1"))
	require.NoError(t, err)
	require.NotZero(t, rev)

	_, err = s.Create(ctx, "a", []byte("2"))
	require.ErrorIs(t, err, ErrExists)
	require.True(t, IsConflict(err))

	_, err = s.Update(ctx, "a", []byte("2"), rev+100)
	require.ErrorIs(t, err, ErrRevisionMismatch)

	rev2, err := s.Update(ctx, "a", []byte("2"), rev)
	require.NoError(t, err)
	require.Greater(t, rev2, rev)

	e, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, "2", string(e.Data))
	require.Equal(t, rev2, e.Revision)

	require.NoError(t, s.Delete(ctx, "a"))
	_, err = s.Get(ctx, "a")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestJSONHelpers(t *testing.T) {
	ctx := t.Context()
	s := NewMemStore()

	type rec struct{ N int }

	rev, err := SwapJSON(ctx, s, "r", rec{N: 1}, 0)
	require.NoError(t, err)

	_, err = SwapJSON(ctx, s, "r", rec{N: 5}, 0)
	require.True(t, IsConflict(err))

	_, err = SwapJSON(ctx, s, "r", rec{N: 2}, rev)
	require.NoError(t, err)

	out, _, err := GetJSON[rec](ctx, s, "r")
	require.NoError(t, err)
	require.Equal(t, 2, out.N)

	_, err = PutJSON(ctx, s, "r", rec{N: 3})
	require.NoError(t, err)
	out, _, err = GetJSON[rec](ctx, s, "r")
	require.NoError(t, err)
	require.Equal(t, 3, out.N)
}
