package ds

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSet(t *testing.T) {
	s := NewSet("b", "a", "b")
	require.Equal(t, 2, s.Len())
	require.Equal(t, []string{"b", "a"}, s.Values())

	require.True(t, s.Add("c"))
	require.False(t, s.Add("a"))
	require.True(t, s.Contains("c"))
	require.False(t, s.Contains("d"))
	require.Equal(t, []string{"b", "a", "c"}, s.Values())
}

func TestSetValuesIsACopy(t *testing.T) {
	s := NewSet(1, 2)
	v := s.Values()
	v[0] = 42
	require.Equal(t, []int{1, 2}, s.Values())
}

func TestEmptySet(t *testing.T) {
	s := NewSet[string]()
	require.Zero(t, s.Len())
	require.Empty(t, s.Values())
	require.True(t, s.Add(""))
	require.True(t, s.Contains(""))
}
