package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLRU_Eviction(t *testing.T) {
	l := NewLRU(LRUOpts{Size: 2})
	defer l.Close()

	l.Put("a", 1)
	l.Put("b", 2)

	val, ok := l.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, val)

	// "a" was promoted by the Get, so "b" is the oldest
	l.Put("c", 3)

	_, ok = l.Get("b")
	require.False(t, ok)
	_, ok = l.Get("a")
	require.True(t, ok)
	_, ok = l.Get("c")
	require.True(t, ok)
	require.Equal(t, 2, l.Len())
}

func TestLRU_Update(t *testing.T) {
	l := NewLRU(LRUOpts{Size: 2})
	defer l.Close()

	l.Put("a", 1)
	l.Put("a", 2)

	val, ok := l.Get("a")
	require.True(t, ok)
	require.Equal(t, 2, val)
	require.Equal(t, 1, l.Len())
}

func TestLRU_Delete(t *testing.T) {
	l := NewLRU(LRUOpts{Size: 2})
	defer l.Close()

	l.Put("a", 1)
	l.Put("b", 2)
	l.Delete("a")
	l.Delete("nonexistent")

	_, ok := l.Get("a")
	require.False(t, ok)
	val, ok := l.Get("b")
	require.True(t, ok)
	require.Equal(t, 2, val)
}

func TestLRU_TTL(t *testing.T) {
	l := NewLRU(LRUOpts{Size: 2})
	defer l.Close()

	l.Put("a", 1, WithTTL(50*time.Millisecond))
	l.Put("b", 2)

	_, ok := l.Get("a")
	require.True(t, ok)

	time.Sleep(60 * time.Millisecond)

	_, ok = l.Get("a")
	require.False(t, ok, "a expired")
	_, ok = l.Get("b")
	require.True(t, ok, "b has no ttl")
}

func TestLRU_Close(t *testing.T) {
	l := NewLRU(LRUOpts{Size: 2})
	l.Put("a", 1)
	l.Close()
	l.Close()

	_, ok := l.Get("a")
	require.False(t, ok)
	require.Equal(t, 0, l.Len())
	l.Put("b", 2)
	l.Delete("a")
}

func TestLRU_Concurrent(t *testing.T) {
	l := NewLRU(LRUOpts{Size: 16})
	defer l.Close()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				key := fmt.Sprintf("k%d", i%32)
				l.Put(key, w)
				l.Get(key)
			}
		}(w)
	}
	wg.Wait()
	require.LessOrEqual(t, l.Len(), 16)
}

func TestTyped(t *testing.T) {
	l := NewLRU(LRUOpts{Size: 4})
	defer l.Close()

	type snap struct{ V int }
	tc := NewTyped[*snap](l)
	tc.Put("x", &snap{V: 3})

	got, ok := tc.Get("x")
	require.True(t, ok)
	require.Equal(t, 3, got.V)

	l.Put("y", "not a snapshot")
	_, ok = tc.Get("y")
	require.False(t, ok)

	tc.Delete("x")
	_, ok = tc.Get("x")
	require.False(t, ok)
}

func TestNop(t *testing.T) {
	n := NewNop()
	n.Put("a", 1)
	_, ok := n.Get("a")
	require.False(t, ok)
}
