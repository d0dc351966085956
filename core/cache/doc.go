// Package cache provides the bounded cache the command handler keeps its
// aggregate snapshots in.
//
// [LRU] evicts the least recently used entry once Size is exceeded and is
// safe for concurrent use; a single goroutine owns its state.
//
//	c := cache.NewLRU(cache.LRUOpts{Size: 10})
//	defer c.Close()
//
//	snaps := cache.NewTyped[*es.Snapshot](c)
//	snaps.Put("acc-1", snap)
//	if s, ok := snaps.Get("acc-1"); ok {
//	    // s may be stale; callers re-validate its version
//	}
//
// [WithTTL] sets a per-entry expiry. Expired entries are evicted lazily on
// access. [Nop] disables caching.
package cache
