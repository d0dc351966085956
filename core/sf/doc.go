// Package sf collapses concurrent calls that share a key into one
// execution. Every caller waiting on the key receives the result of that
// execution.
//
//	var loads sf.Group[*es.Snapshot]
//	snap, shared, err := loads.Do(key, func() (*es.Snapshot, error) {
//	    return store.LoadSnapshot(ctx, tenant, aggType, id)
//	})
//
// Results must be treated as read-only since callers share them.
package sf
