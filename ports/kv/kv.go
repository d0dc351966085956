// Package kv is the key/value port used for snapshots and consumer-thread
// records. Every entry carries a revision so callers can perform atomic
// conditional writes.
package kv

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrExists           = errors.New("key exists")
	ErrRevisionMismatch = errors.New("revision mismatch")
)

type Entry struct {
	Data     []byte
	Revision uint64
}

type Store interface {
	Get(ctx context.Context, key string) (Entry, error)
	// Put writes unconditionally and returns the new revision.
	Put(ctx context.Context, key string, data []byte) (uint64, error)
	// Create writes only if the key does not exist (ErrExists otherwise).
	Create(ctx context.Context, key string, data []byte) (uint64, error)
	// Update writes only if the stored revision equals rev
	// (ErrRevisionMismatch otherwise).
	Update(ctx context.Context, key string, data []byte, rev uint64) (uint64, error)
	Delete(ctx context.Context, key string) error
}

func PutJSON[T any](ctx context.Context, store Store, key string, v T) (uint64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	return store.Put(ctx, key, data)
}

// GetJSON decodes the entry at key and returns its revision.
func GetJSON[T any](ctx context.Context, store Store, key string) (out T, rev uint64, err error) {
	entry, err := store.Get(ctx, key)
	if err != nil {
		return
	}
	if err = json.Unmarshal(entry.Data, &out); err != nil {
		return
	}
	return out, entry.Revision, nil
}

// SwapJSON writes v conditionally: Create when rev is 0, Update otherwise.
func SwapJSON[T any](ctx context.Context, store Store, key string, v T, rev uint64) (uint64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	if rev == 0 {
		return store.Create(ctx, key, data)
	}
	return store.Update(ctx, key, data, rev)
}

// IsConflict reports a lost conditional write.
func IsConflict(err error) bool {
	return errors.Is(err, ErrExists) || errors.Is(err, ErrRevisionMismatch)
}
