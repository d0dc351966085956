package kv

import (
	"context"
	"sync"
)

type memEntry struct {
	data []byte
	rev  uint64
}

type MemStore struct {
	mu   sync.Mutex
	rev  uint64
	data map[string]memEntry
}

func NewMemStore() *MemStore {
	return &MemStore{data: map[string]memEntry{}}
}

func (m *MemStore) Get(_ context.Context, key string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.data[key]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return Entry{Data: clone(e.data), Revision: e.rev}, nil
}

func (m *MemStore) Put(_ context.Context, key string, data []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.write(key, data), nil
}

func (m *MemStore) Create(_ context.Context, key string, data []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.data[key]; ok {
		return 0, ErrExists
	}
	return m.write(key, data), nil
}

func (m *MemStore) Update(_ context.Context, key string, data []byte, rev uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.data[key]
	if !ok || e.rev != rev {
		return 0, ErrRevisionMismatch
	}
	return m.write(key, data), nil
}

func (m *MemStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemStore) write(key string, data []byte) uint64 {
	m.rev++
	m.data[key] = memEntry{data: clone(data), rev: m.rev}
	return m.rev
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

var _ Store = (*MemStore)(nil)
