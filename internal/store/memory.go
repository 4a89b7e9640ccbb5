package store

import (
	"context"
	"sync"
)

// MemoryStore keeps entitlements in process memory. It is used for local
// development and tests; records do not survive a restart.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[Key]Entitlement
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[Key]Entitlement)}
}

func (m *MemoryStore) Get(ctx context.Context, key Key) (Entitlement, bool, error) {
	if err := ctx.Err(); err != nil {
		return Entitlement{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ent, ok := m.data[key]
	return ent, ok, nil
}

func (m *MemoryStore) Put(ctx context.Context, ent Entitlement) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[ent.Key()] = ent
	return nil
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *MemoryStore) Close() error {
	return nil
}
