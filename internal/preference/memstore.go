package preference

import (
	"context"
	"sync"
)

// MemStore keeps home stations in memory. It is safe for concurrent use.
type MemStore struct {
	mu    sync.RWMutex
	homes map[string]HomeStation
}

// Compile-time interface check.
var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{homes: make(map[string]HomeStation)}
}

func (m *MemStore) Get(_ context.Context, userID string) (*HomeStation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.homes[userID]
	if !ok {
		return nil, nil
	}
	return &h, nil
}

func (m *MemStore) Set(_ context.Context, userID string, home HomeStation) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, existed := m.homes[userID]
	m.homes[userID] = home
	if existed {
		return ResultUpdated, nil
	}
	return ResultSet, nil
}
