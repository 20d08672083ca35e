package delegation

import (
	"context"
	"fmt"
	"sync"

	appErr "pokervault/pkg/errors"
)

// MemoryStore is an in-process Store for single-node deployments and
// tests. Same authority semantics as the redis store, no durability.
type MemoryStore struct {
	mu    sync.Mutex
	snaps map[string]Snapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string]Snapshot)}
}

func (s *MemoryStore) Put(_ context.Context, key string, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[key] = snap
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[key]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", appErr.ErrNotDelegated, key)
	}
	return snap, nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.snaps, key)
	}
	return nil
}
