// Package memstore is a map-backed cache.Store.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/IvanBrykalov/asyncmem/cache"
	"github.com/IvanBrykalov/asyncmem/store"
)

// Store keeps copies of the stored bytes in a map. Safe for concurrent use.
type Store struct {
	mu sync.RWMutex
	m  map[uuid.UUID][]byte
}

var _ cache.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store { return &Store{m: make(map[uuid.UUID][]byte)} }

// Store saves a copy of data under key; hint is ignored.
func (s *Store) Store(_ context.Context, key uuid.UUID, data []byte, _ time.Duration) error {
	b := make([]byte, len(data))
	copy(b, data)
	s.mu.Lock()
	s.m[key] = b
	s.mu.Unlock()
	return nil
}

// Retrieve returns the bytes stored under key.
func (s *Store) Retrieve(_ context.Context, key uuid.UUID) ([]byte, error) {
	s.mu.RLock()
	b, ok := s.m[key]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("memstore: %s: %w", key, store.ErrNotFound)
	}
	return b, nil
}

// Remove deletes key. Absent keys are ignored.
func (s *Store) Remove(_ context.Context, key uuid.UUID) error {
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}
