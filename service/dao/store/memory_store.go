package store

import (
	"context"
	"sync"

	"github.com/viant/nexus/service/dao"
)

// MemoryStore keeps entities of type *T in a map guarded by a RWMutex,
// keyed by whatever the key function extracts (the request id for both
// pipeline ledgers). It implements the plain dao.Service surface; the
// request and approval stores embed it and layer their compare-and-set
// operations on top.
type MemoryStore[K comparable, T any] struct {
	mu      sync.RWMutex
	entries map[K]*T
	key     func(*T) K
}

// NewMemoryStore creates a store keyed by the supplied key function.
func NewMemoryStore[K comparable, T any](key func(*T) K) *MemoryStore[K, T] {
	return &MemoryStore[K, T]{
		entries: make(map[K]*T),
		key:     key,
	}
}

// Save inserts or overwrites an entity; nil entities are ignored since
// embedding stores validate before delegating.
func (s *MemoryStore[K, T]) Save(_ context.Context, v *T) error {
	if v == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[s.key(v)] = v
	return nil
}

// Load returns the entity under key, or nil when absent; embedding stores
// translate the nil into their own not-found error.
func (s *MemoryStore[K, T]) Load(_ context.Context, key K) (*T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	return v, nil
}

// Delete removes the entity under key, if any.
func (s *MemoryStore[K, T]) Delete(_ context.Context, key K) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// List returns every stored entity. Parameters are ignored here; the
// embedding stores apply their criteria over the returned slice.
func (s *MemoryStore[K, T]) List(_ context.Context, _ ...*dao.Parameter) ([]*T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*T, 0, len(s.entries))
	for _, v := range s.entries {
		out = append(out, v)
	}
	return out, nil
}
