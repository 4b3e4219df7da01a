package cache

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxEntries bounds the in-process store when no size is configured.
const DefaultMaxEntries = 1024

// MemoryStore keeps entries in a process-local LRU. The least recently used
// entry is evicted when the store is full.
type MemoryStore struct {
	entries *lru.Cache[string, Entry]
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(maxEntries int) (*MemoryStore, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	entries, err := lru.New[string, Entry](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU: %w", err)
	}
	return &MemoryStore{entries: entries}, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	e, ok := s.entries.Get(key)
	return e, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, e Entry) error {
	s.entries.Add(key, e)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.entries.Remove(key)
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (s *MemoryStore) Len() int {
	return s.entries.Len()
}
