package storage

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DedupIndex remembers which dedup keys have been seen within the retention
// horizon. Reserve must be atomic: of two concurrent calls with the same key
// at most one returns true.
type DedupIndex interface {
	// Reserve claims key. It returns false when key is already held.
	Reserve(ctx context.Context, key string) (bool, error)
	// Release forgets key so it can be reserved again.
	Release(ctx context.Context, key string) error
	// Purge forgets every key.
	Purge(ctx context.Context) error
}

// DefaultDedupCapacity bounds the in-memory index.
const DefaultDedupCapacity = 100_000

// MemoryDedupIndex is a process-local DedupIndex. Keys expire after the
// retention horizon; when capacity is reached the least recently reserved
// key is forgotten early.
type MemoryDedupIndex struct {
	keys *expirable.LRU[string, struct{}]
}

// NewMemoryDedupIndex creates an index holding at most capacity keys for ttl.
func NewMemoryDedupIndex(capacity int, ttl time.Duration) *MemoryDedupIndex {
	if capacity <= 0 {
		capacity = DefaultDedupCapacity
	}
	return &MemoryDedupIndex{keys: expirable.NewLRU[string, struct{}](capacity, nil, ttl)}
}

// Reserve is only atomic under the caller's lock; AlertStore serializes it.
func (m *MemoryDedupIndex) Reserve(_ context.Context, key string) (bool, error) {
	if _, held := m.keys.Get(key); held {
		return false, nil
	}
	m.keys.Add(key, struct{}{})
	return true, nil
}

func (m *MemoryDedupIndex) Release(_ context.Context, key string) error {
	m.keys.Remove(key)
	return nil
}

func (m *MemoryDedupIndex) Purge(_ context.Context) error {
	m.keys.Purge()
	return nil
}

// Len returns the number of keys currently held, including any that have
// expired but not yet been swept.
func (m *MemoryDedupIndex) Len() int {
	return m.keys.Len()
}
