// Package store keeps final attempt snapshots after their session is gone,
// so a terminal can still look up how a sale's last push payment ended.
package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mn-ibiz/pos-sub020/confirmation"
)

// ErrNotFound is returned when no result is stored for a sale
var ErrNotFound = errors.New("result not found")

// ResultStore persists the latest finished attempt per sale
type ResultStore interface {
	Save(ctx context.Context, snap confirmation.Snapshot) error
	Get(ctx context.Context, saleID string) (confirmation.Snapshot, error)
}

// MemoryStore is a ResultStore for a single process
type MemoryStore struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	results map[string]memoryEntry
}

type memoryEntry struct {
	snap    confirmation.Snapshot
	expires time.Time
}

// NewMemoryStore creates an in-memory store; ttl <= 0 keeps results forever
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:     ttl,
		now:     time.Now,
		results: make(map[string]memoryEntry),
	}
}

// Save stores snap as the latest result for its sale
func (m *MemoryStore) Save(_ context.Context, snap confirmation.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := memoryEntry{snap: snap}
	if m.ttl > 0 {
		e.expires = m.now().Add(m.ttl)
	}
	m.results[snap.SaleID] = e
	m.evictLocked()
	return nil
}

// Get returns the latest result for saleID
func (m *MemoryStore) Get(_ context.Context, saleID string) (confirmation.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.results[saleID]
	if !ok || (!e.expires.IsZero() && m.now().After(e.expires)) {
		return confirmation.Snapshot{}, ErrNotFound
	}
	return e.snap, nil
}

func (m *MemoryStore) evictLocked() {
	now := m.now()
	for id, e := range m.results {
		if !e.expires.IsZero() && now.After(e.expires) {
			delete(m.results, id)
		}
	}
}
