package gateway

import (
	"context"
	"sync"
	"time"
)

// DedupStore remembers webhook settlement events so a replayed delivery of
// the same event is recognised and not re-published downstream.
type DedupStore interface {
	// FirstDelivery records the key and reports whether it was unseen. Keys
	// expire after ttl so the store stays bounded.
	FirstDelivery(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// MemoryDedup is the in-process DedupStore for single-node deployments.
type MemoryDedup struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

// NewMemoryDedup constructs an empty in-memory dedup store.
func NewMemoryDedup() *MemoryDedup {
	return &MemoryDedup{seen: make(map[string]time.Time)}
}

// FirstDelivery implements DedupStore.
func (d *MemoryDedup) FirstDelivery(_ context.Context, key string, ttl time.Duration) (bool, error) {
	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, expiry := range d.seen {
		if now.After(expiry) {
			delete(d.seen, k)
		}
	}
	if _, ok := d.seen[key]; ok {
		return false, nil
	}
	d.seen[key] = now.Add(ttl)
	return true, nil
}
