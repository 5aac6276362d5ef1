// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lattice Contributors

package policy

import "sync"

// Cache is a per-api-id policy cache consulted before the in-memory
// snapshot map. Implementations may be backed by an external shared cache;
// the reader treats all operations as best-effort. Cache instances are
// constructed and injected explicitly; there is no process-wide shared map.
type Cache interface {
	Get(apiID string) (*SnapshotEntry, bool)
	Set(apiID string, entry *SnapshotEntry)
	Invalidate()
}

// MemoryCache is the in-process Cache implementation.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*SnapshotEntry
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]*SnapshotEntry),
	}
}

func (c *MemoryCache) Get(apiID string) (*SnapshotEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[apiID]
	return entry, ok
}

func (c *MemoryCache) Set(apiID string, entry *SnapshotEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[apiID] = entry
}

func (c *MemoryCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*SnapshotEntry)
}
