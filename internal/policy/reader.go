// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lattice Contributors

package policy

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Reader is the hot policy read path. It holds the snapshot in memory and
// reloads it when the version marker's modification time changes, at most
// once per debounce interval. Read and parse failures degrade to the
// previously held snapshot; the reader never fails its caller.
//
// Readers in separate processes coordinate only through the snapshot file
// and its version marker, so staleness is bounded by the debounce interval.
type Reader struct {
	mu           sync.Mutex
	snapshotPath string
	versionPath  string
	debounce     time.Duration
	cache        Cache

	entries     map[string]*SnapshotEntry
	markerMod   time.Time
	lastAttempt time.Time
}

// NewReader creates a Reader and eagerly loads the snapshot. A missing
// snapshot file yields an empty map, not an error.
func NewReader(snapshotPath, versionPath string, debounce time.Duration, cache Cache) *Reader {
	if cache == nil {
		cache = NewMemoryCache()
	}

	r := &Reader{
		snapshotPath: snapshotPath,
		versionPath:  versionPath,
		debounce:     debounce,
		cache:        cache,
		entries:      make(map[string]*SnapshotEntry),
	}

	if entries, err := r.loadSnapshot(); err == nil {
		r.entries = entries
	} else {
		slog.Warn("policy reader: initial snapshot load failed; starting empty",
			"path", snapshotPath, "error", err)
	}
	if info, err := os.Stat(versionPath); err == nil {
		r.markerMod = info.ModTime()
	}
	r.lastAttempt = time.Now()

	return r
}

// GetPolicy resolves apiID to its snapshot entry, or nil when unknown.
// Unknown ids do not populate the cache.
func (r *Reader) GetPolicy(apiID string) *SnapshotEntry {
	r.maybeReload()

	if entry, ok := r.cache.Get(apiID); ok {
		return entry
	}

	r.mu.Lock()
	entry := r.entries[apiID]
	r.mu.Unlock()

	if entry != nil {
		r.cache.Set(apiID, entry)
	}

	return entry
}

// Len returns the number of entries currently held. Intended for
// diagnostics and tests.
func (r *Reader) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// maybeReload re-reads the snapshot when the version marker moved and the
// debounce interval has elapsed since the last reload attempt.
func (r *Reader) maybeReload() {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, err := os.Stat(r.versionPath)
	if err != nil {
		// No marker: nothing has ever been published (or it vanished).
		// Keep serving what we have.
		return
	}

	if info.ModTime().Equal(r.markerMod) {
		return
	}
	if time.Since(r.lastAttempt) < r.debounce {
		return
	}

	// Record the attempt and the marker before parsing: a corrupt snapshot
	// must not be re-read on every request.
	r.lastAttempt = time.Now()
	r.markerMod = info.ModTime()

	entries, err := r.loadSnapshot()
	if err != nil {
		slog.Warn("policy reader: snapshot reload failed; keeping previous snapshot",
			"path", r.snapshotPath, "error", err)
		return
	}

	r.entries = entries
	r.cache.Invalidate()
}

// loadSnapshot reads and parses the snapshot file. A missing file is an
// empty snapshot.
func (r *Reader) loadSnapshot() (map[string]*SnapshotEntry, error) {
	data, err := os.ReadFile(r.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]*SnapshotEntry), nil
		}
		return nil, err
	}

	var entries map[string]*SnapshotEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	if entries == nil {
		entries = make(map[string]*SnapshotEntry)
	}

	return entries, nil
}
