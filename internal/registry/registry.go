// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lattice Contributors

package registry

import (
	"sync"

	latterr "github.com/lattice-dev/lattice/pkg/errors"
	"github.com/lattice-dev/lattice/pkg/plugin"
)

// Registry maps manifest entry identifiers to plugin constructors. Plugins
// are resolved through this table instead of loading arbitrary code from the
// downloaded tree: an entry that was never registered simply does not exist.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]plugin.Factory
}

// NewRegistry creates an empty entry-point registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]plugin.Factory),
	}
}

// Register binds an entry identifier to a constructor. Later registrations
// for the same identifier replace earlier ones.
func (r *Registry) Register(entry string, factory plugin.Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[entry] = factory
}

// Resolve returns the constructor bound to entry.
func (r *Registry) Resolve(entry string) (plugin.Factory, error) {
	r.mu.RLock()
	factory, ok := r.factories[entry]
	r.mu.RUnlock()

	if !ok {
		return nil, latterr.Errorf(latterr.CodeRegistryEntryNotFound,
			"entry point %q is not registered", entry)
	}

	return factory, nil
}

// Entries returns the registered entry identifiers.
func (r *Registry) Entries() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]string, 0, len(r.factories))
	for entry := range r.factories {
		entries = append(entries, entry)
	}

	return entries
}
