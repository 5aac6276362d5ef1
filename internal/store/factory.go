// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lattice Contributors

package store

import (
	"sync"

	latterr "github.com/lattice-dev/lattice/pkg/errors"
)

// PolicyStoreFactory creates a PolicyStore given a data path.
type PolicyStoreFactory func(path string) (PolicyStore, error)

var (
	factories   = map[string]PolicyStoreFactory{}
	factoriesMu sync.RWMutex
)

// RegisterBackend registers a factory for a named storage backend. Backend
// packages call this from init(). This function is goroutine-safe.
func RegisterBackend(name string, factory PolicyStoreFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = factory
}

func init() {
	RegisterBackend("memory", func(string) (PolicyStore, error) {
		return NewMemoryPolicyStore(), nil
	})
}

// NewPolicyStore creates the policy store for the named backend, defaulting
// to sqlite.
func NewPolicyStore(backend, path string) (PolicyStore, error) {
	if backend == "" {
		backend = "sqlite"
	}

	factoriesMu.RLock()
	factory, ok := factories[backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, latterr.Errorf(latterr.CodeStoreBackendUnsupported,
			"unsupported storage backend: %q", backend)
	}

	return factory(path)
}
