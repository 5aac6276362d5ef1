// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lattice Contributors

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	latterr "github.com/lattice-dev/lattice/pkg/errors"
)

// Compile-time interface check.
var _ PolicyStore = (*MemoryPolicyStore)(nil)

// MemoryPolicyStore is an in-memory PolicyStore for tests and ephemeral use.
type MemoryPolicyStore struct {
	mu      sync.RWMutex
	records map[string]*PolicyRecord
}

// NewMemoryPolicyStore creates an empty in-memory policy store.
func NewMemoryPolicyStore() *MemoryPolicyStore {
	return &MemoryPolicyStore{
		records: make(map[string]*PolicyRecord),
	}
}

func (s *MemoryPolicyStore) ListPolicies(_ context.Context) ([]*PolicyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*PolicyRecord, 0, len(s.records))
	for _, rec := range s.records {
		list = append(list, rec.Clone())
	}
	sort.Slice(list, func(i, j int) bool { return list[i].APIID < list[j].APIID })

	return list, nil
}

func (s *MemoryPolicyStore) GetPolicy(_ context.Context, apiID string) (*PolicyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[apiID]
	if !ok {
		return nil, latterr.Errorf(latterr.CodeStorePolicyNotFound, "policy %q not found", apiID)
	}

	return rec.Clone(), nil
}

func (s *MemoryPolicyStore) UpsertPolicy(_ context.Context, record *PolicyRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	stored := record.Clone()
	stored.UpdatedAt = now
	if existing, ok := s.records[record.APIID]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else {
		stored.CreatedAt = now
	}

	s.records[record.APIID] = stored
	return nil
}

func (s *MemoryPolicyStore) DeletePolicy(_ context.Context, apiID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, apiID)
	return nil
}

func (s *MemoryPolicyStore) Close() error {
	return nil
}
