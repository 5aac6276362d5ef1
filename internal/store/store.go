// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lattice Contributors

// Package store persists administrator-owned policy records. Records override
// plugin-declared API defaults when the policy snapshot is built.
package store

import (
	"context"
	"strings"
	"time"

	latterr "github.com/lattice-dev/lattice/pkg/errors"
	"github.com/lattice-dev/lattice/pkg/plugin"
)

// PolicyRecord is one administrator-persisted API policy row.
type PolicyRecord struct {
	APIID          string
	PluginID       string
	Enabled        bool
	Visibility     plugin.Visibility
	RequiredScopes []string
	Constraints    map[string]any
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Validate checks that the record is well-formed.
func (r *PolicyRecord) Validate() error {
	if strings.TrimSpace(r.APIID) == "" {
		return latterr.New(latterr.CodeStoreInvalidInput, "policy record: api id must not be empty")
	}
	if !r.Visibility.Valid() {
		return latterr.Errorf(latterr.CodeStoreInvalidInput,
			"policy record %q: visibility must be one of [public, private], got %q",
			r.APIID, r.Visibility)
	}
	return nil
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (r *PolicyRecord) Clone() *PolicyRecord {
	if r == nil {
		return nil
	}

	out := *r
	out.RequiredScopes = append([]string(nil), r.RequiredScopes...)
	if r.Constraints != nil {
		out.Constraints = make(map[string]any, len(r.Constraints))
		for k, v := range r.Constraints {
			out.Constraints[k] = v
		}
	}
	return &out
}

// PolicyStore persists PolicyRecord rows keyed by api id.
type PolicyStore interface {
	ListPolicies(ctx context.Context) ([]*PolicyRecord, error)
	GetPolicy(ctx context.Context, apiID string) (*PolicyRecord, error)
	UpsertPolicy(ctx context.Context, record *PolicyRecord) error
	DeletePolicy(ctx context.Context, apiID string) error
	Close() error
}
