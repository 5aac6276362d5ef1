// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lattice Contributors

// Package policy materializes plugin API defaults and administrator
// overrides into an immutable, versioned snapshot, and serves the hot
// policy read path over it.
package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/lattice-dev/lattice/internal/store"
	latterr "github.com/lattice-dev/lattice/pkg/errors"
	"github.com/lattice-dev/lattice/pkg/plugin"
)

// Entry sources.
const (
	SourcePlugin   = "plugin"
	SourceDatabase = "database"
)

// SnapshotEntry is the resolved policy for one API in the materialized
// snapshot: a plugin default, a database override, or their union with the
// database winning on every field except the api id.
type SnapshotEntry struct {
	APIID          string            `json:"api_id"`
	PluginID       string            `json:"plugin_id"`
	Enabled        bool              `json:"enabled"`
	Visibility     plugin.Visibility `json:"visibility"`
	RequiredScopes []string          `json:"required_scopes"`
	Constraints    map[string]any    `json:"constraints"`
	Source         string            `json:"source"`
	UpdatedAt      *time.Time        `json:"updated_at,omitempty"`
}

// PluginDefault pairs a plugin id with one of its declared API definitions.
type PluginDefault struct {
	PluginID   string
	Definition plugin.APIDefinition
}

// Builder merges plugin defaults with persisted policy records and writes
// the snapshot artifact plus its version marker. Both writes are atomic
// (write to temporary file, then rename); both must succeed or the build
// fails.
type Builder struct {
	policies     store.PolicyStore
	snapshotPath string
	versionPath  string
}

// NewBuilder creates a Builder writing to snapshotPath and versionPath.
func NewBuilder(policies store.PolicyStore, snapshotPath, versionPath string) *Builder {
	return &Builder{
		policies:     policies,
		snapshotPath: snapshotPath,
		versionPath:  versionPath,
	}
}

// Build rebuilds the snapshot from scratch: every plugin default (enabled,
// source=plugin) overlaid with every persisted policy record (database wins
// on every field except api_id; database-only rows appear standalone).
func (b *Builder) Build(ctx context.Context, defaults []PluginDefault) error {
	entries := make(map[string]*SnapshotEntry, len(defaults))

	for _, def := range defaults {
		d := def.Definition.Normalize()
		entries[d.APIID] = &SnapshotEntry{
			APIID:          d.APIID,
			PluginID:       def.PluginID,
			Enabled:        true,
			Visibility:     d.VisibilityDefault,
			RequiredScopes: ensureScopes(d.RequiredScopesDefault),
			Constraints:    map[string]any{},
			Source:         SourcePlugin,
		}
	}

	records, err := b.policies.ListPolicies(ctx)
	if err != nil {
		return latterr.Wrap(err, latterr.CodePolicySnapshotWriteFailure, "listing policy overrides")
	}

	for _, rec := range records {
		updated := rec.UpdatedAt
		entry, ok := entries[rec.APIID]
		if !ok {
			entry = &SnapshotEntry{
				APIID:    rec.APIID,
				PluginID: rec.PluginID,
			}
			entries[rec.APIID] = entry
		}

		entry.Enabled = rec.Enabled
		entry.Visibility = rec.Visibility
		entry.RequiredScopes = ensureScopes(rec.RequiredScopes)
		entry.Constraints = ensureConstraints(rec.Constraints)
		entry.Source = SourceDatabase
		if !updated.IsZero() {
			entry.UpdatedAt = &updated
		}
	}

	data, err := marshalSnapshot(entries)
	if err != nil {
		return err
	}

	if err := writeAtomic(b.snapshotPath, data); err != nil {
		return latterr.Wrap(err, latterr.CodePolicySnapshotWriteFailure, "writing snapshot")
	}

	version := strconv.FormatInt(time.Now().UnixNano(), 10)
	if err := writeAtomic(b.versionPath, []byte(version)); err != nil {
		return latterr.Wrap(err, latterr.CodePolicySnapshotWriteFailure, "writing version marker")
	}

	return nil
}

// marshalSnapshot serializes entries deterministically: encoding/json sorts
// object keys, so identical inputs produce byte-identical artifacts.
func marshalSnapshot(entries map[string]*SnapshotEntry) ([]byte, error) {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, latterr.Wrap(err, latterr.CodePolicySnapshotWriteFailure, "serializing snapshot")
	}

	return data, nil
}

// writeAtomic writes data to a temporary file in path's directory and
// renames it into place, so readers never observe a half-written file.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}

	return nil
}

func ensureScopes(scopes []string) []string {
	if scopes == nil {
		return []string{}
	}
	return scopes
}

func ensureConstraints(constraints map[string]any) map[string]any {
	if constraints == nil {
		return map[string]any{}
	}
	return constraints
}
