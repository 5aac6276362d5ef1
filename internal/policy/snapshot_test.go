// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lattice Contributors

package policy_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/lattice-dev/lattice/internal/policy"
	"github.com/lattice-dev/lattice/internal/store"
	"github.com/lattice-dev/lattice/pkg/plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func weatherDefault() policy.PluginDefault {
	return policy.PluginDefault{
		PluginID: "acme-weather",
		Definition: plugin.APIDefinition{
			APIID:                 "weather.forecast",
			VisibilityDefault:     plugin.VisibilityPublic,
			RequiredScopesDefault: []string{"read"},
		},
	}
}

func buildPaths(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "policies.json"), filepath.Join(dir, "policies.version")
}

func readSnapshot(t *testing.T, path string) map[string]*policy.SnapshotEntry {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var entries map[string]*policy.SnapshotEntry
	require.NoError(t, json.Unmarshal(data, &entries))
	return entries
}

func TestBuilder_PluginDefaultsOnly(t *testing.T) {
	snapPath, verPath := buildPaths(t)
	b := policy.NewBuilder(store.NewMemoryPolicyStore(), snapPath, verPath)

	require.NoError(t, b.Build(context.Background(), []policy.PluginDefault{weatherDefault()}))

	entries := readSnapshot(t, snapPath)
	require.Len(t, entries, 1)
	e := entries["weather.forecast"]
	require.NotNil(t, e)
	assert.Equal(t, "acme-weather", e.PluginID)
	assert.True(t, e.Enabled)
	assert.Equal(t, plugin.VisibilityPublic, e.Visibility)
	assert.Equal(t, []string{"read"}, e.RequiredScopes)
	assert.Equal(t, policy.SourcePlugin, e.Source)
	assert.Nil(t, e.UpdatedAt)

	version, err := os.ReadFile(verPath)
	require.NoError(t, err)
	assert.NotEmpty(t, version)
}

func TestBuilder_OverrideWins(t *testing.T) {
	snapPath, verPath := buildPaths(t)
	policies := store.NewMemoryPolicyStore()
	require.NoError(t, policies.UpsertPolicy(context.Background(), &store.PolicyRecord{
		APIID:          "weather.forecast",
		PluginID:       "acme-weather",
		Enabled:        false,
		Visibility:     plugin.VisibilityPrivate,
		RequiredScopes: []string{"admin"},
	}))

	b := policy.NewBuilder(policies, snapPath, verPath)
	require.NoError(t, b.Build(context.Background(), []policy.PluginDefault{weatherDefault()}))

	e := readSnapshot(t, snapPath)["weather.forecast"]
	require.NotNil(t, e)
	assert.False(t, e.Enabled)
	assert.Equal(t, plugin.VisibilityPrivate, e.Visibility)
	assert.Equal(t, []string{"admin"}, e.RequiredScopes)
	assert.Equal(t, policy.SourceDatabase, e.Source)
	require.NotNil(t, e.UpdatedAt)
	assert.False(t, e.UpdatedAt.IsZero())
}

func TestBuilder_DatabaseOnlyEntry(t *testing.T) {
	snapPath, verPath := buildPaths(t)
	policies := store.NewMemoryPolicyStore()
	require.NoError(t, policies.UpsertPolicy(context.Background(), &store.PolicyRecord{
		APIID:      "orphan.api",
		PluginID:   "gone-plugin",
		Enabled:    true,
		Visibility: plugin.VisibilityPublic,
	}))

	b := policy.NewBuilder(policies, snapPath, verPath)
	require.NoError(t, b.Build(context.Background(), nil))

	e := readSnapshot(t, snapPath)["orphan.api"]
	require.NotNil(t, e)
	assert.Equal(t, "gone-plugin", e.PluginID)
	assert.Equal(t, policy.SourceDatabase, e.Source)
}

func TestBuilder_Deterministic(t *testing.T) {
	snapPath, verPath := buildPaths(t)
	b := policy.NewBuilder(store.NewMemoryPolicyStore(), snapPath, verPath)

	defaults := []policy.PluginDefault{
		weatherDefault(),
		{
			PluginID: "acme-maps",
			Definition: plugin.APIDefinition{
				APIID:             "maps.route",
				VisibilityDefault: plugin.VisibilityPrivate,
			},
		},
	}

	require.NoError(t, b.Build(context.Background(), defaults))
	first, err := os.ReadFile(snapPath)
	require.NoError(t, err)

	require.NoError(t, b.Build(context.Background(), defaults))
	second, err := os.ReadFile(snapPath)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestBuilder_VersionMarkerAdvances(t *testing.T) {
	snapPath, verPath := buildPaths(t)
	b := policy.NewBuilder(store.NewMemoryPolicyStore(), snapPath, verPath)

	require.NoError(t, b.Build(context.Background(), nil))
	first, err := os.ReadFile(verPath)
	require.NoError(t, err)

	require.NoError(t, b.Build(context.Background(), nil))
	second, err := os.ReadFile(verPath)
	require.NoError(t, err)

	assert.NotEqual(t, string(first), string(second))
}
