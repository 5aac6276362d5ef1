// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lattice Contributors

package store_test

import (
	"context"
	"testing"

	"github.com/lattice-dev/lattice/internal/store"
	latterr "github.com/lattice-dev/lattice/pkg/errors"
	"github.com/lattice-dev/lattice/pkg/plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(apiID string) *store.PolicyRecord {
	return &store.PolicyRecord{
		APIID:          apiID,
		PluginID:       "acme-weather",
		Enabled:        true,
		Visibility:     plugin.VisibilityPrivate,
		RequiredScopes: []string{"read"},
		Constraints:    map[string]any{"rate_limit": "100/m"},
	}
}

func TestMemoryStore_UpsertGet(t *testing.T) {
	s := store.NewMemoryPolicyStore()
	ctx := context.Background()

	require.NoError(t, s.UpsertPolicy(ctx, record("weather.forecast")))

	got, err := s.GetPolicy(ctx, "weather.forecast")
	require.NoError(t, err)
	assert.Equal(t, "acme-weather", got.PluginID)
	assert.False(t, got.CreatedAt.IsZero())
	assert.False(t, got.UpdatedAt.IsZero())

	// Mutating the returned copy does not affect the store.
	got.RequiredScopes[0] = "mutated"
	again, err := s.GetPolicy(ctx, "weather.forecast")
	require.NoError(t, err)
	assert.Equal(t, []string{"read"}, again.RequiredScopes)
}

func TestMemoryStore_GetMissing(t *testing.T) {
	s := store.NewMemoryPolicyStore()

	_, err := s.GetPolicy(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, latterr.IsNotFound(err))
}

func TestMemoryStore_UpsertValidates(t *testing.T) {
	s := store.NewMemoryPolicyStore()

	err := s.UpsertPolicy(context.Background(), &store.PolicyRecord{APIID: "", Visibility: plugin.VisibilityPublic})
	assert.Error(t, err)

	err = s.UpsertPolicy(context.Background(), &store.PolicyRecord{APIID: "x", Visibility: "weird"})
	assert.Error(t, err)
}

func TestMemoryStore_ListSorted(t *testing.T) {
	s := store.NewMemoryPolicyStore()
	ctx := context.Background()

	require.NoError(t, s.UpsertPolicy(ctx, record("b.api")))
	require.NoError(t, s.UpsertPolicy(ctx, record("a.api")))

	list, err := s.ListPolicies(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a.api", list[0].APIID)
	assert.Equal(t, "b.api", list[1].APIID)
}

func TestMemoryStore_Delete(t *testing.T) {
	s := store.NewMemoryPolicyStore()
	ctx := context.Background()

	require.NoError(t, s.UpsertPolicy(ctx, record("weather.forecast")))
	require.NoError(t, s.DeletePolicy(ctx, "weather.forecast"))

	_, err := s.GetPolicy(ctx, "weather.forecast")
	assert.Error(t, err)

	// Deleting a missing record is not an error.
	assert.NoError(t, s.DeletePolicy(ctx, "weather.forecast"))
}

func TestNewPolicyStore_Factory(t *testing.T) {
	s, err := store.NewPolicyStore("memory", "")
	require.NoError(t, err)
	assert.NoError(t, s.Close())

	_, err = store.NewPolicyStore("exotic", "")
	require.Error(t, err)
	assert.Equal(t, latterr.CodeStoreBackendUnsupported, latterr.CodeOf(err))
}
