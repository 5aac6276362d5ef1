// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lattice Contributors

// Package plugin loads installed plugin manifests and resolves their entry
// points through the host registry.
package plugin

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lattice-dev/lattice/internal/registry"
	latterr "github.com/lattice-dev/lattice/pkg/errors"
	pubplugin "github.com/lattice-dev/lattice/pkg/plugin"
)

// Loaded is one installed plugin with its resolved API defaults.
type Loaded struct {
	Manifest    *Manifest
	Definitions []pubplugin.APIDefinition
}

// Manager loads plugins fresh from the plugins directory on every call.
// There is deliberately no caching across loads: installs and uninstalls
// mutate the directory and the next load must observe the current set.
type Manager struct {
	pluginsDir string
	registry   *registry.Registry
}

// NewManager creates a Manager over pluginsDir resolving entries via reg.
func NewManager(pluginsDir string, reg *registry.Registry) *Manager {
	return &Manager{
		pluginsDir: pluginsDir,
		registry:   reg,
	}
}

// PluginsDir returns the directory installed plugins live in.
func (m *Manager) PluginsDir() string {
	return m.pluginsDir
}

// Dir returns the directory a plugin with the given id would occupy.
func (m *Manager) Dir(id string) string {
	return filepath.Join(m.pluginsDir, id)
}

// Load scans the plugins directory and returns every loadable plugin with
// its normalized API definitions. Plugins with unreadable or invalid
// manifests, unregistered entries, or failing constructors are skipped with
// a warning rather than failing the whole load.
func (m *Manager) Load(ctx context.Context) ([]*Loaded, error) {
	entries, err := os.ReadDir(m.pluginsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, latterr.Wrap(err, latterr.CodePluginLoadFailure, "reading plugins directory")
	}

	var loaded []*Loaded

	for _, entry := range entries {
		if ctx.Err() != nil {
			return nil, latterr.Wrap(ctx.Err(), latterr.CodePluginLoadFailure, "plugin load cancelled")
		}
		if !entry.IsDir() {
			continue
		}

		dir := filepath.Join(m.pluginsDir, entry.Name())
		manifest, err := LoadManifest(dir)
		if err != nil {
			slog.Warn("skipping plugin: invalid manifest", "dir", dir, "error", err)
			continue
		}

		if manifest.ID != entry.Name() {
			slog.Warn("skipping plugin: directory name does not match manifest id",
				"dir", dir, "id", manifest.ID)
			continue
		}

		defs, err := m.resolveDefinitions(manifest)
		if err != nil {
			slog.Warn("skipping plugin: entry point failed",
				"plugin", manifest.ID, "entry", manifest.Entry, "error", err)
			continue
		}

		loaded = append(loaded, &Loaded{Manifest: manifest, Definitions: defs})
	}

	return loaded, nil
}

func (m *Manager) resolveDefinitions(manifest *Manifest) ([]pubplugin.APIDefinition, error) {
	factory, err := m.registry.Resolve(manifest.Entry)
	if err != nil {
		return nil, err
	}

	ext, err := factory()
	if err != nil {
		return nil, latterr.Wrap(err, latterr.CodePluginLoadFailure,
			"constructing entry point", latterr.FieldPlugin(manifest.ID))
	}

	var defs []pubplugin.APIDefinition
	for _, def := range ext.APIDefinitions() {
		def = def.Normalize()
		if err := def.Validate(); err != nil {
			slog.Warn("skipping api definition: invalid",
				"plugin", manifest.ID, "api_id", def.APIID, "error", err)
			continue
		}
		defs = append(defs, def)
	}

	return defs, nil
}
