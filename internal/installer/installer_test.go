// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lattice Contributors

package installer_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lattice-dev/lattice/internal/deps"
	"github.com/lattice-dev/lattice/internal/fetch"
	"github.com/lattice-dev/lattice/internal/installer"
	intplugin "github.com/lattice-dev/lattice/internal/plugin"
	"github.com/lattice-dev/lattice/internal/policy"
	"github.com/lattice-dev/lattice/internal/registry"
	"github.com/lattice-dev/lattice/internal/store"
	latterr "github.com/lattice-dev/lattice/pkg/errors"
	"github.com/lattice-dev/lattice/pkg/plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hostManifest = `{"name": "host/app", "require": {"php": ">=8.1"}}`
const hostLock = `{"content-hash": "0123abcd"}`

type weatherExtension struct{}

func (weatherExtension) APIDefinitions() []plugin.APIDefinition {
	return []plugin.APIDefinition{{
		APIID:                 "weather.forecast",
		VisibilityDefault:     plugin.VisibilityPublic,
		RequiredScopesDefault: []string{"read"},
	}}
}

type harness struct {
	installer  *installer.Installer
	projectDir string
	pluginsDir string
	snapPath   string
}

// newHarness wires an installer against stub git and composer binaries. The
// git stub copies fixture into the clone destination; the composer stub logs
// its argv to args.log, mutates the host manifest on "require" so restores
// are observable, and exits 1 when the first argument matches failOn.
func newHarness(t *testing.T, fixture, failOn string) *harness {
	t.Helper()
	root := t.TempDir()

	projectDir := filepath.Join(root, "project")
	require.NoError(t, os.MkdirAll(projectDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, "composer.json"), []byte(hostManifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, "composer.lock"), []byte(hostLock), 0o644))

	gitScript := `#!/bin/sh
for dest; do :; done
mkdir -p "$dest"
cp -r "` + fixture + `/." "$dest"
`
	git := filepath.Join(root, "git")
	require.NoError(t, os.WriteFile(git, []byte(gitScript), 0o755))

	composerScript := `#!/bin/sh
echo "$@" >> "` + filepath.Join(projectDir, "args.log") + `"
if [ "$1" = "` + failOn + `" ]; then
  echo "simulated failure" >&2
  exit 1
fi
if [ "$1" = "require" ]; then
  echo '{"name": "host/app", "require": {"mutated": "*"}}' > "` + filepath.Join(projectDir, "composer.json") + `"
fi
echo ok
`
	composer := filepath.Join(root, "composer")
	require.NoError(t, os.WriteFile(composer, []byte(composerScript), 0o755))

	pluginsDir := filepath.Join(root, "plugins")
	snapPath := filepath.Join(root, "policy", "policies.json")
	verPath := filepath.Join(root, "policy", "policies.version")

	reg := registry.NewRegistry()
	reg.Register("acme.weather", func() (plugin.Extension, error) {
		return weatherExtension{}, nil
	})

	inst := installer.New(
		registry.NewValidator("github.com", nil, false),
		fetch.NewDownloader(filepath.Join(root, "work"), git, 5*time.Second, 10*time.Millisecond),
		deps.NewReconciler(projectDir, composer, "composer.json", "composer.lock", 5*time.Second),
		intplugin.NewManager(pluginsDir, reg),
		policy.NewBuilder(store.NewMemoryPolicyStore(), snapPath, verPath),
		filepath.Join(root, "backups"),
	)

	return &harness{
		installer:  inst,
		projectDir: projectDir,
		pluginsDir: pluginsDir,
		snapPath:   snapPath,
	}
}

// makePlugin writes a plugin fixture tree. deps, when non-empty, becomes the
// plugin's own composer.json require block.
func makePlugin(t *testing.T, id string, deps map[string]string) string {
	t.Helper()
	dir := t.TempDir()

	manifest := map[string]string{
		"id":      id,
		"name":    "Acme Weather",
		"version": "1.0.0",
		"entry":   "acme.weather",
	}
	data, err := json.Marshal(manifest)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.json"), data, 0o644))

	if len(deps) > 0 {
		doc, err := json.Marshal(map[string]any{"require": deps})
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "composer.json"), doc, 0o644))
	}

	return dir
}

func (h *harness) manifestBytes(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(h.projectDir, "composer.json"))
	require.NoError(t, err)
	return string(data)
}

func (h *harness) lockBytes(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(h.projectDir, "composer.lock"))
	require.NoError(t, err)
	return string(data)
}

func (h *harness) argsLog(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(h.projectDir, "args.log"))
	if os.IsNotExist(err) {
		return ""
	}
	require.NoError(t, err)
	return string(data)
}

func (h *harness) snapshot(t *testing.T) map[string]*policy.SnapshotEntry {
	t.Helper()
	data, err := os.ReadFile(h.snapPath)
	require.NoError(t, err)
	var entries map[string]*policy.SnapshotEntry
	require.NoError(t, json.Unmarshal(data, &entries))
	return entries
}

func TestInstall_NoPackageDependencies(t *testing.T) {
	h := newHarness(t, makePlugin(t, "acme-weather", nil), "")

	res := h.installer.Install(context.Background(), "https://github.com/acme/weather", "v1.0.0", installer.Options{})
	require.NoError(t, res.Err)
	assert.True(t, res.Success)
	assert.False(t, res.RollbackPerformed)
	assert.Equal(t, "acme-weather", res.PluginID)
	assert.Equal(t, filepath.Join(h.pluginsDir, "acme-weather"), res.PluginDir)
	assert.DirExists(t, res.PluginDir)

	entry := h.snapshot(t)["weather.forecast"]
	require.NotNil(t, entry)
	assert.True(t, entry.Enabled)
	assert.Equal(t, "acme-weather", entry.PluginID)
	assert.Equal(t, policy.SourcePlugin, entry.Source)

	log := h.argsLog(t)
	assert.Contains(t, log, "config repositories.acme-weather path")
	assert.Contains(t, log, "require lattice-plugins/acme-weather:* --no-update")
	assert.Contains(t, log, "update lattice-plugins/acme-weather")
}

func TestInstall_ConfirmationRequired(t *testing.T) {
	h := newHarness(t, makePlugin(t, "acme-weather", map[string]string{
		"php":               ">=8.1",
		"vendor/dependency": "^2.0",
	}), "")
	before := h.manifestBytes(t)

	res := h.installer.Install(context.Background(), "https://github.com/acme/weather", "v1.0.0", installer.Options{})
	assert.False(t, res.Success)
	assert.True(t, res.RequiresConfirmation)
	assert.False(t, res.RollbackPerformed)
	assert.Equal(t, []string{"vendor/dependency:^2.0"}, res.Dependencies)
	assert.True(t, latterr.IsConfirmationRequired(res.Err))

	// Soft outcome: nothing was mutated and no subprocess ran.
	assert.NoDirExists(t, filepath.Join(h.pluginsDir, "acme-weather"))
	assert.Equal(t, before, h.manifestBytes(t))
	assert.Empty(t, h.argsLog(t))
}

func TestInstall_AcceptedDependencies(t *testing.T) {
	h := newHarness(t, makePlugin(t, "acme-weather", map[string]string{
		"vendor/dependency": "^2.0",
	}), "")

	res := h.installer.Install(context.Background(), "https://github.com/acme/weather", "v1.0.0",
		installer.Options{AcceptDependencies: true})
	require.NoError(t, res.Err)
	assert.True(t, res.Success)
	assert.DirExists(t, filepath.Join(h.pluginsDir, "acme-weather"))
}

func TestInstall_DependencyFailureRollsBack(t *testing.T) {
	h := newHarness(t, makePlugin(t, "acme-weather", nil), "update")
	manifestBefore := h.manifestBytes(t)
	lockBefore := h.lockBytes(t)

	res := h.installer.Install(context.Background(), "https://github.com/acme/weather", "v1.0.0", installer.Options{})
	assert.False(t, res.Success)
	assert.True(t, res.RollbackPerformed)
	require.Error(t, res.Err)
	assert.Equal(t, latterr.CodeDepsCommandFailure, latterr.CodeOf(res.Err))

	// Atomic manifest invariant: byte-identical restore, even though the
	// require step rewrote the manifest before the update step failed.
	assert.Equal(t, manifestBefore, h.manifestBytes(t))
	assert.Equal(t, lockBefore, h.lockBytes(t))
	// No partial plugin invariant.
	assert.NoDirExists(t, filepath.Join(h.pluginsDir, "acme-weather"))
	// The rollback resynchronized with scripts disabled.
	assert.Contains(t, h.argsLog(t), "install --no-scripts")
}

func TestInstall_InvalidRefIsPlainFailure(t *testing.T) {
	h := newHarness(t, makePlugin(t, "acme-weather", nil), "")

	res := h.installer.Install(context.Background(), "https://github.com/acme/weather", "main", installer.Options{})
	assert.False(t, res.Success)
	assert.False(t, res.RollbackPerformed)
	assert.Equal(t, latterr.CodeRegistryRefInvalid, latterr.CodeOf(res.Err))
	assert.Empty(t, h.argsLog(t))
}

func TestInstall_AlreadyInstalled(t *testing.T) {
	h := newHarness(t, makePlugin(t, "acme-weather", nil), "")

	first := h.installer.Install(context.Background(), "https://github.com/acme/weather", "v1.0.0", installer.Options{})
	require.True(t, first.Success)

	res := h.installer.Install(context.Background(), "https://github.com/acme/weather", "v1.0.0", installer.Options{})
	assert.False(t, res.Success)
	assert.False(t, res.RollbackPerformed)
	assert.True(t, latterr.IsConflict(res.Err))
	// The first install survives untouched.
	assert.DirExists(t, filepath.Join(h.pluginsDir, "acme-weather"))
}

func TestInstall_BadManifestRollsBack(t *testing.T) {
	fixture := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(fixture, "plugin.json"), []byte(`{"id": "UPPER"}`), 0o644))
	h := newHarness(t, fixture, "")

	res := h.installer.Install(context.Background(), "https://github.com/acme/weather", "v1.0.0", installer.Options{})
	assert.False(t, res.Success)
	assert.True(t, res.RollbackPerformed)
	assert.Equal(t, latterr.CodePluginManifestInvalid, latterr.CodeOf(res.Err))
}

func TestUninstall_RemovesPluginAndRebuilds(t *testing.T) {
	h := newHarness(t, makePlugin(t, "acme-weather", nil), "")

	res := h.installer.Install(context.Background(), "https://github.com/acme/weather", "v1.0.0", installer.Options{})
	require.True(t, res.Success)
	require.NotNil(t, h.snapshot(t)["weather.forecast"])
	require.NoError(t, os.Remove(filepath.Join(h.projectDir, "args.log")))

	un := h.installer.Uninstall(context.Background(), "acme-weather")
	require.NoError(t, un.Err)
	assert.True(t, un.Success)
	assert.False(t, un.RollbackPerformed)

	assert.NoDirExists(t, filepath.Join(h.pluginsDir, "acme-weather"))
	assert.Contains(t, h.argsLog(t), "remove lattice-plugins/acme-weather --no-update")
	assert.NotContains(t, h.snapshot(t), "weather.forecast")
}

func TestUninstall_MissingPlugin(t *testing.T) {
	h := newHarness(t, makePlugin(t, "acme-weather", nil), "")

	res := h.installer.Uninstall(context.Background(), "ghost-plugin")
	assert.False(t, res.Success)
	assert.False(t, res.RollbackPerformed)
	assert.True(t, latterr.IsNotFound(res.Err))
}

func TestUninstall_RejectsUnsafeID(t *testing.T) {
	h := newHarness(t, makePlugin(t, "acme-weather", nil), "")

	for _, id := range []string{"../escape", "UPPER", "double--dash", "-leading"} {
		res := h.installer.Uninstall(context.Background(), id)
		assert.False(t, res.Success, "id %q", id)
		assert.Equal(t, latterr.CodePluginIDInvalid, latterr.CodeOf(res.Err), "id %q", id)
	}
}

func TestUninstall_RemoveFailureRestoresPlugin(t *testing.T) {
	h := newHarness(t, makePlugin(t, "acme-weather", nil), "remove")

	res := h.installer.Install(context.Background(), "https://github.com/acme/weather", "v1.0.0", installer.Options{})
	require.True(t, res.Success)
	manifestBefore := h.manifestBytes(t)

	un := h.installer.Uninstall(context.Background(), "acme-weather")
	assert.False(t, un.Success)
	assert.True(t, un.RollbackPerformed)

	// The plugin directory and manifests are back in their pre-call state.
	assert.DirExists(t, filepath.Join(h.pluginsDir, "acme-weather"))
	assert.FileExists(t, filepath.Join(h.pluginsDir, "acme-weather", "plugin.json"))
	assert.Equal(t, manifestBefore, h.manifestBytes(t))
}
