// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lattice Contributors

package deps_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lattice-dev/lattice/internal/deps"
	latterr "github.com/lattice-dev/lattice/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeStubComposer writes an executable script that appends its argv to
// args.log and exits 0, or exits 1 when the first argument matches failOn.
func writeStubComposer(t *testing.T, dir, failOn string) string {
	t.Helper()
	script := `#!/bin/sh
echo "$@" >> "` + filepath.Join(dir, "args.log") + `"
if [ "$1" = "` + failOn + `" ]; then
  echo "simulated failure" >&2
  exit 1
fi
echo ok
`
	path := filepath.Join(dir, "composer")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func argsLog(t *testing.T, dir string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, "args.log"))
	if os.IsNotExist(err) {
		return ""
	}
	require.NoError(t, err)
	return string(data)
}

func newReconciler(t *testing.T, failOn string) (*deps.Reconciler, string) {
	t.Helper()
	dir := t.TempDir()
	binary := writeStubComposer(t, dir, failOn)
	r := deps.NewReconciler(dir, binary, "composer.json", "composer.lock", 5*time.Second)
	return r, dir
}

func TestAnalyze_Classification(t *testing.T) {
	r, _ := newReconciler(t, "")

	analysis := r.Analyze(map[string]string{
		"vendor/pkg-b":  "^2.0",
		"vendor/pkg-a":  "^1.0",
		"ext-curl":      "*",
		"php":           ">=8.1",
		"composer-api":  "^2",
		"Not A Package": "1.0",
	})

	require.Len(t, analysis.Packages, 2)
	assert.Equal(t, "vendor/pkg-a", analysis.Packages[0].Package)
	assert.Equal(t, "vendor/pkg-b", analysis.Packages[1].Package)

	require.Len(t, analysis.Platform, 3)
	assert.Equal(t, "composer-api", analysis.Platform[0].Package)
	assert.Equal(t, "ext-curl", analysis.Platform[1].Package)
	assert.Equal(t, "php", analysis.Platform[2].Package)

	// The unparseable declaration is dropped everywhere.
	assert.Len(t, analysis.Dependencies, 5)
	assert.True(t, analysis.RequiresConfirmation)
}

func TestAnalyze_PlatformOnlyNeedsNoConfirmation(t *testing.T) {
	r, _ := newReconciler(t, "")

	analysis := r.Analyze(map[string]string{"php": ">=8.1", "ext-json": "*"})
	assert.False(t, analysis.RequiresConfirmation)
	assert.Empty(t, analysis.Packages)
}

func TestDeclaredDependencies_ExcludesRuntime(t *testing.T) {
	r, _ := newReconciler(t, "")

	pluginDir := t.TempDir()
	manifest := `{"require": {"php": ">=8.1", "vendor/dependency": "^2.0"}}`
	require.NoError(t, os.WriteFile(filepath.Join(pluginDir, "composer.json"), []byte(manifest), 0o644))

	declared, err := r.DeclaredDependencies(pluginDir)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"vendor/dependency": "^2.0"}, declared)
}

func TestDeclaredDependencies_MissingManifest(t *testing.T) {
	r, _ := newReconciler(t, "")

	declared, err := r.DeclaredDependencies(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, declared)
}

func TestAddPathRepository_Idempotent(t *testing.T) {
	r, dir := newReconciler(t, "")

	manifest := `{"repositories": [{"type": "path", "url": "plugins/acme-weather"}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "composer.json"), []byte(manifest), 0o644))

	// Equivalent normalized path: no subprocess call.
	res, err := r.AddPathRepository(context.Background(), filepath.Join(dir, "plugins", "acme-weather"))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, argsLog(t, dir))

	// A different path is inserted via the package manager.
	res, err = r.AddPathRepository(context.Background(), filepath.Join(dir, "plugins", "other"))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, argsLog(t, dir), "config repositories.other path")
}

func TestRequirePackage_NoUpdate(t *testing.T) {
	r, dir := newReconciler(t, "")

	res, err := r.RequirePackage(context.Background(), "vendor/dependency", "^2.0")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Command, "require vendor/dependency:^2.0 --no-update")
	assert.Contains(t, argsLog(t, dir), "--no-update")
}

func TestRequirePackage_RejectsInjection(t *testing.T) {
	r, dir := newReconciler(t, "")

	_, err := r.RequirePackage(context.Background(), "vendor/pkg; rm -rf /", "^1.0")
	require.Error(t, err)
	assert.Equal(t, latterr.CodeDepsPackageInvalid, latterr.CodeOf(err))

	_, err = r.RequirePackage(context.Background(), "vendor/pkg", "--dangerous")
	require.Error(t, err)

	assert.Empty(t, argsLog(t, dir))
}

func TestUpdatePackage_Failure(t *testing.T) {
	r, _ := newReconciler(t, "update")

	res, err := r.UpdatePackage(context.Background(), "vendor/dependency")
	require.Error(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.ErrorOutput, "simulated failure")
	assert.Equal(t, latterr.CodeDepsCommandFailure, latterr.CodeOf(err))
}

func TestRemovePackage_CombinesBothSteps(t *testing.T) {
	r, dir := newReconciler(t, "")

	res, err := r.RemovePackage(context.Background(), "vendor/dependency")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.Command, "remove vendor/dependency --no-update")
	assert.Contains(t, res.Command, " && ")
	assert.Contains(t, res.Command, "update vendor/dependency")

	log := argsLog(t, dir)
	assert.Contains(t, log, "remove vendor/dependency")
	assert.Contains(t, log, "update vendor/dependency")
}

func TestRemovePackage_FailsIfEitherStepFails(t *testing.T) {
	r, _ := newReconciler(t, "update")

	res, err := r.RemovePackage(context.Background(), "vendor/dependency")
	require.Error(t, err)
	assert.False(t, res.Success)
}

func TestReinstallLocked_DisablesScripts(t *testing.T) {
	r, dir := newReconciler(t, "")

	res, err := r.ReinstallLocked(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, argsLog(t, dir), "install --no-scripts")
}
