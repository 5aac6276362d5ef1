// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lattice Contributors

// Package installer orchestrates the transactional plugin install and
// uninstall pipeline: validate, download, reconcile dependencies, promote,
// and rebuild the policy snapshot, with full backup and rollback.
package installer

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/lattice-dev/lattice/internal/deps"
	"github.com/lattice-dev/lattice/internal/fetch"
	"github.com/lattice-dev/lattice/internal/plugin"
	"github.com/lattice-dev/lattice/internal/policy"
	"github.com/lattice-dev/lattice/internal/registry"
	latterr "github.com/lattice-dev/lattice/pkg/errors"
)

// packageVendor is the vendor segment plugins are declared under in the host
// dependency manifest. A plugin's path package is packageVendor/<plugin id>.
const packageVendor = "lattice-plugins"

// Options tunes one install call.
type Options struct {
	// AcceptDependencies confirms installation of the plugin's ordinary
	// package dependencies up front. Without it, a plugin that declares any
	// package dependency returns the soft confirmation outcome instead of
	// installing.
	AcceptDependencies bool
}

// Result is the structured outcome of an install or uninstall. Errors never
// cross the installer boundary any other way.
type Result struct {
	Success bool
	Err     error

	// RequiresConfirmation marks the soft outcome: the plugin declares
	// package dependencies and the caller did not accept them. Nothing was
	// mutated; retry with Options.AcceptDependencies.
	RequiresConfirmation bool
	// Dependencies lists the package dependencies awaiting confirmation,
	// rendered as package:constraint.
	Dependencies []string

	PluginID  string
	PluginDir string
	// RollbackPerformed is true when a mutation had to be reverted. Plain
	// validation failures and the confirmation outcome never set it.
	RollbackPerformed bool
}

// Installer runs installs and uninstalls against a single host project. It is
// not safe for concurrent invocation across processes; within one process an
// internal mutex serializes calls.
type Installer struct {
	mu sync.Mutex

	validator  *registry.Validator
	downloader *fetch.Downloader
	deps       *deps.Reconciler
	manager    *plugin.Manager
	builder    *policy.Builder

	backupRoot string
}

// New creates an Installer. backupRoot holds per-transaction backup bundles.
func New(
	validator *registry.Validator,
	downloader *fetch.Downloader,
	reconciler *deps.Reconciler,
	manager *plugin.Manager,
	builder *policy.Builder,
	backupRoot string,
) *Installer {
	return &Installer{
		validator:  validator,
		downloader: downloader,
		deps:       reconciler,
		manager:    manager,
		builder:    builder,
		backupRoot: backupRoot,
	}
}

// Install runs the full install pipeline for sourceURL at ref.
func (i *Installer) Install(ctx context.Context, sourceURL, ref string, opts Options) *Result {
	i.mu.Lock()
	defer i.mu.Unlock()

	tx := newTransaction(i.backupRoot)
	log := slog.With("transaction", tx.id, "source", sourceURL, "ref", ref)
	log.Info("starting plugin install")

	// Backups come first: every later failure can assume a restore point.
	if err := tx.backupManifests(i.deps.ManifestPath(), i.deps.LockPath()); err != nil {
		tx.discard()
		return &Result{Err: err}
	}
	tx.state = stateBackedUp

	validated, err := i.validator.Validate(sourceURL, ref)
	if err != nil {
		// No mutation has happened; this is a plain failure, not a rollback.
		tx.discard()
		return &Result{Err: err}
	}
	tx.state = stateRepoValidated

	download, err := i.downloader.Download(ctx, validated.CanonicalURL, ref, "staging-"+tx.id)
	if download != nil {
		tx.stagingDir = download.Destination
	}
	if err != nil {
		return i.rollback(tx, log, err)
	}
	tx.state = stateDownloaded

	manifest, err := plugin.LoadManifest(tx.stagingDir)
	if err != nil {
		return i.rollback(tx, log, err)
	}
	tx.state = stateMetadataParsed
	log = log.With("plugin", manifest.ID)

	if !plugin.ValidID(manifest.ID) {
		return i.rollback(tx, log, latterr.Errorf(latterr.CodePluginIDInvalid,
			"plugin id %q is not a filesystem-safe token", manifest.ID))
	}
	tx.state = stateIDChecked
	tx.targetDir = i.manager.Dir(manifest.ID)

	if _, err := os.Stat(tx.targetDir); err == nil {
		// Already installed. Only the staging download exists; discard it
		// and the untouched backups rather than running a rollback.
		i.discardStaging(tx)
		tx.discard()
		return &Result{
			PluginID: manifest.ID,
			Err: latterr.New(latterr.CodeInstallAlreadyInstalled,
				"plugin is already installed", latterr.FieldPlugin(manifest.ID)),
		}
	}
	tx.state = stateNotInstalled

	declared, err := i.deps.DeclaredDependencies(tx.stagingDir)
	if err != nil {
		return i.rollback(tx, log, err)
	}
	analysis := i.deps.Analyze(declared)
	tx.state = stateDepsAnalyzed

	if analysis.RequiresConfirmation && !opts.AcceptDependencies {
		tx.state = stateAwaitingConfirmation
		i.discardStaging(tx)
		tx.discard()
		log.Info("install awaiting dependency confirmation",
			"dependencies", len(analysis.Packages))
		return &Result{
			RequiresConfirmation: true,
			Dependencies:         renderDependencies(analysis.Packages),
			PluginID:             manifest.ID,
			Err: latterr.New(latterr.CodeInstallConfirmationRequired,
				"plugin dependencies require confirmation", latterr.FieldPlugin(manifest.ID)),
		}
	}

	if err := i.installDependencies(ctx, tx, manifest.ID); err != nil {
		return i.rollback(tx, log, err)
	}
	tx.state = stateDepsInstalled

	if err := os.MkdirAll(i.manager.PluginsDir(), 0o755); err != nil {
		return i.rollback(tx, log, latterr.Wrap(err, latterr.CodeInstallMoveFailure,
			"creating plugins directory", latterr.FieldPlugin(manifest.ID)))
	}
	if err := os.Rename(tx.stagingDir, tx.targetDir); err != nil {
		return i.rollback(tx, log, latterr.Wrap(err, latterr.CodeInstallMoveFailure,
			"promoting staged plugin", latterr.FieldPlugin(manifest.ID)))
	}
	tx.pluginMoved = true
	tx.state = stateMoved

	if err := i.refreshSnapshot(ctx); err != nil {
		return i.rollback(tx, log, err)
	}
	tx.state = stateSnapshotRefreshed

	tx.discard()
	tx.state = stateCommitted
	log.Info("plugin installed", "dir", tx.targetDir)

	return &Result{
		Success:   true,
		PluginID:  manifest.ID,
		PluginDir: tx.targetDir,
	}
}

// Uninstall removes an installed plugin and its dependency declaration.
func (i *Installer) Uninstall(ctx context.Context, pluginID string) *Result {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !plugin.ValidID(pluginID) {
		return &Result{
			PluginID: pluginID,
			Err: latterr.Errorf(latterr.CodePluginIDInvalid,
				"plugin id %q is not a filesystem-safe token", pluginID),
		}
	}

	targetDir := i.manager.Dir(pluginID)
	if _, err := os.Stat(targetDir); err != nil {
		return &Result{
			PluginID: pluginID,
			Err: latterr.New(latterr.CodeUninstallTargetMissing,
				"plugin is not installed", latterr.FieldPlugin(pluginID)),
		}
	}

	tx := newTransaction(i.backupRoot)
	tx.targetDir = targetDir
	log := slog.With("transaction", tx.id, "plugin", pluginID)
	log.Info("starting plugin uninstall")

	if err := tx.backupManifests(i.deps.ManifestPath(), i.deps.LockPath()); err != nil {
		tx.discard()
		return &Result{PluginID: pluginID, Err: err}
	}
	tx.state = stateBackedUp
	tx.state = stateTargetExists

	if err := tx.backupPluginDir(targetDir); err != nil {
		tx.discard()
		return &Result{PluginID: pluginID, Err: err}
	}
	tx.state = statePluginBackedUp

	if _, err := i.deps.RemovePackage(ctx, pluginPackage(pluginID)); err != nil {
		res := i.rollback(tx, log, err)
		res.PluginID = pluginID
		return res
	}
	tx.state = stateDepsRemoved

	if err := os.RemoveAll(targetDir); err != nil {
		res := i.rollback(tx, log, latterr.Wrap(err, latterr.CodeInstallMoveFailure,
			"deleting plugin directory", latterr.FieldPlugin(pluginID)))
		res.PluginID = pluginID
		return res
	}
	tx.pluginMoved = true
	tx.state = stateDeleted

	if err := i.refreshSnapshot(ctx); err != nil {
		res := i.rollback(tx, log, err)
		res.PluginID = pluginID
		return res
	}
	tx.state = stateSnapshotRefreshed

	tx.discard()
	tx.state = stateCommitted
	log.Info("plugin uninstalled")

	return &Result{Success: true, PluginID: pluginID}
}

// installDependencies runs the manifest mutation sequence: register the final
// plugin directory as a local path source, declare the plugin's path package,
// then resolve it.
func (i *Installer) installDependencies(ctx context.Context, tx *transaction, pluginID string) error {
	pkg := pluginPackage(pluginID)

	if _, err := i.deps.AddPathRepository(ctx, tx.targetDir); err != nil {
		return err
	}
	if _, err := i.deps.RequirePackage(ctx, pkg, "*"); err != nil {
		return err
	}
	if _, err := i.deps.UpdatePackage(ctx, pkg); err != nil {
		return err
	}

	return nil
}

// rollback reverts every mutation the transaction performed. It is
// best-effort: secondary failures are attached to the primary error as
// context, never raised on their own.
func (i *Installer) rollback(tx *transaction, log *slog.Logger, cause error) *Result {
	tx.state = stateRollingBack
	log.Warn("rolling back plugin transaction", "state", tx.state.String(), "error", cause)

	var secondary []error

	if tx.pluginBackupDir != "" {
		if err := tx.restorePluginDir(); err != nil {
			secondary = append(secondary, err)
		}
	} else if tx.pluginMoved {
		if err := os.RemoveAll(tx.targetDir); err != nil {
			secondary = append(secondary, err)
		}
	}
	i.discardStaging(tx)

	if err := tx.restoreManifests(); err != nil {
		secondary = append(secondary, err)
	}

	// Resynchronize dependency state from the restored lock artifact.
	// Scripts stay disabled: rollback must never execute plugin code.
	if _, err := i.deps.ReinstallLocked(context.Background()); err != nil {
		secondary = append(secondary, err)
	}

	tx.discard()
	tx.state = stateRolledBack

	err := cause
	for _, s := range secondary {
		log.Warn("rollback step failed", "error", s)
		err = latterr.With(err, latterr.Field("rollback_error", s.Error()))
	}

	return &Result{Err: err, RollbackPerformed: true}
}

// discardStaging removes the staged download, if any. Best-effort.
func (i *Installer) discardStaging(tx *transaction) {
	if tx.stagingDir == "" || tx.pluginMoved {
		return
	}
	if err := os.RemoveAll(tx.stagingDir); err != nil {
		slog.Warn("failed to remove staged download", "dir", tx.stagingDir, "error", err)
	}
}

// refreshSnapshot rebuilds the policy snapshot from the full current plugin
// set.
func (i *Installer) refreshSnapshot(ctx context.Context) error {
	loaded, err := i.manager.Load(ctx)
	if err != nil {
		return err
	}

	var defaults []policy.PluginDefault
	for _, lp := range loaded {
		for _, def := range lp.Definitions {
			defaults = append(defaults, policy.PluginDefault{
				PluginID:   lp.Manifest.ID,
				Definition: def,
			})
		}
	}

	return i.builder.Build(ctx, defaults)
}

func pluginPackage(pluginID string) string {
	return packageVendor + "/" + pluginID
}

func renderDependencies(packages []deps.Dependency) []string {
	rendered := make([]string, 0, len(packages))
	for _, dep := range packages {
		rendered = append(rendered, dep.String())
	}
	return rendered
}
