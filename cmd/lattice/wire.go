// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lattice Contributors

package main

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/lattice-dev/lattice/internal/config"
	"github.com/lattice-dev/lattice/internal/deps"
	"github.com/lattice-dev/lattice/internal/fetch"
	"github.com/lattice-dev/lattice/internal/installer"
	"github.com/lattice-dev/lattice/internal/plugin"
	"github.com/lattice-dev/lattice/internal/policy"
	"github.com/lattice-dev/lattice/internal/registry"
	"github.com/lattice-dev/lattice/internal/store"
	_ "github.com/lattice-dev/lattice/internal/store/sqlite" // register sqlite backend
	latterr "github.com/lattice-dev/lattice/pkg/errors"
)

// Platform holds all wired subsystems and manages their lifecycle.
type Platform struct {
	Config    *config.Config
	Registry  *registry.Registry
	Manager   *plugin.Manager
	Store     store.PolicyStore
	Builder   *policy.Builder
	Reader    *policy.Reader
	Installer *installer.Installer
}

// WirePlatform creates all subsystems and wires them together. Embedding
// applications register plugin entry points on Platform.Registry before
// loading plugins.
func WirePlatform(cfg *config.Config) (*Platform, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, latterr.Errorf(latterr.CodeCLISetupFailure, "creating data directory: %w", err)
	}

	// The whitelist combines inline config entries with the optional
	// trusted-sources file.
	sources, err := registry.LoadSources(cfg.Registry.SourcesFile)
	if err != nil {
		return nil, err
	}
	validator := registry.NewValidator(
		cfg.Registry.Host,
		registry.MergeWhitelist(cfg.Registry.Whitelist, sources),
		cfg.Registry.EnforceWhitelist,
	)

	downloader := fetch.NewDownloader(
		cfg.Fetch.WorkspaceDir,
		cfg.Fetch.Binary,
		time.Duration(cfg.Fetch.TimeoutSeconds)*time.Second,
		time.Duration(cfg.Fetch.PollIntervalMS)*time.Millisecond,
	)

	reconciler := deps.NewReconciler(
		cfg.Deps.ProjectDir,
		cfg.Deps.Binary,
		cfg.Deps.ManifestFile,
		cfg.Deps.LockFile,
		time.Duration(cfg.Deps.TimeoutSeconds)*time.Second,
	)

	entryRegistry := registry.NewRegistry()
	manager := plugin.NewManager(resolveDir(cfg.DataDir, cfg.Plugins.Dir), entryRegistry)

	policyStore, err := store.NewPolicyStore(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		return nil, err
	}

	builder := policy.NewBuilder(policyStore, cfg.Policy.SnapshotFile, cfg.Policy.VersionFile)
	reader := policy.NewReader(
		cfg.Policy.SnapshotFile,
		cfg.Policy.VersionFile,
		time.Duration(cfg.Policy.DebounceMS)*time.Millisecond,
		policy.NewMemoryCache(),
	)

	inst := installer.New(
		validator,
		downloader,
		reconciler,
		manager,
		builder,
		filepath.Join(cfg.DataDir, "backups"),
	)

	return &Platform{
		Config:    cfg,
		Registry:  entryRegistry,
		Manager:   manager,
		Store:     policyStore,
		Builder:   builder,
		Reader:    reader,
		Installer: inst,
	}, nil
}

// RebuildSnapshot rebuilds the policy snapshot from the full current plugin
// set plus persisted overrides.
func (p *Platform) RebuildSnapshot(ctx context.Context) error {
	loaded, err := p.Manager.Load(ctx)
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

	return p.Builder.Build(ctx, defaults)
}

// Close releases all resources held by the platform.
func (p *Platform) Close() error {
	if p.Store != nil {
		return p.Store.Close()
	}
	return nil
}

// resolveDir resolves dir under dataDir unless it is already absolute.
func resolveDir(dataDir, dir string) string {
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(dataDir, dir)
}
