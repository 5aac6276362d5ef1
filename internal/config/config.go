// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lattice Contributors

package config

import (
	"errors"
	"strings"

	latterr "github.com/lattice-dev/lattice/pkg/errors"
	"github.com/spf13/viper"
)

// Config is the top-level Lattice configuration.
type Config struct {
	DataDir  string         `mapstructure:"data_dir"`
	Registry RegistryConfig `mapstructure:"registry"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Deps     DepsConfig     `mapstructure:"deps"`
	Plugins  PluginsConfig  `mapstructure:"plugins"`
	Policy   PolicyConfig   `mapstructure:"policy"`
	Storage  StorageConfig  `mapstructure:"storage"`
}

// RegistryConfig controls which remote sources may be installed.
type RegistryConfig struct {
	Host             string   `mapstructure:"host"`
	Whitelist        []string `mapstructure:"whitelist"`
	EnforceWhitelist bool     `mapstructure:"enforce_whitelist"`
	SourcesFile      string   `mapstructure:"sources_file"`
}

// FetchConfig controls the download workspace and the clone subprocess.
type FetchConfig struct {
	WorkspaceDir   string `mapstructure:"workspace_dir"`
	Binary         string `mapstructure:"binary"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	PollIntervalMS int    `mapstructure:"poll_interval_ms"`
}

// DepsConfig locates the host project's package manager and manifests.
type DepsConfig struct {
	Binary         string `mapstructure:"binary"`
	ProjectDir     string `mapstructure:"project_dir"`
	ManifestFile   string `mapstructure:"manifest_file"`
	LockFile       string `mapstructure:"lock_file"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// PluginsConfig locates installed plugins.
type PluginsConfig struct {
	Dir string `mapstructure:"dir"`
}

// PolicyConfig controls snapshot materialization and the read path.
type PolicyConfig struct {
	SnapshotFile string `mapstructure:"snapshot_file"`
	VersionFile  string `mapstructure:"version_file"`
	DebounceMS   int    `mapstructure:"debounce_ms"`
}

// StorageConfig selects the policy store backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// SetDefaults installs configuration defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", ".lattice")
	v.SetDefault("registry.host", "github.com")
	v.SetDefault("registry.enforce_whitelist", false)
	v.SetDefault("fetch.workspace_dir", ".lattice/staging")
	v.SetDefault("fetch.binary", "git")
	v.SetDefault("fetch.timeout_seconds", 120)
	v.SetDefault("fetch.poll_interval_ms", 100)
	v.SetDefault("deps.binary", "composer")
	v.SetDefault("deps.project_dir", ".")
	v.SetDefault("deps.manifest_file", "composer.json")
	v.SetDefault("deps.lock_file", "composer.lock")
	v.SetDefault("deps.timeout_seconds", 600)
	v.SetDefault("plugins.dir", "plugins")
	v.SetDefault("policy.snapshot_file", ".lattice/policy/snapshot.json")
	v.SetDefault("policy.version_file", ".lattice/policy/snapshot.version")
	v.SetDefault("policy.debounce_ms", 500)
	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.path", ".lattice/policy.db")
}

// SetupEnv enables LATTICE_-prefixed environment variable overrides on v.
func SetupEnv(v *viper.Viper) {
	v.SetEnvPrefix("LATTICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides (prefix LATTICE_).
func Load(path string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)
	SetupEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, latterr.Errorf(latterr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}

	return FromViper(v)
}

// FromViper unmarshals and validates a Config from an already-populated viper.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, latterr.Errorf(latterr.CodeConfigValidateInvalidValue, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, latterr.Errorf(latterr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// Validate checks the configuration for logical errors. It returns all
// validation errors found rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateRegistry()...)
	errs = append(errs, c.validateFetch()...)
	errs = append(errs, c.validateDeps()...)
	errs = append(errs, c.validatePolicy()...)
	errs = append(errs, c.validateStorage()...)

	return errs
}

func (c *Config) validateRegistry() []error {
	var errs []error

	if strings.TrimSpace(c.Registry.Host) == "" {
		errs = append(errs, latterr.New(latterr.CodeConfigValidateInvalidValue,
			"config: registry.host must not be empty"))
	}
	for _, entry := range c.Registry.Whitelist {
		if strings.Count(entry, "/") != 1 {
			errs = append(errs, latterr.Errorf(latterr.CodeConfigValidateInvalidValue,
				"config: registry.whitelist entry %q must be owner/repo or owner/*", entry))
		}
	}
	if c.Registry.EnforceWhitelist && len(c.Registry.Whitelist) == 0 && c.Registry.SourcesFile == "" {
		errs = append(errs, latterr.New(latterr.CodeConfigValidateInvalidValue,
			"config: registry.enforce_whitelist requires whitelist entries or a sources_file"))
	}

	return errs
}

func (c *Config) validateFetch() []error {
	var errs []error

	if strings.TrimSpace(c.Fetch.WorkspaceDir) == "" {
		errs = append(errs, latterr.New(latterr.CodeConfigValidateInvalidValue,
			"config: fetch.workspace_dir must not be empty"))
	}
	if strings.TrimSpace(c.Fetch.Binary) == "" {
		errs = append(errs, latterr.New(latterr.CodeConfigValidateInvalidValue,
			"config: fetch.binary must not be empty"))
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		errs = append(errs, latterr.Errorf(latterr.CodeConfigValidateInvalidValue,
			"config: fetch.timeout_seconds must be positive, got %d", c.Fetch.TimeoutSeconds))
	}
	if c.Fetch.PollIntervalMS <= 0 {
		errs = append(errs, latterr.Errorf(latterr.CodeConfigValidateInvalidValue,
			"config: fetch.poll_interval_ms must be positive, got %d", c.Fetch.PollIntervalMS))
	}

	return errs
}

func (c *Config) validateDeps() []error {
	var errs []error

	if strings.TrimSpace(c.Deps.Binary) == "" {
		errs = append(errs, latterr.New(latterr.CodeConfigValidateInvalidValue,
			"config: deps.binary must not be empty"))
	}
	if strings.TrimSpace(c.Deps.ManifestFile) == "" {
		errs = append(errs, latterr.New(latterr.CodeConfigValidateInvalidValue,
			"config: deps.manifest_file must not be empty"))
	}
	if strings.TrimSpace(c.Deps.LockFile) == "" {
		errs = append(errs, latterr.New(latterr.CodeConfigValidateInvalidValue,
			"config: deps.lock_file must not be empty"))
	}

	return errs
}

func (c *Config) validatePolicy() []error {
	var errs []error

	if strings.TrimSpace(c.Policy.SnapshotFile) == "" {
		errs = append(errs, latterr.New(latterr.CodeConfigValidateInvalidValue,
			"config: policy.snapshot_file must not be empty"))
	}
	if strings.TrimSpace(c.Policy.VersionFile) == "" {
		errs = append(errs, latterr.New(latterr.CodeConfigValidateInvalidValue,
			"config: policy.version_file must not be empty"))
	}
	if c.Policy.DebounceMS < 0 {
		errs = append(errs, latterr.Errorf(latterr.CodeConfigValidateInvalidValue,
			"config: policy.debounce_ms must not be negative, got %d", c.Policy.DebounceMS))
	}

	return errs
}

func (c *Config) validateStorage() []error {
	var errs []error

	validBackends := map[string]bool{"sqlite": true, "memory": true}
	if !validBackends[c.Storage.Backend] {
		errs = append(errs, latterr.Errorf(latterr.CodeConfigValidateInvalidValue,
			"config: storage.backend must be one of [sqlite, memory], got %q", c.Storage.Backend))
	}

	return errs
}
