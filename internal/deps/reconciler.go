// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lattice Contributors

// Package deps classifies a plugin's declared dependencies and mutates the
// host project's dependency manifest through package-manager subprocess calls.
package deps

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	latterr "github.com/lattice-dev/lattice/pkg/errors"
)

// packageRe matches a strict vendor/name package token. Anything else in a
// dependency declaration is silently dropped as unparseable.
var packageRe = regexp.MustCompile(
	`^[a-z0-9]([_.-]?[a-z0-9]+)*/[a-z0-9](([_.]|-{1,2})?[a-z0-9]+)*$`,
)

// runtimeMarker is the host runtime requirement excluded from a plugin's
// analyzed dependency set.
const runtimeMarker = "php"

// Dependency is one classified dependency declaration.
type Dependency struct {
	Package    string
	Constraint string
	Platform   bool
}

// String renders the declaration as package:constraint.
func (d Dependency) String() string {
	if d.Constraint == "" {
		return d.Package
	}
	return d.Package + ":" + d.Constraint
}

// Analysis is the classification of a plugin's declared dependencies.
type Analysis struct {
	Dependencies []Dependency
	Packages     []Dependency
	Platform     []Dependency
	// RequiresConfirmation is true iff at least one ordinary package
	// dependency exists. Platform-only dependencies never require it.
	RequiresConfirmation bool
}

// CommandResult is the outcome of one package-manager subprocess call, with
// command string and captured output preserved verbatim for diagnosis.
type CommandResult struct {
	Success     bool
	ExitCode    int
	Command     string
	Output      string
	ErrorOutput string
}

// Reconciler wraps the host project's package manager.
type Reconciler struct {
	projectDir   string
	binary       string
	manifestFile string
	lockFile     string
	timeout      time.Duration
}

// NewReconciler creates a Reconciler for the project at projectDir using the
// given package-manager binary and manifest/lock filenames.
func NewReconciler(projectDir, binary, manifestFile, lockFile string, timeout time.Duration) *Reconciler {
	return &Reconciler{
		projectDir:   projectDir,
		binary:       binary,
		manifestFile: manifestFile,
		lockFile:     lockFile,
		timeout:      timeout,
	}
}

// ManifestPath returns the dependency manifest path.
func (r *Reconciler) ManifestPath() string {
	return filepath.Join(r.projectDir, r.manifestFile)
}

// LockPath returns the lock artifact path.
func (r *Reconciler) LockPath() string {
	return filepath.Join(r.projectDir, r.lockFile)
}

// Analyze classifies declared dependencies into platform markers and ordinary
// packages. All lists are sorted by package name for determinism.
func (r *Reconciler) Analyze(declared map[string]string) Analysis {
	var analysis Analysis

	for name, constraint := range declared {
		dep := Dependency{Package: name, Constraint: constraint}

		switch {
		case isPlatform(name):
			dep.Platform = true
			analysis.Platform = append(analysis.Platform, dep)
		case packageRe.MatchString(name):
			analysis.Packages = append(analysis.Packages, dep)
		default:
			// Unparseable declaration: dropped.
			continue
		}

		analysis.Dependencies = append(analysis.Dependencies, dep)
	}

	for _, list := range [][]Dependency{analysis.Dependencies, analysis.Packages, analysis.Platform} {
		sort.Slice(list, func(i, j int) bool { return list[i].Package < list[j].Package })
	}

	analysis.RequiresConfirmation = len(analysis.Packages) > 0
	return analysis
}

// isPlatform reports whether name is a runtime, extension, or
// package-manager marker rather than an installable package.
func isPlatform(name string) bool {
	if strings.Contains(name, "/") {
		return false
	}
	return name == runtimeMarker ||
		name == "composer" ||
		strings.HasPrefix(name, "ext-") ||
		strings.HasPrefix(name, "lib-") ||
		strings.HasPrefix(name, "composer-")
}

// DeclaredDependencies reads the plugin's own dependency manifest inside
// pluginDir and returns its declarations minus the host runtime requirement.
// A plugin without a dependency manifest declares nothing.
func (r *Reconciler) DeclaredDependencies(pluginDir string) (map[string]string, error) {
	data, err := os.ReadFile(filepath.Join(pluginDir, r.manifestFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, latterr.Wrap(err, latterr.CodeDepsManifestReadFailure,
			"reading plugin dependency manifest", latterr.Field("dir", pluginDir))
	}

	var doc struct {
		Require map[string]string `json:"require"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, latterr.Wrap(err, latterr.CodeDepsManifestReadFailure,
			"parsing plugin dependency manifest", latterr.Field("dir", pluginDir))
	}

	delete(doc.Require, runtimeMarker)
	return doc.Require, nil
}

// AddPathRepository inserts a local-path source entry into the dependency
// manifest unless an equivalent normalized path is already present, in which
// case the call is a no-op.
func (r *Reconciler) AddPathRepository(ctx context.Context, pluginPath string) (CommandResult, error) {
	if err := validateArgument(pluginPath); err != nil {
		return CommandResult{}, err
	}

	present, err := r.hasPathRepository(pluginPath)
	if err != nil {
		return CommandResult{}, err
	}
	if present {
		return CommandResult{Success: true}, nil
	}

	name := filepath.Base(filepath.Clean(pluginPath))
	return r.run(ctx, "config", "repositories."+name, "path", pluginPath)
}

// hasPathRepository reports whether the manifest already lists a path
// repository whose normalized location equals pluginPath.
func (r *Reconciler) hasPathRepository(pluginPath string) (bool, error) {
	data, err := os.ReadFile(r.ManifestPath())
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, latterr.Wrap(err, latterr.CodeDepsManifestReadFailure, "reading dependency manifest")
	}

	var doc struct {
		Repositories []struct {
			Type string `json:"type"`
			URL  string `json:"url"`
		} `json:"repositories"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return false, latterr.Wrap(err, latterr.CodeDepsManifestReadFailure, "parsing dependency manifest")
	}

	want := r.normalizePath(pluginPath)
	for _, repo := range doc.Repositories {
		if repo.Type != "path" {
			continue
		}
		if r.normalizePath(repo.URL) == want {
			return true, nil
		}
	}

	return false, nil
}

func (r *Reconciler) normalizePath(p string) string {
	if !filepath.IsAbs(p) {
		p = filepath.Join(r.projectDir, p)
	}
	return filepath.Clean(p)
}

// RequirePackage declares pkg at constraint in the manifest without
// resolving it.
func (r *Reconciler) RequirePackage(ctx context.Context, pkg, constraint string) (CommandResult, error) {
	if err := validatePackage(pkg); err != nil {
		return CommandResult{}, err
	}
	if err := validateArgument(constraint); err != nil {
		return CommandResult{}, err
	}

	arg := pkg
	if constraint != "" {
		arg = pkg + ":" + constraint
	}

	return r.run(ctx, "require", arg, "--no-update", "--no-interaction")
}

// UpdatePackage resolves and installs the single named package, mutating the
// lock artifact.
func (r *Reconciler) UpdatePackage(ctx context.Context, pkg string) (CommandResult, error) {
	if err := validatePackage(pkg); err != nil {
		return CommandResult{}, err
	}

	return r.run(ctx, "update", pkg, "--no-interaction")
}

// RemovePackage declares removal of pkg, then re-resolves the lock artifact
// for it. The combined result concatenates both command strings and outputs
// and succeeds only if both steps succeeded.
func (r *Reconciler) RemovePackage(ctx context.Context, pkg string) (CommandResult, error) {
	if err := validatePackage(pkg); err != nil {
		return CommandResult{}, err
	}

	removed, removeErr := r.run(ctx, "remove", pkg, "--no-update", "--no-interaction")
	updated, updateErr := r.run(ctx, "update", pkg, "--no-interaction")

	combined := CommandResult{
		Success:     removed.Success && updated.Success,
		ExitCode:    removed.ExitCode,
		Command:     removed.Command + " && " + updated.Command,
		Output:      strings.TrimSpace(removed.Output + "\n" + updated.Output),
		ErrorOutput: strings.TrimSpace(removed.ErrorOutput + "\n" + updated.ErrorOutput),
	}
	if combined.ExitCode == 0 {
		combined.ExitCode = updated.ExitCode
	}

	if removeErr != nil {
		return combined, removeErr
	}
	return combined, updateErr
}

// ReinstallLocked re-runs the package manager's install step with scripts
// disabled, resynchronizing dependency state from the lock artifact. Used
// during rollback.
func (r *Reconciler) ReinstallLocked(ctx context.Context) (CommandResult, error) {
	return r.run(ctx, "install", "--no-scripts", "--no-interaction")
}

// run executes one package-manager subprocess call in the project directory.
func (r *Reconciler) run(ctx context.Context, args ...string) (CommandResult, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer

	// #nosec G204 -- args are fixed subcommands plus values that passed
	// validatePackage/validateArgument.
	cmd := exec.CommandContext(ctx, r.binary, args...)
	cmd.Dir = r.projectDir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	runErr := cmd.Run()

	result := CommandResult{
		Command:     r.binary + " " + strings.Join(args, " "),
		Output:      stdout.String(),
		ErrorOutput: stderr.String(),
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}
	result.Success = runErr == nil && result.ExitCode == 0

	if !result.Success {
		return result, latterr.Errorf(latterr.CodeDepsCommandFailure,
			"%s exited %d: %s", result.Command, result.ExitCode,
			strings.TrimSpace(result.ErrorOutput+"\n"+result.Output))
	}

	return result, nil
}

// validatePackage re-validates pkg against the strict vendor/name token
// shape so a crafted name cannot smuggle extra arguments into the subprocess.
func validatePackage(pkg string) error {
	if !packageRe.MatchString(pkg) {
		return latterr.Errorf(latterr.CodeDepsPackageInvalid,
			"package name %q is not a valid vendor/name token", pkg)
	}
	return nil
}

// validateArgument rejects values that would be parsed as flags.
func validateArgument(value string) error {
	if strings.HasPrefix(strings.TrimSpace(value), "-") {
		return latterr.Errorf(latterr.CodeDepsPackageInvalid,
			"argument %q must not begin with a dash", value)
	}
	return nil
}
