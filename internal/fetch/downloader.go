// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lattice Contributors

// Package fetch performs isolated, timed, safety-checked downloads of remote
// plugin sources into a disposable workspace.
package fetch

import (
	"bytes"
	"context"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	latterr "github.com/lattice-dev/lattice/pkg/errors"
)

// manifestFileName is the file whose presence the post-download integrity
// check requires. Kept in sync with the plugin package's manifest name.
const manifestFileName = "plugin.json"

// Result carries the clone destination and the subprocess output captured
// before success, failure, or termination.
type Result struct {
	Destination string
	Output      string
}

// Downloader clones a pinned ref of a remote source into a workspace-rooted
// destination. The clone runs as a subprocess bounded by a timeout; the
// process is polled and force-terminated when the deadline elapses.
type Downloader struct {
	root         string
	binary       string
	timeout      time.Duration
	pollInterval time.Duration
}

// NewDownloader creates a Downloader whose destinations are confined to root.
func NewDownloader(root, binary string, timeout, pollInterval time.Duration) *Downloader {
	return &Downloader{
		root:         root,
		binary:       binary,
		timeout:      timeout,
		pollInterval: pollInterval,
	}
}

// Download clones url at ref into dest (resolved relative to the workspace
// root) and runs the post-download integrity check. On any failure the
// partial destination is deleted; the captured subprocess output is returned
// either way for operator diagnosis.
func (d *Downloader) Download(ctx context.Context, url, ref, dest string) (*Result, error) {
	target, err := d.resolveDestination(dest)
	if err != nil {
		return &Result{}, err
	}

	res := &Result{Destination: target}

	// Idempotent retry: a leftover from a previous attempt is discarded.
	if err := os.RemoveAll(target); err != nil {
		return res, latterr.Wrap(err, latterr.CodeFetchCloneFailure,
			"clearing previous destination", latterr.Field("dest", target))
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return res, latterr.Wrap(err, latterr.CodeFetchCloneFailure,
			"creating workspace directory")
	}

	output, err := d.clone(ctx, url, ref, target)
	res.Output = output
	if err != nil {
		d.discard(target)
		return res, err
	}

	if err := d.verifyTree(target); err != nil {
		d.discard(target)
		return res, err
	}

	return res, nil
}

// resolveDestination resolves dest under the workspace root and rejects any
// path that escapes it. This runs before any I/O.
func (d *Downloader) resolveDestination(dest string) (string, error) {
	if strings.TrimSpace(dest) == "" {
		return "", latterr.New(latterr.CodeFetchDestinationInvalid, "destination must not be empty")
	}

	root, err := filepath.Abs(d.root)
	if err != nil {
		return "", latterr.Wrap(err, latterr.CodeFetchDestinationInvalid, "resolving workspace root")
	}

	candidate := dest
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, candidate)
	}
	candidate = filepath.Clean(candidate)

	rel, err := filepath.Rel(root, candidate)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", latterr.New(latterr.CodeFetchDestinationInvalid,
			"destination escapes the download workspace",
			latterr.Field("dest", dest))
	}

	return candidate, nil
}

// clone runs the shallow clone subprocess, polling its status on a short
// interval. When the timeout elapses the process is force-terminated and the
// partial output captured so far is returned with the error.
func (d *Downloader) clone(ctx context.Context, url, ref, target string) (string, error) {
	var buf bytes.Buffer

	// #nosec G204 -- url and ref were validated upstream; target is
	// workspace-confined by resolveDestination.
	cmd := exec.Command(d.binary, "clone", "--depth", "1", "--branch", ref, "--single-branch", url, target)
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	// Bound the wait on pipe I/O so an orphaned grandchild holding the
	// output descriptors cannot stall a force-terminated clone.
	cmd.WaitDelay = time.Second

	if err := cmd.Start(); err != nil {
		return buf.String(), latterr.Wrap(err, latterr.CodeFetchCloneFailure,
			"starting clone subprocess", latterr.Field("binary", d.binary))
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	deadline := time.Now().Add(d.timeout)
	for {
		select {
		case err := <-done:
			if err != nil {
				return buf.String(), latterr.Errorf(latterr.CodeFetchCloneFailure,
					"clone of %s@%s failed: %s: %s", url, ref, err, strings.TrimSpace(buf.String()))
			}
			return buf.String(), nil

		case <-time.After(d.pollInterval):
			timedOut := time.Now().After(deadline)
			if !timedOut && ctx.Err() == nil {
				continue
			}

			if killErr := cmd.Process.Kill(); killErr != nil {
				slog.Warn("failed to kill clone subprocess", "pid", cmd.Process.Pid, "error", killErr)
			}
			<-done

			if timedOut {
				return buf.String(), latterr.Errorf(latterr.CodeFetchCloneTimeout,
					"clone of %s@%s exceeded %s", url, ref, d.timeout)
			}
			return buf.String(), latterr.Wrap(ctx.Err(), latterr.CodeFetchCloneFailure, "clone cancelled")
		}
	}
}

// verifyTree runs the post-download integrity check: the plugin manifest
// must exist at the destination root, and no entry may be a symbolic link or
// normalize outside the destination.
func (d *Downloader) verifyTree(target string) error {
	if _, err := os.Stat(filepath.Join(target, manifestFileName)); err != nil {
		return latterr.Errorf(latterr.CodeFetchIntegrityViolation,
			"downloaded tree has no %s at its root", manifestFileName)
	}

	return filepath.WalkDir(target, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return latterr.Wrap(err, latterr.CodeFetchIntegrityViolation, "walking downloaded tree")
		}

		if entry.Type()&fs.ModeSymlink != 0 {
			return latterr.New(latterr.CodeFetchIntegrityViolation,
				"downloaded tree contains a symbolic link",
				latterr.Field("path", path))
		}

		rel, relErr := filepath.Rel(target, filepath.Clean(path))
		if relErr != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return latterr.New(latterr.CodeFetchIntegrityViolation,
				"downloaded tree entry escapes the destination",
				latterr.Field("path", path))
		}

		return nil
	})
}

// discard removes a failed destination. Best-effort: a cleanup failure must
// never mask the primary error being reported.
func (d *Downloader) discard(target string) {
	if err := os.RemoveAll(target); err != nil {
		slog.Warn("failed to remove partial download", "dest", target, "error", err)
	}
}
