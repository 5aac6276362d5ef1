// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lattice Contributors

package installer

import (
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	latterr "github.com/lattice-dev/lattice/pkg/errors"
)

// txState is the installer state machine position. Transitions are linear;
// any failure after stateBackedUp jumps to stateRollingBack.
type txState int

const (
	stateInit txState = iota
	stateBackedUp
	stateRepoValidated
	stateDownloaded
	stateMetadataParsed
	stateIDChecked
	stateNotInstalled
	stateDepsAnalyzed
	stateAwaitingConfirmation
	stateDepsInstalled
	stateTargetExists
	statePluginBackedUp
	stateDepsRemoved
	stateDeleted
	stateMoved
	stateSnapshotRefreshed
	stateCommitted
	stateRollingBack
	stateRolledBack
)

func (s txState) String() string {
	switch s {
	case stateInit:
		return "init"
	case stateBackedUp:
		return "backed_up"
	case stateRepoValidated:
		return "repo_validated"
	case stateDownloaded:
		return "downloaded"
	case stateMetadataParsed:
		return "metadata_parsed"
	case stateIDChecked:
		return "id_checked"
	case stateNotInstalled:
		return "not_already_installed"
	case stateDepsAnalyzed:
		return "dependencies_analyzed"
	case stateAwaitingConfirmation:
		return "awaiting_confirmation"
	case stateDepsInstalled:
		return "dependencies_installed"
	case stateTargetExists:
		return "target_exists"
	case statePluginBackedUp:
		return "plugin_backed_up"
	case stateDepsRemoved:
		return "dependencies_removed"
	case stateDeleted:
		return "deleted"
	case stateMoved:
		return "moved"
	case stateSnapshotRefreshed:
		return "snapshot_refreshed"
	case stateCommitted:
		return "committed"
	case stateRollingBack:
		return "rolling_back"
	case stateRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// transaction is the per-call backup bundle. It lives for the duration of one
// install or uninstall and is torn down, success or failure, before return.
type transaction struct {
	id    string
	state txState

	backupDir  string
	stagingDir string
	targetDir  string

	manifestPath    string
	lockPath        string
	manifestExisted bool
	lockExisted     bool

	// pluginBackupDir holds the pre-uninstall copy of the plugin tree.
	pluginBackupDir string
	pluginMoved     bool
}

func newTransaction(backupRoot string) *transaction {
	id := uuid.NewString()
	return &transaction{
		id:        id,
		state:     stateInit,
		backupDir: filepath.Join(backupRoot, "tx-"+id),
	}
}

// backupManifests copies the dependency manifest and lock artifact into the
// transaction's backup directory, recording which of them existed.
func (tx *transaction) backupManifests(manifestPath, lockPath string) error {
	tx.manifestPath = manifestPath
	tx.lockPath = lockPath

	if err := os.MkdirAll(tx.backupDir, 0o755); err != nil {
		return latterr.Wrap(err, latterr.CodeInstallBackupFailure,
			"creating backup directory", latterr.FieldTransaction(tx.id))
	}

	var err error
	tx.manifestExisted, err = backupFile(manifestPath, tx.manifestBackup())
	if err != nil {
		return latterr.Wrap(err, latterr.CodeInstallBackupFailure,
			"backing up dependency manifest", latterr.FieldTransaction(tx.id))
	}

	tx.lockExisted, err = backupFile(lockPath, tx.lockBackup())
	if err != nil {
		return latterr.Wrap(err, latterr.CodeInstallBackupFailure,
			"backing up lock artifact", latterr.FieldTransaction(tx.id))
	}

	return nil
}

// restoreManifests puts the dependency manifest and lock artifact back to
// their pre-transaction content, deleting whichever did not exist before.
func (tx *transaction) restoreManifests() error {
	var errs []error

	if err := restoreFile(tx.manifestBackup(), tx.manifestPath, tx.manifestExisted); err != nil {
		errs = append(errs, err)
	}
	if err := restoreFile(tx.lockBackup(), tx.lockPath, tx.lockExisted); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return latterr.Wrap(errors.Join(errs...), latterr.CodeInstallRollbackFailure,
			"restoring dependency manifests", latterr.FieldTransaction(tx.id))
	}
	return nil
}

// backupPluginDir copies the installed plugin tree aside before an uninstall
// mutates anything beyond the manifests.
func (tx *transaction) backupPluginDir(pluginDir string) error {
	tx.pluginBackupDir = filepath.Join(tx.backupDir, "plugin")
	if err := copyDir(pluginDir, tx.pluginBackupDir); err != nil {
		return latterr.Wrap(err, latterr.CodeInstallBackupFailure,
			"backing up plugin directory", latterr.FieldTransaction(tx.id))
	}
	return nil
}

// restorePluginDir puts the plugin tree back from its pre-uninstall copy.
func (tx *transaction) restorePluginDir() error {
	if tx.pluginBackupDir == "" {
		return nil
	}
	if err := os.RemoveAll(tx.targetDir); err != nil {
		return err
	}
	return copyDir(tx.pluginBackupDir, tx.targetDir)
}

// discard removes the transaction's backup directory. Best-effort.
func (tx *transaction) discard() {
	_ = os.RemoveAll(tx.backupDir)
}

func (tx *transaction) manifestBackup() string {
	return filepath.Join(tx.backupDir, filepath.Base(tx.manifestPath))
}

func (tx *transaction) lockBackup() string {
	return filepath.Join(tx.backupDir, filepath.Base(tx.lockPath))
}

// backupFile copies src to dst and reports whether src existed. A missing
// source is not an error; restore will delete the live file instead.
func backupFile(src, dst string) (bool, error) {
	if _, err := os.Stat(src); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, copyFile(src, dst)
}

// restoreFile copies the backup back over dst, or deletes dst when the file
// did not exist before the transaction.
func restoreFile(backup, dst string, existed bool) error {
	if !existed {
		if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	return copyFile(backup, dst)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// copyDir recursively copies a directory tree. Symbolic links are not
// expected here; downloaded trees were already screened for them.
func copyDir(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dst, info.Mode().Perm()); err != nil {
		return err
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())

		if entry.IsDir() {
			if err := copyDir(srcPath, dstPath); err != nil {
				return err
			}
			continue
		}
		if err := copyFile(srcPath, dstPath); err != nil {
			return err
		}
	}

	return nil
}
