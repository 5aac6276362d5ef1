// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lattice Contributors

// Package sqlite implements the policy store on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lattice-dev/lattice/internal/store"
	latterr "github.com/lattice-dev/lattice/pkg/errors"
	"github.com/lattice-dev/lattice/pkg/plugin"
)

// Compile-time interface check.
var _ store.PolicyStore = (*PolicyStore)(nil)

// PolicyStore implements store.PolicyStore backed by SQLite.
type PolicyStore struct {
	db *sql.DB
}

// NewPolicyStore opens (or creates) a SQLite database at dbPath and
// initialises the policies table.
func NewPolicyStore(dbPath string) (*PolicyStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, latterr.Wrap(err, latterr.CodeStoreDatabaseFailure, "opening sqlite db")
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, latterr.Wrap(err, latterr.CodeStoreDatabaseFailure, "pinging sqlite db")
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, latterr.Wrap(err, latterr.CodeStoreDatabaseFailure, "migrating sqlite db")
	}

	return &PolicyStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS policies (
	api_id          TEXT PRIMARY KEY,
	plugin_id       TEXT NOT NULL DEFAULT '',
	enabled         INTEGER NOT NULL DEFAULT 1,
	visibility      TEXT NOT NULL,
	required_scopes TEXT NOT NULL DEFAULT '[]',
	constraints     TEXT NOT NULL DEFAULT '{}',
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_policies_plugin ON policies(plugin_id);
`
	_, err := db.Exec(ddl)
	return err
}

// Close closes the underlying database connection.
func (s *PolicyStore) Close() error {
	return s.db.Close()
}

func (s *PolicyStore) ListPolicies(ctx context.Context) ([]*store.PolicyRecord, error) {
	const q = `SELECT api_id, plugin_id, enabled, visibility, required_scopes, constraints, created_at, updated_at
FROM policies ORDER BY api_id`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, latterr.Wrap(err, latterr.CodeStoreDatabaseFailure, "listing policies")
	}
	defer rows.Close()

	var records []*store.PolicyRecord
	for rows.Next() {
		rec, err := scanPolicy(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, latterr.Wrap(err, latterr.CodeStoreDatabaseFailure, "iterating policies")
	}

	return records, nil
}

func (s *PolicyStore) GetPolicy(ctx context.Context, apiID string) (*store.PolicyRecord, error) {
	const q = `SELECT api_id, plugin_id, enabled, visibility, required_scopes, constraints, created_at, updated_at
FROM policies WHERE api_id = ?`

	row := s.db.QueryRowContext(ctx, q, apiID)
	rec, err := scanPolicy(row.Scan)
	if err == sql.ErrNoRows {
		return nil, latterr.Errorf(latterr.CodeStorePolicyNotFound, "policy %q not found", apiID)
	}
	if err != nil {
		return nil, err
	}

	return rec, nil
}

func (s *PolicyStore) UpsertPolicy(ctx context.Context, record *store.PolicyRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	scopes, err := json.Marshal(ensureScopes(record.RequiredScopes))
	if err != nil {
		return latterr.Wrap(err, latterr.CodeStoreInvalidInput, "serializing required scopes")
	}
	constraints, err := json.Marshal(ensureConstraints(record.Constraints))
	if err != nil {
		return latterr.Wrap(err, latterr.CodeStoreInvalidInput, "serializing constraints")
	}

	now := formatTime(time.Now().UTC())
	const q = `INSERT INTO policies (api_id, plugin_id, enabled, visibility, required_scopes, constraints, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(api_id) DO UPDATE SET
	plugin_id = excluded.plugin_id,
	enabled = excluded.enabled,
	visibility = excluded.visibility,
	required_scopes = excluded.required_scopes,
	constraints = excluded.constraints,
	updated_at = excluded.updated_at`

	_, err = s.db.ExecContext(ctx, q,
		record.APIID,
		record.PluginID,
		boolToInt(record.Enabled),
		string(record.Visibility),
		string(scopes),
		string(constraints),
		now,
		now,
	)
	if err != nil {
		return latterr.Wrap(err, latterr.CodeStoreDatabaseFailure, "upserting policy",
			latterr.FieldAPI(record.APIID))
	}

	return nil
}

func (s *PolicyStore) DeletePolicy(ctx context.Context, apiID string) error {
	const q = `DELETE FROM policies WHERE api_id = ?`

	if _, err := s.db.ExecContext(ctx, q, apiID); err != nil {
		return latterr.Wrap(err, latterr.CodeStoreDatabaseFailure, "deleting policy",
			latterr.FieldAPI(apiID))
	}

	return nil
}

func scanPolicy(scan func(...any) error) (*store.PolicyRecord, error) {
	var rec store.PolicyRecord
	var visibility, scopesJSON, constraintsJSON, createdAt, updatedAt string
	var enabled int

	if err := scan(
		&rec.APIID,
		&rec.PluginID,
		&enabled,
		&visibility,
		&scopesJSON,
		&constraintsJSON,
		&createdAt,
		&updatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, latterr.Wrap(err, latterr.CodeStoreDatabaseFailure, "scanning policy row")
	}

	rec.Enabled = enabled != 0
	rec.Visibility = plugin.Visibility(visibility)

	if err := json.Unmarshal([]byte(scopesJSON), &rec.RequiredScopes); err != nil {
		return nil, latterr.Wrap(err, latterr.CodeStoreDatabaseFailure, "parsing required scopes")
	}
	if err := json.Unmarshal([]byte(constraintsJSON), &rec.Constraints); err != nil {
		return nil, latterr.Wrap(err, latterr.CodeStoreDatabaseFailure, "parsing constraints")
	}

	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)

	return &rec, nil
}

func ensureScopes(scopes []string) []string {
	if scopes == nil {
		return []string{}
	}
	return scopes
}

func ensureConstraints(constraints map[string]any) map[string]any {
	if constraints == nil {
		return map[string]any{}
	}
	return constraints
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
