// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lattice Contributors

package plugin

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	latterr "github.com/lattice-dev/lattice/pkg/errors"
)

// ManifestFileName is the manifest file every plugin package must ship.
const ManifestFileName = "plugin.json"

// idRe matches a filesystem-safe plugin id: lowercase alphanumerics and
// single hyphens, no leading or trailing hyphen.
var idRe = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// semverRe matches strict semver (no "v" prefix): MAJOR.MINOR.PATCH with
// optional pre-release/build suffix. Leading zeros on numeric segments are
// disallowed per semver spec.
var semverRe = regexp.MustCompile(
	`^(?:0|[1-9]\d*)\.(?:0|[1-9]\d*)\.(?:0|[1-9]\d*)` +
		`(?:-(?:[0-9A-Za-z-]+(?:\.[0-9A-Za-z-]+)*))?` +
		`(?:\+(?:[0-9A-Za-z-]+(?:\.[0-9A-Za-z-]+)*))?$`,
)

// Manifest is the parsed plugin.json shipped inside a plugin package.
// Immutable once loaded.
type Manifest struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version string `json:"version"`
	Entry   string `json:"entry"`
}

// ValidID reports whether id is a filesystem-safe plugin id token.
func ValidID(id string) bool {
	return idRe.MatchString(id)
}

// ParseManifest parses JSON data into a Manifest and validates it.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, latterr.Errorf(latterr.CodePluginManifestInvalid,
			"manifest parse: %s", err)
	}

	if errs := m.Validate(); len(errs) > 0 {
		// Return the first validation error for simplicity.
		return nil, errs[0]
	}

	return &m, nil
}

// LoadManifest reads and parses the plugin.json inside dir.
func LoadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFileName))
	if err != nil {
		return nil, latterr.Wrap(err, latterr.CodePluginManifestInvalid,
			"reading plugin manifest", latterr.Field("dir", dir))
	}

	return ParseManifest(data)
}

// Validate checks that the Manifest is well-formed. It returns all validation
// errors found rather than stopping at the first one.
func (m *Manifest) Validate() []error {
	var errs []error

	if strings.TrimSpace(m.ID) == "" {
		errs = append(errs, latterr.New(latterr.CodePluginManifestInvalid,
			"manifest validation: id must not be empty"))
	} else if !ValidID(m.ID) {
		errs = append(errs, latterr.Errorf(latterr.CodePluginManifestInvalid,
			"manifest validation: id must be a lowercase kebab-case token, got %q", m.ID))
	}

	if strings.TrimSpace(m.Name) == "" {
		errs = append(errs, latterr.New(latterr.CodePluginManifestInvalid,
			"manifest validation: name must not be empty"))
	}

	if strings.TrimSpace(m.Version) == "" {
		errs = append(errs, latterr.New(latterr.CodePluginManifestInvalid,
			"manifest validation: version must not be empty"))
	} else if !semverRe.MatchString(m.Version) {
		errs = append(errs, latterr.Errorf(latterr.CodePluginManifestInvalid,
			"manifest validation: version must be valid semver (MAJOR.MINOR.PATCH), got %q", m.Version))
	}

	if strings.TrimSpace(m.Entry) == "" {
		errs = append(errs, latterr.New(latterr.CodePluginManifestInvalid,
			"manifest validation: entry must not be empty"))
	}

	return errs
}
