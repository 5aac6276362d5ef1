// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lattice Contributors

package registry

import (
	"os"
	"strings"

	latterr "github.com/lattice-dev/lattice/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Sources is the trusted-source registry file. It lets operators maintain
// the whitelist separately from the main configuration.
type Sources struct {
	Host  string   `yaml:"host,omitempty"`
	Allow []string `yaml:"allow"`
}

// ParseSources parses YAML data into a Sources and validates it.
func ParseSources(data []byte) (*Sources, error) {
	var s Sources
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, latterr.Errorf(latterr.CodeRegistrySourcesLoadFailure,
			"sources parse: %s", err)
	}

	for _, entry := range s.Allow {
		if strings.Count(entry, "/") != 1 || strings.TrimSpace(entry) != entry {
			return nil, latterr.Errorf(latterr.CodeRegistrySourcesLoadFailure,
				"sources validation: entry %q must be owner/repo or owner/*", entry)
		}
	}

	return &s, nil
}

// LoadSources reads and parses the trusted-source file at path. A missing
// file yields an empty Sources, not an error, so configuration-only setups
// work without one.
func LoadSources(path string) (*Sources, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Sources{}, nil
		}
		return nil, latterr.Wrap(err, latterr.CodeRegistrySourcesLoadFailure,
			"reading sources file", latterr.Field("path", path))
	}

	return ParseSources(data)
}

// MergeWhitelist combines configuration whitelist entries with the sources
// file entries, dropping duplicates while preserving order.
func MergeWhitelist(configured []string, sources *Sources) []string {
	seen := make(map[string]bool)
	var merged []string

	add := func(entries []string) {
		for _, e := range entries {
			key := strings.ToLower(e)
			if seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, e)
		}
	}

	add(configured)
	if sources != nil {
		add(sources.Allow)
	}

	return merged
}
