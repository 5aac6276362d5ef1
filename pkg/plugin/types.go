// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lattice Contributors

// Package plugin defines the public contract between the Lattice host and
// plugin entry points. Plugins are never loaded dynamically: each manifest
// names an entry identifier that the host resolves through a registration-time
// constructor table.
package plugin

import (
	"sort"
	"strings"

	latterr "github.com/lattice-dev/lattice/pkg/errors"
)

// Visibility controls who may reach an API contributed by a plugin.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Valid reports whether v is a recognized visibility value.
func (v Visibility) Valid() bool {
	return v == VisibilityPublic || v == VisibilityPrivate
}

// APIDefinition is a plugin's declared default policy for one API it
// contributes. Administrator overrides persisted in the policy store take
// precedence over these defaults at snapshot build time.
type APIDefinition struct {
	APIID                 string
	VisibilityDefault     Visibility
	RequiredScopesDefault []string
}

// Normalize returns a copy with scopes deduplicated, empties dropped, and
// the remainder sorted for deterministic downstream serialization.
func (d APIDefinition) Normalize() APIDefinition {
	seen := make(map[string]bool, len(d.RequiredScopesDefault))
	scopes := make([]string, 0, len(d.RequiredScopesDefault))
	for _, s := range d.RequiredScopesDefault {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		scopes = append(scopes, s)
	}
	sort.Strings(scopes)

	out := d
	out.RequiredScopesDefault = scopes
	return out
}

// Validate checks that the definition is well-formed.
func (d APIDefinition) Validate() error {
	if strings.TrimSpace(d.APIID) == "" {
		return latterr.New(latterr.CodeStoreInvalidInput, "api definition: api id must not be empty")
	}
	if !d.VisibilityDefault.Valid() {
		return latterr.Errorf(latterr.CodeStoreInvalidInput,
			"api definition %q: visibility must be one of [public, private], got %q",
			d.APIID, d.VisibilityDefault)
	}
	return nil
}

// Route names an HTTP surface a plugin wants mounted. Routing itself is the
// host application's concern; Lattice only transports the declaration.
type Route struct {
	Name   string
	Method string
	Path   string
}

// Extension is the fixed capability interface every plugin entry point
// implements. The host consults it for declared API defaults.
type Extension interface {
	APIDefinitions() []APIDefinition
}

// RoutesProvider is an optional extension capability for plugins that also
// contribute HTTP routes.
type RoutesProvider interface {
	Routes() []Route
}

// Factory constructs a plugin entry point. Factories are registered against
// manifest entry identifiers at wire time.
type Factory func() (Extension, error)
