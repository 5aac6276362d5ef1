// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lattice Contributors

// Package registry gates which remote plugin sources are installable and
// resolves manifest entry identifiers to registered constructors.
package registry

import (
	"fmt"
	"regexp"
	"strings"

	latterr "github.com/lattice-dev/lattice/pkg/errors"
)

// floatingRefs are moving branch pointers that are never installable,
// regardless of whitelist configuration.
var floatingRefs = map[string]bool{
	"master": true,
	"main":   true,
	"head":   true,
	"latest": true,
}

// tagRe matches a strict semantic-version tag: vMAJOR.MINOR.PATCH with
// optional pre-release and build suffixes. Leading zeros on numeric segments
// are disallowed per semver spec.
var tagRe = regexp.MustCompile(
	`^v(?:0|[1-9]\d*)\.(?:0|[1-9]\d*)\.(?:0|[1-9]\d*)` +
		`(?:-(?:[0-9A-Za-z-]+(?:\.[0-9A-Za-z-]+)*))?` +
		`(?:\+(?:[0-9A-Za-z-]+(?:\.[0-9A-Za-z-]+)*))?$`,
)

// commitRe matches a full 40-character hex commit id.
var commitRe = regexp.MustCompile(`^[0-9a-fA-F]{40}$`)

// segmentRe matches a single owner or repository path segment.
const segmentRe = `[A-Za-z0-9](?:[A-Za-z0-9._-]*[A-Za-z0-9])?`

// Result is the outcome of a successful source validation.
type Result struct {
	// CanonicalURL is the normalized clone URL with query/fragment noise and
	// the optional .git suffix stripped, so downstream steps compare paths
	// consistently.
	CanonicalURL string
	Owner        string
	Repo         string
}

// Validator gates which remote source locations and revisions are
// installable. It is a pure function of its inputs plus static configuration.
type Validator struct {
	host      string
	sourceRe  *regexp.Regexp
	whitelist []string
	enforce   bool
}

// NewValidator creates a Validator for the given trusted host. When enforce
// is true, the normalized owner/repo must match one whitelist entry; entries
// may use a single trailing wildcard segment ("owner/*").
func NewValidator(host string, whitelist []string, enforce bool) *Validator {
	pattern := `^(?:https?://)?` + regexp.QuoteMeta(host) +
		`/(` + segmentRe + `)/(` + segmentRe + `)$`

	return &Validator{
		host:      host,
		sourceRe:  regexp.MustCompile(pattern),
		whitelist: append([]string(nil), whitelist...),
		enforce:   enforce,
	}
}

// Validate checks sourceURL and ref against the trusted-host pattern, the
// ref shape rules, and the optional whitelist. It has no side effects.
func (v *Validator) Validate(sourceURL, ref string) (Result, error) {
	matches := v.sourceRe.FindStringSubmatch(normalizeSource(sourceURL))
	if matches == nil {
		return Result{}, latterr.Errorf(latterr.CodeRegistrySourceInvalid,
			"source %q is not a trusted %s owner/repo URL", sourceURL, v.host)
	}
	owner, repo := matches[1], matches[2]

	if err := v.validateRef(ref); err != nil {
		return Result{}, err
	}

	if v.enforce {
		if !v.whitelisted(owner, repo) {
			return Result{}, latterr.New(latterr.CodeRegistryWhitelistDenied,
				"source is not in the trusted source whitelist",
				latterr.Field("source", owner+"/"+repo))
		}
	}

	return Result{
		CanonicalURL: fmt.Sprintf("https://%s/%s/%s", v.host, owner, repo),
		Owner:        owner,
		Repo:         repo,
	}, nil
}

func (v *Validator) validateRef(ref string) error {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return latterr.New(latterr.CodeRegistryRefInvalid, "ref must not be empty")
	}

	// Floating references are rejected before any shape check so that a
	// whitelisted source cannot smuggle in a moving branch.
	if floatingRefs[strings.ToLower(ref)] {
		return latterr.Errorf(latterr.CodeRegistryRefInvalid,
			"ref %q is a floating reference; pin a version tag or commit id", ref)
	}

	if !tagRe.MatchString(ref) && !commitRe.MatchString(ref) {
		return latterr.Errorf(latterr.CodeRegistryRefInvalid,
			"ref %q must be a vMAJOR.MINOR.PATCH tag or a 40-character commit id", ref)
	}

	return nil
}

func (v *Validator) whitelisted(owner, repo string) bool {
	for _, entry := range v.whitelist {
		if matchSourceEntry(entry, owner, repo) {
			return true
		}
	}
	return false
}

// normalizeSource trims whitespace, query/fragment noise, a trailing slash
// and the optional .git suffix so the host pattern sees a bare owner/repo path.
func normalizeSource(sourceURL string) string {
	s := strings.TrimSpace(sourceURL)
	for _, sep := range []string{"?", "#"} {
		if idx := strings.Index(s, sep); idx != -1 {
			s = s[:idx]
		}
	}
	s = strings.TrimSuffix(s, "/")
	s = strings.TrimSuffix(s, ".git")
	return s
}

// matchSourceEntry matches "owner/repo" exactly, or "owner/*" where the
// single trailing wildcard segment matches any repository of that owner.
func matchSourceEntry(entry, owner, repo string) bool {
	parts := strings.SplitN(entry, "/", 2)
	if len(parts) != 2 {
		return false
	}
	if !strings.EqualFold(parts[0], owner) {
		return false
	}
	if parts[1] == "*" {
		return true
	}
	return strings.EqualFold(parts[1], repo)
}
