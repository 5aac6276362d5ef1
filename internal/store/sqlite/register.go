// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lattice Contributors

package sqlite

import (
	"github.com/lattice-dev/lattice/internal/store"
)

func init() {
	store.RegisterBackend("sqlite", func(path string) (store.PolicyStore, error) {
		return NewPolicyStore(path)
	})
}
