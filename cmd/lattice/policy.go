// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lattice Contributors

package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lattice-dev/lattice/internal/store"
	latterr "github.com/lattice-dev/lattice/pkg/errors"
	"github.com/lattice-dev/lattice/pkg/plugin"
	"github.com/spf13/cobra"
)

func newPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and override API access policies",
	}

	cmd.AddCommand(
		newPolicyGetCmd(),
		newPolicySetCmd(),
		newPolicyDeleteCmd(),
		newPolicyRebuildCmd(),
	)

	return cmd
}

func newPolicyGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <api-id>",
		Short: "Resolve the effective policy for an API from the snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			platform, err := WirePlatform(cfg)
			if err != nil {
				return err
			}
			defer platform.Close()

			entry := platform.Reader.GetPolicy(args[0])
			if entry == nil {
				return latterr.Errorf(latterr.CodeStorePolicyNotFound,
					"no policy for api %q", args[0])
			}

			data, err := json.MarshalIndent(entry, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func newPolicySetCmd() *cobra.Command {
	var (
		pluginID    string
		enabled     bool
		visibility  string
		scopes      []string
		constraints []string
	)

	cmd := &cobra.Command{
		Use:   "set <api-id>",
		Short: "Persist an administrator policy override and rebuild the snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseConstraints(constraints)
			if err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			platform, err := WirePlatform(cfg)
			if err != nil {
				return err
			}
			defer platform.Close()

			rec := &store.PolicyRecord{
				APIID:          args[0],
				PluginID:       pluginID,
				Enabled:        enabled,
				Visibility:     plugin.Visibility(visibility),
				RequiredScopes: scopes,
				Constraints:    parsed,
			}
			if err := platform.Store.UpsertPolicy(cmd.Context(), rec); err != nil {
				return err
			}
			if err := platform.RebuildSnapshot(cmd.Context()); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "policy for %s updated\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&pluginID, "plugin", "", "owning plugin id")
	cmd.Flags().BoolVar(&enabled, "enabled", true, "whether the API is reachable")
	cmd.Flags().StringVar(&visibility, "visibility", string(plugin.VisibilityPrivate),
		"visibility: public or private")
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "required scope (repeatable)")
	cmd.Flags().StringSliceVar(&constraints, "constraint", nil, "constraint key=value (repeatable)")

	return cmd
}

func newPolicyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <api-id>",
		Short: "Remove an administrator policy override and rebuild the snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			platform, err := WirePlatform(cfg)
			if err != nil {
				return err
			}
			defer platform.Close()

			if err := platform.Store.DeletePolicy(cmd.Context(), args[0]); err != nil {
				return err
			}
			if err := platform.RebuildSnapshot(cmd.Context()); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "policy override for %s removed\n", args[0])
			return nil
		},
	}
}

func newPolicyRebuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the policy snapshot from plugins and persisted overrides",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			platform, err := WirePlatform(cfg)
			if err != nil {
				return err
			}
			defer platform.Close()

			if err := platform.RebuildSnapshot(cmd.Context()); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "policy snapshot rebuilt")
			return nil
		},
	}
}

func parseConstraints(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, latterr.Errorf(latterr.CodeCLIInputInvalid,
				"constraint %q must be key=value", pair)
		}
		out[key] = value
	}

	return out, nil
}
