// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lattice Contributors

package main

import (
	"fmt"

	"github.com/lattice-dev/lattice/internal/installer"
	"github.com/spf13/cobra"
)

func newInstallCmd() *cobra.Command {
	var accept bool

	cmd := &cobra.Command{
		Use:   "install <source-url> <ref>",
		Short: "Install a plugin from a trusted source at a pinned ref",
		Args:  cobra.ExactArgs(2),
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

			res := platform.Installer.Install(cmd.Context(), args[0], args[1],
				installer.Options{AcceptDependencies: accept})

			if res.RequiresConfirmation {
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, "This plugin declares package dependencies:")
				for _, dep := range res.Dependencies {
					fmt.Fprintf(out, "  %s\n", dep)
				}
				fmt.Fprintln(out, "Re-run with --accept-dependencies to install them.")
				return res.Err
			}
			if res.Err != nil {
				if res.RollbackPerformed {
					fmt.Fprintln(cmd.ErrOrStderr(), "install failed; all changes were rolled back")
				}
				return res.Err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "installed %s at %s\n", res.PluginID, res.PluginDir)
			return nil
		},
	}

	cmd.Flags().BoolVar(&accept, "accept-dependencies", false,
		"confirm installation of the plugin's package dependencies")

	return cmd
}

func newUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall <plugin-id>",
		Short: "Uninstall an installed plugin",
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

			res := platform.Installer.Uninstall(cmd.Context(), args[0])
			if res.Err != nil {
				if res.RollbackPerformed {
					fmt.Fprintln(cmd.ErrOrStderr(), "uninstall failed; all changes were rolled back")
				}
				return res.Err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "uninstalled %s\n", res.PluginID)
			return nil
		},
	}
}
