// Copyright 2025 The Bento Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bento-platform/bento-authz/internal/authz"
)

func listCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "list {permissions|grants|groups}",
		Short:     "List permissions, grants or groups",
		Long:      "List permissions, grants or groups. Grants and groups are printed as one JSON document per line.",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"permissions", "grants", "groups"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[0] == "permissions" {
				// The permission vocabulary is compiled in; no store needed.
				for _, p := range authz.DefaultRegistry().All() {
					fmt.Fprintln(cmd.OutOrStdout(), string(p))
				}
				return nil
			}

			rt, err := connect(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			switch args[0] {
			case "grants":
				grants, err := rt.grants.ListGrants(cmd.Context())
				if err != nil {
					return err
				}
				for _, g := range grants {
					if err := printJSON(cmd, g); err != nil {
						return err
					}
				}
			case "groups":
				groups, err := rt.groups.ListGroups(cmd.Context())
				if err != nil {
					return err
				}
				for _, g := range groups {
					if err := printJSON(cmd, g); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
}
