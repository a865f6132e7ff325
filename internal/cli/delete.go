// Copyright 2025 The Bento Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func deleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete {grant|group} <id>",
		Short: "Delete a grant or group by ID",
		Long:  "Delete a grant or group by ID. Deleting a group also deletes every grant whose subject references it.",
		Args:  cobra.MatchAll(cobra.ExactArgs(2), entityArg(0)),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[1])
			if err != nil {
				return err
			}

			rt, err := connect(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			switch args[0] {
			case "grant":
				err = rt.grants.DeleteGrant(cmd.Context(), id)
			case "group":
				err = rt.groups.DeleteGroupAndDependentGrants(cmd.Context(), id)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Done.")
			return nil
		},
	}
}
