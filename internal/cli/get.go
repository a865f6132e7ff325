// Copyright 2025 The Bento Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func getCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get {grant|group} <id>",
		Short: "Print one grant or group as indented JSON",
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
				grant, err := rt.grants.GetGrant(cmd.Context(), id)
				if err != nil {
					return err
				}
				return printJSONIndented(cmd, grant)
			case "group":
				group, err := rt.groups.GetGroup(cmd.Context(), id)
				if err != nil {
					return err
				}
				return printJSONIndented(cmd, group)
			}
			return nil
		},
	}
}

// entityArg validates that the positional argument at index i names a
// grant or a group.
func entityArg(i int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) <= i {
			return nil
		}
		if args[i] != "grant" && args[i] != "group" {
			return fmt.Errorf("invalid entity %q: must be one of \"grant\", \"group\"", args[i])
		}
		return nil
	}
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid ID %q: must be an integer", raw)
	}
	return id, nil
}
