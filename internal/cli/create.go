// Copyright 2025 The Bento Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bento-platform/bento-authz/internal/authz"
)

func createCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create grants and groups",
	}
	cmd.AddCommand(createGrantCommand(), createGroupCommand())
	return cmd
}

func createGrantCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grant <subject-json> <resource-json> <permission>...",
		Short: "Create one grant per listed permission",
		Long: `Create one grant per listed permission.

The subject and resource are JSON pattern documents, e.g.

  bento-authz create grant '{"everyone": true}' '{"project": "p1"}' query:data`,
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var subject authz.SubjectPattern
			if err := json.Unmarshal([]byte(args[0]), &subject); err != nil {
				return fmt.Errorf("invalid subject: %w", err)
			}
			var resource authz.ResourcePattern
			if err := json.Unmarshal([]byte(args[1]), &resource); err != nil {
				return fmt.Errorf("invalid resource: %w", err)
			}
			expiry, err := expiryFlag(cmd)
			if err != nil {
				return err
			}
			extra, err := extraFromNotes(cmd)
			if err != nil {
				return err
			}

			rt, err := connect(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			for _, p := range args[2:] {
				stored, err := rt.grants.CreateGrant(cmd.Context(), authz.Grant{
					Subject:    subject,
					Resource:   resource,
					Permission: authz.Permission(p),
					Expiry:     expiry,
					Extra:      extra,
				})
				if err != nil {
					return fmt.Errorf("failed to create grant for %s: %w", p, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Grant successfully created: %d\n", stored.ID)
			}
			return nil
		},
	}
	cmd.Flags().String("notes", "", "Human-readable notes stored in the grant's extra data")
	cmd.Flags().String("expiry", "", "Expiry timestamp (RFC 3339); empty means the grant never expires")
	return cmd
}

func createGroupCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group <name> <membership-json>",
		Short: "Create a group from a membership document",
		Long: `Create a group from a membership document, e.g.

  bento-authz create group clinicians '{"members": [{"iss": "https://idp.local/realms/bento", "sub": "alice"}]}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var membership authz.Membership
			if err := json.Unmarshal([]byte(args[1]), &membership); err != nil {
				return fmt.Errorf("invalid membership: %w", err)
			}
			expiry, err := expiryFlag(cmd)
			if err != nil {
				return err
			}
			extra, err := extraFromNotes(cmd)
			if err != nil {
				return err
			}

			rt, err := connect(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			stored, err := rt.groups.CreateGroup(cmd.Context(), authz.Group{
				Name:       args[0],
				Membership: membership,
				Expiry:     expiry,
				Extra:      extra,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Group successfully created: %d\n", stored.ID)
			return nil
		},
	}
	cmd.Flags().String("notes", "", "Human-readable notes stored in the group's extra data")
	cmd.Flags().String("expiry", "", "Expiry timestamp (RFC 3339); empty means the group never expires")
	return cmd
}

// expiryFlag parses the optional --expiry flag. Nil means no expiry.
func expiryFlag(cmd *cobra.Command) (*time.Time, error) {
	raw, err := cmd.Flags().GetString("expiry")
	if err != nil || raw == "" {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid expiry %q: must be RFC 3339, e.g. 2026-01-02T15:04:05Z", raw)
	}
	return &t, nil
}

// extraFromNotes builds the extra document from the --notes flag. No notes
// means no extra data.
func extraFromNotes(cmd *cobra.Command) (json.RawMessage, error) {
	notes, err := cmd.Flags().GetString("notes")
	if err != nil {
		return nil, err
	}
	if notes == "" {
		return nil, nil
	}
	b, err := json.Marshal(map[string]string{"notes": notes})
	if err != nil {
		return nil, err
	}
	return b, nil
}
