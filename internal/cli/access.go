// Copyright 2025 The Bento Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bento-platform/bento-authz/internal/authz"
	"github.com/bento-platform/bento-authz/internal/service"
)

func assignAllToUserCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "assign-all-to-user <issuer> <subject>",
		Short: "Grant a user every permission on everything",
		Long: `Grant a user every permission on everything: one grant per permission in
the vocabulary, at the broadest resource scope. Permissions that require a
narrower scope (dataset CRUD) are skipped and reported.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			iss, sub := args[0], args[1]
			subject := authz.SubjectPattern{Issuer: iss, Subject: sub}

			rt, err := connect(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			grantable, skipped := everythingGrantable(rt.registry)
			extra := notesExtra("assign-all-to-user ...")

			created := 0
			for _, p := range grantable {
				_, err := rt.grants.CreateGrant(cmd.Context(), authz.Grant{
					Subject:    subject,
					Resource:   authz.EverythingResource,
					Permission: p,
					Extra:      extra,
				})
				if errors.Is(err, service.ErrGrantAlreadyExists) {
					fmt.Fprintf(cmd.ErrOrStderr(), "Grant for %s already exists; skipping.\n", p)
					continue
				}
				if err != nil {
					return fmt.Errorf("failed to create grant for %s: %w", p, err)
				}
				created++
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Created %d grants for %s / %s.\n", created, iss, sub)
			if len(skipped) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(),
					"Skipped permissions that cannot be granted at the everything scope: %s\n",
					joinPermissions(skipped))
			}
			return nil
		},
	}
}

func publicDataAccessCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "public-data-access {none|bool|counts|full}",
		Short:     "Give everyone (anonymous included) a level of data access",
		Long:      "Give everyone, anonymous visitors included, a level of data access across all projects and datasets.",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"none", "bool", "counts", "full"},
		RunE: func(cmd *cobra.Command, args []string) error {
			level := args[0]
			if level == "none" {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing to do; no access is the default state.")
				return nil
			}

			force, err := cmd.Flags().GetBool("force")
			if err != nil {
				return err
			}
			if level == "full" && !force {
				ok, err := confirm(cmd,
					"Are you sure you wish to give full data access permissions to everyone (even anonymous / signed-out users?) [y/N] ")
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "Exiting without doing anything.")
					return nil
				}
			}

			rt, err := connect(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			extra := notesExtra("public-data-access " + level)
			for _, p := range dataAccessPermissions(level) {
				stored, err := rt.grants.CreateGrant(cmd.Context(), authz.Grant{
					Subject:    authz.EveryoneSubject,
					Resource:   authz.EverythingResource,
					Permission: p,
					Extra:      extra,
				})
				if errors.Is(err, service.ErrGrantAlreadyExists) {
					fmt.Fprintf(cmd.ErrOrStderr(), "Grant for %s already exists; skipping.\n", p)
					continue
				}
				if err != nil {
					return fmt.Errorf("failed to create grant for %s: %w", p, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Grant successfully created: %d\n", stored.ID)
			}
			return nil
		},
	}
	cmd.Flags().BoolP("force", "f", false, "Skip the confirmation prompt for full access")
	return cmd
}

// dataAccessPermissions maps a public access level to the permissions it
// grants. none maps to nothing: no access is the default state.
func dataAccessPermissions(level string) []authz.Permission {
	switch level {
	case "bool":
		return []authz.Permission{authz.PermQueryProjectLevelBoolean, authz.PermQueryDatasetLevelBoolean}
	case "counts":
		return []authz.Permission{authz.PermQueryProjectLevelCounts, authz.PermQueryDatasetLevelCounts}
	case "full":
		return []authz.Permission{authz.PermQueryData}
	default:
		return nil
	}
}

// everythingGrantable partitions the vocabulary into permissions grantable
// at the everything scope and those requiring a narrower resource.
func everythingGrantable(registry *authz.Registry) (grantable, skipped []authz.Permission) {
	for _, p := range registry.All() {
		if def, ok := registry.Get(p); ok && def.MinSpecificity == 0 {
			grantable = append(grantable, p)
		} else {
			skipped = append(skipped, p)
		}
	}
	return grantable, skipped
}

// confirm prompts on stdout and reads one line from stdin. Only "y" and
// "yes" (any case) count as confirmation.
func confirm(cmd *cobra.Command, prompt string) (bool, error) {
	fmt.Fprint(cmd.OutOrStdout(), prompt)
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

func joinPermissions(perms []authz.Permission) string {
	parts := make([]string, len(perms))
	for i, p := range perms {
		parts[i] = string(p)
	}
	return strings.Join(parts, ", ")
}
