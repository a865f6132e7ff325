// Copyright 2025 The Bento Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli implements the bento-authz administrative command line:
// direct policy store access for listing, inspecting, creating and
// deleting grants and groups, plus helpers for common bootstrap setups.
package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bento-platform/bento-authz/internal/authz"
	"github.com/bento-platform/bento-authz/internal/config"
	"github.com/bento-platform/bento-authz/internal/logging"
	"github.com/bento-platform/bento-authz/internal/service"
	"github.com/bento-platform/bento-authz/internal/storage/postgres"
	"github.com/bento-platform/bento-authz/internal/version"
)

// Command builds the root bento-authz command.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bento-authz",
		Short: "Administrative CLI for the Bento authorization service",
		Long: `Administrative CLI for the Bento authorization service.

Operates on the policy store directly with operator credentials, bypassing
the HTTP surface and its self-authorization. Configuration comes from the
same sources as the server: defaults, an optional YAML file, environment
variables, and the flags below.`,
		Version:      version.Version,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringP("config", "c", "", "Path to a YAML configuration file")
	cmd.PersistentFlags().String("database-uri", "", "Postgres connection URI (overrides configuration)")
	cmd.PersistentFlags().String("openid-config-url", "", "OpenID discovery document URL (overrides configuration)")
	cmd.PersistentFlags().Bool("debug", false, "Enable debug logging")

	cmd.AddCommand(
		listCommand(),
		getCommand(),
		createCommand(),
		deleteCommand(),
		assignAllToUserCommand(),
		publicDataAccessCommand(),
	)

	return cmd
}

// runtime bundles what a subcommand needs to operate on the policy store.
// The CLI uses the unwrapped services: no bearer token, no
// self-authorization.
type runtime struct {
	cfg      *config.Config
	store    *postgres.Store
	grants   service.Grants
	groups   service.Groups
	registry *authz.Registry
}

// connect loads configuration, opens the store, ensures the schema exists
// and prepares the services. The caller must Close the runtime.
func connect(cmd *cobra.Command) (*runtime, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}

	cfg, err := config.LoadWithFlags(configPath, cmd.Flags())
	if err != nil {
		return nil, err
	}

	// Logs go to stderr so JSON output on stdout stays pipeable.
	logger := logging.New(logging.Config{
		Level:  cfg.SlogLevel(),
		Format: "text",
		Writer: os.Stderr,
	})

	store, err := postgres.Open(cfg.Database.URI, cfg.Database.PoolSize, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open policy store: %w", err)
	}
	if err := store.Bootstrap(cmd.Context()); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to prepare policy store schema: %w", err)
	}

	registry := authz.DefaultRegistry()
	return &runtime{
		cfg:      cfg,
		store:    store,
		grants:   service.NewGrantService(store, registry, logger),
		groups:   service.NewGroupService(store, logger),
		registry: registry,
	}, nil
}

func (rt *runtime) Close() {
	_ = rt.store.Close()
}

// printJSON writes one entity as a single JSON line, for list output.
func printJSON(cmd *cobra.Command, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return nil
}

// printJSONIndented pretty-prints one entity, for get output.
func printJSONIndented(cmd *cobra.Command, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return nil
}

// notesExtra builds the extra document recording which CLI invocation
// produced an entity.
func notesExtra(invocation string) json.RawMessage {
	b, _ := json.Marshal(map[string]string{
		"notes": "Generated by the bento-authz CLI as a result of `bento-authz " + invocation + "`",
	})
	return b
}
