// Copyright 2025 The Bento Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bento-platform/bento-authz/internal/authz"
	"github.com/bento-platform/bento-authz/internal/config"
	"github.com/bento-platform/bento-authz/internal/httpapi"
	"github.com/bento-platform/bento-authz/internal/idp"
	"github.com/bento-platform/bento-authz/internal/logging"
	"github.com/bento-platform/bento-authz/internal/server"
	"github.com/bento-platform/bento-authz/internal/server/middleware/metrics"
	"github.com/bento-platform/bento-authz/internal/service"
	"github.com/bento-platform/bento-authz/internal/storage/postgres"
	"github.com/bento-platform/bento-authz/internal/version"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to a YAML configuration file")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := logging.New(logging.Config{
		Level:     cfg.SlogLevel(),
		Format:    "json",
		AddSource: cfg.Debug,
	})
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting bento authorization service",
		"version", version.Version,
		"port", cfg.Server.Port,
		"debug", cfg.Debug)

	store, err := postgres.Open(cfg.Database.URI, cfg.Database.PoolSize, logger.With("component", "store"))
	if err != nil {
		return fmt.Errorf("failed to open policy store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close policy store", "error", err)
		}
	}()

	if err := store.Bootstrap(ctx); err != nil {
		return fmt.Errorf("failed to prepare policy store schema: %w", err)
	}

	m := metrics.New(nil)

	verifier, err := buildVerifier(cfg, m, logger)
	if err != nil {
		return err
	}

	registry := authz.DefaultRegistry()
	engine := authz.NewEngine(
		store,
		registry,
		cfg.SuperUsers,
		authz.NewDecisionLogger(logger.With("component", "decisions")),
		logger.With("component", "engine"),
	)

	services := service.NewServices(store, engine, logger)

	handler := httpapi.New(services, registry, verifier, m, store.Ping, httpapi.Config{
		ServiceURL:     cfg.Service.URL,
		Debug:          cfg.Debug,
		CORSOrigins:    cfg.CORS.Origins,
		RequestTimeout: cfg.Server.RequestTimeout,
	}, logger.With("component", "handlers"))

	srv := server.New(server.Config{
		Addr:            fmt.Sprintf(":%d", cfg.Server.Port),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, handler.Routes(), logger)

	return srv.Run(ctx)
}

// buildVerifier wires token verification. With verification disabled,
// bearer token claims are trusted as-is; never deploy that outside local
// development.
func buildVerifier(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (idp.TokenVerifier, error) {
	if cfg.OIDC.DisableVerification {
		logger.Warn("token signature verification is DISABLED; bearer claims are trusted as-is")
		return idp.NewInsecureVerifier(logger.With("component", "idp")), nil
	}

	keys := idp.NewKeyCache(nil, cfg.OIDC.JWKSTTL, logger.With("component", "jwks"))
	keys.OnFetch = m.CountKeyFetch

	verifier, err := idp.NewVerifier(idp.Config{
		DiscoveryURL: cfg.OIDC.ConfigURL,
		Audiences:    cfg.OIDC.Audiences,
		Leeway:       cfg.OIDC.Leeway,
	}, keys, logger.With("component", "idp"))
	if err != nil {
		return nil, fmt.Errorf("failed to configure token verification: %w", err)
	}
	return verifier, nil
}
