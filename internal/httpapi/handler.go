// Copyright 2025 The Bento Authors
// SPDX-License-Identifier: Apache-2.0

// Package httpapi is the service's JSON HTTP surface: policy evaluation,
// grant and group administration, and the public metadata endpoints.
package httpapi

import (
	"context"
	"log/slog"
	"time"

	"github.com/bento-platform/bento-authz/internal/authz"
	"github.com/bento-platform/bento-authz/internal/idp"
	"github.com/bento-platform/bento-authz/internal/server/middleware/metrics"
	"github.com/bento-platform/bento-authz/internal/service"
)

// Config holds the handler-level settings extracted from the service
// configuration.
type Config struct {
	// ServiceURL is the service's externally visible base URL, used for
	// self-referential IDs in service-info and the token_data schema.
	ServiceURL string

	// Debug exposes internal error details in 500 bodies.
	Debug bool

	// CORSOrigins lists the allowed cross-origin request origins.
	CORSOrigins []string

	// RequestTimeout bounds each request's context.
	RequestTimeout time.Duration
}

// Handler holds the services and provides the HTTP handlers.
type Handler struct {
	services *service.Services
	registry *authz.Registry
	verifier idp.TokenVerifier
	metrics  *metrics.Metrics
	ready    func(context.Context) error
	cfg      Config
	logger   *slog.Logger
}

// New creates a Handler. ready is the readiness probe (a store ping);
// verifier resolves bearer tokens for the whole surface.
func New(
	services *service.Services,
	registry *authz.Registry,
	verifier idp.TokenVerifier,
	m *metrics.Metrics,
	ready func(context.Context) error,
	cfg Config,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		services: services,
		registry: registry,
		verifier: verifier,
		metrics:  m,
		ready:    ready,
		cfg:      cfg,
		logger:   logger,
	}
}
