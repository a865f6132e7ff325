// Copyright 2025 The Bento Authors
// SPDX-License-Identifier: Apache-2.0

// Package service implements the layer between the HTTP handlers and the
// policy store: input validation, storage error translation, and
// self-authorization of the administrative endpoints against the same
// policy engine they manage.
package service

import (
	"log/slog"

	"github.com/bento-platform/bento-authz/internal/authz"
)

// Store is the full persistence surface the service layer consumes.
// *postgres.Store satisfies it.
type Store interface {
	GrantStore
	GroupStore
}

// Services aggregates the service layer for handler wiring.
type Services struct {
	Grants Grants
	Groups Groups
	Policy Policy
}

// NewServices creates the authz-enforcing service set used by the HTTP
// handlers. The CLI builds unwrapped services instead.
func NewServices(store Store, engine *authz.Engine, logger *slog.Logger) *Services {
	checker := NewChecker(engine, logger.With("service", "authz"))

	return &Services{
		Grants: NewGrantServiceWithAuthz(store, checker, engine.Registry(), logger.With("service", "grant")),
		Groups: NewGroupServiceWithAuthz(store, checker, logger.With("service", "group")),
		Policy: NewPolicyService(engine, logger.With("service", "policy")),
	}
}
