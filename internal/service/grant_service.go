// Copyright 2025 The Bento Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bento-platform/bento-authz/internal/authz"
	"github.com/bento-platform/bento-authz/internal/storage/postgres"
)

// GrantStore is the persistence surface the grant service uses.
type GrantStore interface {
	ListGrants(ctx context.Context) ([]authz.StoredGrant, error)
	GetGrant(ctx context.Context, id int64) (authz.StoredGrant, error)
	CreateGrant(ctx context.Context, g authz.Grant) (int64, error)
	DeleteGrant(ctx context.Context, id int64) error
}

// Grants defines the grant service interface. Both the core service (no
// authz) and the authz-wrapped service implement it.
type Grants interface {
	ListGrants(ctx context.Context) ([]authz.StoredGrant, error)
	GetGrant(ctx context.Context, id int64) (authz.StoredGrant, error)
	CreateGrant(ctx context.Context, g authz.Grant) (authz.StoredGrant, error)
	DeleteGrant(ctx context.Context, id int64) error
}

// grantService handles grant business logic without authorization checks.
// The admin CLI uses this directly; handlers go through the authz wrapper.
type grantService struct {
	store    GrantStore
	registry *authz.Registry
	logger   *slog.Logger
	now      func() time.Time
}

var _ Grants = (*grantService)(nil)

// NewGrantService creates a grant service without authorization checks.
func NewGrantService(store GrantStore, registry *authz.Registry, logger *slog.Logger) Grants {
	return &grantService{store: store, registry: registry, logger: logger, now: time.Now}
}

func (s *grantService) ListGrants(ctx context.Context) ([]authz.StoredGrant, error) {
	s.logger.Debug("listing grants")

	grants, err := s.store.ListGrants(ctx)
	if err != nil {
		s.logger.Error("failed to list grants", "error", err)
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	return grants, nil
}

func (s *grantService) GetGrant(ctx context.Context, id int64) (authz.StoredGrant, error) {
	s.logger.Debug("getting grant", "id", id)

	grant, err := s.store.GetGrant(ctx, id)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return authz.StoredGrant{}, fmt.Errorf("%w: id %d", ErrGrantNotFound, id)
		}
		s.logger.Error("failed to get grant", "error", err, "id", id)
		return authz.StoredGrant{}, fmt.Errorf("failed to get grant: %w", err)
	}
	return grant, nil
}

func (s *grantService) CreateGrant(ctx context.Context, g authz.Grant) (authz.StoredGrant, error) {
	if err := s.validateGrant(g); err != nil {
		return authz.StoredGrant{}, err
	}
	if g.Created.IsZero() {
		g.Created = s.now().UTC()
	}

	id, err := s.store.CreateGrant(ctx, g)
	if err != nil {
		switch {
		case errors.Is(err, postgres.ErrGrantExists):
			return authz.StoredGrant{}, ErrGrantAlreadyExists
		case errors.Is(err, postgres.ErrUnknownGroup):
			return authz.StoredGrant{}, fmt.Errorf("%w: group %d", ErrUnknownGroup, g.Subject.Group)
		}
		s.logger.Error("failed to create grant", "error", err)
		return authz.StoredGrant{}, fmt.Errorf("failed to create grant: %w", err)
	}

	s.logger.Info("created grant",
		"id", id,
		"permission", g.Permission,
		"resource", g.Resource.String(),
		"negated", g.Negated,
	)
	return authz.StoredGrant{ID: id, Grant: g}, nil
}

func (s *grantService) DeleteGrant(ctx context.Context, id int64) error {
	if err := s.store.DeleteGrant(ctx, id); err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return fmt.Errorf("%w: id %d", ErrGrantNotFound, id)
		}
		s.logger.Error("failed to delete grant", "error", err, "id", id)
		return fmt.Errorf("failed to delete grant: %w", err)
	}

	s.logger.Info("deleted grant", "id", id)
	return nil
}

// validateGrant enforces the write-time rules: legal subject and resource
// patterns, a registered permission granted at or above its minimum
// specificity, and an expiry that has not already passed.
func (s *grantService) validateGrant(g authz.Grant) error {
	if err := g.Subject.Validate(); err != nil {
		return err
	}
	if err := g.Resource.Validate(); err != nil {
		return err
	}
	if err := s.registry.CheckGrantable(g.Permission, g.Resource); err != nil {
		return err
	}
	if g.Expiry != nil && !g.Expiry.After(s.now()) {
		return ErrAlreadyExpired
	}
	return nil
}

// grantServiceWithAuthz wraps Grants and requires the caller to hold
// view:permissions (reads) or edit:permissions (writes) on each grant's own
// resource. Handlers should use this; the CLI uses the unwrapped service.
type grantServiceWithAuthz struct {
	internal Grants
	checker  *Checker
}

var _ Grants = (*grantServiceWithAuthz)(nil)

// NewGrantServiceWithAuthz creates a grant service that authorizes every
// operation against the policy engine before touching the store.
func NewGrantServiceWithAuthz(store GrantStore, checker *Checker, registry *authz.Registry, logger *slog.Logger) Grants {
	return &grantServiceWithAuthz{
		internal: NewGrantService(store, registry, logger),
		checker:  checker,
	}
}

// ListGrants returns only the grants whose resource the caller may view.
func (s *grantServiceWithAuthz) ListGrants(ctx context.Context) ([]authz.StoredGrant, error) {
	grants, err := s.internal.ListGrants(ctx)
	if err != nil {
		return nil, err
	}
	if len(grants) == 0 {
		return grants, nil
	}

	resources := make([]authz.ResourcePattern, len(grants))
	for i, g := range grants {
		resources[i] = g.Resource
	}
	visible, err := s.checker.BatchCheck(ctx, authz.PermViewPermissions, resources)
	if err != nil {
		return nil, err
	}

	filtered := make([]authz.StoredGrant, 0, len(grants))
	for i, g := range grants {
		if visible[i] {
			filtered = append(filtered, g)
		}
	}
	return filtered, nil
}

func (s *grantServiceWithAuthz) GetGrant(ctx context.Context, id int64) (authz.StoredGrant, error) {
	grant, err := s.internal.GetGrant(ctx, id)
	if err != nil {
		return authz.StoredGrant{}, err
	}
	if err := s.checker.Check(ctx, authz.PermViewPermissions, grant.Resource); err != nil {
		return authz.StoredGrant{}, err
	}
	return grant, nil
}

func (s *grantServiceWithAuthz) CreateGrant(ctx context.Context, g authz.Grant) (authz.StoredGrant, error) {
	if err := g.Resource.Validate(); err != nil {
		return authz.StoredGrant{}, err
	}
	if err := s.checker.Check(ctx, authz.PermEditPermissions, g.Resource); err != nil {
		return authz.StoredGrant{}, err
	}
	return s.internal.CreateGrant(ctx, g)
}

func (s *grantServiceWithAuthz) DeleteGrant(ctx context.Context, id int64) error {
	grant, err := s.internal.GetGrant(ctx, id)
	if err != nil {
		return err
	}
	if err := s.checker.Check(ctx, authz.PermEditPermissions, grant.Resource); err != nil {
		return err
	}
	return s.internal.DeleteGrant(ctx, id)
}
