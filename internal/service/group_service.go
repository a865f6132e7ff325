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

// GroupStore is the persistence surface the group service uses.
type GroupStore interface {
	ListGroups(ctx context.Context) ([]authz.StoredGroup, error)
	GetGroup(ctx context.Context, id int64) (authz.StoredGroup, error)
	CreateGroup(ctx context.Context, g authz.Group) (int64, error)
	UpdateGroup(ctx context.Context, id int64, g authz.Group) error
	DeleteGroup(ctx context.Context, id int64) error
	DeleteGroupAndDependentGrants(ctx context.Context, id int64) error
}

// Groups defines the group service interface. Both the core service (no
// authz) and the authz-wrapped service implement it.
type Groups interface {
	ListGroups(ctx context.Context) ([]authz.StoredGroup, error)
	GetGroup(ctx context.Context, id int64) (authz.StoredGroup, error)
	CreateGroup(ctx context.Context, g authz.Group) (authz.StoredGroup, error)
	UpdateGroup(ctx context.Context, id int64, g authz.Group) (authz.StoredGroup, error)
	DeleteGroup(ctx context.Context, id int64) error
	DeleteGroupAndDependentGrants(ctx context.Context, id int64) error
}

// groupService handles group business logic without authorization checks.
type groupService struct {
	store  GroupStore
	logger *slog.Logger
	now    func() time.Time
}

var _ Groups = (*groupService)(nil)

// NewGroupService creates a group service without authorization checks.
func NewGroupService(store GroupStore, logger *slog.Logger) Groups {
	return &groupService{store: store, logger: logger, now: time.Now}
}

func (s *groupService) ListGroups(ctx context.Context) ([]authz.StoredGroup, error) {
	s.logger.Debug("listing groups")

	groups, err := s.store.ListGroups(ctx)
	if err != nil {
		s.logger.Error("failed to list groups", "error", err)
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	return groups, nil
}

func (s *groupService) GetGroup(ctx context.Context, id int64) (authz.StoredGroup, error) {
	s.logger.Debug("getting group", "id", id)

	group, err := s.store.GetGroup(ctx, id)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return authz.StoredGroup{}, fmt.Errorf("%w: id %d", ErrGroupNotFound, id)
		}
		s.logger.Error("failed to get group", "error", err, "id", id)
		return authz.StoredGroup{}, fmt.Errorf("failed to get group: %w", err)
	}
	return group, nil
}

func (s *groupService) CreateGroup(ctx context.Context, g authz.Group) (authz.StoredGroup, error) {
	if err := s.validateGroup(g); err != nil {
		return authz.StoredGroup{}, err
	}
	if g.Expiry != nil && !g.Expiry.After(s.now()) {
		return authz.StoredGroup{}, ErrAlreadyExpired
	}
	if g.Created.IsZero() {
		g.Created = s.now().UTC()
	}

	id, err := s.store.CreateGroup(ctx, g)
	if err != nil {
		if errors.Is(err, postgres.ErrGroupExists) {
			return authz.StoredGroup{}, fmt.Errorf("%w: %q", ErrGroupNameExists, g.Name)
		}
		s.logger.Error("failed to create group", "error", err, "name", g.Name)
		return authz.StoredGroup{}, fmt.Errorf("failed to create group: %w", err)
	}

	s.logger.Info("created group", "id", id, "name", g.Name)
	return authz.StoredGroup{ID: id, Group: g}, nil
}

// UpdateGroup replaces the group's name, membership, extra data, and expiry.
// The creation timestamp is immutable. Unlike CreateGroup, an expiry in the
// past is accepted here: moving the expiry back disables a group without
// deleting its grants.
func (s *groupService) UpdateGroup(ctx context.Context, id int64, g authz.Group) (authz.StoredGroup, error) {
	if err := s.validateGroup(g); err != nil {
		return authz.StoredGroup{}, err
	}

	if err := s.store.UpdateGroup(ctx, id, g); err != nil {
		switch {
		case errors.Is(err, postgres.ErrNotFound):
			return authz.StoredGroup{}, fmt.Errorf("%w: id %d", ErrGroupNotFound, id)
		case errors.Is(err, postgres.ErrGroupExists):
			return authz.StoredGroup{}, fmt.Errorf("%w: %q", ErrGroupNameExists, g.Name)
		}
		s.logger.Error("failed to update group", "error", err, "id", id)
		return authz.StoredGroup{}, fmt.Errorf("failed to update group: %w", err)
	}

	s.logger.Info("updated group", "id", id, "name", g.Name)
	return s.GetGroup(ctx, id)
}

func (s *groupService) DeleteGroup(ctx context.Context, id int64) error {
	if err := s.store.DeleteGroup(ctx, id); err != nil {
		switch {
		case errors.Is(err, postgres.ErrNotFound):
			return fmt.Errorf("%w: id %d", ErrGroupNotFound, id)
		case errors.Is(err, postgres.ErrGroupReferenced):
			return fmt.Errorf("%w: id %d", ErrGroupInUse, id)
		}
		s.logger.Error("failed to delete group", "error", err, "id", id)
		return fmt.Errorf("failed to delete group: %w", err)
	}

	s.logger.Info("deleted group", "id", id)
	return nil
}

func (s *groupService) DeleteGroupAndDependentGrants(ctx context.Context, id int64) error {
	if err := s.store.DeleteGroupAndDependentGrants(ctx, id); err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return fmt.Errorf("%w: id %d", ErrGroupNotFound, id)
		}
		s.logger.Error("failed to delete group with dependent grants", "error", err, "id", id)
		return fmt.Errorf("failed to delete group: %w", err)
	}

	s.logger.Info("deleted group and dependent grants", "id", id)
	return nil
}

func (s *groupService) validateGroup(g authz.Group) error {
	if g.Name == "" {
		return ErrGroupNameEmpty
	}
	return g.Membership.Validate()
}

// groupServiceWithAuthz wraps Groups with caller checks: view:permissions
// on the whole permission space for reads, edit:groups for writes.
type groupServiceWithAuthz struct {
	internal Groups
	checker  *Checker
}

var _ Groups = (*groupServiceWithAuthz)(nil)

// NewGroupServiceWithAuthz creates a group service that authorizes every
// operation against the policy engine before touching the store.
func NewGroupServiceWithAuthz(store GroupStore, checker *Checker, logger *slog.Logger) Groups {
	return &groupServiceWithAuthz{
		internal: NewGroupService(store, logger),
		checker:  checker,
	}
}

func (s *groupServiceWithAuthz) ListGroups(ctx context.Context) ([]authz.StoredGroup, error) {
	if err := s.checker.Check(ctx, authz.PermViewPermissions, authz.EverythingResource); err != nil {
		return nil, err
	}
	return s.internal.ListGroups(ctx)
}

func (s *groupServiceWithAuthz) GetGroup(ctx context.Context, id int64) (authz.StoredGroup, error) {
	if err := s.checker.Check(ctx, authz.PermViewPermissions, authz.EverythingResource); err != nil {
		return authz.StoredGroup{}, err
	}
	return s.internal.GetGroup(ctx, id)
}

func (s *groupServiceWithAuthz) CreateGroup(ctx context.Context, g authz.Group) (authz.StoredGroup, error) {
	if err := s.checker.Check(ctx, authz.PermEditGroups, authz.EverythingResource); err != nil {
		return authz.StoredGroup{}, err
	}
	return s.internal.CreateGroup(ctx, g)
}

func (s *groupServiceWithAuthz) UpdateGroup(ctx context.Context, id int64, g authz.Group) (authz.StoredGroup, error) {
	if err := s.checker.Check(ctx, authz.PermEditGroups, authz.EverythingResource); err != nil {
		return authz.StoredGroup{}, err
	}
	return s.internal.UpdateGroup(ctx, id, g)
}

func (s *groupServiceWithAuthz) DeleteGroup(ctx context.Context, id int64) error {
	if err := s.checker.Check(ctx, authz.PermEditGroups, authz.EverythingResource); err != nil {
		return err
	}
	return s.internal.DeleteGroup(ctx, id)
}

func (s *groupServiceWithAuthz) DeleteGroupAndDependentGrants(ctx context.Context, id int64) error {
	if err := s.checker.Check(ctx, authz.PermEditGroups, authz.EverythingResource); err != nil {
		return err
	}
	return s.internal.DeleteGroupAndDependentGrants(ctx, id)
}
