// Copyright 2025 The Bento Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bento-platform/bento-authz/internal/authz"
	"github.com/bento-platform/bento-authz/internal/server/middleware/auth"
)

// Policy answers access questions for the caller, or for an explicitly
// supplied claim set when the caller is allowed to introspect it.
type Policy interface {
	Evaluate(ctx context.Context, tokenData map[string]any, resources []authz.ResourcePattern, permissions []authz.Permission) ([][]bool, error)
	EvaluateOne(ctx context.Context, tokenData map[string]any, resource authz.ResourcePattern, permission authz.Permission) (bool, error)
	Permissions(ctx context.Context, tokenData map[string]any, resources []authz.ResourcePattern) ([][]authz.Permission, error)
	PermissionsMap(ctx context.Context, tokenData map[string]any, resources []authz.ResourcePattern) ([]map[authz.Permission]bool, error)
}

type policyService struct {
	engine  *authz.Engine
	checker *Checker
	logger  *slog.Logger
}

var _ Policy = (*policyService)(nil)

// NewPolicyService creates the policy evaluation service.
func NewPolicyService(engine *authz.Engine, logger *slog.Logger) Policy {
	return &policyService{
		engine:  engine,
		checker: NewChecker(engine, logger),
		logger:  logger,
	}
}

// subjectFor resolves which subject to evaluate: the caller, unless the
// request carries explicit token data. Evaluating someone else's claims is
// token introspection, so the caller must hold view:permissions on every
// requested resource.
func (s *policyService) subjectFor(ctx context.Context, tokenData map[string]any, resources []authz.ResourcePattern) (authz.ResolvedSubject, error) {
	if tokenData == nil {
		return auth.SubjectFromContext(ctx), nil
	}

	decisions, err := s.checker.BatchCheck(ctx, authz.PermViewPermissions, resources)
	if err != nil {
		return authz.ResolvedSubject{}, err
	}
	for _, allowed := range decisions {
		if !allowed {
			return authz.ResolvedSubject{}, ErrForbidden
		}
	}
	return authz.ResolveSubject(tokenData), nil
}

func (s *policyService) Evaluate(ctx context.Context, tokenData map[string]any, resources []authz.ResourcePattern, permissions []authz.Permission) ([][]bool, error) {
	sub, err := s.subjectFor(ctx, tokenData, resources)
	if err != nil {
		return nil, err
	}

	matrix, err := s.engine.Evaluate(ctx, sub, resources, permissions)
	if err != nil {
		return nil, fmt.Errorf("policy evaluation failed: %w", err)
	}
	return matrix, nil
}

func (s *policyService) EvaluateOne(ctx context.Context, tokenData map[string]any, resource authz.ResourcePattern, permission authz.Permission) (bool, error) {
	sub, err := s.subjectFor(ctx, tokenData, []authz.ResourcePattern{resource})
	if err != nil {
		return false, err
	}

	allowed, err := s.engine.EvaluateOne(ctx, sub, resource, permission)
	if err != nil {
		return false, fmt.Errorf("policy evaluation failed: %w", err)
	}
	return allowed, nil
}

func (s *policyService) Permissions(ctx context.Context, tokenData map[string]any, resources []authz.ResourcePattern) ([][]authz.Permission, error) {
	sub, err := s.subjectFor(ctx, tokenData, resources)
	if err != nil {
		return nil, err
	}

	held, err := s.engine.PermissionsFor(ctx, sub, resources)
	if err != nil {
		return nil, fmt.Errorf("policy evaluation failed: %w", err)
	}
	return held, nil
}

// PermissionsMap reports, per resource, each permission that can apply at
// the resource's scope with whether the subject holds it. Permissions whose
// minimum specificity exceeds the resource's are omitted rather than listed
// as false, since no grant could ever supply them.
func (s *policyService) PermissionsMap(ctx context.Context, tokenData map[string]any, resources []authz.ResourcePattern) ([]map[authz.Permission]bool, error) {
	held, err := s.Permissions(ctx, tokenData, resources)
	if err != nil {
		return nil, err
	}

	registry := s.engine.Registry()
	result := make([]map[authz.Permission]bool, len(held))
	for i, perms := range held {
		valid := registry.ValidForResource(resources[i])
		m := make(map[authz.Permission]bool, len(valid))
		for _, p := range valid {
			m[p] = false
		}
		for _, p := range perms {
			m[p] = true
		}
		result[i] = m
	}
	return result, nil
}
