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

// Checker evaluates caller permissions for service authz wrappers. The
// caller identity is taken from the request context, where the bearer
// middleware stored it.
type Checker struct {
	engine *authz.Engine
	logger *slog.Logger
}

// NewChecker creates a new Checker backed by the policy engine.
func NewChecker(engine *authz.Engine, logger *slog.Logger) *Checker {
	return &Checker{engine: engine, logger: logger}
}

// Check returns ErrForbidden unless the caller holds the permission on the
// resource.
func (c *Checker) Check(ctx context.Context, permission authz.Permission, resource authz.ResourcePattern) error {
	sub := auth.SubjectFromContext(ctx)

	allowed, err := c.engine.EvaluateOne(ctx, sub, resource, permission)
	if err != nil {
		c.logger.Error("failed to evaluate authorization", "error", err, "permission", permission, "resource", resource.String())
		return fmt.Errorf("authorization evaluation failed: %w", err)
	}
	if !allowed {
		return ErrForbidden
	}
	return nil
}

// BatchCheck evaluates one permission against many resources in a single
// engine pass and returns a decision per resource, in input order.
func (c *Checker) BatchCheck(ctx context.Context, permission authz.Permission, resources []authz.ResourcePattern) ([]bool, error) {
	if len(resources) == 0 {
		return nil, nil
	}
	sub := auth.SubjectFromContext(ctx)

	matrix, err := c.engine.Evaluate(ctx, sub, resources, []authz.Permission{permission})
	if err != nil {
		c.logger.Error("failed to batch evaluate authorization", "error", err, "permission", permission)
		return nil, fmt.Errorf("authorization evaluation failed: %w", err)
	}

	results := make([]bool, len(matrix))
	for i, row := range matrix {
		results[i] = row[0]
	}
	return results, nil
}
