// Copyright 2025 The Bento Authors
// SPDX-License-Identifier: Apache-2.0

// Package auth resolves the caller identity from the Authorization header
// and makes it available to downstream handlers and services.
package auth

import (
	"context"

	"github.com/bento-platform/bento-authz/internal/authz"
)

// contextKey is a private type so no other package can collide with our keys.
type contextKey string

const subjectContextKey contextKey = "resolved_subject"

// WithSubject stores the resolved caller identity in the context.
func WithSubject(ctx context.Context, sub authz.ResolvedSubject) context.Context {
	return context.WithValue(ctx, subjectContextKey, sub)
}

// SubjectFromContext retrieves the caller identity stored by the middleware.
// A context that never passed through the middleware counts as anonymous.
func SubjectFromContext(ctx context.Context) authz.ResolvedSubject {
	if sub, ok := ctx.Value(subjectContextKey).(authz.ResolvedSubject); ok {
		return sub
	}
	return authz.Anonymous
}
