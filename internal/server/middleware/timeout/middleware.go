// Copyright 2025 The Bento Authors
// SPDX-License-Identifier: Apache-2.0

// Package timeout bounds request handling with a context deadline.
package timeout

import (
	"context"
	"net/http"
	"time"
)

// Middleware applies a deadline to each request's context so in-flight
// store and JWKS work is cancelled when the budget lapses. A non-positive
// duration disables the deadline.
func Middleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
