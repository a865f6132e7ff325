// Copyright 2025 The Bento Authors
// SPDX-License-Identifier: Apache-2.0

// Package middleware provides the handler-wrapping primitives the HTTP
// surface is assembled from.
package middleware

import "net/http"

// Middleware wraps an http.Handler with extra behavior.
type Middleware func(http.Handler) http.Handler

// Chain composes middlewares so the first one listed is the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(handler http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			handler = middlewares[i](handler)
		}
		return handler
	}
}

// RouteBuilder registers routes on a ServeMux with a shared middleware
// chain. Builders are immutable: With and Group return new builders, so a
// route group never leaks its middleware into sibling groups.
type RouteBuilder struct {
	mux         *http.ServeMux
	middlewares []Middleware
}

// NewRouteBuilder creates a RouteBuilder over the given ServeMux.
func NewRouteBuilder(mux *http.ServeMux) *RouteBuilder {
	return &RouteBuilder{mux: mux}
}

// With returns a builder whose chain is extended by the given middlewares.
func (rb *RouteBuilder) With(middlewares ...Middleware) *RouteBuilder {
	chained := make([]Middleware, 0, len(rb.middlewares)+len(middlewares))
	chained = append(chained, rb.middlewares...)
	chained = append(chained, middlewares...)
	return &RouteBuilder{mux: rb.mux, middlewares: chained}
}

// Group is With under a name that reads better at route-group call sites.
func (rb *RouteBuilder) Group(middlewares ...Middleware) *RouteBuilder {
	return rb.With(middlewares...)
}

// Handle registers a handler for the pattern behind the builder's chain.
func (rb *RouteBuilder) Handle(pattern string, handler http.Handler) {
	if len(rb.middlewares) > 0 {
		handler = Chain(rb.middlewares...)(handler)
	}
	rb.mux.Handle(pattern, handler)
}

// HandleFunc registers a handler function behind the builder's chain.
func (rb *RouteBuilder) HandleFunc(pattern string, handlerFunc http.HandlerFunc) {
	rb.Handle(pattern, handlerFunc)
}
