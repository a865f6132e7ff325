// Copyright 2025 The Bento Authors
// SPDX-License-Identifier: Apache-2.0

package httpapi

import (
	"net/http"

	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bento-platform/bento-authz/internal/server/middleware"
	"github.com/bento-platform/bento-authz/internal/server/middleware/auth"
	"github.com/bento-platform/bento-authz/internal/server/middleware/logger"
	"github.com/bento-platform/bento-authz/internal/server/middleware/timeout"
)

// Routes assembles the HTTP surface. The access log and CORS layers wrap
// the whole mux so preflight requests and 404s pass through them; metrics,
// the request timeout and bearer-token resolution run per route.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	routes := middleware.NewRouteBuilder(mux)
	if h.metrics != nil {
		routes = routes.With(h.metrics.Middleware())
	}
	routes = routes.With(timeout.Middleware(h.cfg.RequestTimeout))

	// ===== Public routes (no token resolution) =====

	routes.HandleFunc("GET /healthz", h.Health)
	routes.HandleFunc("GET /readyz", h.Ready)
	routes.Handle("GET /metrics", promhttp.Handler())

	routes.HandleFunc("GET /service-info", h.ServiceInfo)
	routes.HandleFunc("GET /schemas/token_data.json", h.TokenDataSchema)
	routes.HandleFunc("GET /all_permissions", h.ListAllPermissions)

	// ===== Token-resolving routes =====
	// Absence of an Authorization header means anonymous; an invalid
	// header or token is rejected here, never degraded to anonymous.

	api := routes.Group(auth.Middleware(h.verifier, h.logger))

	// Policy evaluation
	api.HandleFunc("POST /policy/evaluate", h.EvaluatePolicy)
	api.HandleFunc("POST /policy/evaluate_one", h.EvaluateOnePolicy)
	api.HandleFunc("POST /policy/permissions", h.ListSubjectPermissions)
	api.HandleFunc("POST /policy/permissions_map", h.MapSubjectPermissions)

	// Grant administration (self-authorized through the policy engine)
	api.HandleFunc("GET /grants", h.ListGrants)
	api.HandleFunc("POST /grants", h.CreateGrant)
	api.HandleFunc("GET /grants/{id}", h.GetGrant)
	api.HandleFunc("DELETE /grants/{id}", h.DeleteGrant)

	// Group administration
	api.HandleFunc("GET /groups", h.ListGroups)
	api.HandleFunc("POST /groups", h.CreateGroup)
	api.HandleFunc("GET /groups/{id}", h.GetGroup)
	api.HandleFunc("PUT /groups/{id}", h.UpdateGroup)
	api.HandleFunc("DELETE /groups/{id}", h.DeleteGroup)

	var handler http.Handler = mux
	if len(h.cfg.CORSOrigins) > 0 {
		handler = cors.Handler(cors.Options{
			AllowedOrigins:   h.cfg.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		})(handler)
	}

	return logger.Middleware(h.logger)(handler)
}
