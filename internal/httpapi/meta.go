// Copyright 2025 The Bento Authors
// SPDX-License-Identifier: Apache-2.0

package httpapi

import (
	"net/http"
	"strings"

	"github.com/bento-platform/bento-authz/internal/service"
	"github.com/bento-platform/bento-authz/internal/version"
)

// Service identity constants reported by service-info.
const (
	serviceGroup    = "ca.c3g.bento"
	serviceArtifact = "authorization"
	serviceID       = serviceGroup + ":" + serviceArtifact
	serviceName     = "Bento Authorization Service"
	serviceRepo     = "https://github.com/bento-platform/bento_authorization_service"
)

// ListAllPermissions handles GET /all_permissions: the full registry
// vocabulary with grantability metadata. Public, since the vocabulary is
// static and holds no tenant data.
func (h *Handler) ListAllPermissions(w http.ResponseWriter, r *http.Request) {
	all := h.registry.All()
	out := make([]permissionInfo, 0, len(all))
	for _, p := range all {
		def, ok := h.registry.Get(p)
		if !ok {
			continue
		}
		gives := make([]string, 0, len(def.Gives))
		for _, g := range def.Gives {
			gives = append(gives, string(g))
		}
		out = append(out, permissionInfo{
			ID:               string(p),
			Verb:             p.Verb(),
			Noun:             p.Noun(),
			MinLevelRequired: def.MinSpecificity,
			Gives:            gives,
		})
	}

	writeJSONResponse(w, http.StatusOK, out)
}

// TokenDataSchema handles GET /schemas/token_data.json: the JSON schema
// for the token_data field accepted by the policy endpoints.
func (h *Handler) TokenDataSchema(w http.ResponseWriter, r *http.Request) {
	claim := func(typ string) map[string]any {
		return map[string]any{
			"type": typ,
			"search": map[string]any{
				"operations": []string{"eq", "in"},
				"queryable":  "internal",
			},
		}
	}

	schema := map[string]any{
		"$id":     strings.TrimRight(h.cfg.ServiceURL, "/") + "/schemas/token_data.json",
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"title":   "TokenData",
		"type":    "object",
		"properties": map[string]any{
			"iss":   claim("string"),
			"sub":   claim("string"),
			"azp":   claim("string"),
			"exp":   claim("integer"),
			"iat":   claim("integer"),
			"typ":   claim("string"),
			"scope": claim("string"),
		},
		"required": []string{"iss", "exp", "iat"},
	}

	writeJSONResponse(w, http.StatusOK, schema)
}

type serviceType struct {
	Group    string `json:"group"`
	Artifact string `json:"artifact"`
	Version  string `json:"version"`
}

type serviceOrganization struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type bentoExtraInfo struct {
	ServiceKind   string `json:"serviceKind"`
	DataService   bool   `json:"dataService"`
	GitRepository string `json:"gitRepository"`
}

type serviceInfo struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Type         serviceType         `json:"type"`
	Description  string              `json:"description"`
	Organization serviceOrganization `json:"organization"`
	ContactURL   string              `json:"contactUrl"`
	Version      string              `json:"version"`
	URL          string              `json:"url"`
	Environment  string              `json:"environment"`
	Bento        bentoExtraInfo      `json:"bento"`
}

// ServiceInfo handles GET /service-info in the GA4GH service-info shape
// with the Bento extension block.
func (h *Handler) ServiceInfo(w http.ResponseWriter, r *http.Request) {
	environment := "prod"
	if h.cfg.Debug {
		environment = "dev"
	}

	writeJSONResponse(w, http.StatusOK, serviceInfo{
		ID:          serviceID,
		Name:        serviceName,
		Type:        serviceType{Group: serviceGroup, Artifact: serviceArtifact, Version: version.Version},
		Description: "Authorization & permissions service for the Bento platform.",
		Organization: serviceOrganization{
			Name: "C3G",
			URL:  "https://www.computationalgenomics.ca",
		},
		ContactURL:  "mailto:info@c3g.ca",
		Version:     version.Version,
		URL:         h.cfg.ServiceURL,
		Environment: environment,
		Bento: bentoExtraInfo{
			ServiceKind:   serviceArtifact,
			DataService:   false,
			GitRepository: serviceRepo,
		},
	})
}

// Health handles GET /healthz: process liveness only.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK")) // Ignore write errors for health checks
}

// Ready handles GET /readyz: the service is ready when the policy store
// answers.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			h.logger.Warn("readiness probe failed", "error", err)
			writeErrorResponse(w, http.StatusServiceUnavailable, "Policy store is unreachable", service.CodeServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Ready")) // Ignore write errors for health checks
}
