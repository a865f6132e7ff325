// Copyright 2025 The Bento Authors
// SPDX-License-Identifier: Apache-2.0

package httpapi

import (
	"net/http"
	"strconv"

	"github.com/bento-platform/bento-authz/internal/authz"
	"github.com/bento-platform/bento-authz/internal/service"
)

// pathID parses the {id} path segment.
func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	return id, err == nil
}

// ListGrants handles GET /grants. The service filters the list down to
// grants whose resource the caller may view.
func (h *Handler) ListGrants(w http.ResponseWriter, r *http.Request) {
	grants, err := h.services.Grants.ListGrants(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err, "list grants")
		return
	}

	if grants == nil {
		grants = []authz.StoredGrant{}
	}
	writeJSONResponse(w, http.StatusOK, grants)
}

// GetGrant handles GET /grants/{id}.
func (h *Handler) GetGrant(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeErrorResponse(w, http.StatusBadRequest, "Grant ID must be an integer", service.CodeInvalidInput)
		return
	}

	grant, err := h.services.Grants.GetGrant(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err, "get grant")
		return
	}

	writeJSONResponse(w, http.StatusOK, grant)
}

// CreateGrant handles POST /grants. Grants are immutable once created;
// there is deliberately no update endpoint.
func (h *Handler) CreateGrant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if !decodeBody(w, r, &req) {
		return
	}

	grant, err := h.services.Grants.CreateGrant(r.Context(), req.grant())
	if err != nil {
		h.writeServiceError(w, r, err, "create grant")
		return
	}

	writeJSONResponse(w, http.StatusCreated, grant)
}

// DeleteGrant handles DELETE /grants/{id}.
func (h *Handler) DeleteGrant(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeErrorResponse(w, http.StatusBadRequest, "Grant ID must be an integer", service.CodeInvalidInput)
		return
	}

	if err := h.services.Grants.DeleteGrant(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err, "delete grant")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
