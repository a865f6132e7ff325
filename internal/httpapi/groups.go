// Copyright 2025 The Bento Authors
// SPDX-License-Identifier: Apache-2.0

package httpapi

import (
	"net/http"

	"github.com/bento-platform/bento-authz/internal/authz"
	"github.com/bento-platform/bento-authz/internal/service"
)

// ListGroups handles GET /groups.
func (h *Handler) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.services.Groups.ListGroups(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err, "list groups")
		return
	}

	if groups == nil {
		groups = []authz.StoredGroup{}
	}
	writeJSONResponse(w, http.StatusOK, groups)
}

// GetGroup handles GET /groups/{id}.
func (h *Handler) GetGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeErrorResponse(w, http.StatusBadRequest, "Group ID must be an integer", service.CodeInvalidInput)
		return
	}

	group, err := h.services.Groups.GetGroup(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err, "get group")
		return
	}

	writeJSONResponse(w, http.StatusOK, group)
}

// CreateGroup handles POST /groups.
func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if !decodeBody(w, r, &req) {
		return
	}

	group, err := h.services.Groups.CreateGroup(r.Context(), req.group())
	if err != nil {
		h.writeServiceError(w, r, err, "create group")
		return
	}

	writeJSONResponse(w, http.StatusCreated, group)
}

// UpdateGroup handles PUT /groups/{id}: a full replacement of the group's
// name, membership, extra data and expiry. Unlike grants, groups are
// mutable so membership can track organizational churn.
func (h *Handler) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeErrorResponse(w, http.StatusBadRequest, "Group ID must be an integer", service.CodeInvalidInput)
		return
	}

	var req groupRequest
	if !decodeBody(w, r, &req) {
		return
	}

	group, err := h.services.Groups.UpdateGroup(r.Context(), id, req.group())
	if err != nil {
		h.writeServiceError(w, r, err, "update group")
		return
	}

	writeJSONResponse(w, http.StatusOK, group)
}

// DeleteGroup handles DELETE /groups/{id}. Grants referencing the group
// are deleted in the same transaction so no grant is ever left pointing at
// a missing group.
func (h *Handler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeErrorResponse(w, http.StatusBadRequest, "Group ID must be an integer", service.CodeInvalidInput)
		return
	}

	if err := h.services.Groups.DeleteGroupAndDependentGrants(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err, "delete group")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
