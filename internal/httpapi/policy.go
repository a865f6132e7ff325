// Copyright 2025 The Bento Authors
// SPDX-License-Identifier: Apache-2.0

package httpapi

import "net/http"

// EvaluatePolicy handles POST /policy/evaluate: a decision matrix with one
// row per requested resource and one column per requested permission.
func (h *Handler) EvaluatePolicy(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.services.Policy.Evaluate(r.Context(), req.TokenData, req.Resources, req.Permissions)
	if err != nil {
		h.writeServiceError(w, r, err, "evaluate policy")
		return
	}

	h.countDecisions(result)
	writeResultResponse(w, result)
}

// EvaluateOnePolicy handles POST /policy/evaluate_one: the scalar
// special case of a 1x1 evaluation.
func (h *Handler) EvaluateOnePolicy(w http.ResponseWriter, r *http.Request) {
	var req evaluateOneRequest
	if !decodeBody(w, r, &req) {
		return
	}

	allowed, err := h.services.Policy.EvaluateOne(r.Context(), req.TokenData, req.Resource, req.Permission)
	if err != nil {
		h.writeServiceError(w, r, err, "evaluate policy")
		return
	}

	if h.metrics != nil {
		h.metrics.CountDecision(allowed)
	}
	writeResultResponse(w, allowed)
}

// ListSubjectPermissions handles POST /policy/permissions: for each
// requested resource, the list of permissions the subject holds there.
func (h *Handler) ListSubjectPermissions(w http.ResponseWriter, r *http.Request) {
	var req permissionsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.services.Policy.Permissions(r.Context(), req.TokenData, req.Resources)
	if err != nil {
		h.writeServiceError(w, r, err, "list permissions")
		return
	}

	writeResultResponse(w, result)
}

// MapSubjectPermissions handles POST /policy/permissions_map: for each
// requested resource, the full vocabulary mapped to held/not-held.
func (h *Handler) MapSubjectPermissions(w http.ResponseWriter, r *http.Request) {
	var req permissionsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.services.Policy.PermissionsMap(r.Context(), req.TokenData, req.Resources)
	if err != nil {
		h.writeServiceError(w, r, err, "map permissions")
		return
	}

	writeResultResponse(w, result)
}

// countDecisions feeds every cell of a decision matrix to the evaluation
// counter.
func (h *Handler) countDecisions(matrix [][]bool) {
	if h.metrics == nil {
		return
	}
	for _, row := range matrix {
		for _, allowed := range row {
			h.metrics.CountDecision(allowed)
		}
	}
}
