// Copyright 2025 The Bento Authors
// SPDX-License-Identifier: Apache-2.0

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/bento-platform/bento-authz/internal/authz"
	"github.com/bento-platform/bento-authz/internal/service"
)

// validate checks request shapes before they reach the services; the
// services then enforce the domain rules (pattern variants, registry
// membership, expiry). Struct checking is enabled so required catches
// absent pattern documents, not just absent scalars.
var validate = validator.New(validator.WithRequiredStructEnabled())

// decodeBody decodes and shape-validates a JSON request body. Unreadable
// JSON is malformed (400); readable JSON failing validation is
// unprocessable (422). Reports whether the request may proceed.
func decodeBody[T any](w http.ResponseWriter, r *http.Request, dst *T) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		// Pattern documents validate themselves while decoding; a body
		// that parses as JSON but describes an illegal pattern is
		// unprocessable rather than malformed.
		if errors.Is(err, authz.ErrInvalidResourcePattern) ||
			errors.Is(err, authz.ErrInvalidSubjectPattern) ||
			errors.Is(err, authz.ErrInvalidMembership) {
			writeErrorResponse(w, http.StatusUnprocessableEntity, "Invalid request data: "+err.Error(), service.CodeInvalidInput)
			return false
		}
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error(), service.CodeInvalidInput)
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeErrorResponse(w, http.StatusUnprocessableEntity, "Invalid request data: "+err.Error(), service.CodeInvalidInput)
		return false
	}
	return true
}

// evaluateRequest is the body of POST /policy/evaluate. TokenData, when
// present, substitutes the evaluated subject (token introspection).
type evaluateRequest struct {
	TokenData   map[string]any          `json:"token_data"`
	Resources   []authz.ResourcePattern `json:"resources" validate:"required,min=1"`
	Permissions []authz.Permission      `json:"permissions" validate:"required,min=1"`
}

// evaluateOneRequest is the body of POST /policy/evaluate_one.
type evaluateOneRequest struct {
	TokenData  map[string]any        `json:"token_data"`
	Resource   authz.ResourcePattern `json:"resource" validate:"required"`
	Permission authz.Permission      `json:"permission" validate:"required"`
}

// permissionsRequest is the body of POST /policy/permissions and
// POST /policy/permissions_map.
type permissionsRequest struct {
	TokenData map[string]any          `json:"token_data"`
	Resources []authz.ResourcePattern `json:"resources" validate:"required,min=1"`
}

// grantRequest is the body of POST /grants. Creation time is always
// server-assigned.
type grantRequest struct {
	Subject    authz.SubjectPattern  `json:"subject" validate:"required"`
	Resource   authz.ResourcePattern `json:"resource" validate:"required"`
	Permission authz.Permission      `json:"permission" validate:"required"`
	Expiry     *time.Time            `json:"expiry"`
	Extra      json.RawMessage       `json:"extra"`
	Negated    bool                  `json:"negated"`
}

func (req grantRequest) grant() authz.Grant {
	return authz.Grant{
		Subject:    req.Subject,
		Resource:   req.Resource,
		Permission: req.Permission,
		Extra:      req.Extra,
		Expiry:     req.Expiry,
		Negated:    req.Negated,
	}
}

// groupRequest is the body of POST /groups and PUT /groups/{id}.
type groupRequest struct {
	Name       string           `json:"name" validate:"required"`
	Membership authz.Membership `json:"membership" validate:"required"`
	Expiry     *time.Time       `json:"expiry"`
	Extra      json.RawMessage  `json:"extra"`
}

func (req groupRequest) group() authz.Group {
	return authz.Group{
		Name:       req.Name,
		Membership: req.Membership,
		Extra:      req.Extra,
		Expiry:     req.Expiry,
	}
}

// permissionInfo is one entry of GET /all_permissions.
type permissionInfo struct {
	ID               string   `json:"id"`
	Verb             string   `json:"verb"`
	Noun             string   `json:"noun"`
	MinLevelRequired int      `json:"min_level_required"`
	Gives            []string `json:"gives"`
}
