// Copyright 2025 The Bento Authors
// SPDX-License-Identifier: Apache-2.0

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/bento-platform/bento-authz/internal/authz"
	"github.com/bento-platform/bento-authz/internal/idp"
	"github.com/bento-platform/bento-authz/internal/logging"
	"github.com/bento-platform/bento-authz/internal/service"
	"github.com/bento-platform/bento-authz/internal/storage/postgres"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// resultEnvelope wraps policy endpoint payloads: {"result": ...}.
type resultEnvelope[T any] struct {
	Result T `json:"result"`
}

// writeJSONResponse writes a payload as-is with the given status.
func writeJSONResponse[T any](w http.ResponseWriter, statusCode int, data T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data) // Ignore encoding errors for response
}

// writeResultResponse wraps a policy result in the result envelope.
func writeResultResponse[T any](w http.ResponseWriter, data T) {
	writeJSONResponse(w, http.StatusOK, resultEnvelope[T]{Result: data})
}

// writeErrorResponse writes the error envelope.
func writeErrorResponse(w http.ResponseWriter, statusCode int, message, code string) {
	writeJSONResponse(w, statusCode, errorEnvelope{Error: errorBody{Code: code, Message: message}})
}

// writeServiceError maps a service-layer error onto a status code and error
// body. Validation failures are 422 (the body parsed but described an
// illegal entity); malformed JSON is handled at decode time with 400.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error, op string) {
	logger := logging.FromContext(r.Context())

	switch {
	case errors.Is(err, service.ErrForbidden):
		logger.Warn("denied "+op, "error", err)
		writeErrorResponse(w, http.StatusForbidden, service.ErrForbidden.Error(), service.CodeForbidden)

	case errors.Is(err, service.ErrGrantNotFound):
		writeErrorResponse(w, http.StatusNotFound, "Grant not found", service.CodeGrantNotFound)
	case errors.Is(err, service.ErrGroupNotFound):
		writeErrorResponse(w, http.StatusNotFound, "Group not found", service.CodeGroupNotFound)

	case errors.Is(err, service.ErrGrantAlreadyExists):
		writeErrorResponse(w, http.StatusConflict, err.Error(), service.CodeGrantExists)
	case errors.Is(err, service.ErrGroupNameExists):
		writeErrorResponse(w, http.StatusConflict, err.Error(), service.CodeGroupExists)
	case errors.Is(err, service.ErrGroupInUse):
		writeErrorResponse(w, http.StatusConflict, err.Error(), service.CodeGroupInUse)
	case errors.Is(err, service.ErrUnknownGroup):
		writeErrorResponse(w, http.StatusConflict, err.Error(), service.CodeUnknownGroup)

	case errors.Is(err, service.ErrAlreadyExpired),
		errors.Is(err, service.ErrGroupNameEmpty),
		errors.Is(err, authz.ErrInvalidResourcePattern),
		errors.Is(err, authz.ErrInvalidSubjectPattern),
		errors.Is(err, authz.ErrInvalidMembership),
		errors.Is(err, authz.ErrUnknownPermission),
		errors.Is(err, authz.ErrBelowMinimumScope):
		writeErrorResponse(w, http.StatusUnprocessableEntity, err.Error(), service.CodeInvalidInput)

	case errors.Is(err, postgres.ErrStoreUnavailable):
		logger.Error("store unavailable during "+op, "error", err)
		writeErrorResponse(w, http.StatusServiceUnavailable, "The policy store is temporarily unavailable", service.CodeServiceUnavailable)
	case errors.Is(err, idp.ErrIssuerUnreachable):
		logger.Error("issuer unreachable during "+op, "error", err)
		writeErrorResponse(w, http.StatusServiceUnavailable, "Token verification is temporarily unavailable", service.CodeServiceUnavailable)

	default:
		logger.Error("failed to "+op, "error", err)
		message := "An internal error occurred"
		if h.cfg.Debug {
			message = err.Error()
		}
		writeErrorResponse(w, http.StatusInternalServerError, message, service.CodeInternalError)
	}
}
