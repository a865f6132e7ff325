// Copyright 2025 The Bento Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bento-platform/bento-authz/internal/authz"
	"github.com/bento-platform/bento-authz/internal/idp"
)

// Middleware verifies the bearer token on every request and stores the
// resolved subject in the request context. A request without an
// Authorization header proceeds as anonymous; a request with an invalid or
// malformed one is rejected. Verification failures never degrade to
// anonymous.
func Middleware(verifier idp.TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), authz.Anonymous)))
				return
			}

			raw, err := bearerToken(header)
			if err != nil {
				logger.Warn("rejected authorization header", "error", err, "path", r.URL.Path)
				writeError(w, http.StatusUnauthorized, err.Error(), "UNAUTHORIZED")
				return
			}

			claims, err := verifier.Verify(r.Context(), raw)
			if err != nil {
				if errors.Is(err, idp.ErrIssuerUnreachable) {
					logger.Error("token verification unavailable", "error", err, "path", r.URL.Path)
					writeError(w, http.StatusServiceUnavailable, "token verification is temporarily unavailable", "SERVICE_UNAVAILABLE")
					return
				}
				logger.Warn("rejected bearer token", "error", err, "path", r.URL.Path)
				writeError(w, http.StatusUnauthorized, idp.ErrTokenInvalid.Error(), "UNAUTHORIZED")
				return
			}

			sub := authz.ResolveSubject(claims)
			next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), sub)))
		})
	}
}

var errMalformedHeader = errors.New("malformed authorization header, expected 'Bearer <token>'")

func bearerToken(header string) (string, error) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", errMalformedHeader
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errMalformedHeader
	}
	return token, nil
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: errorBody{Code: code, Message: message}})
}
