// Copyright 2025 The Bento Authors
// SPDX-License-Identifier: Apache-2.0

package idp

import "errors"

var (
	ErrTokenMissing      = errors.New("missing bearer token")
	ErrTokenInvalid      = errors.New("invalid or expired token")
	ErrKeyNotFound       = errors.New("token signing key not available")
	ErrIssuerUnreachable = errors.New("issuer metadata unavailable")
)
