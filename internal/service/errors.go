// Copyright 2025 The Bento Authors
// SPDX-License-Identifier: Apache-2.0

package service

import "errors"

// Common service errors, mapped to API error codes at the HTTP boundary.
var (
	ErrGrantNotFound      = errors.New("grant not found")
	ErrGrantAlreadyExists = errors.New("an equivalent grant already exists")
	ErrGroupNotFound      = errors.New("group not found")
	ErrGroupNameExists    = errors.New("group name already in use")
	ErrGroupInUse         = errors.New("group is referenced by existing grants")
	ErrUnknownGroup       = errors.New("subject references an unknown group")
	ErrAlreadyExpired     = errors.New("expiry must be in the future")
	ErrGroupNameEmpty     = errors.New("group name must not be empty")
	ErrForbidden          = errors.New("insufficient permissions to perform this action")
)

// Error codes for API responses
const (
	CodeInvalidInput       = "INVALID_INPUT"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodeGrantNotFound      = "GRANT_NOT_FOUND"
	CodeGrantExists        = "GRANT_EXISTS"
	CodeGroupNotFound      = "GROUP_NOT_FOUND"
	CodeGroupExists        = "GROUP_EXISTS"
	CodeGroupInUse         = "GROUP_IN_USE"
	CodeUnknownGroup       = "UNKNOWN_GROUP"
	CodeInternalError      = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)
