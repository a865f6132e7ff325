// Copyright 2025 The Bento Authors
// SPDX-License-Identifier: Apache-2.0

package authz

import "errors"

var (
	ErrInvalidResourcePattern = errors.New("invalid resource pattern")
	ErrInvalidSubjectPattern  = errors.New("invalid subject pattern")
	ErrInvalidMembership      = errors.New("invalid group membership")
	ErrUnknownPermission      = errors.New("unknown permission")
	ErrBelowMinimumScope      = errors.New("permission granted below its minimum resource specificity")
	ErrGroupNotFound          = errors.New("referenced group not found")
)
