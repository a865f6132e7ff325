// Copyright 2025 The Bento Authors
// SPDX-License-Identifier: Apache-2.0

package postgres

import "errors"

var (
	// ErrNotFound is returned when a grant or group ID does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrGrantExists is returned when an equivalent grant (same subject,
	// resource, permission and expiry) is already stored.
	ErrGrantExists = errors.New("equivalent grant already exists")

	// ErrGroupExists is returned when a group name is already taken.
	ErrGroupExists = errors.New("group name already in use")

	// ErrGroupReferenced rejects deletion of a group that grants still
	// reference.
	ErrGroupReferenced = errors.New("group is referenced by existing grants")

	// ErrUnknownGroup rejects grants whose subject references a group ID
	// that does not exist.
	ErrUnknownGroup = errors.New("grant references unknown group")

	// ErrStoreUnavailable wraps transient connection failures after
	// retries are exhausted.
	ErrStoreUnavailable = errors.New("store unavailable")
)
