// Copyright 2025 The Bento Authors
// SPDX-License-Identifier: Apache-2.0

// Package version records the service version reported by service-info and
// the CLI.
package version

// Version is the service's semantic version. Release builds may override
// it via -ldflags "-X".
var Version = "1.0.0"
