// Copyright 2025 The Bento Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"

	"github.com/bento-platform/bento-authz/internal/cli"
)

func main() {
	if err := cli.Command().Execute(); err != nil {
		os.Exit(1)
	}
}
