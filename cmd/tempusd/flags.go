// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"path/filepath"

	"github.com/spf13/pflag"
)

const (
	configFlag = "config"
)

// addConfigFlag registers the --config flag shared by every subcommand.
func addConfigFlag(flags *pflag.FlagSet) {
	flags.String(configFlag, "", "path to a tempusd config file (optional)")
}

// controlSocketPath derives the admin-socket path tempusd's start
// command listens on and its stop/status/peer commands dial, from the
// node's data directory. Keeping it alongside the node's own state
// means a stale socket from an unclean shutdown is cleaned up the same
// way as the rest of that node's files.
func controlSocketPath(dataDir string) string {
	if dataDir == "" {
		dataDir = "."
	}
	return filepath.Join(dataDir, "tempusd.sock")
}
