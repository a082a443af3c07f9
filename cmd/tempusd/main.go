// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Command tempusd runs a tempus DAG-consensus participant.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes per spec.md §6/§7.
const (
	exitSuccess            = 0
	exitConfigError        = 1
	exitNetworkUnreachable = 2
	exitStorageCorrupt     = 3
)

func main() {
	root := &cobra.Command{
		Use:   "tempusd",
		Short: "tempus DAG-consensus node daemon",
	}

	root.AddCommand(
		startCommand(),
		stopCommand(),
		statusCommand(),
		peerCommand(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfigError)
	}
}
