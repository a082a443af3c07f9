// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tempusnet/tempus/internal/config"
	"github.com/tempusnet/tempus/internal/node"
)

func stopCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "stop",
		Short: "Signals a running tempus node to shut down",
		RunE:  stopFunc,
	}
	addConfigFlag(c.Flags())
	return c
}

func stopFunc(c *cobra.Command, _ []string) error {
	configPath, _ := c.Flags().GetString(configFlag)
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfigError)
	}

	reply, err := controlRequest(controlSocketPath(cfg.DataDir), node.ControlCmdStop)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitNetworkUnreachable)
	}
	if reply != "OK" {
		fmt.Fprintln(os.Stderr, reply)
		os.Exit(exitConfigError)
	}
	fmt.Println("tempusd: stop requested")
	return nil
}
