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

func statusCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "status",
		Short: "Prints a running tempus node's current status",
		RunE:  statusFunc,
	}
	addConfigFlag(c.Flags())
	return c
}

func statusFunc(c *cobra.Command, _ []string) error {
	configPath, _ := c.Flags().GetString(configFlag)
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfigError)
	}

	reply, err := controlRequest(controlSocketPath(cfg.DataDir), node.ControlCmdStatus)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitNetworkUnreachable)
	}
	fmt.Println(reply)
	return nil
}
