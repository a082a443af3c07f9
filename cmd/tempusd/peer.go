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

func peerCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "peer",
		Short: "Manages a running tempus node's peer connections",
	}
	c.AddCommand(peerAddCommand())
	return c
}

func peerAddCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "add <addr>",
		Short: "Dials and connects a running node to addr",
		Args:  cobra.ExactArgs(1),
		RunE:  peerAddFunc,
	}
	addConfigFlag(c.Flags())
	return c
}

func peerAddFunc(c *cobra.Command, args []string) error {
	configPath, _ := c.Flags().GetString(configFlag)
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfigError)
	}

	reply, err := controlRequest(controlSocketPath(cfg.DataDir), node.ControlCmdPeerAdd+" "+args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitNetworkUnreachable)
	}
	if reply != "OK" {
		fmt.Fprintln(os.Stderr, reply)
		os.Exit(exitNetworkUnreachable)
	}
	fmt.Printf("tempusd: connected to %s\n", args[0])
	return nil
}
