// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/luxfi/log"

	"github.com/tempusnet/tempus/internal/config"
	"github.com/tempusnet/tempus/internal/node"
)

func startCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "start",
		Short: "Runs a tempus node in the foreground until interrupted",
		RunE:  startFunc,
	}
	addConfigFlag(c.Flags())
	return c
}

func startFunc(c *cobra.Command, _ []string) error {
	configPath, err := c.Flags().GetString(configFlag)
	if err != nil {
		os.Exit(exitConfigError)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfigError)
	}

	sk, err := loadOrCreateIdentity(cfg.DataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfigError)
	}

	logger := log.NewLogger("tempusd")

	n, err := node.New(cfg, sk, logger)
	if err != nil {
		var nerr *node.Error
		if errors.As(err, &nerr) && nerr.Kind == node.KindStorageUnavailable {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(exitStorageCorrupt)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfigError)
	}

	if err := n.Start(); err != nil {
		var nerr *node.Error
		if errors.As(err, &nerr) && nerr.Kind == node.KindListenFailed {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(exitNetworkUnreachable)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfigError)
	}

	sockPath := controlSocketPath(cfg.DataDir)
	if err := n.StartControlSocket(sockPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		_ = n.Stop()
		os.Exit(exitConfigError)
	}

	fmt.Printf("tempusd: node %s listening on %s\n", n.NodeID(), cfg.ListenAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("tempusd: shutting down")
	if err := n.Stop(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfigError)
	}
	os.Exit(exitSuccess)
	return nil
}
