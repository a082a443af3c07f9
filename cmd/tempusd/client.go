// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"time"
)

const controlDialTimeout = 3 * time.Second

// controlRequest dials a running node's admin socket, sends line, and
// returns its one-line reply with the trailing newline stripped.
func controlRequest(sockPath, line string) (string, error) {
	conn, err := net.DialTimeout("unix", sockPath, controlDialTimeout)
	if err != nil {
		return "", fmt.Errorf("connecting to %s: %w (is tempusd running with this data directory?)", sockPath, err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		return "", fmt.Errorf("writing to control socket: %w", err)
	}

	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading control socket reply: %w", err)
	}
	return strings.TrimRight(reply, "\n"), nil
}
