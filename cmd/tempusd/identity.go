// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tempusnet/tempus/internal/crypto"
)

const identityFileName = "identity.key"

// loadOrCreateIdentity loads the node's signing key from dataDir,
// generating and persisting a fresh one on first run. spec.md §4.1
// treats a participant's key as fixed once registered, so the same
// file is reused across every restart rather than re-keying each run.
func loadOrCreateIdentity(dataDir string) (*crypto.PrivateKey, error) {
	if dataDir == "" {
		sk, err := crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("generating ephemeral identity: %w", err)
		}
		return sk, nil
	}

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	path := filepath.Join(dataDir, identityFileName)

	b, err := os.ReadFile(path)
	if err == nil {
		sk, err := crypto.PrivateKeyFromBytes(b)
		if err != nil {
			return nil, fmt.Errorf("loading identity from %s: %w", path, err)
		}
		return sk, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading identity from %s: %w", path, err)
	}

	sk, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generating identity: %w", err)
	}
	raw, err := sk.Bytes()
	if err != nil {
		return nil, fmt.Errorf("serializing identity: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return nil, fmt.Errorf("persisting identity to %s: %w", path, err)
	}
	return sk, nil
}
