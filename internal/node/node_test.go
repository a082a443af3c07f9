package node

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tempusnet/tempus/internal/config"
	"github.com/tempusnet/tempus/internal/crypto"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = ""
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.FinalityIntervalSeconds = 2
	cfg.VDFIterations = 4
	cfg.VDFCheckpointInterval = 1
	return cfg
}

func TestNewConstructsAllComponents(t *testing.T) {
	sk, err := crypto.GenerateKey()
	require.NoError(t, err)

	n, err := New(testConfig(t), sk, nil)
	require.NoError(t, err)
	require.NotNil(t, n.dag)
	require.NotNil(t, n.pool)
	require.NotNil(t, n.rep)
	require.NotNil(t, n.finality)
	require.NotNil(t, n.peers)

	status := n.Status()
	require.Equal(t, "Probationary", status.ParticipantState)
}

func TestStartStopLifecycle(t *testing.T) {
	sk, err := crypto.GenerateKey()
	require.NoError(t, err)
	n, err := New(testConfig(t), sk, nil)
	require.NoError(t, err)

	require.NoError(t, n.Start())
	require.Error(t, n.Start(), "starting an already-running node should fail")

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, n.Stop())
	require.Error(t, n.Stop(), "stopping an already-stopped node should fail")
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	sk, err := crypto.GenerateKey()
	require.NoError(t, err)
	cfg := testConfig(t)
	cfg.MaxParents = 0
	_, err = New(cfg, sk, nil)
	require.Error(t, err)
}
