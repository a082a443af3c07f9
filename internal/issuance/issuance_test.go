package issuance

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlockRewardStartsAtInitialReward(t *testing.T) {
	require.Equal(t, InitialReward, BlockReward(0, 0))
	require.Equal(t, InitialReward, BlockReward(HalvingInterval-1, 0))
}

func TestBlockRewardHalves(t *testing.T) {
	require.Equal(t, InitialReward/2, BlockReward(HalvingInterval, 0))
	require.Equal(t, InitialReward/4, BlockReward(2*HalvingInterval, 0))
}

func TestBlockRewardZeroAfterManyHalvings(t *testing.T) {
	require.Equal(t, uint64(0), BlockReward(64*HalvingInterval, 0))
}

func TestBlockRewardClampsToRemainingCap(t *testing.T) {
	require.Equal(t, uint64(500), BlockReward(0, TotalCap-500))
	require.Equal(t, uint64(0), BlockReward(0, TotalCap))
}
