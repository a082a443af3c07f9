// Package issuance computes spec.md §6's block reward schedule: a
// fixed total cap, a halving initial reward, no pre-allocation. It
// holds no state of its own; internal/dagstore tracks the running
// accepted-block count and total issued supply and calls BlockReward
// once per newly accepted block.
package issuance

// TotalCap is the maximum number of base units that will ever exist
// (spec.md §6).
const TotalCap uint64 = 1_260_000_000

// InitialReward is the reward paid for the first HalvingInterval
// accepted blocks.
const InitialReward uint64 = 3_000

// HalvingInterval is the number of accepted blocks between each
// halving of the reward.
const HalvingInterval uint64 = 210_000

// BlockReward returns the reward due to the producer of the
// (acceptedCount+1)'th accepted block — acceptedCount is the number of
// blocks already accepted before this one, so the first accepted
// block (the genesis block) is rewarded for acceptedCount==0. issued is the total supply
// minted so far; the reward is clamped so issuance never exceeds
// TotalCap, and is zero once the cap is reached.
func BlockReward(acceptedCount, issued uint64) uint64 {
	halvings := acceptedCount / HalvingInterval
	var reward uint64
	if halvings < 64 {
		reward = InitialReward >> halvings
	}
	if issued >= TotalCap {
		return 0
	}
	if remaining := TotalCap - issued; reward > remaining {
		reward = remaining
	}
	return reward
}
