package consensus

import (
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/tempusnet/tempus/internal/crypto"
	"github.com/tempusnet/tempus/internal/ids"
	"github.com/tempusnet/tempus/utils/wrappers"
)

// ScoreFixedPointScale converts a reputation score in [0,1] to a
// fixed-point integer weight. Spec.md §4.7 requires "thresholds and
// probability are computed in fixed-point to avoid floating-point
// divergence" between implementations that might otherwise round
// differently; every node that scales the same float64 score by the
// same integer constant and rounds the same way reaches the same
// integer, which a big.Int comparison can then evaluate exactly.
const ScoreFixedPointScale = 1_000_000_000

// ScaleScore converts a [0,1] reputation score to its fixed-point
// weight.
func ScaleScore(score float64) uint64 {
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return uint64(math.Round(score * ScoreFixedPointScale))
}

// ProbationDuration is spec.md §4.7's 180-day new-node probation
// window: reputation is scaled by a linearly rising factor over this
// span.
const ProbationDuration = 180 * 24 * time.Hour

// InfluxProbationFloor is the flat multiplier applied to
// under-30-day participants once the influx safeguard has tightened
// (spec.md §4.7).
const InfluxProbationFloor = 0.10

// influxEligibilityAge is the age threshold below which the influx
// safeguard can override the normal probation curve.
const influxEligibilityAge = 30 * 24 * time.Hour

// ProbationMultiplier returns the linearly rising factor of spec.md
// §4.7: 0.10 at registration, reaching 1.0 at 180 days.
func ProbationMultiplier(age time.Duration) float64 {
	if age < 0 {
		age = 0
	}
	if age >= ProbationDuration {
		return 1.0
	}
	frac := float64(age) / float64(ProbationDuration)
	return 0.10 + 0.90*frac
}

// InfluxTracker implements spec.md §4.7's influx safeguard: if the
// rate of first-seen registrations in a window exceeds twice the
// trailing median of the previous 30 windows, probation is tightened
// for under-30-day participants for 180 days.
type InfluxTracker struct {
	mu             sync.Mutex
	trailing       []uint64 // ring buffer, oldest first, capacity 30
	tightenedUntil time.Time
}

func NewInfluxTracker() *InfluxTracker { return &InfluxTracker{} }

// RecordWindow reports the number of first-seen registrations observed
// in the window ending at windowEnd, and checks it against the
// trailing median of the previous (up to) 30 windows.
func (t *InfluxTracker) RecordWindow(firstSeenCount uint64, windowEnd time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.trailing) > 0 {
		median := medianUint64(t.trailing)
		if float64(firstSeenCount) > 2*median {
			t.tightenedUntil = windowEnd.Add(ProbationDuration)
		}
	}

	t.trailing = append(t.trailing, firstSeenCount)
	if len(t.trailing) > 30 {
		t.trailing = t.trailing[1:]
	}
}

// Tightened reports whether the influx safeguard is currently active.
func (t *InfluxTracker) Tightened(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return now.Before(t.tightenedUntil)
}

func medianUint64(vals []uint64) float64 {
	sorted := append([]uint64(nil), vals...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return float64(sorted[n/2])
	}
	return float64(sorted[n/2-1]+sorted[n/2]) / 2.0
}

// EligibilityMultiplier combines the ordinary probation curve with the
// influx safeguard: under-30-day participants are pinned to the flat
// InfluxProbationFloor while the safeguard is tightened, overriding
// whatever the rising curve would otherwise give them at that age.
func EligibilityMultiplier(age time.Duration, tightened bool) float64 {
	if tightened && age < influxEligibilityAge {
		return InfluxProbationFloor
	}
	return ProbationMultiplier(age)
}

// EligibleWeight is a single participant's lottery weight for one slot:
// their raw reputation score, scaled by the probation/influx
// multiplier, then converted to the fixed-point integer the VRF
// threshold check compares against.
func EligibleWeight(reputationScore float64, age time.Duration, tightened bool) uint64 {
	return ScaleScore(reputationScore * EligibilityMultiplier(age, tightened))
}

// SlotSeed derives the VRF input for a slot: the previous finality
// checkpoint hash concatenated with the slot index (spec.md §4.7).
func SlotSeed(prevCheckpointHash ids.ID, slot int64) []byte {
	p := &wrappers.Packer{MaxSize: 64, Bytes: make([]byte, 0, 40)}
	p.PackFixedBytes(prevCheckpointHash[:])
	p.PackLong(uint64(slot))
	return p.Bytes
}

var twoPow256 = new(big.Int).Lsh(big.NewInt(1), 256)

// WinsLottery evaluates spec.md §4.7's leader condition
// β/2^|β| < p_i, with p_i = weight/totalWeight, entirely in fixed-point
// integer arithmetic (cross-multiplied to avoid division) so every
// implementation reaches the same verdict for the same inputs.
func WinsLottery(vrfOutput [32]byte, weight, totalWeight uint64) bool {
	if totalWeight == 0 || weight == 0 {
		return false
	}
	beta := new(big.Int).SetBytes(vrfOutput[:])
	lhs := new(big.Int).Mul(beta, new(big.Int).SetUint64(totalWeight))
	rhs := new(big.Int).Mul(new(big.Int).SetUint64(weight), twoPow256)
	return lhs.Cmp(rhs) < 0
}

// EvaluateSelf runs this participant's VRF evaluation for a slot and
// reports whether it wins the lottery, per spec.md §4.7.
func EvaluateSelf(sk *crypto.PrivateKey, seed []byte, weight, totalWeight uint64) (won bool, output [32]byte, proof []byte, err error) {
	output, proof, err = crypto.VRFEval(sk, seed)
	if err != nil {
		return false, output, nil, err
	}
	return WinsLottery(output, weight, totalWeight), output, proof, nil
}
