// Package temporal implements the sequential delay function, its
// checkpoint-based verifier, and the UTC boundary clock that anchors
// finality to wall-clock instants (spec.md §4.2).
//
// The sequentiality property is empirical in the underlying hash
// primitive, not algebraic (spec.md §9): nothing here proves a
// group-theoretic lower bound, it only makes the best known
// optimization — running SHAKE256 once per state — the cheapest way to
// produce a valid output.
package temporal

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"math/big"

	"github.com/tempusnet/tempus/internal/crypto"
)

// StateSize is the byte width of the sequential hash chain's internal
// state (spec.md §4.2: H = SHAKE256(·, state_size)).
const StateSize = 32

// Proof is a checkpoint-based delay-function proof: the prover's
// intermediate states at every k-th iteration, the last of which is
// the declared output.
type Proof struct {
	// Iterations is the declared T.
	Iterations uint64
	// CheckpointInterval is k: how many sequential hashes separate two
	// consecutive recorded checkpoints.
	CheckpointInterval uint64
	// Checkpoints holds the state after each multiple of k iterations,
	// in order; Checkpoints[len-1] equals the declared output.
	Checkpoints [][StateSize]byte
}

var (
	ErrZeroIterations    = errors.New("temporal: iteration count must be positive")
	ErrZeroInterval      = errors.New("temporal: checkpoint interval must be positive")
	ErrIntervalExceedsT  = errors.New("temporal: checkpoint interval exceeds iteration count")
	ErrNoCheckpoints     = errors.New("temporal: proof has no checkpoints")
	ErrIterationMismatch = errors.New("temporal: proof iteration count does not match declared T")
)

func step(state [StateSize]byte) [StateSize]byte {
	out := crypto.Shake256(StateSize, state[:])
	var next [StateSize]byte
	copy(next[:], out)
	return next
}

// Prove runs the sequential hash chain stateᵢ = H(stateᵢ₋₁) starting
// from input for T iterations, recording a checkpoint every k
// iterations, and returns the final output together with the proof.
//
// This call cannot be parallelized: each state depends on the previous
// one. Callers that need to bound its wall-clock cost must not attempt
// to run it on a worker pool — it belongs on the single reserved
// temporal-proof thread of §5.
func Prove(input []byte, iterations, checkpointInterval uint64) (output [StateSize]byte, proof *Proof, err error) {
	if iterations == 0 {
		return output, nil, newErr("Prove", KindIterationCountOutOfRange, ErrZeroIterations)
	}
	if checkpointInterval == 0 {
		return output, nil, newErr("Prove", KindIterationCountOutOfRange, ErrZeroInterval)
	}
	if checkpointInterval > iterations {
		return output, nil, newErr("Prove", KindIterationCountOutOfRange, ErrIntervalExceedsT)
	}

	numCheckpoints := iterations / checkpointInterval
	if iterations%checkpointInterval != 0 {
		numCheckpoints++
	}
	checkpoints := make([][StateSize]byte, 0, numCheckpoints)

	var state [StateSize]byte
	seed := crypto.Shake256(StateSize, input)
	copy(state[:], seed)

	var i uint64
	for i = 0; i < iterations; i++ {
		state = step(state)
		if (i+1)%checkpointInterval == 0 || i+1 == iterations {
			checkpoints = append(checkpoints, state)
		}
	}

	return state, &Proof{
		Iterations:         iterations,
		CheckpointInterval: checkpointInterval,
		Checkpoints:        checkpoints,
	}, nil
}

// Verify checks a delay-function proof by recomputing q randomly
// sampled segments between consecutive checkpoints (spec.md §4.2),
// which costs O(T·q/k) instead of the O(T) full recomputation Prove
// performs. The final segment always ends at the declared output, so a
// single-bit perturbation of the output is caught deterministically
// whenever that segment is sampled, and with probability
// min(1, q/numSegments) otherwise an interior perturbation is caught.
func Verify(input []byte, output [StateSize]byte, declaredIterations uint64, proof *Proof, q int) (bool, error) {
	if proof == nil || len(proof.Checkpoints) == 0 {
		return false, newErr("Verify", KindProofInvalid, ErrNoCheckpoints)
	}
	if proof.Iterations != declaredIterations {
		return false, newErr("Verify", KindIterationCountOutOfRange, ErrIterationMismatch)
	}
	if proof.Checkpoints[len(proof.Checkpoints)-1] != output {
		return false, newErr("Verify", KindProofInvalid, ErrProofInvalid)
	}

	numSegments := len(proof.Checkpoints)
	if q > numSegments {
		q = numSegments
	}

	indices, err := sampleDistinct(numSegments, q)
	if err != nil {
		return false, newErr("Verify", KindProofInvalid, err)
	}

	seed := crypto.Shake256(StateSize, input)
	var genesisState [StateSize]byte
	copy(genesisState[:], seed)

	for _, segIdx := range indices {
		start := genesisState
		if segIdx > 0 {
			start = proof.Checkpoints[segIdx-1]
		}
		segLen := proof.CheckpointInterval
		if segIdx == numSegments-1 && declaredIterations%proof.CheckpointInterval != 0 {
			segLen = declaredIterations % proof.CheckpointInterval
		}
		state := start
		for i := uint64(0); i < segLen; i++ {
			state = step(state)
		}
		if state != proof.Checkpoints[segIdx] {
			return false, newErr("Verify", KindProofInvalid, ErrProofInvalid)
		}
	}

	return true, nil
}

// sampleDistinct draws n distinct indices from [0,size) using
// crypto/rand, the honest-verifier sampling source: an adversary who
// controls the verifier's randomness could always pick the one segment
// it didn't cheat on, so this must not be deterministic from
// proof-visible data.
func sampleDistinct(size, n int) ([]int, error) {
	if n >= size {
		out := make([]int, size)
		for i := range out {
			out[i] = i
		}
		return out, nil
	}
	chosen := make(map[int]struct{}, n)
	out := make([]int, 0, n)
	for len(out) < n {
		idx, err := randIntN(size)
		if err != nil {
			return nil, err
		}
		if _, ok := chosen[idx]; ok {
			continue
		}
		chosen[idx] = struct{}{}
		out = append(out, idx)
	}
	return out, nil
}

func randIntN(n int) (int, error) {
	if n <= 0 {
		return 0, errors.New("temporal: sample range must be positive")
	}
	max := big.NewInt(int64(n))
	v, err := rand.Int(rand.Reader, max)
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}

// OutputBytes is a small convenience for callers that need the
// declared output as a byte slice, e.g. for embedding in a block
// header (spec.md §6 vdf_output:[32]).
func OutputBytes(output [StateSize]byte) []byte {
	b := make([]byte, StateSize)
	copy(b, output[:])
	return b
}

// PutUint64 writes v into b in the big-endian byte order Proof.Encode
// uses for the iteration count and checkpoint interval.
func PutUint64(b []byte, v uint64) { binary.BigEndian.PutUint64(b, v) }

// Encode serializes a Proof to the canonical big-endian form embedded
// in a block's vdf_proof field (spec.md §6): iterations, checkpoint
// interval, checkpoint count, then each checkpoint's raw state.
func (p *Proof) Encode() []byte {
	out := make([]byte, 0, 8+8+4+len(p.Checkpoints)*StateSize)
	var buf8 [8]byte
	binary.BigEndian.PutUint64(buf8[:], p.Iterations)
	out = append(out, buf8[:]...)
	binary.BigEndian.PutUint64(buf8[:], p.CheckpointInterval)
	out = append(out, buf8[:]...)
	var buf4 [4]byte
	binary.BigEndian.PutUint32(buf4[:], uint32(len(p.Checkpoints)))
	out = append(out, buf4[:]...)
	for _, c := range p.Checkpoints {
		out = append(out, c[:]...)
	}
	return out
}

// DecodeProof parses the byte form produced by Proof.Encode.
func DecodeProof(b []byte) (*Proof, error) {
	if len(b) < 20 {
		return nil, newErr("DecodeProof", KindProofInvalid, ErrProofInvalid)
	}
	iterations := binary.BigEndian.Uint64(b[0:8])
	interval := binary.BigEndian.Uint64(b[8:16])
	n := binary.BigEndian.Uint32(b[16:20])
	b = b[20:]
	if uint64(len(b)) != uint64(n)*StateSize {
		return nil, newErr("DecodeProof", KindProofInvalid, ErrProofInvalid)
	}
	checkpoints := make([][StateSize]byte, n)
	for i := uint32(0); i < n; i++ {
		copy(checkpoints[i][:], b[i*StateSize:(i+1)*StateSize])
	}
	return &Proof{Iterations: iterations, CheckpointInterval: interval, Checkpoints: checkpoints}, nil
}
