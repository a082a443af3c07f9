package node

import (
	"sync"

	"github.com/tempusnet/tempus/internal/crypto"
	"github.com/tempusnet/tempus/internal/temporal"
)

// temporalRunner chains the delay-function engine across UTC windows:
// window w's proof runs over window w-1's output, so the sequential
// proof is a single ever-extending chain rather than independent
// per-window puzzles (spec.md §4.2's "anchors finality to wall-clock
// instants"). Advance must only ever be called by one goroutine at a
// time, in non-decreasing window order — the single reserved
// temporal-proof thread of spec.md §5.
type temporalRunner struct {
	iterations         uint64
	checkpointInterval uint64
	sampleQ            int
	genesisSeed        []byte

	mu      sync.Mutex
	outputs map[uint64][32]byte
	proofs  map[uint64]*temporal.Proof
}

func newTemporalRunner(iterations, checkpointInterval uint64, sampleQ int) *temporalRunner {
	return &temporalRunner{
		iterations:         iterations,
		checkpointInterval: checkpointInterval,
		sampleQ:            sampleQ,
		genesisSeed:        crypto.Hash([]byte("tempus-vdf-genesis-seed")).Bytes(),
		outputs:            make(map[uint64][32]byte),
		proofs:             make(map[uint64]*temporal.Proof),
	}
}

// inputFor returns the delay-function input for window w: the
// genesis seed for window 0, or the previous window's cached output.
// If the previous window hasn't been advanced yet, it falls back to
// the genesis seed rather than blocking — a node that fell behind
// reconciles its chain once it catches up rather than stalling
// validation of everything in between.
func (r *temporalRunner) inputFor(w uint64) []byte {
	if w == 0 {
		return r.genesisSeed
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if out, ok := r.outputs[w-1]; ok {
		return temporal.OutputBytes(out)
	}
	return r.genesisSeed
}

// Advance runs the delay function for window w and caches the result.
func (r *temporalRunner) Advance(w uint64) ([32]byte, *temporal.Proof, error) {
	output, proof, err := temporal.Prove(r.inputFor(w), r.iterations, r.checkpointInterval)
	if err != nil {
		return output, nil, err
	}
	r.mu.Lock()
	r.outputs[w] = output
	r.proofs[w] = proof
	r.mu.Unlock()
	return output, proof, nil
}

// Get returns the cached output/proof for window w, if this node has
// already advanced the chain that far.
func (r *temporalRunner) Get(w uint64) ([32]byte, *temporal.Proof, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out, ok := r.outputs[w]
	return out, r.proofs[w], ok
}
