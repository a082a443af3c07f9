package consensus

import (
	"sync"

	"github.com/tempusnet/tempus/internal/ids"
)

// ForkChoice collects competing checkpoint candidates for each UTC
// boundary and resolves the winner via ChooseCheckpoint once the
// window closes, enforcing spec.md §4.7's reorg limit: no checkpoint
// may be preferred if doing so would reorganize below the latest
// hard-finalized checkpoint.
type ForkChoice struct {
	mu         sync.Mutex
	engine     *FinalityEngine
	candidates map[uint64][]*Checkpoint
}

func NewForkChoice(engine *FinalityEngine) *ForkChoice {
	return &ForkChoice{engine: engine, candidates: make(map[uint64][]*Checkpoint)}
}

// Submit registers a candidate checkpoint for its window. Multiple
// candidates may arrive for the same window if more than one leader
// produced a competing view before propagation converged.
func (f *ForkChoice) Submit(cp *Checkpoint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates[cp.Window] = append(f.candidates[cp.Window], cp)
}

// Resolve picks the winning checkpoint among every candidate submitted
// for window, rejecting the resolution outright if the winner would
// reorganize below the latest hard-finalized checkpoint. It clears the
// window's candidate list once resolved.
func (f *ForkChoice) Resolve(window uint64) (*Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cands := f.candidates[window]
	if len(cands) == 0 {
		return nil, newErr("Resolve", KindCheckpointAbsent, ErrCheckpointAbsent)
	}

	winner := cands[0]
	for _, c := range cands[1:] {
		winner = ChooseCheckpoint(winner, c)
	}

	latest := f.engine.LatestHash()
	if latest != Genesis() && winner.PrevCheckpointHash != latest {
		// The winner does not build on the currently accepted chain
		// tip: accepting it would reorganize at least one checkpoint.
		// That is only permitted above the hard-finalized boundary.
		hardHash := f.engine.HardFinalized()
		if hardHash != ids.Empty && winner.PrevCheckpointHash != hardHash {
			return nil, newErr("Resolve", KindReorgLimitExceeded, ErrReorgLimitExceeded)
		}
	}

	delete(f.candidates, window)
	return winner, nil
}
