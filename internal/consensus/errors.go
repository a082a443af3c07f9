// Package consensus implements spec.md §4.7: the VRF-based,
// reputation-weighted leader lottery, block production, the finality
// checkpoint emitted at each UTC boundary, the soft/medium/hard
// finality levels, and the heartbeat-count fork-choice rule used when
// two checkpoints compete for the same boundary.
package consensus

import "errors"

// Kind classifies a ConsensusError per spec.md §7.
type Kind int

const (
	KindNotLeader Kind = iota
	KindOrphanBlock
	KindReorgLimitExceeded
	KindCheckpointAbsent
	KindBadEncoding
)

func (k Kind) String() string {
	switch k {
	case KindNotLeader:
		return "NotLeader"
	case KindOrphanBlock:
		return "OrphanBlock"
	case KindReorgLimitExceeded:
		return "ReorgLimitExceeded"
	case KindCheckpointAbsent:
		return "CheckpointAbsent"
	case KindBadEncoding:
		return "BadEncoding"
	default:
		return "Unknown"
	}
}

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return "consensus: " + e.Op + ": " + e.Kind.String() + ": " + e.Err.Error()
	}
	return "consensus: " + e.Op + ": " + e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

var (
	ErrNotLeader           = errors.New("participant did not win the slot lottery")
	ErrReorgLimitExceeded  = errors.New("reorg below the latest hard-finalized checkpoint")
	ErrCheckpointAbsent    = errors.New("no finality checkpoint available yet")
	ErrBadEncoding         = errors.New("malformed checkpoint or heartbeat encoding")
)
