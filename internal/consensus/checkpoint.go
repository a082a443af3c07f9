package consensus

import (
	"sort"
	"sync"
	"time"

	"github.com/tempusnet/tempus/internal/chainmodel"
	"github.com/tempusnet/tempus/internal/crypto"
	"github.com/tempusnet/tempus/internal/dagstore"
	"github.com/tempusnet/tempus/internal/ids"
	"github.com/tempusnet/tempus/utils/wrappers"
)

// FinalityLevel is spec.md §4.7's soft/medium/hard finality ladder.
type FinalityLevel int

const (
	FinalityNone FinalityLevel = iota
	FinalitySoft
	FinalityMedium
	FinalityHard
)

// Checkpoint is spec.md §3's finality checkpoint: created once per
// finality interval, immutable thereafter.
type Checkpoint struct {
	Boundary            time.Time
	Window              uint64
	BlockRoot           ids.ID
	HeartbeatCount      uint32
	HeartbeatRoot       ids.ID
	CumulativeWork      uint64
	PrevCheckpointHash  ids.ID
}

// Encode serializes a checkpoint to its canonical binary form.
func (c *Checkpoint) Encode() []byte {
	p := &wrappers.Packer{MaxSize: 1 << 16, Bytes: make([]byte, 0, 96)}
	p.PackLong(uint64(c.Boundary.UnixNano()))
	p.PackLong(c.Window)
	p.PackFixedBytes(c.BlockRoot[:])
	p.PackInt(c.HeartbeatCount)
	p.PackFixedBytes(c.HeartbeatRoot[:])
	p.PackLong(c.CumulativeWork)
	p.PackFixedBytes(c.PrevCheckpointHash[:])
	return p.Bytes
}

// DecodeCheckpoint parses the byte form produced by Encode.
func DecodeCheckpoint(b []byte) (*Checkpoint, error) {
	p := &wrappers.Packer{Bytes: b}
	c := &Checkpoint{}
	c.Boundary = time.Unix(0, int64(p.UnpackLong())).UTC()
	c.Window = p.UnpackLong()
	copy(c.BlockRoot[:], p.UnpackFixedBytes(ids.IDLen))
	c.HeartbeatCount = p.UnpackInt()
	copy(c.HeartbeatRoot[:], p.UnpackFixedBytes(ids.IDLen))
	c.CumulativeWork = p.UnpackLong()
	copy(c.PrevCheckpointHash[:], p.UnpackFixedBytes(ids.IDLen))
	if p.Errored() {
		return nil, newErr("DecodeCheckpoint", KindBadEncoding, p.Err)
	}
	return c, nil
}

// Hash is the checkpoint's content identifier: the previous
// checkpoint's hash chains into it via PrevCheckpointHash, giving the
// finality ladder an immutable backbone.
func (c *Checkpoint) Hash() ids.ID { return crypto.Hash(c.Encode()) }

// heartbeatRoot computes a deterministic root over a window's
// heartbeats, sorted by participant so two nodes that received the
// same heartbeats in different arrival order agree on the result.
func heartbeatRoot(heartbeats []*Heartbeat) (ids.ID, uint32) {
	sorted := append([]*Heartbeat(nil), heartbeats...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Participant.Compare(sorted[j].Participant) < 0
	})
	ids_ := make([]ids.ID, len(sorted))
	for i, h := range sorted {
		ids_[i] = crypto.Hash(h.Encode())
	}
	return dagstore.WindowMerkleRoot(ids_), uint32(len(sorted))
}

// FinalityEngine emits finality checkpoints at each UTC boundary
// (spec.md §4.7) and tracks the soft/medium/hard finality ladder.
type FinalityEngine struct {
	mu          sync.Mutex
	dag         *dagstore.Store
	phantomK    int
	checkpoints []*Checkpoint // accepted, in chain order, most recent last
}

func NewFinalityEngine(dag *dagstore.Store, phantomK int) *FinalityEngine {
	return &FinalityEngine{dag: dag, phantomK: phantomK}
}

// Genesis returns the zero-value checkpoint hash used as the
// PrevCheckpointHash of the very first checkpoint and as the initial
// slot-lottery seed (spec.md §4.7).
func Genesis() ids.ID { return ids.Empty }

// EmitCheckpoint builds the checkpoint for the closed window: a Merkle
// root over the window's accepted blocks (via the DAG store's
// deterministic linearization), a root over the window's heartbeats,
// cumulative delay-function work, and a pointer to the previous
// checkpoint.
func (f *FinalityEngine) EmitCheckpoint(boundary time.Time, window uint64, heartbeats []*Heartbeat) (*Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	order, _, err := f.dag.Linearize(f.phantomK)
	if err != nil {
		return nil, err
	}
	windowBlocks := f.dag.BlocksInWindow(window, order)
	blockRoot := dagstore.WindowMerkleRoot(windowBlocks)

	var cumulativeWork uint64
	for _, id := range windowBlocks {
		if b, ok := f.dag.Get(id); ok {
			cumulativeWork += blockWork(b)
		}
	}

	hbRoot, hbCount := heartbeatRoot(heartbeats)

	prevHash := Genesis()
	if len(f.checkpoints) > 0 {
		prevHash = f.checkpoints[len(f.checkpoints)-1].Hash()
	}

	cp := &Checkpoint{
		Boundary:           boundary,
		Window:             window,
		BlockRoot:          blockRoot,
		HeartbeatCount:     hbCount,
		HeartbeatRoot:      hbRoot,
		CumulativeWork:     cumulativeWork,
		PrevCheckpointHash: prevHash,
	}
	return cp, nil
}

func blockWork(b *chainmodel.Block) uint64 {
	if b.VDFProof == nil {
		return 0
	}
	return b.VDFProof.Iterations
}

// Accept appends cp to the finality ladder. Callers must ensure cp won
// any fork-choice contest for its boundary before accepting it.
func (f *FinalityEngine) Accept(cp *Checkpoint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkpoints = append(f.checkpoints, cp)
}

// LatestHash returns the most recently accepted checkpoint's hash, or
// Genesis() if none have been accepted yet.
func (f *FinalityEngine) LatestHash() ids.ID {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.checkpoints) == 0 {
		return Genesis()
	}
	return f.checkpoints[len(f.checkpoints)-1].Hash()
}

// Level reports the finality level of the checkpoint with the given
// hash: soft as soon as it is accepted (one checkpoint passed), medium
// once one further checkpoint is on top of it, hard once two or more
// are (spec.md §4.7). Returns FinalityNone if the hash is not found
// among accepted checkpoints.
func (f *FinalityEngine) Level(hash ids.ID) FinalityLevel {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, cp := range f.checkpoints {
		if cp.Hash() == hash {
			behind := len(f.checkpoints) - 1 - i
			switch {
			case behind >= 2:
				return FinalityHard
			case behind == 1:
				return FinalityMedium
			case behind == 0:
				return FinalitySoft
			}
		}
	}
	return FinalityNone
}

// HardFinalized returns the hash of the latest checkpoint that has
// reached hard finality, or Genesis() if none has yet. Reorgs may
// occur only above this point (spec.md §4.7).
func (f *FinalityEngine) HardFinalized() ids.ID {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.checkpoints) < 3 {
		return Genesis()
	}
	return f.checkpoints[len(f.checkpoints)-3].Hash()
}

// ChooseCheckpoint implements spec.md §4.7's fork-choice rule for two
// checkpoints competing at the same UTC boundary: the one with
// strictly more valid heartbeats wins; ties break by lexicographically
// smaller hash.
func ChooseCheckpoint(a, b *Checkpoint) *Checkpoint {
	if a.HeartbeatCount != b.HeartbeatCount {
		if a.HeartbeatCount > b.HeartbeatCount {
			return a
		}
		return b
	}
	if a.Hash().Less(b.Hash()) {
		return a
	}
	return b
}
