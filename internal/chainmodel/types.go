// Package chainmodel defines the typed transaction and block records
// of spec.md §3/§4.3: canonical big-endian length-prefixed encoding,
// Merkle roots, and the structural validation rules. It deliberately
// knows nothing about storage layout (the DAG store owns that) or
// about how a block was selected as a leader's (the consensus core
// owns that) — only the shape of the records and their invariants.
package chainmodel

import (
	"time"

	"github.com/tempusnet/tempus/internal/crypto"
	"github.com/tempusnet/tempus/internal/ids"
	"github.com/tempusnet/tempus/internal/temporal"
)

// PrivacyTier tags an output's privacy tier (spec.md §3). Only T0 is
// implemented beyond the tag itself; T1-T3 are out of scope (spec.md
// §1) and are carried solely so their slot in the wire format, and the
// monotonic non-decrease invariant over it, are already in place for
// when they are implemented elsewhere.
type PrivacyTier uint8

const (
	TierT0 PrivacyTier = iota
	TierT1
	TierT2
	TierT3
)

func (t PrivacyTier) Valid() bool { return t <= TierT3 }

// OutputRef identifies a previously created output by the transaction
// that created it and its index within that transaction's output list.
type OutputRef struct {
	TxID  ids.ID
	Index uint32
}

// TxInput spends an existing output.
type TxInput struct {
	Ref OutputRef
	Sig []byte
}

// TxOutput creates a new, as yet unspent output.
type TxOutput struct {
	Recipient ids.NodeID
	Amount    uint64
	Tier      PrivacyTier
}

// Transaction is spec.md §3's transaction record.
type Transaction struct {
	Version    uint32
	Inputs     []TxInput
	Outputs    []TxOutput
	Fee        uint64
	AuxPayload []byte
}

// ID returns the transaction's content identifier: the hash of its
// canonical encoding, serving as both the Merkle leaf key and the
// OutputRef.TxID new outputs are addressed by.
func (tx *Transaction) ID() ids.ID {
	return crypto.Hash(tx.Encode())
}

// UnspentOutput is the DAG store's per-output record (spec.md §3).
type UnspentOutput struct {
	Owner     ids.NodeID
	Amount    uint64
	Tier      PrivacyTier
	BirthTime time.Time
}

// Block is spec.md §3/§4.3/§6's block record.
type Block struct {
	Version uint32
	// Parents holds between 1 and 8 parent block identifiers.
	Parents []ids.ID
	// Producer is the block producer's identifier.
	Producer ids.NodeID
	// ProducerPubKey is the producer's serialized verification key,
	// carried so a remote validator need not already have it cached.
	ProducerPubKey []byte
	// VRFOutput/VRFProof are the producer's leader-lottery VRF
	// evaluation of (previous-checkpoint-seed, slot).
	VRFOutput [32]byte
	VRFProof  []byte
	// TxRoot is the Merkle root over Transactions.
	TxRoot ids.ID
	// VDFOutput/VDFProof are the embedded delay-function proof
	// anchored to a finality window.
	VDFOutput [32]byte
	VDFProof  *temporal.Proof
	// VDFWindow is the UTC window this delay-function proof is
	// declared for (not on the wire form of spec.md §6 directly, but
	// recovered from the proof's Iterations/interval by the temporal
	// engine; kept explicit here since multiple windows can share an
	// iteration count).
	VDFWindow uint64
	// Timestamp is the producer's wall-clock claim at production time.
	TimestampSecs  int64
	TimestampNanos uint32
	Transactions   []*Transaction
	// Signature is the producer's signature over headerBytes: every
	// field above except Producer (bound through ProducerPubKey) and
	// VDFWindow, which are not encoded.
	Signature []byte
}

// Timestamp reconstructs the full-precision wall-clock timestamp.
func (b *Block) Timestamp() time.Time {
	return time.Unix(b.TimestampSecs, int64(b.TimestampNanos)).UTC()
}

// Slot is the one-second UTC tick this block's timestamp falls in
// (spec.md §4.7).
func (b *Block) Slot() int64 { return b.TimestampSecs }

// ID returns the block's content identifier: the hash of headerBytes,
// i.e. the encoded block without its signature (transaction bodies
// included).
func (b *Block) ID() ids.ID {
	return crypto.Hash(b.headerBytes())
}
