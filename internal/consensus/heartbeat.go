package consensus

import (
	"time"

	"github.com/tempusnet/tempus/internal/ids"
	"github.com/tempusnet/tempus/internal/temporal"
	"github.com/tempusnet/tempus/utils/wrappers"
)

// Tier tags a participant source per spec.md §9's "polymorphism over
// participant sources": a tagged variant carrying the heartbeat form,
// with the lottery weight attached to the tag rather than expressed
// through inheritance.
type Tier byte

const (
	Tier1 Tier = iota // full node with delay-function capability
	Tier2             // light node / authorized community bot
	Tier3             // end-user attestation, relayed by a Tier-2 aggregator
)

// Weight is spec.md §6's lottery weight for the tier: 0.70/0.20/0.10
// across Tier1/Tier2/Tier3.
func (t Tier) Weight() float64 {
	switch t {
	case Tier1:
		return 0.70
	case Tier2:
		return 0.20
	case Tier3:
		return 0.10
	default:
		return 0
	}
}

// Heartbeat is spec.md §3's per-window presence attestation: a
// delay-function proof for Tier-1 participants, or a verified
// timestamp for Tier-2/3 (spec.md §3, §9). It is ephemeral beyond two
// finality windows.
type Heartbeat struct {
	Participant ids.NodeID
	Window      uint64
	Tier        Tier

	// Populated for Tier1.
	VDFOutput [32]byte
	VDFProof  *temporal.Proof

	// Populated for Tier2/Tier3.
	Timestamp time.Time

	SourceTag string
	Signature []byte
}

// Encode serializes a heartbeat to its canonical binary form.
func (h *Heartbeat) Encode() []byte {
	p := &wrappers.Packer{MaxSize: 1 << 20, Bytes: make([]byte, 0, 128)}
	p.PackFixedBytes(h.Participant[:])
	p.PackLong(h.Window)
	p.PackByte(byte(h.Tier))
	p.PackFixedBytes(h.VDFOutput[:])
	var proofBytes []byte
	if h.VDFProof != nil {
		proofBytes = h.VDFProof.Encode()
	}
	p.PackBytes(proofBytes)
	p.PackLong(uint64(h.Timestamp.UnixNano()))
	p.PackStr(h.SourceTag)
	p.PackBytes(h.Signature)
	return p.Bytes
}

// DecodeHeartbeat parses the byte form produced by Encode.
func DecodeHeartbeat(b []byte) (*Heartbeat, error) {
	p := &wrappers.Packer{Bytes: b}
	h := &Heartbeat{}
	copy(h.Participant[:], p.UnpackFixedBytes(ids.NodeIDLen))
	h.Window = p.UnpackLong()
	h.Tier = Tier(p.UnpackByte())
	copy(h.VDFOutput[:], p.UnpackFixedBytes(32))
	proofBytes := p.UnpackBytes()
	h.Timestamp = time.Unix(0, int64(p.UnpackLong())).UTC()
	h.SourceTag = p.UnpackStr()
	h.Signature = p.UnpackBytes()
	if p.Errored() {
		return nil, newErr("DecodeHeartbeat", KindBadEncoding, p.Err)
	}
	if len(proofBytes) > 0 {
		proof, err := temporal.DecodeProof(proofBytes)
		if err != nil {
			return nil, newErr("DecodeHeartbeat", KindBadEncoding, err)
		}
		h.VDFProof = proof
	}
	return h, nil
}

// SigningMessage is what a heartbeat's signature covers: every field
// but the signature itself.
func (h *Heartbeat) SigningMessage() []byte {
	clone := *h
	clone.Signature = nil
	return clone.Encode()
}
