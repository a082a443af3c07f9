package chainmodel

import (
	"github.com/tempusnet/tempus/internal/ids"
	"github.com/tempusnet/tempus/internal/temporal"
	"github.com/tempusnet/tempus/utils/wrappers"
)

const maxPackSize = 64 * 1024 * 1024

func newPacker() *wrappers.Packer {
	return &wrappers.Packer{MaxSize: maxPackSize, Bytes: make([]byte, 0, 256)}
}

// Encode serializes a transaction to its canonical big-endian,
// length-prefixed byte form (spec.md §4.3).
func (tx *Transaction) Encode() []byte {
	p := newPacker()
	p.PackInt(tx.Version)
	p.PackInt(uint32(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		p.PackFixedBytes(in.Ref.TxID[:])
		p.PackInt(in.Ref.Index)
		p.PackBytes(in.Sig)
	}
	p.PackInt(uint32(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		p.PackFixedBytes(out.Recipient[:])
		p.PackLong(out.Amount)
		p.PackByte(byte(out.Tier))
	}
	p.PackLong(tx.Fee)
	p.PackBytes(tx.AuxPayload)
	return p.Bytes
}

// DecodeTransaction parses the byte form produced by Encode.
func DecodeTransaction(b []byte) (*Transaction, error) {
	p := &wrappers.Packer{Bytes: b}
	tx := &Transaction{}
	tx.Version = p.UnpackInt()
	numIn := p.UnpackInt()
	tx.Inputs = make([]TxInput, numIn)
	for i := range tx.Inputs {
		var txID ids.ID
		copy(txID[:], p.UnpackFixedBytes(ids.IDLen))
		idx := p.UnpackInt()
		sig := p.UnpackBytes()
		tx.Inputs[i] = TxInput{Ref: OutputRef{TxID: txID, Index: idx}, Sig: sig}
	}
	numOut := p.UnpackInt()
	tx.Outputs = make([]TxOutput, numOut)
	for i := range tx.Outputs {
		var recipient ids.NodeID
		copy(recipient[:], p.UnpackFixedBytes(ids.NodeIDLen))
		amount := p.UnpackLong()
		tier := PrivacyTier(p.UnpackByte())
		tx.Outputs[i] = TxOutput{Recipient: recipient, Amount: amount, Tier: tier}
	}
	tx.Fee = p.UnpackLong()
	tx.AuxPayload = p.UnpackBytes()
	if p.Errored() {
		return nil, newErr("DecodeTransaction", KindBadEncoding, p.Err)
	}
	return tx, nil
}

// headerBytes encodes every block field that the producer signature
// covers, in the canonical order of spec.md §6.
func (b *Block) headerBytes() []byte {
	p := newPacker()
	p.PackInt(b.Version)
	p.PackByte(byte(len(b.Parents)))
	for _, parent := range b.Parents {
		p.PackFixedBytes(parent[:])
	}
	p.PackBytes(b.ProducerPubKey)
	p.PackFixedBytes(b.VRFOutput[:])
	p.PackBytes(b.VRFProof)
	p.PackFixedBytes(b.TxRoot[:])
	p.PackFixedBytes(b.VDFOutput[:])
	var vdfProofBytes []byte
	if b.VDFProof != nil {
		vdfProofBytes = b.VDFProof.Encode()
	}
	p.PackBytes(vdfProofBytes)
	p.PackLong(uint64(b.TimestampSecs))
	p.PackInt(b.TimestampNanos)
	p.PackInt(uint32(len(b.Transactions)))
	for _, tx := range b.Transactions {
		p.PackBytes(tx.Encode())
	}
	return p.Bytes
}

// SigningMessage is what a block producer's signature covers: the
// header, excluding the signature field itself.
func (b *Block) SigningMessage() []byte { return b.headerBytes() }

// Encode serializes the full block, header and producer signature, to
// the wire format of spec.md §6.
func (b *Block) Encode() []byte {
	p := &wrappers.Packer{MaxSize: maxPackSize, Bytes: append([]byte{}, b.headerBytes()...)}
	p.Offset = len(p.Bytes)
	p.PackBytes(b.Signature)
	return p.Bytes
}

// DecodeBlock parses the byte form produced by Encode.
func DecodeBlock(raw []byte) (*Block, error) {
	p := &wrappers.Packer{Bytes: raw}
	b := &Block{}
	b.Version = p.UnpackInt()
	parentCount := p.UnpackByte()
	b.Parents = make([]ids.ID, parentCount)
	for i := range b.Parents {
		copy(b.Parents[i][:], p.UnpackFixedBytes(ids.IDLen))
	}
	b.ProducerPubKey = p.UnpackBytes()
	copy(b.VRFOutput[:], p.UnpackFixedBytes(32))
	b.VRFProof = p.UnpackBytes()
	copy(b.TxRoot[:], p.UnpackFixedBytes(ids.IDLen))
	copy(b.VDFOutput[:], p.UnpackFixedBytes(32))
	vdfProofBytes := p.UnpackBytes()
	if p.Errored() {
		return nil, newErr("DecodeBlock", KindBadEncoding, p.Err)
	}
	if len(vdfProofBytes) > 0 {
		proof, err := temporal.DecodeProof(vdfProofBytes)
		if err != nil {
			return nil, newErr("DecodeBlock", KindBadEncoding, err)
		}
		b.VDFProof = proof
	}
	b.TimestampSecs = int64(p.UnpackLong())
	b.TimestampNanos = p.UnpackInt()
	txCount := p.UnpackInt()
	b.Transactions = make([]*Transaction, txCount)
	for i := range b.Transactions {
		txBytes := p.UnpackBytes()
		if p.Errored() {
			break
		}
		tx, err := DecodeTransaction(txBytes)
		if err != nil {
			return nil, err
		}
		b.Transactions[i] = tx
	}
	b.Signature = p.UnpackBytes()
	if p.Errored() {
		return nil, newErr("DecodeBlock", KindBadEncoding, p.Err)
	}
	return b, nil
}
