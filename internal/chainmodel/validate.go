package chainmodel

import (
	"github.com/tempusnet/tempus/internal/crypto"
	"github.com/tempusnet/tempus/internal/ids"
	"github.com/tempusnet/tempus/internal/temporal"
)

// UTXOView is the read-only view over the unspent-output set that
// transaction validation needs. The DAG store's best-view set and the
// mempool's admission-time snapshot both implement it.
type UTXOView interface {
	Get(ref OutputRef) (UnspentOutput, bool)
}

const (
	MinParents = 1
	MaxParents = 8
)

// ValidateTransactionStructure checks the invariants of spec.md §3 that
// don't require a UTXO view: no input referenced twice, every output
// unique by construction, tier tags well-formed.
func ValidateTransactionStructure(tx *Transaction) error {
	if len(tx.Inputs) == 0 {
		return newErr("ValidateTransactionStructure", KindBadEncoding, ErrBadEncoding)
	}
	seen := make(map[OutputRef]struct{}, len(tx.Inputs))
	for _, in := range tx.Inputs {
		if _, dup := seen[in.Ref]; dup {
			return newErr("ValidateTransactionStructure", KindTransactionConflict, ErrTransactionConflict)
		}
		seen[in.Ref] = struct{}{}
	}
	for _, out := range tx.Outputs {
		if !out.Tier.Valid() {
			return newErr("ValidateTransactionStructure", KindBadEncoding, ErrBadEncoding)
		}
	}
	return nil
}

// signingMessage is what each input's signature covers: the
// transaction with all input signatures cleared, plus the index of
// the input being authorized and the output it spends. Clearing the
// other signatures lets every input be signed independently by its own
// output's owner, and excluding this input's own (not yet known)
// signature from its own message makes the scheme well-defined.
func signingMessage(tx *Transaction, inputIndex int) []byte {
	clone := *tx
	clone.Inputs = make([]TxInput, len(tx.Inputs))
	for i, in := range tx.Inputs {
		clone.Inputs[i] = TxInput{Ref: in.Ref}
	}
	msg := clone.Encode()
	ref := tx.Inputs[inputIndex].Ref
	msg = append(msg, byte(inputIndex))
	msg = append(msg, ref.TxID[:]...)
	return msg
}

// PublicKeyResolver looks up the verification key registered for a
// participant identifier, so ValidateTransaction can check each
// input's signature without the caller pre-resolving keys.
type PublicKeyResolver func(owner ids.NodeID) (*crypto.PublicKey, bool)

// ValidateTransaction checks the full set of spec.md §3 invariants
// against a UTXO view: inputs exist and are owned by the signer,
// inputs cover outputs plus fee exactly or with surplus, and output
// privacy tiers never decrease relative to the tiers consumed.
func ValidateTransaction(tx *Transaction, utxo UTXOView, resolvePubKey PublicKeyResolver) error {
	if err := ValidateTransactionStructure(tx); err != nil {
		return err
	}

	var totalIn uint64
	var maxInputTier PrivacyTier
	for i, in := range tx.Inputs {
		spent, ok := utxo.Get(in.Ref)
		if !ok {
			return newErr("ValidateTransaction", KindUnknownParent, ErrUnknownParent)
		}
		pk, ok := resolvePubKey(spent.Owner)
		if !ok {
			return newErr("ValidateTransaction", KindBadSignature, ErrBadSignature)
		}
		if !crypto.Verify(pk, signingMessage(tx, i), in.Sig) {
			return newErr("ValidateTransaction", KindBadSignature, ErrBadSignature)
		}
		if spent.Tier > maxInputTier {
			maxInputTier = spent.Tier
		}
		if totalIn+spent.Amount < totalIn {
			return newErr("ValidateTransaction", KindOutputOverflow, ErrOutputOverflow)
		}
		totalIn += spent.Amount
	}

	var totalOut uint64
	for _, out := range tx.Outputs {
		if out.Tier < maxInputTier {
			return newErr("ValidateTransaction", KindMonotonicPrivacyViolation, ErrMonotonicPrivacyViolation)
		}
		if totalOut+out.Amount < totalOut {
			return newErr("ValidateTransaction", KindOutputOverflow, ErrOutputOverflow)
		}
		totalOut += out.Amount
	}

	if totalOut+tx.Fee < totalOut {
		return newErr("ValidateTransaction", KindOutputOverflow, ErrOutputOverflow)
	}
	if totalIn < totalOut+tx.Fee {
		return newErr("ValidateTransaction", KindOutputOverflow, ErrOutputOverflow)
	}
	return nil
}

// BlockValidationOptions supplies the validator with what it cannot
// derive from the block bytes alone: whether each parent is already
// known, the delay-function input for the block's declared window,
// and the clock used for timestamp and window admissibility checks.
type BlockValidationOptions struct {
	ParentExists func(ids.ID) bool
	VDFInput     []byte
	VDFSampleQ   int
	Clock        *temporal.BoundaryClock
}

// ValidateBlock checks spec.md §3/§4.3's block invariants: 1-8 known
// parents, a transaction root matching the transaction list, a
// delay-function proof that verifies for the declared window, a
// timestamp within tolerance, and a valid producer signature.
// Equivocation (two blocks by the same producer in the same slot) is
// not checked here — it requires comparing against other blocks the
// validator has seen, which is the DAG store's and reputation
// engine's job (spec.md §4.4, §4.6).
func ValidateBlock(b *Block, opts BlockValidationOptions) error {
	if len(b.Parents) < MinParents || len(b.Parents) > MaxParents {
		return newErr("ValidateBlock", KindBadEncoding, ErrBadParentCount)
	}
	if opts.ParentExists != nil {
		for _, parent := range b.Parents {
			if !opts.ParentExists(parent) {
				return newErr("ValidateBlock", KindUnknownParent, ErrUnknownParent)
			}
		}
	}

	if MerkleRoot(b.Transactions) != b.TxRoot {
		return newErr("ValidateBlock", KindBadEncoding, ErrTxRootMismatch)
	}

	if opts.Clock != nil {
		if err := opts.Clock.CheckTimestamp(b.Timestamp()); err != nil {
			return err
		}
		if err := opts.Clock.AdmitProofWindow(b.VDFWindow); err != nil {
			return err
		}
	}

	if b.VDFProof != nil && opts.VDFInput != nil {
		ok, err := temporal.Verify(opts.VDFInput, b.VDFOutput, b.VDFProof.Iterations, b.VDFProof, opts.VDFSampleQ)
		if err != nil {
			return err
		}
		if !ok {
			return newErr("ValidateBlock", KindBadEncoding, ErrBadEncoding)
		}
	}

	pk, err := crypto.PublicKeyFromBytes(b.ProducerPubKey)
	if err != nil {
		return newErr("ValidateBlock", KindBadSignature, ErrBadSignature)
	}
	if !crypto.Verify(pk, b.headerBytes(), b.Signature) {
		return newErr("ValidateBlock", KindBadSignature, ErrBadSignature)
	}
	if crypto.NodeIDFromKey(b.ProducerPubKey) != b.Producer {
		return newErr("ValidateBlock", KindBadSignature, ErrBadSignature)
	}

	return nil
}
