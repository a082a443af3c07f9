package chainmodel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tempusnet/tempus/internal/crypto"
	"github.com/tempusnet/tempus/internal/ids"
	"github.com/tempusnet/tempus/internal/temporal"
)

func newTestTx(t *testing.T) *Transaction {
	t.Helper()
	return &Transaction{
		Version: 1,
		Inputs: []TxInput{
			{Ref: OutputRef{TxID: ids.ID{1, 2, 3}, Index: 0}, Sig: []byte("sig-a")},
			{Ref: OutputRef{TxID: ids.ID{4, 5, 6}, Index: 1}, Sig: []byte("sig-b")},
		},
		Outputs: []TxOutput{
			{Recipient: ids.NodeID{7, 8, 9}, Amount: 40, Tier: TierT0},
			{Recipient: ids.NodeID{10, 11, 12}, Amount: 55, Tier: TierT0},
		},
		Fee:        5,
		AuxPayload: []byte("memo"),
	}
}

func TestTransactionEncodeDecodeRoundTrip(t *testing.T) {
	tx := newTestTx(t)
	encoded := tx.Encode()

	decoded, err := DecodeTransaction(encoded)
	require.NoError(t, err)
	require.Equal(t, tx.Version, decoded.Version)
	require.Equal(t, tx.Inputs, decoded.Inputs)
	require.Equal(t, tx.Outputs, decoded.Outputs)
	require.Equal(t, tx.Fee, decoded.Fee)
	require.Equal(t, tx.AuxPayload, decoded.AuxPayload)
	require.Equal(t, tx.ID(), decoded.ID())
}

func TestMerkleRootDeterministicAndOrderSensitive(t *testing.T) {
	txA := newTestTx(t)
	txB := newTestTx(t)
	txB.Fee = 6

	root1 := MerkleRoot([]*Transaction{txA, txB})
	root2 := MerkleRoot([]*Transaction{txA, txB})
	require.Equal(t, root1, root2)

	swapped := MerkleRoot([]*Transaction{txB, txA})
	require.NotEqual(t, root1, swapped)

	empty := MerkleRoot(nil)
	require.NotEqual(t, ids.Empty, empty)
}

func TestMerkleRootOddNodePromotedNotDuplicated(t *testing.T) {
	txA := newTestTx(t)
	txB := newTestTx(t)
	txB.Fee = 9
	txC := newTestTx(t)
	txC.Fee = 13

	threeLeafRoot := MerkleRoot([]*Transaction{txA, txB, txC})
	duplicatedLeafRoot := MerkleRoot([]*Transaction{txA, txB, txC, txC})
	require.NotEqual(t, threeLeafRoot, duplicatedLeafRoot)
}

type fakeUTXOView struct {
	outputs map[OutputRef]UnspentOutput
}

func (v *fakeUTXOView) Get(ref OutputRef) (UnspentOutput, bool) {
	out, ok := v.outputs[ref]
	return out, ok
}

func signedSpendingTx(t *testing.T, sk *crypto.PrivateKey, ref OutputRef, inAmount, outAmount, fee uint64, tier PrivacyTier) *Transaction {
	t.Helper()
	tx := &Transaction{
		Version: 1,
		Inputs:  []TxInput{{Ref: ref}},
		Outputs: []TxOutput{{Recipient: ids.NodeID{9, 9, 9}, Amount: outAmount, Tier: tier}},
		Fee:     fee,
	}
	_ = inAmount
	sig, err := sk.Sign(signingMessage(tx, 0))
	require.NoError(t, err)
	tx.Inputs[0].Sig = sig
	return tx
}

func TestValidateTransactionExactCoverageAccepted(t *testing.T) {
	sk, err := crypto.GenerateKey()
	require.NoError(t, err)
	owner := crypto.NodeIDFromKey(mustPubBytes(t, sk))

	ref := OutputRef{TxID: ids.ID{1}, Index: 0}
	view := &fakeUTXOView{outputs: map[OutputRef]UnspentOutput{
		ref: {Owner: owner, Amount: 100, Tier: TierT0, BirthTime: time.Now()},
	}}

	tx := signedSpendingTx(t, sk, ref, 100, 95, 5, TierT0)
	err = ValidateTransaction(tx, view, func(n ids.NodeID) (*crypto.PublicKey, bool) {
		if n == owner {
			return sk.Public(), true
		}
		return nil, false
	})
	require.NoError(t, err)
}

func TestValidateTransactionOffByOneRejected(t *testing.T) {
	sk, err := crypto.GenerateKey()
	require.NoError(t, err)
	owner := crypto.NodeIDFromKey(mustPubBytes(t, sk))

	ref := OutputRef{TxID: ids.ID{1}, Index: 0}
	view := &fakeUTXOView{outputs: map[OutputRef]UnspentOutput{
		ref: {Owner: owner, Amount: 100, Tier: TierT0, BirthTime: time.Now()},
	}}

	// Outputs (95) + fee (6) = 101 > 100 available: underpays by one unit.
	tx := signedSpendingTx(t, sk, ref, 100, 95, 6, TierT0)
	err = ValidateTransaction(tx, view, func(n ids.NodeID) (*crypto.PublicKey, bool) {
		return sk.Public(), true
	})
	require.ErrorIs(t, err, ErrOutputOverflow)
}

func TestValidateTransactionMonotonicPrivacyViolation(t *testing.T) {
	sk, err := crypto.GenerateKey()
	require.NoError(t, err)
	owner := crypto.NodeIDFromKey(mustPubBytes(t, sk))

	ref := OutputRef{TxID: ids.ID{1}, Index: 0}
	view := &fakeUTXOView{outputs: map[OutputRef]UnspentOutput{
		ref: {Owner: owner, Amount: 100, Tier: TierT1, BirthTime: time.Now()},
	}}

	// Spends a T1 output but creates a T0 output: tier decreased.
	tx := signedSpendingTx(t, sk, ref, 100, 100, 0, TierT0)
	err = ValidateTransaction(tx, view, func(n ids.NodeID) (*crypto.PublicKey, bool) {
		return sk.Public(), true
	})
	require.ErrorIs(t, err, ErrMonotonicPrivacyViolation)
}

func TestValidateTransactionBadSignatureRejected(t *testing.T) {
	sk, err := crypto.GenerateKey()
	require.NoError(t, err)
	other, err := crypto.GenerateKey()
	require.NoError(t, err)
	owner := crypto.NodeIDFromKey(mustPubBytes(t, sk))

	ref := OutputRef{TxID: ids.ID{1}, Index: 0}
	view := &fakeUTXOView{outputs: map[OutputRef]UnspentOutput{
		ref: {Owner: owner, Amount: 100, Tier: TierT0, BirthTime: time.Now()},
	}}

	tx := signedSpendingTx(t, other, ref, 100, 100, 0, TierT0)
	err = ValidateTransaction(tx, view, func(n ids.NodeID) (*crypto.PublicKey, bool) {
		return sk.Public(), true
	})
	require.ErrorIs(t, err, ErrBadSignature)
}

func mustPubBytes(t *testing.T, sk *crypto.PrivateKey) []byte {
	t.Helper()
	b, err := sk.Public().Bytes()
	require.NoError(t, err)
	return b
}

func newSignedTestBlock(t *testing.T, sk *crypto.PrivateKey, parents []ids.ID, clock *temporal.BoundaryClock) *Block {
	t.Helper()
	pubBytes := mustPubBytes(t, sk)
	now := clock.Now()
	b := &Block{
		Version:        1,
		Parents:        parents,
		Producer:       crypto.NodeIDFromKey(pubBytes),
		ProducerPubKey: pubBytes,
		TxRoot:         MerkleRoot(nil),
		VDFWindow:      clock.CurrentWindow(),
		TimestampSecs:  now.Unix(),
		TimestampNanos: uint32(now.Nanosecond()),
	}
	sig, err := sk.Sign(b.headerBytes())
	require.NoError(t, err)
	b.Signature = sig
	return b
}

func TestValidateBlockParentCountBoundaries(t *testing.T) {
	sk, err := crypto.GenerateKey()
	require.NoError(t, err)
	clock := temporal.NewBoundaryClock(60*time.Second, 5*time.Second)
	clock.Set(time.Now().UTC())

	exists := func(ids.ID) bool { return true }

	zeroParents := newSignedTestBlock(t, sk, nil, clock)
	err = ValidateBlock(zeroParents, BlockValidationOptions{ParentExists: exists, Clock: clock})
	require.ErrorIs(t, err, ErrBadParentCount)

	oneParent := newSignedTestBlock(t, sk, []ids.ID{{1}}, clock)
	err = ValidateBlock(oneParent, BlockValidationOptions{ParentExists: exists, Clock: clock})
	require.NoError(t, err)

	nineParents := make([]ids.ID, 9)
	for i := range nineParents {
		nineParents[i] = ids.ID{byte(i + 1)}
	}
	tooMany := newSignedTestBlock(t, sk, nineParents, clock)
	err = ValidateBlock(tooMany, BlockValidationOptions{ParentExists: exists, Clock: clock})
	require.ErrorIs(t, err, ErrBadParentCount)
}

func TestValidateBlockRejectsTxRootMismatch(t *testing.T) {
	sk, err := crypto.GenerateKey()
	require.NoError(t, err)
	clock := temporal.NewBoundaryClock(60*time.Second, 5*time.Second)
	clock.Set(time.Now().UTC())

	b := newSignedTestBlock(t, sk, []ids.ID{{1}}, clock)
	b.Transactions = []*Transaction{newTestTx(t)}
	// TxRoot still reflects the empty transaction list: mismatch.
	err = ValidateBlock(b, BlockValidationOptions{ParentExists: func(ids.ID) bool { return true }, Clock: clock})
	require.ErrorIs(t, err, ErrTxRootMismatch)
}

func TestValidateBlockRejectsUnknownParent(t *testing.T) {
	sk, err := crypto.GenerateKey()
	require.NoError(t, err)
	clock := temporal.NewBoundaryClock(60*time.Second, 5*time.Second)
	clock.Set(time.Now().UTC())

	b := newSignedTestBlock(t, sk, []ids.ID{{1}}, clock)
	err = ValidateBlock(b, BlockValidationOptions{ParentExists: func(ids.ID) bool { return false }, Clock: clock})
	require.ErrorIs(t, err, ErrUnknownParent)
}
