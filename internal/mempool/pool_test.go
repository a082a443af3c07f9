package mempool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tempusnet/tempus/internal/chainmodel"
	"github.com/tempusnet/tempus/internal/crypto"
	"github.com/tempusnet/tempus/internal/ids"
)

type fakeUTXOView struct {
	outputs map[chainmodel.OutputRef]chainmodel.UnspentOutput
}

func (v *fakeUTXOView) Get(ref chainmodel.OutputRef) (chainmodel.UnspentOutput, bool) {
	out, ok := v.outputs[ref]
	return out, ok
}

// signedSpendingTx builds a transaction spending ref, signed by sk, with
// a single output of outAmount and the given fee. auxPayload pads the
// encoded size so callers can control fee-per-byte precisely.
func signedSpendingTx(t *testing.T, sk *crypto.PrivateKey, ref chainmodel.OutputRef, outAmount, fee uint64, auxPayload []byte) *chainmodel.Transaction {
	t.Helper()
	tx := &chainmodel.Transaction{
		Version:    1,
		Inputs:     []chainmodel.TxInput{{Ref: ref}},
		Outputs:    []chainmodel.TxOutput{{Recipient: ids.NodeID{9, 9, 9}, Amount: outAmount, Tier: chainmodel.TierT0}},
		Fee:        fee,
		AuxPayload: auxPayload,
	}
	sig, err := sk.Sign(signingMessageFor(tx, 0))
	require.NoError(t, err)
	tx.Inputs[0].Sig = sig
	return tx
}

// signingMessageFor mirrors chainmodel's unexported signingMessage just
// closely enough to produce a signature ValidateTransaction accepts:
// the transaction with all input signatures cleared, plus the index
// and output ref being authorized.
func signingMessageFor(tx *chainmodel.Transaction, inputIndex int) []byte {
	clone := *tx
	clone.Inputs = make([]chainmodel.TxInput, len(tx.Inputs))
	for i, in := range tx.Inputs {
		clone.Inputs[i] = chainmodel.TxInput{Ref: in.Ref}
	}
	msg := clone.Encode()
	ref := tx.Inputs[inputIndex].Ref
	msg = append(msg, byte(inputIndex))
	msg = append(msg, ref.TxID[:]...)
	return msg
}

func resolverFor(owner ids.NodeID, sk *crypto.PrivateKey) chainmodel.PublicKeyResolver {
	return func(n ids.NodeID) (*crypto.PublicKey, bool) {
		if n == owner {
			return sk.Public(), true
		}
		return nil, false
	}
}

func newOwnedView(t *testing.T, refs ...chainmodel.OutputRef) (*fakeUTXOView, *crypto.PrivateKey, ids.NodeID) {
	t.Helper()
	sk, err := crypto.GenerateKey()
	require.NoError(t, err)
	pub, err := sk.Public().Bytes()
	require.NoError(t, err)
	owner := crypto.NodeIDFromKey(pub)

	view := &fakeUTXOView{outputs: make(map[chainmodel.OutputRef]chainmodel.UnspentOutput)}
	for _, ref := range refs {
		view.outputs[ref] = chainmodel.UnspentOutput{Owner: owner, Amount: 1_000_000, Tier: chainmodel.TierT0, BirthTime: time.Now()}
	}
	return view, sk, owner
}

func TestAddAcceptsValidTransaction(t *testing.T) {
	ref := chainmodel.OutputRef{TxID: ids.ID{1}, Index: 0}
	view, sk, owner := newOwnedView(t, ref)

	p := New(1<<20, nil)
	tx := signedSpendingTx(t, sk, ref, 900, 100, nil)
	require.NoError(t, p.Add(tx, view, resolverFor(owner, sk)))
	require.Equal(t, 1, p.Len())
	require.True(t, p.Has(tx.ID()))
}

func TestAddRejectsDuplicateTransaction(t *testing.T) {
	ref := chainmodel.OutputRef{TxID: ids.ID{1}, Index: 0}
	view, sk, owner := newOwnedView(t, ref)

	p := New(1<<20, nil)
	tx := signedSpendingTx(t, sk, ref, 900, 100, nil)
	require.NoError(t, p.Add(tx, view, resolverFor(owner, sk)))

	err := p.Add(tx, view, resolverFor(owner, sk))
	require.Error(t, err)
	var merr *Error
	require.ErrorAs(t, err, &merr)
	require.Equal(t, KindDuplicate, merr.Kind)
}

func TestConflictEvictsLowerFeeTransaction(t *testing.T) {
	ref := chainmodel.OutputRef{TxID: ids.ID{1}, Index: 0}
	view, sk, owner := newOwnedView(t, ref)
	resolver := resolverFor(owner, sk)

	p := New(1<<20, nil)
	lowFee := signedSpendingTx(t, sk, ref, 990, 10, nil)
	require.NoError(t, p.Add(lowFee, view, resolver))

	highFee := signedSpendingTx(t, sk, ref, 900, 100, nil)
	require.NoError(t, p.Add(highFee, view, resolver))

	require.False(t, p.Has(lowFee.ID()), "the lower-fee conflicting transaction should have been evicted")
	require.True(t, p.Has(highFee.ID()))
	require.Equal(t, 1, p.Len())
}

func TestConflictRejectsNonOutbiddingTransaction(t *testing.T) {
	ref := chainmodel.OutputRef{TxID: ids.ID{1}, Index: 0}
	view, sk, owner := newOwnedView(t, ref)
	resolver := resolverFor(owner, sk)

	p := New(1<<20, nil)
	highFee := signedSpendingTx(t, sk, ref, 900, 100, nil)
	require.NoError(t, p.Add(highFee, view, resolver))

	lowFee := signedSpendingTx(t, sk, ref, 990, 10, nil)
	err := p.Add(lowFee, view, resolver)
	require.Error(t, err)
	var merr *Error
	require.ErrorAs(t, err, &merr)
	require.Equal(t, KindConflict, merr.Kind)

	require.True(t, p.Has(highFee.ID()), "the incumbent higher-fee transaction must remain pooled")
	require.Equal(t, 1, p.Len())
}

func TestFullPoolEvictsLowestPriorityEntry(t *testing.T) {
	refA := chainmodel.OutputRef{TxID: ids.ID{1}, Index: 0}
	refB := chainmodel.OutputRef{TxID: ids.ID{2}, Index: 0}
	view, sk, owner := newOwnedView(t, refA, refB)
	resolver := resolverFor(owner, sk)

	lowFee := signedSpendingTx(t, sk, refA, 990, 10, nil)
	highFee := signedSpendingTx(t, sk, refB, 900, 100, nil)

	// Size the pool to hold exactly one of these two entries.
	p := New(len(lowFee.Encode()), nil)
	require.NoError(t, p.Add(lowFee, view, resolver))

	require.NoError(t, p.Add(highFee, view, resolver), "a higher-priority entry should evict the lowest-priority one to make room")
	require.False(t, p.Has(lowFee.ID()))
	require.True(t, p.Has(highFee.ID()))
}

func TestFullPoolRejectsLowerPriorityEntry(t *testing.T) {
	refA := chainmodel.OutputRef{TxID: ids.ID{1}, Index: 0}
	refB := chainmodel.OutputRef{TxID: ids.ID{2}, Index: 0}
	view, sk, owner := newOwnedView(t, refA, refB)
	resolver := resolverFor(owner, sk)

	highFee := signedSpendingTx(t, sk, refA, 900, 100, nil)
	lowFee := signedSpendingTx(t, sk, refB, 990, 10, nil)

	p := New(len(highFee.Encode()), nil)
	require.NoError(t, p.Add(highFee, view, resolver))

	err := p.Add(lowFee, view, resolver)
	require.Error(t, err)
	var merr *Error
	require.ErrorAs(t, err, &merr)
	require.Equal(t, KindFull, merr.Kind)
	require.True(t, p.Has(highFee.ID()))
}

func TestPeekOrdersByFeePerByteThenArrival(t *testing.T) {
	refA := chainmodel.OutputRef{TxID: ids.ID{1}, Index: 0}
	refB := chainmodel.OutputRef{TxID: ids.ID{2}, Index: 0}
	refC := chainmodel.OutputRef{TxID: ids.ID{3}, Index: 0}
	view, sk, owner := newOwnedView(t, refA, refB, refC)
	resolver := resolverFor(owner, sk)

	p := New(1<<20, nil)
	low := signedSpendingTx(t, sk, refA, 990, 10, nil)
	mid := signedSpendingTx(t, sk, refB, 950, 50, nil)
	high := signedSpendingTx(t, sk, refC, 900, 100, nil)

	require.NoError(t, p.Add(low, view, resolver))
	require.NoError(t, p.Add(mid, view, resolver))
	require.NoError(t, p.Add(high, view, resolver))

	peeked := p.Peek(10)
	require.Len(t, peeked, 3)
	require.Equal(t, high.ID(), peeked[0].ID())
	require.Equal(t, mid.ID(), peeked[1].ID())
	require.Equal(t, low.ID(), peeked[2].ID())
}

func TestExpireBeforeDropsStaleEntriesOnly(t *testing.T) {
	refA := chainmodel.OutputRef{TxID: ids.ID{1}, Index: 0}
	refB := chainmodel.OutputRef{TxID: ids.ID{2}, Index: 0}
	view, sk, owner := newOwnedView(t, refA, refB)
	resolver := resolverFor(owner, sk)

	p := New(1<<20, nil)
	stale := signedSpendingTx(t, sk, refA, 900, 100, nil)
	fresh := signedSpendingTx(t, sk, refB, 900, 100, nil)

	require.NoError(t, p.Add(stale, view, resolver))
	p.byID[stale.ID()].arrival = time.Now().UTC().Add(-Expiry - time.Hour)

	require.NoError(t, p.Add(fresh, view, resolver))

	expired := p.ExpireBefore(time.Now().UTC())
	require.Equal(t, []ids.ID{stale.ID()}, expired)
	require.False(t, p.Has(stale.ID()))
	require.True(t, p.Has(fresh.ID()))
}

func TestRemoveDropsEntryAndFreesConflictSlot(t *testing.T) {
	ref := chainmodel.OutputRef{TxID: ids.ID{1}, Index: 0}
	view, sk, owner := newOwnedView(t, ref)
	resolver := resolverFor(owner, sk)

	p := New(1<<20, nil)
	tx := signedSpendingTx(t, sk, ref, 900, 100, nil)
	require.NoError(t, p.Add(tx, view, resolver))

	p.Remove(tx.ID(), "test removal")
	require.False(t, p.Has(tx.ID()))
	require.Equal(t, 0, p.Len())

	again := signedSpendingTx(t, sk, ref, 950, 50, nil)
	require.NoError(t, p.Add(again, view, resolver), "the conflict map entry must be cleared on removal")
}

func TestSubscribeReceivesAddedAndRemovedEvents(t *testing.T) {
	ref := chainmodel.OutputRef{TxID: ids.ID{1}, Index: 0}
	view, sk, owner := newOwnedView(t, ref)
	resolver := resolverFor(owner, sk)

	var events []Event
	p := New(1<<20, nil)
	p.Subscribe(func(ev Event) { events = append(events, ev) })

	tx := signedSpendingTx(t, sk, ref, 900, 100, nil)
	require.NoError(t, p.Add(tx, view, resolver))
	p.Remove(tx.ID(), "done")

	require.Len(t, events, 2)
	require.Equal(t, EventAdded, events[0].Kind)
	require.Equal(t, EventRemoved, events[1].Kind)
	require.Equal(t, "done", events[1].Reason)
}
