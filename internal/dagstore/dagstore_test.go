package dagstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tempusnet/tempus/internal/chainmodel"
	"github.com/tempusnet/tempus/internal/ids"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(nil, 60*time.Second, 0, nil)
	require.NoError(t, err)
	return s
}

// testBlock builds a block with a distinguishing nonce so its ID is
// unique even when other fields collide; dagstore.Insert does not
// itself validate signatures or VDF proofs, those are chainmodel's
// and temporal's job, so a bare struct is enough here.
func testBlock(nonce byte, producer byte, parents []ids.ID, tsSecs int64) *chainmodel.Block {
	if len(parents) == 0 {
		parents = []ids.ID{ids.Empty}
	}
	return &chainmodel.Block{
		Version:        1,
		Parents:        parents,
		Producer:       ids.NodeID{producer},
		ProducerPubKey: []byte{nonce},
		TxRoot:         chainmodel.MerkleRoot(nil),
		TimestampSecs:  tsSecs,
		Signature:      []byte{nonce, producer},
	}
}

func TestInsertQueuesOrphanThenPromotesOnParentArrival(t *testing.T) {
	s := newTestStore(t)

	parent := testBlock(1, 1, nil, 100)
	child := testBlock(2, 2, []ids.ID{parent.ID()}, 101)

	err := s.Insert(child)
	require.True(t, IsOrphan(err))
	require.False(t, s.Has(child.ID()))

	require.NoError(t, s.Insert(parent))
	require.True(t, s.Has(parent.ID()))
	require.True(t, s.Has(child.ID()), "orphan should be promoted once its parent is accepted")

	tips := s.Tips()
	require.Len(t, tips, 1)
	require.Equal(t, child.ID(), tips[0])
}

func TestInsertAlreadyKnownIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	b := testBlock(1, 1, nil, 100)

	require.NoError(t, s.Insert(b))
	err := s.Insert(b)
	require.True(t, IsAlreadyKnown(err))
}

func TestAncestryQueries(t *testing.T) {
	s := newTestStore(t)

	genesis := testBlock(1, 1, nil, 0)
	require.NoError(t, s.Insert(genesis))

	a := testBlock(2, 1, []ids.ID{genesis.ID()}, 60)
	require.NoError(t, s.Insert(a))
	b := testBlock(3, 2, []ids.ID{genesis.ID()}, 60)
	require.NoError(t, s.Insert(b))
	merge := testBlock(4, 3, []ids.ID{a.ID(), b.ID()}, 120)
	require.NoError(t, s.Insert(merge))

	ancestors, err := s.AncestorsOf(merge.ID())
	require.NoError(t, err)
	require.True(t, ancestors.Contains(a.ID()))
	require.True(t, ancestors.Contains(b.ID()))
	require.True(t, ancestors.Contains(genesis.ID()))

	descendants, err := s.DescendantsOf(genesis.ID())
	require.NoError(t, err)
	require.True(t, descendants.Contains(merge.ID()))

	common, err := s.CommonAncestors(a.ID(), b.ID())
	require.NoError(t, err)
	require.True(t, common.Contains(genesis.ID()))

	anticone, err := s.Anticone(a.ID())
	require.NoError(t, err)
	require.True(t, anticone.Contains(b.ID()))
	require.False(t, anticone.Contains(genesis.ID()))
	require.False(t, anticone.Contains(merge.ID()))

	tips := s.Tips()
	require.Len(t, tips, 1)
	require.Equal(t, merge.ID(), tips[0])
}

func TestLinearizeDeterministicAcrossRuns(t *testing.T) {
	s := newTestStore(t)

	genesis := testBlock(1, 1, nil, 0)
	require.NoError(t, s.Insert(genesis))
	a := testBlock(2, 1, []ids.ID{genesis.ID()}, 60)
	require.NoError(t, s.Insert(a))
	b := testBlock(3, 2, []ids.ID{genesis.ID()}, 60)
	require.NoError(t, s.Insert(b))

	order1, blue1, err := s.Linearize(DefaultPhantomK)
	require.NoError(t, err)
	order2, blue2, err := s.Linearize(DefaultPhantomK)
	require.NoError(t, err)

	require.Equal(t, order1, order2)
	require.Equal(t, blue1, blue2)
	require.Len(t, order1, 3)
	require.True(t, blue1.Contains(genesis.ID()))
}

func TestEquivocationObserverFiresOnSameSlotDoubleProduction(t *testing.T) {
	s := newTestStore(t)
	var fired bool
	var seenProducer ids.NodeID
	s.SetEquivocationObserver(func(producer ids.NodeID, slot int64, first, second ids.ID) {
		fired = true
		seenProducer = producer
	})

	first := testBlock(1, 9, nil, 100)
	second := testBlock(2, 9, nil, 100) // same producer, same slot (timestamp second), different nonce

	require.NoError(t, s.Insert(first))
	require.NoError(t, s.Insert(second))

	require.True(t, fired)
	require.Equal(t, ids.NodeID{9}, seenProducer)
	// Both blocks are still accepted; the DAG store only detects the
	// condition, it does not refuse the second block.
	require.True(t, s.Has(first.ID()))
	require.True(t, s.Has(second.ID()))
}

func TestBestViewReflectsAppliedTransactions(t *testing.T) {
	s := newTestStore(t)
	genesis := testBlock(1, 1, nil, 0)
	creatingTx := &chainmodel.Transaction{
		Version: 1,
		Inputs:  []chainmodel.TxInput{{Ref: chainmodel.OutputRef{TxID: ids.ID{9}, Index: 0}, Sig: []byte("s")}},
		Outputs: []chainmodel.TxOutput{{Recipient: ids.NodeID{5}, Amount: 10, Tier: chainmodel.TierT0}},
	}
	genesis.Transactions = []*chainmodel.Transaction{creatingTx}
	genesis.TxRoot = chainmodel.MerkleRoot(genesis.Transactions)
	require.NoError(t, s.Insert(genesis))

	createdRef := chainmodel.OutputRef{TxID: creatingTx.ID(), Index: 0}
	out, ok := s.BestView().Get(createdRef)
	require.True(t, ok)
	require.Equal(t, uint64(10), out.Amount)

	spendingTx := &chainmodel.Transaction{
		Version: 1,
		Inputs:  []chainmodel.TxInput{{Ref: createdRef, Sig: []byte("s2")}},
		Outputs: []chainmodel.TxOutput{{Recipient: ids.NodeID{6}, Amount: 10, Tier: chainmodel.TierT0}},
	}
	child := testBlock(2, 1, []ids.ID{genesis.ID()}, 60)
	child.Transactions = []*chainmodel.Transaction{spendingTx}
	child.TxRoot = chainmodel.MerkleRoot(child.Transactions)
	require.NoError(t, s.Insert(child))

	_, stillThere := s.BestView().Get(createdRef)
	require.False(t, stillThere, "spent output must leave the best-view UTXO set")
}
