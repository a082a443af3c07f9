package consensus

import (
	"sort"

	"github.com/tempusnet/tempus/internal/chainmodel"
	"github.com/tempusnet/tempus/internal/crypto"
	"github.com/tempusnet/tempus/internal/dagstore"
	"github.com/tempusnet/tempus/internal/ids"
	"github.com/tempusnet/tempus/internal/mempool"
	"github.com/tempusnet/tempus/internal/temporal"
)

// MaxBlockTransactions bounds the number of transactions a single
// block may carry, keeping block assembly and propagation cheap
// (spec.md §6's block-size policy).
const MaxBlockTransactions = 4096

// BlockProducer assembles new blocks once a participant wins the slot
// lottery: it pulls transactions from the mempool, anchors them to the
// current DAG tips, and attaches the window's delay-function proof
// (spec.md §4.3, §4.7).
type BlockProducer struct {
	sk      *crypto.PrivateKey
	dag     *dagstore.Store
	pool    *mempool.Pool
	resolve chainmodel.PublicKeyResolver
}

func NewBlockProducer(sk *crypto.PrivateKey, dag *dagstore.Store, pool *mempool.Pool, resolve chainmodel.PublicKeyResolver) *BlockProducer {
	return &BlockProducer{sk: sk, dag: dag, pool: pool, resolve: resolve}
}

// selectParents picks up to chainmodel.MaxParents current tips,
// deterministically ordered so two producers building on the same tip
// set at the same moment would pick the same parents.
func selectParents(tips []ids.ID) []ids.ID {
	sorted := append([]ids.ID(nil), tips...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })
	if len(sorted) > chainmodel.MaxParents {
		sorted = sorted[:chainmodel.MaxParents]
	}
	if len(sorted) < chainmodel.MinParents {
		return nil
	}
	return sorted
}

// Produce builds, signs, and returns a new block for the given slot.
// vrfOutput/vrfProof are the caller's already-evaluated winning lottery
// proof (consensus.EvaluateSelf); vdfOutput/vdfProof is the delay
// function result for window.
func (p *BlockProducer) Produce(
	slot int64,
	window uint64,
	vrfOutput [32]byte,
	vrfProof []byte,
	vdfOutput [32]byte,
	vdfProof *temporal.Proof,
) (*chainmodel.Block, error) {
	parents := selectParents(p.dag.Tips())
	if parents == nil {
		return nil, newErr("Produce", KindOrphanBlock, ErrBadEncoding)
	}

	utxo := p.dag.BestView()
	candidates := p.pool.Peek(MaxBlockTransactions)
	accepted := make([]*chainmodel.Transaction, 0, len(candidates))
	spent := make(map[chainmodel.OutputRef]struct{})
	for _, tx := range candidates {
		conflict := false
		for _, in := range tx.Inputs {
			if _, ok := spent[in.Ref]; ok {
				conflict = true
				break
			}
		}
		if conflict {
			continue
		}
		if err := chainmodel.ValidateTransaction(tx, utxo, p.resolve); err != nil {
			continue
		}
		for _, in := range tx.Inputs {
			spent[in.Ref] = struct{}{}
		}
		accepted = append(accepted, tx)
	}

	pub, err := p.sk.Public().Bytes()
	if err != nil {
		return nil, newErr("Produce", KindBadEncoding, err)
	}

	b := &chainmodel.Block{
		Version:        1,
		Parents:        parents,
		Producer:       crypto.NodeIDFromKey(pub),
		ProducerPubKey: pub,
		VRFOutput:      vrfOutput,
		VRFProof:       vrfProof,
		TxRoot:         chainmodel.MerkleRoot(accepted),
		VDFOutput:      vdfOutput,
		VDFProof:       vdfProof,
		VDFWindow:      window,
		TimestampSecs:  slot,
		Transactions:   accepted,
	}

	sig, err := p.sk.Sign(b.SigningMessage())
	if err != nil {
		return nil, newErr("Produce", KindBadEncoding, err)
	}
	b.Signature = sig
	return b, nil
}
