// Package dagstore implements spec.md §4.6's block-DAG persistence:
// durable block storage and the best-view unspent-output set, the
// ancestry and anticone queries the consensus core needs, the tip
// set, and a bounded orphan cache for blocks that arrive before their
// parents (§4.6 `insert`). The deterministic blue/red linearization
// rule used for finality lives alongside it in ordering.go.
//
// Grounded on Vigneshboobathy-dag_rte/dag/dag.go's node-repository
// shape (an in-memory parent/child index backed by a small
// persistence interface) and this module's own internal/store
// LevelDB wrapper for the durable half.
package dagstore

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	metric "github.com/luxfi/metric"

	"github.com/tempusnet/tempus/internal/chainmodel"
	"github.com/tempusnet/tempus/internal/ids"
	"github.com/tempusnet/tempus/internal/issuance"
	"github.com/tempusnet/tempus/internal/store"
	"github.com/tempusnet/tempus/utils/wrappers"
)

var (
	blockKeyPrefix = []byte("dag/blk/")
	utxoKeyPrefix  = []byte("dag/utxo/")
)

// DefaultOrphanCacheSize bounds the number of blocks held pending
// their parents (spec.md §4.6: "bounded orphan cache").
const DefaultOrphanCacheSize = 4096

// EquivocationObserver is invoked synchronously from Insert whenever a
// producer is found to have signed two distinct blocks for the same
// slot (spec.md §3, §4.7). The store only detects the condition;
// raising the reputation event and quarantine is the reputation
// engine's responsibility, wired in by the caller (internal/node).
type EquivocationObserver func(producer ids.NodeID, slot int64, first, second ids.ID)

type blockMeta struct {
	block    *chainmodel.Block
	parents  []ids.ID
	children []ids.ID
	window   uint64
}

// Store is spec.md §4.6's DAG store.
type Store struct {
	mu sync.RWMutex

	db             *store.DB
	intervalSecs   uint64
	orphanCapacity int

	blocks map[ids.ID]*blockMeta
	tips   ids.Set

	utxo map[chainmodel.OutputRef]chainmodel.UnspentOutput

	acceptedCount uint64
	issuedSupply  uint64

	slotProducer map[ids.NodeID]map[int64]ids.ID
	onEquivocate EquivocationObserver

	orphans         *lru.Cache[ids.ID, *chainmodel.Block]
	orphanWaitingOn map[ids.ID][]ids.ID

	tipsGauge     metric.Gauge
	orphansGauge  metric.Gauge
	blocksGauge   metric.Gauge
	issuanceGauge metric.Gauge
}

// New constructs a DAG store backed by db. finalityInterval must match
// the BoundaryClock's interval: block windows are computed the same
// way so the checkpoint scan in ordering.go agrees with the temporal
// engine. Pass a registry to expose tip/orphan/block-count gauges;
// nil skips metrics registration.
func New(db *store.DB, finalityInterval time.Duration, orphanCapacity int, registry metric.Registry) (*Store, error) {
	if orphanCapacity <= 0 {
		orphanCapacity = DefaultOrphanCacheSize
	}
	s := &Store{
		db:             db,
		intervalSecs:   uint64(finalityInterval / time.Second),
		orphanCapacity: orphanCapacity,
		blocks:         make(map[ids.ID]*blockMeta),
		tips:           ids.NewSet(),
		utxo:           make(map[chainmodel.OutputRef]chainmodel.UnspentOutput),
		slotProducer:   make(map[ids.NodeID]map[int64]ids.ID),
		orphanWaitingOn: make(map[ids.ID][]ids.ID),
	}
	if s.intervalSecs == 0 {
		s.intervalSecs = 1
	}

	cache, err := lru.NewWithEvict(orphanCapacity, func(id ids.ID, _ *chainmodel.Block) {
		delete(s.orphanWaitingOn, id)
	})
	if err != nil {
		return nil, newErr("New", KindWriteFailed, err)
	}
	s.orphans = cache

	if registry != nil {
		m := metric.NewWithRegistry("dagstore", registry)
		s.tipsGauge = m.NewGauge("tips", "number of current DAG tips")
		s.orphansGauge = m.NewGauge("orphans", "number of blocks queued in the orphan cache")
		s.blocksGauge = m.NewGauge("blocks", "number of blocks accepted into the DAG")
		s.issuanceGauge = m.NewGauge("issued_supply", "total base units minted so far")
	}
	return s, nil
}

// AcceptedCount returns the number of blocks accepted into the DAG so
// far, the counter issuance.BlockReward's halving schedule runs on.
func (s *Store) AcceptedCount() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.acceptedCount
}

// IssuedSupply returns the total base units minted by block rewards
// so far.
func (s *Store) IssuedSupply() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.issuedSupply
}

// SetEquivocationObserver registers fn to be called whenever Insert
// detects equivocation. Only one observer is supported; a later call
// replaces the earlier one.
func (s *Store) SetEquivocationObserver(fn EquivocationObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEquivocate = fn
}

func (s *Store) windowOf(secs int64) uint64 {
	if secs < 0 {
		secs = 0
	}
	return uint64(secs) / s.intervalSecs
}

// Has reports whether id is a known, accepted block.
func (s *Store) Has(id ids.ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blocks[id]
	return ok
}

// Get returns the accepted block for id.
func (s *Store) Get(id ids.ID) (*chainmodel.Block, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.blocks[id]
	if !ok {
		return nil, false
	}
	return m.block, true
}

// Insert accepts block into the DAG, per spec.md §4.6: if every
// parent is already known, the block and its transactions are applied
// and it joins the tip set; if any parent is missing, the block is
// queued in the bounded orphan cache instead of being rejected.
// Re-inserting an already-accepted block returns IsAlreadyKnown(err).
func (s *Store) Insert(block *chainmodel.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(block)
}

func (s *Store) insertLocked(block *chainmodel.Block) error {
	id := block.ID()
	if _, ok := s.blocks[id]; ok {
		return newErr("Insert", KindAlreadyKnown, ErrAlreadyKnown)
	}
	if _, ok := s.orphans.Get(id); ok {
		return newErr("Insert", KindOrphan, ErrOrphan)
	}

	var missing []ids.ID
	for _, parent := range block.Parents {
		if parent == ids.Empty {
			continue
		}
		if _, ok := s.blocks[parent]; !ok {
			missing = append(missing, parent)
		}
	}
	if len(missing) > 0 {
		if s.orphans.Len() >= s.orphanCapacity {
			if !s.orphans.Contains(id) {
				return newErr("Insert", KindOrphanCacheFull, ErrOrphanCacheFull)
			}
		}
		s.orphans.Add(id, block)
		for _, parent := range missing {
			s.orphanWaitingOn[parent] = append(s.orphanWaitingOn[parent], id)
		}
		if s.orphansGauge != nil {
			s.orphansGauge.Set(float64(s.orphans.Len()))
		}
		return newErr("Insert", KindOrphan, ErrOrphan)
	}

	s.detectEquivocationLocked(block, id)
	s.applyTransactionsLocked(block)
	s.applyIssuanceLocked(block, id)
	s.persistLocked(block, id)

	meta := &blockMeta{block: block, parents: block.Parents, window: s.windowOf(block.TimestampSecs)}
	s.blocks[id] = meta
	for _, parent := range block.Parents {
		if parent == ids.Empty {
			continue
		}
		pm := s.blocks[parent]
		pm.children = append(pm.children, id)
		s.tips.Remove(parent)
	}
	s.tips.Add(id)

	if s.tipsGauge != nil {
		s.tipsGauge.Set(float64(s.tips.Len()))
	}
	if s.blocksGauge != nil {
		s.blocksGauge.Set(float64(len(s.blocks)))
	}

	s.promoteOrphansLocked(id)
	return nil
}

func (s *Store) detectEquivocationLocked(block *chainmodel.Block, id ids.ID) {
	slot := block.Slot()
	bySlot, ok := s.slotProducer[block.Producer]
	if !ok {
		bySlot = make(map[int64]ids.ID)
		s.slotProducer[block.Producer] = bySlot
	}
	if prev, ok := bySlot[slot]; ok && prev != id {
		if s.onEquivocate != nil {
			s.onEquivocate(block.Producer, slot, prev, id)
		}
		return
	}
	bySlot[slot] = id
}

func (s *Store) applyTransactionsLocked(block *chainmodel.Block) {
	for _, tx := range block.Transactions {
		txID := tx.ID()
		for _, in := range tx.Inputs {
			delete(s.utxo, in.Ref)
			if s.db != nil {
				_ = s.db.Delete(utxoKey(in.Ref))
			}
		}
		for i, out := range tx.Outputs {
			ref := chainmodel.OutputRef{TxID: txID, Index: uint32(i)}
			uo := chainmodel.UnspentOutput{Owner: out.Recipient, Amount: out.Amount, Tier: out.Tier, BirthTime: block.Timestamp()}
			s.utxo[ref] = uo
			if s.db != nil {
				_ = s.db.Put(utxoKey(ref), encodeUnspentOutput(uo))
			}
		}
	}
}

// applyIssuanceLocked mints this block's reward (spec.md §6) as a new
// unspent output owned by its producer, keyed by the block's own ID
// rather than a transaction ID since the reward isn't carried by any
// transaction in the block.
func (s *Store) applyIssuanceLocked(block *chainmodel.Block, id ids.ID) {
	reward := issuance.BlockReward(s.acceptedCount, s.issuedSupply)
	s.acceptedCount++
	if reward == 0 {
		return
	}
	s.issuedSupply += reward

	ref := chainmodel.OutputRef{TxID: id, Index: 0}
	uo := chainmodel.UnspentOutput{Owner: block.Producer, Amount: reward, Tier: chainmodel.TierT0, BirthTime: block.Timestamp()}
	s.utxo[ref] = uo
	if s.db != nil {
		_ = s.db.Put(utxoKey(ref), encodeUnspentOutput(uo))
	}
	if s.issuanceGauge != nil {
		s.issuanceGauge.Set(float64(s.issuedSupply))
	}
}

func (s *Store) persistLocked(block *chainmodel.Block, id ids.ID) {
	if s.db == nil {
		return
	}
	_ = s.db.Put(blockKey(id), block.Encode())
}

func (s *Store) promoteOrphansLocked(id ids.ID) {
	waiting := s.orphanWaitingOn[id]
	delete(s.orphanWaitingOn, id)
	for _, orphanID := range waiting {
		block, ok := s.orphans.Get(orphanID)
		if !ok {
			continue
		}
		ready := true
		for _, parent := range block.Parents {
			if parent == ids.Empty {
				continue
			}
			if _, ok := s.blocks[parent]; !ok {
				ready = false
				break
			}
		}
		if !ready {
			continue
		}
		s.orphans.Remove(orphanID)
		_ = s.insertLocked(block)
	}
	if s.orphansGauge != nil {
		s.orphansGauge.Set(float64(s.orphans.Len()))
	}
}

// Tips returns the current tip set: blocks with no known descendants.
func (s *Store) Tips() []ids.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tips.List()
}

// AncestorsOf returns every accepted ancestor of id (not including id
// itself).
func (s *Store) AncestorsOf(id ids.ID) (ids.Set, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.blocks[id]; !ok {
		return nil, newErr("AncestorsOf", KindNotFound, ErrNotFound)
	}
	out := ids.NewSet()
	s.walk(id, out, func(m *blockMeta) []ids.ID { return m.parents })
	return out, nil
}

// DescendantsOf returns every accepted descendant of id (not including
// id itself).
func (s *Store) DescendantsOf(id ids.ID) (ids.Set, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.blocks[id]; !ok {
		return nil, newErr("DescendantsOf", KindNotFound, ErrNotFound)
	}
	out := ids.NewSet()
	s.walk(id, out, func(m *blockMeta) []ids.ID { return m.children })
	return out, nil
}

func (s *Store) walk(start ids.ID, out ids.Set, next func(*blockMeta) []ids.ID) {
	queue := next(s.blocks[start])
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == ids.Empty || out.Contains(cur) {
			continue
		}
		out.Add(cur)
		m, ok := s.blocks[cur]
		if !ok {
			continue
		}
		queue = append(queue, next(m)...)
	}
}

// CommonAncestors returns the set of blocks that are ancestors of both
// a and b.
func (s *Store) CommonAncestors(a, b ids.ID) (ids.Set, error) {
	anA, err := s.AncestorsOf(a)
	if err != nil {
		return nil, err
	}
	anB, err := s.AncestorsOf(b)
	if err != nil {
		return nil, err
	}
	out := ids.NewSet()
	for id := range anA {
		if anB.Contains(id) {
			out.Add(id)
		}
	}
	return out, nil
}

// Anticone returns every accepted block that is neither an ancestor
// nor a descendant of id (GLOSSARY).
func (s *Store) Anticone(id ids.ID) (ids.Set, error) {
	s.mu.RLock()
	if _, ok := s.blocks[id]; !ok {
		s.mu.RUnlock()
		return nil, newErr("Anticone", KindNotFound, ErrNotFound)
	}
	all := make([]ids.ID, 0, len(s.blocks))
	for other := range s.blocks {
		all = append(all, other)
	}
	s.mu.RUnlock()

	ancestors, err := s.AncestorsOf(id)
	if err != nil {
		return nil, err
	}
	descendants, err := s.DescendantsOf(id)
	if err != nil {
		return nil, err
	}
	out := ids.NewSet()
	for _, other := range all {
		if other == id || ancestors.Contains(other) || descendants.Contains(other) {
			continue
		}
		out.Add(other)
	}
	return out, nil
}

// utxoView adapts Store to chainmodel.UTXOView.
type utxoView struct{ s *Store }

func (v utxoView) Get(ref chainmodel.OutputRef) (chainmodel.UnspentOutput, bool) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	o, ok := v.s.utxo[ref]
	return o, ok
}

// BestView returns the current best-view unspent-output set (spec.md
// §4.6) for mempool admission and consensus block production.
func (s *Store) BestView() chainmodel.UTXOView { return utxoView{s} }

func blockKey(id ids.ID) []byte {
	return append(append([]byte{}, blockKeyPrefix...), id[:]...)
}

func utxoKey(ref chainmodel.OutputRef) []byte {
	k := make([]byte, 0, len(utxoKeyPrefix)+ids.IDLen+4)
	k = append(k, utxoKeyPrefix...)
	k = append(k, ref.TxID[:]...)
	p := &wrappers.Packer{MaxSize: 16, Bytes: k}
	p.Offset = len(k)
	p.PackInt(ref.Index)
	return p.Bytes
}

func encodeUnspentOutput(o chainmodel.UnspentOutput) []byte {
	p := &wrappers.Packer{MaxSize: 1 << 12, Bytes: make([]byte, 0, 64)}
	p.PackFixedBytes(o.Owner[:])
	p.PackLong(o.Amount)
	p.PackByte(byte(o.Tier))
	p.PackLong(uint64(o.BirthTime.UnixNano()))
	return p.Bytes
}
