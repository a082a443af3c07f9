// Package mempool implements spec.md §4.5's bounded, priority-ordered
// pending-transaction pool: admission against the current best-view
// unspent set, fee-per-byte-then-arrival-time priority ordering,
// conflict eviction, 24-hour expiry, and added/removed notifications
// for the consensus core.
package mempool

import (
	"bytes"
	"sync"
	"time"

	"github.com/google/btree"
	metric "github.com/luxfi/metric"

	"github.com/tempusnet/tempus/internal/chainmodel"
	"github.com/tempusnet/tempus/internal/ids"
)

const defaultTreeDegree = 32

// Expiry is how long an admitted entry may sit in the pool before it
// is dropped unconfirmed (spec.md §4.5).
const Expiry = 24 * time.Hour

// EventKind tags a pool notification.
type EventKind int

const (
	EventAdded EventKind = iota
	EventRemoved
)

// Event is published to every subscriber whenever an entry enters or
// leaves the pool.
type Event struct {
	Kind   EventKind
	Tx     *chainmodel.Transaction
	Reason string
}

type entry struct {
	tx         *chainmodel.Transaction
	id         ids.ID
	size       int
	feePerByte float64
	arrival    time.Time
}

// Less orders entries by descending fee-per-byte, then ascending
// arrival time, then transaction ID, matching the btree.LessFunc
// convention of the teacher's ordered-index types (state.Staker.Less).
func (e *entry) Less(than *entry) bool {
	if e.feePerByte != than.feePerByte {
		return e.feePerByte > than.feePerByte
	}
	if !e.arrival.Equal(than.arrival) {
		return e.arrival.Before(than.arrival)
	}
	return bytes.Compare(e.id[:], than.id[:]) < 0
}

// Pool is the bounded priority pool of pending transactions.
type Pool struct {
	mu sync.Mutex

	maxBytes  int
	usedBytes int

	byID    map[ids.ID]*entry
	byPrio  *btree.BTreeG[*entry]
	spentBy map[chainmodel.OutputRef]ids.ID

	listeners []func(Event)

	numTxs    metric.Gauge
	bytesUsed metric.Gauge
}

// New constructs an empty pool bounded to maxBytes of total
// transaction payload. Pass a registry to expose size gauges; nil
// skips metrics registration.
func New(maxBytes int, registry metric.Registry) *Pool {
	p := &Pool{
		maxBytes: maxBytes,
		byID:     make(map[ids.ID]*entry),
		byPrio:   btree.NewG(defaultTreeDegree, (*entry).Less),
		spentBy:  make(map[chainmodel.OutputRef]ids.ID),
	}
	if registry != nil {
		m := metric.NewWithRegistry("mempool", registry)
		p.numTxs = m.NewGauge("num_txs", "number of transactions currently pooled")
		p.bytesUsed = m.NewGauge("bytes_used", "total payload bytes currently pooled")
	}
	return p
}

// Subscribe registers fn to be called, synchronously, whenever an
// entry is added to or removed from the pool.
func (p *Pool) Subscribe(fn func(Event)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

func (p *Pool) publish(ev Event) {
	for _, fn := range p.listeners {
		fn(ev)
	}
}

// Add validates tx against utxo and admits it to the pool. A
// conflicting input ref already committed to a lower-fee-per-byte
// entry is evicted; a conflict against an equal-or-higher priority
// entry is rejected.
func (p *Pool) Add(tx *chainmodel.Transaction, utxo chainmodel.UTXOView, resolvePubKey chainmodel.PublicKeyResolver) error {
	if err := chainmodel.ValidateTransaction(tx, utxo, resolvePubKey); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	id := tx.ID()
	if _, ok := p.byID[id]; ok {
		return newErr("Add", KindDuplicate, ErrDuplicate)
	}

	size := len(tx.Encode())
	var fee float64
	if size > 0 {
		fee = float64(tx.Fee) / float64(size)
	}
	e := &entry{tx: tx, id: id, size: size, feePerByte: fee, arrival: time.Now().UTC()}

	var toEvict []*entry
	for _, in := range tx.Inputs {
		if conflictID, ok := p.spentBy[in.Ref]; ok {
			conflict := p.byID[conflictID]
			if conflict.feePerByte >= e.feePerByte {
				return newErr("Add", KindConflict, ErrNotEvicting)
			}
			toEvict = append(toEvict, conflict)
		}
	}
	for _, victim := range toEvict {
		p.removeLocked(victim, "outbid by conflicting input")
	}

	for p.usedBytes+size > p.maxBytes {
		lowest, ok := p.byPrio.Max()
		if !ok || lowest.feePerByte > e.feePerByte ||
			(lowest.feePerByte == e.feePerByte && !e.Less(lowest)) {
			return newErr("Add", KindFull, ErrFull)
		}
		p.removeLocked(lowest, "evicted to make room for higher priority entry")
	}

	p.byID[id] = e
	p.byPrio.ReplaceOrInsert(e)
	for _, in := range tx.Inputs {
		p.spentBy[in.Ref] = id
	}
	p.usedBytes += size
	p.updateMetricsLocked()
	p.publish(Event{Kind: EventAdded, Tx: tx})
	return nil
}

func (p *Pool) removeLocked(e *entry, reason string) {
	delete(p.byID, e.id)
	p.byPrio.Delete(e)
	for _, in := range e.tx.Inputs {
		if p.spentBy[in.Ref] == e.id {
			delete(p.spentBy, in.Ref)
		}
	}
	p.usedBytes -= e.size
	p.updateMetricsLocked()
	p.publish(Event{Kind: EventRemoved, Tx: e.tx, Reason: reason})
}

func (p *Pool) updateMetricsLocked() {
	if p.numTxs != nil {
		p.numTxs.Set(float64(len(p.byID)))
	}
	if p.bytesUsed != nil {
		p.bytesUsed.Set(float64(p.usedBytes))
	}
}

// Remove drops id from the pool, if present.
func (p *Pool) Remove(id ids.ID, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.byID[id]; ok {
		p.removeLocked(e, reason)
	}
}

// Has reports whether id is currently pooled.
func (p *Pool) Has(id ids.ID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.byID[id]
	return ok
}

// Len returns the current number of pooled transactions.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byID)
}

// Peek returns up to n pending transactions in priority order,
// highest fee-per-byte first, for block production.
func (p *Pool) Peek(n int) []*chainmodel.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()

	result := make([]*chainmodel.Transaction, 0, n)
	p.byPrio.Ascend(func(e *entry) bool {
		if len(result) >= n {
			return false
		}
		result = append(result, e.tx)
		return true
	})
	return result
}

// ExpireBefore drops every entry whose arrival time is more than
// Expiry before now, returning the dropped transaction IDs.
func (p *Pool) ExpireBefore(now time.Time) []ids.ID {
	p.mu.Lock()
	defer p.mu.Unlock()

	var expired []*entry
	p.byPrio.Ascend(func(e *entry) bool {
		if now.Sub(e.arrival) > Expiry {
			expired = append(expired, e)
		}
		return true
	})

	ids := make([]ids.ID, 0, len(expired))
	for _, e := range expired {
		ids = append(ids, e.id)
		p.removeLocked(e, "expired")
	}
	return ids
}
