package node

import (
	"encoding/binary"
	"time"

	"github.com/tempusnet/tempus/internal/consensus"
	"github.com/tempusnet/tempus/internal/crypto"
	"github.com/tempusnet/tempus/internal/ids"
	"github.com/tempusnet/tempus/internal/peerlink"
	"github.com/tempusnet/tempus/internal/reputation"
)

// heartbeatEventID derives the reputation event ID for a heartbeat,
// one per (participant, window) pair so a duplicate broadcast or
// replay of the same heartbeat never double-counts uptime.
func heartbeatEventID(participant ids.NodeID, window uint64) ids.ID {
	var w [8]byte
	binary.BigEndian.PutUint64(w[:], window)
	return crypto.Hash([]byte("heartbeat"), participant[:], w[:])
}

// checkpointGracePeriod is how long a node waits after broadcasting
// its own checkpoint candidate for a window before resolving fork
// choice and accepting a winner, giving competing candidates from
// other participants time to arrive (spec.md §4.7's same-boundary
// fork-choice rule).
const checkpointGracePeriod = 2 * time.Second

// windowLoop fires once per UTC finality boundary: it emits this
// node's heartbeat and checkpoint candidate for the window that just
// closed, and advances the delay-function chain into the window that
// just opened.
func (n *Node) windowLoop() {
	defer n.wg.Done()

	for {
		wait := time.Duration(n.clock.SecondsToNextBoundary() * float64(time.Second))
		if wait <= 0 {
			wait = time.Millisecond
		}
		select {
		case <-n.stopCh:
			return
		case <-time.After(wait):
		}

		current := n.clock.CurrentWindow()
		if current == 0 {
			n.advanceVDF(current)
			continue
		}
		closed := current - 1

		n.emitHeartbeat(closed)
		n.emitCheckpointCandidate(closed)
		n.advanceVDF(current)
	}
}

func (n *Node) advanceVDF(window uint64) {
	if _, _, ok := n.vdf.Get(window); ok {
		return
	}
	if _, _, err := n.vdf.Advance(window); err != nil {
		n.log.Warn("delay-function proof failed", "window", window, "error", err)
	}
}

func (n *Node) emitHeartbeat(window uint64) {
	output, proof, ok := n.vdf.Get(window)
	tier := consensus.Tier(n.cfg.ParticipantTier)

	hb := &consensus.Heartbeat{
		Participant: n.nodeID,
		Window:      window,
		Tier:        tier,
		Timestamp:   n.clock.Now(),
		SourceTag:   "tempusd",
	}
	if tier == consensus.Tier1 && ok {
		hb.VDFOutput = output
		hb.VDFProof = proof
	}

	sig, err := n.sk.Sign(hb.SigningMessage())
	if err != nil {
		n.log.Warn("failed to sign heartbeat", "error", err)
		return
	}
	hb.Signature = sig

	n.states.Heartbeat(n.nodeID, window, n.clock.Now())
	_ = n.rep.ApplyEvent(reputation.Event{
		ID:          heartbeatEventID(n.nodeID, window),
		Participant: n.nodeID,
		Kind:        reputation.EventUptimeHeartbeat,
		UptimeDelta: n.cfg.FinalityInterval(),
		Time:        n.clock.Now(),
	})

	n.hbMu.Lock()
	n.heartbeats[window] = append(n.heartbeats[window], hb)
	n.hbMu.Unlock()

	n.peers.Broadcast(peerlink.TagHeartbeat, hb.Encode())
}

func (n *Node) emitCheckpointCandidate(window uint64) {
	n.hbMu.Lock()
	heartbeats := append([]*consensus.Heartbeat(nil), n.heartbeats[window]...)
	delete(n.heartbeats, window)
	n.hbMu.Unlock()

	boundary := n.clock.BoundaryOf(window)
	cp, err := n.finality.EmitCheckpoint(boundary, window, heartbeats)
	if err != nil {
		n.log.Warn("failed to emit checkpoint", "window", window, "error", err)
		return
	}

	n.cpMu.Lock()
	n.checkpoints[cp.Hash()] = cp
	n.cpMu.Unlock()

	n.forkChoice.Submit(cp)
	n.peers.Broadcast(peerlink.TagCheckpoint, cp.Encode())

	n.wg.Add(1)
	go n.resolveCheckpoint(window)
}

func (n *Node) resolveCheckpoint(window uint64) {
	defer n.wg.Done()
	select {
	case <-n.stopCh:
		return
	case <-time.After(checkpointGracePeriod):
	}

	winner, err := n.forkChoice.Resolve(window)
	if err != nil {
		n.log.Warn("checkpoint fork choice failed", "window", window, "error", err)
		return
	}
	n.finality.Accept(winner)
}

// lotterySlotInterval is spec.md §4.7's one-second UTC leader-lottery
// tick.
const lotterySlotInterval = 1 * time.Second

// lotteryLoop evaluates this node's VRF leader lottery once per slot
// and, on a win, produces and gossips a new block. Only Tier1
// participants (those running the delay-function engine) compete
// (internal/consensus's resolution of the tier/lottery Open Question).
func (n *Node) lotteryLoop() {
	defer n.wg.Done()

	ticker := time.NewTicker(lotterySlotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.stopCh:
			return
		case <-ticker.C:
		}

		if consensus.Tier(n.cfg.ParticipantTier) != consensus.Tier1 {
			continue
		}
		n.tryProduceBlock()
	}
}

func (n *Node) tryProduceBlock() {
	now := n.clock.Now()
	slot := now.Unix()
	window := n.clock.CurrentWindow()

	vdfOutput, vdfProof, ok := n.vdf.Get(window)
	if !ok {
		return
	}

	tightened := n.influx.Tightened(now)
	totalWeight := n.eligibleWeight(n.nodeID, now, tightened)
	for _, id := range n.keys.Known() {
		if id == n.nodeID {
			continue
		}
		totalWeight += n.eligibleWeight(id, now, tightened)
	}
	if totalWeight == 0 {
		return
	}
	ownWeight := n.eligibleWeight(n.nodeID, now, tightened)
	if ownWeight == 0 {
		return
	}

	seed := consensus.SlotSeed(n.finality.LatestHash(), slot)
	won, output, proof, err := consensus.EvaluateSelf(n.sk, seed, ownWeight, totalWeight)
	if err != nil {
		n.log.Warn("VRF evaluation failed", "error", err)
		return
	}
	if !won {
		return
	}

	b, err := n.producer.Produce(slot, window, output, proof, vdfOutput, vdfProof)
	if err != nil {
		n.log.Warn("block production failed", "slot", slot, "error", err)
		return
	}

	if err := n.dag.Insert(b); err != nil {
		n.log.Warn("failed to insert own block", "error", err)
		return
	}
	blockID := b.ID()
	_ = n.rep.ApplyEvent(reputation.Event{ID: crypto.Hash([]byte("produced"), blockID[:]), Participant: n.nodeID, Kind: reputation.EventBlockProduced, Time: now})
	for _, tx := range b.Transactions {
		n.pool.Remove(tx.ID(), "included in block")
	}
	n.peers.Broadcast(peerlink.TagBlock, b.Encode())
}

// eligibleWeight computes id's current lottery weight, or 0 if id is
// not currently eligible to compete (spec.md §4.7).
func (n *Node) eligibleWeight(id ids.NodeID, now time.Time, tightened bool) uint64 {
	if !n.states.Eligible(id, now) {
		return 0
	}
	score := n.rep.Score(id, now)
	age := n.states.Age(id, now)
	return consensus.EligibleWeight(score, age, tightened)
}
