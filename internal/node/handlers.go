package node

import (
	"github.com/tempusnet/tempus/internal/chainmodel"
	"github.com/tempusnet/tempus/internal/consensus"
	"github.com/tempusnet/tempus/internal/crypto"
	"github.com/tempusnet/tempus/internal/dagstore"
	"github.com/tempusnet/tempus/internal/ids"
	"github.com/tempusnet/tempus/internal/peerlink"
	"github.com/tempusnet/tempus/internal/reputation"
)

// handlers wires every peer-link message type to the component that
// owns its semantics (spec.md §4.9's data-flow summary).
func (n *Node) handlers() peerlink.Handlers {
	return peerlink.Handlers{
		OnBlock:       n.onBlock,
		OnTransaction: n.onTransaction,
		OnHeartbeat:   n.onHeartbeat,
		OnCheckpoint:  n.onCheckpoint,
		OnRequest:     n.onRequest,
		OnResponse:    n.onResponse,
		OnDisconnect:  n.onDisconnect,
	}
}

func (n *Node) onBlock(peer ids.NodeID, b *chainmodel.Block) {
	if len(b.ProducerPubKey) > 0 {
		if _, err := n.keys.Learn(b.ProducerPubKey); err != nil {
			n.log.Warn("bad producer pubkey on gossiped block", "peer", peer.String(), "error", err)
			return
		}
	}

	opts := chainmodel.BlockValidationOptions{
		ParentExists: n.dag.Has,
		VDFInput:     n.vdf.inputFor(b.VDFWindow),
		VDFSampleQ:   n.cfg.VDFSampleQ,
		Clock:        n.clock,
	}
	if err := chainmodel.ValidateBlock(b, opts); err != nil {
		n.log.Warn("rejecting invalid block", "peer", peer.String(), "error", err)
		blockID := b.ID()
		_ = n.rep.ApplyEvent(reputation.Event{ID: crypto.Hash([]byte("invalid"), blockID[:]), Participant: b.Producer, Kind: reputation.EventInvalidBlock, Time: n.clock.Now()})
		return
	}

	if err := n.dag.Insert(b); err != nil {
		if dagstore.IsOrphan(err) {
			for _, parent := range b.Parents {
				if !n.dag.Has(parent) {
					n.requestOnce(peer, peerlink.RequestBlock, parent)
				}
			}
			return
		}
		if !dagstore.IsAlreadyKnown(err) {
			n.log.Warn("failed to insert block", "peer", peer.String(), "error", err)
		}
		return
	}

	blockID := b.ID()
	_ = n.rep.ApplyEvent(reputation.Event{ID: crypto.Hash([]byte("validated"), blockID[:]), Participant: b.Producer, Kind: reputation.EventBlockValidated, Time: n.clock.Now()})
	for _, tx := range b.Transactions {
		n.pool.Remove(tx.ID(), "included in block")
	}
	n.peers.Broadcast(peerlink.TagBlock, b.Encode())
}

func (n *Node) onTransaction(peer ids.NodeID, tx *chainmodel.Transaction) {
	if err := n.pool.Add(tx, n.dag.BestView(), n.keys.Resolve); err != nil {
		n.log.Warn("rejecting transaction", "peer", peer.String(), "error", err)
		return
	}
	n.peers.Broadcast(peerlink.TagTransaction, tx.Encode())
}

func (n *Node) onHeartbeat(peer ids.NodeID, hb *consensus.Heartbeat) {
	pk, ok := n.keys.Resolve(hb.Participant)
	if !ok || !crypto.Verify(pk, hb.SigningMessage(), hb.Signature) {
		n.log.Warn("rejecting heartbeat with unresolvable or bad signature", "peer", peer.String())
		return
	}

	now := n.clock.Now()
	n.states.Heartbeat(hb.Participant, hb.Window, now)
	_ = n.rep.ApplyEvent(reputation.Event{
		ID:          heartbeatEventID(hb.Participant, hb.Window),
		Participant: hb.Participant,
		Kind:        reputation.EventUptimeHeartbeat,
		UptimeDelta: n.cfg.FinalityInterval(),
		Time:        now,
	})

	n.hbMu.Lock()
	n.heartbeats[hb.Window] = append(n.heartbeats[hb.Window], hb)
	n.hbMu.Unlock()

	n.peers.Broadcast(peerlink.TagHeartbeat, hb.Encode())
}

func (n *Node) onCheckpoint(peer ids.NodeID, cp *consensus.Checkpoint) {
	n.cpMu.Lock()
	n.checkpoints[cp.Hash()] = cp
	n.cpMu.Unlock()
	n.forkChoice.Submit(cp)
}

func (n *Node) onRequest(peer ids.NodeID, req *peerlink.RequestMessage) *peerlink.ResponseMessage {
	resp := &peerlink.ResponseMessage{Kind: req.Kind, ID: req.ID}
	switch req.Kind {
	case peerlink.RequestBlock:
		if b, ok := n.dag.Get(req.ID); ok {
			resp.Payload = b.Encode()
		}
	case peerlink.RequestTransaction:
		if tx := n.resolveTxByID(req.ID); tx != nil {
			resp.Payload = tx.Encode()
		}
	case peerlink.RequestCheckpoint:
		n.cpMu.Lock()
		cp, ok := n.checkpoints[req.ID]
		n.cpMu.Unlock()
		if ok {
			resp.Payload = cp.Encode()
		}
	}
	return resp
}

func (n *Node) onResponse(peer ids.NodeID, resp *peerlink.ResponseMessage) {
	n.reqMu.Lock()
	delete(n.requests, resp.ID)
	n.reqMu.Unlock()

	if len(resp.Payload) == 0 {
		return
	}
	switch resp.Kind {
	case peerlink.RequestBlock:
		b, err := chainmodel.DecodeBlock(resp.Payload)
		if err != nil {
			n.log.Warn("bad block in response", "peer", peer.String(), "error", err)
			return
		}
		n.onBlock(peer, b)
	case peerlink.RequestTransaction:
		tx, err := chainmodel.DecodeTransaction(resp.Payload)
		if err != nil {
			n.log.Warn("bad transaction in response", "peer", peer.String(), "error", err)
			return
		}
		n.onTransaction(peer, tx)
	case peerlink.RequestCheckpoint:
		cp, err := consensus.DecodeCheckpoint(resp.Payload)
		if err != nil {
			n.log.Warn("bad checkpoint in response", "peer", peer.String(), "error", err)
			return
		}
		n.onCheckpoint(peer, cp)
	}
}

func (n *Node) onDisconnect(peer ids.NodeID) {
	n.log.Info("peer disconnected", "peer", peer.String())
}

// requestOnce sends a request-by-hash to peer unless one is already
// outstanding for id, avoiding duplicate asks for the same missing
// object from a burst of blocks referencing it.
func (n *Node) requestOnce(peer ids.NodeID, kind peerlink.RequestKind, id ids.ID) {
	n.reqMu.Lock()
	if _, pending := n.requests[id]; pending {
		n.reqMu.Unlock()
		return
	}
	n.requests[id] = struct{}{}
	n.reqMu.Unlock()

	req := &peerlink.RequestMessage{Kind: kind, ID: id}
	if err := n.peers.Send(peer, peerlink.TagRequest, req.Encode()); err != nil {
		n.log.Warn("failed to send request", "peer", peer.String(), "error", err)
		n.reqMu.Lock()
		delete(n.requests, id)
		n.reqMu.Unlock()
	}
}
