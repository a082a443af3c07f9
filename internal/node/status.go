package node

import (
	"github.com/tempusnet/tempus/internal/consensus"
	"github.com/tempusnet/tempus/internal/ids"
)

// Status is a read-only snapshot of this node's view of the network,
// for external interfaces (spec.md §4.9's "exposing read-only views").
type Status struct {
	NodeID           ids.NodeID
	PeerCount        int
	TipCount         int
	CurrentWindow    uint64
	ParticipantState string
	ReputationScore  float64
	LatestCheckpoint ids.ID
	LatestFinality   consensus.FinalityLevel
}

// Status returns a point-in-time snapshot of the node's state.
func (n *Node) Status() Status {
	now := n.clock.Now()
	latest := n.finality.LatestHash()
	return Status{
		NodeID:           n.nodeID,
		PeerCount:        n.peers.PeerCount(),
		TipCount:         len(n.dag.Tips()),
		CurrentWindow:    n.clock.CurrentWindow(),
		ParticipantState: n.states.State(n.nodeID, now).String(),
		ReputationScore:  n.rep.Score(n.nodeID, now),
		LatestCheckpoint: latest,
		LatestFinality:   n.finality.Level(latest),
	}
}
