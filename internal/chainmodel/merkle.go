package chainmodel

import (
	"github.com/tempusnet/tempus/internal/crypto"
	"github.com/tempusnet/tempus/internal/ids"
)

var leafPrefix = []byte{0x00}
var nodePrefix = []byte{0x01}

// MerkleRoot computes a deterministic SHA3-256 Merkle root over a set
// of transactions (spec.md §4.3). Leaves are domain-separated from
// internal nodes to avoid second-preimage ambiguity between a leaf and
// a two-child subtree hash.
func MerkleRoot(txs []*Transaction) ids.ID {
	if len(txs) == 0 {
		return crypto.Hash(leafPrefix)
	}
	level := make([]ids.ID, len(txs))
	for i, tx := range txs {
		level[i] = crypto.Hash(leafPrefix, tx.Encode())
	}
	for len(level) > 1 {
		next := make([]ids.ID, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, crypto.Hash(nodePrefix, level[i][:], level[i+1][:]))
			} else {
				// Odd node out promotes unchanged to the next level,
				// rather than duplicating itself, so an attacker can't
				// forge an equal root by appending a duplicate leaf.
				next = append(next, level[i])
			}
		}
		level = next
	}
	return level[0]
}
