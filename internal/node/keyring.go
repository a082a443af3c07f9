package node

import (
	"sync"

	"github.com/tempusnet/tempus/internal/crypto"
	"github.com/tempusnet/tempus/internal/ids"
)

// keyring caches the verification keys of participants this node has
// seen: its own key, learned at construction, and each gossiped
// block's ProducerPubKey field. It serves as the chainmodel.PublicKeyResolver
// every validation call needs, and as the heartbeat-signature
// resolver, without requiring a separate registration directory
// (spec.md doesn't define one).
type keyring struct {
	mu   sync.RWMutex
	keys map[ids.NodeID]*crypto.PublicKey
}

func newKeyring() *keyring {
	return &keyring{keys: make(map[ids.NodeID]*crypto.PublicKey)}
}

// Learn records pub's owning NodeID, returning it. A no-op if the key
// was already known.
func (k *keyring) Learn(pub []byte) (ids.NodeID, error) {
	id := crypto.NodeIDFromKey(pub)
	k.mu.RLock()
	_, known := k.keys[id]
	k.mu.RUnlock()
	if known {
		return id, nil
	}
	pk, err := crypto.PublicKeyFromBytes(pub)
	if err != nil {
		return ids.NodeID{}, err
	}
	k.mu.Lock()
	k.keys[id] = pk
	k.mu.Unlock()
	return id, nil
}

// Resolve implements chainmodel.PublicKeyResolver.
func (k *keyring) Resolve(id ids.NodeID) (*crypto.PublicKey, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	pk, ok := k.keys[id]
	return pk, ok
}

// Known returns every participant NodeID this keyring has a key for,
// snapshotted for the leader lottery's total-weight estimate.
func (k *keyring) Known() []ids.NodeID {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]ids.NodeID, 0, len(k.keys))
	for id := range k.keys {
		out = append(out, id)
	}
	return out
}
