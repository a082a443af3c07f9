package crypto

import (
	"golang.org/x/crypto/sha3"

	"github.com/tempusnet/tempus/internal/ids"
)

// Hash computes the SHA3-256 digest of the concatenation of all parts.
// It is the canonical hash used for identifiers and Merkle roots
// (spec.md §4.1).
func Hash(parts ...[]byte) ids.ID {
	h := sha3.New256()
	for _, p := range parts {
		h.Write(p)
	}
	var out ids.ID
	h.Sum(out[:0])
	return out
}

// Shake256 derives an arbitrary-length output from the concatenation of
// parts using SHAKE256, the XOF that underlies the VRF construction and
// the temporal proof engine's sequential hash core.
func Shake256(outLen int, parts ...[]byte) []byte {
	xof := sha3.NewShake256()
	for _, p := range parts {
		xof.Write(p)
	}
	out := make([]byte, outLen)
	if _, err := xof.Read(out); err != nil {
		// sha3's ShakeHash.Read never errors; this would only trip on a
		// broken XOF implementation.
		panic(err)
	}
	return out
}

// NodeIDFromKey derives the 20-byte participant identifier from a
// public verification key: the low NodeIDLen bytes of Hash(key).
func NodeIDFromKey(pub []byte) ids.NodeID {
	digest := Hash(pub)
	var n ids.NodeID
	copy(n[:], digest[ids.IDLen-ids.NodeIDLen:])
	return n
}
