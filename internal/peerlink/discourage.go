package peerlink

import (
	"crypto/rand"
	"encoding/binary"
	"math"
	"net"
	"sync"

	"github.com/tempusnet/tempus/internal/crypto"
)

// DefaultDiscourageCapacity and DefaultDiscourageFalsePositiveRate size
// the rolling bloom filter tracking misbehaving addresses: enough
// capacity for a busy node's churn between rolls, with a low enough
// false-positive rate that an honest peer is never mistakenly
// deprioritized.
const (
	DefaultDiscourageCapacity          = 50_000
	DefaultDiscourageFalsePositiveRate = 0.000001
)

// discouragedFilter is a rolling bloom filter of addresses that have
// sent malformed frames: a soft, probabilistic punishment that
// deprioritizes a misbehaving address without the bookkeeping of an
// exact ban list. False positives are acceptable by construction and
// membership cannot be enumerated, so the filter itself leaks no list
// of who has misbehaved.
type discouragedFilter struct {
	mu sync.Mutex

	bits       []uint64
	nHash      uint32
	maxElems   uint32
	nElems     uint32
	generation uint32
	tweak      uint64
}

func newDiscouragedFilter(maxElements uint32, falsePositiveRate float64) *discouragedFilter {
	if maxElements == 0 {
		maxElements = DefaultDiscourageCapacity
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = DefaultDiscourageFalsePositiveRate
	}

	nBits := int(math.Ceil(-1.0 / (math.Ln2 * math.Ln2) * float64(maxElements) * math.Log(falsePositiveRate)))
	if nBits < 64 {
		nBits = 64
	}
	nWords := (nBits + 63) / 64

	nHash := int(math.Round(float64(nWords) * 64 / float64(maxElements) * math.Ln2))
	if nHash < 1 {
		nHash = 1
	}
	if nHash > 50 {
		nHash = 50
	}

	var tweakBuf [8]byte
	if _, err := rand.Read(tweakBuf[:]); err != nil {
		// A predictable tweak only weakens resistance to an adversary
		// crafting addresses that collide in the filter; it does not
		// affect correctness of the discouragement signal itself.
		binary.BigEndian.PutUint64(tweakBuf[:], 0x9e3779b97f4a7c15)
	}

	return &discouragedFilter{
		bits:       make([]uint64, nWords*2),
		nHash:      uint32(nHash),
		maxElems:   maxElements,
		generation: 1,
		tweak:      binary.BigEndian.Uint64(tweakBuf[:]),
	}
}

func addrKey(addr net.IP) []byte {
	if v4 := addr.To4(); v4 != nil {
		return v4
	}
	return addr.To16()
}

func (f *discouragedFilter) half() int { return len(f.bits) / 2 }

func (f *discouragedFilter) hashBit(i uint32, key []byte) int {
	var buf [9]byte
	binary.BigEndian.PutUint64(buf[:8], f.tweak+uint64(i))
	h := crypto.Hash(buf[:8], key)
	v := binary.BigEndian.Uint64(h[:8])
	return int(v % uint64(f.half()*64))
}

// roll starts a fresh generation, clearing the older of the two
// generations the filter keeps so recently-discouraged addresses stay
// flagged while ancient ones age out.
func (f *discouragedFilter) roll() {
	f.generation++
	half := f.half()
	if f.generation%2 == 1 {
		for i := 0; i < half; i++ {
			f.bits[i] = 0
		}
	} else {
		for i := half; i < len(f.bits); i++ {
			f.bits[i] = 0
		}
	}
	f.nElems = 0
}

// Add flags addr as discouraged.
func (f *discouragedFilter) Add(addr net.IP) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nElems >= f.maxElems {
		f.roll()
	}

	key := addrKey(addr)
	half := f.half()
	offset := 0
	if f.generation%2 == 0 {
		offset = half
	}
	for i := uint32(0); i < f.nHash; i++ {
		bit := f.hashBit(i, key)
		word := offset + bit/64
		f.bits[word] |= 1 << uint(bit%64)
	}
	f.nElems++
}

// Contains reports whether addr has been flagged as discouraged,
// checking both the current and previous generation.
func (f *discouragedFilter) Contains(addr net.IP) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := addrKey(addr)
	half := f.half()
	for _, offset := range [2]int{0, half} {
		hit := true
		for i := uint32(0); i < f.nHash; i++ {
			bit := f.hashBit(i, key)
			word := offset + bit/64
			if f.bits[word]&(1<<uint(bit%64)) == 0 {
				hit = false
				break
			}
		}
		if hit {
			return true
		}
	}
	return false
}
