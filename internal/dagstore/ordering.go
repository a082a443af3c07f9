package dagstore

import (
	"errors"
	"sort"

	"github.com/tempusnet/tempus/internal/crypto"
	"github.com/tempusnet/tempus/internal/ids"
)

// DefaultPhantomK is spec.md §4.6 and §6's phantom_k default: the
// maximum number of already-blue blocks a block may have in its
// anticone and still be admitted to the blue set.
const DefaultPhantomK = 8

var errCycle = errors.New("dagstore: block graph is not acyclic")

// ghostInfo is a block's per-linearization-pass GHOSTDAG-style state:
// which parent it selected as its backbone predecessor, and the blue
// set accumulated along that backbone up to and including this block.
//
// Storing the full blue set per block (rather than a compact summary
// bitset) is the simplification spec.md §9 explicitly allows ("this is
// an implementation choice; the specification requires only the
// resulting ordering"); it trades memory for clarity at the scale this
// reference engine targets.
type ghostInfo struct {
	selectedParent ids.ID
	hasParent      bool
	blueSet        ids.Set
	blueScore      int
}

// Linearize computes the deterministic total order over every block
// currently known to the store (spec.md §4.6, GLOSSARY "Blue set"):
// blocks are partitioned into blue and red with maximum anticone
// parameter k (a block is blue if at most k blocks in its anticone are
// already blue); the blue set is built greedily along the
// selected-parent chain of the heaviest tip; blue blocks are sorted
// topologically and red blocks are inserted directly after their
// latest blue ancestor, ties broken by smaller block hash.
func (s *Store) Linearize(k int) ([]ids.ID, ids.Set, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	topo, err := s.topoOrderLocked()
	if err != nil {
		return nil, nil, err
	}
	if len(topo) == 0 {
		return nil, ids.NewSet(), nil
	}

	info := make(map[ids.ID]*ghostInfo, len(topo))
	for _, id := range topo {
		info[id] = s.ghostForLocked(id, k, info)
	}

	tips := s.tips.List()
	if len(tips) == 0 {
		// No declared tips (e.g. a single block with only itself as a
		// child-less node not yet marked) — fall back to the last
		// block in topological order.
		tips = []ids.ID{topo[len(topo)-1]}
	}
	sort.Slice(tips, func(i, j int) bool { return tips[i].Less(tips[j]) })
	selectedTip := tips[0]
	for _, t := range tips[1:] {
		if better(info[t], info[selectedTip], t, selectedTip) {
			selectedTip = t
		}
	}

	blueSet := ids.NewSet()
	for id := range info[selectedTip].blueSet {
		blueSet.Add(id)
	}
	blueSet.Add(selectedTip)

	order := s.buildOrderLocked(topo, blueSet)
	return order, blueSet, nil
}

func better(a, b *ghostInfo, aID, bID ids.ID) bool {
	if a.blueScore != b.blueScore {
		return a.blueScore > b.blueScore
	}
	return aID.Less(bID)
}

func (s *Store) topoOrderLocked() ([]ids.ID, error) {
	indegree := make(map[ids.ID]int, len(s.blocks))
	for id, m := range s.blocks {
		count := 0
		for _, p := range m.parents {
			if p != ids.Empty {
				count++
			}
		}
		indegree[id] = count
	}

	var ready []ids.ID
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}

	order := make([]ids.ID, 0, len(s.blocks))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return ready[i].Less(ready[j]) })
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		for _, child := range s.blocks[id].children {
			indegree[child]--
			if indegree[child] == 0 {
				ready = append(ready, child)
			}
		}
	}
	if len(order) != len(s.blocks) {
		return nil, newErr("topoOrder", KindCorruption, errCycle)
	}
	return order, nil
}

// ghostForLocked computes id's GHOSTDAG state given that every parent
// of id already has an entry in info (guaranteed by processing in
// topological order).
func (s *Store) ghostForLocked(id ids.ID, k int, info map[ids.ID]*ghostInfo) *ghostInfo {
	m := s.blocks[id]
	var parents []ids.ID
	for _, p := range m.parents {
		if p != ids.Empty {
			parents = append(parents, p)
		}
	}
	if len(parents) == 0 {
		return &ghostInfo{blueSet: ids.NewSet(), blueScore: 0}
	}

	selectedParent := parents[0]
	for _, p := range parents[1:] {
		if better(info[p], info[selectedParent], p, selectedParent) {
			selectedParent = p
		}
	}

	selParentPast := ids.NewSet()
	for a := range info[selectedParent].blueSet {
		selParentPast.Add(a)
	}
	selParentPast.Add(selectedParent)

	mergeCandidates := ids.NewSet()
	for _, p := range parents {
		if p == selectedParent {
			continue
		}
		if !selParentPast.Contains(p) {
			mergeCandidates.Add(p)
		}
		anc := ids.NewSet()
		s.walk(p, anc, func(mm *blockMeta) []ids.ID { return mm.parents })
		for a := range anc {
			if !selParentPast.Contains(a) {
				mergeCandidates.Add(a)
			}
		}
	}

	ordered := mergeCandidates.List()
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Less(ordered[j]) })

	blueSet := ids.NewSet()
	for a := range info[selectedParent].blueSet {
		blueSet.Add(a)
	}
	blueSet.Add(selectedParent)

	for _, c := range ordered {
		if s.anticoneCountLocked(c, blueSet) <= k {
			blueSet.Add(c)
		}
	}

	return &ghostInfo{selectedParent: selectedParent, hasParent: true, blueSet: blueSet, blueScore: blueSet.Len()}
}

// anticoneCountLocked counts how many members of among lie in c's
// anticone (neither an ancestor nor a descendant of c).
func (s *Store) anticoneCountLocked(c ids.ID, among ids.Set) int {
	ancestors := ids.NewSet()
	s.walk(c, ancestors, func(mm *blockMeta) []ids.ID { return mm.parents })
	descendants := ids.NewSet()
	s.walk(c, descendants, func(mm *blockMeta) []ids.ID { return mm.children })

	count := 0
	for id := range among {
		if id == c || ancestors.Contains(id) || descendants.Contains(id) {
			continue
		}
		count++
	}
	return count
}

// buildOrderLocked produces the final linearization: blue blocks in
// topological order, with each red block spliced in directly after
// the latest (topologically last) blue block among its ancestors.
func (s *Store) buildOrderLocked(topo []ids.ID, blueSet ids.Set) []ids.ID {
	blueOrder := make([]ids.ID, 0, blueSet.Len())
	anchorOf := make(map[ids.ID]int, blueSet.Len())
	for _, id := range topo {
		if blueSet.Contains(id) {
			anchorOf[id] = len(blueOrder)
			blueOrder = append(blueOrder, id)
		}
	}

	redsByAnchor := make(map[int][]ids.ID)
	var rootless []ids.ID
	for _, id := range topo {
		if blueSet.Contains(id) {
			continue
		}
		ancestors := ids.NewSet()
		s.walk(id, ancestors, func(mm *blockMeta) []ids.ID { return mm.parents })
		best := -1
		for a := range ancestors {
			if pos, ok := anchorOf[a]; ok && pos > best {
				best = pos
			}
		}
		if best < 0 {
			rootless = append(rootless, id)
			continue
		}
		redsByAnchor[best] = append(redsByAnchor[best], id)
	}

	sort.Slice(rootless, func(i, j int) bool { return rootless[i].Less(rootless[j]) })

	out := make([]ids.ID, 0, len(topo))
	out = append(out, rootless...)
	for i, blueID := range blueOrder {
		out = append(out, blueID)
		if reds, ok := redsByAnchor[i]; ok {
			sort.Slice(reds, func(a, b int) bool { return reds[a].Less(reds[b]) })
			out = append(out, reds...)
		}
	}
	return out
}

// BlocksInWindow filters a linearized order down to the blocks whose
// timestamp falls in the given UTC window, preserving their relative
// order (spec.md §4.7 finality checkpoint construction).
func (s *Store) BlocksInWindow(window uint64, order []ids.ID) []ids.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ids.ID, 0, len(order))
	for _, id := range order {
		if m, ok := s.blocks[id]; ok && m.window == window {
			out = append(out, id)
		}
	}
	return out
}

var (
	windowLeafPrefix = []byte{0x00}
	windowNodePrefix = []byte{0x01}
)

// WindowMerkleRoot computes the checkpoint Merkle root over a window's
// accepted block identifiers (spec.md §3 Finality checkpoint), using
// the same leaf/node domain separation as chainmodel.MerkleRoot.
func WindowMerkleRoot(blockIDs []ids.ID) ids.ID {
	if len(blockIDs) == 0 {
		return crypto.Hash(windowLeafPrefix)
	}
	level := make([]ids.ID, len(blockIDs))
	for i, id := range blockIDs {
		level[i] = crypto.Hash(windowLeafPrefix, id[:])
	}
	for len(level) > 1 {
		next := make([]ids.ID, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, crypto.Hash(windowNodePrefix, level[i][:], level[i+1][:]))
			} else {
				next = append(next, level[i])
			}
		}
		level = next
	}
	return level[0]
}
