package graph

import "github.com/cespare/xxhash/v2"

// tier identifies which representation a bucket currently uses. Promotion
// is strictly one-way per spec §4.6/§9: "degree-router demotion is
// explicitly disabled; do not reintroduce it."
type tier int

const (
	tierVector tier = iota
	tierHashSet
	tierRadix
)

const (
	vectorCeiling  = 32   // above this, promote vector -> hash set
	hashSetCeiling = 1000 // above this, promote hash set -> radix tree
)

// bucket is the degree-adaptive adjacency list for one (node, direction)
// pair. Up to vectorCeiling entries it is an unsorted slice (cheapest for
// small, frequently-scanned degrees); up to hashSetCeiling it is an
// xxhash-keyed open-addressing set (O(1) membership without the slice's
// O(n) scan); beyond that it promotes to a radix tree, which amortizes
// memory better for very high-degree hub nodes than growing the hash set
// further would.
type bucket struct {
	tier  tier
	vec   []uint64
	set   *xxhashSet
	radix *radixSet
}

func newBucket() *bucket {
	return &bucket{tier: tierVector, vec: make([]uint64, 0, 4)}
}

func (b *bucket) add(edgeID uint64) {
	switch b.tier {
	case tierVector:
		for _, id := range b.vec {
			if id == edgeID {
				return
			}
		}
		b.vec = append(b.vec, edgeID)
		if len(b.vec) > vectorCeiling {
			b.promoteToHashSet()
		}
	case tierHashSet:
		b.set.insert(edgeID)
		if b.set.size > hashSetCeiling {
			b.promoteToRadix()
		}
	case tierRadix:
		b.radix.insert(foldKey(edgeID))
	}
}

func (b *bucket) remove(edgeID uint64) {
	switch b.tier {
	case tierVector:
		for i, id := range b.vec {
			if id == edgeID {
				b.vec = append(b.vec[:i], b.vec[i+1:]...)
				return
			}
		}
	case tierHashSet:
		b.set.delete(edgeID)
	case tierRadix:
		b.radix.delete(foldKey(edgeID))
	}
}

func (b *bucket) contains(edgeID uint64) bool {
	switch b.tier {
	case tierVector:
		for _, id := range b.vec {
			if id == edgeID {
				return true
			}
		}
		return false
	case tierHashSet:
		return b.set.contains(edgeID)
	case tierRadix:
		return b.radix.contains(foldKey(edgeID))
	}
	return false
}

// each calls fn for every edge id currently in the bucket, in no
// particular order.
func (b *bucket) each(fn func(edgeID uint64)) {
	switch b.tier {
	case tierVector:
		for _, id := range b.vec {
			fn(id)
		}
	case tierHashSet:
		b.set.each(fn)
	case tierRadix:
		b.radix.each(func(k [8]byte) { fn(unfoldKey(k)) })
	}
}

func (b *bucket) len() int {
	switch b.tier {
	case tierVector:
		return len(b.vec)
	case tierHashSet:
		return b.set.size
	case tierRadix:
		return b.radix.size
	}
	return 0
}

func (b *bucket) promoteToHashSet() {
	set := newXXHashSet(len(b.vec) * 2)
	for _, id := range b.vec {
		set.insert(id)
	}
	b.set = set
	b.vec = nil
	b.tier = tierHashSet
}

func (b *bucket) promoteToRadix() {
	r := newRadixSet()
	b.set.each(func(id uint64) { r.insert(foldKey(id)) })
	b.radix = r
	b.set = nil
	b.tier = tierRadix
}

// foldKey turns an edge id into its big-endian byte representation, the
// natural key shape for a byte-indexed radix tree.
func foldKey(id uint64) [8]byte {
	var k [8]byte
	for i := 7; i >= 0; i-- {
		k[i] = byte(id)
		id >>= 8
	}
	return k
}

func unfoldKey(k [8]byte) uint64 {
	var id uint64
	for i := 0; i < 8; i++ {
		id = id<<8 | uint64(k[i])
	}
	return id
}

// xxhashSet is an open-addressing uint64 set using xxhash as its bucket
// hash, grounded on the teacher pack's use of xxhash for fast fingerprints
// (straga-Mimir_lite) rather than Go's built-in map hash, so the hash-set
// tier's hashing is an explicit, swappable choice instead of an
// implementation detail of map[uint64]struct{}.
type xxhashSet struct {
	slots    []uint64
	occupied []bool
	size     int
}

func newXXHashSet(hint int) *xxhashSet {
	capacity := 16
	for capacity < hint*2 {
		capacity *= 2
	}
	return &xxhashSet{
		slots:    make([]uint64, capacity),
		occupied: make([]bool, capacity),
	}
}

func (s *xxhashSet) bucketFor(id uint64) int {
	k := foldKey(id)
	h := xxhash.Sum64(k[:])
	return int(h % uint64(len(s.slots)))
}

func (s *xxhashSet) insert(id uint64) {
	if s.size*2 >= len(s.slots) {
		s.grow()
	}
	i := s.bucketFor(id)
	for s.occupied[i] {
		if s.slots[i] == id {
			return
		}
		i = (i + 1) % len(s.slots)
	}
	s.slots[i] = id
	s.occupied[i] = true
	s.size++
}

func (s *xxhashSet) contains(id uint64) bool {
	i := s.bucketFor(id)
	for s.occupied[i] {
		if s.slots[i] == id {
			return true
		}
		i = (i + 1) % len(s.slots)
	}
	return false
}

func (s *xxhashSet) delete(id uint64) {
	i := s.bucketFor(id)
	for s.occupied[i] {
		if s.slots[i] == id {
			s.occupied[i] = false
			s.size--
			s.rehashFrom((i + 1) % len(s.slots))
			return
		}
		i = (i + 1) % len(s.slots)
	}
}

// rehashFrom re-inserts the probe chain following a deleted slot so later
// lookups don't stop early at the hole left behind.
func (s *xxhashSet) rehashFrom(i int) {
	for s.occupied[i] {
		id := s.slots[i]
		s.occupied[i] = false
		s.size--
		s.insert(id)
		i = (i + 1) % len(s.slots)
	}
}

func (s *xxhashSet) grow() {
	old := s.slots
	oldOcc := s.occupied
	s.slots = make([]uint64, len(old)*2)
	s.occupied = make([]bool, len(old)*2)
	s.size = 0
	for i, id := range old {
		if oldOcc[i] {
			s.insert(id)
		}
	}
}

func (s *xxhashSet) each(fn func(id uint64)) {
	for i, occ := range s.occupied {
		if occ {
			fn(s.slots[i])
		}
	}
}
