package propindex

import (
	"sort"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// RangeIndex maps numeric values to point-id bitmaps while keeping keys
// ordered, so `<`/`<=`/`>`/`>=`/BETWEEN predicates can binary-search to a
// boundary and union/intersect a contiguous run of bitmaps instead of
// scanning every distinct value, per spec §4.5 ("range indexes keep keys
// ordered").
type RangeIndex struct {
	keys    []float64
	bitmaps []*roaring64.Bitmap
}

// NewRangeIndex returns an empty range index.
func NewRangeIndex() *RangeIndex {
	return &RangeIndex{}
}

func (idx *RangeIndex) find(key float64) (pos int, found bool) {
	pos = sort.Search(len(idx.keys), func(i int) bool { return idx.keys[i] >= key })
	found = pos < len(idx.keys) && idx.keys[pos] == key
	return pos, found
}

// Add records that id holds the numeric value key.
func (idx *RangeIndex) Add(key float64, id uint64) {
	pos, found := idx.find(key)
	if found {
		idx.bitmaps[pos].Add(id)
		return
	}
	bm := roaring64.New()
	bm.Add(id)
	idx.keys = append(idx.keys, 0)
	idx.bitmaps = append(idx.bitmaps, nil)
	copy(idx.keys[pos+1:], idx.keys[pos:])
	copy(idx.bitmaps[pos+1:], idx.bitmaps[pos:])
	idx.keys[pos] = key
	idx.bitmaps[pos] = bm
}

// Remove clears id from key's bitmap.
func (idx *RangeIndex) Remove(key float64, id uint64) {
	if pos, found := idx.find(key); found {
		idx.bitmaps[pos].Remove(id)
	}
}

// Range returns the union of every bitmap whose key satisfies
// lo <= key <= hi (use math.Inf(-1)/math.Inf(1) for an open bound).
func (idx *RangeIndex) Range(lo, hi float64) *roaring64.Bitmap {
	out := roaring64.New()
	start := sort.Search(len(idx.keys), func(i int) bool { return idx.keys[i] >= lo })
	for i := start; i < len(idx.keys) && idx.keys[i] <= hi; i++ {
		out.Or(idx.bitmaps[i])
	}
	return out
}
