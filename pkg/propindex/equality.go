// Package propindex implements the property and trigram indexes of spec
// §4.5: equality and range indexes mapping value -> RoaringBitmap<u64>, and
// a trigram index accelerating LIKE/ILIKE. Grounded on the pack's use of
// RoaringBitmap for id-set indexing (other_examples' mache graph store)
// generalized from 32-bit node ids to the 64-bit point ids this domain
// needs, via the v2 module's roaring64 bitmap.
package propindex

import "github.com/RoaringBitmap/roaring/v2/roaring64"

// EqualityIndex maps a field's distinct values to the set of point ids
// holding that value.
type EqualityIndex struct {
	byValue map[any]*roaring64.Bitmap
}

// NewEqualityIndex returns an empty equality index.
func NewEqualityIndex() *EqualityIndex {
	return &EqualityIndex{byValue: make(map[any]*roaring64.Bitmap)}
}

// Add records that id currently holds value.
func (idx *EqualityIndex) Add(value any, id uint64) {
	bm, ok := idx.byValue[value]
	if !ok {
		bm = roaring64.New()
		idx.byValue[value] = bm
	}
	bm.Add(id)
}

// Remove clears id from value's bitmap, used both on delete and when a
// payload update changes a previously-indexed value.
func (idx *EqualityIndex) Remove(value any, id uint64) {
	if bm, ok := idx.byValue[value]; ok {
		bm.Remove(id)
	}
}

// Lookup returns the bitmap of ids holding value, or an empty bitmap if
// value was never indexed.
func (idx *EqualityIndex) Lookup(value any) *roaring64.Bitmap {
	if bm, ok := idx.byValue[value]; ok {
		return bm
	}
	return roaring64.New()
}

// Cardinality returns the estimated-cardinality hint used by the query
// planner/executor to order bitmap intersections ascending (spec §4.5:
// "Bitmap operations proceed in ascending estimated-cardinality order").
func (idx *EqualityIndex) Cardinality(value any) uint64 {
	if bm, ok := idx.byValue[value]; ok {
		return bm.GetCardinality()
	}
	return 0
}
