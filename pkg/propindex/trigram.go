package propindex

import (
	"strings"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// TrigramIndex maps each 3-gram appearing in indexed text to the bitmap of
// document ids containing it, per spec §4.5: "LIKE/ILIKE queries extract
// trigrams from the pattern, intersect bitmaps, and post-filter the
// candidate set against the literal pattern." It lives in memory only: it
// is not persisted, and nothing re-indexes stored points into it when a
// collection is reopened.
type TrigramIndex struct {
	postings map[string]*roaring64.Bitmap
	docs     map[uint64]string // retained for post-filtering against the literal pattern
}

// NewTrigramIndex returns an empty trigram index.
func NewTrigramIndex() *TrigramIndex {
	return &TrigramIndex{
		postings: make(map[string]*roaring64.Bitmap),
		docs:     make(map[uint64]string),
	}
}

// Index records text under id, replacing any prior text for that id.
func (t *TrigramIndex) Index(id uint64, text string) {
	t.Remove(id)
	folded := strings.ToLower(text)
	t.docs[id] = folded
	for _, g := range trigrams(folded) {
		bm, ok := t.postings[g]
		if !ok {
			bm = roaring64.New()
			t.postings[g] = bm
		}
		bm.Add(id)
	}
}

// Remove drops id from every posting list it appears in.
func (t *TrigramIndex) Remove(id uint64) {
	prev, ok := t.docs[id]
	if !ok {
		return
	}
	for _, g := range trigrams(prev) {
		if bm, ok := t.postings[g]; ok {
			bm.Remove(id)
		}
	}
	delete(t.docs, id)
}

// MatchLike returns the ids whose indexed text matches the SQL LIKE/ILIKE
// pattern (% = any run of characters, _ = any single character),
// case-insensitively. It narrows via trigram-bitmap intersection before
// post-filtering, per spec §4.5.
func (t *TrigramIndex) MatchLike(pattern string) []uint64 {
	folded := strings.ToLower(pattern)
	candidates := t.candidateBitmap(folded)

	var out []uint64
	it := candidates.Iterator()
	for it.HasNext() {
		id := it.Next()
		if likeMatch(t.docs[id], folded) {
			out = append(out, id)
		}
	}
	return out
}

// candidateBitmap intersects the postings for every literal trigram that
// can be extracted from pattern, narrowest (lowest cardinality) first; a
// pattern with no extractable trigram (too short, or all wildcards)
// degrades to scanning every indexed document.
func (t *TrigramIndex) candidateBitmap(pattern string) *roaring64.Bitmap {
	literalGrams := literalTrigrams(pattern)
	if len(literalGrams) == 0 {
		all := roaring64.New()
		for id := range t.docs {
			all.Add(id)
		}
		return all
	}

	bitmaps := make([]*roaring64.Bitmap, 0, len(literalGrams))
	for _, g := range literalGrams {
		bm, ok := t.postings[g]
		if !ok {
			return roaring64.New() // a required trigram is entirely absent
		}
		bitmaps = append(bitmaps, bm)
	}
	sortByCardinalityAsc(bitmaps)

	result := bitmaps[0].Clone()
	for _, bm := range bitmaps[1:] {
		result.And(bm)
	}
	return result
}

func sortByCardinalityAsc(bms []*roaring64.Bitmap) {
	for i := 1; i < len(bms); i++ {
		for j := i; j > 0 && bms[j].GetCardinality() < bms[j-1].GetCardinality(); j-- {
			bms[j], bms[j-1] = bms[j-1], bms[j]
		}
	}
}

func trigrams(s string) []string {
	if len(s) < 3 {
		return nil
	}
	grams := make([]string, 0, len(s)-2)
	for i := 0; i+3 <= len(s); i++ {
		grams = append(grams, s[i:i+3])
	}
	return grams
}

// literalTrigrams extracts 3-grams that contain no LIKE wildcard, since
// only those can be looked up in the postings table.
func literalTrigrams(pattern string) []string {
	var runs []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() >= 3 {
			runs = append(runs, cur.String())
		}
		cur.Reset()
	}
	for _, r := range pattern {
		if r == '%' || r == '_' {
			flush()
			continue
		}
		cur.WriteRune(r)
	}
	flush()

	var grams []string
	seen := make(map[string]bool)
	for _, run := range runs {
		for _, g := range trigrams(run) {
			if !seen[g] {
				seen[g] = true
				grams = append(grams, g)
			}
		}
	}
	return grams
}

// likeMatch implements SQL LIKE semantics (% = any run, _ = any single
// char) over already-lowercased text and pattern.
func likeMatch(text, pattern string) bool {
	return likeMatchRunes([]rune(text), []rune(pattern))
}

func likeMatchRunes(text, pattern []rune) bool {
	if len(pattern) == 0 {
		return len(text) == 0
	}
	switch pattern[0] {
	case '%':
		if likeMatchRunes(text, pattern[1:]) {
			return true
		}
		for len(text) > 0 {
			text = text[1:]
			if likeMatchRunes(text, pattern[1:]) {
				return true
			}
		}
		return false
	case '_':
		if len(text) == 0 {
			return false
		}
		return likeMatchRunes(text[1:], pattern[1:])
	default:
		if len(text) == 0 || text[0] != pattern[0] {
			return false
		}
		return likeMatchRunes(text[1:], pattern[1:])
	}
}
