package propindex

import "testing"

func TestEqualityIndexLookup(t *testing.T) {
	idx := NewEqualityIndex()
	idx.Add("tech", 1)
	idx.Add("tech", 2)
	idx.Add("food", 3)

	bm := idx.Lookup("tech")
	if bm.GetCardinality() != 2 || !bm.Contains(1) || !bm.Contains(2) {
		t.Fatalf("Lookup(tech) cardinality=%d, want {1,2}", bm.GetCardinality())
	}

	idx.Remove("tech", 1)
	bm = idx.Lookup("tech")
	if bm.Contains(1) {
		t.Error("id 1 should be gone after Remove")
	}
}

func TestRangeIndexBounds(t *testing.T) {
	idx := NewRangeIndex()
	idx.Add(10, 1)
	idx.Add(20, 2)
	idx.Add(30, 3)
	idx.Add(20, 4)

	bm := idx.Range(15, 25)
	if bm.GetCardinality() != 2 || !bm.Contains(2) || !bm.Contains(4) {
		t.Fatalf("Range(15,25) = %v ids, want {2,4}", bm.ToArray())
	}

	full := idx.Range(0, 100)
	if full.GetCardinality() != 4 {
		t.Fatalf("Range(0,100) cardinality = %d, want 4", full.GetCardinality())
	}
}

func TestTrigramLikeMatch(t *testing.T) {
	idx := NewTrigramIndex()
	idx.Index(1, "The quick brown fox")
	idx.Index(2, "A lazy dog sleeps")
	idx.Index(3, "Quickening pace")

	got := idx.MatchLike("%quick%")
	want := map[uint64]bool{1: true, 3: true}
	if len(got) != len(want) {
		t.Fatalf("MatchLike(%%quick%%) = %v, want ids %v", got, want)
	}
	for _, id := range got {
		if !want[id] {
			t.Errorf("unexpected match id %d", id)
		}
	}

	none := idx.MatchLike("%zzz%")
	if len(none) != 0 {
		t.Errorf("MatchLike(%%zzz%%) = %v, want none", none)
	}
}

func TestManagerRoutesFieldsByKind(t *testing.T) {
	m := NewManager()
	m.AddFieldIndex("category", KindEquality)
	m.AddFieldIndex("score", KindRange)
	m.AddFieldIndex("content", KindTrigram)

	m.IndexPoint(1, map[string]any{"category": "tech", "score": 5.0, "content": "hello world"})
	m.IndexPoint(2, map[string]any{"category": "food", "score": 9.0, "content": "goodbye world"})

	eq, err := m.Equality("category")
	if err != nil {
		t.Fatalf("Equality: %v", err)
	}
	if eq.Lookup("tech").GetCardinality() != 1 {
		t.Error("expected exactly one tech point")
	}

	rg, err := m.Range("score")
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if rg.Range(0, 6).GetCardinality() != 1 {
		t.Error("expected exactly one point with score <= 6")
	}

	tg, err := m.Trigram("content")
	if err != nil {
		t.Fatalf("Trigram: %v", err)
	}
	if len(tg.MatchLike("%world%")) != 2 {
		t.Error("expected both points to match %world%")
	}

	m.RemovePoint(1, map[string]any{"category": "tech", "score": 5.0, "content": "hello world"})
	if eq.Lookup("tech").GetCardinality() != 0 {
		t.Error("expected tech bitmap empty after RemovePoint")
	}
}
