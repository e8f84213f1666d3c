package hnsw

import (
	"bytes"
	"context"
	"math/rand"
	"sort"
	"testing"

	"github.com/velesdb/velesdb/internal/verror"
	"github.com/velesdb/velesdb/pkg/simd"
)

func TestInsertSearchBasic(t *testing.T) {
	g := New(DefaultConfig(simd.Cosine), 4)
	points := map[uint64][]float32{
		1: {1, 0, 0, 0},
		2: {0, 1, 0, 0},
		3: {0.7, 0.7, 0, 0},
	}
	for id, v := range points {
		if err := g.Insert(id, v, 4); err != nil {
			t.Fatalf("insert %d: %v", id, err)
		}
	}

	results, err := g.Search(context.Background(), []float32{1, 0, 0, 0}, 2, 16, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].ID != 1 {
		t.Errorf("closest id = %d, want 1", results[0].ID)
	}
}

func TestInsertDimensionMismatch(t *testing.T) {
	g := New(DefaultConfig(simd.Cosine), 4)
	err := g.Insert(1, []float32{1, 2, 3}, 4)
	if !verror.IsKind(err, verror.KindDimensionMismatch) {
		t.Fatalf("expected DimensionMismatch, got %v", err)
	}
}

func TestDeleteTombstones(t *testing.T) {
	g := New(DefaultConfig(simd.Euclidean), 2)
	_ = g.Insert(1, []float32{0, 0}, 2)
	_ = g.Insert(2, []float32{1, 1}, 2)

	if err := g.Delete(1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if g.Contains(1) {
		t.Error("expected id 1 to be gone after delete")
	}
	if !g.Contains(2) {
		t.Error("expected id 2 to remain")
	}

	if err := g.Delete(1); !verror.IsKind(err, verror.KindNotFound) {
		t.Fatalf("expected NotFound on double delete, got %v", err)
	}
}

func bruteForceTopK(points map[uint64][]float32, query []float32, k int) []uint64 {
	type scored struct {
		id   uint64
		dist float32
	}
	all := make([]scored, 0, len(points))
	for id, v := range points {
		var sum float32
		for i := range v {
			d := v[i] - query[i]
			sum += d * d
		}
		all = append(all, scored{id, sum})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].dist < all[j].dist })
	if len(all) > k {
		all = all[:k]
	}
	out := make([]uint64, len(all))
	for i, s := range all {
		out[i] = s.id
	}
	return out
}

func TestRecallAgainstBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	dim := 128
	n := 200

	cfg := DefaultConfig(simd.Euclidean)
	cfg.M = 16
	cfg.EfConstruction = 100
	g := New(cfg, dim)

	points := make(map[uint64][]float32, n)
	for i := 0; i < n; i++ {
		v := make([]float32, dim)
		for d := range v {
			v[d] = rng.Float32()
		}
		id := uint64(i + 1)
		points[id] = v
		if err := g.Insert(id, v, dim); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	totalRecall := 0.0
	queries := 5
	for q := 0; q < queries; q++ {
		query := make([]float32, dim)
		for d := range query {
			query[d] = rng.Float32()
		}
		want := bruteForceTopK(points, query, 10)
		got, err := g.Search(context.Background(), query, 10, 128, nil)
		if err != nil {
			t.Fatalf("search: %v", err)
		}

		wantSet := make(map[uint64]bool, len(want))
		for _, id := range want {
			wantSet[id] = true
		}
		hits := 0
		for _, r := range got {
			if wantSet[r.ID] {
				hits++
			}
		}
		totalRecall += float64(hits) / float64(len(want))
	}

	avgRecall := totalRecall / float64(queries)
	if avgRecall < 0.80 {
		t.Errorf("average recall@10 = %v, want >= 0.80", avgRecall)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	g := New(DefaultConfig(simd.Cosine), 3)
	_ = g.Insert(1, []float32{1, 0, 0}, 3)
	_ = g.Insert(2, []float32{0, 1, 0}, 3)
	_ = g.Insert(3, []float32{0, 0, 1}, 3)

	metaBuf := &bytes.Buffer{}
	mapBuf := &bytes.Buffer{}
	graphBuf := &bytes.Buffer{}

	if err := g.SaveMeta(metaBuf, 3); err != nil {
		t.Fatalf("SaveMeta: %v", err)
	}
	if err := g.SaveMappings(mapBuf); err != nil {
		t.Fatalf("SaveMappings: %v", err)
	}
	if err := g.SaveGraph(graphBuf); err != nil {
		t.Fatalf("SaveGraph: %v", err)
	}

	dim, cfg, err := LoadMeta(metaBuf)
	if err != nil {
		t.Fatalf("LoadMeta: %v", err)
	}
	if dim != 3 {
		t.Errorf("loaded dim = %d, want 3", dim)
	}

	_, idToIdx, err := LoadMappings(mapBuf)
	if err != nil {
		t.Fatalf("LoadMappings: %v", err)
	}
	if len(idToIdx) != 3 {
		t.Errorf("loaded %d mappings, want 3", len(idToIdx))
	}

	loaded := New(cfg, 3)
	if err := loaded.LoadGraph(graphBuf); err != nil {
		t.Fatalf("LoadGraph: %v", err)
	}
	loaded.idToIdx = idToIdx

	if loaded.Size() != 3 {
		t.Errorf("loaded size = %d, want 3", loaded.Size())
	}
}
