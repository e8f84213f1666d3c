package collection

import (
	"context"
	"testing"

	"github.com/velesdb/velesdb/pkg/graph"
	"github.com/velesdb/velesdb/pkg/propindex"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCreateAndGetCollection(t *testing.T) {
	db := newTestDB(t)
	c, err := db.CreateCollection("docs", DefaultConfig(3))
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	got, err := db.GetCollection("docs")
	if err != nil || got != c {
		t.Fatalf("GetCollection returned (%v, %v), want the same collection", got, err)
	}
	if _, err := db.GetCollection("missing"); err == nil {
		t.Fatal("expected NotFound for unknown collection")
	}
}

func TestUpsertGeneratesIDAndSearchFindsIt(t *testing.T) {
	db := newTestDB(t)
	c, _ := db.CreateCollection("docs", DefaultConfig(3))

	id, err := c.Upsert(0, []float32{1, 0, 0}, map[string]any{"category": "tech"})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if id == 0 {
		t.Fatal("expected a nonzero autogenerated id")
	}

	results, err := c.Search(context.Background(), []float32{1, 0, 0}, 1, 32)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != id {
		t.Fatalf("Search = %+v, want single result with id %d", results, id)
	}
}

func TestUpsertRejectsDimensionMismatch(t *testing.T) {
	db := newTestDB(t)
	c, _ := db.CreateCollection("docs", DefaultConfig(3))
	if _, err := c.Upsert(1, []float32{1, 0}, nil); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestUpsertReplacesExistingPoint(t *testing.T) {
	db := newTestDB(t)
	c, _ := db.CreateCollection("docs", DefaultConfig(3))

	if _, err := c.Upsert(42, []float32{1, 0, 0}, map[string]any{"v": 1.0}); err != nil {
		t.Fatalf("first Upsert: %v", err)
	}
	if _, err := c.Upsert(42, []float32{0, 1, 0}, map[string]any{"v": 2.0}); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}

	results, err := c.Search(context.Background(), []float32{0, 1, 0}, 1, 32)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != 42 {
		t.Fatalf("Search = %+v, want the replaced point back", results)
	}
}

func TestDeleteRemovesFromAllStores(t *testing.T) {
	db := newTestDB(t)
	c, _ := db.CreateCollection("docs", DefaultConfig(3))
	c.AddPropertyIndex("category", propindex.KindEquality)

	id, err := c.Upsert(0, []float32{1, 0, 0}, map[string]any{"category": "tech"})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := c.Delete(id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	results, err := c.Search(context.Background(), []float32{1, 0, 0}, 5, 32)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, r := range results {
		if r.ID == id {
			t.Fatalf("deleted id %d still present in search results", id)
		}
	}
}

func TestExecuteQueryFilteredSearch(t *testing.T) {
	db := newTestDB(t)
	c, _ := db.CreateCollection("docs", DefaultConfig(3))
	c.AddPropertyIndex("category", propindex.KindEquality)

	if _, err := c.Upsert(1, []float32{1, 0, 0}, map[string]any{"category": "tech"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, err := c.Upsert(2, []float32{0, 1, 0}, map[string]any{"category": "food"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	res, err := c.ExecuteQuery(context.Background(), `SELECT * FROM docs WHERE category = 'tech'`, nil)
	if err != nil {
		t.Fatalf("ExecuteQuery: %v", err)
	}
	if len(res.Rows) != 1 || res.Rows[0].ID != 1 {
		t.Fatalf("ExecuteQuery rows = %+v, want just id 1", res.Rows)
	}
}

func TestAddEdgeAndMatchQuery(t *testing.T) {
	db := newTestDB(t)
	c, _ := db.CreateCollection("docs", DefaultConfig(3))

	if _, err := c.Upsert(1, []float32{1, 0, 0}, map[string]any{"category": "a"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, err := c.Upsert(2, []float32{0, 1, 0}, map[string]any{"category": "b"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, err := c.AddEdge(graph.Edge{Source: 1, Target: 2, Label: "RELATED_TO"}); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}

	res, err := c.ExecuteQuery(context.Background(), `MATCH (a)-[:RELATED_TO]->(b) WHERE a.id = 1 RETURN b`, nil)
	if err != nil {
		t.Fatalf("ExecuteQuery MATCH: %v", err)
	}
	if len(res.Rows) != 1 || res.Rows[0].ID != 2 {
		t.Fatalf("MATCH rows = %+v, want just id 2", res.Rows)
	}
}

func TestStatsReflectsActivity(t *testing.T) {
	db := newTestDB(t)
	c, _ := db.CreateCollection("docs", DefaultConfig(3))
	if _, err := c.Upsert(1, []float32{1, 0, 0}, nil); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, err := c.Search(context.Background(), []float32{1, 0, 0}, 1, 16); err != nil {
		t.Fatalf("Search: %v", err)
	}
	stats := c.Stats()
	if stats["upserts"].(int64) != 1 {
		t.Fatalf("stats[upserts] = %v, want 1", stats["upserts"])
	}
	if stats["searches"].(int64) != 1 {
		t.Fatalf("stats[searches] = %v, want 1", stats["searches"])
	}
}

func TestDropCollectionClosesIt(t *testing.T) {
	db := newTestDB(t)
	if _, err := db.CreateCollection("docs", DefaultConfig(3)); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	if err := db.DropCollection("docs"); err != nil {
		t.Fatalf("DropCollection: %v", err)
	}
	if _, err := db.GetCollection("docs"); err == nil {
		t.Fatal("expected collection to be gone after DropCollection")
	}
}
