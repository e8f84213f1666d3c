package graph

import "testing"

func TestAddRemoveEdge(t *testing.T) {
	s := NewStore()
	id, err := s.AddEdge(Edge{Source: 1, Target: 2, Label: "RELATED_TO"})
	if err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}
	got, err := s.Edge(id)
	if err != nil {
		t.Fatalf("Edge: %v", err)
	}
	if got.Source != 1 || got.Target != 2 {
		t.Errorf("edge = %+v, want source=1 target=2", got)
	}

	if err := s.RemoveEdge(id); err != nil {
		t.Fatalf("RemoveEdge: %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len() after remove = %d, want 0", s.Len())
	}
	if err := s.RemoveEdge(id); err == nil {
		t.Error("expected NotFound removing an already-removed edge")
	}
}

// TestMatchOneHop reproduces spec §8 scenario 4: graph {1->2, 1->5, 2->5,
// 3->6} with label RELATED_TO should yield exactly 4 one-hop bindings.
func TestMatchOneHop(t *testing.T) {
	s := NewStore()
	for _, pair := range [][2]uint64{{1, 2}, {1, 5}, {2, 5}, {3, 6}} {
		if _, err := s.AddEdge(Edge{Source: pair[0], Target: pair[1], Label: "RELATED_TO"}); err != nil {
			t.Fatalf("AddEdge: %v", err)
		}
	}

	type binding struct{ a, b uint64 }
	var bindings []binding
	for _, start := range []uint64{1, 2, 3} {
		visits := s.BFS(start, Config{MaxDepth: 1, Direction: Out, AllowedLabels: []string{"RELATED_TO"}})
		for _, v := range visits {
			bindings = append(bindings, binding{start, v.TargetID})
		}
	}
	if len(bindings) != 4 {
		t.Fatalf("got %d one-hop bindings, want 4: %+v", len(bindings), bindings)
	}
}

func TestDegreeAdaptivePromotion(t *testing.T) {
	s := NewStore()
	hub := uint64(1)
	for i := uint64(2); i < 2+hashSetCeiling+50; i++ {
		if _, err := s.AddEdge(Edge{Source: hub, Target: i, Label: "E"}); err != nil {
			t.Fatalf("AddEdge: %v", err)
		}
	}
	b := s.outAdj[hub]
	if b.tier != tierRadix {
		t.Fatalf("expected promotion to radix tier, got tier=%d with %d entries", b.tier, b.len())
	}
	if b.len() != hashSetCeiling+50 {
		t.Errorf("bucket len = %d, want %d", b.len(), hashSetCeiling+50)
	}
}

func TestBFSRespectsMaxDepthAndLabels(t *testing.T) {
	s := NewStore()
	mustAdd := func(src, dst uint64, label string) {
		if _, err := s.AddEdge(Edge{Source: src, Target: dst, Label: label}); err != nil {
			t.Fatalf("AddEdge: %v", err)
		}
	}
	mustAdd(1, 2, "A")
	mustAdd(2, 3, "A")
	mustAdd(1, 4, "B")

	visits := s.BFS(1, Config{MaxDepth: 1, Direction: Out, AllowedLabels: []string{"A"}})
	if len(visits) != 1 || visits[0].TargetID != 2 {
		t.Fatalf("visits = %+v, want exactly [2]", visits)
	}

	deep := s.BFS(1, Config{MaxDepth: 5, Direction: Out, AllowedLabels: []string{"A"}})
	found3 := false
	for _, v := range deep {
		if v.TargetID == 3 {
			found3 = true
			if len(v.Path) != 3 {
				t.Errorf("path to 3 = %v, want length 3", v.Path)
			}
		}
		if v.TargetID == 4 {
			t.Error("node 4 reached via label B should be filtered out")
		}
	}
	if !found3 {
		t.Error("expected to reach node 3 two hops away via label A")
	}
}

func TestStreamBFSResumesViaCursor(t *testing.T) {
	s := NewStore()
	for i := uint64(2); i <= 10; i++ {
		if _, err := s.AddEdge(Edge{Source: 1, Target: i, Label: "E"}); err != nil {
			t.Fatalf("AddEdge: %v", err)
		}
	}

	var all []Visit
	var cur *Cursor
	for {
		batch, next := s.StreamBFS(1, Config{MaxDepth: 1, Direction: Out}, cur, 3)
		all = append(all, batch...)
		cur = next
		if cur.done {
			break
		}
	}
	if len(all) != 9 {
		t.Fatalf("streamed %d visits, want 9", len(all))
	}
}
