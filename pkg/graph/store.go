package graph

import (
	"sync"

	"github.com/velesdb/velesdb/internal/verror"
)

// Store is the directed edge store of spec §4.6: edges keyed by edge_id
// with secondary source-> and target-> adjacency indexes, each a
// degree-adaptive bucket. Reads may proceed concurrently; writes take an
// exclusive lock, matching the per-collection-owner concurrency model of
// spec §5.
type Store struct {
	mu       sync.RWMutex
	edges    map[uint64]*Edge
	outAdj   map[uint64]*bucket
	inAdj    map[uint64]*bucket
	nextAuto uint64
}

// NewStore returns an empty edge store.
func NewStore() *Store {
	return &Store{
		edges:  make(map[uint64]*Edge),
		outAdj: make(map[uint64]*bucket),
		inAdj:  make(map[uint64]*bucket),
	}
}

// AddEdge inserts e, assigning e.ID automatically if it is zero.
func (s *Store) AddEdge(e Edge) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == 0 {
		s.nextAuto++
		e.ID = s.nextAuto
	} else if e.ID > s.nextAuto {
		s.nextAuto = e.ID
	}
	if _, exists := s.edges[e.ID]; exists {
		return 0, verror.New("graph.AddEdge", verror.KindInvalidArgument, "edge id already exists")
	}

	stored := e
	s.edges[e.ID] = &stored

	s.bucketFor(s.outAdj, e.Source).add(e.ID)
	s.bucketFor(s.inAdj, e.Target).add(e.ID)
	return e.ID, nil
}

// RemoveEdge deletes an edge and its adjacency entries.
func (s *Store) RemoveEdge(edgeID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.edges[edgeID]
	if !ok {
		return verror.NotFound("graph.RemoveEdge", "edge", edgeID)
	}
	delete(s.edges, edgeID)
	if b, ok := s.outAdj[e.Source]; ok {
		b.remove(edgeID)
	}
	if b, ok := s.inAdj[e.Target]; ok {
		b.remove(edgeID)
	}
	return nil
}

// Edge returns a copy of the stored edge.
func (s *Store) Edge(edgeID uint64) (Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.edges[edgeID]
	if !ok {
		return Edge{}, verror.NotFound("graph.Edge", "edge", edgeID)
	}
	return *e, nil
}

// Len returns the number of live edges.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.edges)
}

// EachEdge calls fn with a copy of every live edge whose label is in
// allowedLabels (or every edge, when allowedLabels is empty), stopping early
// if fn returns false. It is the iteration primitive an unanchored MATCH
// needs to enumerate a whole relationship type rather than traverse from a
// single start node.
func (s *Store) EachEdge(allowedLabels []string, fn func(e Edge) bool) {
	labels := Config{AllowedLabels: allowedLabels}.labelSet()
	s.mu.RLock()
	edges := make([]Edge, 0, len(s.edges))
	for _, e := range s.edges {
		if len(labels) > 0 && !labels[e.Label] {
			continue
		}
		edges = append(edges, *e)
	}
	s.mu.RUnlock()
	for _, e := range edges {
		if !fn(e) {
			return
		}
	}
}

func (s *Store) bucketFor(idx map[uint64]*bucket, node uint64) *bucket {
	b, ok := idx[node]
	if !ok {
		b = newBucket()
		idx[node] = b
	}
	return b
}

// adjacentEdges returns the edge ids touching node in the given direction,
// filtered to allowedLabels when non-empty. Caller must hold at least mu.RLock.
func (s *Store) adjacentEdges(node uint64, dir Direction, allowedLabels map[string]bool) []*Edge {
	var out []*Edge
	collect := func(b *bucket) {
		if b == nil {
			return
		}
		b.each(func(edgeID uint64) {
			e, ok := s.edges[edgeID]
			if !ok {
				return
			}
			if len(allowedLabels) > 0 && !allowedLabels[e.Label] {
				return
			}
			out = append(out, e)
		})
	}
	switch dir {
	case Out:
		collect(s.outAdj[node])
	case In:
		collect(s.inAdj[node])
	case Both:
		collect(s.outAdj[node])
		collect(s.inAdj[node])
	}
	return out
}
