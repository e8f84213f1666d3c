package hnsw

import "github.com/velesdb/velesdb/internal/verror"

// Delete tombstones id: it is removed from the id map so future lookups
// and search results treat it as missing, but its slot and neighbor lists
// are retained — periodic compaction is a future concern per spec §4.3.
func (g *Graph) Delete(id uint64) error {
	scope := NewScope()
	scope.Acquire(RankVectors)
	g.vectorsMu.Lock()
	idx, ok := g.idToIdx[id]
	if !ok {
		g.vectorsMu.Unlock()
		scope.Release(RankVectors)
		return verror.NotFound("hnsw.Delete", "point", id)
	}
	g.nodes[idx].deleted = true
	delete(g.idToIdx, id)
	g.decoded.del(id)
	g.vectorsMu.Unlock()
	scope.Release(RankVectors)

	scope.Acquire(RankLayers)
	g.layersMu.Lock()
	if g.entryPoint == idx {
		g.entryPoint = -1
		for i, n := range g.nodes {
			if !n.deleted {
				g.entryPoint = i
				break
			}
		}
	}
	g.layersMu.Unlock()
	scope.Release(RankLayers)

	return nil
}

// Contains reports whether id currently resolves to a live node.
func (g *Graph) Contains(id uint64) bool {
	g.vectorsMu.RLock()
	defer g.vectorsMu.RUnlock()
	idx, ok := g.idToIdx[id]
	return ok && !g.nodes[idx].deleted
}
