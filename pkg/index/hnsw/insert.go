package hnsw

import (
	"sort"

	"github.com/velesdb/velesdb/internal/verror"
)

// Insert adds vector under external id to the graph, following spec §4.3's
// algorithm: allocate a slot, sample its height, descend greedily from the
// top layer to h+1, then run search_layer + VAMANA selection at each layer
// from h down to 0, wiring bidirectional edges and pruning over-connected
// neighbors.
func (g *Graph) Insert(id uint64, vector []float32, dimension int) error {
	if len(vector) != dimension {
		return verror.DimensionMismatch("hnsw.Insert", dimension, len(vector))
	}

	scope := NewScope()
	scope.Acquire(RankVectors)
	g.vectorsMu.Lock()
	if _, exists := g.idToIdx[id]; exists {
		g.vectorsMu.Unlock()
		scope.Release(RankVectors)
		return verror.Wrap("hnsw.Insert", verror.KindInvalidArgument, errAlreadyExists(id))
	}

	level := g.selectLevel()
	n := &node{id: id, level: level, neighbors: make([][]uint32, level+1)}
	if g.codec != nil {
		if q, err := g.codec.Encode(vector); err == nil {
			n.quantized = q
		} else {
			n.vector = vector
		}
	} else {
		n.vector = vector
	}
	for i := range n.neighbors {
		n.neighbors[i] = make([]uint32, 0)
	}

	idx := len(g.nodes)
	g.nodes = append(g.nodes, n)
	g.idToIdx[id] = idx
	g.vectorsMu.Unlock()
	scope.Release(RankVectors)

	scope.Acquire(RankLayers)
	g.layersMu.Lock()
	if g.entryPoint == -1 {
		g.entryPoint = idx
		g.maxLayer = level
		g.ensureLayerLocks(level)
		g.layersMu.Unlock()
		scope.Release(RankLayers)
		return nil
	}
	entryIdx := g.entryPoint
	entryLevel := g.nodes[entryIdx].level
	g.ensureLayerLocks(level)
	g.layersMu.Unlock()
	scope.Release(RankLayers)

	currNearest := []uint32{uint32(entryIdx)}

	for lc := entryLevel; lc > level; lc-- {
		currNearest = g.searchLayerClosest(vector, currNearest, 1, lc)
	}

	for lc := min(level, entryLevel); lc >= 0; lc-- {
		cap := g.cfg.M
		if lc == 0 {
			cap = g.cfg.M0
		}
		candidates := g.searchLayer(vector, currNearest, g.cfg.EfConstruction, lc)
		selected := g.selectNeighborsVamana(vector, candidates, cap, lc)

		g.setNeighbors(idx, lc, selected)
		for _, nb := range selected {
			g.addReverseEdge(nb, uint32(idx), lc, cap)
		}
		if len(selected) > 0 {
			currNearest = selected
		}
	}

	if level > entryLevel {
		scope2 := NewScope()
		scope2.Acquire(RankLayers)
		g.layersMu.Lock()
		if level > g.nodes[g.entryPoint].level {
			g.entryPoint = idx
		}
		if level > g.maxLayer {
			g.maxLayer = level
		}
		g.layersMu.Unlock()
		scope2.Release(RankLayers)
	}

	return nil
}

// setNeighbors replaces node idx's neighbor list at layer lc.
func (g *Graph) setNeighbors(idx, lc int, neighbors []uint32) {
	scope := NewScope()
	scope.Acquire(RankNeighbors)
	g.neighborsMu[lc].Lock()
	g.nodes[idx].neighbors[lc] = neighbors
	g.neighborsMu[lc].Unlock()
	scope.Release(RankNeighbors)
}

// addReverseEdge adds idx as a neighbor of nb at layer lc, pruning nb's
// list back down to cap if the addition overflows it. Per spec §4.3, the
// prune re-sorts nb's candidate list by distance to nb's own vector and
// truncates — this requires fetching nb's vector, which must happen before
// any neighbor lock is taken (vectorsMu outranks neighborsMu).
func (g *Graph) addReverseEdge(nb, idx uint32, lc, cap int) {
	scope := NewScope()
	scope.Acquire(RankVectors)
	g.vectorsMu.RLock()
	if int(nb) >= len(g.nodes) || lc >= len(g.nodes[nb].neighbors) {
		g.vectorsMu.RUnlock()
		scope.Release(RankVectors)
		return
	}
	nbVector := g.vectorOf(g.nodes[nb])
	g.vectorsMu.RUnlock()
	scope.Release(RankVectors)
	if nbVector == nil {
		return
	}

	scope.Acquire(RankNeighbors)
	g.neighborsMu[lc].Lock()
	defer func() {
		g.neighborsMu[lc].Unlock()
		scope.Release(RankNeighbors)
	}()

	existing := g.nodes[nb].neighbors[lc]
	for _, e := range existing {
		if e == idx {
			return
		}
	}
	updated := append(append([]uint32{}, existing...), idx)
	if len(updated) > cap {
		sort.Slice(updated, func(i, j int) bool {
			return g.distance(nbVector, g.nodes[updated[i]]) < g.distance(nbVector, g.nodes[updated[j]])
		})
		updated = updated[:cap]
	}
	g.nodes[nb].neighbors[lc] = updated
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

type notFoundErr struct{ id uint64 }

func (e *notFoundErr) Error() string { return "hnsw: node already exists" }

func errAlreadyExists(id uint64) error { return &notFoundErr{id: id} }
