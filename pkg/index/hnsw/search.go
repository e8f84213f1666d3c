package hnsw

import (
	"container/heap"
	"context"

	"github.com/velesdb/velesdb/internal/verror"
	"github.com/velesdb/velesdb/pkg/simd"
)

type candidateItem struct {
	idx  uint32
	dist float32
}

// minHeap is the candidate frontier (smallest distance first).
type minHeap []candidateItem

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i].dist < h[j].dist }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x interface{}) { *h = append(*h, x.(candidateItem)) }
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// maxHeap is the bounded result set (largest distance at the top, so it's
// cheap to evict the worst candidate once the set exceeds ef).
type maxHeap []candidateItem

func (h maxHeap) Len() int            { return len(h) }
func (h maxHeap) Less(i, j int) bool  { return h[i].dist > h[j].dist }
func (h maxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x interface{}) { *h = append(*h, x.(candidateItem)) }
func (h *maxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// searchLayer runs the beam search of spec §4.3 at a single layer: a
// visited set, a min-heap candidate frontier, and a max-heap result set
// capped at ef. Returns slot indices ordered closest-first.
func (g *Graph) searchLayer(query []float32, entryPoints []uint32, ef, layer int) []uint32 {
	return g.searchLayerCtx(context.Background(), query, entryPoints, ef, layer, nil)
}

// searchLayerCtx is searchLayer with cooperative cancellation: the token is
// checked at each candidate pop, per spec §5.
func (g *Graph) searchLayerCtx(ctx context.Context, query []float32, entryPoints []uint32, ef, layer int, cancel <-chan struct{}) []uint32 {
	visited := make(map[uint32]bool)
	candidates := &minHeap{}
	results := &maxHeap{}

	for _, p := range entryPoints {
		if visited[p] {
			continue
		}
		visited[p] = true
		d := g.distance(query, g.nodes[p])
		heap.Push(candidates, candidateItem{idx: p, dist: d})
		heap.Push(results, candidateItem{idx: p, dist: d})
	}

	for candidates.Len() > 0 {
		select {
		case <-ctx.Done():
			return resultsToSlice(results)
		default:
		}
		if cancel != nil {
			select {
			case <-cancel:
				return resultsToSlice(results)
			default:
			}
		}

		cur := heap.Pop(candidates).(candidateItem)
		if results.Len() > 0 && cur.dist > (*results)[0].dist && results.Len() >= ef {
			break
		}

		scope := NewScope()
		scope.Acquire(RankNeighbors)
		g.neighborsMu[layer].RLock()
		var neighbors []uint32
		if layer < len(g.nodes[cur.idx].neighbors) {
			neighbors = append(neighbors, g.nodes[cur.idx].neighbors[layer]...)
		}
		g.neighborsMu[layer].RUnlock()
		scope.Release(RankNeighbors)

		for _, nb := range neighbors {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			d := g.distance(query, g.nodes[nb])
			if results.Len() < ef || d < (*results)[0].dist {
				heap.Push(candidates, candidateItem{idx: nb, dist: d})
				heap.Push(results, candidateItem{idx: nb, dist: d})
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	return resultsToSlice(results)
}

func resultsToSlice(results *maxHeap) []uint32 {
	out := make([]uint32, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(candidateItem).idx
	}
	return out
}

// searchLayerClosest returns the num closest entries from a greedy descent
// step (used above layer 0 during both insert and search).
func (g *Graph) searchLayerClosest(query []float32, entryPoints []uint32, num, layer int) []uint32 {
	result := g.searchLayer(query, entryPoints, num, layer)
	if len(result) > num {
		return result[:num]
	}
	return result
}

// Result is one ranked hit from Search, with the score expressed in the
// collection's native metric orientation (not HNSW's internal
// smaller-is-better form).
type Result struct {
	ID    uint64
	Score float32
}

// Search performs k-NN search: greedy descent from the entry point down to
// layer 1, then a bounded beam search at layer 0, per spec §4.3.
func (g *Graph) Search(ctx context.Context, query []float32, k, ef int, cancel <-chan struct{}) ([]Result, error) {
	select {
	case <-ctx.Done():
		return nil, verror.Cancelled
	default:
	}

	scope := NewScope()
	scope.Acquire(RankLayers)
	g.layersMu.RLock()
	entry := g.entryPoint
	entryLevel := -1
	if entry != -1 {
		entryLevel = g.nodes[entry].level
	}
	g.layersMu.RUnlock()
	scope.Release(RankLayers)

	if entry == -1 {
		return nil, nil
	}

	curr := []uint32{uint32(entry)}
	for layer := entryLevel; layer > 0; layer-- {
		curr = g.searchLayerClosest(query, curr, 1, layer)
		if len(curr) == 0 {
			curr = []uint32{uint32(entry)}
		}
	}

	candidates := g.searchLayerCtx(ctx, query, curr, ef, 0, cancel)

	results := make([]Result, 0, len(candidates))
	for _, idx := range candidates {
		n := g.nodes[idx]
		if n.deleted {
			continue
		}
		score := g.distance(query, n)
		if !g.cfg.Metric.LowerIsCloser() {
			score = -score // undo HNSW's internal inversion for the caller
		}
		results = append(results, Result{ID: n.id, Score: score})
	}

	sortResultsByCloseness(results, g.cfg.Metric)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func sortResultsByCloseness(results []Result, m simd.Metric) {
	lowerCloser := m.LowerIsCloser()
	for i := 1; i < len(results); i++ {
		for j := i; j > 0; j-- {
			a, b := results[j-1], results[j]
			swap := false
			if lowerCloser {
				swap = b.Score < a.Score
			} else {
				swap = b.Score > a.Score
			}
			if !swap {
				break
			}
			results[j-1], results[j] = results[j], results[j-1]
		}
	}
}
