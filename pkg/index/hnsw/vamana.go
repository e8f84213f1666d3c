package hnsw

import "sort"

// selectNeighborsVamana implements the VAMANA diversity rule of spec §4.3:
// scan candidates in ascending distance from the query; accept candidate c
// iff for every already-selected s, alpha*d(q,c) <= d(c,s). Fill from the
// remaining candidates in order if fewer than cap are diverse.
func (g *Graph) selectNeighborsVamana(query []float32, candidates []uint32, cap, layer int) []uint32 {
	if len(candidates) <= cap {
		return candidates
	}

	type scored struct {
		idx  uint32
		dist float32
	}
	pool := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		pool = append(pool, scored{idx: c, dist: g.distance(query, g.nodes[c])})
	}
	sort.Slice(pool, func(i, j int) bool { return pool[i].dist < pool[j].dist })

	selected := make([]uint32, 0, cap)
	alpha := float32(g.cfg.Alpha)
	for _, cand := range pool {
		if len(selected) >= cap {
			break
		}
		diverse := true
		for _, s := range selected {
			dcs := g.distance(g.vectorOf(g.nodes[cand.idx]), g.nodes[s])
			if alpha*cand.dist > dcs {
				diverse = false
				break
			}
		}
		if diverse {
			selected = append(selected, cand.idx)
		}
	}

	if len(selected) < cap {
		have := make(map[uint32]bool, len(selected))
		for _, s := range selected {
			have[s] = true
		}
		for _, cand := range pool {
			if len(selected) >= cap {
				break
			}
			if !have[cand.idx] {
				selected = append(selected, cand.idx)
				have[cand.idx] = true
			}
		}
	}

	return selected
}
