package hnsw

// Stats mirrors the teacher's HNSW.Stats() map-returning convention
// (pkg/index/hnsw.go), generalized to the layered structure.
func (g *Graph) Stats() map[string]any {
	g.vectorsMu.RLock()
	defer g.vectorsMu.RUnlock()
	g.layersMu.RLock()
	defer g.layersMu.RUnlock()

	total, active, edges, maxLevel := 0, 0, 0, 0
	levelDist := make(map[int]int)
	for _, n := range g.nodes {
		total++
		if n.deleted {
			continue
		}
		active++
		if n.level > maxLevel {
			maxLevel = n.level
		}
		levelDist[n.level]++
		for _, layer := range n.neighbors {
			edges += len(layer)
		}
	}
	avg := 0.0
	if active > 0 {
		avg = float64(edges) / float64(active)
	}
	return map[string]any{
		"total_nodes":        total,
		"active_nodes":       active,
		"deleted_nodes":      total - active,
		"total_edges":        edges,
		"avg_edges_per_node": avg,
		"max_level":          maxLevel,
		"level_distribution": levelDist,
		"M":                  g.cfg.M,
		"M0":                 g.cfg.M0,
		"ef_construction":    g.cfg.EfConstruction,
		"lock_rank_violations": RankViolations(),
	}
}
