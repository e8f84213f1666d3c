package graph

// Config bounds a traversal, per spec §4.6:
// config = {max_depth, max_nodes, allowed_labels?, direction?}.
type Config struct {
	MaxDepth      int
	MaxNodes      int
	AllowedLabels []string
	Direction     Direction
}

// Visit is one (target_id, depth, path) tuple produced in visit order.
type Visit struct {
	TargetID uint64
	Depth    int
	Path     []uint64
}

func (c Config) labelSet() map[string]bool {
	if len(c.AllowedLabels) == 0 {
		return nil
	}
	set := make(map[string]bool, len(c.AllowedLabels))
	for _, l := range c.AllowedLabels {
		set[l] = true
	}
	return set
}

type frontierEntry struct {
	node  uint64
	depth int
	path  []uint64
}

// BFS performs a breadth-first traversal from start, bounded by cfg, and
// returns every visited node as a (target_id, depth, path) tuple in visit
// order.
func (s *Store) BFS(start uint64, cfg Config) []Visit {
	s.mu.RLock()
	defer s.mu.RUnlock()

	labels := cfg.labelSet()
	visited := map[uint64]bool{start: true}
	queue := []frontierEntry{{node: start, depth: 0, path: []uint64{start}}}
	var out []Visit

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.node != start {
			out = append(out, Visit{TargetID: cur.node, Depth: cur.depth, Path: cur.path})
			if cfg.MaxNodes > 0 && len(out) >= cfg.MaxNodes {
				return out
			}
		}
		if cfg.MaxDepth > 0 && cur.depth >= cfg.MaxDepth {
			continue
		}
		for _, e := range s.adjacentEdges(cur.node, cfg.Direction, labels) {
			next := neighborOf(e, cur.node)
			if visited[next] {
				continue
			}
			visited[next] = true
			path := append(append([]uint64{}, cur.path...), next)
			queue = append(queue, frontierEntry{node: next, depth: cur.depth + 1, path: path})
		}
	}
	return out
}

// DFS performs a depth-first traversal from start, bounded by cfg.
func (s *Store) DFS(start uint64, cfg Config) []Visit {
	s.mu.RLock()
	defer s.mu.RUnlock()

	labels := cfg.labelSet()
	visited := map[uint64]bool{start: true}
	stack := []frontierEntry{{node: start, depth: 0, path: []uint64{start}}}
	var out []Visit

	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur.node != start {
			out = append(out, Visit{TargetID: cur.node, Depth: cur.depth, Path: cur.path})
			if cfg.MaxNodes > 0 && len(out) >= cfg.MaxNodes {
				return out
			}
		}
		if cfg.MaxDepth > 0 && cur.depth >= cfg.MaxDepth {
			continue
		}
		for _, e := range s.adjacentEdges(cur.node, cfg.Direction, labels) {
			next := neighborOf(e, cur.node)
			if visited[next] {
				continue
			}
			visited[next] = true
			path := append(append([]uint64{}, cur.path...), next)
			stack = append(stack, frontierEntry{node: next, depth: cur.depth + 1, path: path})
		}
	}
	return out
}

func neighborOf(e *Edge, from uint64) uint64 {
	if e.Source == from {
		return e.Target
	}
	return e.Source
}

// Cursor resumes a streaming BFS where a previous StreamBFS call left off.
// It is opaque to callers beyond being passed back verbatim.
type Cursor struct {
	frontier []frontierEntry
	visited  map[uint64]bool
	done     bool
}

// StreamBFS yields up to batchSize tuples per call and returns a cursor for
// resumption, per spec §4.6's "a streaming variant yields tuples
// incrementally with a cursor for resumption." A nil cursor starts a fresh
// traversal from start; passing the returned cursor back continues it.
func (s *Store) StreamBFS(start uint64, cfg Config, cursor *Cursor, batchSize int) ([]Visit, *Cursor) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if cursor == nil {
		cursor = &Cursor{
			frontier: []frontierEntry{{node: start, depth: 0, path: []uint64{start}}},
			visited:  map[uint64]bool{start: true},
		}
	}
	if cursor.done {
		return nil, cursor
	}

	labels := cfg.labelSet()
	var out []Visit
	queue := cursor.frontier

	for len(queue) > 0 && len(out) < batchSize {
		cur := queue[0]
		queue = queue[1:]
		if cur.node != start {
			out = append(out, Visit{TargetID: cur.node, Depth: cur.depth, Path: cur.path})
		}
		if cfg.MaxDepth > 0 && cur.depth >= cfg.MaxDepth {
			continue
		}
		for _, e := range s.adjacentEdges(cur.node, cfg.Direction, labels) {
			next := neighborOf(e, cur.node)
			if cursor.visited[next] {
				continue
			}
			cursor.visited[next] = true
			path := append(append([]uint64{}, cur.path...), next)
			queue = append(queue, frontierEntry{node: next, depth: cur.depth + 1, path: path})
		}
	}

	cursor.frontier = queue
	if len(queue) == 0 {
		cursor.done = true
	}
	return out, cursor
}
