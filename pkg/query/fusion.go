package query

import "sort"

// RankedResult is one scored row from a single ranked source (a vector
// search, a graph traversal ordered by distance, etc.), ready for fusion.
type RankedResult struct {
	ID    uint64
	Score float64
}

// FusionStrategy names the combination function applied across multiple
// ranked sources, per spec §6's `USING FUSION strategy(params)` clause.
type FusionStrategy string

const (
	FusionRRF      FusionStrategy = "rrf"
	FusionWeighted FusionStrategy = "weighted"
	FusionAverage  FusionStrategy = "average"
	FusionMaximum  FusionStrategy = "maximum"
)

const defaultRRFK = 60.0

// Fuse combines sources (each independently ranked, best first) into a
// single list ordered by descending fused score. Unknown strategies fall
// back to RRF.
func Fuse(strategy string, params map[string]any, sources [][]RankedResult) []RankedResult {
	switch FusionStrategy(strategy) {
	case FusionWeighted:
		return fuseWeighted(params, sources)
	case FusionAverage:
		return fuseAverage(sources)
	case FusionMaximum:
		return fuseMaximum(sources)
	default:
		return fuseRRF(params, sources)
	}
}

// fuseRRF implements Reciprocal Rank Fusion: score(id) = sum(1/(k+rank)) over
// every source ranking id, rank being 1-based position within that source.
// Because every term is strictly positive, a source that contains id can
// only ever add to its score — the monotonicity property spec §8 requires
// ("adding an additional source containing a given id cannot decrease its
// final score") holds structurally, not by coincidence.
func fuseRRF(params map[string]any, sources [][]RankedResult) []RankedResult {
	k := defaultRRFK
	if v, ok := params["k"]; ok {
		if f, ok := toFloat(v); ok {
			k = f
		}
	}
	totals := map[uint64]float64{}
	for _, src := range sources {
		for rank, r := range src {
			totals[r.ID] += 1.0 / (k + float64(rank+1))
		}
	}
	return sortedRanked(totals)
}

func fuseWeighted(params map[string]any, sources [][]RankedResult) []RankedResult {
	weights := make([]float64, len(sources))
	for i := range weights {
		weights[i] = 1.0
	}
	if raw, ok := params["weights"].([]any); ok {
		for i, v := range raw {
			if i >= len(weights) {
				break
			}
			if f, ok := toFloat(v); ok {
				weights[i] = f
			}
		}
	}
	totals := map[uint64]float64{}
	for i, src := range sources {
		norm := normalize(src)
		for id, s := range norm {
			totals[id] += weights[i] * s
		}
	}
	return sortedRanked(totals)
}

// fuseAverage takes the arithmetic mean of each source's min-max normalized
// score, so a source whose raw scale happens to dominate (e.g. an
// unnormalized distance) can't skew the average on its own.
func fuseAverage(sources [][]RankedResult) []RankedResult {
	sums := map[uint64]float64{}
	counts := map[uint64]int{}
	for _, src := range sources {
		norm := normalize(src)
		for id, s := range norm {
			sums[id] += s
			counts[id]++
		}
	}
	totals := make(map[uint64]float64, len(sums))
	for id, sum := range sums {
		totals[id] = sum / float64(counts[id])
	}
	return sortedRanked(totals)
}

// fuseMaximum takes the max of each source's min-max normalized score.
func fuseMaximum(sources [][]RankedResult) []RankedResult {
	totals := map[uint64]float64{}
	seen := map[uint64]bool{}
	for _, src := range sources {
		norm := normalize(src)
		for id, s := range norm {
			if !seen[id] || s > totals[id] {
				totals[id] = s
				seen[id] = true
			}
		}
	}
	return sortedRanked(totals)
}

// normalize min-max scales a source's scores into [0,1] so weighted fusion
// isn't dominated by a source whose raw scale happens to be larger.
func normalize(src []RankedResult) map[uint64]float64 {
	out := make(map[uint64]float64, len(src))
	if len(src) == 0 {
		return out
	}
	lo, hi := src[0].Score, src[0].Score
	for _, r := range src {
		if r.Score < lo {
			lo = r.Score
		}
		if r.Score > hi {
			hi = r.Score
		}
	}
	span := hi - lo
	for _, r := range src {
		if span == 0 {
			out[r.ID] = 1.0
			continue
		}
		out[r.ID] = (r.Score - lo) / span
	}
	return out
}

func sortedRanked(totals map[uint64]float64) []RankedResult {
	out := make([]RankedResult, 0, len(totals))
	for id, score := range totals {
		out = append(out, RankedResult{ID: id, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out
}
