// Package hnsw implements VelesDB's hierarchical navigable small world
// index: layered proximity graph, VAMANA-style diverse neighbor selection,
// and durable snapshot+log persistence (spec §4.3). It generalizes the
// teacher's single-layer-unaware pkg/index/hnsw.go (liliang-cn/sqvect) into
// the multi-layer structure with explicit lock-rank discipline spec'd for
// VelesDB, reusing its id-keyed node map, heap-based search_layer, and
// distance-function-as-capability shape.
package hnsw

import (
	"math"
	"math/rand"
	"sync"

	"github.com/velesdb/velesdb/internal/obslog"
	"github.com/velesdb/velesdb/pkg/quantization"
	"github.com/velesdb/velesdb/pkg/simd"
)

// Config holds the tunable parameters of spec §4.3, with the teacher's
// naming (M, EfConstruction) kept and M0/alpha added for the layer-0 cap
// and VAMANA diversity factor.
type Config struct {
	M              int     // per-layer cap above layer 0 (default 16)
	M0             int     // layer-0 cap (default 32)
	EfConstruction int     // beam width during insert (default 200)
	Alpha          float64 // VAMANA diversity factor (default 1.0-1.2)
	Metric         simd.Metric
	StorageMode    StorageMode
	Logger         obslog.Logger
}

// StorageMode mirrors spec §3's Collection storage mode enum.
type StorageMode int

const (
	StorageFull StorageMode = iota
	StorageSQ8
	StorageBinary
)

// DefaultConfig returns the spec-defaulted parameter set.
func DefaultConfig(metric simd.Metric) Config {
	return Config{
		M:              16,
		M0:             32,
		EfConstruction: 200,
		Alpha:          1.2,
		Metric:         metric,
		StorageMode:    StorageFull,
		Logger:         obslog.Nop(),
	}
}

// node is an internal graph node. External u64 ids map bijectively to a
// node's internal index; a deleted node is tombstoned (removed from the
// id map) but its slot and neighbor lists are retained, per spec §3/§4.3.
type node struct {
	id        uint64
	vector    []float32 // nil if storage mode quantizes away the raw vector
	quantized []byte    // populated when StorageMode is SQ8 or Binary
	level     int       // highest layer this node belongs to
	neighbors [][]uint32
	deleted   bool
}

// Graph is the layered HNSW index. Exactly three rwlocks guard it, at the
// ranks enforced by Scope: vectorsMu (10) over the node/vector slab,
// layersMu (20) over entry point / max layer / node existence, and one
// neighborsMu per layer (30) over that layer's neighbor lists. Neighbor
// fetches that need a node's vector must copy it out from under
// vectorsMu before taking any neighborsMu lock, per spec §4.3's bidirectional-
// edge maintenance rule.
type Graph struct {
	cfg Config

	vectorsMu sync.RWMutex
	nodes     []*node         // dense slot array; slots are never removed
	idToIdx   map[uint64]int  // external id -> slot index, entry removed on delete
	codec     quantization.Codec
	decoded   *decodeCache // nil when codec is nil (Storage=Full keeps raw vectors)

	layersMu   sync.RWMutex
	entryPoint int // slot index of the current entry point, -1 if empty
	maxLayer   int

	neighborsMu []sync.RWMutex // grown (under layersMu) as maxLayer grows

	rng *rand.Rand
	mL  float64
}

// New creates an empty graph for vectors of the given dimension.
func New(cfg Config, dimension int) *Graph {
	var codec quantization.Codec
	switch cfg.StorageMode {
	case StorageSQ8:
		codec = quantization.NewSQ8(dimension)
	case StorageBinary:
		codec = quantization.NewBinary(dimension)
	}
	var decoded *decodeCache
	if codec != nil {
		decoded = newDecodeCache()
	}
	return &Graph{
		cfg:         cfg,
		idToIdx:     make(map[uint64]int),
		codec:       codec,
		decoded:     decoded,
		entryPoint:  -1,
		neighborsMu: make([]sync.RWMutex, 1),
		rng:         rand.New(rand.NewSource(1)),
		mL:          1.0 / math.Log(float64(maxInt(cfg.M, 2))),
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// selectLevel samples a node's maximum layer via h = floor(-ln(U) * mL),
// per spec §4.3.
func (g *Graph) selectLevel() int {
	u := g.rng.Float64()
	for u <= 0 {
		u = g.rng.Float64()
	}
	h := int(math.Floor(-math.Log(u) * g.mL))
	if h > 32 {
		h = 32
	}
	return h
}

// ensureLayerLocks grows neighborsMu to cover layer l. Caller must hold
// layersMu for writing.
func (g *Graph) ensureLayerLocks(l int) {
	for len(g.neighborsMu) <= l {
		g.neighborsMu = append(g.neighborsMu, sync.RWMutex{})
	}
}

// vectorOf returns the usable vector for distance computation against node
// n, decoding the quantized form if the raw vector was dropped. Must be
// called while holding vectorsMu for reading (or after copying under it).
func (g *Graph) vectorOf(n *node) []float32 {
	if n.vector != nil {
		return n.vector
	}
	if n.quantized == nil || g.codec == nil {
		return nil
	}
	if v, ok := g.decoded.get(n.id); ok {
		return v
	}
	v, err := g.codec.Decode(n.quantized)
	if err != nil {
		return nil
	}
	g.decoded.set(n.id, v)
	return v
}

func (g *Graph) distance(query []float32, n *node) float32 {
	v := g.vectorOf(n)
	if v == nil {
		return float32(math.MaxFloat32)
	}
	d, err := simd.DistanceErr(g.cfg.Metric, query, v)
	if err != nil {
		return float32(math.MaxFloat32)
	}
	if g.cfg.Metric.LowerIsCloser() {
		return d
	}
	// Internally HNSW always treats smaller as closer; invert similarity
	// metrics so the search/selection code is metric-agnostic, per spec
	// §4.1: "the HNSW layer normalizes this by inverting score sign."
	return -d
}

// Size returns the number of non-deleted nodes.
func (g *Graph) Size() int {
	g.vectorsMu.RLock()
	defer g.vectorsMu.RUnlock()
	n := 0
	for _, nd := range g.nodes {
		if !nd.deleted {
			n++
		}
	}
	return n
}
