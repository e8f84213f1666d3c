package hnsw

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/velesdb/velesdb/internal/verror"
	"github.com/velesdb/velesdb/pkg/simd"
)

// Persistence splits the on-disk layout of spec §6 into three files: a
// meta file (dimension, metric, flags), a mappings file (id<->index,
// next_index), and a graph file (vector slab plus per-node, per-layer
// neighbor arrays). §4.3 leaves the exact byte layout to be frozen by this
// implementation's own tests rather than inferred from the Rust source's
// serde dumps (Design Notes §9) — the layout below is that freeze point.

const metaMagic uint32 = 0x56534e48 // "VSNH"

// SaveMeta writes (dimension, metric, flags).
func (g *Graph) SaveMeta(w io.Writer, dimension int) error {
	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, metaMagic); err != nil {
		return verror.Wrap("hnsw.SaveMeta", verror.KindIO, err)
	}
	fields := []any{
		uint32(dimension),
		uint32(g.cfg.Metric),
		uint32(g.cfg.StorageMode),
		uint32(g.cfg.M),
		uint32(g.cfg.M0),
		uint32(g.cfg.EfConstruction),
	}
	for _, f := range fields {
		if err := binary.Write(bw, binary.LittleEndian, f); err != nil {
			return verror.Wrap("hnsw.SaveMeta", verror.KindIO, err)
		}
	}
	return bw.Flush()
}

// LoadMeta reads the meta file and validates the magic header.
func LoadMeta(r io.Reader) (dimension int, cfg Config, err error) {
	var magic uint32
	if err = binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return 0, Config{}, verror.Wrap("hnsw.LoadMeta", verror.KindCorruptSnapshot, err)
	}
	if magic != metaMagic {
		return 0, Config{}, verror.New("hnsw.LoadMeta", verror.KindCorruptSnapshot, "bad meta magic")
	}
	var dim, metric, storage, m, m0, efc uint32
	for _, p := range []*uint32{&dim, &metric, &storage, &m, &m0, &efc} {
		if err = binary.Read(r, binary.LittleEndian, p); err != nil {
			return 0, Config{}, verror.Wrap("hnsw.LoadMeta", verror.KindCorruptSnapshot, err)
		}
	}
	cfg = Config{
		M:              int(m),
		M0:             int(m0),
		EfConstruction: int(efc),
		Alpha:          1.2,
		Metric:         simdMetric(metric),
		StorageMode:    StorageMode(storage),
	}
	return int(dim), cfg, nil
}

// SaveMappings writes (id<->index, next_index): next_index (the slot
// count), then the number of live ids, then one (id, slot-index) pair per
// currently-live id.
func (g *Graph) SaveMappings(w io.Writer) error {
	g.vectorsMu.RLock()
	defer g.vectorsMu.RUnlock()

	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(g.nodes))); err != nil {
		return verror.Wrap("hnsw.SaveMappings", verror.KindIO, err)
	}
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(g.idToIdx))); err != nil {
		return verror.Wrap("hnsw.SaveMappings", verror.KindIO, err)
	}
	for id, idx := range g.idToIdx {
		if err := binary.Write(bw, binary.LittleEndian, id); err != nil {
			return verror.Wrap("hnsw.SaveMappings", verror.KindIO, err)
		}
		if err := binary.Write(bw, binary.LittleEndian, uint64(idx)); err != nil {
			return verror.Wrap("hnsw.SaveMappings", verror.KindIO, err)
		}
	}
	return bw.Flush()
}

// LoadMappings reads the id<->index table produced by SaveMappings, along
// with the total slot count so the caller can size g.nodes before
// LoadGraph populates it.
func LoadMappings(r io.Reader) (nodeCount int, idToIdx map[uint64]int, err error) {
	var nc, n uint64
	if err = binary.Read(r, binary.LittleEndian, &nc); err != nil {
		return 0, nil, verror.Wrap("hnsw.LoadMappings", verror.KindCorruptSnapshot, err)
	}
	if err = binary.Read(r, binary.LittleEndian, &n); err != nil {
		return 0, nil, verror.Wrap("hnsw.LoadMappings", verror.KindCorruptSnapshot, err)
	}
	idToIdx = make(map[uint64]int, n)
	for i := uint64(0); i < n; i++ {
		var id, idx uint64
		if err = binary.Read(r, binary.LittleEndian, &id); err != nil {
			return 0, nil, verror.Wrap("hnsw.LoadMappings", verror.KindCorruptSnapshot, err)
		}
		if err = binary.Read(r, binary.LittleEndian, &idx); err != nil {
			return 0, nil, verror.Wrap("hnsw.LoadMappings", verror.KindCorruptSnapshot, err)
		}
		idToIdx[id] = int(idx)
	}
	return int(nc), idToIdx, nil
}

// SaveGraph writes the layered neighbor arrays and vector slab: for each
// node, its level, deleted flag, raw-vector-present flag (+ contiguous
// floats or quantized bytes), then for each layer 0..level a
// length-prefixed neighbor index array. Entry point and max layer are
// written as a small header.
func (g *Graph) SaveGraph(w io.Writer) error {
	g.vectorsMu.RLock()
	defer g.vectorsMu.RUnlock()
	g.layersMu.RLock()
	defer g.layersMu.RUnlock()

	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, int64(g.entryPoint)); err != nil {
		return verror.Wrap("hnsw.SaveGraph", verror.KindIO, err)
	}
	if err := binary.Write(bw, binary.LittleEndian, int64(g.maxLayer)); err != nil {
		return verror.Wrap("hnsw.SaveGraph", verror.KindIO, err)
	}
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(g.nodes))); err != nil {
		return verror.Wrap("hnsw.SaveGraph", verror.KindIO, err)
	}

	for _, n := range g.nodes {
		if err := writeNode(bw, n); err != nil {
			return verror.Wrap("hnsw.SaveGraph", verror.KindIO, err)
		}
	}
	return bw.Flush()
}

func writeNode(bw *bufio.Writer, n *node) error {
	deleted := uint8(0)
	if n.deleted {
		deleted = 1
	}
	if err := binary.Write(bw, binary.LittleEndian, n.id); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, int32(n.level)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, deleted); err != nil {
		return err
	}

	hasRaw := uint8(0)
	if n.vector != nil {
		hasRaw = 1
	}
	if err := binary.Write(bw, binary.LittleEndian, hasRaw); err != nil {
		return err
	}
	if hasRaw == 1 {
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(n.vector))); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, n.vector); err != nil {
			return err
		}
	} else {
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(n.quantized))); err != nil {
			return err
		}
		if _, err := bw.Write(n.quantized); err != nil {
			return err
		}
	}

	if err := binary.Write(bw, binary.LittleEndian, uint32(len(n.neighbors))); err != nil {
		return err
	}
	for _, layer := range n.neighbors {
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(layer))); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, layer); err != nil {
			return err
		}
	}
	return nil
}

// LoadGraph reconstructs nodes onto g from a SaveGraph stream. It restores
// nodes, entry point, and max layer only: callers build g from LoadMeta's
// Config and install LoadMappings' idToIdx themselves, and LoadGraph does
// not check its node count against either.
func (g *Graph) LoadGraph(r io.Reader) error {
	var entry, maxLayer int64
	var count uint64
	if err := binary.Read(r, binary.LittleEndian, &entry); err != nil {
		return verror.Wrap("hnsw.LoadGraph", verror.KindCorruptSnapshot, err)
	}
	if err := binary.Read(r, binary.LittleEndian, &maxLayer); err != nil {
		return verror.Wrap("hnsw.LoadGraph", verror.KindCorruptSnapshot, err)
	}
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return verror.Wrap("hnsw.LoadGraph", verror.KindCorruptSnapshot, err)
	}

	nodes := make([]*node, 0, count)
	for i := uint64(0); i < count; i++ {
		n, err := readNode(r)
		if err != nil {
			return verror.Wrap("hnsw.LoadGraph", verror.KindCorruptSnapshot, err)
		}
		nodes = append(nodes, n)
	}

	g.vectorsMu.Lock()
	g.nodes = nodes
	g.vectorsMu.Unlock()

	g.layersMu.Lock()
	g.entryPoint = int(entry)
	g.maxLayer = int(maxLayer)
	g.ensureLayerLocks(int(maxLayer))
	g.layersMu.Unlock()

	return nil
}

func simdMetric(v uint32) simd.Metric { return simd.Metric(v) }

func readNode(r io.Reader) (*node, error) {
	n := &node{}
	var level int32
	var deleted, hasRaw uint8
	if err := binary.Read(r, binary.LittleEndian, &n.id); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &level); err != nil {
		return nil, err
	}
	n.level = int(level)
	if err := binary.Read(r, binary.LittleEndian, &deleted); err != nil {
		return nil, err
	}
	n.deleted = deleted == 1
	if err := binary.Read(r, binary.LittleEndian, &hasRaw); err != nil {
		return nil, err
	}

	var blobLen uint32
	if err := binary.Read(r, binary.LittleEndian, &blobLen); err != nil {
		return nil, err
	}
	if hasRaw == 1 {
		vec := make([]float32, blobLen)
		if err := binary.Read(r, binary.LittleEndian, vec); err != nil {
			return nil, err
		}
		n.vector = vec
	} else {
		buf := make([]byte, blobLen)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		n.quantized = buf
	}

	var numLayers uint32
	if err := binary.Read(r, binary.LittleEndian, &numLayers); err != nil {
		return nil, err
	}
	n.neighbors = make([][]uint32, numLayers)
	for l := uint32(0); l < numLayers; l++ {
		var layerLen uint32
		if err := binary.Read(r, binary.LittleEndian, &layerLen); err != nil {
			return nil, err
		}
		layer := make([]uint32, layerLen)
		if err := binary.Read(r, binary.LittleEndian, layer); err != nil {
			return nil, err
		}
		n.neighbors[l] = layer
	}
	return n, nil
}
