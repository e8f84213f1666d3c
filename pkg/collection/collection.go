package collection

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/velesdb/velesdb/internal/obslog"
	"github.com/velesdb/velesdb/internal/verror"
	"github.com/velesdb/velesdb/internal/wire"
	"github.com/velesdb/velesdb/pkg/graph"
	"github.com/velesdb/velesdb/pkg/index/hnsw"
	"github.com/velesdb/velesdb/pkg/payloadlog"
	"github.com/velesdb/velesdb/pkg/propindex"
	"github.com/velesdb/velesdb/pkg/query"
)

// Database owns a directory of named collections, each with its own
// subdirectory for payload-log durability, per spec §6.
type Database struct {
	mu          sync.RWMutex
	baseDir     string
	logger      obslog.Logger
	collections map[string]*Collection
}

// Open returns a Database rooted at baseDir, creating it if necessary. It
// does not itself open any collection; call CreateCollection (which also
// reopens an existing one) for each one a caller needs.
func Open(baseDir string, logger obslog.Logger) (*Database, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, verror.Wrap("collection.Open", verror.KindIO, err)
	}
	return &Database{
		baseDir:     baseDir,
		logger:      obslog.OrNop(logger),
		collections: make(map[string]*Collection),
	}, nil
}

// CreateCollection creates (or reopens, if it already exists on disk) a
// named collection configured by cfg. On reopen only the payload log is
// recovered from disk; the vector index, property indexes, and edge store
// start empty, since none of them is persisted by the collection.
func (d *Database) CreateCollection(name string, cfg Config) (*Collection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.collections[name]; ok {
		return c, nil
	}

	dir := filepath.Join(d.baseDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, verror.Wrap("collection.CreateCollection", verror.KindIO, err)
	}

	logger := obslog.OrNop(cfg.Logger)
	payloads, err := payloadlog.Open(dir, logger)
	if err != nil {
		return nil, err
	}

	c := &Collection{
		name:       name,
		dimension:  cfg.Dimension,
		dir:        dir,
		logger:     logger,
		vectors:    hnsw.New(cfg.HNSW, cfg.Dimension),
		payloads:   payloads,
		properties: propindex.NewManager(),
		graph:      graph.NewStore(),
	}
	c.engine = &query.Engine{Vectors: c.vectors, Payloads: c.payloads, Properties: c.properties, Graph: c.graph}
	d.collections[name] = c
	return c, nil
}

// GetCollection returns a previously created collection, or NotFound.
func (d *Database) GetCollection(name string) (*Collection, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.collections[name]
	if !ok {
		return nil, verror.New("collection.GetCollection", verror.KindNotFound, "collection not found: "+name)
	}
	return c, nil
}

// DropCollection closes and forgets a collection. Its on-disk directory is
// left in place; callers that want it gone remove dir themselves.
func (d *Database) DropCollection(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.collections[name]
	if !ok {
		return verror.New("collection.DropCollection", verror.KindNotFound, "collection not found: "+name)
	}
	delete(d.collections, name)
	return c.Close()
}

// Close closes every open collection.
func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var firstErr error
	for name, c := range d.collections {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(d.collections, name)
	}
	return firstErr
}

// Collection is one named vector+payload+property+graph space, queryable
// through VelesQL via Engine. All methods are safe for concurrent use.
type Collection struct {
	name       string
	dimension  int
	dir        string
	logger     obslog.Logger
	vectors    *hnsw.Graph
	payloads   *payloadlog.Store
	properties *propindex.Manager
	graph      *graph.Store
	engine     *query.Engine

	mu sync.RWMutex

	upserts  atomic.Int64
	deletes  atomic.Int64
	searches atomic.Int64
}

// Name returns the collection's name.
func (c *Collection) Name() string { return c.name }

// Upsert inserts or replaces the point with the given id. id == 0 requests
// an autogenerated id (the first 8 bytes of a fresh UUIDv4, reduced to a
// uint64 — spec.md leaves point-id generation external; this gives every
// caller that doesn't supply one a collision-resistant default). Returns
// the effective id.
func (c *Collection) Upsert(id uint64, vector []float32, fields map[string]any) (uint64, error) {
	if err := wire.ValidateVector(vector); err != nil {
		return 0, verror.Wrap("collection.Upsert", verror.KindInvalidArgument, err)
	}
	if len(vector) != c.dimension {
		return 0, verror.DimensionMismatch("collection.Upsert", c.dimension, len(vector))
	}
	if id == 0 {
		id = newPointID()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.vectors.Contains(id) {
		if err := c.vectors.Delete(id); err != nil {
			return 0, err
		}
		if old, err := c.payloads.Get(id); err == nil {
			var oldFields map[string]any
			if json.Unmarshal(old, &oldFields) == nil {
				c.properties.RemovePoint(id, oldFields)
			}
		}
	}

	if err := c.vectors.Insert(id, vector, c.dimension); err != nil {
		return 0, err
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		return 0, verror.Wrap("collection.Upsert", verror.KindInvalidArgument, err)
	}
	if err := c.payloads.Put(id, payload); err != nil {
		return 0, err
	}
	c.properties.IndexPoint(id, fields)
	c.upserts.Add(1)
	return id, nil
}

// Delete removes id from the vector index, payload log, and property
// indexes.
func (c *Collection) Delete(id uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	fields, ferr := c.payloads.Get(id)
	if err := c.vectors.Delete(id); err != nil {
		return err
	}
	if ferr == nil {
		var decoded map[string]any
		if json.Unmarshal(fields, &decoded) == nil {
			c.properties.RemovePoint(id, decoded)
		}
	}
	if err := c.payloads.Delete(id); err != nil {
		return err
	}
	c.deletes.Add(1)
	return nil
}

// Search runs a plain k-NN vector search with no property filter.
func (c *Collection) Search(ctx context.Context, vector []float32, k, ef int) ([]hnsw.Result, error) {
	if len(vector) != c.dimension {
		return nil, verror.DimensionMismatch("collection.Search", c.dimension, len(vector))
	}
	c.searches.Add(1)
	return c.vectors.Search(ctx, vector, k, ef, ctx.Done())
}

// AddEdge adds a directed graph edge, per spec §4.6.
func (c *Collection) AddEdge(e graph.Edge) (uint64, error) {
	return c.graph.AddEdge(e)
}

// AddPropertyIndex declares a structured or full-text index on field.
func (c *Collection) AddPropertyIndex(field string, kind propindex.Kind) {
	c.properties.AddFieldIndex(field, kind)
}

// ExecuteQuery parses, plans, and runs a VelesQL statement against this
// collection.
func (c *Collection) ExecuteQuery(ctx context.Context, src string, params query.Params) (*query.Result, error) {
	return c.engine.Exec(ctx, src, params)
}

// Flush durably snapshots the payload log, bounding future recovery replay
// to whatever has been appended since.
func (c *Collection) Flush() error {
	return c.payloads.Flush()
}

// Stats returns this collection's counters and graph stats (plus the
// process-wide lock-rank violation count), mirroring the teacher's
// HNSW.Stats() map-returning convention (spec's SUPPLEMENTED metrics
// counters; no Prometheus wiring per the teacher's own scope).
func (c *Collection) Stats() map[string]any {
	stats := c.vectors.Stats()
	stats["upserts"] = c.upserts.Load()
	stats["deletes"] = c.deletes.Load()
	stats["searches"] = c.searches.Load()
	stats["payload_count"] = c.payloads.Len()
	stats["edge_count"] = c.graph.Len()
	stats["lock_rank_violations"] = hnsw.RankViolations()
	return stats
}

// Close flushes a final snapshot and releases the collection's file
// handles.
func (c *Collection) Close() error {
	if err := c.payloads.Flush(); err != nil {
		c.logger.Warn("collection: flush on close failed", "collection", c.name, "err", err)
	}
	return c.payloads.Close()
}

func newPointID() uint64 {
	id := uuid.New()
	return binary.BigEndian.Uint64(id[:8])
}
