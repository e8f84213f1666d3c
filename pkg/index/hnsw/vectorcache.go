package hnsw

import (
	"github.com/dgraph-io/ristretto/v2"
)

// decodeCache memoizes quantization.Codec.Decode results keyed by node id,
// so a read-heavy workload against an SQ8/Binary-mode graph doesn't
// redecode the same hot node's vector on every traversal that passes
// through it. Only constructed when the graph actually quantizes (nil
// otherwise), since Storage=Full nodes keep their raw vector resident and
// have nothing to cache.
type decodeCache struct {
	cache *ristretto.Cache[uint64, []float32]
}

func newDecodeCache() *decodeCache {
	c, err := ristretto.NewCache(&ristretto.Config[uint64, []float32]{
		NumCounters: 100_000,
		MaxCost:     1 << 23, // 8 MiB of decoded float32 vectors
		BufferItems: 64,
	})
	if err != nil {
		// A cache is a pure amortization layer; if ristretto can't
		// allocate its sketches for some reason, fall back to no cache
		// rather than fail graph construction.
		return &decodeCache{}
	}
	return &decodeCache{cache: c}
}

func (d *decodeCache) get(id uint64) ([]float32, bool) {
	if d == nil || d.cache == nil {
		return nil, false
	}
	return d.cache.Get(id)
}

func (d *decodeCache) set(id uint64, vec []float32) {
	if d == nil || d.cache == nil {
		return
	}
	d.cache.Set(id, vec, int64(4*len(vec)))
}

// del evicts id's cached decode. Called on delete so a later Insert that
// reuses the same external id can never read back a stale decode.
func (d *decodeCache) del(id uint64) {
	if d == nil || d.cache == nil {
		return
	}
	d.cache.Del(id)
}
