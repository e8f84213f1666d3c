// Package collection implements the external interface of spec §6: Database
// and Collection, composing the vector index, payload log, property
// indexes, graph store, and query engine into one handle per named
// collection. Grounded on the teacher's flat Config-of-sub-configs shape
// (pkg/core/embedding.go's Config{HNSWConfig, IVFConfig, QuantizationConfig,
// TextSimilarityConfig}, each with its own Default*Config()).
package collection

import (
	"github.com/velesdb/velesdb/internal/obslog"
	"github.com/velesdb/velesdb/pkg/index/hnsw"
	"github.com/velesdb/velesdb/pkg/simd"
)

// Config composes every sub-config a collection needs, mirroring the
// teacher's Config{HNSWConfig, IVFConfig, QuantizationConfig} composition.
type Config struct {
	Dimension int
	Metric    simd.Metric
	HNSW      hnsw.Config
	Logger    obslog.Logger
}

// DefaultHNSWConfig returns spec §4.3's defaulted HNSW parameters for metric.
func DefaultHNSWConfig(metric simd.Metric) hnsw.Config {
	return hnsw.DefaultConfig(metric)
}

// DefaultConfig returns a Config for a collection of the given dimension
// using cosine similarity and full (unquantized) vector storage.
func DefaultConfig(dimension int) Config {
	metric := simd.Cosine
	return Config{
		Dimension: dimension,
		Metric:    metric,
		HNSW:      DefaultHNSWConfig(metric),
		Logger:    obslog.Nop(),
	}
}

// WithMetric returns a copy of cfg using metric for both the distance
// function and the HNSW sub-config.
func (cfg Config) WithMetric(metric simd.Metric) Config {
	cfg.Metric = metric
	cfg.HNSW.Metric = metric
	return cfg
}

// WithStorageMode returns a copy of cfg using the given HNSW storage mode
// (Full, SQ8, or Binary — spec §3).
func (cfg Config) WithStorageMode(mode hnsw.StorageMode) Config {
	cfg.HNSW.StorageMode = mode
	return cfg
}

// WithLogger returns a copy of cfg logging through l instead of the default
// no-op logger.
func (cfg Config) WithLogger(l obslog.Logger) Config {
	cfg.Logger = obslog.OrNop(l)
	cfg.HNSW.Logger = cfg.Logger
	return cfg
}
