// Package quantization implements the SQ8 and Binary storage modes of spec
// §3/§4.1, generalizing the teacher's per-dataset-trained ScalarQuantizer
// and BinaryQuantizer (pkg/quantization/scalar_quantization.go) into the
// per-vector scheme spec'd for VelesDB: each vector carries its own
// min/max (or sign threshold), so no training pass over the dataset is
// required before the first insert.
package quantization

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Codec is the interface the HNSW index stores vectors through when a
// collection's StorageMode is SQ8 or Binary.
type Codec interface {
	Encode(vector []float32) ([]byte, error)
	Decode(encoded []byte) ([]float32, error)
}

// SQ8 quantizes each component of a vector into a single byte, scaled by
// that vector's own min/max (spec §4.1: "SQ8 maps f32 into u8 via
// per-vector min/max scaling; distance functions consume the quantized
// form and reconstruct scale lazily").
type SQ8 struct {
	Dimension int
}

// NewSQ8 returns a codec for vectors of the given dimension.
func NewSQ8(dimension int) *SQ8 {
	return &SQ8{Dimension: dimension}
}

// Encode lays out min(4B) | max(4B) | u8[dimension].
func (s *SQ8) Encode(vector []float32) ([]byte, error) {
	if len(vector) != s.Dimension {
		return nil, fmt.Errorf("quantization: vector dimension %d doesn't match codec dimension %d", len(vector), s.Dimension)
	}
	min, max := vector[0], vector[0]
	for _, v := range vector[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	scale := max - min
	if scale == 0 {
		scale = 1e-6
	}

	out := make([]byte, 8+s.Dimension)
	binary.LittleEndian.PutUint32(out[0:4], math.Float32bits(min))
	binary.LittleEndian.PutUint32(out[4:8], math.Float32bits(max))
	for i, v := range vector {
		normalized := (v - min) / scale
		if normalized < 0 {
			normalized = 0
		} else if normalized > 1 {
			normalized = 1
		}
		out[8+i] = byte(normalized*255 + 0.5)
	}
	return out, nil
}

// Decode reconstructs an approximate f32 vector by reversing the per-vector
// scale recorded at Encode time.
func (s *SQ8) Decode(encoded []byte) ([]float32, error) {
	if len(encoded) != 8+s.Dimension {
		return nil, fmt.Errorf("quantization: expected %d bytes, got %d", 8+s.Dimension, len(encoded))
	}
	min := math.Float32frombits(binary.LittleEndian.Uint32(encoded[0:4]))
	max := math.Float32frombits(binary.LittleEndian.Uint32(encoded[4:8]))
	scale := max - min

	vec := make([]float32, s.Dimension)
	for i := 0; i < s.Dimension; i++ {
		vec[i] = min + float32(encoded[8+i])/255*scale
	}
	return vec, nil
}

// DistanceSQ8 computes a metric directly over two SQ8-encoded buffers
// without materializing full []float32 vectors, reconstructing each
// buffer's scale lazily as spec §4.1 requires. Only Euclidean and
// DotProduct are supported natively; callers wanting Cosine/Hamming/Jaccard
// over quantized data should Decode first.
func DistanceSQ8(dimension int, euclidean bool, a, b []byte) (float32, error) {
	if len(a) != 8+dimension || len(b) != 8+dimension {
		return 0, fmt.Errorf("quantization: malformed SQ8 buffer for dimension %d", dimension)
	}
	aMin := math.Float32frombits(binary.LittleEndian.Uint32(a[0:4]))
	aMax := math.Float32frombits(binary.LittleEndian.Uint32(a[4:8]))
	bMin := math.Float32frombits(binary.LittleEndian.Uint32(b[0:4]))
	bMax := math.Float32frombits(binary.LittleEndian.Uint32(b[4:8]))
	aScale, bScale := aMax-aMin, bMax-bMin

	if euclidean {
		var sum float32
		for i := 0; i < dimension; i++ {
			av := aMin + float32(a[8+i])/255*aScale
			bv := bMin + float32(b[8+i])/255*bScale
			d := av - bv
			sum += d * d
		}
		return float32(math.Sqrt(float64(sum))), nil
	}
	var dot float32
	for i := 0; i < dimension; i++ {
		av := aMin + float32(a[8+i])/255*aScale
		bv := bMin + float32(b[8+i])/255*bScale
		dot += av * bv
	}
	return dot, nil
}
