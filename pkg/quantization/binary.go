package quantization

import "fmt"

// Binary packs one bit per dimension, sign-thresholded at zero, matching
// spec §4.1: "Binary packs one bit per dimension; Hamming is the native
// metric." Unlike the teacher's BinaryQuantizer (pkg/quantization/
// scalar_quantization.go), no training pass over a dataset is needed: the
// threshold is always zero, so any vector can be encoded independently.
type Binary struct {
	Dimension int
}

// NewBinary returns a codec for vectors of the given dimension.
func NewBinary(dimension int) *Binary {
	return &Binary{Dimension: dimension}
}

// Encode packs vector[d] > 0 into bit d of the output.
func (b *Binary) Encode(vector []float32) ([]byte, error) {
	if len(vector) != b.Dimension {
		return nil, fmt.Errorf("quantization: vector dimension %d doesn't match codec dimension %d", len(vector), b.Dimension)
	}
	out := make([]byte, (b.Dimension+7)/8)
	for d, v := range vector {
		if v > 0 {
			out[d/8] |= 1 << uint(d%8)
		}
	}
	return out, nil
}

// Decode reconstructs a vector of +1/-1 values from the packed bits; this
// loses magnitude, which is the expected tradeoff of binary quantization.
func (b *Binary) Decode(encoded []byte) ([]float32, error) {
	want := (b.Dimension + 7) / 8
	if len(encoded) != want {
		return nil, fmt.Errorf("quantization: expected %d bytes, got %d", want, len(encoded))
	}
	vec := make([]float32, b.Dimension)
	for d := range vec {
		if encoded[d/8]&(1<<uint(d%8)) != 0 {
			vec[d] = 1
		} else {
			vec[d] = -1
		}
	}
	return vec, nil
}

// HammingPacked computes the Hamming distance between two packed buffers
// directly via popcount, the native metric for Binary storage (spec §4.1).
// Uses Brian Kernighan's bit-counting loop as the portable scalar form.
// There is no Harley-Seal or other wide popcount path, here or in pkg/simd,
// whose Hamming/Jaccard kernels count non-zero f32 indicators, not bits.
func HammingPacked(a, b []byte) (int, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("quantization: packed buffer length mismatch: %d vs %d", len(a), len(b))
	}
	dist := 0
	for i := range a {
		x := a[i] ^ b[i]
		for x != 0 {
			dist++
			x &= x - 1
		}
	}
	return dist, nil
}

// JaccardPacked computes Jaccard similarity between two packed bit buffers:
// |A∩B| / |A∪B| via popcount of AND and OR.
func JaccardPacked(a, b []byte) (float32, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("quantization: packed buffer length mismatch: %d vs %d", len(a), len(b))
	}
	var inter, union int
	for i := range a {
		inter += popcount(a[i] & b[i])
		union += popcount(a[i] | b[i])
	}
	if union == 0 {
		return 1, nil
	}
	return float32(inter) / float32(union), nil
}

func popcount(x byte) int {
	n := 0
	for x != 0 {
		n++
		x &= x - 1
	}
	return n
}
