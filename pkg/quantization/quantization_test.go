package quantization

import (
	"math"
	"testing"
)

func TestSQ8EncodeDecodeRoundTrip(t *testing.T) {
	dim := 64
	codec := NewSQ8(dim)
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = float32(i) - float32(dim)/2
	}

	encoded, err := codec.Encode(vec)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if len(encoded) != 8+dim {
		t.Fatalf("encoded length = %d, want %d", len(encoded), 8+dim)
	}

	decoded, err := codec.Decode(encoded)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	for i := range vec {
		diff := math.Abs(float64(vec[i] - decoded[i]))
		if diff > float64(dim)/255+1e-3 {
			t.Errorf("component %d: got %v, want ~%v", i, decoded[i], vec[i])
		}
	}
}

func TestSQ8DimensionMismatch(t *testing.T) {
	codec := NewSQ8(4)
	if _, err := codec.Encode([]float32{1, 2, 3}); err == nil {
		t.Fatal("expected error for dimension mismatch")
	}
}

func TestDistanceSQ8MatchesDecodedEuclidean(t *testing.T) {
	dim := 16
	codec := NewSQ8(dim)
	a := make([]float32, dim)
	b := make([]float32, dim)
	for i := 0; i < dim; i++ {
		a[i] = float32(i)
		b[i] = float32(dim - i)
	}
	ea, _ := codec.Encode(a)
	eb, _ := codec.Encode(b)

	quantDist, err := DistanceSQ8(dim, true, ea, eb)
	if err != nil {
		t.Fatalf("DistanceSQ8 failed: %v", err)
	}

	var want float32
	for i := range a {
		d := a[i] - b[i]
		want += d * d
	}
	want = float32(math.Sqrt(float64(want)))

	if math.Abs(float64(quantDist-want))/math.Max(1, math.Abs(float64(want))) > 0.05 {
		t.Errorf("quantized euclidean %v too far from exact %v", quantDist, want)
	}
}

func TestBinaryEncodeDecode(t *testing.T) {
	dim := 12
	codec := NewBinary(dim)
	vec := []float32{1, -1, 2, -2, 0.5, -0.5, 3, -3, 4, -4, 5, -5}

	encoded, err := codec.Encode(vec)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if len(encoded) != (dim+7)/8 {
		t.Fatalf("encoded length = %d, want %d", len(encoded), (dim+7)/8)
	}

	decoded, err := codec.Decode(encoded)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	for i, v := range vec {
		if (v > 0) != (decoded[i] > 0) {
			t.Errorf("component %d sign mismatch: original %v, decoded %v", i, v, decoded[i])
		}
	}
}

func TestHammingPacked(t *testing.T) {
	a := []byte{0b1010, 0b1111}
	b := []byte{0b1110, 0b0000}
	dist, err := HammingPacked(a, b)
	if err != nil {
		t.Fatalf("HammingPacked failed: %v", err)
	}
	if dist != 5 {
		t.Errorf("hamming = %d, want 5", dist)
	}
}

func TestJaccardPacked(t *testing.T) {
	a := []byte{0b1111}
	b := []byte{0b1100}
	j, err := JaccardPacked(a, b)
	if err != nil {
		t.Fatalf("JaccardPacked failed: %v", err)
	}
	if math.Abs(float64(j)-0.5) > 1e-6 {
		t.Errorf("jaccard = %v, want 0.5", j)
	}
}

func TestHammingPackedLengthMismatch(t *testing.T) {
	if _, err := HammingPacked([]byte{1}, []byte{1, 2}); err == nil {
		t.Fatal("expected length mismatch error")
	}
}
