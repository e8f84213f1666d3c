// Package simd implements the runtime-dispatched distance kernels of
// VelesDB's core: dot product, Euclidean, cosine, Hamming, and Jaccard over
// f32 vectors.
//
// The teacher (liliang-cn/sqvect) computes these with a single unrolled
// scalar loop per metric (pkg/index/hnsw.go: EuclideanDistance,
// CosineDistance, DotProductDistance). VelesDB generalizes that into a
// dispatch table keyed by vector length. Because Go has no portable vector
// intrinsics without hand-written assembly per architecture, each "kernel"
// differs in accumulator width and unrolling rather than in instruction
// selection — the virtual-dispatch idiom Design Notes §9 calls out as
// acceptable when monomorphization isn't available. The CPU level is
// detected from runtime feature bits (golang.org/x/sys/cpu) and reported by
// CurrentLevel, but it does not change which kernel runs. simd_test.go
// checks every accumulator width against the width-1 kernel.
package simd

import "fmt"

// Metric identifies a distance/similarity function.
type Metric int

const (
	Cosine Metric = iota
	Euclidean
	DotProduct
	Hamming
	Jaccard
)

func (m Metric) String() string {
	switch m {
	case Cosine:
		return "cosine"
	case Euclidean:
		return "euclidean"
	case DotProduct:
		return "dot_product"
	case Hamming:
		return "hamming"
	case Jaccard:
		return "jaccard"
	default:
		return "unknown"
	}
}

// LowerIsCloser reports whether smaller values of m mean "more similar".
// Euclidean and Hamming are distances; Cosine, DotProduct and Jaccard are
// similarities, oriented the other way, per spec §4.1.
func (m Metric) LowerIsCloser() bool {
	return m == Euclidean || m == Hamming
}

// ErrLengthMismatch is returned (wrapped) by every kernel when a and b
// differ in length.
type ErrLengthMismatch struct {
	LenA, LenB int
}

func (e *ErrLengthMismatch) Error() string {
	return fmt.Sprintf("simd: vector length mismatch: %d vs %d", e.LenA, e.LenB)
}

// Distance computes the distance/similarity between a and b under metric m
// using the process-wide dispatched kernel level. Panics with a typed
// *ErrLengthMismatch recovered by callers that want an error return — see
// DistanceErr for the non-panicking form used by the HNSW and planner
// layers.
func Distance(m Metric, a, b []float32) float32 {
	v, err := DistanceErr(m, a, b)
	if err != nil {
		panic(err)
	}
	return v
}

// DistanceErr is the non-panicking form used throughout the rest of the
// module; every caller outside of benchmarks/tests should use this.
func DistanceErr(m Metric, a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, &ErrLengthMismatch{LenA: len(a), LenB: len(b)}
	}
	k := kernelFor(len(a))
	switch m {
	case Cosine:
		return k.cosine(a, b), nil
	case Euclidean:
		return k.euclidean(a, b), nil
	case DotProduct:
		return k.dot(a, b), nil
	case Hamming:
		return hammingBits(a, b), nil
	case Jaccard:
		return jaccardBits(a, b), nil
	default:
		return 0, fmt.Errorf("simd: unsupported metric %v", m)
	}
}

// hammingBits and jaccardBits treat each f32 as a packed indicator (0 vs
// non-zero) rather than decoding a true bit-packed buffer; true bit-packed
// inputs go through the Binary quantization path in pkg/quantization, whose
// HammingPacked/JaccardPacked operate directly on []byte.
func hammingBits(a, b []float32) float32 {
	var diff float32
	for i := range a {
		if (a[i] != 0) != (b[i] != 0) {
			diff++
		}
	}
	return diff
}

func jaccardBits(a, b []float32) float32 {
	var inter, union float32
	for i := range a {
		ai, bi := a[i] != 0, b[i] != 0
		if ai && bi {
			inter++
		}
		if ai || bi {
			union++
		}
	}
	if union == 0 {
		return 1
	}
	return inter / union
}
