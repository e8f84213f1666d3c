package simd

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// Level names the dispatched kernel family, matching spec §4.1's
// {Scalar, AVX2, AVX512, NEON} set.
type Level int32

const (
	LevelScalar Level = iota
	LevelAVX2
	LevelAVX512
	LevelNEON
)

func (l Level) String() string {
	switch l {
	case LevelAVX2:
		return "AVX2"
	case LevelAVX512:
		return "AVX512"
	case LevelNEON:
		return "NEON"
	default:
		return "Scalar"
	}
}

// detectedLevel is a process-wide atomic, written exactly once by detect()
// and read by every subsequent call — the "shared mutable SIMD level" of
// Design Notes §9, safe because it is monotonic after first write.
var detectedLevel atomic.Int32
var detectOnce sync.Once

func detect() Level {
	detectOnce.Do(func() {
		lvl := LevelScalar
		switch {
		case cpu.X86.HasAVX512F && cpu.X86.HasAVX512DQ:
			lvl = LevelAVX512
		case cpu.X86.HasAVX2:
			lvl = LevelAVX2
		case cpu.ARM64.HasASIMD:
			lvl = LevelNEON
		}
		detectedLevel.Store(int32(lvl))
	})
	return Level(detectedLevel.Load())
}

// CurrentLevel returns the dispatched level for this process, running
// detection on first call.
func CurrentLevel() Level {
	return detect()
}

// Warmup primes the detection cache and touches every kernel once so the
// first real query doesn't pay branch-misprediction and page-fault cost.
// Safe to call multiple times and from multiple goroutines.
func Warmup() {
	detect()
	probe := make([]float32, 256)
	for i := range probe {
		probe[i] = float32(i%7) - 3
	}
	_, _ = DistanceErr(Cosine, probe, probe)
	_, _ = DistanceErr(Euclidean, probe, probe)
	_, _ = DistanceErr(DotProduct, probe, probe)
}

// kernel bundles the three vector metrics at a fixed accumulator width.
// Hamming/Jaccard are width-independent (see hammingBits/jaccardBits) so
// they aren't part of the table.
type kernel struct {
	cosine    func(a, b []float32) float32
	euclidean func(a, b []float32) float32
	dot       func(a, b []float32) float32
}

// kernelFor selects the accumulator width by vector length per the
// dispatch thresholds of spec §4.1. The detected Level is not consulted:
// every level runs the same kernels. All widths compute the identical
// reduction (pairwise summation across accumulator lanes); what differs is
// how many partial sums are kept live to mimic SIMD lane counts.
func kernelFor(length int) kernel {
	switch {
	case length < 16:
		return kernel{cosineN(1), euclideanN(1), dotN(1)}
	case length < 64:
		return kernel{cosineN(1), euclideanN(1), dotN(1)}
	case length < 256:
		return kernel{cosineN(2), euclideanN(2), dotN(2)}
	default:
		return kernel{cosineN(4), euclideanN(4), dotN(4)}
	}
}
