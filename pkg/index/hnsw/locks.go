package hnsw

import "sync/atomic"

// Rank is a lock's position in VelesDB's fixed lock hierarchy (spec §4.3,
// §5): vectors (10) → layers (20) → per-layer neighbor lists (30). Any
// code path acquiring more than one of these MUST acquire in strictly
// increasing rank order; release order must mirror it.
type Rank int32

const (
	RankVectors   Rank = 10
	RankLayers    Rank = 20
	RankNeighbors Rank = 30
)

// rankViolations is the global, process-wide atomic counter spec §5 calls
// for: "a runtime rank checker records violations to an atomic counter."
var rankViolations atomic.Int64

// RankViolations returns the number of detected out-of-order lock
// acquisitions since process start. Property tests assert this stays at
// zero under concurrent fuzzing (spec §8).
func RankViolations() int64 { return rankViolations.Load() }

// Scope tracks the ranks held by a single logical operation (typically one
// call into Insert/Search) and flags any acquisition that doesn't strictly
// increase the held rank. Go has no portable goroutine-local storage, so
// the scope is an explicit value threaded through the call — callers
// construct one with NewScope at the top of each public entry point and
// pass it down instead of relying on thread identity.
type Scope struct {
	stack []Rank
}

// NewScope starts a new lock-tracking scope for one logical operation.
func NewScope() *Scope {
	return &Scope{}
}

// Acquire records the intent to take a lock at rank r. If r is not
// strictly greater than the top of the held stack, it's a rank violation:
// the violation counter increments but the function does not panic —
// searches must never crash on contention, per spec §5.
func (s *Scope) Acquire(r Rank) {
	if len(s.stack) > 0 && r <= s.stack[len(s.stack)-1] {
		rankViolations.Add(1)
	}
	s.stack = append(s.stack, r)
}

// Release pops the most recently acquired rank. Mirrors the acquisition
// order; a mismatched release (not unwinding the top of the stack) is
// itself a violation.
func (s *Scope) Release(r Rank) {
	if len(s.stack) == 0 || s.stack[len(s.stack)-1] != r {
		rankViolations.Add(1)
		return
	}
	s.stack = s.stack[:len(s.stack)-1]
}
