// Package guard provides scoped-resource-release helpers, generalizing the
// Rust source's alloc_guard.rs (crates/velesdb-core/src/alloc_guard.rs) into
// a Go idiom: a value that transfers ownership of its release function to
// whichever caller disarms it, and runs it on every other exit path.
package guard

// Guard runs release at most once, via Close, unless Disarm was called
// first. Used wherever a
// function opens a file handle or takes a lock and must release it on every
// exit path including an early return or a recovered panic, without relying
// on the caller remembering a matching defer at every call site.
type Guard struct {
	release func()
	armed   bool
}

// New wraps release in a Guard that is armed immediately.
func New(release func()) *Guard {
	return &Guard{release: release, armed: true}
}

// Disarm transfers ownership of the resource to the caller: the guard will
// no longer call release. Used once a function has successfully handed the
// resource off (e.g. stored the file handle on a long-lived struct).
func (g *Guard) Disarm() {
	g.armed = false
}

// Close runs release if the guard is still armed. Safe to call multiple
// times. Intended to be deferred immediately after New.
func (g *Guard) Close() {
	if g == nil || !g.armed {
		return
	}
	g.armed = false
	if g.release != nil {
		g.release()
	}
}
