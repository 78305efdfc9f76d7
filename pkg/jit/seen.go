//go:build linux && amd64

package jit

import "github.com/haavardp/fishjit/pkg/fishtype"

// seenStates is the trace driver's cycle-detection set (spec.md §4.4):
// a hash set keyed on the full IP state, populated only with states
// that were new when visited. Go's map already gives us identity
// hashing over a comparable struct key, so there is no separate
// hash/bucket implementation to write — the teacher's own register-VM
// JIT does the equivalent with a plain map keyed by PC, and spec.md's
// "open-addressing table with identity hash" note is exactly what
// map[fishtype.State]struct{} already is, just not reimplemented.
type seenStates struct {
	set map[fishtype.State]struct{}
}

func newSeenStates() *seenStates {
	return &seenStates{set: make(map[fishtype.State]struct{})}
}

// visit reports whether state was already present, inserting it if
// not. Only new-at-time-of-visit states are ever inserted.
func (s *seenStates) visit(state fishtype.State) (alreadySeen bool) {
	if _, ok := s.set[state]; ok {
		return true
	}
	s.set[state] = struct{}{}
	return false
}
