package fstack

import (
	"math"
	"testing"

	"github.com/haavardp/fishjit/pkg/fishtype"
)

func TestPushPopInt(t *testing.T) {
	s := New(4)
	s.PushInt(1)
	s.PushInt(2)
	s.PushInt(3)
	if s.Len() != 3 {
		t.Fatalf("len = %d, want 3", s.Len())
	}
	if v := s.PopInt(); v != 3 {
		t.Fatalf("pop = %d, want 3", v)
	}
	if v := s.PopInt(); v != 2 {
		t.Fatalf("pop = %d, want 2", v)
	}
}

func TestPopEmptyIsZero(t *testing.T) {
	s := New(1)
	if v := s.PopInt(); v != 0 {
		t.Fatalf("pop empty = %d, want 0", v)
	}
}

func TestPushFloatRoundTrips(t *testing.T) {
	s := New(1)
	s.PushFloat(3.5)
	bits, tag, ok := s.Pop()
	if !ok || tag != fishtype.TagFloat {
		t.Fatalf("expected float cell, tag=%v ok=%v", tag, ok)
	}
	if got := math.Float64frombits(uint64(bits)); got != 3.5 {
		t.Fatalf("pop float = %v, want 3.5", got)
	}
}

func TestReverse(t *testing.T) {
	s := New(4)
	s.PushInt(1)
	s.PushInt(2)
	s.PushInt(3)
	s.Reverse()
	if v := s.PopInt(); v != 1 {
		t.Fatalf("after reverse, top = %d, want 1", v)
	}
}

func TestShiftLeftAndRight(t *testing.T) {
	s := New(4)
	s.PushInt(1)
	s.PushInt(2)
	s.PushInt(3)
	s.ShiftLeft(3)
	// before: [1 2 3] (3 on top); shift-left(3): deepest (1) becomes top
	if v := s.PopInt(); v != 1 {
		t.Fatalf("after ShiftLeft, top = %d, want 1", v)
	}
	s.PushInt(1)
	s.ShiftRight(3)
	// [2 3 1] with 1 on top -> shift-right: top (1) becomes deepest
	if v := s.PopInt(); v != 3 {
		t.Fatalf("after ShiftRight, top = %d, want 3", v)
	}
}

func TestPeekAt(t *testing.T) {
	s := New(2)
	s.PushInt(10)
	s.PushInt(20)
	bits, _, ok := s.PeekAt(1)
	if !ok || bits != 10 {
		t.Fatalf("PeekAt(1) = %d ok=%v, want 10", bits, ok)
	}
}
