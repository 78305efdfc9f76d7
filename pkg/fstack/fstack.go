// Package fstack implements the typed value stack a compiled trace and
// the fallback interpreter share. Cells are 9 bytes (an 8-byte payload
// plus a 1-byte tag) and live in one contiguous buffer addressed
// directly by JIT-emitted code through StackDescriptor, so the layout
// here is load-bearing ABI, not just an implementation detail.
package fstack

/*
#include "stack_helpers.h"
*/
import "C"

import (
	"math"
	"runtime"
	"unsafe"

	"github.com/haavardp/fishjit/pkg/fishtype"
)

const cellSize = 9

// StackDescriptor is the struct the JIT's r_stack register points at.
// Its field order and widths are fixed by spec.md §3: an 8-byte count
// followed by an 8-byte data pointer, then the single-cell register
// slot `&` swaps into and out of. Do not reorder these fields —
// pkg/jit's emit_shared.go hard-codes field offsets from this layout,
// and stack_helpers.h mirrors it on the C side.
type StackDescriptor struct {
	NumItems    int64
	Data        unsafe.Pointer
	RegValue    int64
	RegTag      int64
	RegOccupied int64
}

// Stack is the Go-side owner of a StackDescriptor's backing buffer. It
// grows the buffer geometrically, the same way the teacher's register
// file grows its spill slots, and keeps StackDescriptor in sync on every
// mutation so compiled code always sees a consistent view.
type Stack struct {
	buf  []byte
	desc StackDescriptor
}

// New returns an empty stack with capacity for at least initialCap
// cells preallocated.
func New(initialCap int) *Stack {
	s := &Stack{}
	if initialCap < 1 {
		initialCap = 1
	}
	s.buf = make([]byte, 0, initialCap*cellSize)
	s.sync()
	return s
}

// Descriptor returns the live descriptor compiled code should be handed
// (as r_stack). The pointer embedded in it is only valid until the next
// mutation that grows the buffer; callers must re-fetch after any push
// past capacity.
func (s *Stack) Descriptor() *StackDescriptor {
	return &s.desc
}

func (s *Stack) sync() {
	s.desc.NumItems = int64(len(s.buf) / cellSize)
	if cap(s.buf) == 0 {
		s.desc.Data = nil
		return
	}
	s.desc.Data = unsafe.Pointer(&s.buf[:1][0])
}

// Len reports the number of cells currently on the stack.
func (s *Stack) Len() int {
	return len(s.buf) / cellSize
}

// PushInt pushes an integer cell.
func (s *Stack) PushInt(v int64) {
	s.push(v, fishtype.TagInteger)
}

// PushFloat pushes a float cell. The payload is the IEEE-754 bit
// pattern of v, matching what the x87 emitters store via FISTP/FSTP.
func (s *Stack) PushFloat(v float64) {
	s.push(int64(math.Float64bits(v)), fishtype.TagFloat)
}

func (s *Stack) push(bits int64, tag fishtype.Tag) {
	var cell [cellSize]byte
	*(*int64)(unsafe.Pointer(&cell[0])) = bits
	cell[8] = byte(tag)
	s.buf = append(s.buf, cell[:]...)
	s.sync()
}

// Pop removes and returns the top cell. ok is false on an empty stack,
// mirroring spec.md §4.3's "pop on empty stack yields 0" rule being the
// caller's responsibility, not this method's — callers that want the
// zero-on-underflow semantics check ok themselves.
func (s *Stack) Pop() (bits int64, tag fishtype.Tag, ok bool) {
	n := len(s.buf)
	if n == 0 {
		return 0, fishtype.TagInteger, false
	}
	off := n - cellSize
	bits = *(*int64)(unsafe.Pointer(&s.buf[off]))
	tag = fishtype.Tag(s.buf[off+8])
	s.buf = s.buf[:off]
	s.sync()
	return bits, tag, true
}

// PopInt pops a cell and coerces it to an integer the way spec.md's
// arithmetic opcodes do: a float payload is truncated.
func (s *Stack) PopInt() int64 {
	bits, tag, ok := s.Pop()
	if !ok {
		return 0
	}
	if tag == fishtype.TagFloat {
		return int64(math.Float64frombits(uint64(bits)))
	}
	return bits
}

// PeekAt returns the cell at depth d from the top (0 is the top
// element) without removing it. ok is false if the stack is shallower
// than d+1 cells.
func (s *Stack) PeekAt(d int) (bits int64, tag fishtype.Tag, ok bool) {
	n := s.Len()
	if d < 0 || d >= n {
		return 0, fishtype.TagInteger, false
	}
	off := (n - 1 - d) * cellSize
	bits = *(*int64)(unsafe.Pointer(&s.buf[off]))
	tag = fishtype.Tag(s.buf[off+8])
	return bits, tag, true
}

// Resync reslices buf to match the descriptor's NumItems after
// compiled code has mutated the stack directly through the
// descriptor's Data pointer, bypassing Go's append. Callers that hand
// a Stack's descriptor to a compiled block must call this once the
// block returns, before using any other Stack method.
func (s *Stack) Resync() {
	s.buf = s.buf[:s.desc.NumItems*cellSize]
}

// Reserve ensures the backing buffer has room for n more cells without
// reallocating. Compiled traces never grow the buffer themselves — the
// interpreter driver calls Reserve with a block's MaxStackChange
// before every Run, matching spec.md §4's max_stack_change contract.
func (s *Stack) Reserve(n int) {
	need := len(s.buf) + n*cellSize
	if need <= cap(s.buf) {
		return
	}
	grown := make([]byte, len(s.buf), need*2)
	copy(grown, s.buf)
	s.buf = grown
	s.sync()
}

// Clear empties the stack without shrinking its backing buffer.
func (s *Stack) Clear() {
	s.buf = s.buf[:0]
	s.sync()
}

// Reverse reverses the stack in place via the cgo helper exercised
// directly by compiled traces for the `r` opcode (spec.md §4.3). Go
// code calls the same helper rather than duplicating the cell-swap
// logic in two places.
func (s *Stack) Reverse() {
	if s.Len() < 2 {
		return
	}
	var pin runtime.Pinner
	pin.Pin(s.desc.Data)
	defer pin.Unpin()
	C.fish_reverse_stack((*C.fish_stack_descriptor)(unsafe.Pointer(&s.desc)), C.long(cellSize))
}

// ShiftLeft rotates the top n cells one position left (the `{` opcode):
// the deepest of the n moves to the top.
func (s *Stack) ShiftLeft(n int) {
	if n < 2 || n > s.Len() {
		return
	}
	var pin runtime.Pinner
	pin.Pin(s.desc.Data)
	defer pin.Unpin()
	C.fish_shift_left((*C.fish_stack_descriptor)(unsafe.Pointer(&s.desc)), C.long(n), C.long(cellSize))
}

// ShiftRight rotates the top n cells one position right (the `}`
// opcode): the top moves to the deepest of the n.
func (s *Stack) ShiftRight(n int) {
	if n < 2 || n > s.Len() {
		return
	}
	var pin runtime.Pinner
	pin.Pin(s.desc.Data)
	defer pin.Unpin()
	C.fish_shift_right((*C.fish_stack_descriptor)(unsafe.Pointer(&s.desc)), C.long(n), C.long(cellSize))
}

// RegisterSwap implements `&` for the fallback single-step
// interpreter: moves the top of stack into the register slot, or the
// register slot back onto the stack, whichever the register's current
// state calls for. The push case needs one spare cell of capacity,
// same as compiled traces guarantee via max_stack_change.
func (s *Stack) RegisterSwap() {
	if s.desc.RegOccupied != 0 {
		s.Reserve(1)
	}
	var pin runtime.Pinner
	if s.desc.Data != nil {
		pin.Pin(s.desc.Data)
	}
	defer pin.Unpin()
	C.fish_register_swap((*C.fish_stack_descriptor)(unsafe.Pointer(&s.desc)), C.long(cellSize))
	s.buf = s.buf[:s.desc.NumItems*cellSize]
}
