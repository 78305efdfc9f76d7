//go:build linux && amd64

package jit

import (
	"strings"

	"github.com/haavardp/fishjit/pkg/fishtype"
)

// emitConditionalSkip emits `?`, the central fusion opcode (spec.md
// §4.3). It pops one cell, sets flags so ZF=1 means "the popped value
// was zero", consumes any consecutive `!` inverting that test, then
// either fuses into the following simple opcode (predicated jump to
// forward label 9) or bails out with a two-way end-state write when
// fusion isn't safe.
func (c *compiler) emitConditionalSkip() {
	c.emitUnderflowCheck(1)
	a := c.asm
	val, tag := scratch1, scratch2
	c.emitPopCell(val, tag)

	a.CmpRegImm32(tag, int32(fishtype.TagFloat))
	isFloat := a.JccRel32Placeholder(ccJE)
	a.CmpRegImm32(val, 0)
	merge := a.JmpRel32Placeholder()
	a.PatchRel32(isFloat, a.Offset())
	c.loadFloatBits(val)
	a.Fldz()
	a.Fucomip()
	a.FstpDiscard()
	a.PatchRel32(merge, a.Offset())
	// ZF=1 now means the popped value compared equal to zero,
	// regardless of which path set it.

	inverted := false
	for c.box.PeekNext(c.state) == fishtype.Cell('!') {
		c.box.Next(&c.state)
		inverted = !inverted
	}

	next := c.box.PeekNext(c.state)
	if strings.ContainsRune(simpleOpcodes, rune(next)) {
		if inverted {
			a.Jne(9)
		} else {
			a.Je(9)
		}
		c.condskip = true
		return
	}

	followingState := c.state
	c.box.Next(&followingState)
	skipState := followingState
	c.box.Next(&skipState)

	if inverted {
		a.Jne(1)
	} else {
		a.Je(1)
	}
	c.emitWriteEndStateImm(followingState)
	c.emitJumpEpilogueImm(0)
	a.Label(1)
	c.emitWriteEndStateImm(skipState)
	c.emitJumpEpilogueImm(0)
	c.state.Dir = fishtype.Finished
}

// emitJumpOpcode emits `.`: pop row then column, write them into
// end_state with a fixed resumption direction (the interpreter's
// normal step takes over from there), and exit. Coordinates are
// written unwrapped; codebox.Grid wraps on every read regardless of
// how it got there.
func (c *compiler) emitJumpOpcode() {
	c.emitUnderflowCheck(2)
	a := c.asm
	rowVal, rowTag := scratch1, scratch2
	colVal, colTag := scratch3, scratch4
	c.emitPopCell(rowVal, rowTag)
	c.emitPopCell(colVal, colTag)
	c.coerceOperandToInt(rowVal, rowTag)
	c.coerceOperandToInt(colVal, colTag)

	a.MovMemReg64(endState, stateRowOff, rowVal)
	a.MovMemReg64(endState, stateColOff, colVal)
	a.MovMem8Imm(endState, stateDirOff, byte(fishtype.Right))
	c.emitJumpEpilogueImm(0)
	c.state.Dir = fishtype.Finished
}

// emitEnd emits `;`: write FINISHED into end_state and exit with
// r_ret=0. If this `;` was reached as the fused instruction after a
// `?` (addskip still pending), the compile-time trace keeps going
// past it — its execution here is conditional on runtime data, not
// trace position — matching spec.md §4.2's termination rule.
func (c *compiler) emitEnd() {
	closing := c.state
	closing.Dir = fishtype.Finished
	c.emitWriteEndStateImm(closing)
	c.emitJumpEpilogueImm(0)
	if !c.addskip {
		c.state.Dir = fishtype.Finished
	}
}
