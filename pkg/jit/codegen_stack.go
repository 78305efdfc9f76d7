//go:build linux && amd64

package jit

import "github.com/haavardp/fishjit/pkg/fishtype"

// emitDup duplicates the top cell (`:`).
func (c *compiler) emitDup() {
	c.emitUnderflowCheck(1)
	a := c.asm
	val, tag := scratch1, scratch2
	a.MovRegMem64(val, rStackTop, -cellSize)
	a.MovRegMem8(tag, rStackTop, -cellSize+8)
	a.MovMemReg64(rStackTop, 0, val)
	a.MovMem8Reg(rStackTop, 8, tag)
	a.AddRegImm32(rStackTop, cellSize)
	a.AddRegImm32(rStackNum, 1)
}

// emitSwap swaps the top two cells (`$`).
func (c *compiler) emitSwap() {
	c.emitUnderflowCheck(2)
	a := c.asm
	top, topTag := scratch1, scratch2
	below, belowTag := scratch3, scratch4
	a.MovRegMem64(top, rStackTop, -cellSize)
	a.MovRegMem8(topTag, rStackTop, -cellSize+8)
	a.MovRegMem64(below, rStackTop, -2*cellSize)
	a.MovRegMem8(belowTag, rStackTop, -2*cellSize+8)

	a.MovMemReg64(rStackTop, -cellSize, below)
	a.MovMem8Reg(rStackTop, -cellSize+8, belowTag)
	a.MovMemReg64(rStackTop, -2*cellSize, top)
	a.MovMem8Reg(rStackTop, -2*cellSize+8, topTag)
}

// emitRotate3 implements `@`: a b c -> b c a (the third-from-top cell
// moves to the top, the other two shift down).
func (c *compiler) emitRotate3() {
	c.emitUnderflowCheck(3)
	a := c.asm
	va, ta := scratch1, scratch2
	vb, tb := scratch3, scratch4
	vc, tc := scratch5, R8

	a.MovRegMem64(vc, rStackTop, -cellSize)
	a.MovRegMem8(tc, rStackTop, -cellSize+8)
	a.MovRegMem64(vb, rStackTop, -2*cellSize)
	a.MovRegMem8(tb, rStackTop, -2*cellSize+8)
	a.MovRegMem64(va, rStackTop, -3*cellSize)
	a.MovRegMem8(ta, rStackTop, -3*cellSize+8)

	a.MovMemReg64(rStackTop, -3*cellSize, vb)
	a.MovMem8Reg(rStackTop, -3*cellSize+8, tb)
	a.MovMemReg64(rStackTop, -2*cellSize, vc)
	a.MovMem8Reg(rStackTop, -2*cellSize+8, tc)
	a.MovMemReg64(rStackTop, -cellSize, va)
	a.MovMem8Reg(rStackTop, -cellSize+8, ta)
}

// emitDrop discards the top cell (`~`).
func (c *compiler) emitDrop() {
	c.emitUnderflowCheck(1)
	a := c.asm
	a.SubRegImm32(rStackTop, cellSize)
	a.SubRegImm32(rStackNum, 1)
}

// emitPushLen pushes the current item count as INTEGER (`l`). No
// underflow check: length is defined on an empty stack too.
func (c *compiler) emitPushLen() {
	a := c.asm
	a.MovRegReg(scratch1, rStackNum)
	c.emitPushCell(scratch1, fishtype.TagInteger)
}

// emitRegisterSwap emits `&`: spill rStackNum, call the runtime's
// register-swap helper, then reload rStackNum/rStackTop since the
// helper may have changed the item count by one in either direction.
func (c *compiler) emitRegisterSwap() {
	a := c.asm
	c.emitSpillStackNum()
	a.MovRegReg(RDI, rStack)
	a.MovRegImm32SignExt(RSI, cellSize)
	c.emitForeignCall(addrRegisterSwap)
	a.MovRegMem64(rStackNum, rStack, descNumItemsOff)
	a.MovRegMem64(rStackTop, rStack, descDataOff)
	a.IMulRegRegImm32(scratch1, rStackNum, cellSize)
	a.AddRegReg(rStackTop, scratch1)
}

// emitReverse emits `r`: reverses the whole stack via foreign call.
// Item count is unchanged, so no reload is needed afterward. A stack
// of fewer than 2 items has nothing to reverse, matching the Go-side
// helper's own guard.
func (c *compiler) emitReverse() {
	a := c.asm
	a.CmpRegImm32(rStackNum, 2)
	skip := a.JccRel32Placeholder(ccJL)
	c.emitSpillStackNum()
	a.MovRegReg(RDI, rStack)
	a.MovRegImm32SignExt(RSI, cellSize)
	c.emitForeignCall(addrReverseStack)
	a.PatchRel32(skip, a.Offset())
}

// emitShiftLeft emits `{`: rotates the whole stack left by one cell
// (the bottom becomes the top) via foreign call.
func (c *compiler) emitShiftLeft() {
	c.emitShift(addrShiftLeft)
}

// emitShiftRight emits `}`: rotates the whole stack right by one cell
// (the top becomes the bottom) via foreign call.
func (c *compiler) emitShiftRight() {
	c.emitShift(addrShiftRight)
}

func (c *compiler) emitShift(addr uintptr) {
	a := c.asm
	a.CmpRegImm32(rStackNum, 2)
	skip := a.JccRel32Placeholder(ccJL)
	c.emitSpillStackNum()
	a.MovRegReg(RDI, rStack)
	a.MovRegReg(RSI, rStackNum)
	a.MovRegImm32SignExt(RDX, cellSize)
	c.emitForeignCall(addr)
	a.PatchRel32(skip, a.Offset())
}
