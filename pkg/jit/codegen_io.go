//go:build linux && amd64

package jit

import (
	"unsafe"

	"github.com/haavardp/fishjit/pkg/fishtype"
)

// emitPrintfCallInt calls printf(fmt, valReg) with an integer variadic
// argument: RDI=fmt, RSI=value, AL=0 (no vector-register variadic
// args), per the System V ABI's hidden AL argument-count convention
// for varargs callees (spec.md §4.3's "variadic-float count in r0").
// The call address is loaded into R11, not RAX, so setting AL survives
// until the call.
func (c *compiler) emitPrintfCallInt(fmtAddr uintptr, valReg Reg) {
	a := c.asm
	a.MovRegImm64(RDI, uint64(fmtAddr))
	if valReg != RSI {
		a.MovRegReg(RSI, valReg)
	}
	a.MovRegImm32SignExt(RAX, 0)
	a.MovRegImm64(R11, uint64(addrPrintf))
	a.CallReg(R11)
}

// emitPrintfCallFloat calls printf(fmt, valReg) with valReg's bits
// reinterpreted as a float64 variadic argument in xmm0, AL=1.
func (c *compiler) emitPrintfCallFloat(fmtAddr uintptr, valReg Reg) {
	a := c.asm
	a.MovRegImm64(RDI, uint64(fmtAddr))
	a.MovqXmm0Reg(valReg)
	a.MovRegImm32SignExt(RAX, 1)
	a.MovRegImm64(R11, uint64(addrPrintf))
	a.CallReg(R11)
}

// emitOutputChar emits `o`: pop and print as a character. A float
// payload is truncated to an integer character code first.
func (c *compiler) emitOutputChar() {
	c.emitUnderflowCheck(1)
	val, tag := scratch1, scratch2
	c.emitPopCell(val, tag)
	c.coerceOperandToInt(val, tag)
	c.emitPrintfCallInt(fmtCharAddr, val)
}

// emitOutputNumber emits `n`: pop and print, choosing %ld or %.16g by
// the popped cell's tag.
func (c *compiler) emitOutputNumber() {
	c.emitUnderflowCheck(1)
	a := c.asm
	val, tag := scratch1, scratch2
	c.emitPopCell(val, tag)

	a.CmpRegImm32(tag, int32(fishtype.TagFloat))
	isFloat := a.JccRel32Placeholder(ccJE)
	c.emitPrintfCallInt(fmtIntAddr, val)
	done := a.JmpRel32Placeholder()
	a.PatchRel32(isFloat, a.Offset())
	c.emitPrintfCallFloat(fmtFloatAddr, val)
	a.PatchRel32(done, a.Offset())
}

// emitInputChar emits `i`: read one character from the host and push
// it as INTEGER, with EOF mapped to -1 (spec.md §8's boundary case).
// getchar returns a 32-bit int; the upper 32 bits of RAX are
// unspecified on return, so the result must be explicitly
// sign-extended before it becomes a 64-bit cell payload.
func (c *compiler) emitInputChar() {
	a := c.asm
	a.MovRegImm64(R11, uint64(addrGetchar))
	a.CallReg(R11)
	a.MovSxd(RAX, RAX)
	c.emitPushCell(RAX, fishtype.TagInteger)
}

// emitRandomDirection emits `x`: call the host random source, mask to
// two bits, and branch to one of four inlined writes of the
// corresponding next IP state (computed at compile time by virtually
// advancing a copy of the IP in each direction). Always a trace
// closer.
func (c *compiler) emitRandomDirection() {
	a := c.asm
	a.MovRegImm64(R11, uint64(addrRand))
	a.CallReg(R11)
	a.AndRegImm32(RAX, 3)

	// Each candidate's write ends in an unconditional jump to the
	// epilogue (via writeRandomTarget -> emitJumpEpilogueImm), so the
	// only control flow needed per candidate is "skip to the next
	// comparison if this isn't the masked value". The last candidate
	// needs no comparison: RAX is already known to be 0-3.
	dirs := [4]fishtype.Direction{fishtype.Right, fishtype.Left, fishtype.Up, fishtype.Down}
	for i := 0; i < 3; i++ {
		a.CmpRegImm32(RAX, int32(i))
		next := a.JccRel32Placeholder(ccJNE)
		c.writeRandomTarget(dirs[i])
		a.PatchRel32(next, a.Offset())
	}
	c.writeRandomTarget(dirs[3])
	c.state.Dir = fishtype.Finished
}

// writeRandomTarget virtually advances a copy of the current IP in dir
// and writes the resulting state into end_state, then jumps to the
// epilogue with ret=0.
func (c *compiler) writeRandomTarget(dir fishtype.Direction) {
	next := c.state
	next.Dir = dir
	c.box.Next(&next)
	c.emitWriteEndStateImm(next)
	c.emitJumpEpilogueImm(0)
}

// gridDescAddr returns the (stable for the Grid's lifetime) address of
// the codebox's descriptor, embedded as an immediate in the emitted
// call setup.
func (c *compiler) gridDescAddr() uintptr {
	return uintptr(unsafe.Pointer(c.box.Descriptor()))
}

// emitGet emits `g`: pop y then x, push the codebox cell at (row=y,
// col=x) as INTEGER. Matches the classic ><> argument order: values
// are pushed x then y, so y sits on top.
func (c *compiler) emitGet() {
	c.emitUnderflowCheck(2)
	a := c.asm
	yVal, yTag := scratch1, scratch2
	xVal, xTag := scratch3, scratch4
	c.emitPopCell(yVal, yTag)
	c.emitPopCell(xVal, xTag)
	c.coerceOperandToInt(yVal, yTag)
	c.coerceOperandToInt(xVal, xTag)

	a.MovRegImm64(RDI, uint64(c.gridDescAddr()))
	a.MovRegReg(RSI, yVal)
	a.MovRegReg(RDX, xVal)
	a.MovRegImm64(R11, uint64(addrGridGet))
	a.CallReg(R11)
	c.emitPushCell(RAX, fishtype.TagInteger)
}

// emitPut emits `p`: pop v, y, x (v on top) and write v at (row=y,
// col=x) in the codebox.
func (c *compiler) emitPut() {
	c.emitUnderflowCheck(3)
	a := c.asm
	val, valTag := scratch1, scratch2
	yVal, yTag := scratch3, scratch4
	xVal, xTag := scratch5, R8
	c.emitPopCell(val, valTag)
	c.emitPopCell(yVal, yTag)
	c.emitPopCell(xVal, xTag)
	c.coerceOperandToInt(val, valTag)
	c.coerceOperandToInt(yVal, yTag)
	c.coerceOperandToInt(xVal, xTag)

	// xVal and yVal alias the argument registers RSI/RDX with their roles
	// swapped (xVal is RSI but belongs in RDX; yVal is RDX but belongs in
	// RSI), so writing them straight across clobbers one before it's
	// read. Stage x through R9 to break the cycle.
	a.MovRegImm64(RDI, uint64(c.gridDescAddr()))
	a.MovRegReg(R9, xVal)
	a.MovRegReg(RSI, yVal)
	a.MovRegReg(RDX, R9)
	a.MovRegReg(RCX, val)
	a.MovRegImm64(R11, uint64(addrGridPut))
	a.CallReg(R11)
}
