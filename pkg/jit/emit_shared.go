//go:build linux && amd64

package jit

import "github.com/haavardp/fishjit/pkg/fishtype"

// Scratch registers available to every emitter between foreign calls.
// RDI/RSI held the incoming arguments before the prologue moved them
// into rStack/endState, so they're free; the System V ABI guarantees a
// foreign call never clobbers rStack/rStackNum/rStackTop/endState
// (all callee-saved), so no save/restore is needed around helper
// calls — only rStackNum must be spilled into the descriptor first,
// since the helper reads it from memory, not from a register.
const (
	scratch1 = RAX
	scratch2 = RCX
	scratch3 = RDX
	scratch4 = RDI
	scratch5 = RSI
)

// scratchFrameSize is the native-stack scratch area the prologue
// reserves below RSP for x87 memory operands (see emitPrologue).
const scratchFrameSize = 16

// stack descriptor field offsets (fstack.StackDescriptor: NumItems
// int64 at 0, Data unsafe.Pointer at 8).
const (
	descNumItemsOff = 0
	descDataOff     = 8
)

// end-state field offsets (fishtype.State: Row int64 at 0, Col int64
// at 8, Dir byte at 16).
const (
	stateRowOff = 0
	stateColOff = 8
	stateDirOff = 16
)

func (c *compiler) emitPrologue() {
	a := c.asm
	a.Push(RBX)
	a.Push(R12)
	a.Push(R13)
	a.Push(R14)
	a.Push(R15)

	a.MovRegReg(rStack, RDI)
	a.MovRegReg(endState, RSI)
	a.MovRegMem64(rStackNum, rStack, descNumItemsOff)
	a.MovRegMem64(rStackTop, rStack, descDataOff)
	// rStackTop = Data + NumItems*cellSize
	a.IMulRegRegImm32(scratch1, rStackNum, cellSize)
	a.AddRegReg(rStackTop, scratch1)

	// 16 bytes of scratch stack space, used as the memory operand x87
	// loads/stores need (there is no direct GP-register <-> x87
	// transfer) and as temporary storage for the few helper calls that
	// need a stack-allocated argument slot.
	a.SubRegImm32(RSP, scratchFrameSize)
}

// emitEpilogueLabel emits the single shared epilogue every exit path
// jumps to: spill rStackNum back into the descriptor, restore
// callee-saved registers, return rRet.
func (c *compiler) emitEpilogueLabel() {
	c.epilogueOffset = c.asm.Offset()
	a := c.asm
	a.MovMemReg64(rStack, descNumItemsOff, rStackNum)
	a.AddRegImm32(RSP, scratchFrameSize)
	a.Pop(R15)
	a.Pop(R14)
	a.Pop(R13)
	a.Pop(R12)
	a.Pop(RBX)
	a.Ret()
}

// emitJumpEpilogueImm sets rRet to ret and queues a near jump to the
// epilogue, patched once its offset is known.
func (c *compiler) emitJumpEpilogueImm(ret int32) {
	c.asm.MovRegImm32SignExt(rRet, ret)
	site := c.asm.JmpRel32Placeholder()
	c.pendingEpilogueJumps = append(c.pendingEpilogueJumps, site)
}

// emitWriteEndStateImm writes a compile-time-known IP state into
// *endState. Used on every exit whose successor state the trace
// driver can compute statically — which is every exit except the `.`
// jump opcode's runtime-popped target.
func (c *compiler) emitWriteEndStateImm(state fishtype.State) {
	a := c.asm
	a.MovRegImm64(scratch1, uint64(state.Row))
	a.MovMemReg64(endState, stateRowOff, scratch1)
	a.MovRegImm64(scratch1, uint64(state.Col))
	a.MovMemReg64(endState, stateColOff, scratch1)
	a.MovMem8Imm(endState, stateDirOff, byte(state.Dir))
}

// emitUnderflowCheck asserts at least n items are on the stack
// (spec.md §4.3's underflow check shared by every binary op and `?`,
// `~`, `:`/dup when n=1, `$`/`@` for n=2/3). On failure it writes the
// faulting IP — the opcode's own position — into end_state, sets
// rRet=1, and jumps to the epilogue.
func (c *compiler) emitUnderflowCheck(n int32) {
	a := c.asm
	a.CmpRegImm32(rStackNum, n)
	okSite := a.JccRel32Placeholder(ccJGE)
	c.emitWriteEndStateImm(c.state)
	c.emitJumpEpilogueImm(1)
	a.PatchRel32(okSite, a.Offset())
}

// emitPopCell pops the top cell, leaving its 8-byte payload in
// valueReg and its tag byte (zero-extended) in tagReg.
func (c *compiler) emitPopCell(valueReg, tagReg Reg) {
	a := c.asm
	a.SubRegImm32(rStackTop, cellSize)
	a.SubRegImm32(rStackNum, 1)
	a.MovRegMem64(valueReg, rStackTop, 0)
	a.MovRegMem8(tagReg, rStackTop, 8)
}

// emitPushCell pushes a cell whose payload is already in valueReg and
// whose tag is the compile-time-known tag.
func (c *compiler) emitPushCell(valueReg Reg, tag fishtype.Tag) {
	a := c.asm
	a.MovMemReg64(rStackTop, 0, valueReg)
	a.MovMem8Imm(rStackTop, 8, byte(tag))
	a.AddRegImm32(rStackTop, cellSize)
	a.AddRegImm32(rStackNum, 1)
}

// emitPushImmCell pushes a compile-time-known integer literal.
func (c *compiler) emitPushImmCell(value int64) {
	a := c.asm
	a.MovRegImm64(scratch1, uint64(value))
	c.emitPushCell(scratch1, fishtype.TagInteger)
}

// emitSpillStackNum stores the cached count back into the descriptor
// before a foreign call that reads it from memory (spec.md §4.3's
// "spill the cached r_stacknum back into the stack descriptor" for
// `r`, `{`, `}`).
func (c *compiler) emitSpillStackNum() {
	c.asm.MovMemReg64(rStack, descNumItemsOff, rStackNum)
}

// loadFloatBits pushes the float64 whose bits are held in valReg onto
// the x87 stack as ST(0), via the scratch frame (there is no direct
// GP-register-to-x87 transfer).
func (c *compiler) loadFloatBits(valReg Reg) {
	c.asm.MovMemReg64(RSP, 0, valReg)
	c.asm.FldMem64(RSP, 0)
}

// loadFloatFromInt converts the integer in valReg to float64 and
// pushes it onto the x87 stack as ST(0).
func (c *compiler) loadFloatFromInt(valReg Reg) {
	c.asm.MovMemReg64(RSP, 0, valReg)
	c.asm.FildMem64(RSP, 0)
}

// storeFloatBits pops ST(0), storing its float64 bit pattern into
// dstReg.
func (c *compiler) storeFloatBits(dstReg Reg) {
	c.asm.FstpMem64(RSP, 0)
	c.asm.MovRegMem64(dstReg, RSP, 0)
}

// storeFloatAsInt pops ST(0), truncating it toward zero to an int64
// into dstReg. It emits fisttp qword [rsp] (DD /1), which truncates
// regardless of the x87 rounding mode.
func (c *compiler) storeFloatAsInt(dstReg Reg) {
	c.asm.emit(0xDD)
	c.asm.emitMemOperand(1, RSP, 0)
	c.asm.MovRegMem64(dstReg, RSP, 0)
}

// emitForeignCall emits a call through an absolute address already
// known at compile time, via RAX. Used for the four fish_* stack
// helpers (reverse, shift left, shift right, register swap); printf,
// getchar and rand are called through R11 by their own emitters.
func (c *compiler) emitForeignCall(addr uintptr) {
	a := c.asm
	a.MovRegImm64(scratch1, uint64(addr))
	a.CallReg(scratch1)
}
