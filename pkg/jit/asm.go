//go:build linux && amd64

package jit

import "encoding/binary"

// Reg is an x86-64 general-purpose register encoding (0-15, RAX-R15).
type Reg byte

const (
	RAX Reg = 0
	RCX Reg = 1
	RDX Reg = 2
	RBX Reg = 3
	RSP Reg = 4
	RBP Reg = 5
	RSI Reg = 6
	RDI Reg = 7
	R8  Reg = 8
	R9  Reg = 9
	R10 Reg = 10
	R11 Reg = 11
	R12 Reg = 12
	R13 Reg = 13
	R14 Reg = 14
	R15 Reg = 15
)

// Assembler emits x86-64 machine code into a growable buffer and
// resolves the local numeric labels (1-9) spec.md §4.1/§9 describe,
// GAS-style: a reference always means "the next definition of this
// number", resolved by whichever Label(n) call comes next, regardless
// of how many times n was defined earlier in the same trace. Labels
// are never referenced backward in this package's usage, so that form
// isn't implemented.
type Assembler struct {
	buf []byte

	// labelDefs[n] is the most recent offset at which Label(n) was
	// called, or -1 if Label(n) has not been called yet in this pass.
	labelDefs [10]int
	// forwardRefs[n] holds patch sites awaiting the next Label(n) call.
	forwardRefs [10][]pendingRef
}

type pendingRef struct {
	siteOffset int  // offset of the displacement field
	instrEnd   int  // offset one past the displacement field (rel is relative to this)
	short      bool // 1-byte vs 4-byte displacement
}

// NewAssembler returns an assembler with an empty, growable buffer.
func NewAssembler() *Assembler {
	a := &Assembler{buf: make([]byte, 0, 256)}
	for i := range a.labelDefs {
		a.labelDefs[i] = -1
	}
	return a
}

// Offset returns the current write position.
func (a *Assembler) Offset() int {
	return len(a.buf)
}

// Bytes returns the assembled code so far.
func (a *Assembler) Bytes() []byte {
	return a.buf
}

func (a *Assembler) emit(bytes ...byte) {
	a.buf = append(a.buf, bytes...)
}

func (a *Assembler) emitUint32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	a.buf = append(a.buf, tmp[:]...)
}

func (a *Assembler) emitUint64(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	a.buf = append(a.buf, tmp[:]...)
}

func (a *Assembler) emitInt32(v int32) {
	a.emitUint32(uint32(v))
}

// Label defines local numeric label n (1-9) at the current offset,
// patching any forward references recorded since the label was last
// defined (or since the assembler started, if never).
func (a *Assembler) Label(n int) {
	a.labelDefs[n] = a.Offset()
	a.patchLabel(n)
}

// jumpToLabel emits the displacement for a jump/Jcc targeting local
// label n. Every reference in this package means "the next time n is
// defined" (GAS's `Nf` forward form) — labels 1-9 are reused across a
// trace (label 9 once per fused skip) and a reference must never bind
// to a stale earlier definition of the same number, so the site is
// always queued and patched by the next Label(n) call, never resolved
// against whatever labelDefs[n] happens to hold already.
func (a *Assembler) jumpToLabel(n int, short bool) {
	if short {
		siteOffset := a.Offset()
		a.emit(0) // placeholder rel8
		a.forwardRefs[n] = append(a.forwardRefs[n], pendingRef{siteOffset: siteOffset, instrEnd: siteOffset + 1, short: true})
		return
	}
	siteOffset := a.Offset()
	a.emitInt32(0) // placeholder rel32
	a.forwardRefs[n] = append(a.forwardRefs[n], pendingRef{siteOffset: siteOffset, instrEnd: siteOffset + 4, short: false})
}

// link resolves any forward references left over once the trace is
// fully emitted. Per spec.md §4.1, an unresolved forward reference at
// this point (a label referenced but never defined) is an assembler
// failure.
func (a *Assembler) link() error {
	for n := 1; n <= 9; n++ {
		if len(a.forwardRefs[n]) > 0 {
			return &CompileError{Kind: ErrAssembler, Err: errUnresolvedLabel(n)}
		}
	}
	return nil
}

func (a *Assembler) patchLabel(n int) {
	target := a.labelDefs[n]
	refs := a.forwardRefs[n]
	a.forwardRefs[n] = nil
	for _, ref := range refs {
		var rel int32
		if ref.short {
			rel = int32(target - ref.instrEnd)
			a.buf[ref.siteOffset] = byte(rel)
		} else {
			rel = int32(target - ref.instrEnd)
			binary.LittleEndian.PutUint32(a.buf[ref.siteOffset:], uint32(rel))
		}
	}
}

func rex(w, r, x, b bool) byte {
	var prefix byte = 0x40
	if w {
		prefix |= 0x08
	}
	if r {
		prefix |= 0x04
	}
	if x {
		prefix |= 0x02
	}
	if b {
		prefix |= 0x01
	}
	return prefix
}

func rexW(reg, rm Reg) byte {
	return rex(true, reg >= 8, false, rm >= 8)
}

func modRM(mod byte, reg, rm Reg) byte {
	return mod | ((byte(reg) & 7) << 3) | (byte(rm) & 7)
}

func (a *Assembler) emitMemOperand(reg, base Reg, disp int32) {
	if base == RSP || base == R12 {
		if disp == 0 {
			a.emit(modRM(0x00, reg, RSP), 0x24)
		} else if disp >= -128 && disp <= 127 {
			a.emit(modRM(0x40, reg, RSP), 0x24, byte(disp))
		} else {
			a.emit(modRM(0x80, reg, RSP), 0x24)
			a.emitInt32(disp)
		}
	} else if base == RBP || base == R13 {
		if disp >= -128 && disp <= 127 {
			a.emit(modRM(0x40, reg, base), byte(disp))
		} else {
			a.emit(modRM(0x80, reg, base))
			a.emitInt32(disp)
		}
	} else if disp == 0 {
		a.emit(modRM(0x00, reg, base))
	} else if disp >= -128 && disp <= 127 {
		a.emit(modRM(0x40, reg, base), byte(disp))
	} else {
		a.emit(modRM(0x80, reg, base))
		a.emitInt32(disp)
	}
}

// MovRegReg: mov dst, src (64-bit)
func (a *Assembler) MovRegReg(dst, src Reg) {
	a.emit(rexW(src, dst), 0x89, modRM(0xC0, src, dst))
}

// MovRegImm64: mov reg, imm64
func (a *Assembler) MovRegImm64(reg Reg, imm uint64) {
	a.emit(rex(true, false, false, reg >= 8), 0xB8|byte(reg&7))
	a.emitUint64(imm)
}

// MovRegImm32SignExt: mov reg, imm32 (sign-extended to 64-bit)
func (a *Assembler) MovRegImm32SignExt(reg Reg, imm int32) {
	a.emit(rex(true, false, false, reg >= 8), 0xC7, modRM(0xC0, 0, reg))
	a.emitInt32(imm)
}

// MovRegMem64: mov reg, [base + disp]
func (a *Assembler) MovRegMem64(reg, base Reg, disp int32) {
	a.emit(rexW(reg, base), 0x8B)
	a.emitMemOperand(reg, base, disp)
}

// MovMemReg64: mov [base + disp], reg
func (a *Assembler) MovMemReg64(base Reg, disp int32, reg Reg) {
	a.emit(rexW(reg, base), 0x89)
	a.emitMemOperand(reg, base, disp)
}

// MovMem8Imm: mov byte [base + disp], imm8
func (a *Assembler) MovMem8Imm(base Reg, disp int32, imm byte) {
	if base >= 8 {
		a.emit(rex(false, false, false, true))
	}
	a.emit(0xC6)
	a.emitMemOperand(0, base, disp)
	a.emit(imm)
}

// MovMem8Reg: mov byte [base + disp], reg
func (a *Assembler) MovMem8Reg(base Reg, disp int32, reg Reg) {
	if reg >= 8 || base >= 8 || reg >= RSP {
		a.emit(rex(false, reg >= 8, false, base >= 8))
	}
	a.emit(0x88)
	a.emitMemOperand(reg, base, disp)
}

// MovRegMem8: movzx reg, byte [base + disp]
func (a *Assembler) MovRegMem8(reg, base Reg, disp int32) {
	a.emit(rexW(reg, base), 0x0F, 0xB6)
	a.emitMemOperand(reg, base, disp)
}

// AddRegReg: add dst, src
func (a *Assembler) AddRegReg(dst, src Reg) {
	a.emit(rexW(src, dst), 0x01, modRM(0xC0, src, dst))
}

// AddRegImm32: add reg, imm32
func (a *Assembler) AddRegImm32(reg Reg, imm int32) {
	if imm >= -128 && imm <= 127 {
		a.emit(rexW(0, reg), 0x83, modRM(0xC0, 0, reg), byte(imm))
	} else {
		a.emit(rexW(0, reg), 0x81, modRM(0xC0, 0, reg))
		a.emitInt32(imm)
	}
}

// SubRegReg: sub dst, src
func (a *Assembler) SubRegReg(dst, src Reg) {
	a.emit(rexW(src, dst), 0x29, modRM(0xC0, src, dst))
}

// SubRegImm32: sub reg, imm32
func (a *Assembler) SubRegImm32(reg Reg, imm int32) {
	if imm >= -128 && imm <= 127 {
		a.emit(rexW(0, reg), 0x83, modRM(0xC0, 5, reg), byte(imm))
	} else {
		a.emit(rexW(0, reg), 0x81, modRM(0xC0, 5, reg))
		a.emitInt32(imm)
	}
}

// IMulRegReg: imul dst, src (signed)
func (a *Assembler) IMulRegReg(dst, src Reg) {
	a.emit(rexW(dst, src), 0x0F, 0xAF, modRM(0xC0, dst, src))
}

// IMulRegRegImm32: imul dst, src, imm32 (signed, 3-operand form)
func (a *Assembler) IMulRegRegImm32(dst, src Reg, imm int32) {
	if imm >= -128 && imm <= 127 {
		a.emit(rexW(dst, src), 0x6B, modRM(0xC0, dst, src), byte(imm))
	} else {
		a.emit(rexW(dst, src), 0x69, modRM(0xC0, dst, src))
		a.emitInt32(imm)
	}
}

// AndRegImm32: and reg, imm32
func (a *Assembler) AndRegImm32(reg Reg, imm int32) {
	if imm >= -128 && imm <= 127 {
		a.emit(rexW(0, reg), 0x83, modRM(0xC0, 4, reg), byte(imm))
	} else {
		a.emit(rexW(0, reg), 0x81, modRM(0xC0, 4, reg))
		a.emitInt32(imm)
	}
}

// CmpRegReg: cmp left, right
func (a *Assembler) CmpRegReg(left, right Reg) {
	a.emit(rexW(right, left), 0x39, modRM(0xC0, right, left))
}

// CmpRegImm32: cmp reg, imm32
func (a *Assembler) CmpRegImm32(reg Reg, imm int32) {
	if imm >= -128 && imm <= 127 {
		a.emit(rexW(0, reg), 0x83, modRM(0xC0, 7, reg), byte(imm))
	} else {
		a.emit(rexW(0, reg), 0x81, modRM(0xC0, 7, reg))
		a.emitInt32(imm)
	}
}

// TestRegImm32: test reg, imm32 (AND without storing)
func (a *Assembler) TestRegImm32(reg Reg, imm int32) {
	a.emit(rexW(0, reg), 0xF7, modRM(0xC0, 0, reg))
	a.emitInt32(imm)
}

// Sete/Setne: set byte on equal/not-equal flags
func (a *Assembler) Sete(reg Reg) {
	if reg >= 8 || reg >= RSP {
		a.emit(rex(false, false, false, reg >= 8))
	}
	a.emit(0x0F, 0x94, modRM(0xC0, 0, reg))
}

func (a *Assembler) Setne(reg Reg) {
	if reg >= 8 || reg >= RSP {
		a.emit(rex(false, false, false, reg >= 8))
	}
	a.emit(0x0F, 0x95, modRM(0xC0, 0, reg))
}

func (a *Assembler) Setb(reg Reg) { // below, unsigned (CF=1)
	if reg >= 8 || reg >= RSP {
		a.emit(rex(false, false, false, reg >= 8))
	}
	a.emit(0x0F, 0x92, modRM(0xC0, 0, reg))
}

func (a *Assembler) Seta(reg Reg) { // above, unsigned (CF=0,ZF=0)
	if reg >= 8 || reg >= RSP {
		a.emit(rex(false, false, false, reg >= 8))
	}
	a.emit(0x0F, 0x97, modRM(0xC0, 0, reg))
}

func (a *Assembler) Setl(reg Reg) { // less, signed
	if reg >= 8 || reg >= RSP {
		a.emit(rex(false, false, false, reg >= 8))
	}
	a.emit(0x0F, 0x9C, modRM(0xC0, 0, reg))
}

func (a *Assembler) Setg(reg Reg) { // greater, signed
	if reg >= 8 || reg >= RSP {
		a.emit(rex(false, false, false, reg >= 8))
	}
	a.emit(0x0F, 0x9F, modRM(0xC0, 0, reg))
}

// Jump forward to local label n. Jmp/Jl/Jge use the short (rel8) form;
// Je/Jne use the near (rel32) form, since they guard whole fused-skip
// instruction bodies that can be longer than 127 bytes.
func (a *Assembler) Jmp(n int)  { a.emit(0xEB); a.jumpToLabel(n, true) }
func (a *Assembler) Je(n int)   { a.emit(0x0F, 0x84); a.jumpToLabel(n, false) }
func (a *Assembler) Jne(n int)  { a.emit(0x0F, 0x85); a.jumpToLabel(n, false) }
func (a *Assembler) Jl(n int)   { a.emit(0x7C); a.jumpToLabel(n, true) }
func (a *Assembler) Jge(n int)  { a.emit(0x7D); a.jumpToLabel(n, true) }

// JmpEpilogue / JeEpilogue etc. target the function-wide epilogue
// label rather than a local numeric label; the epilogue offset is not
// known until the trace driver finishes, so these always use the
// near (rel32) form and are patched via a dedicated pending list.
type epilogueRef struct {
	siteOffset int
}

// JmpRel32Placeholder emits a near unconditional jump with a
// zero placeholder displacement and returns its site offset for later
// patching once the epilogue's offset is known.
func (a *Assembler) JmpRel32Placeholder() int {
	a.emit(0xE9)
	site := a.Offset()
	a.emitInt32(0)
	return site
}

// JeRel32Placeholder/JneRel32Placeholder: conditional near jumps with
// a placeholder displacement, same patch protocol.
func (a *Assembler) JeRel32Placeholder() int {
	a.emit(0x0F, 0x84)
	site := a.Offset()
	a.emitInt32(0)
	return site
}

func (a *Assembler) JneRel32Placeholder() int {
	a.emit(0x0F, 0x85)
	site := a.Offset()
	a.emitInt32(0)
	return site
}

// Near-jump condition codes for JccRel32Placeholder.
const (
	ccJE  = 0x84
	ccJNE = 0x85
	ccJL  = 0x8C
	ccJGE = 0x8D
)

// JccRel32Placeholder emits a near conditional jump (0F 8x) with a
// placeholder rel32, for conditions beyond the JE/JNE-specific helpers
// above.
func (a *Assembler) JccRel32Placeholder(cc byte) int {
	a.emit(0x0F, cc)
	site := a.Offset()
	a.emitInt32(0)
	return site
}

// PatchRel32 fills in a previously emitted placeholder displacement
// (from one of the *Placeholder methods) now that target is known.
func (a *Assembler) PatchRel32(siteOffset, target int) {
	rel := int32(target - (siteOffset + 4))
	binary.LittleEndian.PutUint32(a.buf[siteOffset:], uint32(rel))
}

// CallReg: call reg (indirect call through a register holding an
// absolute address, the only call form the assembler needs since
// every foreign-call target is loaded via MovRegImm64 first).
func (a *Assembler) CallReg(reg Reg) {
	if reg >= 8 {
		a.emit(rex(false, false, false, true))
	}
	a.emit(0xFF, modRM(0xC0, 2, reg))
}

// Ret: ret
func (a *Assembler) Ret() { a.emit(0xC3) }

// Push/Pop: push/pop reg
func (a *Assembler) Push(reg Reg) {
	if reg >= 8 {
		a.emit(rex(false, false, false, true))
	}
	a.emit(0x50 | byte(reg&7))
}

func (a *Assembler) Pop(reg Reg) {
	if reg >= 8 {
		a.emit(rex(false, false, false, true))
	}
	a.emit(0x58 | byte(reg&7))
}

// Cqo: sign-extend RAX into RDX:RAX, needed before IDiv.
func (a *Assembler) Cqo() { a.emit(0x48, 0x99) }

// IDiv: idiv reg (signed divide RDX:RAX by reg)
func (a *Assembler) IDiv(reg Reg) {
	a.emit(rexW(0, reg), 0xF7, modRM(0xC0, 7, reg))
}

// NegReg: neg reg
func (a *Assembler) NegReg(reg Reg) {
	a.emit(rexW(0, reg), 0xF7, modRM(0xC0, 3, reg))
}

// MovSxd sign-extends the low 32 bits of src into all 64 bits of dst
// (movsxd dst, src). Used to widen a C `int` return value (getchar,
// rand) into the stack's 64-bit integer payload.
func (a *Assembler) MovSxd(dst, src Reg) {
	a.emit(rexW(dst, src), 0x63, modRM(0xC0, dst, src))
}
