//go:build linux && amd64

package jit

// x87 FPU support for the float fallback path: arithmetic between two
// cells where either carries the FLOAT tag promotes through the x87
// stack rather than SSE2, matching the source interpreter spec.md §4.3
// describes (division and mixed-tag arithmetic "promotes to float").

// FldMem64: fld qword [base+disp] (load float64 from memory onto the
// x87 stack, ST(0)).
func (a *Assembler) FldMem64(base Reg, disp int32) {
	if base >= 8 {
		a.emit(rex(false, false, false, true))
	}
	a.emit(0xDD)
	a.emitMemOperand(0, base, disp)
}

// FildMem64: fild qword [base+disp] (load int64, converting to float,
// onto the x87 stack).
func (a *Assembler) FildMem64(base Reg, disp int32) {
	if base >= 8 {
		a.emit(rex(false, false, false, true))
	}
	a.emit(0xDF)
	a.emitMemOperand(5, base, disp)
}

// FstpMem64: fstp qword [base+disp] (store ST(0) as float64 and pop).
func (a *Assembler) FstpMem64(base Reg, disp int32) {
	if base >= 8 {
		a.emit(rex(false, false, false, true))
	}
	a.emit(0xDD)
	a.emitMemOperand(3, base, disp)
}

// FistpMem64: fistp qword [base+disp] (store ST(0) as int64,
// rounded per the current x87 rounding mode, and pop).
func (a *Assembler) FistpMem64(base Reg, disp int32) {
	if base >= 8 {
		a.emit(rex(false, false, false, true))
	}
	a.emit(0xDF)
	a.emitMemOperand(7, base, disp)
}

// Faddp/Fsubp/Fmulp/Fdivp: ST(1) = ST(1) op ST(0), pop ST(0). Used for
// the four binary arithmetic opcodes once both operands have been
// loaded onto the x87 stack with the second-popped operand loaded
// first (so it ends up as ST(1), matching "a op b" with a popped
// first at runtime).
func (a *Assembler) Faddp() { a.emit(0xDE, 0xC1) }
func (a *Assembler) Fsubp() { a.emit(0xDE, 0xE9) }
func (a *Assembler) Fmulp() { a.emit(0xDE, 0xC9) }
func (a *Assembler) Fdivp() { a.emit(0xDE, 0xF9) }

// Fldz: load +0.0 onto the x87 stack, used by the `?` opcode's float
// comparison path.
func (a *Assembler) Fldz() { a.emit(0xD9, 0xEE) }

// FstpDiscard: fstp st(0) — pop ST(0) without storing it anywhere,
// used to drop the second x87 stack slot Fucomip leaves behind (the
// -ip form pops only the one it compares).
func (a *Assembler) FstpDiscard() { a.emit(0xDD, 0xD8) }

// Fucomip: compare ST(0) to ST(1), pop ST(0), and set the integer
// flags (ZF/PF/CF) the way FUCOMI does — spec.md §4.1 calls this out
// as the FUCOMI/FSTSW-equivalent flag test. Using the -ip form avoids
// a separate FSTSW/SAHF round trip.
func (a *Assembler) Fucomip() { a.emit(0xDF, 0xE9) }
