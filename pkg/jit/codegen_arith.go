//go:build linux && amd64

package jit

import "github.com/haavardp/fishjit/pkg/fishtype"

// emitArith emits the binary arithmetic opcodes `+ - * , %`. All five
// pop b then a (b was pushed last, so it's on top) and push a op b.
// `,` (division) always yields a float per spec.md §4.3; the other
// four stay integer unless either operand is tagged float, in which
// case they promote through the x87 stack. `%` is the one exception
// that stays integer-only: a float operand is truncated toward zero
// before the integer modulo, matching spec.md's "`%` always operates
// on integers" note.
func (c *compiler) emitArith(op rune) {
	a := c.asm
	c.emitUnderflowCheck(2)

	bVal, bTag := scratch1, scratch2
	aVal, aTag := scratch3, scratch4
	c.emitPopCell(bVal, bTag)
	c.emitPopCell(aVal, aTag)

	if op == ',' {
		c.emitDivide(aVal, aTag, bVal, bTag)
		return
	}
	if op == '%' {
		c.emitModulo(aVal, aTag, bVal, bTag)
		return
	}

	// Either tag is float -> float path.
	a.MovRegReg(scratch5, aTag)
	a.AndRegImm32(scratch5, int32(fishtype.TagFloat))
	floatSite := a.JccRel32Placeholder(ccJNE)
	a.CmpRegImm32(bTag, int32(fishtype.TagFloat))
	floatSite2 := a.JccRel32Placeholder(ccJE)

	// integer fast path
	switch op {
	case '+':
		a.AddRegReg(aVal, bVal)
	case '-':
		a.SubRegReg(aVal, bVal)
	case '*':
		a.IMulRegReg(aVal, bVal)
	}
	c.emitPushCell(aVal, fishtype.TagInteger)
	doneSite := a.JmpRel32Placeholder()

	a.PatchRel32(floatSite, a.Offset())
	a.PatchRel32(floatSite2, a.Offset())
	c.emitFloatArith(op, aVal, aTag, bVal, bTag)

	a.PatchRel32(doneSite, a.Offset())
}

// emitFloatArith loads a then b onto the x87 stack (coercing either
// operand from int if its tag says integer), so a ends up in ST(1)
// and b in ST(0), matching what Faddp/Fsubp/Fmulp compute as
// ST(1) op ST(0).
func (c *compiler) emitFloatArith(op rune, aVal, aTag, bVal, bTag Reg) {
	a := c.asm
	c.loadOperandAsFloat(aVal, aTag)
	c.loadOperandAsFloat(bVal, bTag)
	switch op {
	case '+':
		a.Faddp()
	case '-':
		a.Fsubp()
	case '*':
		a.Fmulp()
	}
	c.storeFloatBits(aVal)
	c.emitPushCell(aVal, fishtype.TagFloat)
}

// loadOperandAsFloat pushes valReg onto the x87 stack as a float64,
// converting from integer first if tagReg says it's an integer.
func (c *compiler) loadOperandAsFloat(valReg, tagReg Reg) {
	a := c.asm
	a.CmpRegImm32(tagReg, int32(fishtype.TagFloat))
	isFloat := a.JccRel32Placeholder(ccJE)
	c.loadFloatFromInt(valReg)
	done := a.JmpRel32Placeholder()
	a.PatchRel32(isFloat, a.Offset())
	c.loadFloatBits(valReg)
	a.PatchRel32(done, a.Offset())
}

// emitDivide always produces a float result: load a then b as floats
// (coercing ints), Fdivp, push FLOAT.
func (c *compiler) emitDivide(aVal, aTag, bVal, bTag Reg) {
	a := c.asm
	c.loadOperandAsFloat(aVal, aTag)
	c.loadOperandAsFloat(bVal, bTag)
	a.Fdivp()
	c.storeFloatBits(aVal)
	c.emitPushCell(aVal, fishtype.TagFloat)
}

// emitModulo always produces an integer result. Either operand tagged
// float is first truncated toward zero via the x87 stack, then the
// integer remainder is computed with Cqo+IDiv.
func (c *compiler) emitModulo(aVal, aTag, bVal, bTag Reg) {
	a := c.asm
	c.coerceOperandToInt(aVal, aTag)
	c.coerceOperandToInt(bVal, bTag)

	// bVal is RAX itself (scratch1), so loading a into RAX would clobber
	// b before IDiv reads it. Stage b through scratch5 first.
	a.MovRegReg(scratch5, bVal)
	a.MovRegReg(RAX, aVal)
	a.Cqo()
	a.IDiv(scratch5)
	c.emitPushCell(RDX, fishtype.TagInteger)
}

// coerceOperandToInt truncates valReg toward zero in place if tagReg
// says it currently holds a float's bit pattern.
func (c *compiler) coerceOperandToInt(valReg, tagReg Reg) {
	a := c.asm
	a.CmpRegImm32(tagReg, int32(fishtype.TagFloat))
	notFloat := a.JccRel32Placeholder(ccJNE)
	c.loadFloatBits(valReg)
	c.storeFloatAsInt(valReg)
	a.PatchRel32(notFloat, a.Offset())
}

// emitCompare emits `= ( )`, pushing INTEGER 0/1. Pop order matches
// emitArith: b (top) then a, so the comparison reads as "a op b".
func (c *compiler) emitCompare(op rune) {
	a := c.asm
	c.emitUnderflowCheck(2)

	bVal, bTag := scratch1, scratch2
	aVal, aTag := scratch3, scratch4
	c.emitPopCell(bVal, bTag)
	c.emitPopCell(aVal, aTag)

	a.MovRegReg(scratch5, aTag)
	a.AndRegImm32(scratch5, int32(fishtype.TagFloat))
	floatSite := a.JccRel32Placeholder(ccJNE)
	a.CmpRegImm32(bTag, int32(fishtype.TagFloat))
	floatSite2 := a.JccRel32Placeholder(ccJE)

	// integer path
	a.CmpRegReg(aVal, bVal)
	result := Reg(scratch1)
	a.MovRegImm32SignExt(result, 0)
	switch op {
	case '=':
		a.Sete(result)
	case '(':
		a.Setl(result)
	case ')':
		a.Setg(result)
	}
	c.emitPushCell(result, fishtype.TagInteger)
	doneSite := a.JmpRel32Placeholder()

	a.PatchRel32(floatSite, a.Offset())
	a.PatchRel32(floatSite2, a.Offset())
	c.emitFloatCompare(op, aVal, aTag, bVal, bTag)

	a.PatchRel32(doneSite, a.Offset())
}

// emitFloatCompare loads a then b, so a is ST(1) and b is ST(0).
// Fucomip compares ST(0) to ST(1), i.e. b to a: CF=1 means b<a
// (a>b, op ')'), ZF=1 means equal, and neither flag set means b>a
// (a<b, op '(').
func (c *compiler) emitFloatCompare(op rune, aVal, aTag, bVal, bTag Reg) {
	a := c.asm
	c.loadOperandAsFloat(aVal, aTag)
	c.loadOperandAsFloat(bVal, bTag)
	a.Fucomip()
	a.FstpDiscard()

	result := Reg(scratch1)
	a.MovRegImm32SignExt(result, 0)
	switch op {
	case '=':
		a.Sete(result)
	case '(':
		a.Seta(result) // b>a, CF=0 ZF=0
	case ')':
		a.Setb(result) // b<a, CF=1
	}
	c.emitPushCell(result, fishtype.TagInteger)
}
