package interp

import (
	"fmt"
	"math"

	"github.com/haavardp/fishjit/pkg/fishtype"
	"github.com/haavardp/fishjit/pkg/fstack"
)

// step executes exactly one instruction at the machine's current state
// and advances the IP, matching compiler.dispatch's per-cell semantics
// in pkg/jit cell for cell — same pop orders, same tag-promotion rules,
// same fixed resumption direction after `.` — so a program that falls
// back to single-stepping mid-run produces identical observable effects
// to one the JIT traced straight through (spec.md §8).
func (m *Machine) step() error {
	cell := m.box.Get(m.state.Row, m.state.Col)
	op := rune(cell)

	switch {
	case op == '>' || op == '<' || op == '^' || op == 'v':
		m.stepDirection(op)
	case op == '/' || op == '\\' || op == '|' || op == '_' || op == '#':
		m.stepMirror(op)
	case op == 'x':
		m.stepRandomDirection()
		return nil
	case op == '.':
		if err := m.stepJump(); err != nil {
			return err
		}
		return nil
	case op >= '0' && op <= '9':
		m.stack.PushInt(int64(op - '0'))
	case op >= 'a' && op <= 'f':
		m.stack.PushInt(int64(op-'a') + 10)
	case op == '"' || op == '\'':
		if err := m.stepStringLiteral(fishtype.Cell(op)); err != nil {
			return err
		}
	case op == '+' || op == '-' || op == '*' || op == ',' || op == '%':
		if err := m.stepArith(op); err != nil {
			return err
		}
	case op == '=' || op == '(' || op == ')':
		if err := m.stepCompare(op); err != nil {
			return err
		}
	case op == ':':
		if err := m.stepDup(); err != nil {
			return err
		}
	case op == '$':
		if err := m.stepSwap(); err != nil {
			return err
		}
	case op == '@':
		if err := m.stepRotate3(); err != nil {
			return err
		}
	case op == '~':
		if err := m.stepDrop(); err != nil {
			return err
		}
	case op == 'l':
		m.stack.PushInt(int64(m.stack.Len()))
	case op == '&':
		m.stack.RegisterSwap()
	case op == 'r':
		m.stack.Reverse()
	case op == '{':
		m.stack.ShiftLeft(m.stack.Len())
	case op == '}':
		m.stack.ShiftRight(m.stack.Len())
	case op == 'o':
		if err := m.stepOutputChar(); err != nil {
			return err
		}
	case op == 'n':
		if err := m.stepOutputNumber(); err != nil {
			return err
		}
	case op == 'i':
		m.stepInputChar()
	case op == 'g':
		if err := m.stepGet(); err != nil {
			return err
		}
	case op == 'p':
		if err := m.stepPut(); err != nil {
			return err
		}
	case op == '?':
		if err := m.stepConditionalSkip(); err != nil {
			return err
		}
		return nil
	case op == ';':
		m.state.Dir = fishtype.Finished
		return nil
	case op == ' ':
		// no-op
	default:
		return fmt.Errorf("interp: unknown opcode %q at %v", op, m.state)
	}

	m.box.Next(&m.state)
	return nil
}

func (m *Machine) stepDirection(op rune) {
	switch op {
	case '>':
		m.state.Dir = fishtype.Right
	case '<':
		m.state.Dir = fishtype.Left
	case '^':
		m.state.Dir = fishtype.Up
	case 'v':
		m.state.Dir = fishtype.Down
	}
}

func (m *Machine) stepMirror(op rune) {
	d := m.state.Dir
	switch op {
	case '/':
		switch d {
		case fishtype.Right:
			d = fishtype.Up
		case fishtype.Up:
			d = fishtype.Right
		case fishtype.Left:
			d = fishtype.Down
		case fishtype.Down:
			d = fishtype.Left
		}
	case '\\':
		switch d {
		case fishtype.Right:
			d = fishtype.Down
		case fishtype.Down:
			d = fishtype.Right
		case fishtype.Left:
			d = fishtype.Up
		case fishtype.Up:
			d = fishtype.Left
		}
	case '|':
		switch d {
		case fishtype.Right:
			d = fishtype.Left
		case fishtype.Left:
			d = fishtype.Right
		}
	case '_':
		switch d {
		case fishtype.Up:
			d = fishtype.Down
		case fishtype.Down:
			d = fishtype.Up
		}
	case '#':
		switch d {
		case fishtype.Right:
			d = fishtype.Left
		case fishtype.Left:
			d = fishtype.Right
		case fishtype.Up:
			d = fishtype.Down
		case fishtype.Down:
			d = fishtype.Up
		}
	}
	m.state.Dir = d
}

// stepRandomDirection mirrors emitRandomDirection: pick one of the four
// directions uniformly and land the IP one step further along it.
func (m *Machine) stepRandomDirection() {
	dirs := [4]fishtype.Direction{fishtype.Right, fishtype.Left, fishtype.Up, fishtype.Down}
	m.state.Dir = dirs[m.cfg.Rand.Intn(4)]
	m.box.Next(&m.state)
}

// stepJump mirrors emitJumpOpcode: pop row then column, resume at
// (row, col) itself heading Right, the same state the compiled trace
// writes into end_state; the cell at (row, col) is the next one run.
func (m *Machine) stepJump() error {
	if m.stack.Len() < 2 {
		return fmt.Errorf("%w at %v", ErrUnderflow, m.state)
	}
	row := m.stack.PopInt()
	col := m.stack.PopInt()
	m.state.Row, m.state.Col = row, col
	m.state.Dir = fishtype.Right
	return nil
}

func (m *Machine) stepStringLiteral(delim fishtype.Cell) error {
	cells, ok := m.box.ReadString(&m.state, delim)
	if !ok {
		return fmt.Errorf("interp: unterminated string literal at %v", m.state)
	}
	for _, c := range cells {
		m.stack.PushInt(int64(c))
	}
	return nil
}

// popArithOperands pops b (top) then a, matching emitArith/emitCompare's
// "b was pushed last, so it's on top" convention.
func (m *Machine) popArithOperands() (aBits int64, aTag fishtype.Tag, bBits int64, bTag fishtype.Tag, ok bool) {
	bBits, bTag, ok = m.stack.Pop()
	if !ok {
		return
	}
	aBits, aTag, ok = m.stack.Pop()
	return
}

func asFloat(bits int64, tag fishtype.Tag) float64 {
	if tag == fishtype.TagFloat {
		return math.Float64frombits(uint64(bits))
	}
	return float64(bits)
}

func asInt(bits int64, tag fishtype.Tag) int64 {
	if tag == fishtype.TagFloat {
		return int64(math.Float64frombits(uint64(bits)))
	}
	return bits
}

// stepArith mirrors emitArith: `,` is always float, `%` always integer
// (truncating a float operand first), the other three stay integer
// unless either operand is tagged float.
func (m *Machine) stepArith(op rune) error {
	aBits, aTag, bBits, bTag, ok := m.popArithOperands()
	if !ok {
		return fmt.Errorf("%w at %v", ErrUnderflow, m.state)
	}

	if op == ',' {
		m.stack.PushFloat(asFloat(aBits, aTag) / asFloat(bBits, bTag))
		return nil
	}
	if op == '%' {
		a, b := asInt(aBits, aTag), asInt(bBits, bTag)
		m.stack.PushInt(a % b)
		return nil
	}

	if aTag == fishtype.TagFloat || bTag == fishtype.TagFloat {
		a, b := asFloat(aBits, aTag), asFloat(bBits, bTag)
		var r float64
		switch op {
		case '+':
			r = a + b
		case '-':
			r = a - b
		case '*':
			r = a * b
		}
		m.stack.PushFloat(r)
		return nil
	}

	var r int64
	switch op {
	case '+':
		r = aBits + bBits
	case '-':
		r = aBits - bBits
	case '*':
		r = aBits * bBits
	}
	m.stack.PushInt(r)
	return nil
}

// stepCompare mirrors emitCompare: pushes INTEGER 0/1 for "a op b",
// pop order b (top) then a.
func (m *Machine) stepCompare(op rune) error {
	aBits, aTag, bBits, bTag, ok := m.popArithOperands()
	if !ok {
		return fmt.Errorf("%w at %v", ErrUnderflow, m.state)
	}

	var result bool
	if aTag == fishtype.TagFloat || bTag == fishtype.TagFloat {
		a, b := asFloat(aBits, aTag), asFloat(bBits, bTag)
		switch op {
		case '=':
			result = a == b
		case '(':
			result = a < b
		case ')':
			result = a > b
		}
	} else {
		switch op {
		case '=':
			result = aBits == bBits
		case '(':
			result = aBits < bBits
		case ')':
			result = aBits > bBits
		}
	}

	if result {
		m.stack.PushInt(1)
	} else {
		m.stack.PushInt(0)
	}
	return nil
}

func (m *Machine) stepDup() error {
	bits, tag, ok := m.stack.Pop()
	if !ok {
		return fmt.Errorf("%w at %v", ErrUnderflow, m.state)
	}
	pushTagged(m.stack, bits, tag)
	pushTagged(m.stack, bits, tag)
	return nil
}

func (m *Machine) stepSwap() error {
	if m.stack.Len() < 2 {
		return fmt.Errorf("%w at %v", ErrUnderflow, m.state)
	}
	topBits, topTag, _ := m.stack.Pop()
	belowBits, belowTag, _ := m.stack.Pop()
	pushTagged(m.stack, topBits, topTag)
	pushTagged(m.stack, belowBits, belowTag)
	return nil
}

// stepRotate3 mirrors emitRotate3: a b c -> b c a.
func (m *Machine) stepRotate3() error {
	if m.stack.Len() < 3 {
		return fmt.Errorf("%w at %v", ErrUnderflow, m.state)
	}
	cBits, cTag, _ := m.stack.Pop()
	bBits, bTag, _ := m.stack.Pop()
	aBits, aTag, _ := m.stack.Pop()
	pushTagged(m.stack, bBits, bTag)
	pushTagged(m.stack, cBits, cTag)
	pushTagged(m.stack, aBits, aTag)
	return nil
}

func (m *Machine) stepDrop() error {
	_, _, ok := m.stack.Pop()
	if !ok {
		return fmt.Errorf("%w at %v", ErrUnderflow, m.state)
	}
	return nil
}

func (m *Machine) stepOutputChar() error {
	bits, tag, ok := m.stack.Pop()
	if !ok {
		return fmt.Errorf("%w at %v", ErrUnderflow, m.state)
	}
	fmt.Fprintf(m.cfg.Stdout, "%c", rune(asInt(bits, tag)))
	return nil
}

func (m *Machine) stepOutputNumber() error {
	bits, tag, ok := m.stack.Pop()
	if !ok {
		return fmt.Errorf("%w at %v", ErrUnderflow, m.state)
	}
	if tag == fishtype.TagFloat {
		fmt.Fprintf(m.cfg.Stdout, "%.16g", math.Float64frombits(uint64(bits)))
	} else {
		fmt.Fprintf(m.cfg.Stdout, "%d", bits)
	}
	return nil
}

// stepInputChar mirrors emitInputChar: one byte from the host, EOF maps
// to -1.
func (m *Machine) stepInputChar() {
	b, err := m.in.ReadByte()
	if err != nil {
		m.stack.PushInt(-1)
		return
	}
	m.stack.PushInt(int64(b))
}

// stepGet mirrors emitGet: pop y then x, push the codebox cell at
// (row=y, col=x).
func (m *Machine) stepGet() error {
	if m.stack.Len() < 2 {
		return fmt.Errorf("%w at %v", ErrUnderflow, m.state)
	}
	y := m.stack.PopInt()
	x := m.stack.PopInt()
	m.stack.PushInt(int64(m.box.GetViaHelper(y, x)))
	return nil
}

// stepPut mirrors emitPut: pop v, y, x (v on top), write v at
// (row=y, col=x).
func (m *Machine) stepPut() error {
	if m.stack.Len() < 3 {
		return fmt.Errorf("%w at %v", ErrUnderflow, m.state)
	}
	v := m.stack.PopInt()
	y := m.stack.PopInt()
	x := m.stack.PopInt()
	m.box.PutViaHelper(y, x, fishtype.Cell(v))
	return nil
}

// stepConditionalSkip mirrors emitConditionalSkip's bailout path
// exactly (the fallback interpreter never fuses — there is no trace to
// fuse into): pop the condition, consume any consecutive `!`s, then
// either execute the following cell normally (condition true) or skip
// it entirely by advancing two cells (condition false), landing the IP
// on whatever comes after.
func (m *Machine) stepConditionalSkip() error {
	bits, tag, ok := m.stack.Pop()
	if !ok {
		return fmt.Errorf("%w at %v", ErrUnderflow, m.state)
	}
	zero := asFloat(bits, tag) == 0

	inverted := false
	for m.box.PeekNext(m.state) == fishtype.Cell('!') {
		m.box.Next(&m.state)
		inverted = !inverted
	}
	if inverted {
		zero = !zero
	}

	m.box.Next(&m.state) // following cell
	if zero {
		m.box.Next(&m.state) // skip it
	}
	return nil
}

func pushTagged(s *fstack.Stack, bits int64, tag fishtype.Tag) {
	if tag == fishtype.TagFloat {
		s.PushFloat(math.Float64frombits(uint64(bits)))
		return
	}
	s.PushInt(bits)
}
