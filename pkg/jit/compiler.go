//go:build linux && amd64

package jit

import (
	"fmt"
	"unsafe"

	"github.com/haavardp/fishjit/pkg/codebox"
	"github.com/haavardp/fishjit/pkg/fishtype"
	"github.com/haavardp/fishjit/pkg/fstack"
)

// Fixed ABI registers (spec.md §4.1), callee-preserved across the
// trace so emitted code never has to reload them from the descriptor
// mid-trace:
const (
	rStack    = RBX // pointer to the caller's StackDescriptor
	rStackNum = R13 // cached copy of StackDescriptor.NumItems
	rStackTop = R12 // pointer one past the last used cell
	endState  = R14 // pointer to the caller-owned end-state slot
	rRet      = RAX // return value register: 0 ok, 1 underflow
)

const cellSize = 9

// simpleOpcodes is the conditional-skip fusion whitelist (spec.md
// §4.3/§9, §9's open question resolved in favor of including `p`).
const simpleOpcodes = "0123456789abcdef+-*,%=():~$@onigp;"

// CompiledBlock is the result of a successful Compile: an executable
// mapping plus the bookkeeping the caller needs to run it and free it.
// Lifecycle matches spec.md §3: allocated by Compile, owned by the
// caller, released by a matching Release that unmaps the buffer.
type CompiledBlock struct {
	mapping        *execMapping
	entry          uintptr
	code           []byte
	maxStackChange int
	released       bool
}

// Entry is the absolute address of the block's entry point.
func (b *CompiledBlock) Entry() uintptr { return b.entry }

// Code returns the encoded machine code (read-only, for tests).
func (b *CompiledBlock) Code() []byte { return b.code }

// MaxStackChange is an upper bound on the net stack growth running
// this block can cause, per spec.md §3/§8 — used by the caller for
// pre-allocation, never relied on by the block itself.
func (b *CompiledBlock) MaxStackChange() int { return b.maxStackChange }

// Release frees the block's executable mapping. Calling Run after
// Release returns an error rather than crashing.
func (b *CompiledBlock) Release() error {
	if b.released {
		return nil
	}
	b.released = true
	if b.mapping == nil {
		return nil
	}
	return b.mapping.release()
}

// Run invokes the compiled block (spec.md §6's "entry(stack_descriptor,
// end_state_ptr) -> small_int"). exit is 0 (normal) or 1 (stack
// underflow); err is non-nil only for resource-level failures.
func (b *CompiledBlock) Run(stack *fstack.Stack, end *fishtype.State) (exit int, err error) {
	if b.released {
		return 0, fmt.Errorf("jit: Run called after Release")
	}
	stack.Reserve(b.maxStackChange)
	ret := callJITCode(b.entry, uintptr(unsafe.Pointer(stack.Descriptor())), uintptr(unsafe.Pointer(end)))
	stack.Resync()
	return int(ret), nil
}

// compiler holds the per-Compile mutable state: the assembler, the
// seen-states cache, and the skip-fusion flags spec.md §3 calls
// "trace-local emitter state".
type compiler struct {
	asm  *Assembler
	seen *seenStates

	box   *codebox.Grid
	state fishtype.State

	condskip bool // previous instruction was a fused skip predicate
	addskip  bool // place label 9 after the current emission

	maxStackChange int

	pendingEpilogueJumps []int // sites needing a patch once epilogue's offset is known
	epilogueOffset       int
}

// Compile builds one trace starting at start, per spec.md §2/§4.2.
// Returns (nil, error) for every compile-time failure kind spec.md §7
// names; callers that want the spec's literal null contract treat any
// error as null and fall back to the interpreter.
func Compile(box *codebox.Grid, start fishtype.State) (*CompiledBlock, error) {
	c := &compiler{
		asm:   NewAssembler(),
		seen:  newSeenStates(),
		box:   box,
		state: start,
	}
	c.emitPrologue()

	for !c.state.IsFinished() {
		cell := box.Get(c.state.Row, c.state.Col)

		if !c.condskip {
			if c.seen.visit(c.state) {
				c.emitWriteEndStateImm(c.state)
				c.emitJumpEpilogueImm(0)
				break
			}
		} else {
			c.condskip = false
			c.addskip = true
		}

		if err := c.dispatch(rune(cell)); err != nil {
			return nil, err
		}

		if c.addskip {
			c.asm.Label(9)
			c.addskip = false
		}

		if !c.state.IsFinished() {
			box.Next(&c.state)
		}
	}

	c.emitEpilogueLabel()
	for _, site := range c.pendingEpilogueJumps {
		c.asm.PatchRel32(site, c.epilogueOffset)
	}
	if err := c.asm.link(); err != nil {
		return nil, err
	}

	mapping, err := mapExecutable(c.asm.Bytes())
	if err != nil {
		return nil, &CompileError{Kind: ErrAllocation, Err: err}
	}

	return &CompiledBlock{
		mapping:        mapping,
		entry:          mapping.addr(),
		code:           c.asm.Bytes(),
		maxStackChange: c.maxStackChange,
	}, nil
}

// dispatch routes a codebox cell to its emitter, per spec.md §4.3's
// opcode catalog. Returns a syntax-error CompileError for anything not
// in the catalog — including non-ASCII scalars, which spec.md §9
// resolves into the same bucket (see SPEC_FULL.md §9: codebox.Grid
// stays permissive, rejection happens here at dispatch time).
func (c *compiler) dispatch(op rune) error {
	switch {
	case op == '>' || op == '<' || op == '^' || op == 'v':
		c.emitDirection(op)
	case op == '/' || op == '\\' || op == '|' || op == '_' || op == '#':
		c.emitMirror(op)
	case op == 'x':
		c.emitRandomDirection()
	case op == '.':
		c.emitJumpOpcode()
	case op >= '0' && op <= '9':
		c.emitLiteralPush(int64(op - '0'))
		c.maxStackChange++
	case op >= 'a' && op <= 'f':
		c.emitLiteralPush(int64(op-'a') + 10)
		c.maxStackChange++
	case op == '"' || op == '\'':
		return c.emitStringLiteral(fishtype.Cell(op))
	case op == '+' || op == '-' || op == '*' || op == ',' || op == '%':
		c.emitArith(op)
	case op == '=' || op == '(' || op == ')':
		c.emitCompare(op)
	case op == ':':
		c.emitDup()
		c.maxStackChange++
	case op == '$':
		c.emitSwap()
	case op == '@':
		c.emitRotate3()
	case op == '~':
		c.emitDrop()
	case op == 'l':
		c.emitPushLen()
		c.maxStackChange++
	case op == '&':
		c.emitRegisterSwap()
		c.maxStackChange++
	case op == 'r':
		c.emitReverse()
	case op == '{':
		c.emitShiftLeft()
	case op == '}':
		c.emitShiftRight()
	case op == 'o':
		c.emitOutputChar()
	case op == 'n':
		c.emitOutputNumber()
	case op == 'i':
		c.emitInputChar()
		c.maxStackChange++
	case op == 'g':
		c.emitGet()
		c.maxStackChange++
	case op == 'p':
		c.emitPut()
	case op == '?':
		c.emitConditionalSkip()
	case op == ';':
		c.emitEnd()
	case op == ' ':
		// no-op
	default:
		return &CompileError{Kind: ErrSyntax, Err: errUnknownOpcode(op)}
	}
	return nil
}
