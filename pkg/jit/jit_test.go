//go:build linux && amd64

package jit

import (
	"math"
	"testing"

	"github.com/haavardp/fishjit/pkg/codebox"
	"github.com/haavardp/fishjit/pkg/fishtype"
	"github.com/haavardp/fishjit/pkg/fstack"
)

func compileAt(t *testing.T, box *codebox.Grid, start fishtype.State) *CompiledBlock {
	t.Helper()
	block, err := Compile(box, start)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	t.Cleanup(func() { block.Release() })
	return block
}

// runProgram drives Compile/Run in a loop the way pkg/interp's driver
// does, compiling one trace at a time starting wherever the previous
// one left off, until the IP reaches Finished. Guards against an
// infinite loop with a generous step budget since nothing here is
// expected to run away.
func runProgram(t *testing.T, box *codebox.Grid, start fishtype.State, stack *fstack.Stack) fishtype.State {
	t.Helper()
	state := start
	for i := 0; i < 10000; i++ {
		block := compileAt(t, box, state)
		var end fishtype.State
		exit, err := block.Run(stack, &end)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if exit != 0 {
			t.Fatalf("Run returned exit=%d (stack underflow) at state %v", exit, state)
		}
		state = end
		if state.IsFinished() {
			return state
		}
	}
	t.Fatalf("runProgram did not finish within step budget, stuck near %v", state)
	return state
}

func expectInt(t *testing.T, stack *fstack.Stack, want int64) {
	t.Helper()
	bits, tag, ok := stack.Pop()
	if !ok {
		t.Fatalf("expected a value on the stack, found none")
	}
	if tag != fishtype.TagInteger {
		t.Fatalf("tag = %v, want integer", tag)
	}
	if bits != want {
		t.Fatalf("value = %d, want %d", bits, want)
	}
}

func TestAdditionPushesSum(t *testing.T) {
	box := codebox.Parse("12+;")
	stack := fstack.New(4)
	runProgram(t, box, fishtype.State{Dir: fishtype.Right}, stack)
	expectInt(t, stack, 3)
	if stack.Len() != 0 {
		t.Errorf("stack.Len() = %d, want 0", stack.Len())
	}
}

func TestDivisionYieldsFloat(t *testing.T) {
	// 7 2 , -> 3.5, always float per spec's division rule.
	box := codebox.Parse("72,;")
	stack := fstack.New(4)
	runProgram(t, box, fishtype.State{Dir: fishtype.Right}, stack)

	bits, tag, ok := stack.Pop()
	if !ok {
		t.Fatal("expected a result on the stack")
	}
	if tag != fishtype.TagFloat {
		t.Fatalf("tag = %v, want float", tag)
	}
	got := math.Float64frombits(uint64(bits))
	if got != 3.5 {
		t.Errorf("7/2 = %v, want 3.5", got)
	}
}

func TestModuloStaysInteger(t *testing.T) {
	box := codebox.Parse("73%;") // 7 % 3 = 1
	stack := fstack.New(4)
	runProgram(t, box, fishtype.State{Dir: fishtype.Right}, stack)
	expectInt(t, stack, 1)
}

func TestComparisonPushesBoolean(t *testing.T) {
	box := codebox.Parse("23(;") // 2 < 3 -> 1
	stack := fstack.New(4)
	runProgram(t, box, fishtype.State{Dir: fishtype.Right}, stack)
	expectInt(t, stack, 1)
}

func TestRotate3(t *testing.T) {
	// 1 2 @ : rotate3 on {1,2} underflows (needs 3); use 1 2 3 @ instead:
	// a b c -> b c a, so 1 2 3 @ leaves [2 3 1].
	box := codebox.Parse("123@;")
	stack := fstack.New(4)
	runProgram(t, box, fishtype.State{Dir: fishtype.Right}, stack)
	expectInt(t, stack, 1)
	expectInt(t, stack, 3)
	expectInt(t, stack, 2)
}

func TestSwapAndDrop(t *testing.T) {
	box := codebox.Parse("12$~;") // push 1,2, swap -> [2,1], drop -> [2]
	stack := fstack.New(4)
	runProgram(t, box, fishtype.State{Dir: fishtype.Right}, stack)
	expectInt(t, stack, 2)
	if stack.Len() != 0 {
		t.Errorf("stack.Len() = %d, want 0", stack.Len())
	}
}

func TestPushLenDoesNotUnderflowOnEmptyStack(t *testing.T) {
	box := codebox.Parse("l;")
	stack := fstack.New(4)
	runProgram(t, box, fishtype.State{Dir: fishtype.Right}, stack)
	expectInt(t, stack, 0)
}

func TestRegisterSwapRoundTrip(t *testing.T) {
	// 5 & pushes 5 into the (empty) register and pops it off the stack.
	// A second & with an empty stack pushes the register's value back.
	box := codebox.Parse("5&&;")
	stack := fstack.New(4)
	runProgram(t, box, fishtype.State{Dir: fishtype.Right}, stack)
	expectInt(t, stack, 5)
	if stack.Len() != 0 {
		t.Errorf("stack.Len() = %d, want 0", stack.Len())
	}
}

func TestReverseStack(t *testing.T) {
	box := codebox.Parse("123r;") // [1,2,3] reversed -> [3,2,1]
	stack := fstack.New(4)
	runProgram(t, box, fishtype.State{Dir: fishtype.Right}, stack)
	expectInt(t, stack, 1)
	expectInt(t, stack, 2)
	expectInt(t, stack, 3)
}

func TestShiftLeftAndRight(t *testing.T) {
	// [1,2,3] shift left -> bottom (1) becomes top -> [2,3,1]
	box := codebox.Parse("123{;")
	stack := fstack.New(4)
	runProgram(t, box, fishtype.State{Dir: fishtype.Right}, stack)
	expectInt(t, stack, 1)
	expectInt(t, stack, 3)
	expectInt(t, stack, 2)

	// [1,2,3] shift right -> top (3) becomes bottom -> [3,1,2]
	box2 := codebox.Parse("123};")
	stack2 := fstack.New(4)
	runProgram(t, box2, fishtype.State{Dir: fishtype.Right}, stack2)
	expectInt(t, stack2, 2)
	expectInt(t, stack2, 1)
	expectInt(t, stack2, 3)
}

func TestUnderflowReturnsExitCodeOne(t *testing.T) {
	box := codebox.Parse("+;") // add with nothing pushed
	stack := fstack.New(4)
	block := compileAt(t, box, fishtype.State{Dir: fishtype.Right})
	var end fishtype.State
	exit, err := block.Run(stack, &end)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if exit != 1 {
		t.Errorf("exit = %d, want 1 (underflow)", exit)
	}
}

func TestConditionalSkipFusedTaken(t *testing.T) {
	// Popped value is zero, so the fused '1' push is skipped.
	box := codebox.Parse("0?1;")
	stack := fstack.New(4)
	runProgram(t, box, fishtype.State{Dir: fishtype.Right}, stack)
	if stack.Len() != 0 {
		t.Errorf("stack.Len() = %d, want 0 (push should have been skipped)", stack.Len())
	}
}

func TestConditionalSkipFusedNotTaken(t *testing.T) {
	// Popped value is non-zero, so the fused '1' push executes.
	box := codebox.Parse("5?1;")
	stack := fstack.New(4)
	runProgram(t, box, fishtype.State{Dir: fishtype.Right}, stack)
	expectInt(t, stack, 1)
}

func TestConditionalSkipInversionWithBang(t *testing.T) {
	// '!' inverts the test: a non-zero popped value with one '!' behaves
	// like the zero case and skips the fused instruction.
	box := codebox.Parse("5?!1;")
	stack := fstack.New(4)
	runProgram(t, box, fishtype.State{Dir: fishtype.Right}, stack)
	if stack.Len() != 0 {
		t.Errorf("stack.Len() = %d, want 0 (inverted non-zero should skip)", stack.Len())
	}
}

// TestConditionalSkipBailout exercises the non-fused path: '.' is not
// in the simple-opcode whitelist, so the compiled trace ends at '?'
// with a two-way computed end-state instead of inlining a predicated
// jump, and the caller's driver loop (runProgram here) resumes a fresh
// compile from wherever the runtime branch landed.
func TestConditionalSkipBailout(t *testing.T) {
	// Row 1 lands the jump target squarely on ';' so the program
	// terminates right after it, rather than chasing the jump forever.
	box := codebox.Parse("?.\n0;")
	stack := fstack.New(4)
	// emitJumpOpcode pops row then col, so push col, then row, then the
	// condition on top ('?' only ever consumes its own condition cell,
	// leaving row/col sitting underneath for '.' to pop later).
	stack.PushInt(1) // col (bottom)
	stack.PushInt(1) // row
	stack.PushInt(1) // condition: non-zero, so execution falls through to '.'

	end := runProgram(t, box, fishtype.State{Dir: fishtype.Right}, stack)
	if !end.IsFinished() {
		t.Fatalf("expected a finished state after jumping onto ';', got %v", end)
	}
}

func TestConditionalSkipBailoutZeroSkipsOneCell(t *testing.T) {
	// A zero condition skips only the immediately following cell ('.'),
	// landing on '5' which still executes normally.
	box := codebox.Parse("?.5;")
	stack := fstack.New(4)
	stack.PushInt(0) // condition: zero

	end := runProgram(t, box, fishtype.State{Dir: fishtype.Right}, stack)
	if !end.IsFinished() {
		t.Fatalf("expected a finished state, got %v", end)
	}
	expectInt(t, stack, 5)
}

func TestGridGetPutRoundTrip(t *testing.T) {
	// Write 'Z' at (0,0) via p, then read it back via g and push it.
	box := codebox.New(3, 1)
	stack := fstack.New(4)
	// Classic ><> argument order is "x y v p": push x, then y, then the
	// value on top so emitPut's first pop (val) sees it.
	stack.PushInt(0)          // x (bottom)
	stack.PushInt(0)          // y
	stack.PushInt(int64('Z')) // val, popped first
	box.Set(0, 1, fishtype.Cell('p'))
	box.Set(0, 2, fishtype.Cell(';'))
	runProgram(t, box, fishtype.State{Row: 0, Col: 1, Dir: fishtype.Right}, stack)

	if got := box.Get(0, 0); got != fishtype.Cell('Z') {
		t.Fatalf("codebox[0][0] = %q after p, want 'Z'", rune(got))
	}

	box2 := codebox.New(3, 1)
	box2.Set(0, 0, fishtype.Cell('Z'))
	box2.Set(0, 1, fishtype.Cell('g'))
	box2.Set(0, 2, fishtype.Cell(';'))
	stack2 := fstack.New(4)
	// "x y g": push x then y, so y sits on top for emitGet's first pop.
	stack2.PushInt(0) // x (bottom)
	stack2.PushInt(0) // y, popped first
	runProgram(t, box2, fishtype.State{Row: 0, Col: 1, Dir: fishtype.Right}, stack2)
	expectInt(t, stack2, int64('Z'))
}

// TestGridPutDistinctXY writes with x != y, the only way to catch a put
// that swaps row and column (emitGet happens to be a no-op-safe case of
// the same register aliasing, so it can't be caught this way).
func TestGridPutDistinctXY(t *testing.T) {
	box := codebox.New(3, 3)
	// "x y v p": push x(=2), y(=0), then the value on top.
	stack := fstack.New(4)
	stack.PushInt(2)          // x
	stack.PushInt(0)          // y
	stack.PushInt(int64('W')) // val
	box.Set(0, 1, fishtype.Cell('p'))
	box.Set(0, 2, fishtype.Cell(';'))
	runProgram(t, box, fishtype.State{Row: 0, Col: 1, Dir: fishtype.Right}, stack)

	if got := box.Get(0, 2); got != fishtype.Cell('W') {
		t.Fatalf("codebox[row=0][col=2] = %q, want 'W' (row=y=0, col=x=2)", rune(got))
	}
	if got := box.Get(2, 0); got != fishtype.Cell(' ') {
		t.Fatalf("codebox[row=2][col=0] = %q, want untouched (row/col not swapped)", rune(got))
	}
}

func TestCycleDetectionStopsATightLoop(t *testing.T) {
	// '>' just keeps moving right forever on a one-row wraparound grid;
	// the seen-states cache must stop the trace once it revisits a state
	// rather than compiling an unbounded amount of code.
	box := codebox.New(4, 1)
	box.Set(0, 0, fishtype.Cell('>'))
	box.Set(0, 1, fishtype.Cell('>'))
	box.Set(0, 2, fishtype.Cell('>'))
	box.Set(0, 3, fishtype.Cell('>'))

	block := compileAt(t, box, fishtype.State{Row: 0, Col: 0, Dir: fishtype.Right})
	stack := fstack.New(1)
	var end fishtype.State
	exit, err := block.Run(stack, &end)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if exit != 0 {
		t.Errorf("exit = %d, want 0", exit)
	}
	if end.IsFinished() {
		t.Errorf("end state should not be Finished, the program never calls ';'")
	}
}
