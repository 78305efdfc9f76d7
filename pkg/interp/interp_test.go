package interp

import (
	"bytes"
	"log"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/haavardp/fishjit/pkg/codebox"
	"github.com/haavardp/fishjit/pkg/fishtype"
	"github.com/haavardp/fishjit/pkg/fstack"
)

func newMachine(t *testing.T, source string, out *bytes.Buffer) *Machine {
	t.Helper()
	box := codebox.Parse(source)
	stack := fstack.New(4)
	return New(box, fishtype.State{Dir: fishtype.Right}, stack, Config{Stdout: out})
}

func TestRunAdditionPrintsSum(t *testing.T) {
	var out bytes.Buffer
	m := newMachine(t, "12+n;", &out)
	if err := m.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := out.String(); got != "3" {
		t.Errorf("output = %q, want %q", got, "3")
	}
	if !m.State().IsFinished() {
		t.Errorf("state = %v, want Finished", m.State())
	}
}

// TestRunEndStateSnapshot uses go-cmp for a struct-diff assertion on
// fishtype.State the way the teacher's fuzzer client compares protocol
// states for conformance (SPEC_FULL.md §10).
func TestRunEndStateSnapshot(t *testing.T) {
	var out bytes.Buffer
	m := newMachine(t, "12+n;", &out)
	if err := m.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := fishtype.State{Row: 0, Col: 4, Dir: fishtype.Finished}
	if diff := cmp.Diff(want, m.State()); diff != "" {
		t.Errorf("end state mismatch (-want +got):\n%s", diff)
	}
}

func TestRunUnderflowReturnsError(t *testing.T) {
	var out bytes.Buffer
	m := newMachine(t, "~;", &out)
	err := m.Run()
	if err == nil {
		t.Fatal("expected an underflow error")
	}
}

func TestRunVerboseLogsWithoutCrashing(t *testing.T) {
	var out bytes.Buffer
	var logged bytes.Buffer
	box := codebox.Parse("12+n;")
	stack := fstack.New(4)
	m := New(box, fishtype.State{Dir: fishtype.Right}, stack, Config{
		Stdout:  &out,
		Verbose: true,
		Logger:  log.New(&logged, "", 0),
	})
	if err := m.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if logged.Len() == 0 {
		t.Error("expected verbose logging to write something")
	}
}

// TestStepMatchesCompiledSkipSemantics exercises the fallback
// single-stepper directly against the same "?.5;" zero-condition
// scenario pkg/jit's own TestConditionalSkipBailoutZeroSkipsOneCell
// covers, confirming the two driver paths agree (spec.md §8's
// round-trip property).
func TestStepMatchesCompiledSkipSemantics(t *testing.T) {
	var out bytes.Buffer
	box := codebox.Parse("?.5;")
	stack := fstack.New(4)
	stack.PushInt(0) // condition: zero
	m := New(box, fishtype.State{Dir: fishtype.Right}, stack, Config{Stdout: &out})

	for !m.State().IsFinished() {
		if err := m.step(); err != nil {
			t.Fatalf("step: %v", err)
		}
	}

	bits, tag, ok := m.Stack().Pop()
	if !ok || tag != fishtype.TagInteger || bits != 5 {
		t.Fatalf("stack top = (%d,%v,%v), want (5,integer,true)", bits, tag, ok)
	}
}

func TestStepConditionalSkipFusedEquivalent(t *testing.T) {
	var out bytes.Buffer
	box := codebox.Parse("5?1;")
	stack := fstack.New(4)
	m := New(box, fishtype.State{Dir: fishtype.Right}, stack, Config{Stdout: &out})
	for !m.State().IsFinished() {
		if err := m.step(); err != nil {
			t.Fatalf("step: %v", err)
		}
	}
	bits, tag, ok := m.Stack().Pop()
	if !ok || tag != fishtype.TagInteger || bits != 1 {
		t.Fatalf("stack top = (%d,%v,%v), want (1,integer,true)", bits, tag, ok)
	}
}

func TestStepDivisionYieldsFloat(t *testing.T) {
	var out bytes.Buffer
	box := codebox.Parse("72,n;")
	stack := fstack.New(4)
	m := New(box, fishtype.State{Dir: fishtype.Right}, stack, Config{Stdout: &out})
	if err := runAllSteps(m); err != nil {
		t.Fatalf("step: %v", err)
	}
	if out.String() != "3.5" {
		t.Errorf("output = %q, want %q", out.String(), "3.5")
	}
}

func TestStepUnknownBareBang(t *testing.T) {
	// '!' has meaning only as a modifier directly after '?'; on its own
	// it is an unknown opcode, matching pkg/jit's dispatch table having
	// no case for it outside that context.
	var out bytes.Buffer
	box := codebox.Parse("!;")
	stack := fstack.New(4)
	m := New(box, fishtype.State{Dir: fishtype.Right}, stack, Config{Stdout: &out})
	if err := m.step(); err == nil {
		t.Fatal("expected an unknown-opcode error for a bare '!'")
	}
}

func TestStepGridGetPutRoundTrip(t *testing.T) {
	var out bytes.Buffer
	box := codebox.New(3, 1)
	box.Set(0, 1, fishtype.Cell('p'))
	box.Set(0, 2, fishtype.Cell(';'))
	stack := fstack.New(4)
	stack.PushInt(0)          // x
	stack.PushInt(0)          // y
	stack.PushInt(int64('Q')) // val
	m := New(box, fishtype.State{Row: 0, Col: 1, Dir: fishtype.Right}, stack, Config{Stdout: &out})
	if err := runAllSteps(m); err != nil {
		t.Fatalf("step: %v", err)
	}
	if got := box.Get(0, 0); got != fishtype.Cell('Q') {
		t.Fatalf("codebox[0][0] = %q, want 'Q'", rune(got))
	}
}

func runAllSteps(m *Machine) error {
	for !m.State().IsFinished() {
		if err := m.step(); err != nil {
			return err
		}
	}
	return nil
}
