// Package interp is the outer driver spec.md declares out of scope for
// the JIT core (SPEC_FULL.md §2, §12): it repeatedly calls jit.Compile,
// runs the returned block, and falls back to single-step interpretation
// for whatever the JIT refuses to compile at all — a syntax error, or
// simply running on a platform without the linux/amd64 build tag.
//
// The fallback interpreter in step.go implements the same opcode
// catalog spec.md §4.3 describes for the JIT, one cell at a time, so a
// program that can't be traced still runs to completion exactly the way
// spec.md §8's round-trip property requires: single-stepping and
// compile-and-run must agree on every observable effect and end-state.
package interp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"

	"github.com/haavardp/fishjit/pkg/codebox"
	"github.com/haavardp/fishjit/pkg/fishtype"
	"github.com/haavardp/fishjit/pkg/fstack"
	"github.com/haavardp/fishjit/pkg/jit"
)

// ErrUnderflow is returned by Run when either the fallback interpreter
// or a compiled block reports a stack underflow, matching spec.md §7's
// "r_ret = 1 ... caller is responsible for presenting the error to the
// user".
var ErrUnderflow = errors.New("interp: stack underflow")

// Config controls the optional ambient behavior SPEC_FULL.md §9/§10
// add on top of spec.md's opaque "outer interpreter driver": verbose
// trace-boundary logging, and the I/O streams `o`/`n`/`i` read and
// write.
type Config struct {
	// Verbose logs the IP state at every trace boundary (compiled or
	// single-stepped) using the standard log package, replacing the
	// debug printf the original marks as non-core (SPEC_FULL.md §9).
	Verbose bool
	Logger  *log.Logger

	Stdout io.Writer
	Stdin  io.Reader

	// Rand backs the `x` opcode's fallback path. If nil, New gives the
	// machine its own source seeded with 1.
	Rand *rand.Rand
}

func (c *Config) logf(format string, args ...any) {
	if !c.Verbose {
		return
	}
	if c.Logger != nil {
		c.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// Machine is one running ><> program: a codebox, a value stack, an IP
// state, and the configuration controlling how it talks to the world.
// Not safe for concurrent use from multiple goroutines — same
// single-threaded contract spec.md §5 gives the JIT itself.
type Machine struct {
	box   *codebox.Grid
	stack *fstack.Stack
	state fishtype.State
	cfg   Config

	in *bufio.Reader
}

// New builds a Machine ready to run box starting at start. stack may be
// non-empty, letting callers seed input (mirrors how pkg/jit's own
// tests preload a stack before compiling).
func New(box *codebox.Grid, start fishtype.State, stack *fstack.Stack, cfg Config) *Machine {
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stdin == nil {
		cfg.Stdin = os.Stdin
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(1))
	}
	return &Machine{
		box:   box,
		stack: stack,
		state: start,
		cfg:   cfg,
		in:    bufio.NewReader(cfg.Stdin),
	}
}

// Stack returns the machine's value stack, e.g. so a caller can inspect
// it after Run returns.
func (m *Machine) Stack() *fstack.Stack { return m.stack }

// State returns the machine's current IP state.
func (m *Machine) State() fishtype.State { return m.state }

// Run drives the machine to completion: compile a trace from the
// current state, run it, and repeat from the returned end-state until
// it is Finished. Whenever jit.Compile refuses the current state (a
// syntax error, or ErrUnsupportedPlatform on a non-JIT build), Run
// falls back to exactly one single-stepped instruction and retries
// compilation from the state that leaves — mirroring the teacher's
// "try the compiled block, else execute one instruction via the
// interpreter" driver loop.
func (m *Machine) Run() error {
	for !m.state.IsFinished() {
		block, err := jit.Compile(m.box, m.state)
		if err != nil {
			m.cfg.logf("single-step at %v (compile refused: %v)", m.state, err)
			if stepErr := m.step(); stepErr != nil {
				return stepErr
			}
			continue
		}

		before := m.state
		m.stack.Reserve(block.MaxStackChange())
		var end fishtype.State
		exit, runErr := block.Run(m.stack, &end)
		releaseErr := block.Release()
		if runErr != nil {
			return fmt.Errorf("interp: running compiled trace from %v: %w", before, runErr)
		}
		if releaseErr != nil {
			return fmt.Errorf("interp: releasing compiled trace from %v: %w", before, releaseErr)
		}
		if exit != 0 {
			return fmt.Errorf("%w at %v", ErrUnderflow, before)
		}

		m.cfg.logf("trace %v -> %v", before, end)
		m.state = end
	}
	return nil
}
