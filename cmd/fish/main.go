// Command fish runs ><> ("Fish") programs: either a single file to
// completion, or an interactive REPL (SPEC_FULL.md §2/§12 — the CLI
// driver the JIT core treats as an opaque caller).
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/chzyer/readline"

	"github.com/haavardp/fishjit/internal/tracecache"
	"github.com/haavardp/fishjit/pkg/codebox"
	"github.com/haavardp/fishjit/pkg/fishtype"
	"github.com/haavardp/fishjit/pkg/fstack"
	"github.com/haavardp/fishjit/pkg/interp"
)

func main() {
	interactive := flag.Bool("i", false, "start an interactive REPL instead of running a file")
	verbose := flag.Bool("verbose", false, "log IP states at every trace boundary")
	statsCachePath := flag.String("stats-cache", "", "path to a pebble database tracking compile stats across runs")
	flag.Parse()

	var cache *tracecache.Cache
	if *statsCachePath != "" {
		var err error
		cache, err = tracecache.Open(*statsCachePath)
		if err != nil {
			log.Fatalf("opening stats cache: %v", err)
		}
		defer cache.Close()
	}

	if *interactive {
		runREPL(*verbose, cache)
		return
	}

	args := flag.Args()
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: fish [-verbose] [-stats-cache path] <program.fish>")
		fmt.Fprintln(os.Stderr, "       fish -i [-verbose] [-stats-cache path]")
		os.Exit(2)
	}

	source, err := os.ReadFile(args[0])
	if err != nil {
		log.Fatalf("reading %s: %v", args[0], err)
	}

	if err := runProgram(string(source), *verbose, cache, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runProgram runs one ><> program to completion, optionally recording
// stats for it (SPEC_FULL.md §11's `--stats-cache`). The recorded
// BlockCount is always 1 and MaxStackGrowth is the stack depth left
// when the run ends; neither the number of compiled traces nor their
// max_stack_change is counted.
func runProgram(source string, verbose bool, cache *tracecache.Cache, out io.Writer) error {
	box := codebox.Parse(source)
	stack := fstack.New(16)
	m := interp.New(box, fishtype.State{Dir: fishtype.Right}, stack, interp.Config{
		Verbose: verbose,
		Stdout:  out,
	})

	err := m.Run()

	if cache != nil {
		stats := tracecache.Stats{
			BlockCount:     1,
			MaxStackGrowth: int64(stack.Len()),
		}
		if _, mergeErr := cache.Merge(source, stats); mergeErr != nil {
			log.Printf("recording stats cache entry: %v", mergeErr)
		}
	}

	return err
}

// runREPL drives an interactive session the way the reference ><>
// interpreters' REPL mode does: each entered line is its own one-row
// program, run to completion against a value stack that persists
// across lines, so `1 2+` on one line followed by `n;` on the next
// still prints 3.
func runREPL(verbose bool, cache *tracecache.Cache) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "><> ",
		HistoryFile:     ".fish-history.tmp",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		log.Fatalf("starting REPL: %v", err)
	}
	defer rl.Close()
	rl.CaptureExitSignal()

	stack := fstack.New(16)
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return
		}
		if err != nil {
			log.Fatalf("reading line: %v", err)
		}
		if line == "" {
			continue
		}

		box := codebox.Parse(line + ";")
		m := interp.New(box, fishtype.State{Dir: fishtype.Right}, stack, interp.Config{
			Verbose: verbose,
			Stdout:  os.Stdout,
		})
		if err := m.Run(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			stack.Clear()
			continue
		}
		stack = m.Stack()
		fmt.Println()

		if cache != nil {
			if _, err := cache.Merge(line, tracecache.Stats{BlockCount: 1, MaxStackGrowth: int64(stack.Len())}); err != nil {
				log.Printf("recording stats cache entry: %v", err)
			}
		}
	}
}
