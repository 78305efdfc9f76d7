// Package codebox implements the JIT's one mandatory collaborator: the
// 2-D character grid that is both program and data for a ><> ("Fish")
// program. It is read-only from the JIT's perspective at compile time;
// the `g`/`p` opcodes read and write it at run time, through the same
// flat buffer a GridDescriptor exposes to compiled traces.
package codebox

/*
#include "grid_helpers.h"
*/
import "C"

import (
	"fmt"
	"runtime"
	"strings"
	"unsafe"

	"github.com/haavardp/fishjit/pkg/fishtype"
)

// GridDescriptor is the struct the `g`/`p` foreign-call helpers
// address directly: width, height, then a pointer to a row-major
// int64 buffer of fishtype.Cell values. Do not reorder these fields —
// grid_helpers.h mirrors this layout on the C side.
type GridDescriptor struct {
	Width  int64
	Height int64
	Data   unsafe.Pointer
}

// Grid is a rectangular codebox, backed by a single flat buffer so
// compiled traces can read and write cells directly through a
// GridDescriptor rather than through Go method calls. Rows are padded
// with spaces to the width of the longest line, mirroring how every
// ><> reference interpreter treats a ragged source file.
type Grid struct {
	cells []fishtype.Cell
	desc  GridDescriptor
}

// Parse builds a Grid from source text. Lines are split on '\n'; a
// trailing '\r' is trimmed so CRLF sources parse the same as LF ones.
func Parse(source string) *Grid {
	lines := strings.Split(strings.TrimRight(source, "\n"), "\n")
	width := 0
	rows := make([][]rune, len(lines))
	for i, line := range lines {
		line = strings.TrimSuffix(line, "\r")
		rows[i] = []rune(line)
		if len(rows[i]) > width {
			width = len(rows[i])
		}
	}

	g := New(width, len(rows))
	for i, row := range rows {
		for j, r := range row {
			g.Set(int64(i), int64(j), fishtype.Cell(r))
		}
	}
	return g
}

// New builds an empty width x height grid, filled with spaces. Useful
// for tests and for programmatic codebox construction.
func New(width, height int) *Grid {
	g := &Grid{cells: make([]fishtype.Cell, width*height)}
	for i := range g.cells {
		g.cells[i] = fishtype.Cell(' ')
	}
	g.desc.Width = int64(width)
	g.desc.Height = int64(height)
	g.sync()
	return g
}

func (g *Grid) sync() {
	if len(g.cells) == 0 {
		g.desc.Data = nil
		return
	}
	g.desc.Data = unsafe.Pointer(&g.cells[0])
}

// Descriptor returns the live descriptor compiled code addresses for
// `g`/`p`. The pointer is stable for the Grid's lifetime: unlike the
// stack, a codebox never grows after construction.
func (g *Grid) Descriptor() *GridDescriptor {
	return &g.desc
}

// Dimensions returns (width, height).
func (g *Grid) Dimensions() (int, int) {
	return int(g.desc.Width), int(g.desc.Height)
}

func (g *Grid) wrap(row, col int64) (int64, int64) {
	if g.desc.Height == 0 || g.desc.Width == 0 {
		return 0, 0
	}
	row %= g.desc.Height
	if row < 0 {
		row += g.desc.Height
	}
	col %= g.desc.Width
	if col < 0 {
		col += g.desc.Width
	}
	return row, col
}

// Get reads the cell at (row, col), wrapping both coordinates into the
// grid's bounds. An empty grid always reads a space.
func (g *Grid) Get(row, col int64) fishtype.Cell {
	if g.desc.Height == 0 || g.desc.Width == 0 {
		return fishtype.Cell(' ')
	}
	row, col = g.wrap(row, col)
	return g.cells[row*g.desc.Width+col]
}

// Set writes the cell at (row, col), wrapping both coordinates the same
// way the fish_grid_put helper behind the `p` opcode does, and is a
// no-op on an empty grid.
func (g *Grid) Set(row, col int64, v fishtype.Cell) {
	if g.desc.Height == 0 || g.desc.Width == 0 {
		return
	}
	row, col = g.wrap(row, col)
	g.cells[row*g.desc.Width+col] = v
}

// GetViaHelper reads a cell through the same cgo helper compiled
// traces call for `g`, exercised here so the fallback interpreter and
// compiled code agree on wrap semantics without duplicating them.
func (g *Grid) GetViaHelper(row, col int64) fishtype.Cell {
	var pin runtime.Pinner
	if g.desc.Data != nil {
		pin.Pin(g.desc.Data)
	}
	defer pin.Unpin()
	return fishtype.Cell(C.fish_grid_get((*C.fish_grid_descriptor)(unsafe.Pointer(&g.desc)), C.long(row), C.long(col)))
}

// PutViaHelper writes a cell through the same cgo helper compiled
// traces call for `p`.
func (g *Grid) PutViaHelper(row, col int64, v fishtype.Cell) {
	var pin runtime.Pinner
	if g.desc.Data != nil {
		pin.Pin(g.desc.Data)
	}
	defer pin.Unpin()
	C.fish_grid_put((*C.fish_grid_descriptor)(unsafe.Pointer(&g.desc)), C.long(row), C.long(col), C.long(v))
}

// Next advances state one step in its current direction, wrapping
// within the grid bounds. It is a no-op (and a programming error in the
// caller) if state.Dir is Finished.
func (g *Grid) Next(state *fishtype.State) {
	row := state.Row + state.Dir.DeltaRow()
	col := state.Col + state.Dir.DeltaCol()
	row, col = g.wrap(row, col)
	state.Row, state.Col = row, col
}

// PeekNext returns the cell one step ahead of state without mutating
// it. Used by the `?` fusion emitter to classify the following opcode.
func (g *Grid) PeekNext(state fishtype.State) fishtype.Cell {
	g.Next(&state)
	return g.Get(state.Row, state.Col)
}

// ReadString collects the run of cells between matching quote
// delimiters. state must point at the opening delimiter; on success it
// is left sitting on the closing delimiter (the caller's normal IP
// advance then steps past it) and the enclosed cells, not including
// either delimiter, are returned. ok is false if the quote never
// closes before the IP would wrap back onto its own start (an
// unterminated literal, the "string read failure" error kind).
func (g *Grid) ReadString(state *fishtype.State, delim fishtype.Cell) (cells []fishtype.Cell, ok bool) {
	start := *state
	for {
		g.Next(state)
		if *state == start {
			return nil, false
		}
		c := g.Get(state.Row, state.Col)
		if c == delim {
			return cells, true
		}
		cells = append(cells, c)
	}
}

func (g *Grid) String() string {
	var b strings.Builder
	w, h := g.Dimensions()
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			fmt.Fprintf(&b, "%c", rune(g.Get(int64(row), int64(col))))
		}
		b.WriteByte('\n')
	}
	return b.String()
}
