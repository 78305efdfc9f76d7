//go:build linux && amd64

package jit

import "github.com/haavardp/fishjit/pkg/fishtype"

// emitDirection handles the four direction mutators (spec.md §4.3):
// compile-time only, no code emitted. Execution resumes along the new
// axis and further instructions are traced in-line.
func (c *compiler) emitDirection(op rune) {
	switch op {
	case '>':
		c.state.Dir = fishtype.Right
	case '<':
		c.state.Dir = fishtype.Left
	case '^':
		c.state.Dir = fishtype.Up
	case 'v':
		c.state.Dir = fishtype.Down
	}
}

// emitMirror handles the five mirror opcodes per the standard ><>
// reflection tables (spec.md §4.3): compile-time transformations of
// the IP direction, nothing emitted.
func (c *compiler) emitMirror(op rune) {
	d := c.state.Dir
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
	c.state.Dir = d
}
