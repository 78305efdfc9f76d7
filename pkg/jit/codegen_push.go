//go:build linux && amd64

package jit

import "github.com/haavardp/fishjit/pkg/fishtype"

// emitLiteralPush emits a store of an immediate 0-15 value as
// INTEGER on top of stack (spec.md §4.3's `0`-`9`, `a`-`f`).
func (c *compiler) emitLiteralPush(value int64) {
	c.emitPushImmCell(value)
}

// emitStringLiteral collects the quoted run via the codebox reader
// and emits one INTEGER push per character (spec.md §4.3's `"`, `'`).
// On an unterminated literal it aborts the compile with a string-read
// failure, matching spec.md §7.
func (c *compiler) emitStringLiteral(delim fishtype.Cell) error {
	cells, ok := c.box.ReadString(&c.state, delim)
	if !ok {
		return &CompileError{Kind: ErrStringRead, Err: errUnterminatedString()}
	}
	for _, cell := range cells {
		c.emitPushImmCell(int64(cell))
	}
	c.maxStackChange += len(cells)
	return nil
}
