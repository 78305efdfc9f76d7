//go:build !linux || !amd64

// Package jit provides stub types for platforms where the tracing
// compiler isn't available. The real implementation emits raw amd64
// machine code and is only buildable on linux/amd64; everywhere else
// Compile always fails and callers fall back to pkg/interp's
// single-step interpreter.
package jit

import (
	"errors"

	"github.com/haavardp/fishjit/pkg/codebox"
	"github.com/haavardp/fishjit/pkg/fishtype"
	"github.com/haavardp/fishjit/pkg/fstack"
)

// ErrUnsupportedPlatform is returned by Compile on any platform other
// than linux/amd64.
var ErrUnsupportedPlatform = errors.New("jit: not supported on this platform")

// CompiledBlock is a stub for non-Linux/non-amd64 platforms.
type CompiledBlock struct{}

func (b *CompiledBlock) Entry() uintptr         { return 0 }
func (b *CompiledBlock) Code() []byte           { return nil }
func (b *CompiledBlock) MaxStackChange() int    { return 0 }
func (b *CompiledBlock) Release() error         { return nil }
func (b *CompiledBlock) Run(*fstack.Stack, *fishtype.State) (int, error) {
	return 0, ErrUnsupportedPlatform
}

// Compile always fails on this platform.
func Compile(box *codebox.Grid, start fishtype.State) (*CompiledBlock, error) {
	return nil, ErrUnsupportedPlatform
}
