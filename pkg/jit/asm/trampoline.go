//go:build linux && amd64

// Package asm provides the pure Go assembly trampoline into
// JIT-compiled code. Kept separate from package jit to avoid mixing
// cgo and Go assembly in one package, matching how the foreign-call
// address resolution also lives in its own cgo-only file.
package asm

// CallJITCode calls a compiled trace's entry point directly, with the
// stack descriptor and end-state pointers in RDI/RSI per the System V
// calling convention a compiled trace's prologue expects. Returns the
// trace's r_ret (0 ok, 1 underflow).
func CallJITCode(entryPoint, stackDescPtr, endStatePtr uintptr) uint64
