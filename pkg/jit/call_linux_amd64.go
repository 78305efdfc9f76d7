//go:build linux && amd64

package jit

/*
#include <stdio.h>
#include <stdlib.h>

extern void fish_reverse_stack(void *desc, long cell_size);
extern void fish_shift_left(void *desc, long n, long cell_size);
extern void fish_shift_right(void *desc, long n, long cell_size);
extern void fish_register_swap(void *desc, long cell_size);
extern long fish_grid_get(void *desc, long row, long col);
extern void fish_grid_put(void *desc, long row, long col, long value);

// cgo can't take the address of a C function directly as a Go value;
// these wrappers hand back a void* the JIT can embed as a raw call
// target, the same way the emitted code already calls printf/getchar.
static void *addr_of_printf(void)         { return (void *)printf; }
static void *addr_of_getchar(void)        { return (void *)getchar; }
static void *addr_of_rand(void)           { return (void *)rand; }
static void *addr_of_reverse_stack(void)  { return (void *)fish_reverse_stack; }
static void *addr_of_shift_left(void)     { return (void *)fish_shift_left; }
static void *addr_of_shift_right(void)    { return (void *)fish_shift_right; }
static void *addr_of_register_swap(void)  { return (void *)fish_register_swap; }
static void *addr_of_grid_get(void)       { return (void *)fish_grid_get; }
static void *addr_of_grid_put(void)       { return (void *)fish_grid_put; }

const char fmt_char[]  = "%c";
const char fmt_int[]   = "%ld";
const char fmt_float[] = "%.16g";
*/
import "C"

import (
	"unsafe"

	"github.com/haavardp/fishjit/pkg/jit/asm"
)

// Foreign-call targets resolved once at package init and embedded as
// raw immediates by every emitter that calls into libc or one of the
// fish_* runtime helpers (spec.md §5's "standard C-library helpers...
// using the host calling convention"). fish_reverse_stack and its
// siblings are the same C functions pkg/fstack's cgo bindings call;
// fish_grid_get/fish_grid_put are pkg/codebox's. Linking in either
// package's Go code (which call_linux_amd64.go does transitively via
// pkg/jit's own imports) pulls their C objects into the final binary,
// so these symbols resolve at link time even though they're declared
// extern here rather than defined.
var (
	addrPrintf       = uintptr(C.addr_of_printf())
	addrGetchar      = uintptr(C.addr_of_getchar())
	addrRand         = uintptr(C.addr_of_rand())
	addrReverseStack = uintptr(C.addr_of_reverse_stack())
	addrShiftLeft    = uintptr(C.addr_of_shift_left())
	addrShiftRight   = uintptr(C.addr_of_shift_right())
	addrRegisterSwap = uintptr(C.addr_of_register_swap())
	addrGridGet      = uintptr(C.addr_of_grid_get())
	addrGridPut      = uintptr(C.addr_of_grid_put())

	fmtCharAddr  = uintptr(unsafe.Pointer(&C.fmt_char[0]))
	fmtIntAddr   = uintptr(unsafe.Pointer(&C.fmt_int[0]))
	fmtFloatAddr = uintptr(unsafe.Pointer(&C.fmt_float[0]))
)

// callJITCode enters a compiled trace through the Go-assembly
// trampoline (no cgo overhead on the hot path — only this package's
// initialization and its I/O opcode emitters use cgo).
func callJITCode(entry, stackDescPtr, endStatePtr uintptr) uint64 {
	return asm.CallJITCode(entry, stackDescPtr, endStatePtr)
}
