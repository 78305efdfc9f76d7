//go:build linux && amd64

package jit

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// execMapping is one compiled block's executable memory, owned
// exclusively by that block. Unlike the teacher's arena-style
// ExecutableMemory (one shared mmap reused across every block, freed
// only at process shutdown), spec.md §4.5's "matching destroy" per
// block calls for one mapping per block so Release() can munmap it
// alone without disturbing any other live block.
type execMapping struct {
	mem []byte
}

// mapExecutable allocates a fresh anonymous RW mapping of size bytes,
// copies code into it, then re-protects it RX before returning —
// spec.md §4.5's link/encode/map sequence.
func mapExecutable(code []byte) (*execMapping, error) {
	if len(code) == 0 {
		return nil, fmt.Errorf("jit: empty code buffer")
	}
	mem, err := unix.Mmap(-1, 0, len(code),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("jit: mmap: %w", err)
	}
	copy(mem, code)
	if err := unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		unix.Munmap(mem)
		return nil, fmt.Errorf("jit: mprotect rx: %w", err)
	}
	return &execMapping{mem: mem}, nil
}

func (m *execMapping) addr() uintptr {
	if len(m.mem) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&m.mem[0]))
}

func (m *execMapping) release() error {
	if m.mem == nil {
		return nil
	}
	err := unix.Munmap(m.mem)
	m.mem = nil
	return err
}
