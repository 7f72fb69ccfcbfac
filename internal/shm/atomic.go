package shm

import (
	"fmt"
	"unsafe"
)

// Uint32At returns a pointer to the 32-bit word at off in mem. Words in a
// shared region must only be accessed through sync/atomic.
func Uint32At(mem []byte, off int) (*uint32, error) {
	if off < 0 || off+4 > len(mem) {
		return nil, fmt.Errorf("word offset %d outside %d-byte region", off, len(mem))
	}
	p := unsafe.Pointer(&mem[off])
	if uintptr(p)%4 != 0 {
		return nil, fmt.Errorf("word offset %d is not 4-byte aligned", off)
	}
	return (*uint32)(p), nil
}
