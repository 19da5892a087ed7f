package pty

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// termiosToBytes renders a termios structure in the platform's native
// layout, bit-exact, since the same binary runs on both ends of the
// handshake (spec.md §4.9.1, Design Note "Process/terminal coupling").
func termiosToBytes(t *unix.Termios) []byte {
	size := unsafe.Sizeof(*t)
	src := unsafe.Slice((*byte)(unsafe.Pointer(t)), size)
	out := make([]byte, size)
	copy(out, src)
	return out
}

// bytesToTermios is the inverse of termiosToBytes.
func bytesToTermios(b []byte) (*unix.Termios, error) {
	var t unix.Termios
	size := unsafe.Sizeof(t)
	if uintptr(len(b)) != size {
		return nil, fmt.Errorf("pty: termios payload is %d bytes, want %d", len(b), size)
	}
	dst := unsafe.Slice((*byte)(unsafe.Pointer(&t)), size)
	copy(dst, b)
	return &t, nil
}
