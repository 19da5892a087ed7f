package pty

import (
	"time"

	"golang.org/x/sys/unix"
)

// waitReadable blocks until fd is readable or timeout elapses, the
// Go-native rendering of the single blocking select with a computed
// per-operation deadline (spec.md §5, Design Note "Concurrent
// suspension"). A negative or zero timeout polls once.
func waitReadable(fd int, timeout time.Duration) (bool, error) {
	ms := int(timeout.Milliseconds())
	if timeout <= 0 {
		ms = 0
	}
	for {
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, ms)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, err
		}
		return n > 0, nil
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
