// Package ipc implements the length-tagged framed duplex protocol
// PtyDriver uses between parent and child over a Unix socketpair
// (spec.md §4.8). Endianness is native; a zero tag is reserved and must
// never appear on the wire.
package ipc

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sys/unix"
)

// Tag identifies a message kind on the wire.
type Tag uint32

const (
	// TagReserved must never appear on the wire (spec.md §4.8).
	TagReserved Tag = iota
	TagRelease
	TagError
	TagTermiosInquiry
	TagTermiosSet
	TagTermiosAck
)

// headerSize is sizeof(struct { size uint32; tag uint32 }).
const headerSize = 8

// Message is one framed IPC message: size on the wire is
// headerSize+len(Payload).
type Message struct {
	Tag     Tag
	Payload []byte
}

// Channel is a duplex framed channel over a connected Unix socket fd.
// Incoming messages for tags without a registered callback are queued;
// Recv dequeues the head (spec.md §4.8).
type Channel struct {
	fd int

	mu       sync.Mutex
	closed   bool
	queue    []Message
	callback map[Tag]func(Message)
}

// New wraps an already-connected socket fd (one end of a
// unix.Socketpair) as a Channel.
func New(fd int) *Channel {
	return &Channel{fd: fd, callback: make(map[Tag]func(Message))}
}

// FD returns the underlying socket fd, for callers that need to poll it
// for readability alongside a PTY master fd (spec.md §5).
func (c *Channel) FD() int {
	return c.fd
}

// OnTag registers a callback invoked for every message of the given
// tag as it is drained, instead of being queued for Recv.
func (c *Channel) OnTag(tag Tag, fn func(Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback[tag] = fn
}

// Send frames and full-writes a message.
func (c *Channel) Send(tag Tag, payload []byte) error {
	if tag == TagReserved {
		return fmt.Errorf("ipc: tag 0 is reserved and must not be sent")
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return fmt.Errorf("ipc: channel closed")
	}

	buf := make([]byte, headerSize+len(payload))
	binary.NativeEndian.PutUint32(buf[0:4], uint32(headerSize+len(payload)))
	binary.NativeEndian.PutUint32(buf[4:8], uint32(tag))
	copy(buf[headerSize:], payload)

	return fullWrite(c.fd, buf)
}

// Drain reads every currently-available message from the fd, invoking
// registered callbacks and queueing the rest. Recv and Close call it;
// Send does not, so callers drain whenever the fd polls readable.
func (c *Channel) Drain() error {
	for {
		msg, ok, err := c.readOne()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		c.dispatch(msg)
	}
}

func (c *Channel) dispatch(msg Message) {
	c.mu.Lock()
	fn := c.callback[msg.Tag]
	if fn == nil {
		c.queue = append(c.queue, msg)
	}
	c.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

// readOne attempts a single non-blocking read of one framed message. ok
// is false when EAGAIN indicates nothing is currently available.
func (c *Channel) readOne() (Message, bool, error) {
	header := make([]byte, headerSize)
	n, err := fullReadNonBlocking(c.fd, header)
	if err == unix.EAGAIN {
		return Message{}, false, nil
	}
	if err != nil {
		return Message{}, false, err
	}
	if n == 0 {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		return Message{}, false, io.EOF
	}
	if n < headerSize {
		return Message{}, false, fmt.Errorf("ipc: short header (%d bytes)", n)
	}

	size := binary.NativeEndian.Uint32(header[0:4])
	tag := Tag(binary.NativeEndian.Uint32(header[4:8]))
	if tag == TagReserved {
		return Message{}, false, fmt.Errorf("ipc: received reserved tag 0")
	}
	if size < headerSize {
		return Message{}, false, fmt.Errorf("ipc: size %d smaller than header", size)
	}

	payload := make([]byte, size-headerSize)
	if len(payload) > 0 {
		if err := fullRead(c.fd, payload); err != nil {
			return Message{}, false, err
		}
	}
	return Message{Tag: tag, Payload: payload}, true, nil
}

// Recv dequeues the head of the queue, draining first if empty.
func (c *Channel) Recv() (Message, bool, error) {
	c.mu.Lock()
	if len(c.queue) > 0 {
		msg := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()
		return msg, true, nil
	}
	c.mu.Unlock()

	if err := c.Drain(); err != nil && err != io.EOF {
		return Message{}, false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return Message{}, false, nil
	}
	msg := c.queue[0]
	c.queue = c.queue[1:]
	return msg, true, nil
}

// Closed reports whether the channel has observed EOF.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close performs the close protocol: shut down the write side, drain
// until EOF, then close the fd (spec.md §4.8).
func (c *Channel) Close() error {
	_ = unix.Shutdown(c.fd, unix.SHUT_WR)
	for {
		if err := c.Drain(); err != nil {
			break
		}
	}
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return unix.Close(c.fd)
}

func fullWrite(fd int, buf []byte) error {
	for len(buf) > 0 {
		n, err := unix.Write(fd, buf)
		if err == unix.EAGAIN || err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("ipc: write: %w", err)
		}
		buf = buf[n:]
	}
	return nil
}

func fullRead(fd int, buf []byte) error {
	for len(buf) > 0 {
		n, err := unix.Read(fd, buf)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("ipc: read: %w", err)
		}
		if n == 0 {
			return io.EOF
		}
		buf = buf[n:]
	}
	return nil
}

// fullReadNonBlocking reads into buf, returning unix.EAGAIN if nothing
// is available yet and partial reads otherwise re-looping to fill buf.
func fullReadNonBlocking(fd int, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := unix.Read(fd, buf[total:])
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			if total == 0 {
				return 0, unix.EAGAIN
			}
			continue
		}
		if err != nil {
			return total, fmt.Errorf("ipc: read: %w", err)
		}
		if n == 0 {
			return total, nil
		}
		total += n
	}
	return total, nil
}

// Socketpair creates a connected, non-blocking Unix socketpair for the
// parent/child IPC channel, each end FD_CLOEXEC unless the child end is
// explicitly inherited across exec (spec.md §5 FD invariants).
func Socketpair() (parentFD, childFD int, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return 0, 0, fmt.Errorf("ipc: socketpair: %w", err)
	}
	return fds[0], fds[1], nil
}
