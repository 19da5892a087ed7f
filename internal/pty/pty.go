// Package pty implements PtyDriver: spawning a child under a controlled
// pseudo-terminal and synchronizing terminal setup with it over the IPC
// protocol in package ipc (spec.md §4.9, §5).
//
// Go forbids calling back into the runtime after a raw fork without an
// immediate exec, so the child side cannot be a forked copy of this
// process cooperating via shared memory the way a C implementation
// would. Spawn instead re-execs the running binary with a hidden
// bootstrap argv recognized by IsBootstrapInvocation; the bootstrap
// process performs exactly the setup steps spec.md §4.9.1 describes
// (new session, controlling terminal, termios handshake, release wait)
// before calling execve on the user's target command. cmd/bricoler's
// main dispatches to RunBootstrap before cobra ever runs.
package pty

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	ipcpkg "github.com/markjdb/bricoler/internal/ipc"
)

// BootstrapArg is the hidden argv[1] that marks a re-exec as the
// child-side bootstrap rather than a normal invocation of the binary.
const BootstrapArg = "__bricoler_pty_bootstrap__"

// bootstrapIPCFD is the fd the bootstrap process finds its IPC channel
// on: the sole entry of cmd.ExtraFiles always lands at fd 3.
const bootstrapIPCFD = 3

// releaseTimeout bounds how long Spawn and the bootstrap process each
// wait for the other side's RELEASE (spec.md §4.9.1's "synchronously
// waits" given a concrete bound; matches the script engine's default
// action timeout from §4.9.2).
const releaseTimeout = 10 * time.Second

// terminationGrace is the SIGINT-to-SIGKILL window (spec.md §4.9.3).
const terminationGrace = 5 * time.Second

var ErrTimeout = errors.New("pty: timed out")

// IsBootstrapInvocation reports whether args (os.Args) requests the
// child-side bootstrap rather than the program's normal entry point.
func IsBootstrapInvocation(args []string) bool {
	return len(args) > 1 && args[1] == BootstrapArg
}

// Options configures a spawned PTY.
type Options struct {
	Rows, Cols uint16
}

// Process is PtyProcess (spec.md §3): a child running under a
// controlled PTY, synchronized over an IPCChannel.
type Process struct {
	cmd    *exec.Cmd
	master *os.File
	ipc    *ipcpkg.Channel
	pid    int

	mu       sync.Mutex
	released bool
	eof      bool
	err      error

	waitOnce sync.Once
	waitErr  error
}

// Spawn allocates a PTY, re-execs the current binary into the
// bootstrap child, and blocks until the child's RELEASE arrives —
// eliminating the race between child execve and parent writes
// (spec.md §4.9.1).
func Spawn(ctx context.Context, command string, args []string, opts Options) (*Process, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("pty: open: %w", err)
	}
	if opts.Rows > 0 || opts.Cols > 0 {
		if err := pty.Setsize(master, &pty.Winsize{Rows: opts.Rows, Cols: opts.Cols}); err != nil {
			_ = master.Close()
			_ = slave.Close()
			return nil, fmt.Errorf("pty: setsize: %w", err)
		}
	}

	slaveName := slave.Name()
	if err := slave.Close(); err != nil {
		_ = master.Close()
		return nil, fmt.Errorf("pty: close slave: %w", err)
	}

	parentFD, childFD, err := ipcpkg.Socketpair()
	if err != nil {
		_ = master.Close()
		return nil, fmt.Errorf("pty: socketpair: %w", err)
	}

	self, err := os.Executable()
	if err != nil {
		_ = master.Close()
		_ = unix.Close(parentFD)
		_ = unix.Close(childFD)
		return nil, fmt.Errorf("pty: resolve self: %w", err)
	}

	bootArgs := append([]string{BootstrapArg, slaveName, command}, args...)
	cmd := exec.Command(self, bootArgs...)
	cmd.ExtraFiles = []*os.File{os.NewFile(uintptr(childFD), "bricoler-pty-ipc")}

	if err := cmd.Start(); err != nil {
		_ = master.Close()
		_ = unix.Close(parentFD)
		_ = unix.Close(childFD)
		return nil, fmt.Errorf("pty: spawn: %w", err)
	}
	// The child's exec.Cmd dup'd this fd; our copy is no longer needed.
	_ = unix.Close(childFD)

	p := &Process{
		cmd:    cmd,
		master: master,
		ipc:    ipcpkg.New(parentFD),
		pid:    cmd.Process.Pid,
	}
	p.ipc.OnTag(ipcpkg.TagError, func(m ipcpkg.Message) {
		p.mu.Lock()
		p.err = fmt.Errorf("pty: child reported error: %s", string(m.Payload))
		p.mu.Unlock()
	})

	if err := p.waitRelease(ctx); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

// waitRelease performs the full bidirectional handshake of spec.md
// §4.9.1: wait for the child's RELEASE, drive the termios
// INQUIRY/SET/ACK exchange, then send the parent's own RELEASE so the
// bootstrap child proceeds to execve. Without the parent's RELEASE the
// child blocks forever in waitForParentRelease and is never replaced by
// the target command.
func (p *Process) waitRelease(ctx context.Context) error {
	if _, err := p.recvTag(ctx, ipcpkg.TagRelease); err != nil {
		return fmt.Errorf("pty: %w waiting for child release", err)
	}
	p.mu.Lock()
	p.released = true
	p.mu.Unlock()

	if err := p.exchangeTermios(ctx); err != nil {
		return err
	}

	if err := p.ipc.Send(ipcpkg.TagRelease, nil); err != nil {
		return fmt.Errorf("pty: send release: %w", err)
	}
	// Nothing more is sent to the child; ending the write side lets the
	// child's drain and ipc.Close see EOF so it can go on to execve.
	if err := unix.Shutdown(p.ipc.FD(), unix.SHUT_WR); err != nil {
		return fmt.Errorf("pty: shutdown ipc write side: %w", err)
	}
	return nil
}

// exchangeTermios drives the parent side of the three-message
// handshake the bootstrap child's handlers answer
// (bootstrap.go:OnTag(TagTermiosInquiry/TagTermiosSet)): ask for a
// snapshot of the child's termios, write it back unmodified so the
// child applies it and acknowledges (spec.md §4.9.1, Design Note
// "Process/terminal coupling" — the value must round-trip bit-exact).
func (p *Process) exchangeTermios(ctx context.Context) error {
	if err := p.ipc.Send(ipcpkg.TagTermiosInquiry, nil); err != nil {
		return fmt.Errorf("pty: send termios inquiry: %w", err)
	}
	snapshot, err := p.recvTag(ctx, ipcpkg.TagTermiosSet)
	if err != nil {
		return fmt.Errorf("pty: %w waiting for termios snapshot", err)
	}
	if err := p.ipc.Send(ipcpkg.TagTermiosSet, snapshot.Payload); err != nil {
		return fmt.Errorf("pty: send termios set: %w", err)
	}
	if _, err := p.recvTag(ctx, ipcpkg.TagTermiosAck); err != nil {
		return fmt.Errorf("pty: %w waiting for termios ack", err)
	}
	return nil
}

// recvTag blocks until a message tagged want arrives over the IPC
// channel, bounded by releaseTimeout and ctx.
func (p *Process) recvTag(ctx context.Context, want ipcpkg.Tag) (ipcpkg.Message, error) {
	deadline := time.Now().Add(releaseTimeout)
	for {
		if err := ctx.Err(); err != nil {
			return ipcpkg.Message{}, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ipcpkg.Message{}, ErrTimeout
		}
		readable, err := waitReadable(p.ipc.FD(), minDuration(remaining, 200*time.Millisecond))
		if err != nil {
			return ipcpkg.Message{}, fmt.Errorf("pty: poll: %w", err)
		}
		if readable {
			if err := p.ipc.Drain(); err != nil && err != io.EOF {
				return ipcpkg.Message{}, fmt.Errorf("pty: drain: %w", err)
			}
		}
		msg, ok, err := p.ipc.Recv()
		if err != nil {
			return ipcpkg.Message{}, fmt.Errorf("pty: recv: %w", err)
		}
		if ok && msg.Tag == want {
			return msg, nil
		}
	}
}

// Pid returns the spawned child's process ID.
func (p *Process) Pid() int { return p.pid }

// Released reports whether the child's RELEASE has been observed.
func (p *Process) Released() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}

// EOF reports whether the PTY master has transitioned to EOF.
func (p *Process) EOF() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.eof
}

// Err returns a sticky error recorded via the child's ERROR message, if any.
func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// localFlagBits names the subset of the tty local-mode flag table the
// script engine's "stty" step can toggle (spec.md §6.3's read-only
// `tty` table, narrowed to the flags scripts actually need to flip).
var localFlagBits = map[string]uint32{
	"echo":   unix.ECHO,
	"icanon": unix.ICANON,
	"isig":   unix.ISIG,
}

// SetLocalFlag toggles a named local-mode termios flag on the PTY
// master.
func (p *Process) SetLocalFlag(name string, enabled bool) error {
	bit, ok := localFlagBits[name]
	if !ok {
		return fmt.Errorf("pty: unknown stty flag %q", name)
	}
	t, err := unix.IoctlGetTermios(int(p.master.Fd()), unix.TCGETS)
	if err != nil {
		return fmt.Errorf("pty: get termios: %w", err)
	}
	if enabled {
		t.Lflag |= bit
	} else {
		t.Lflag &^= bit
	}
	return unix.IoctlSetTermios(int(p.master.Fd()), unix.TCSETS, t)
}

// ReadTimeout reads from the PTY master, waiting up to timeout for data
// to become available. A zero or negative timeout polls once
// (spec.md §4.9.2 "zero means poll once").
func (p *Process) ReadTimeout(buf []byte, timeout time.Duration) (int, error) {
	readable, err := waitReadable(int(p.master.Fd()), timeout)
	if err != nil {
		return 0, fmt.Errorf("pty: poll master: %w", err)
	}
	if !readable {
		return 0, ErrTimeout
	}
	n, err := p.master.Read(buf)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, unix.EIO) {
			p.markEOF()
			return n, io.EOF
		}
		return n, err
	}
	if n == 0 {
		p.markEOF()
		return 0, io.EOF
	}
	return n, nil
}

// Write writes to the PTY master. Control-character translation and
// rate limiting are the script engine's concern (internal/ptyscript).
func (p *Process) Write(b []byte) (int, error) {
	return p.master.Write(b)
}

func (p *Process) markEOF() {
	p.mu.Lock()
	if p.eof {
		p.mu.Unlock()
		return
	}
	p.eof = true
	p.mu.Unlock()
	_ = p.master.Close()
	p.recordWait(p.reap())
}

func (p *Process) reap() error {
	var err error
	p.waitOnce.Do(func() {
		err = p.cmd.Wait()
	})
	return err
}

func (p *Process) recordWait(err error) {
	p.mu.Lock()
	p.waitErr = err
	p.mu.Unlock()
}

// WaitErr returns the result of the one-time waitpid performed at EOF
// or Close (spec.md §8 "waitpid exactly once per spawned child").
func (p *Process) WaitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

// Close implements the bounded termination protocol: SIGINT, a grace
// window, then SIGKILL, followed by exactly one waitpid
// (spec.md §4.9.3, §5).
func (p *Process) Close() error {
	p.mu.Lock()
	alreadyEOF := p.eof
	pid := p.pid
	p.mu.Unlock()

	if !alreadyEOF {
		_ = unix.Kill(pid, unix.SIGINT)
		exited := make(chan error, 1)
		go func() { exited <- p.reap() }()
		select {
		case err := <-exited:
			p.recordWait(err)
		case <-time.After(terminationGrace):
			_ = unix.Kill(pid, unix.SIGKILL)
			p.recordWait(<-exited)
		}
	}
	// If already at EOF, markEOF already reaped the child.

	_ = p.ipc.Close()
	return p.master.Close()
}
