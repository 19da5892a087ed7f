package pty

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"golang.org/x/sys/unix"

	ipcpkg "github.com/markjdb/bricoler/internal/ipc"
)

// RunBootstrap runs the entire child-side setup described in
// spec.md §4.9.1 and never returns on success: it execve's into the
// target command. It is invoked by cmd/bricoler's main before cobra
// ever sees argv, guarded by IsBootstrapInvocation.
func RunBootstrap(args []string) {
	if len(args) < 4 {
		fmt.Fprintln(os.Stderr, "pty bootstrap: missing slave name or command")
		os.Exit(1)
	}
	slaveName := args[2]
	command := args[3]
	cmdArgs := args[4:]

	ch := ipcpkg.New(bootstrapIPCFD)

	if err := bootstrapChild(ch, slaveName, command, cmdArgs); err != nil {
		_ = ch.Send(ipcpkg.TagError, []byte(err.Error()))
		_ = ch.Close()
		os.Exit(1)
	}
	// bootstrapChild only returns on success by calling unix.Exec,
	// which replaces this process image; reaching here is a bug.
	fmt.Fprintln(os.Stderr, "pty bootstrap: exec returned unexpectedly")
	os.Exit(1)
}

func bootstrapChild(ch *ipcpkg.Channel, slaveName, command string, args []string) error {
	if _, err := unix.Setsid(); err != nil {
		return fmt.Errorf("setsid: %w", err)
	}

	slave, err := os.OpenFile(slaveName, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open slave %s: %w", slaveName, err)
	}
	slaveFD := int(slave.Fd())
	for fd := 0; fd <= 2; fd++ {
		if err := unix.Dup2(slaveFD, fd); err != nil {
			return fmt.Errorf("dup2 fd %d: %w", fd, err)
		}
	}
	if slaveFD > 2 {
		_ = slave.Close()
	}

	termios, err := unix.IoctlGetTermios(0, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("get termios: %w", err)
	}

	ch.OnTag(ipcpkg.TagTermiosInquiry, func(ipcpkg.Message) {
		_ = ch.Send(ipcpkg.TagTermiosSet, termiosToBytes(termios))
	})
	ch.OnTag(ipcpkg.TagTermiosSet, func(m ipcpkg.Message) {
		t, err := bytesToTermios(m.Payload)
		if err != nil {
			return
		}
		if err := unix.IoctlSetTermios(0, unix.TCSETS, t); err != nil {
			return
		}
		termios = t
		_ = ch.Send(ipcpkg.TagTermiosAck, nil)
	})

	if err := ch.Send(ipcpkg.TagRelease, nil); err != nil {
		return fmt.Errorf("send release: %w", err)
	}
	if err := waitForParentRelease(ch); err != nil {
		return err
	}

	// Resolve the target before closing the channel so a lookup
	// failure can still be reported via a best-effort ERROR message
	// (spec.md §4.9.1 "any pre-exec error is reported via a best-effort
	// ERROR message").
	path, err := exec.LookPath(command)
	if err != nil {
		return fmt.Errorf("lookup %s: %w", command, err)
	}

	_ = ch.Close()

	// SIGINT reverts to default disposition for the exec'd command; the
	// bootstrap process never installed a handler for it, so this is
	// already the case.

	argv := append([]string{command}, args...)
	return unix.Exec(path, argv, os.Environ())
}

func waitForParentRelease(ch *ipcpkg.Channel) error {
	deadline := time.Now().Add(releaseTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("bootstrap: %w waiting for parent release", ErrTimeout)
		}
		readable, err := waitReadable(bootstrapIPCFD, minDuration(remaining, 200*time.Millisecond))
		if err != nil {
			return fmt.Errorf("bootstrap: poll: %w", err)
		}
		if readable {
			if err := ch.Drain(); err != nil && err != io.EOF {
				return fmt.Errorf("bootstrap: drain: %w", err)
			}
		}
		msg, ok, err := ch.Recv()
		if err != nil {
			return fmt.Errorf("bootstrap: recv: %w", err)
		}
		if ok && msg.Tag == ipcpkg.TagRelease {
			return nil
		}
	}
}
