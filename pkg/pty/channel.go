// Package pty forks a child process onto a pseudo-terminal and exposes a
// non-blocking, cooperatively-scheduled read/write surface over it.
package pty

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"strings"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// ErrDispatching is returned when a caller re-enters the channel's API
// while a read()-triggered parse pass is in flight. It is a contract
// violation, not a recoverable condition.
var ErrDispatching = errors.New("pty: re-entrant call during dispatch")

const readChunk = 4096

// ChildExit carries the exit status observed when the channel detects
// that its child has terminated.
type ChildExit struct {
	Code int
}

// Channel owns one PTY master/child pair. It is not safe for concurrent
// use — the embedder is expected to drive it from a single cooperative
// loop, per the single-threaded scheduling model it was built for.
type Channel struct {
	master *os.File
	cmd    *exec.Cmd

	decoder Decoder

	writeQueue [][]byte
	dumpWrites bool

	dispatching bool

	closed bool
	pid    int
}

// Open forks command (or the user's shell with -i if command is empty)
// attached to a new PTY sized rows x cols, in working directory cwd, with
// the child's TERM set to term and WINDOWID set to windowID.
func Open(rows, cols uint16, cwd, windowID, term string, command []string) (*Channel, error) {
	if rows == 0 || cols == 0 {
		return nil, fmt.Errorf("pty: geometry must be non-zero (rows=%d cols=%d)", rows, cols)
	}

	master, slave, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("pty: openpty: %w", err)
	}
	defer slave.Close()

	if err := pty.Setsize(master, &pty.Winsize{Rows: rows, Cols: cols}); err != nil {
		master.Close()
		return nil, fmt.Errorf("pty: initial winsize: %w", err)
	}

	if err := configureMaster(int(master.Fd())); err != nil {
		master.Close()
		return nil, fmt.Errorf("pty: configuring termios: %w", err)
	}

	argv := command
	if len(argv) == 0 {
		shell := os.Getenv("SHELL")
		if shell == "" {
			shell = "/bin/sh"
		}
		argv = []string{shell, "-i"}
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = cwd
	cmd.Stdin = slave
	cmd.Stdout = slave
	cmd.Stderr = slave
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid:  true,
		Setctty: true,
	}
	cmd.Env = childEnv(windowID, term)

	if err := cmd.Start(); err != nil {
		master.Close()
		// Go's os/exec reports an exec(2) failure synchronously through an
		// error pipe rather than leaving a child to exit 127, so that
		// convention from the raw fork/exec surface cannot be reproduced
		// here — the failure surfaces as an error from Open instead.
		return nil, fmt.Errorf("pty: exec %v: %w", argv, err)
	}

	return &Channel{
		master: master,
		cmd:    cmd,
		pid:    cmd.Process.Pid,
	}, nil
}

// childEnv builds the environment handed to the child: COLUMNS, LINES and
// TERMCAP are never inherited; LOGNAME/USER come from the password
// database; SHELL and HOME are filled from the password database only if
// unset (SHELL is read from /etc/passwd, falling back to /bin/sh); WINDOWID
// and TERM are always overwritten.
func childEnv(windowID, term string) []string {
	var out []string
	for _, kv := range os.Environ() {
		k := kv
		if i := strings.IndexByte(kv, '='); i >= 0 {
			k = kv[:i]
		}
		switch k {
		case "COLUMNS", "LINES", "TERMCAP", "WINDOWID", "TERM":
			continue
		default:
			out = append(out, kv)
		}
	}

	haveShell := os.Getenv("SHELL") != ""
	haveHome := os.Getenv("HOME") != ""

	if u, err := user.Current(); err == nil {
		out = append(out, "LOGNAME="+u.Username, "USER="+u.Username)
		if !haveShell {
			shell := "/bin/sh"
			if data, err := os.ReadFile("/etc/passwd"); err == nil {
				for _, line := range strings.Split(string(data), "\n") {
					if f := strings.Split(line, ":"); len(f) == 7 && f[0] == u.Username && f[6] != "" {
						shell = f[6]
						break
					}
				}
			}
			out = append(out, "SHELL="+shell)
		}
		if !haveHome {
			out = append(out, "HOME="+u.HomeDir)
		}
	}

	out = append(out, "WINDOWID="+windowID, "TERM="+term)
	return out
}

// Fd returns the master descriptor for external readiness multiplexing.
func (c *Channel) Fd() int {
	return int(c.master.Fd())
}

// IsOpen reports whether the channel has not yet been closed.
func (c *Channel) IsOpen() bool {
	return !c.closed
}

// Pid returns the child process id, for embedders that persist liveness
// information across process restarts.
func (c *Channel) Pid() int {
	return c.pid
}

// Read performs one read of up to 4096 bytes, slices the result into
// UTF-8 clusters (carrying over any partial trailing cluster), and
// invokes process with the clusters for the duration of a guarded parse
// pass. A zero-byte or error read is treated as child exit: the shutdown
// ladder runs, the child is reaped, and a non-nil ChildExit is returned.
func (c *Channel) Read(process func(clusters [][]byte)) (*ChildExit, error) {
	if c.dispatching {
		return nil, ErrDispatching
	}
	if c.closed {
		return nil, fmt.Errorf("pty: read on closed channel")
	}

	buf := make([]byte, readChunk)
	n, err := syscall.Read(c.Fd(), buf)
	if n <= 0 || err != nil {
		return c.handleChildExit()
	}

	var clusters [][]byte
	c.decoder.Feed(buf[:n], func(cluster []byte) {
		clusters = append(clusters, append([]byte{}, cluster...))
	})

	c.dispatching = true
	process(clusters)
	c.dispatching = false

	return nil, nil
}

func (c *Channel) handleChildExit() (*ChildExit, error) {
	code, err := c.shutdown()
	if err != nil {
		return nil, err
	}
	return &ChildExit{Code: code}, nil
}

// EnqueueWrite appends data to the write queue unless dump_writes has
// been set by a prior irrecoverable write failure.
func (c *Channel) EnqueueWrite(data []byte) error {
	if c.dispatching {
		return ErrDispatching
	}
	if c.dumpWrites || len(data) == 0 {
		return nil
	}
	c.writeQueue = append(c.writeQueue, append([]byte{}, data...))
	return nil
}

// IsWritePending reports whether the write queue holds unflushed bytes.
func (c *Channel) IsWritePending() (bool, error) {
	if c.dispatching {
		return false, ErrDispatching
	}
	return len(c.writeQueue) > 0, nil
}

// Write flushes as much of the front of the write queue as the master
// accepts in one call. A failed write sets dump_writes and discards the
// queue; subsequent writes are silently no-ops until the channel closes.
func (c *Channel) Write() error {
	if c.dispatching {
		return ErrDispatching
	}
	if len(c.writeQueue) == 0 {
		return nil
	}

	front := c.writeQueue[0]
	n, err := syscall.Write(c.Fd(), front)
	if err != nil {
		c.dumpWrites = true
		c.writeQueue = nil
		return nil
	}

	if n >= len(front) {
		c.writeQueue = c.writeQueue[1:]
	} else {
		c.writeQueue[0] = front[n:]
	}
	return nil
}

// Resize sets the winsize on the master.
func (c *Channel) Resize(rows, cols uint16) error {
	if c.dispatching {
		return ErrDispatching
	}
	return pty.Setsize(c.master, &pty.Winsize{Rows: rows, Cols: cols})
}

// Close runs the shutdown protocol and returns the child's exit code. It
// is idempotent.
func (c *Channel) Close() (int, error) {
	if c.closed {
		return 0, nil
	}
	return c.shutdown()
}

// shutdown implements the escalating signal ladder: close the master,
// nudge the child with SIGCONT then SIGPIPE, poll-reap, then escalate
// through SIGINT, SIGTERM, SIGQUIT, SIGKILL — each with a 100ms poll-reap
// budget — before falling back to a final blocking reap. The pid signalled
// is the direct child pid, not its process group.
func (c *Channel) shutdown() (int, error) {
	c.master.Close()
	c.closed = true

	pid := c.pid
	if pid <= 0 {
		return 0, nil
	}

	if code, ok := reap(pid, unix.WNOHANG); ok {
		return code, nil
	}

	ladder := []syscall.Signal{syscall.SIGCONT, syscall.SIGPIPE}
	for _, sig := range ladder {
		syscall.Kill(pid, sig)
	}
	if code, ok := pollReap(pid, 100*time.Millisecond); ok {
		return code, nil
	}

	escalation := []syscall.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGKILL}
	for _, sig := range escalation {
		syscall.Kill(pid, sig)
		if code, ok := pollReap(pid, 100*time.Millisecond); ok {
			return code, nil
		}
	}

	return waitReap(pid)
}

// pollReap polls for the child's exit for up to budget, sleeping 1ms
// between attempts.
func pollReap(pid int, budget time.Duration) (int, bool) {
	deadline := time.Now().Add(budget)
	for time.Now().Before(deadline) {
		if code, ok := reap(pid, unix.WNOHANG); ok {
			return code, true
		}
		time.Sleep(time.Millisecond)
	}
	return 0, false
}

// waitReap blocks until the child is reaped.
func waitReap(pid int) (int, error) {
	var status unix.WaitStatus
	for {
		_, err := unix.Wait4(pid, &status, 0, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("pty: wait4 %d: %w", pid, err)
		}
		return exitCode(status), nil
	}
}

// reap performs a single non-blocking (or blocking, if flags==0) wait
// attempt and reports whether the child had already exited.
func reap(pid int, flags int) (int, bool) {
	var status unix.WaitStatus
	got, err := unix.Wait4(pid, &status, flags, nil)
	if err != nil || got != pid {
		return 0, false
	}
	return exitCode(status), true
}

func exitCode(status unix.WaitStatus) int {
	if status.Exited() {
		return status.ExitStatus()
	}
	if status.Signaled() {
		return 1 // EXIT_FAILURE equivalent when the child was signalled.
	}
	return 0
}
