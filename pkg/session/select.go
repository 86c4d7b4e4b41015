//go:build darwin || linux
// +build darwin linux

package session

import (
	"fmt"
	"log"
	"syscall"
	"time"
)

// selectRead performs a select() operation on multiple file descriptors.
func selectRead(fds []int, timeout time.Duration) ([]int, error) {
	if len(fds) == 0 {
		return nil, fmt.Errorf("no file descriptors to select on")
	}

	maxFd := 0
	for _, fd := range fds {
		if fd > maxFd {
			maxFd = fd
		}
	}

	var readSet syscall.FdSet
	for _, fd := range fds {
		fdSetAdd(&readSet, fd)
	}

	tv := syscall.NsecToTimeval(timeout.Nanoseconds())

	err := selectCall(maxFd+1, &readSet, nil, nil, &tv)
	if err != nil {
		if err == syscall.EINTR || err == syscall.EAGAIN {
			return []int{}, nil
		}
		return nil, err
	}

	var ready []int
	for _, fd := range fds {
		if fdIsSet(&readSet, fd) {
			ready = append(ready, fd)
		}
	}

	return ready, nil
}

// fdSetAdd adds a file descriptor to an FdSet.
func fdSetAdd(set *syscall.FdSet, fd int) {
	set.Bits[fd/64] |= 1 << uint(fd%64)
}

// fdIsSet checks if a file descriptor is set in an FdSet.
func fdIsSet(set *syscall.FdSet, fd int) bool {
	return set.Bits[fd/64]&(1<<uint(fd%64)) != 0
}

// runSelectLoop is the session's single-threaded I/O loop. It is the only
// goroutine that ever touches the controller: every other goroutine
// (HTTP handlers, the control FIFO listener, the stdin watcher) only ever
// enqueues a request into s.pending, which this loop drains once per
// iteration regardless of whether the PTY fd is ready. A 100ms select
// timeout on just the PTY fd keeps those requests from waiting behind a
// quiet terminal.
func (s *Session) runSelectLoop() error {
	for {
		if !s.controller.IsOpen() {
			s.finishPendingClose(0, nil)
			return nil
		}

		if done := s.drainPending(); done {
			return nil
		}

		ptyFd := s.controller.Fd()
		ready, err := selectRead([]int{ptyFd}, 100*time.Millisecond)
		if err != nil {
			log.Printf("[ERROR] select error: %v", err)
			return err
		}

		for _, fd := range ready {
			if fd == ptyFd {
				if err := s.controller.Read(); err != nil {
					log.Printf("[ERROR] controller read error: %v", err)
					return err
				}
			}
		}
	}
}

// drainPending applies any queued writes, the latest queued resize, and a
// pending close request, in that order. It reports whether a close
// request was serviced, in which case the loop must exit.
func (s *Session) drainPending() bool {
	s.pending.mu.Lock()
	writes := s.pending.writes
	s.pending.writes = nil
	resize := s.pending.resize
	s.pending.resize = nil
	closeReq := s.pending.closeReq
	s.pending.closeReq = nil
	s.pending.mu.Unlock()

	for _, w := range writes {
		if err := s.controller.EnqueueWrite(w); err != nil {
			log.Printf("[ERROR] Session %s: failed to enqueue write: %v", s.ID[:8], err)
			continue
		}
	}
	if len(writes) > 0 {
		if err := s.controller.Write(); err != nil {
			log.Printf("[ERROR] Session %s: failed to flush writes: %v", s.ID[:8], err)
		}
	}

	if resize != nil {
		if err := s.controller.Resize(uint16(resize.rows), uint16(resize.cols)); err != nil {
			log.Printf("[ERROR] Session %s: failed to resize controller: %v", s.ID[:8], err)
		}
	}

	if closeReq != nil {
		code, err := s.controller.Close()
		s.mu.Lock()
		s.info.Status = string(StatusExited)
		s.info.ExitCode = &code
		s.mu.Unlock()
		if saveErr := s.info.Save(s.Path()); saveErr != nil {
			log.Printf("[ERROR] Session %s: failed to save info on close: %v", s.ID[:8], saveErr)
		}
		closeReq <- closeResult{code: code, err: err}
		return true
	}

	return false
}

// finishPendingClose services a close request that arrived after the
// controller had already reported itself closed (e.g. the child exited on
// its own right before Stop/Kill was called).
func (s *Session) finishPendingClose(code int, err error) {
	s.pending.mu.Lock()
	closeReq := s.pending.closeReq
	s.pending.closeReq = nil
	s.pending.mu.Unlock()
	if closeReq != nil {
		closeReq <- closeResult{code: code, err: err}
	}
}
