package pty

import "golang.org/x/sys/unix"

// configureMaster sets the termios attributes on a freshly opened PTY
// master to sane interactive defaults: CRLF mapping on input and output,
// signal generation and canonical line editing enabled, and echo left to
// the line discipline rather than duplicated here.
func configureMaster(fd int) error {
	termios, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	if err != nil {
		return nil
	}

	termios.Iflag |= unix.ICRNL
	termios.Iflag &^= unix.IXON | unix.IXOFF | unix.IXANY

	termios.Oflag |= unix.OPOST | unix.ONLCR

	termios.Cflag |= unix.CS8 | unix.CREAD
	termios.Cflag &^= unix.PARENB

	termios.Lflag |= unix.ISIG | unix.ICANON | unix.IEXTEN | unix.ECHO | unix.ECHOE | unix.ECHOK
	termios.Lflag &^= unix.ECHONL

	termios.Cc[unix.VEOF] = 4
	termios.Cc[unix.VERASE] = 127
	termios.Cc[unix.VINTR] = 3
	termios.Cc[unix.VKILL] = 21
	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VQUIT] = 28
	termios.Cc[unix.VSUSP] = 26
	termios.Cc[unix.VTIME] = 0

	return unix.IoctlSetTermios(fd, ioctlSetTermios, termios)
}
