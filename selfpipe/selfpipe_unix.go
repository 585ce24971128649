// Unix implementation backed by a non-blocking pipe(2).

//go:build !windows

package selfpipe

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// sentinel is the single byte written per poke. Package-level so that
// Poke does not allocate.
var sentinel = []byte{0}

// native holds the read and write ends of the pipe.
type native struct {
	rfd int
	wfd int
}

// open creates the pipe and switches both ends to non-blocking,
// close-on-exec mode.
func (p *Pipe) open() error {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return fmt.Errorf("create pipe: %w", err)
	}
	for _, fd := range fds {
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(fds[0])
			unix.Close(fds[1])
			return fmt.Errorf("set pipe non-blocking: %w", err)
		}
		unix.CloseOnExec(fd)
	}
	p.rfd, p.wfd = fds[0], fds[1]
	return nil
}

// signal writes one sentinel byte. A full pipe (EAGAIN) already guarantees
// a pending wake, so the error is dropped.
func (p *Pipe) signal() {
	_, _ = unix.Write(p.wfd, sentinel)
}

// wait polls the read end until it is readable, then drains it.
func (p *Pipe) wait() error {
	fds := []unix.PollFd{{Fd: int32(p.rfd), Events: unix.POLLIN}}
	for {
		fds[0].Revents = 0
		_, err := unix.Poll(fds, -1)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return fmt.Errorf("poll pipe: %w", err)
		}
		if fds[0].Revents&unix.POLLNVAL != 0 {
			return ErrClosed
		}
		if fds[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			break
		}
	}
	p.drain()
	return nil
}

// drain reads until the pipe is empty.
func (p *Pipe) drain() {
	var buf [64]byte
	for {
		n, err := unix.Read(p.rfd, buf[:])
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil || n <= 0 {
			return
		}
	}
}

// release closes both ends of the pipe.
func (p *Pipe) release() error {
	werr := unix.Close(p.wfd)
	rerr := unix.Close(p.rfd)
	if err := errors.Join(werr, rerr); err != nil {
		return fmt.Errorf("close pipe: %w", err)
	}
	return nil
}
