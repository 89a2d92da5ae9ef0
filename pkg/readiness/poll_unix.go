//go:build !linux && (darwin || freebsd || netbsd || openbsd)

package readiness

import (
	"context"
	"time"

	"golang.org/x/sys/unix"

	httperrors "github.com/loopwire/uhttp/pkg/errors"
)

// Poll is the portable, non-epoll readiness primitive for unix platforms
// without a Linux-style epoll: it issues a single poll(2) syscall per
// Select call rather than maintaining a persistent interest list.
type Poll struct{}

// NewPoll creates a new Poll selector.
func NewPoll() *Poll { return &Poll{} }

// Select implements Selector.
func (p *Poll) Select(ctx context.Context, read, write []uintptr, timeout time.Duration) (readyRead, readyWrite []uintptr, err error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	index := make(map[uintptr]int)
	fds := make([]unix.PollFd, 0, len(read)+len(write))
	add := func(fd uintptr, events int16) {
		if i, ok := index[fd]; ok {
			fds[i].Events |= events
			return
		}
		index[fd] = len(fds)
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: events})
	}
	for _, fd := range read {
		add(fd, unix.POLLIN)
	}
	for _, fd := range write {
		add(fd, unix.POLLOUT)
	}

	timeoutMs := -1
	if timeout >= 0 {
		timeoutMs = int(timeout.Milliseconds())
	}

	n, err := unix.Poll(fds, timeoutMs)
	for err == unix.EINTR {
		n, err = unix.Poll(fds, timeoutMs)
	}
	if err != nil {
		return nil, nil, httperrors.NewIOError("poll", err)
	}
	if n == 0 {
		return nil, nil, nil
	}

	for _, pfd := range fds {
		if pfd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			readyRead = append(readyRead, uintptr(pfd.Fd))
		}
		if pfd.Revents&(unix.POLLOUT|unix.POLLHUP|unix.POLLERR) != 0 {
			readyWrite = append(readyWrite, uintptr(pfd.Fd))
		}
	}
	return readyRead, readyWrite, nil
}

// Close is a no-op: Poll holds no OS resources between calls.
func (p *Poll) Close() error { return nil }
