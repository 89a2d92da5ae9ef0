//go:build linux

package readiness

import (
	"context"
	"time"

	"golang.org/x/sys/unix"

	httperrors "github.com/loopwire/uhttp/pkg/errors"
)

// Epoll is the Linux readiness primitive backed by epoll(7). It reconciles
// the requested read/write sets against its interest list on every Select
// call so callers can pass the current set of live connections each
// iteration instead of maintaining Add/Remove calls themselves.
type Epoll struct {
	epfd       int
	registered map[uintptr]uint32
}

// NewEpoll creates a new Epoll selector.
func NewEpoll() (*Epoll, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, httperrors.NewIOError("epoll_create1", err)
	}
	return &Epoll{epfd: fd, registered: make(map[uintptr]uint32)}, nil
}

func (e *Epoll) reconcile(wanted map[uintptr]uint32) error {
	for fd, mask := range wanted {
		if old, ok := e.registered[fd]; !ok {
			ev := unix.EpollEvent{Events: mask, Fd: int32(fd)}
			if err := unix.EpollCtl(e.epfd, unix.EPOLL_CTL_ADD, int(fd), &ev); err != nil {
				return httperrors.NewIOError("epoll_ctl_add", err)
			}
		} else if old != mask {
			ev := unix.EpollEvent{Events: mask, Fd: int32(fd)}
			if err := unix.EpollCtl(e.epfd, unix.EPOLL_CTL_MOD, int(fd), &ev); err != nil {
				return httperrors.NewIOError("epoll_ctl_mod", err)
			}
		}
	}
	for fd := range e.registered {
		if _, ok := wanted[fd]; !ok {
			_ = unix.EpollCtl(e.epfd, unix.EPOLL_CTL_DEL, int(fd), nil)
		}
	}
	e.registered = wanted
	return nil
}

// Select implements Selector.
func (e *Epoll) Select(ctx context.Context, read, write []uintptr, timeout time.Duration) (readyRead, readyWrite []uintptr, err error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	wanted := make(map[uintptr]uint32, len(read)+len(write))
	for _, fd := range read {
		wanted[fd] |= unix.EPOLLIN
	}
	for _, fd := range write {
		wanted[fd] |= unix.EPOLLOUT
	}
	if err := e.reconcile(wanted); err != nil {
		return nil, nil, err
	}

	timeoutMs := -1
	if timeout >= 0 {
		timeoutMs = int(timeout.Milliseconds())
	}

	events := make([]unix.EpollEvent, len(wanted)+1)
	n, err := unix.EpollWait(e.epfd, events, timeoutMs)
	for err == unix.EINTR {
		n, err = unix.EpollWait(e.epfd, events, timeoutMs)
	}
	if err != nil {
		return nil, nil, httperrors.NewIOError("epoll_wait", err)
	}

	for i := 0; i < n; i++ {
		fd := uintptr(events[i].Fd)
		if events[i].Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			readyRead = append(readyRead, fd)
		}
		if events[i].Events&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			readyWrite = append(readyWrite, fd)
		}
	}
	return readyRead, readyWrite, nil
}

// Close releases the epoll file descriptor.
func (e *Epoll) Close() error {
	return unix.Close(e.epfd)
}
