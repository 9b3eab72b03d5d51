// Package readiness wraps the kernel epoll facility behind a small
// register/modify/wait interface, grounded directly in
// micro_http's common/epoll.rs: create, add(fd, interest),
// modify(fd, interest), wait(timeout=inf, out[]).
package readiness

import (
	"golang.org/x/sys/unix"

	"github.com/ctrlplane/apihttp/pkg/httperr"
)

// Interest is the event a registered stream is waiting for.
type Interest uint32

const (
	// Readable corresponds to EPOLLIN.
	Readable Interest = unix.EPOLLIN
	// Writable corresponds to EPOLLOUT.
	Writable Interest = unix.EPOLLOUT
)

// Event reports which fd became ready and for what.
type Event struct {
	FD    int
	Ready Interest
}

// Notifier is a thin wrapper over a single epoll instance.
type Notifier struct {
	epfd int
}

// New creates a new epoll instance.
func New() (*Notifier, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, httperr.NewIOError("epoll-create", err)
	}
	return &Notifier{epfd: fd}, nil
}

// Add registers fd for the given interest.
func (n *Notifier) Add(fd int, interest Interest) error {
	ev := unix.EpollEvent{Events: uint32(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(n.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return httperr.NewIOError("epoll-add", err)
	}
	return nil
}

// Modify changes the interest set for an already-registered fd.
func (n *Notifier) Modify(fd int, interest Interest) error {
	ev := unix.EpollEvent{Events: uint32(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(n.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return httperr.NewIOError("epoll-modify", err)
	}
	return nil
}

// Remove deregisters fd.
func (n *Notifier) Remove(fd int) error {
	if err := unix.EpollCtl(n.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return httperr.NewIOError("epoll-remove", err)
	}
	return nil
}

// Wait blocks until at least one registered fd is ready, or until an
// unrecoverable error occurs. EINTR is reported as zero events, not an
// error, matching the original's treatment of epoll_wait's return.
func (n *Notifier) Wait(maxEvents int) ([]Event, error) {
	raw := make([]unix.EpollEvent, maxEvents)
	count, err := unix.EpollWait(n.epfd, raw, -1)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, httperr.NewIOError("epoll-wait", err)
	}
	events := make([]Event, count)
	for i := 0; i < count; i++ {
		events[i] = Event{FD: int(raw[i].Fd), Ready: Interest(raw[i].Events)}
	}
	return events, nil
}

// FD returns the raw epoll file descriptor, so a host application can
// fold it into a larger event loop of its own.
func (n *Notifier) FD() int {
	return n.epfd
}

// Close releases the epoll instance.
func (n *Notifier) Close() error {
	return unix.Close(n.epfd)
}
