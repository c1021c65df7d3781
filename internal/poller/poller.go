// Package poller implements the readiness multiplexer (§4.10): a thin
// wrapper over Linux epoll. A TCP event loop polls socket readiness
// rather than waiting on completed I/O, so Wait reports readable/
// writable/error events per fd rather than completed operations.
package poller

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// EventKind reports which readiness condition fired on a descriptor.
type EventKind uint32

const (
	// EventReadable means the fd is ready for a non-blocking read.
	EventReadable EventKind = 1 << iota
	// EventWritable means the fd is ready for a non-blocking write.
	EventWritable
	// EventError means the fd hit an error or hangup condition; the
	// caller should treat the connection as closed.
	EventError
)

// Event is one readiness notification.
type Event struct {
	Fd   int
	Kind EventKind
}

// Poller owns one epoll instance.
type Poller struct {
	epfd int
}

// New creates an epoll instance.
func New() (*Poller, error) {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, fmt.Errorf("poller: epoll_create1: %w", err)
	}
	return &Poller{epfd: epfd}, nil
}

// Close releases the epoll instance.
func (p *Poller) Close() error {
	return unix.Close(p.epfd)
}

func toEpollEvents(interest EventKind) uint32 {
	var ev uint32 = unix.EPOLLIN
	if interest&EventWritable != 0 {
		ev |= unix.EPOLLOUT
	}
	if interest&EventReadable == 0 {
		ev &^= unix.EPOLLIN
	}
	return ev
}

// Add registers fd for the given interest set.
func (p *Poller) Add(fd int, interest EventKind) error {
	ev := &unix.EpollEvent{Events: toEpollEvents(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		return fmt.Errorf("poller: epoll_ctl add fd=%d: %w", fd, err)
	}
	return nil
}

// Modify changes fd's interest set, e.g. to start or stop watching for
// write-readiness once a partial send completes or begins (§4.10
// register_pending_write / Flush completing fully).
func (p *Poller) Modify(fd int, interest EventKind) error {
	ev := &unix.EpollEvent{Events: toEpollEvents(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, ev); err != nil {
		return fmt.Errorf("poller: epoll_ctl mod fd=%d: %w", fd, err)
	}
	return nil
}

// Remove stops watching fd. Safe to call on an fd epoll no longer
// knows about (idempotent teardown, §4.10 disconnect).
func (p *Poller) Remove(fd int) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil && err != unix.ENOENT {
		return fmt.Errorf("poller: epoll_ctl del fd=%d: %w", fd, err)
	}
	return nil
}

// Wait blocks until at least one fd is ready or timeoutMs elapses (-1
// blocks indefinitely, 0 returns immediately), returning the ready
// events. It retries transparently on EINTR.
func (p *Poller) Wait(timeoutMs int, events []unix.EpollEvent) ([]Event, error) {
	var n int
	var err error
	for {
		n, err = unix.EpollWait(p.epfd, events, timeoutMs)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("poller: epoll_wait: %w", err)
	}

	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		e := events[i]
		var kind EventKind
		if e.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			kind |= EventError
		}
		if e.Events&unix.EPOLLIN != 0 {
			kind |= EventReadable
		}
		if e.Events&unix.EPOLLOUT != 0 {
			kind |= EventWritable
		}
		out = append(out, Event{Fd: int(e.Fd), Kind: kind})
	}
	return out, nil
}
