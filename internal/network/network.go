// Package network implements the network layer (§4.10): a
// non-blocking listening socket plus the bookkeeping the orchestrator
// (internal/loop) needs to drive accept/read/write readiness —
// a map fd→Connection, and a pending-writes set. Sockets are opened,
// accepted, and closed via raw non-blocking syscalls and registered
// with internal/poller for readiness events.
package network

import (
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	kvd "github.com/behrlich/go-kvd"
	"github.com/behrlich/go-kvd/internal/conn"
	"github.com/behrlich/go-kvd/internal/idle"
	"github.com/behrlich/go-kvd/internal/logging"
	"github.com/behrlich/go-kvd/internal/poller"
)

// sockAddr adapts a raw unix.Sockaddr to net.Addr for Conn.RemoteAddr.
type sockAddr struct {
	addr string
}

func (s sockAddr) Network() string { return "tcp" }
func (s sockAddr) String() string  { return s.addr }

func addrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return fmt.Sprintf("%d.%d.%d.%d:%d", a.Addr[0], a.Addr[1], a.Addr[2], a.Addr[3], a.Port)
	case *unix.SockaddrInet6:
		return fmt.Sprintf("[%x]:%d", a.Addr, a.Port)
	default:
		return "unknown"
	}
}

// Server owns the listening socket and the live-connection registry.
type Server struct {
	mu sync.Mutex

	listenFd int
	poller   *poller.Poller
	logger   *logging.Logger
	idle     *idle.Tracker
	metrics  *kvd.Metrics

	conns         map[int]*conn.Conn
	pendingWrites map[int]bool
}

// Config configures the listening socket (§6: TCP, default port 6379,
// all interfaces, backlog 128, SO_REUSEADDR, non-blocking).
type Config struct {
	Port    int
	Backlog int
	Poller  *poller.Poller
	Idle    *idle.Tracker
	Logger  *logging.Logger
	Metrics *kvd.Metrics
}

// Listen creates and binds the non-blocking listening socket and
// registers it with the poller for read (accept) readiness.
func Listen(cfg Config) (*Server, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("network: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("network: setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: cfg.Port}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("network: bind port %d: %w", cfg.Port, err)
	}
	if err := unix.Listen(fd, cfg.Backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("network: listen: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	s := &Server{
		listenFd:      fd,
		poller:        cfg.Poller,
		logger:        logger,
		idle:          cfg.Idle,
		metrics:       cfg.Metrics,
		conns:         make(map[int]*conn.Conn),
		pendingWrites: make(map[int]bool),
	}
	if err := s.poller.Add(fd, poller.EventReadable); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return s, nil
}

// ListenFd reports the listening socket's fd, so callers can recognize
// listener-readiness events in the poller's Wait results.
func (s *Server) ListenFd() int {
	return s.listenFd
}

// Accept drains one pending connection off the listener backlog,
// configures it non-blocking, constructs a Connection, registers it
// with the idle tracker, and begins watching it for read readiness
// (§4.10 "On listener readiness").
func (s *Server) Accept(now time.Time) (*conn.Conn, error) {
	fd, sa, err := unix.Accept4(s.listenFd, unix.SOCK_NONBLOCK)
	if err != nil {
		return nil, err
	}

	c := conn.New(sockAddr{addr: addrString(sa)})
	c.Fd = fd
	if s.idle != nil {
		c.IdleHandle = s.idle.Add(fd, now)
	}

	s.mu.Lock()
	s.conns[fd] = c
	s.mu.Unlock()

	if err := s.poller.Add(fd, poller.EventReadable); err != nil {
		s.Disconnect(fd)
		return nil, err
	}
	return c, nil
}

// ConnByFd looks up the live connection for fd, if any.
func (s *Server) ConnByFd(fd int) (*conn.Conn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[fd]
	return c, ok
}

// RegisterPendingWrite marks fd as having unsent bytes and begins
// watching it for write readiness too (§4.10 register_pending_write,
// idempotent).
func (s *Server) RegisterPendingWrite(fd int) error {
	s.mu.Lock()
	already := s.pendingWrites[fd]
	s.pendingWrites[fd] = true
	s.mu.Unlock()
	if already {
		return nil
	}
	return s.poller.Modify(fd, poller.EventReadable|poller.EventWritable)
}

// ClearPendingWrite stops watching fd for write-readiness once its
// write buffer fully drains.
func (s *Server) ClearPendingWrite(fd int) error {
	s.mu.Lock()
	_, had := s.pendingWrites[fd]
	delete(s.pendingWrites, fd)
	s.mu.Unlock()
	if !had {
		return nil
	}
	return s.poller.Modify(fd, poller.EventReadable)
}

// Disconnect tears down fd: removes it from the idle tracker, closes
// the socket, drops it from the registry and the pending-writes set.
// Idempotent (§4.10).
func (s *Server) Disconnect(fd int) {
	s.mu.Lock()
	c, ok := s.conns[fd]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.conns, fd)
	delete(s.pendingWrites, fd)
	s.mu.Unlock()

	if s.idle != nil {
		s.idle.Remove(c.IdleHandle)
	}
	_ = s.poller.Remove(fd)
	_ = unix.Close(fd)

	if s.metrics != nil {
		s.metrics.ObserveConnection(-1)
	}
}

// CloseIdle disconnects every connection in conns (§4.10 close_idle).
func (s *Server) CloseIdle(conns []interface{}) {
	for _, item := range conns {
		fd, ok := item.(int)
		if !ok {
			continue
		}
		s.Disconnect(fd)
	}
}

// Close tears down every live connection and the listener itself.
func (s *Server) Close() error {
	s.mu.Lock()
	fds := make([]int, 0, len(s.conns))
	for fd := range s.conns {
		fds = append(fds, fd)
	}
	s.mu.Unlock()
	for _, fd := range fds {
		s.Disconnect(fd)
	}
	_ = s.poller.Remove(s.listenFd)
	return unix.Close(s.listenFd)
}

var _ net.Addr = sockAddr{}
