// Package loop implements the orchestrator (§4.11): the single-
// threaded cooperative event loop tying together the network layer,
// the command dispatcher, the expiration engine and the idle tracker.
// Each iteration waits for epoll readiness, drains ready connections
// up to a per-iteration command cap, and carries any connection with
// leftover pipelined data in a resume set so it isn't starved behind
// others on the next iteration.
package loop

import (
	"context"
	"time"

	"golang.org/x/sys/unix"

	kvd "github.com/behrlich/go-kvd"
	"github.com/behrlich/go-kvd/internal/command"
	"github.com/behrlich/go-kvd/internal/conn"
	"github.com/behrlich/go-kvd/internal/constants"
	"github.com/behrlich/go-kvd/internal/destroy"
	"github.com/behrlich/go-kvd/internal/expire"
	"github.com/behrlich/go-kvd/internal/idle"
	"github.com/behrlich/go-kvd/internal/logging"
	"github.com/behrlich/go-kvd/internal/network"
	"github.com/behrlich/go-kvd/internal/poller"
	"github.com/behrlich/go-kvd/internal/store"
	"github.com/behrlich/go-kvd/internal/wire"
)

// Config wires the loop's collaborators together.
type Config struct {
	Network    *network.Server
	Poller     *poller.Poller
	Store      *store.Store
	Expire     *expire.Engine
	Idle       *idle.Tracker
	Destroy    *destroy.Destructor
	Dispatcher *command.Dispatcher
	Metrics    *kvd.Metrics
	Options    command.Options
	Logger     *logging.Logger
}

// Loop runs the event loop described in §4.11.
type Loop struct {
	cfg Config

	// resume holds connections whose receive buffer still had
	// unparsed bytes after the per-iteration command cap was hit
	// (§4.11 step 1/5): they are processed again on every iteration
	// without waiting for new kernel readiness, so pipelined frames
	// queued behind the cap are never starved.
	resume map[int]*conn.Conn

	events []unix.EpollEvent
}

// New creates a Loop ready to Run.
func New(cfg Config) *Loop {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Metrics != nil && cfg.Store != nil {
		m := cfg.Metrics
		cfg.Store.SetExpireCallback(func(string, *store.Entry) { m.ObserveExpiration(1) })
	}
	return &Loop{
		cfg:    cfg,
		resume: make(map[int]*conn.Conn),
		events: make([]unix.EpollEvent, 256),
	}
}

// Run drives iterations until ctx is cancelled. It completes the
// current iteration before returning — no new iteration starts once
// ctx.Err() is non-nil (§5 Cancellation).
func (l *Loop) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := l.iterate(ctx); err != nil {
			return err
		}
	}
}

func (l *Loop) iterate(ctx context.Context) error {
	now := time.Now()

	// Step 1: resume pass.
	pending := l.snapshotAndClearResume()
	for fd, c := range pending {
		l.processConnection(fd, c, now)
	}

	// Step 2: compute select timeout.
	timeoutMs := 0
	if len(l.resume) == 0 {
		timeout := l.cfg.Expire.NextDeadline(now)
		if idleDeadline := l.cfg.Idle.NextDeadline(now, constants.DefaultSelectTimeout); idleDeadline < timeout {
			timeout = idleDeadline
		}
		timeoutMs = int(timeout / time.Millisecond)
		if timeoutMs < 0 {
			timeoutMs = 0
		}
	}

	// Step 3: wait for readiness.
	events, err := l.cfg.Poller.Wait(timeoutMs, l.events)
	if err != nil {
		return err
	}

	// Step 4: process ready sockets.
	dataReady := make(map[int]*conn.Conn)
	for _, ev := range events {
		if ev.Fd == l.cfg.Network.ListenFd() {
			l.acceptAll(now)
			continue
		}
		c, ok := l.cfg.Network.ConnByFd(ev.Fd)
		if !ok {
			continue
		}
		if ev.Kind&poller.EventError != 0 {
			l.cfg.Network.Disconnect(ev.Fd)
			continue
		}
		if ev.Kind&poller.EventWritable != 0 {
			l.handleWritable(ev.Fd, c)
		}
		if ev.Kind&poller.EventReadable != 0 {
			if l.handleReadable(c, now) {
				dataReady[ev.Fd] = c
			}
		}
	}

	// Step 5: process connections with new data.
	for fd, c := range dataReady {
		l.processConnection(fd, c, now)
	}

	// Step 6: background maintenance.
	l.maintenance(now)

	return nil
}

func (l *Loop) snapshotAndClearResume() map[int]*conn.Conn {
	if len(l.resume) == 0 {
		return nil
	}
	snap := l.resume
	l.resume = make(map[int]*conn.Conn)
	return snap
}

func (l *Loop) acceptAll(now time.Time) {
	for {
		c, err := l.cfg.Network.Accept(now)
		if err != nil {
			return
		}
		if l.cfg.Metrics != nil {
			l.cfg.Metrics.ObserveConnection(1)
		}
		l.cfg.Logger.Debug("accepted connection", "id", c.ID, "fd", c.Fd, "remote", c.RemoteAddr)
	}
}

// handleReadable reads available bytes into c's receive buffer,
// growing it first if full (§4.3 buffer-full preemption). Returns
// true iff any bytes were received.
func (l *Loop) handleReadable(c *conn.Conn, now time.Time) bool {
	l.cfg.Idle.Touch(c.IdleHandle, now)

	if c.RecvSpareCapacity() == 0 {
		if err := c.EnsureRecvCapacity(); err != nil {
			l.cfg.Logger.Warn("receive buffer at ceiling, disconnecting", "id", c.ID, "error", err)
			l.cfg.Network.Disconnect(c.Fd)
			return false
		}
	}

	n, err := unix.Read(c.Fd, c.RecvWriteRegion())
	if err != nil {
		if err == unix.EAGAIN {
			return false
		}
		l.cfg.Network.Disconnect(c.Fd)
		return false
	}
	if n == 0 {
		l.cfg.Network.Disconnect(c.Fd) // orderly close
		return false
	}
	c.MarkReceived(n)
	return true
}

func (l *Loop) handleWritable(fd int, c *conn.Conn) {
	l.flush(fd, c)
}

// flush writes as much of c's pending write buffer as the socket will
// accept, updating the pending-writes set accordingly (§4.10).
func (l *Loop) flush(fd int, c *conn.Conn) {
	for c.PendingWrite() {
		n, err := unix.Write(fd, c.WriteRegion())
		if err != nil {
			if err == unix.EAGAIN {
				_ = l.cfg.Network.RegisterPendingWrite(fd)
				return
			}
			l.cfg.Network.Disconnect(fd)
			return
		}
		if c.Flush(n) == conn.FlushDone {
			_ = l.cfg.Network.ClearPendingWrite(fd)
			return
		}
		if n == 0 {
			_ = l.cfg.Network.RegisterPendingWrite(fd)
			return
		}
	}
	_ = l.cfg.Network.ClearPendingWrite(fd)
}

// processConnection parses up to MaxCommandsPerIteration frames from
// c's receive buffer, dispatching each, then compacts consumed bytes
// and flushes the response buffer (§4.11 process-connection
// subroutine).
func (l *Loop) processConnection(fd int, c *conn.Conn, now time.Time) {
	processed := 0
	consumed := 0

parseLoop:
	for processed < constants.MaxCommandsPerIteration {
		result := wire.TryParse(c.RecvValid()[consumed:], c.RecvValidLen()-consumed)
		switch result.Status {
		case wire.StatusIncomplete:
			break parseLoop
		case wire.StatusProtocolError:
			l.cfg.Logger.Warn("protocol error, disconnecting", "id", c.ID, "error", result.Err)
			l.cfg.Network.Disconnect(fd)
			return
		}

		l.dispatch(c, result.Args, now)
		consumed += result.Consumed
		processed++
	}

	c.Consume(consumed)

	hasMore := processed >= constants.MaxCommandsPerIteration && c.RecvValidLen() > 0
	if hasMore {
		l.resume[fd] = c
	} else {
		delete(l.resume, fd)
	}

	l.flush(fd, c)
}

func (l *Loop) dispatch(c *conn.Conn, args [][]byte, now time.Time) {
	start := time.Now()
	ctx := &command.Context{
		Store:   l.cfg.Store,
		Expire:  l.cfg.Expire,
		Destroy: l.cfg.Destroy,
		Metrics: l.cfg.Metrics,
		Options: l.cfg.Options,
		Now:     now,
		Args:    args,
	}
	resp := l.cfg.Dispatcher.Dispatch(ctx)
	c.AppendResponse(resp)

	if l.cfg.Metrics != nil {
		name := "" // zero-arg frame: no command name to attribute latency to
		if len(args) > 0 {
			name = string(args[0])
		}
		success := len(resp) == 0 || resp[0] != wire.TypeError
		l.cfg.Metrics.ObserveCommand(name, uint64(time.Since(start)), success)
	}
}

// maintenance runs the background sweep and idle-collection passes
// (§4.11 step 6).
func (l *Loop) maintenance(now time.Time) {
	expired := l.cfg.Expire.SweepExpired(now)
	for _, key := range expired {
		e, ok := l.cfg.Store.Remove(key)
		if !ok {
			continue
		}
		if l.cfg.Metrics != nil {
			l.cfg.Metrics.ObserveExpiration(1)
		}
		destroyRemoved(l.cfg.Destroy, l.cfg.Metrics, &e)
	}
	if l.cfg.Metrics != nil {
		l.cfg.Metrics.SetKeysTotal(l.cfg.Store.Count())
	}

	idleConns := l.cfg.Idle.CollectIdle(now)
	l.cfg.Network.CloseIdle(idleConns)
}

func destroyRemoved(d *destroy.Destructor, m *kvd.Metrics, e *store.Entry) {
	if e.Type != store.TypeZSet || e.ZSet == nil {
		return
	}
	async := destroy.ShouldDestroyAsync(e.ZSet.Len(), true)
	if m != nil {
		m.ObserveDestroy(async)
	}
	if !async {
		return
	}
	z := e.ZSet
	d.Submit(func() { _ = z })
}
