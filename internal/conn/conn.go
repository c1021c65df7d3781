// Package conn implements the per-connection I/O state machine (§4.3):
// a growable, compacting receive buffer and an append-only write
// buffer with partial-send resumption via a send cursor.
package conn

import (
	"fmt"
	"net"

	"github.com/behrlich/go-kvd/internal/constants"
	"github.com/behrlich/go-kvd/internal/idle"
	"github.com/rs/xid"
)

// FlushStatus is the outcome of a single Flush call.
type FlushStatus int

const (
	// FlushDone means the entire write buffer was sent; the buffer
	// has been reset.
	FlushDone FlushStatus = iota
	// FlushNotDone means only a prefix was accepted (or the socket
	// would block); the caller must register for write-readiness.
	FlushNotDone
)

// Conn holds one accepted connection's buffers and bookkeeping. It is
// not safe for concurrent use — it is owned by the single event-loop
// goroutine (§5).
type Conn struct {
	ID         string // short correlation id, grounded on rs/xid
	RemoteAddr net.Addr
	Fd         int // raw socket descriptor, owned by internal/network

	recvBuf   []byte
	validLen  int // bytes of recvBuf holding unparsed data

	writeBuf   []byte
	sendCursor int

	IdleHandle idle.Handle
}

// New creates a Conn with the default initial buffer sizes.
func New(remoteAddr net.Addr) *Conn {
	return &Conn{
		ID:         xid.New().String(),
		RemoteAddr: remoteAddr,
		recvBuf:    make([]byte, constants.InitialRecvBufSize),
		writeBuf:   make([]byte, 0, constants.InitialWriteBufSize),
	}
}

// RecvSpareCapacity reports how many more bytes can be read into the
// receive buffer without growing it.
func (c *Conn) RecvSpareCapacity() int {
	return len(c.recvBuf) - c.validLen
}

// EnsureRecvCapacity grows the receive buffer (doubling) so at least
// one more byte can be read, up to the absolute ceiling. This is the
// "buffer-full preemption" fix (§4.3): callers must grow BEFORE
// reading whenever the buffer is already full, since a zero-byte read
// on a full buffer is otherwise indistinguishable from a saturated
// buffer ("4KB wall").
//
// Returns an error if the buffer is already at the ceiling.
func (c *Conn) EnsureRecvCapacity() error {
	if c.RecvSpareCapacity() > 0 {
		return nil
	}
	if len(c.recvBuf) >= constants.MaxRecvBufSize {
		return fmt.Errorf("receive buffer at ceiling (%d bytes)", constants.MaxRecvBufSize)
	}
	newSize := len(c.recvBuf) * 2
	if newSize > constants.MaxRecvBufSize {
		newSize = constants.MaxRecvBufSize
	}
	grown := make([]byte, newSize)
	copy(grown, c.recvBuf[:c.validLen])
	c.recvBuf = grown
	return nil
}

// RecvWriteRegion returns the spare tail of the receive buffer for a
// Read call to fill; MarkReceived records how much of it was actually
// used.
func (c *Conn) RecvWriteRegion() []byte {
	return c.recvBuf[c.validLen:]
}

// MarkReceived records that n additional bytes were read into the
// region returned by RecvWriteRegion.
func (c *Conn) MarkReceived(n int) {
	c.validLen += n
}

// RecvValid returns the unparsed region of the receive buffer.
func (c *Conn) RecvValid() []byte {
	return c.recvBuf[:c.validLen]
}

// RecvValidLen returns how many unparsed bytes are buffered.
func (c *Conn) RecvValidLen() int {
	return c.validLen
}

// Consume removes the first n bytes of the unparsed region, compacting
// the remainder to offset 0 with an overlap-safe move.
func (c *Conn) Consume(n int) {
	if n <= 0 {
		return
	}
	remaining := c.validLen - n
	if remaining > 0 {
		copy(c.recvBuf, c.recvBuf[n:c.validLen])
	}
	c.validLen = remaining
}

// AppendResponse appends bytes to the write buffer (used by the
// response encoder).
func (c *Conn) AppendResponse(b []byte) {
	c.writeBuf = append(c.writeBuf, b...)
}

// PendingWrite reports whether the write buffer has unsent bytes.
func (c *Conn) PendingWrite() bool {
	return c.sendCursor < len(c.writeBuf)
}

// WriteRegion returns the unsent tail of the write buffer, for a Write
// call to attempt.
func (c *Conn) WriteRegion() []byte {
	return c.writeBuf[c.sendCursor:]
}

// Flush advances the send cursor by n bytes (the amount the kernel
// just accepted). If the whole buffer has now been sent, it resets
// the buffer in O(1) (length to 0, capacity retained) and returns
// FlushDone; otherwise returns FlushNotDone so the caller arranges
// write-readiness monitoring.
func (c *Conn) Flush(n int) FlushStatus {
	c.sendCursor += n
	if c.sendCursor >= len(c.writeBuf) {
		c.writeBuf = c.writeBuf[:0]
		c.sendCursor = 0
		return FlushDone
	}
	return FlushNotDone
}

// ResetWriteBufferOnError resets the write buffer after a fatal send
// error; the connection itself is left for the read path to observe
// and tear down (§4.3).
func (c *Conn) ResetWriteBufferOnError() {
	c.writeBuf = c.writeBuf[:0]
	c.sendCursor = 0
}
