// Package constants holds the wire-format and engine default values
// shared across the server.
package constants

import "time"

// Wire-format safety limits (§6 of the wire format spec).
const (
	// MaxArgCount is the hard safety cap on a request's argument count.
	MaxArgCount = 1024
)

// Connection buffer defaults (§4.3).
const (
	// InitialRecvBufSize is the starting capacity of a connection's
	// receive buffer.
	InitialRecvBufSize = 4096

	// MaxRecvBufSize is the absolute ceiling a receive buffer may grow
	// to before the connection is disconnected with a protocol error.
	MaxRecvBufSize = 512 << 20 // 512 MiB

	// InitialWriteBufSize is the starting capacity of a connection's
	// write buffer.
	InitialWriteBufSize = 1024
)

// Idle-connection tracking defaults (§4.7).
const (
	// IdleTimeout is the default duration of inactivity after which a
	// connection is evicted.
	IdleTimeout = 300 * time.Second
)

// Expiration engine defaults (§4.6).
const (
	// DefaultSelectTimeout is returned by next_deadline_ms when no
	// deadline (expiration or idle) is pending.
	DefaultSelectTimeout = 10 * time.Second

	// SweepWorkQuota bounds the number of expired keys removed per
	// active-sweep call.
	SweepWorkQuota = 100
)

// Size-adaptive destruction defaults (§4.8, §9).
const (
	// LargeZSetMemberThreshold is the member-count at or above which a
	// sorted set is torn down asynchronously rather than inline.
	LargeZSetMemberThreshold = 64
)

// Orchestrator defaults (§4.11).
const (
	// MaxCommandsPerIteration bounds how many pipelined frames are
	// processed per connection per event-loop iteration.
	MaxCommandsPerIteration = 16
)

// Network defaults (§6).
const (
	// DefaultPort is the default TCP listen port.
	DefaultPort = 6379

	// ListenBacklog is the listen(2) backlog size.
	ListenBacklog = 128
)
