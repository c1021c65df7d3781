// Package wire implements the server's binary request/response framing:
// an incremental, pipeline-capable frame parser (request side) and a
// typed response encoder (response side). All integers are
// little-endian, matching the layouts in the wire-format spec.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/behrlich/go-kvd/internal/constants"
)

// ParseStatus is the outcome of a single try-parse call.
type ParseStatus int

const (
	// StatusComplete means a full frame was decoded.
	StatusComplete ParseStatus = iota
	// StatusIncomplete means more bytes are required; the caller must
	// keep the buffer as-is and read more.
	StatusIncomplete
	// StatusProtocolError means the frame violates a safety invariant
	// (arg count cap, length overflow); the caller must disconnect.
	StatusProtocolError
)

// Result is the outcome of TryParse.
type Result struct {
	Status   ParseStatus
	Args     [][]byte // ordered argument byte strings (valid only when Complete)
	Consumed int      // bytes consumed from buf (0 unless Complete)
	Err      error    // set when Status == StatusProtocolError
}

const uint32Size = 4

// TryParse attempts to decode exactly one request frame from
// buf[:validLen]. It never reads past validLen and never mutates buf.
//
// Wire format:
//
//	u32 arg_count
//	arg_count times:
//	  u32 arg_len
//	  arg_len bytes (UTF-8)
func TryParse(buf []byte, validLen int) Result {
	if validLen < uint32Size {
		return Result{Status: StatusIncomplete}
	}
	region := buf[:validLen]

	argCount := binary.LittleEndian.Uint32(region[0:4])
	if argCount > constants.MaxArgCount {
		return Result{
			Status: StatusProtocolError,
			Err:    fmt.Errorf("arg count %d exceeds cap %d", argCount, constants.MaxArgCount),
		}
	}

	offset := uint32Size
	args := make([][]byte, 0, argCount)
	for i := uint32(0); i < argCount; i++ {
		if offset+uint32Size > validLen {
			return Result{Status: StatusIncomplete}
		}
		argLen := binary.LittleEndian.Uint32(region[offset : offset+uint32Size])
		offset += uint32Size

		// An argument length that could never fit even once the
		// buffer grows to its ceiling is a protocol violation, not a
		// transient "need more bytes" condition.
		if int64(offset)+int64(argLen) > constants.MaxRecvBufSize {
			return Result{
				Status: StatusProtocolError,
				Err:    fmt.Errorf("arg length %d overflows buffer ceiling", argLen),
			}
		}
		if offset+int(argLen) > validLen {
			return Result{Status: StatusIncomplete}
		}

		arg := make([]byte, argLen)
		copy(arg, region[offset:offset+int(argLen)])
		args = append(args, arg)
		offset += int(argLen)
	}

	if len(args) > 0 {
		args[0] = normalizeCommandName(args[0])
	}

	return Result{
		Status:   StatusComplete,
		Args:     args,
		Consumed: offset,
	}
}

// commandTable is the fixed table of known command names, each mapped
// to its canonical uppercase spelling.
var commandTable = map[string]string{
	"PING":   "PING",
	"ECHO":   "ECHO",
	"GET":    "GET",
	"SET":    "SET",
	"DEL":    "DEL",
	"EXISTS": "EXISTS",
	"KEYS":   "KEYS",
	"EXPIRE": "EXPIRE",
	"TTL":    "TTL",
	"ZADD":   "ZADD",
	"ZRANGE": "ZRANGE",
}

// normalizeCommandName uppercases the first argument (ASCII letters
// only) and, if it names a known command, returns the table's canonical
// spelling. The returned slice is a fresh copy in both cases; no slice
// is shared between frames.
func normalizeCommandName(name []byte) []byte {
	upper := make([]byte, len(name))
	for i, b := range name {
		if b >= 'a' && b <= 'z' {
			b -= 'a' - 'A'
		}
		upper[i] = b
	}
	if canonical, ok := commandTable[string(upper)]; ok {
		return []byte(canonical)
	}
	return upper
}
