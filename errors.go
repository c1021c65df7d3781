package kvd

import (
	"errors"
	"fmt"
)

// Error represents a structured server error with command/key context.
type Error struct {
	Op    string    // command or subsystem action that failed (e.g. "SET", "sweep_expired")
	Key   string    // key involved, if any
	Code  ErrorCode // high-level error category
	Msg   string    // human-readable message
	Inner error     // wrapped cause
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Key != "" {
		parts = append(parts, fmt.Sprintf("key=%q", e.Key))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("kvd: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("kvd: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is provides errors.Is support keyed on error code.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode represents a high-level error category.
type ErrorCode string

// WireCode identifies which short ASCII prefix (§7) an error code maps
// to on the wire.
func (c ErrorCode) WireCode() string {
	switch c {
	case ErrCodeWrongType:
		return "WRONGTYPE"
	case ErrCodeUnknownCommand:
		return "Unknown cmd"
	case ErrCodeBadArity:
		return "Missing arg"
	default:
		return "ERR"
	}
}

const (
	// ErrCodeProtocol marks a framing violation. The connection that
	// produced it is disconnected without a response frame.
	ErrCodeProtocol ErrorCode = "protocol error"
	// ErrCodeWrongType marks a type mismatch between a command and the
	// stored entry (§4.5 get_typed).
	ErrCodeWrongType ErrorCode = "wrong type"
	// ErrCodeUnknownCommand marks a dispatch miss.
	ErrCodeUnknownCommand ErrorCode = "unknown command"
	// ErrCodeBadArity marks a handler invoked with the wrong number of
	// arguments.
	ErrCodeBadArity ErrorCode = "bad arity"
	// ErrCodeBadInteger marks a numeric argument that failed to parse.
	ErrCodeBadInteger ErrorCode = "bad integer"
	// ErrCodeIO marks a read/write/accept failure on a socket.
	ErrCodeIO ErrorCode = "I/O error"
)

// NewError creates a new structured error.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewKeyError creates a new structured error scoped to a key.
func NewKeyError(op, key string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Key: key, Code: code, Msg: msg}
}

// WrapError wraps an existing error with server context.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if se, ok := inner.(*Error); ok {
		return &Error{Op: op, Key: se.Key, Code: se.Code, Msg: se.Msg, Inner: se.Inner}
	}
	return &Error{Op: op, Code: ErrCodeIO, Msg: inner.Error(), Inner: inner}
}

// IsCode checks whether err is (or wraps) an *Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}
