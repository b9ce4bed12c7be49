package xpol

import (
	"errors"
	"fmt"

	"github.com/banshee-data/xpol2mom/internal/wire"
)

// Kind classifies protocol errors.
type Kind int

const (
	KindConnectFailed Kind = iota + 1
	KindTimeout
	KindShortRead
	KindShortWrite
	KindBufferTooSmall
	KindUnsupportedServerMode
	KindProtocolStatus
)

func (k Kind) String() string {
	switch k {
	case KindConnectFailed:
		return "connect_failed"
	case KindTimeout:
		return "timeout"
	case KindShortRead:
		return "short_read"
	case KindShortWrite:
		return "short_write"
	case KindBufferTooSmall:
		return "buffer_too_small"
	case KindUnsupportedServerMode:
		return "unsupported_server_mode"
	case KindProtocolStatus:
		return "protocol_status"
	default:
		return "unknown"
	}
}

// Error is returned by every Client operation.
type Error struct {
	Op     string
	Kind   Kind
	Status StatusCode // set for KindProtocolStatus
	Closed bool       // the session was closed and will reconnect on next use
	Err    error
}

func (e *Error) Error() string {
	msg := "xpol " + e.Op + ": " + e.Kind.String()
	if e.Kind == KindProtocolStatus {
		msg += " " + e.Status.String()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func newError(op string, kind Kind, status StatusCode, err error) *Error {
	return &Error{Op: op, Kind: kind, Status: status, Err: err}
}

// KindOf returns the Kind of err, if err wraps an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsFatal reports whether err closed the session.
func IsFatal(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Closed
}

func wireSizeError(what string, n int) error {
	return fmt.Errorf("%w: bad %s %d", wire.ErrBufferTooSmall, what, n)
}
