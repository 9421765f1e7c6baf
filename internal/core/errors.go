package core

import (
	"errors"
	"fmt"
)

// Error codes for domain errors.
const (
	ErrCodeBadRequest    = "bad_request"
	ErrCodeInvalidWindow = "invalid_window"
	ErrCodeUnavailable   = "unavailable"
)

var (
	ErrInvalidWindow = errors.New("invalid window")
	ErrBadRequest    = errors.New("bad request")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
	Err     error
}

func (e *CoreError) Error() string {
	return e.Message
}

func (e *CoreError) Unwrap() error {
	return e.Err
}

func coreError(code string, err error, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg, Err: err}
}

// FaultKind classifies why a session was dropped.
type FaultKind int

const (
	// FaultFraming is a frame that is not a JSON object or lacks required fields.
	FaultFraming FaultKind = iota
	// FaultRecvOverflow is unframed receive data past the buffer limit.
	FaultRecvOverflow
	// FaultSendOverflow is queued send data past the buffer limit.
	FaultSendOverflow
	// FaultTransport is a read or write failure on the socket.
	FaultTransport
	// FaultHangup is an orderly or abrupt peer disconnect.
	FaultHangup
	// FaultTimeout is an expired recv or send timer.
	FaultTimeout
	// FaultShutdown is the server going away.
	FaultShutdown
)

func (k FaultKind) String() string {
	switch k {
	case FaultFraming:
		return "framing"
	case FaultRecvOverflow:
		return "recv_overflow"
	case FaultSendOverflow:
		return "send_overflow"
	case FaultTransport:
		return "transport"
	case FaultHangup:
		return "hangup"
	case FaultTimeout:
		return "timeout"
	case FaultShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Fault is the reason a session was dropped.
type Fault struct {
	Kind   FaultKind
	Reason string
	Err    error
}

func (f Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %v", f.Reason, f.Err)
	}
	return f.Reason
}

func (f Fault) Unwrap() error {
	return f.Err
}

// Notify reports whether the peer gets a disconnect notice before closing.
func (f Fault) Notify() bool {
	switch f.Kind {
	case FaultFraming, FaultRecvOverflow, FaultShutdown:
		return true
	default:
		return false
	}
}

func fault(kind FaultKind, reason string, err error) Fault {
	return Fault{Kind: kind, Reason: reason, Err: err}
}
