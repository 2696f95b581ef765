package mcpclient

import (
	"errors"
	"fmt"
)

// ErrCallTimeout marks a request that did not receive its response within the
// configured call timeout.
var ErrCallTimeout = errors.New("call timed out")

// ErrConnectionClosed marks operations interrupted because the connection was
// torn down underneath them.
var ErrConnectionClosed = errors.New("connection closed")

// TransportError wraps a failure to establish or keep the connection, or a
// timeout waiting on it. Transport errors are retried per policy at connect
// time and surfaced to the caller otherwise.
type TransportError struct {
	Op  string // "connect", "send", "call"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError marks a protocol-level violation: a malformed response, a
// response id that matches no outstanding request, or an explicit error in a
// discovery response. Never retried automatically.
type ProtocolError struct {
	Reason    string
	RequestID uint64
}

func (e *ProtocolError) Error() string {
	if e.RequestID != 0 {
		return fmt.Sprintf("protocol error (request %d): %s", e.RequestID, e.Reason)
	}
	return fmt.Sprintf("protocol error: %s", e.Reason)
}

// IsTransport reports whether err is a transport-level failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsProtocol reports whether err is a protocol-level violation.
func IsProtocol(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
