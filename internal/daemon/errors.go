package daemon

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when a call is attempted with no live
	// stream. Calls are never queued while disconnected.
	ErrNotConnected = errors.New("daemon: not connected")

	// ErrConnectionFailed is returned by Connect when the daemon socket
	// cannot be dialed.
	ErrConnectionFailed = errors.New("daemon: connection failed")

	// ErrClientDisconnected is returned for calls that were in flight when
	// the stream dropped.
	ErrClientDisconnected = errors.New("daemon: connection lost mid-request")

	// ErrRequestTimeout is returned when a call's deadline elapses with no
	// matching response.
	ErrRequestTimeout = errors.New("daemon: request timed out")
)

// RemoteError carries a failure explicitly reported by the daemon.
type RemoteError struct {
	Op  string
	Msg string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("daemon: %s: %s", e.Op, e.Msg)
}

// MalformedMessageError reports a response payload that did not decode
// into the schema expected for its operation. Framing-level parse failures
// never surface as this: those are logged and dropped inside the transport.
type MalformedMessageError struct {
	Op    string
	Cause error
}

func (e *MalformedMessageError) Error() string {
	return fmt.Sprintf("daemon: %s: malformed response: %v", e.Op, e.Cause)
}

func (e *MalformedMessageError) Unwrap() error { return e.Cause }
