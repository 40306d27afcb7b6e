package webrtc

import (
	"errors"
	"fmt"
)

var (
	ErrPeerClosed       = errors.New("peer link closed")
	ErrNoTransport      = errors.New("transport not available")
	ErrDeviceDenied     = errors.New("media device unavailable")
	ErrNotSharing       = errors.New("no active screen share")
	ErrAlreadySharing   = errors.New("screen share already active")
	ErrChannelNotOpen   = errors.New("data channel not open")
	ErrUnknownMediaKind = errors.New("unknown media kind")
)

// CallError annotates an error with the operation and the remote peer it
// concerns.
type CallError struct {
	Op      string
	Peer    string
	Err     error
	Details string
}

func (e *CallError) Error() string {
	if e.Peer != "" {
		return fmt.Sprintf("%s (peer %s): %v", e.Op, e.Peer, e.Err)
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

func newError(op string, err error) *CallError {
	return &CallError{Op: op, Err: err}
}

func newPeerError(op, peer string, err error) *CallError {
	return &CallError{Op: op, Peer: peer, Err: err}
}
