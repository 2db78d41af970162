package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by SendMessage when the peer is unknown or
	// has not reached READY.
	ErrNotConnected = errors.New("engine: peer is not connected")

	// ErrDisconnectNow ends the request loop of the connection that carried
	// the offending line.
	ErrDisconnectNow = errors.New("engine: disconnect now")

	// ErrNotAllowed is raised when the local side refuses an add_me. It
	// tears down the whole peer.
	ErrNotAllowed = fmt.Errorf("%w: buddy not allowed", ErrDisconnectNow)

	ErrClosed      = errors.New("engine: closed")
	ErrInvalidID   = errors.New("engine: invalid peer id")
	ErrInvalidText = errors.New("engine: message contains a line break")

	errPeerGone = errors.New("engine: peer gone")
)

// ProtocolError is a protocol violation by a peer. It unwraps to
// ErrDisconnectNow.
type ProtocolError struct {
	Peer   string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("engine: protocol violation by %s: %s", e.Peer, e.Reason)
}

func (e *ProtocolError) Unwrap() error { return ErrDisconnectNow }

func violation(p *Peer, format string, args ...any) error {
	return &ProtocolError{Peer: p.id, Reason: fmt.Sprintf(format, args...)}
}
