// Package transport defines the line-oriented connection abstraction the
// engine talks through, and provides implementations for production (TCP)
// and testing (in-memory).
package transport

import (
	"context"
	"errors"
)

// MaxLineLength bounds a single received line, delimiter excluded.
const MaxLineLength = 64 * 1024

var (
	ErrClosed      = errors.New("transport: connection closed")
	ErrLineTooLong = errors.New("transport: line too long")
)

// Conn is one physical connection carrying newline-delimited lines.
type Conn interface {
	// Name identifies the connection in logs, e.g. "incoming/<uuid>".
	Name() string

	// ReadLine blocks until a full line arrives, the connection closes or a
	// deadline fires. The delimiter is stripped.
	ReadLine() (string, error)

	// WriteLine sends line followed by the delimiter. Safe for concurrent use.
	WriteLine(line string) (int, error)

	// Close is idempotent and unblocks pending reads.
	Close() error

	IsConnected() bool
}

// Listener accepts inbound connections.
type Listener interface {
	Accept() (Conn, error)
	Close() error
	Addr() string
}

// Dialer opens an outbound connection to the peer with the given id.
type Dialer interface {
	Dial(ctx context.Context, peerID string) (Conn, error)
}
