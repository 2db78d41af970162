package engine

import (
	"fmt"

	"github.com/Operative-001/torchat/internal/protocol"
)

// State is a peer's position in the session lifecycle. States only move
// forward; see Peer.upgradeState.
type State int

const (
	StateConnecting State = iota
	StateAccepting
	StateAuthenticating
	StateAuthenticated
	StateReady
	StateDone
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateAccepting:
		return "ACCEPTING"
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateReady:
		return "READY"
	case StateDone:
		return "DONE"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// minState is the state a peer must have reached before a command with
// validity v is executed.
func minState(v protocol.Validity) State {
	switch v {
	case protocol.Greeting:
		return StateAccepting
	case protocol.Handshake:
		return StateAuthenticating
	case protocol.Authenticated:
		return StateAuthenticated
	default:
		return StateReady
	}
}

// Direction tells which physical connection a line travelled on, and which
// side opened the logical relationship.
type Direction int

const (
	Incoming Direction = iota
	Outgoing
)

func (d Direction) String() string {
	if d == Outgoing {
		return "outgoing"
	}
	return "incoming"
}
