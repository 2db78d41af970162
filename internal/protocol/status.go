package protocol

import "fmt"

// Status is a buddy's presence.
type Status int

const (
	StatusOffline Status = iota
	StatusAvailable
	StatusBusy
	StatusAway
	StatusLongAway
)

func (s Status) String() string {
	switch s {
	case StatusOffline:
		return "offline"
	case StatusAvailable:
		return "available"
	case StatusBusy:
		return "busy"
	case StatusAway:
		return "away"
	case StatusLongAway:
		return "long-away"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Wire returns the legacy token sent in a status command. Only two tokens
// exist on the wire, so away, long-away and busy all read as "away".
func (s Status) Wire() string {
	if s == StatusAvailable {
		return "available"
	}
	return "away"
}

// ParseStatus maps a wire token to a Status.
func ParseStatus(token string) (Status, error) {
	switch token {
	case "available":
		return StatusAvailable, nil
	case "away":
		return StatusAway, nil
	default:
		return StatusOffline, fmt.Errorf("protocol: unknown status %q", token)
	}
}

// StatusFromName parses the local configuration names returned by String.
func StatusFromName(name string) (Status, error) {
	for s := StatusOffline; s <= StatusLongAway; s++ {
		if s.String() == name {
			return s, nil
		}
	}
	return StatusOffline, fmt.Errorf("protocol: unknown status name %q", name)
}
