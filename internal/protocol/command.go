// Package protocol defines the TorChat line protocol.
//
// Every command is one UTF-8 line: a lowercase verb, then its arguments
// separated by single spaces. Each verb has a fixed argument count, or is
// variadic (the whole remainder of the line is one argument). The last
// argument of a fixed-arity verb consumes the rest of the line verbatim, so
// it may contain spaces.
//
// Each verb also carries a validity: the earliest point in the session at
// which a peer may send it.
package protocol

import "fmt"

// Verbs known to the protocol.
const (
	VerbAddMe              = "add_me"
	VerbClient             = "client"
	VerbFileData           = "filedata"
	VerbFileDataError      = "filedata_error"
	VerbFileDataOK         = "filedata_ok"
	VerbFilename           = "filename"
	VerbFileStopSending    = "file_stop_sending"
	VerbMessage            = "message"
	VerbPing               = "ping"
	VerbPong               = "pong"
	VerbProfileAvatar      = "profile_avatar"
	VerbProfileAvatarAlpha = "profile_avatar_alpha"
	VerbProfileName        = "profile_name"
	VerbProfileText        = "profile_text"
	VerbRemoveMe           = "remove_me"
	VerbStatus             = "status"
	VerbVersion            = "version"

	// VerbNotImplemented is sent back for verbs we have no handler for.
	VerbNotImplemented = "not_implemented"
)

// Variadic marks a verb taking zero or one argument: the entire remainder of
// the line, possibly empty.
const Variadic = -1

// Validity is the minimum session phase a command requires.
type Validity int

const (
	// Greeting commands are legal on a fresh connection (ping).
	Greeting Validity = iota
	// Handshake commands are legal once we have pinged the peer (pong).
	Handshake
	// Authenticated commands require a pong carrying our cookie.
	Authenticated
	// Accepted commands require the buddy to be approved locally.
	Accepted
)

func (v Validity) String() string {
	switch v {
	case Greeting:
		return "GREETING"
	case Handshake:
		return "HANDSHAKE"
	case Authenticated:
		return "AUTHENTICATED"
	case Accepted:
		return "ACCEPTED"
	default:
		return fmt.Sprintf("Validity(%d)", int(v))
	}
}

// Command describes one verb.
type Command struct {
	Verb  string
	Args  int // >= 0, or Variadic
	Valid Validity
}

// Unknown is the descriptor every unrecognised verb resolves to.
var Unknown = Command{Verb: "", Args: 0, Valid: Greeting}

// Table maps verbs to their descriptors.
type Table map[string]Command

// DefaultTable returns the TorChat command table.
func DefaultTable() Table {
	cmds := []Command{
		{VerbAddMe, 0, Authenticated},
		{VerbClient, 1, Authenticated},
		{VerbFileData, 2, Accepted},
		{VerbFileDataError, 2, Accepted},
		{VerbFileDataOK, 2, Accepted},
		{VerbFilename, 4, Accepted},
		{VerbFileStopSending, 1, Accepted},
		{VerbMessage, Variadic, Accepted},
		{VerbPing, 2, Greeting},
		{VerbPong, 1, Handshake},
		{VerbProfileAvatar, Variadic, Authenticated},
		{VerbProfileAvatarAlpha, Variadic, Authenticated},
		{VerbProfileName, Variadic, Authenticated},
		{VerbProfileText, Variadic, Authenticated},
		{VerbRemoveMe, 0, Accepted},
		{VerbStatus, 1, Authenticated},
		{VerbVersion, 1, Authenticated},
	}
	t := make(Table, len(cmds))
	for _, c := range cmds {
		t[c.Verb] = c
	}
	return t
}

// Lookup returns the descriptor for verb, or Unknown.
func (t Table) Lookup(verb string) (Command, bool) {
	c, ok := t[verb]
	if !ok {
		return Unknown, false
	}
	return c, true
}

// Validate checks that every entry has a legal arity and matches its key.
func (t Table) Validate() error {
	for verb, c := range t {
		if verb != c.Verb {
			return fmt.Errorf("protocol: table key %q holds verb %q", verb, c.Verb)
		}
		if c.Args < Variadic {
			return fmt.Errorf("protocol: verb %q has invalid arity %d", verb, c.Args)
		}
		if c.Valid < Greeting || c.Valid > Accepted {
			return fmt.Errorf("protocol: verb %q has invalid validity %d", verb, int(c.Valid))
		}
	}
	return nil
}
