package protocol

import (
	"fmt"
	"strings"
)

// Request is one parsed line.
type Request struct {
	Name    string  // verb as received
	Command Command // Unknown when Known is false
	Known   bool
	Args    []string
}

// ParseError reports a line with fewer fields than its verb requires.
type ParseError struct {
	Verb string
	Want int
	Got  int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("protocol: %q takes %d arguments, got %d", e.Verb, e.Want, e.Got)
}

// Parse splits line into a verb and arguments according to t.
func Parse(t Table, line string) (Request, error) {
	verb, rest, hasRest := strings.Cut(line, " ")

	cmd, known := t.Lookup(verb)
	req := Request{Name: verb, Command: cmd, Known: known}

	if cmd.Args == Variadic {
		req.Args = []string{rest}
		return req, nil
	}
	if cmd.Args == 0 {
		return req, nil
	}
	if !hasRest {
		return Request{}, &ParseError{Verb: verb, Want: cmd.Args, Got: 0}
	}

	req.Args = make([]string, 0, cmd.Args)
	for i := 0; i < cmd.Args-1; i++ {
		field, tail, ok := strings.Cut(rest, " ")
		if !ok {
			return Request{}, &ParseError{Verb: verb, Want: cmd.Args, Got: i + 1}
		}
		req.Args = append(req.Args, field)
		rest = tail
	}
	req.Args = append(req.Args, rest)
	return req, nil
}

// Format builds the wire line for verb and args.
func Format(verb string, args ...string) string {
	if len(args) == 0 {
		return verb
	}
	var b strings.Builder
	b.WriteString(verb)
	for _, a := range args {
		b.WriteByte(' ')
		b.WriteString(a)
	}
	return b.String()
}
