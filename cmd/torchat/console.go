package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/Operative-001/torchat/internal/engine"
	"github.com/Operative-001/torchat/internal/protocol"
)

// chat is the part of the engine the console drives.
type chat interface {
	Connect(peerID string) error
	SendMessage(peerID, text string) error
	Disconnect(peerID string)
	Peers() []engine.PeerInfo
	SetInfo(info engine.Info)
	Stats() engine.Stats
	ClearRejection(peerID string)
}

// blockList is the part of the buddy store the console edits.
type blockList interface {
	SetBlocked(id string, blocked bool) error
}

type console struct {
	eng     chat
	buddies blockList
	info    engine.Info
	out     io.Writer
}

const consoleHelp = `commands:
  msg <id> <text>     send a message
  connect <id>        open a connection
  drop <id>           disconnect a peer
  block <id>          block a peer and drop it
  unblock <id>        unblock a peer
  peers               list live peers
  status <name>       set presence (available, away, busy, long-away)
  name <text>         set profile name
  stats               show counters
  quit`

// run reads commands from r until EOF or quit.
func (c *console) run(r io.Reader) {
	sc := bufio.NewScanner(r)
	fmt.Fprint(c.out, "> ")
	for sc.Scan() {
		if c.handle(sc.Text()) {
			return
		}
		fmt.Fprint(c.out, "> ")
	}
}

// handle executes one console line and reports whether the console should
// stop.
func (c *console) handle(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	parts := strings.SplitN(line, " ", 3)
	switch parts[0] {
	case "msg", "send":
		if len(parts) < 3 {
			fmt.Fprintln(c.out, "usage: msg <id> <text>")
			return false
		}
		c.report(c.eng.SendMessage(parts[1], parts[2]), "✓ sent")
	case "connect":
		if len(parts) < 2 {
			fmt.Fprintln(c.out, "usage: connect <id>")
			return false
		}
		c.report(c.eng.Connect(parts[1]), "✓ connecting")
	case "drop":
		if len(parts) < 2 {
			fmt.Fprintln(c.out, "usage: drop <id>")
			return false
		}
		c.eng.Disconnect(parts[1])
		fmt.Fprintln(c.out, "✓ dropped")
	case "block", "unblock":
		if len(parts) < 2 {
			fmt.Fprintf(c.out, "usage: %s <id>\n", parts[0])
			return false
		}
		c.setBlocked(parts[1], parts[0] == "block")
	case "peers":
		for _, p := range c.eng.Peers() {
			fmt.Fprintf(c.out, "%s  %-14s %-8s in=%q out=%q  %s\n",
				p.ID, p.State, p.Initiative, p.Inbound, p.Outbound, p.Buddy.ProfileName)
		}
	case "status":
		if len(parts) < 2 {
			fmt.Fprintln(c.out, "usage: status <name>")
			return false
		}
		s, err := protocol.StatusFromName(parts[1])
		if err != nil {
			c.report(err, "")
			return false
		}
		c.info.Status = s
		c.eng.SetInfo(c.info)
		fmt.Fprintf(c.out, "✓ status %s\n", s)
	case "name":
		c.info.ProfileName = strings.TrimSpace(strings.TrimPrefix(line, "name"))
		c.eng.SetInfo(c.info)
		fmt.Fprintln(c.out, "✓ name set")
	case "stats":
		st := c.eng.Stats()
		fmt.Fprintf(c.out, "incoming=%d outgoing=%d lines=%d/%d messages=%d/%d\n",
			st.IncomingConnections, st.OutgoingConnections, st.LinesReceived, st.LinesSent, st.MessagesReceived, st.MessagesSent)
	case "help":
		fmt.Fprintln(c.out, consoleHelp)
	case "quit", "exit":
		return true
	default:
		fmt.Fprintf(c.out, "unknown command: %s (try help)\n", parts[0])
	}
	return false
}

func (c *console) setBlocked(id string, blocked bool) {
	if err := c.buddies.SetBlocked(id, blocked); err != nil {
		c.report(err, "")
		return
	}
	if blocked {
		c.eng.Disconnect(id)
		fmt.Fprintln(c.out, "✓ blocked")
		return
	}
	c.eng.ClearRejection(id)
	fmt.Fprintln(c.out, "✓ unblocked")
}

func (c *console) report(err error, ok string) {
	if err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
		return
	}
	fmt.Fprintln(c.out, ok)
}
