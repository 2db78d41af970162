package engine

import (
	"github.com/Operative-001/torchat/internal/protocol"
)

// BuddyInfo is what a peer has told us about itself.
type BuddyInfo struct {
	ID            string
	Client        string
	ClientVersion string
	ProfileName   string
	ProfileText   string
	Status        protocol.Status
}

// Info is the local profile sent to peers after authentication.
type Info struct {
	ProfileName string
	ProfileText string
	Status      protocol.Status
}

// Peer is one remote party. All fields are guarded by the engine mutex.
type Peer struct {
	id         string
	state      State
	initiative Direction

	in, out *link
	dialing bool // outbound slot reserved while a dial is in flight

	myCookie   string
	peerCookie string

	sentPing, receivedPing bool
	sentPong, receivedPong bool

	info BuddyInfo
}

func newPeer(id, cookie string, initiative Direction) *Peer {
	return &Peer{
		id:         id,
		initiative: initiative,
		myCookie:   cookie,
		info:       BuddyInfo{ID: id},
	}
}

// upgradeState moves the peer to s unless it is already there or beyond.
// A fresh inbound connection therefore never pulls an authenticating peer
// back to ACCEPTING.
func (p *Peer) upgradeState(s State) bool {
	if s <= p.state {
		return false
	}
	p.state = s
	return true
}

// setIn installs l as the inbound connection, detaching and closing the
// one it supersedes.
func (p *Peer) setIn(l *link) {
	old := p.in
	p.in = nil
	if old != nil {
		old.close()
	}
	p.in = l
}

func (p *Peer) conn(d Direction) *link {
	if d == Outgoing {
		return p.out
	}
	return p.in
}

// detach drops l from whichever slot holds it and closes it. It reports
// whether the peer is left without any connection.
func (p *Peer) detach(l *link) bool {
	switch l {
	case p.in:
		p.in = nil
	case p.out:
		p.out = nil
	}
	l.close()
	return p.in == nil && p.out == nil && !p.dialing
}

func (p *Peer) closeAll() {
	if p.in != nil {
		p.in.close()
		p.in = nil
	}
	if p.out != nil {
		p.out.close()
		p.out = nil
	}
}

// send queues line on the outbound connection. It reports false when there
// is none.
func (p *Peer) send(verb string, args ...string) bool {
	if p.out == nil {
		return false
	}
	return p.out.send(protocol.Format(verb, args...))
}

func (p *Peer) sendPing(localID string) bool {
	ok := p.send(protocol.VerbPing, localID, p.myCookie)
	if ok {
		p.sentPing = true
	}
	return ok
}

func (p *Peer) sendPong() bool {
	ok := p.send(protocol.VerbPong, p.peerCookie)
	if ok {
		p.sentPong = true
	}
	return ok
}

// PeerInfo is a read-only snapshot of a Peer.
type PeerInfo struct {
	ID         string
	State      State
	Initiative Direction
	Inbound    string // connection name, empty when absent
	Outbound   string

	SentPing, ReceivedPing bool
	SentPong, ReceivedPong bool

	Buddy BuddyInfo
}

func (p *Peer) snapshot() PeerInfo {
	pi := PeerInfo{
		ID:           p.id,
		State:        p.state,
		Initiative:   p.initiative,
		SentPing:     p.sentPing,
		ReceivedPing: p.receivedPing,
		SentPong:     p.sentPong,
		ReceivedPong: p.receivedPong,
		Buddy:        p.info,
	}
	if p.in != nil {
		pi.Inbound = p.in.conn.Name()
	}
	if p.out != nil {
		pi.Outbound = p.out.conn.Name()
	}
	return pi
}
