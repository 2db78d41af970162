package engine

import (
	"log/slog"
	"strconv"

	"github.com/Operative-001/torchat/internal/protocol"
)

// handler executes one request. It runs with e.mu held and must not block;
// anything that talks to monitors goes through call.after.
type handler func(c *call) error

// call is the context of one dispatched request.
type call struct {
	e        *Engine
	peer     *Peer
	dir      Direction
	req      protocol.Request
	deferred []func()
}

// after schedules fn to run once the engine lock is released.
func (c *call) after(fn func()) {
	c.deferred = append(c.deferred, fn)
}

func (c *call) run() {
	for _, fn := range c.deferred {
		fn()
	}
}

// unlocked runs fn with the engine lock released and reports whether the
// peer survived meanwhile.
func (c *call) unlocked(fn func()) bool {
	c.e.mu.Unlock()
	fn()
	c.e.mu.Lock()
	return c.e.aliveLocked(c.peer)
}

func (c *call) arg(i int) string { return c.req.Args[i] }

func defaultHandlers() map[string]handler {
	return map[string]handler{
		protocol.VerbAddMe:              onAddMe,
		protocol.VerbClient:             onClient,
		protocol.VerbFileData:           onFileCommand,
		protocol.VerbFileDataError:      onFileCommand,
		protocol.VerbFileDataOK:         onFileCommand,
		protocol.VerbFilename:           onFilename,
		protocol.VerbFileStopSending:    onFileCommand,
		protocol.VerbMessage:            onMessage,
		protocol.VerbPing:               onPing,
		protocol.VerbPong:               onPong,
		protocol.VerbProfileAvatar:      onProfileAvatar,
		protocol.VerbProfileAvatarAlpha: onProfileAvatar,
		protocol.VerbProfileName:        onProfileName,
		protocol.VerbProfileText:        onProfileText,
		protocol.VerbRemoveMe:           onRemoveMe,
		protocol.VerbStatus:             onStatus,
		protocol.VerbVersion:            onVersion,
	}
}

func onAddMe(c *call) error {
	info := c.peer.info
	var ok bool
	if !c.unlocked(func() { ok = c.e.monitors.approveBuddy(info) }) {
		return errPeerGone
	}
	if !ok {
		return ErrNotAllowed
	}
	c.peer.upgradeState(StateReady)
	return nil
}

func onClient(c *call) error {
	c.peer.info.Client = c.arg(0)
	return nil
}

func onVersion(c *call) error {
	c.peer.info.ClientVersion = c.arg(0)
	return nil
}

func onProfileName(c *call) error {
	c.peer.info.ProfileName = c.arg(0)
	return nil
}

func onProfileText(c *call) error {
	c.peer.info.ProfileText = c.arg(0)
	return nil
}

// Avatars are binary bitmaps; we accept them and throw them away.
func onProfileAvatar(*call) error { return nil }

func onPing(c *call) error {
	p := c.peer
	if id := c.arg(0); id != p.id {
		return violation(p, "ping claims id %q", id)
	}
	cookie := c.arg(1)
	if p.peerCookie != "" && p.peerCookie != cookie {
		return violation(p, "ping with a different cookie")
	}
	p.peerCookie = cookie
	p.receivedPing = true
	p.sendPong()
	return nil
}

func onPong(c *call) error {
	p := c.peer
	if c.dir == Outgoing {
		// Authenticity only counts on the channel the peer had to reach us by.
		c.e.log.Debug("ignoring pong on outbound connection", slog.String("peer", p.id))
		return nil
	}
	if !p.sentPing {
		return violation(p, "pong before we sent ping")
	}
	if c.arg(0) != p.myCookie {
		return violation(p, "pong with wrong cookie")
	}

	p.upgradeState(StateAuthenticated)
	if p.receivedPong {
		return nil
	}

	e := c.e
	if p.initiative == Outgoing {
		p.sendPong()
	}
	p.send(protocol.VerbClient, e.cfg.ClientName)
	p.send(protocol.VerbVersion, e.cfg.ClientVersion)
	if e.info.ProfileName != "" {
		p.send(protocol.VerbProfileName, e.info.ProfileName)
	}
	if e.info.ProfileText != "" {
		p.send(protocol.VerbProfileText, e.info.ProfileText)
	}
	p.send(protocol.VerbAddMe)
	p.send(protocol.VerbStatus, e.info.Status.Wire())
	p.receivedPong = true

	id := p.id
	c.after(func() { e.monitors.event(Event{BuddyID: id, Type: EventPeerAuthenticated}) })
	return nil
}

func onStatus(c *call) error {
	status, err := protocol.ParseStatus(c.arg(0))
	if err != nil {
		return violation(c.peer, "%v", err)
	}
	c.peer.info.Status = status
	info := c.peer.info
	c.after(func() { c.e.monitors.stateUpdate(info) })
	return nil
}

func onMessage(c *call) error {
	c.e.stats.messagesRecv.Add(1)
	msg := Message{BuddyID: c.peer.id, Text: c.arg(0)}
	c.after(func() { c.e.monitors.message(msg) })
	return nil
}

func onRemoveMe(c *call) error {
	c.e.log.Debug("peer asked to be removed", slog.String("peer", c.peer.id))
	c.e.removePeerLocked(c.peer)
	id := c.peer.id
	c.after(func() { c.e.monitors.event(Event{BuddyID: id, Type: EventPeerRemoved}) })
	return nil
}

// onFilename announces a file: filename <id> <size> <block size> <name>.
func onFilename(c *call) error {
	size, err := strconv.ParseInt(c.arg(1), 10, 64)
	if err != nil || size < 0 {
		return violation(c.peer, "bad file size %q", c.arg(1))
	}
	block, err := strconv.ParseInt(c.arg(2), 10, 64)
	if err != nil || block <= 0 {
		return violation(c.peer, "bad block size %q", c.arg(2))
	}
	ev := Event{
		BuddyID: c.peer.id,
		Type:    EventFileOffered,
		File:    &FileOffer{ID: c.arg(0), Name: c.arg(3), Size: size, BlockSize: block},
	}
	c.after(func() { c.e.monitors.event(ev) })
	return onFileCommand(c)
}

func onFileCommand(c *call) error {
	files := c.e.cfg.Files
	if files == nil {
		return nil
	}
	id, verb, args := c.peer.id, c.req.Name, c.req.Args
	c.after(func() { files.HandleFileCommand(id, verb, args) })
	return nil
}
