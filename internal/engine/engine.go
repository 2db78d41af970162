// Package engine implements the TorChat peer state machine.
//
// Each remote party is a Peer with up to two physical connections: the
// inbound one it opened to us and the outbound one we opened to it. Both
// sides greet with "ping <id> <cookie>" on their outbound connection and
// prove ownership of their onion address by echoing the other's cookie in a
// "pong". A pong is only trusted when it arrives on the inbound connection,
// the one the peer had to reach through its own hidden service.
//
// Design:
//   - One goroutine per listener accepts connections.
//   - One goroutine per physical connection reads lines and dispatches them.
//   - One goroutine per physical connection writes queued lines.
//   - A single mutex guards the registry and every Peer. Handlers run under
//     it and only queue output; monitor callbacks run after it is released.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/Operative-001/torchat/internal/identity"
	"github.com/Operative-001/torchat/internal/protocol"
	"github.com/Operative-001/torchat/internal/seen"
	"github.com/Operative-001/torchat/internal/transport"
)

const (
	DefaultConnectTimeout = 60 * time.Second
	DefaultClientName     = "torchat-go"
	DefaultClientVersion  = "0.1.0"

	acceptBackoff = 100 * time.Millisecond
)

// FileHandler receives the file-transfer control commands. The data path
// itself lives outside the engine.
type FileHandler interface {
	HandleFileCommand(peerID, verb string, args []string)
}

// Config configures an Engine.
type Config struct {
	ID     string           // local 16-character id
	Dialer transport.Dialer // opens outbound connections by peer id

	ConnectTimeout time.Duration // dial and greeting deadline; defaults to DefaultConnectTimeout
	RejectCooldown time.Duration // how long refused ids are dropped unasked; 0 disables

	ClientName    string
	ClientVersion string
	Info          Info

	Table      protocol.Table        // defaults to protocol.DefaultTable
	Files      FileHandler           // optional
	Logger     *slog.Logger          // defaults to slog.Default
	Registerer prometheus.Registerer // optional
}

// Engine is the TorChat protocol engine.
type Engine struct {
	cfg      Config
	log      *slog.Logger
	table    protocol.Table
	handlers map[string]handler
	monitors monitorSet
	rejected *seen.Cache
	stats    counters
	metrics  map[string]prometheus.Collector

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	peers     map[string]*Peer
	info      Info
	listeners []transport.Listener
	closed    bool
}

// New creates an Engine. Nothing runs until Listen, Serve or Connect.
func New(cfg Config) (*Engine, error) {
	if !identity.ValidID(cfg.ID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, cfg.ID)
	}
	if cfg.Dialer == nil {
		return nil, errors.New("engine: no dialer configured")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.ClientName == "" {
		cfg.ClientName = DefaultClientName
	}
	if cfg.ClientVersion == "" {
		cfg.ClientVersion = DefaultClientVersion
	}
	if cfg.Table == nil {
		cfg.Table = protocol.DefaultTable()
	}
	if err := cfg.Table.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:      cfg,
		log:      cfg.Logger.With(slog.String("local", cfg.ID)),
		table:    cfg.Table,
		rejected: seen.New(cfg.RejectCooldown),
		ctx:      ctx,
		cancel:   cancel,
		peers:    make(map[string]*Peer),
		info:     cfg.Info,
	}
	e.handlers = defaultHandlers()
	e.metrics = e.stats.collectors()

	if cfg.Registerer != nil {
		for _, c := range e.metrics {
			if err := cfg.Registerer.Register(c); err != nil {
				cancel()
				return nil, fmt.Errorf("engine: register metrics: %w", err)
			}
		}
	}
	return e, nil
}

// ID returns the local id.
func (e *Engine) ID() string { return e.cfg.ID }

// Subscribe registers m. Keep the returned Subscription for as long as m
// should receive events.
//
// The engine holds subscriptions weakly and approves everything when no
// monitor is live. Dropping the Subscription of an approving monitor (a
// block list, say) silently lets every peer in once it is collected.
func (e *Engine) Subscribe(m EventMonitor) *Subscription {
	return e.monitors.add(m)
}

// ClearRejection drops peerID from the reject cooldown, so its next
// greeting is put to the monitors again.
func (e *Engine) ClearRejection(peerID string) {
	e.rejected.Forget(peerID)
}

// SetInfo replaces the local profile. Peers authenticated later see it.
func (e *Engine) SetInfo(info Info) {
	e.mu.Lock()
	e.info = info
	e.mu.Unlock()
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats { return e.stats.snapshot() }

// Peer returns a snapshot of the peer with the given id.
func (e *Engine) Peer(id string) (PeerInfo, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.peers[id]
	if !ok {
		return PeerInfo{}, false
	}
	return p.snapshot(), true
}

// Peers returns snapshots of all registered peers sorted by id.
func (e *Engine) Peers() []PeerInfo {
	e.mu.Lock()
	out := make([]PeerInfo, 0, len(e.peers))
	for _, p := range e.peers {
		out = append(out, p.snapshot())
	}
	e.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Listen binds a TCP endpoint and serves it in the background.
func (e *Engine) Listen(endpoint string) error {
	ln, err := transport.ListenTCP(endpoint)
	if err != nil {
		return fmt.Errorf("engine: listen %s: %w", endpoint, err)
	}
	e.mu.Lock()
	ok := e.spawnLocked(func() {
		if err := e.Serve(ln); err != nil {
			e.log.Warn("serve", slog.Any("err", err))
		}
	})
	e.mu.Unlock()
	if !ok {
		ln.Close()
		return ErrClosed
	}
	return nil
}

// Serve accepts connections from l until l is closed. Accept errors are
// logged and do not stop the loop.
func (e *Engine) Serve(l transport.Listener) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		l.Close()
		return ErrClosed
	}
	e.listeners = append(e.listeners, l)
	e.mu.Unlock()

	e.log.Info("listening", slog.String("addr", l.Addr()))
	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, transport.ErrClosed) {
				e.log.Debug("listener closed", slog.String("addr", l.Addr()))
				return nil
			}
			e.log.Warn("accept error", slog.Any("err", err))
			select {
			case <-e.ctx.Done():
				return nil
			case <-time.After(acceptBackoff):
			}
			continue
		}
		e.stats.incoming.Add(1)

		e.mu.Lock()
		ok := e.spawnLocked(func() { e.accepted(conn) })
		e.mu.Unlock()
		if !ok {
			conn.Close()
		}
	}
}

// Connect opens an outbound connection to peerID in the background,
// registering the peer first if it is unknown.
func (e *Engine) Connect(peerID string) error {
	if !identity.ValidID(peerID) || peerID == e.cfg.ID {
		return fmt.Errorf("%w: %q", ErrInvalidID, peerID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	p, ok := e.peers[peerID]
	if !ok {
		var err error
		if p, err = e.createPeerLocked(peerID, Outgoing); err != nil {
			return err
		}
		e.log.Debug("created peer for outbound connect", slog.String("peer", peerID))
	}
	e.spawnLocked(func() { e.connectPeer(p) })
	return nil
}

// SendMessage sends a chat message to a READY peer.
func (e *Engine) SendMessage(peerID, text string) error {
	if strings.ContainsAny(text, "\r\n") {
		return ErrInvalidText
	}

	e.mu.Lock()
	p, ok := e.peers[peerID]
	if !ok || p.state != StateReady || !p.send(protocol.VerbMessage, text) {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotConnected, peerID)
	}
	e.mu.Unlock()

	e.stats.messagesSent.Add(1)
	e.log.Debug("sent message", slog.String("peer", peerID))
	e.monitors.event(Event{BuddyID: peerID, Type: EventMessageTransmitted})
	return nil
}

// Disconnect closes both connections of peerID and forgets it.
func (e *Engine) Disconnect(peerID string) {
	e.mu.Lock()
	p, ok := e.peers[peerID]
	if ok {
		e.log.Debug("disconnecting", slog.String("peer", peerID))
		e.removePeerLocked(p)
	}
	e.mu.Unlock()
	if ok {
		e.monitors.event(Event{BuddyID: peerID, Type: EventPeerRemoved})
	}
}

// Shutdown closes every listener and peer and waits for all engine
// goroutines to return.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.cancel()

	var err error
	for _, l := range e.listeners {
		err = multierr.Append(err, l.Close())
	}
	e.listeners = nil

	removed := make([]string, 0, len(e.peers))
	for _, p := range e.peers {
		removed = append(removed, p.id)
		e.removePeerLocked(p)
	}
	e.mu.Unlock()

	for _, id := range removed {
		e.monitors.event(Event{BuddyID: id, Type: EventPeerRemoved})
	}
	e.wg.Wait()
	return err
}

// spawnLocked runs fn in a tracked goroutine unless the engine is closed.
// e.mu must be held.
func (e *Engine) spawnLocked(fn func()) bool {
	if e.closed {
		return false
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
	return true
}

func (e *Engine) createPeerLocked(id string, initiative Direction) (*Peer, error) {
	cookie, err := identity.NewCookie()
	if err != nil {
		return nil, fmt.Errorf("engine: cookie: %w", err)
	}
	p := newPeer(id, cookie, initiative)
	e.peers[id] = p
	return p, nil
}

// removePeerLocked closes both connections, marks p DONE and drops it from
// the registry.
func (e *Engine) removePeerLocked(p *Peer) {
	p.closeAll()
	p.state = StateDone
	if e.peers[p.id] == p {
		delete(e.peers, p.id)
	}
}

// aliveLocked reports whether p is still the registered, live peer for its id.
func (e *Engine) aliveLocked(p *Peer) bool {
	return p.state != StateDone && e.peers[p.id] == p
}

func (e *Engine) readLine(conn transport.Conn) (string, error) {
	line, err := conn.ReadLine()
	if err != nil {
		return "", err
	}
	e.stats.linesReceived.Add(1)
	e.stats.bytesRecv.Add(uint64(len(line)))
	return line, nil
}

// accepted runs the inbound flow for one connection: greeting, peer
// resolution, then the request loop.
func (e *Engine) accepted(conn transport.Conn) {
	log := e.log.With(slog.String("conn", conn.Name()))

	timer := time.AfterFunc(e.cfg.ConnectTimeout, func() { conn.Close() })
	stop := context.AfterFunc(e.ctx, func() { conn.Close() })
	line, err := e.readLine(conn)
	timer.Stop()
	stop()
	if err != nil {
		log.Debug("no greeting", slog.Any("err", err))
		conn.Close()
		return
	}

	id, cookie, ok := e.verifyGreeting(log, line)
	if !ok {
		log.Debug("dropping connection: bad greeting")
		conn.Close()
		return
	}
	log = log.With(slog.String("peer", id))

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		conn.Close()
		return
	}
	p, known := e.peers[id]
	if !known {
		if e.rejected.Has(id) {
			e.mu.Unlock()
			log.Debug("dropping connection: recently rejected")
			conn.Close()
			return
		}
		e.mu.Unlock()
		if !e.monitors.approveIncoming(ConnectionInfo{ID: id, Conn: conn.Name()}) {
			e.rejected.Add(id)
			log.Debug("dropping connection: rejected")
			conn.Close()
			return
		}
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			conn.Close()
			return
		}
		// The peer may have been registered while we were asking.
		if p, known = e.peers[id]; !known {
			if p, err = e.createPeerLocked(id, Incoming); err != nil {
				e.mu.Unlock()
				log.Error("create peer", slog.Any("err", err))
				conn.Close()
				return
			}
			log.Debug("new peer")
		}
	}

	if p.peerCookie != "" && p.peerCookie != cookie {
		e.mu.Unlock()
		log.Warn("ping carries another cookie than the one in use, keeping the existing peer")
		conn.Close()
		return
	}
	if p.peerCookie == "" {
		p.peerCookie = cookie
	}
	if p.in != nil {
		log.Warn("switching to new inbound connection", slog.String("old", p.in.conn.Name()))
	}
	l := e.newLink(conn, Incoming)
	p.setIn(l)
	p.receivedPong = false
	p.upgradeState(StateAccepting)
	p.receivedPing = true

	if p.out == nil && !p.dialing {
		e.spawnLocked(func() { e.connectPeer(p) })
	}
	e.mu.Unlock()

	e.serveLink(p, l)
}

// verifyGreeting checks that line is "ping <16-char id> <cookie>".
func (e *Engine) verifyGreeting(log *slog.Logger, line string) (id, cookie string, ok bool) {
	req, err := protocol.Parse(e.table, line)
	if err != nil {
		log.Warn("unparsable greeting", slog.Any("err", err))
		return "", "", false
	}
	if req.Name != protocol.VerbPing {
		log.Warn("greeting is not a ping", slog.String("verb", req.Name))
		return "", "", false
	}
	if len(req.Args) != 2 {
		log.Warn("ping with wrong argument count", slog.Int("args", len(req.Args)))
		return "", "", false
	}
	id, cookie = req.Args[0], req.Args[1]
	if !identity.ValidID(id) {
		log.Warn("ping with malformed id", slog.String("id", id))
		return "", "", false
	}
	return id, cookie, true
}

// connectPeer runs the outbound flow: dial, greet, then the request loop.
func (e *Engine) connectPeer(p *Peer) {
	log := e.log.With(slog.String("peer", p.id))

	e.mu.Lock()
	if !e.aliveLocked(p) {
		e.mu.Unlock()
		return
	}
	if p.out != nil || p.dialing {
		e.mu.Unlock()
		log.Warn("peer already has an outbound connection")
		return
	}
	p.dialing = true
	p.upgradeState(StateConnecting)
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(e.ctx, e.cfg.ConnectTimeout)
	conn, err := e.cfg.Dialer.Dial(ctx, p.id)
	cancel()

	e.mu.Lock()
	p.dialing = false
	if err != nil {
		orphan := p.in == nil && p.out == nil && e.aliveLocked(p) && p.state > StateConnecting
		if orphan {
			e.removePeerLocked(p)
		}
		e.mu.Unlock()
		log.Info("connect failed", slog.Any("err", err))
		if orphan {
			e.monitors.event(Event{BuddyID: p.id, Type: EventPeerRemoved})
		}
		return
	}
	if !e.aliveLocked(p) || e.closed {
		e.mu.Unlock()
		conn.Close()
		return
	}
	e.stats.outgoing.Add(1)
	l := e.newLink(conn, Outgoing)
	p.out = l
	p.upgradeState(StateAuthenticating)
	p.sendPing(e.cfg.ID)
	if p.receivedPing {
		p.sendPong()
	}
	e.mu.Unlock()
	log.Debug("connected", slog.String("conn", conn.Name()))

	e.serveLink(p, l)
}

// serveLink is the request loop for one physical connection. It returns
// when the connection fails, the peer goes away, or a handler asks to
// disconnect.
func (e *Engine) serveLink(p *Peer, l *link) {
	log := e.log.With(slog.String("peer", p.id), slog.String("conn", l.conn.Name()))
	for {
		e.mu.Lock()
		current := e.aliveLocked(p) && p.conn(l.dir) == l
		if current && !l.conn.IsConnected() {
			// Closed under us, e.g. by an overflowing send queue.
			log.Debug("connection closed")
			removed := e.dropLinkLocked(p, l)
			e.mu.Unlock()
			if removed {
				e.monitors.event(Event{BuddyID: p.id, Type: EventPeerRemoved})
			}
			return
		}
		e.mu.Unlock()
		if !current {
			log.Debug("request loop done")
			l.close()
			return
		}

		line, err := e.readLine(l.conn)

		e.mu.Lock()
		if !e.aliveLocked(p) || p.conn(l.dir) != l {
			e.mu.Unlock()
			l.close()
			continue
		}
		if err != nil {
			log.Debug("read failed", slog.Any("err", err))
			removed := e.dropLinkLocked(p, l)
			e.mu.Unlock()
			if removed {
				e.monitors.event(Event{BuddyID: p.id, Type: EventPeerRemoved})
			}
			return
		}

		c, err := e.dispatchLocked(p, l, line)
		if err != nil {
			switch {
			case errors.Is(err, errPeerGone):
			case errors.Is(err, ErrNotAllowed):
				log.Info("disconnecting peer", slog.Any("err", err))
				if e.aliveLocked(p) {
					e.removePeerLocked(p)
					c.after(func() { e.monitors.event(Event{BuddyID: p.id, Type: EventPeerRemoved}) })
				}
			default:
				log.Info("closing connection", slog.Any("err", err))
				if e.aliveLocked(p) && e.dropLinkLocked(p, l) {
					c.after(func() { e.monitors.event(Event{BuddyID: p.id, Type: EventPeerRemoved}) })
				}
				l.close()
			}
		}
		e.mu.Unlock()
		c.run()
		if err != nil {
			return
		}
	}
}

// dropLinkLocked detaches l from p and removes p once it has no
// connection left. It reports whether p was removed.
func (e *Engine) dropLinkLocked(p *Peer, l *link) bool {
	if !p.detach(l) {
		return false
	}
	e.removePeerLocked(p)
	return true
}

// dispatchLocked parses one line and runs its handler if the peer's state
// allows it. The returned call holds work to run after e.mu is released.
func (e *Engine) dispatchLocked(p *Peer, l *link, line string) (*call, error) {
	c := &call{e: e, peer: p, dir: l.dir}

	req, err := protocol.Parse(e.table, line)
	if err != nil {
		return c, err
	}
	c.req = req
	log := e.log.With(slog.String("peer", p.id), slog.String("conn", l.conn.Name()), slog.String("verb", req.Name))

	if need := minState(req.Command.Valid); p.state < need {
		log.Warn("command not allowed in this state",
			slog.String("state", p.state.String()),
			slog.String("validity", req.Command.Valid.String()))
		return c, nil
	}

	var h handler
	if req.Known {
		h = e.handlers[req.Name]
	}
	if h == nil {
		if req.Name == protocol.VerbNotImplemented {
			log.Debug("peer does not implement a command we sent")
			return c, nil
		}
		log.Debug("no handler, replying not_implemented")
		p.send(protocol.VerbNotImplemented, req.Name)
		return c, nil
	}

	log.Debug("executing request")
	return c, h(c)
}
