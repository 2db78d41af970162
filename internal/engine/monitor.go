package engine

import (
	"sync"
	"weak"
)

// ConnectionInfo describes an inbound connection awaiting approval.
type ConnectionInfo struct {
	ID   string
	Conn string
}

// Message is an incoming chat message.
type Message struct {
	BuddyID string
	Text    string
}

type EventType int

const (
	EventMessageTransmitted EventType = iota
	EventPeerAuthenticated
	EventPeerRemoved
	EventFileOffered
)

func (t EventType) String() string {
	switch t {
	case EventMessageTransmitted:
		return "message-transmitted"
	case EventPeerAuthenticated:
		return "peer-authenticated"
	case EventPeerRemoved:
		return "peer-removed"
	case EventFileOffered:
		return "file-offered"
	default:
		return "unknown"
	}
}

// FileOffer is announced by a filename command.
type FileOffer struct {
	ID        string
	Name      string
	Size      int64
	BlockSize int64
}

// Event is a notification without a dedicated callback.
type Event struct {
	BuddyID string
	Type    EventType
	File    *FileOffer // set for EventFileOffered
}

// EventMonitor observes the engine. Callbacks are never invoked while the
// engine holds its lock, so they may call back into the engine.
type EventMonitor interface {
	// OnIncomingConnection approves a greeting from an unknown peer.
	OnIncomingConnection(ConnectionInfo) bool
	// OnAddNewBuddy approves an add_me request.
	OnAddNewBuddy(BuddyInfo) bool
	OnBuddyStateUpdate(BuddyInfo)
	OnIncomingMessage(Message)
	OnOtherEvent(Event)
}

// Subscription keeps a monitor registered. The engine holds it weakly: once
// the caller drops every reference the monitor stops receiving events.
type Subscription struct {
	monitor EventMonitor
	set     *monitorSet
}

// Cancel unregisters the monitor immediately.
func (s *Subscription) Cancel() {
	s.set.remove(s)
}

type monitorSet struct {
	mu   sync.Mutex
	subs []weak.Pointer[Subscription]
}

func (m *monitorSet) add(mon EventMonitor) *Subscription {
	s := &Subscription{monitor: mon, set: m}
	m.mu.Lock()
	m.subs = append(m.subs, weak.Make(s))
	m.mu.Unlock()
	return s
}

func (m *monitorSet) remove(s *Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	target := weak.Make(s)
	for i, w := range m.subs {
		if w == target {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			return
		}
	}
}

// live returns the monitors still referenced, in registration order, and
// drops the dead handles.
func (m *monitorSet) live() []*Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Subscription, 0, len(m.subs))
	kept := m.subs[:0]
	for _, w := range m.subs {
		if s := w.Value(); s != nil {
			out = append(out, s)
			kept = append(kept, w)
		}
	}
	clear(m.subs[len(kept):])
	m.subs = kept
	return out
}

func (m *monitorSet) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

func (m *monitorSet) approveIncoming(ci ConnectionInfo) bool {
	for _, s := range m.live() {
		if !s.monitor.OnIncomingConnection(ci) {
			return false
		}
	}
	return true
}

func (m *monitorSet) approveBuddy(bi BuddyInfo) bool {
	for _, s := range m.live() {
		if !s.monitor.OnAddNewBuddy(bi) {
			return false
		}
	}
	return true
}

func (m *monitorSet) stateUpdate(bi BuddyInfo) {
	for _, s := range m.live() {
		s.monitor.OnBuddyStateUpdate(bi)
	}
}

func (m *monitorSet) message(msg Message) {
	for _, s := range m.live() {
		s.monitor.OnIncomingMessage(msg)
	}
}

func (m *monitorSet) event(ev Event) {
	for _, s := range m.live() {
		s.monitor.OnOtherEvent(ev)
	}
}
