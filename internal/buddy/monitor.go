package buddy

import (
	"errors"
	"log/slog"
	"time"

	"github.com/Operative-001/torchat/internal/engine"
)

// Monitor is an engine.EventMonitor backed by a Store. Known buddies are
// let in unless blocked; strangers only when AcceptUnknown is set, in which
// case their add_me puts them on the list.
type Monitor struct {
	store         *Store
	acceptUnknown bool
	log           *slog.Logger

	// OnMessage, if set, receives every incoming chat message.
	OnMessage func(engine.Message)
}

func NewMonitor(store *Store, acceptUnknown bool, log *slog.Logger) *Monitor {
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{store: store, acceptUnknown: acceptUnknown, log: log}
}

// allowed reports whether id may talk to us and whether it is on the list.
func (m *Monitor) allowed(id string) (ok, known bool) {
	b, err := m.store.Get(id)
	switch {
	case err == nil:
		return !b.Blocked, true
	case errors.Is(err, ErrNotFound):
		return m.acceptUnknown, false
	default:
		m.log.Error("buddy lookup failed", slog.String("peer", id), slog.Any("err", err))
		return false, false
	}
}

func (m *Monitor) OnIncomingConnection(ci engine.ConnectionInfo) bool {
	ok, known := m.allowed(ci.ID)
	m.log.Debug("incoming connection", slog.String("peer", ci.ID), slog.Bool("known", known), slog.Bool("allowed", ok))
	return ok
}

func (m *Monitor) OnAddNewBuddy(bi engine.BuddyInfo) bool {
	ok, known := m.allowed(bi.ID)
	if !ok {
		m.log.Info("refusing buddy", slog.String("peer", bi.ID))
		return false
	}
	if known {
		m.record(bi)
		return true
	}
	b := fromInfo(bi)
	if err := m.store.Put(&b); err != nil {
		m.log.Error("store new buddy", slog.String("peer", bi.ID), slog.Any("err", err))
		return false
	}
	m.log.Info("added buddy", slog.String("peer", bi.ID), slog.String("name", bi.ProfileName))
	return true
}

func (m *Monitor) OnBuddyStateUpdate(bi engine.BuddyInfo) {
	m.record(bi)
}

func (m *Monitor) OnIncomingMessage(msg engine.Message) {
	m.touch(msg.BuddyID)
	if m.OnMessage != nil {
		m.OnMessage(msg)
	}
}

func (m *Monitor) OnOtherEvent(ev engine.Event) {
	m.log.Debug("engine event", slog.String("peer", ev.BuddyID), slog.String("type", ev.Type.String()))
}

func (m *Monitor) record(bi engine.BuddyInfo) {
	err := m.store.Update(bi.ID, func(b *Buddy) {
		blocked, added := b.Blocked, b.AddedAt
		*b = fromInfo(bi)
		b.Blocked, b.AddedAt = blocked, added
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		m.log.Error("update buddy", slog.String("peer", bi.ID), slog.Any("err", err))
	}
}

func (m *Monitor) touch(id string) {
	err := m.store.Update(id, func(b *Buddy) { b.LastSeen = time.Now().Unix() })
	if err != nil && !errors.Is(err, ErrNotFound) {
		m.log.Error("update buddy", slog.String("peer", id), slog.Any("err", err))
	}
}

func fromInfo(bi engine.BuddyInfo) Buddy {
	return Buddy{
		ID:       bi.ID,
		Name:     bi.ProfileName,
		Text:     bi.ProfileText,
		Client:   bi.Client,
		Version:  bi.ClientVersion,
		Status:   bi.Status.String(),
		LastSeen: time.Now().Unix(),
	}
}
