package buddy

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Operative-001/torchat/internal/engine"
	"github.com/Operative-001/torchat/internal/protocol"
)

func newTestMonitor(t *testing.T, acceptUnknown bool) (*Monitor, *Store) {
	t.Helper()
	s := newTestStore(t)
	return NewMonitor(s, acceptUnknown, slog.New(slog.NewTextHandler(io.Discard, nil))), s
}

func TestMonitorIsAnEventMonitor(t *testing.T) {
	var _ engine.EventMonitor = (*Monitor)(nil)
}

func TestIncomingConnectionPolicy(t *testing.T) {
	m, s := newTestMonitor(t, false)
	require.NoError(t, s.Put(&Buddy{ID: aliceID}))
	require.NoError(t, s.SetBlocked(bobID, true))

	assert.True(t, m.OnIncomingConnection(engine.ConnectionInfo{ID: aliceID}))
	assert.False(t, m.OnIncomingConnection(engine.ConnectionInfo{ID: bobID}), "blocked")
	assert.False(t, m.OnIncomingConnection(engine.ConnectionInfo{ID: "stranger12345678"}))

	open, _ := newTestMonitor(t, true)
	assert.True(t, open.OnIncomingConnection(engine.ConnectionInfo{ID: "stranger12345678"}))
}

func TestAddNewBuddyStoresStrangerWhenOpen(t *testing.T) {
	m, s := newTestMonitor(t, true)
	ok := m.OnAddNewBuddy(engine.BuddyInfo{ID: aliceID, ProfileName: "Alice", Client: "torchat-go"})
	require.True(t, ok)

	b, err := s.Get(aliceID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", b.Name)
	assert.Equal(t, "torchat-go", b.Client)
}

func TestAddNewBuddyRefusesStrangerWhenClosed(t *testing.T) {
	m, s := newTestMonitor(t, false)
	assert.False(t, m.OnAddNewBuddy(engine.BuddyInfo{ID: aliceID}))
	_, err := s.Get(aliceID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStateUpdatePersistsProfile(t *testing.T) {
	m, s := newTestMonitor(t, false)
	require.NoError(t, s.Put(&Buddy{ID: aliceID, AddedAt: 42}))

	m.OnBuddyStateUpdate(engine.BuddyInfo{ID: aliceID, ProfileText: "busy coding", Status: protocol.StatusAway})
	b, err := s.Get(aliceID)
	require.NoError(t, err)
	assert.Equal(t, "busy coding", b.Text)
	assert.Equal(t, "away", b.Status)
	assert.Equal(t, int64(42), b.AddedAt)
	assert.NotZero(t, b.LastSeen)

	// Unknown peers are not added by state updates.
	m.OnBuddyStateUpdate(engine.BuddyInfo{ID: bobID})
	_, err = s.Get(bobID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIncomingMessageCallback(t *testing.T) {
	m, s := newTestMonitor(t, false)
	require.NoError(t, s.Put(&Buddy{ID: aliceID}))

	var got []engine.Message
	m.OnMessage = func(msg engine.Message) { got = append(got, msg) }
	m.OnIncomingMessage(engine.Message{BuddyID: aliceID, Text: "hi"})

	assert.Equal(t, []engine.Message{{BuddyID: aliceID, Text: "hi"}}, got)
	b, _ := s.Get(aliceID)
	assert.NotZero(t, b.LastSeen)
}
