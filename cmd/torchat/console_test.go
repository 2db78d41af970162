package main

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Operative-001/torchat/internal/buddy"
	"github.com/Operative-001/torchat/internal/engine"
	"github.com/Operative-001/torchat/internal/protocol"
	"github.com/Operative-001/torchat/internal/transport"
)

type fakeChat struct {
	sent      []string
	connected []string
	dropped   []string
	cleared   []string
	info      engine.Info
	sendErr   error
}

func (f *fakeChat) Connect(id string) error {
	f.connected = append(f.connected, id)
	return nil
}

func (f *fakeChat) SendMessage(id, text string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, id+":"+text)
	return nil
}

func (f *fakeChat) Disconnect(id string) { f.dropped = append(f.dropped, id) }
func (f *fakeChat) Peers() []engine.PeerInfo { return []engine.PeerInfo{{ID: "abcdefghijklmnop", State: engine.StateReady}} }
func (f *fakeChat) SetInfo(info engine.Info) { f.info = info }
func (f *fakeChat) Stats() engine.Stats { return engine.Stats{MessagesSent: 3} }
func (f *fakeChat) ClearRejection(id string) { f.cleared = append(f.cleared, id) }

type fakeBlockList map[string]bool

func (f fakeBlockList) SetBlocked(id string, blocked bool) error {
	f[id] = blocked
	return nil
}

func TestConsoleCommands(t *testing.T) {
	f := &fakeChat{}
	var out bytes.Buffer
	blocks := fakeBlockList{}
	c := &console{eng: f, buddies: blocks, out: &out}

	input := strings.Join([]string{
		"msg abcdefghijklmnop hello there",
		"connect bbbbbbbbbbbbbbbb",
		"drop cccccccccccccccc",
		"block dddddddddddddddd",
		"unblock eeeeeeeeeeeeeeee",
		"status busy",
		"name Alice Liddell",
		"peers",
		"stats",
		"quit",
		"msg never reached",
	}, "\n")
	c.run(strings.NewReader(input))

	assert.Equal(t, []string{"abcdefghijklmnop:hello there"}, f.sent)
	assert.Equal(t, []string{"bbbbbbbbbbbbbbbb"}, f.connected)
	assert.Equal(t, []string{"cccccccccccccccc", "dddddddddddddddd"}, f.dropped)
	assert.Equal(t, []string{"eeeeeeeeeeeeeeee"}, f.cleared)
	assert.Equal(t, fakeBlockList{"dddddddddddddddd": true, "eeeeeeeeeeeeeeee": false}, blocks)
	assert.Equal(t, protocol.StatusBusy, f.info.Status)
	assert.Equal(t, "Alice Liddell", f.info.ProfileName)
	assert.Contains(t, out.String(), "abcdefghijklmnop  READY")
	assert.Contains(t, out.String(), "messages=0/3")
}

func TestConsoleErrors(t *testing.T) {
	f := &fakeChat{sendErr: errors.New("not connected")}
	var out bytes.Buffer
	c := &console{eng: f, out: &out}

	assert.False(t, c.handle("msg abcdefghijklmnop hi"))
	assert.False(t, c.handle("msg onlyid"))
	assert.False(t, c.handle("status sleeping"))
	assert.False(t, c.handle("frobnicate"))
	assert.True(t, c.handle("exit"))

	s := out.String()
	assert.Contains(t, s, "error: not connected")
	assert.Contains(t, s, "usage: msg")
	assert.Contains(t, s, "unknown status name")
	assert.Contains(t, s, "unknown command: frobnicate")
}

func TestAutoconnectSkipsBlocked(t *testing.T) {
	dir := t.TempDir()
	store, err := buddy.Open(dir)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Put(&buddy.Buddy{ID: "bbbbbbbbbbbbbbbb"}))
	require.NoError(t, store.Put(&buddy.Buddy{ID: "cccccccccccccccc", Blocked: true}))

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng, err := engine.New(engine.Config{
		ID:     "aaaaaaaaaaaaaaaa",
		Dialer: transport.NewNetwork(),
		Logger: log,
	})
	require.NoError(t, err)
	defer eng.Shutdown()

	require.NoError(t, autoconnect(eng, store, log))

	_, ok := eng.Peer("bbbbbbbbbbbbbbbb")
	assert.True(t, ok)
	_, ok = eng.Peer("cccccccccccccccc")
	assert.False(t, ok)
}
