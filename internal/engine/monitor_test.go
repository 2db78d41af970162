package engine

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type vote struct {
	recorder
	allow bool
	asked int
}

func (v *vote) OnIncomingConnection(ConnectionInfo) bool {
	v.asked++
	return v.allow
}

func (v *vote) OnAddNewBuddy(BuddyInfo) bool {
	v.asked++
	return v.allow
}

func TestApprovalShortCircuits(t *testing.T) {
	var m monitorSet
	a, b, c := &vote{allow: true}, &vote{allow: false}, &vote{allow: true}
	subs := []*Subscription{m.add(a), m.add(b), m.add(c)}

	assert.False(t, m.approveIncoming(ConnectionInfo{ID: bobID}))
	assert.Equal(t, 1, a.asked)
	assert.Equal(t, 1, b.asked)
	assert.Equal(t, 0, c.asked, "refusal should stop the fan-out")

	assert.False(t, m.approveBuddy(BuddyInfo{ID: bobID}))
	assert.Equal(t, 0, c.asked)
	runtime.KeepAlive(subs)
}

func TestNoMonitorsMeansApproval(t *testing.T) {
	var m monitorSet
	assert.True(t, m.approveIncoming(ConnectionInfo{ID: bobID}))
	assert.True(t, m.approveBuddy(BuddyInfo{ID: bobID}))
}

func TestNotificationsReachAllInOrder(t *testing.T) {
	var m monitorSet
	var order []int
	mk := func(i int) *orderMonitor { return &orderMonitor{i: i, order: &order} }
	subs := []*Subscription{m.add(mk(1)), m.add(mk(2)), m.add(mk(3))}

	m.message(Message{BuddyID: bobID, Text: "x"})
	assert.Equal(t, []int{1, 2, 3}, order)
	runtime.KeepAlive(subs)
}

type orderMonitor struct {
	recorder
	i     int
	order *[]int
}

func (o *orderMonitor) OnIncomingMessage(Message) { *o.order = append(*o.order, o.i) }

func TestMonitorsAreHeldWeakly(t *testing.T) {
	var m monitorSet
	func() {
		m.add(&recorder{})
		m.add(&recorder{})
	}()
	keep := m.add(&recorder{})
	require.Equal(t, 3, m.len())

	require.Eventually(t, func() bool {
		runtime.GC()
		return len(m.live()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, m.len(), "dead handles should be compacted")
	runtime.KeepAlive(keep)
}

func TestCancelRemovesMonitor(t *testing.T) {
	var m monitorSet
	r := &recorder{}
	s := m.add(r)
	other := m.add(&recorder{})
	s.Cancel()

	m.event(Event{BuddyID: bobID, Type: EventPeerRemoved})
	assert.False(t, r.HasEvent(bobID, EventPeerRemoved))
	assert.Equal(t, 1, m.len())
	runtime.KeepAlive(other)
}

func TestDroppedGatekeeperStopsRefusing(t *testing.T) {
	var m monitorSet
	func() {
		m.add(&vote{allow: false})
	}()

	require.Eventually(t, func() bool {
		runtime.GC()
		return m.approveIncoming(ConnectionInfo{ID: bobID})
	}, 2*time.Second, 10*time.Millisecond, "collected monitor still consulted")
	assert.Zero(t, m.len())
}
