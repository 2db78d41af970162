package engine

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Stats is a snapshot of the engine counters.
type Stats struct {
	IncomingConnections uint64
	OutgoingConnections uint64
	LinesReceived       uint64
	BytesReceived       uint64
	LinesSent           uint64
	BytesSent           uint64
	MessagesReceived    uint64
	MessagesSent        uint64
}

type counters struct {
	incoming, outgoing         atomic.Uint64
	linesReceived, bytesRecv   atomic.Uint64
	linesSent, bytesSent       atomic.Uint64
	messagesRecv, messagesSent atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		IncomingConnections: c.incoming.Load(),
		OutgoingConnections: c.outgoing.Load(),
		LinesReceived:       c.linesReceived.Load(),
		BytesReceived:       c.bytesRecv.Load(),
		LinesSent:           c.linesSent.Load(),
		BytesSent:           c.bytesSent.Load(),
		MessagesReceived:    c.messagesRecv.Load(),
		MessagesSent:        c.messagesSent.Load(),
	}
}

// collectors exposes the counters to Prometheus, keyed by metric name.
func (c *counters) collectors() map[string]prometheus.Collector {
	out := make(map[string]prometheus.Collector)
	counter := func(name, help string, v *atomic.Uint64) {
		out[name] = prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "torchat",
			Subsystem: "engine",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(v.Load()) })
	}
	counter("incoming_connections_total", "Accepted inbound connections.", &c.incoming)
	counter("outgoing_connections_total", "Established outbound connections.", &c.outgoing)
	counter("lines_received_total", "Protocol lines read from peers.", &c.linesReceived)
	counter("bytes_received_total", "Bytes read from peers, delimiters excluded.", &c.bytesRecv)
	counter("lines_sent_total", "Protocol lines written to peers.", &c.linesSent)
	counter("bytes_sent_total", "Bytes written to peers.", &c.bytesSent)
	counter("messages_received_total", "Chat messages received.", &c.messagesRecv)
	counter("messages_sent_total", "Chat messages sent.", &c.messagesSent)
	return out
}
