package engine

import (
	"log/slog"
	"sync"

	"github.com/Operative-001/torchat/internal/transport"
)

const sendQueueDepth = 256

// link is one physical connection attached to a peer. Lines are queued by
// handlers under the engine mutex and written by a dedicated goroutine, so
// the order of queued lines is the order on the wire.
type link struct {
	conn transport.Conn
	dir  Direction
	out  chan string
	done chan struct{}
	once sync.Once
}

// newLink must be called with e.mu held.
func (e *Engine) newLink(conn transport.Conn, dir Direction) *link {
	l := &link{
		conn: conn,
		dir:  dir,
		out:  make(chan string, sendQueueDepth),
		done: make(chan struct{}),
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.writeLoop(l)
	}()
	return l
}

// send queues line without blocking. A full queue means the peer stopped
// reading; the connection is closed and the read side tears it down.
func (l *link) send(line string) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.out <- line:
		return true
	default:
		l.close()
		return false
	}
}

func (l *link) close() {
	l.once.Do(func() {
		close(l.done)
		l.conn.Close() //nolint:errcheck
	})
}

func (e *Engine) writeLoop(l *link) {
	log := e.log.With(slog.String("conn", l.conn.Name()))
	for {
		select {
		case <-l.done:
			return
		case line := <-l.out:
			n, err := l.conn.WriteLine(line)
			if err != nil {
				log.Debug("write failed", slog.Any("err", err))
				l.close()
				return
			}
			e.stats.linesSent.Add(1)
			e.stats.bytesSent.Add(uint64(n))
		}
	}
}
