package transport

import (
	"context"
	"fmt"
	"io"
	"sync"
)

const memoryQueueDepth = 1024

// MemoryConn is an in-process Conn for tests. Create pairs with Pipe.
type MemoryConn struct {
	name   string
	in     chan string
	closed chan struct{}
	once   sync.Once
	peer   *MemoryConn
}

// Pipe returns two connected ends. Lines written on one are read on the other.
func Pipe(nameA, nameB string) (*MemoryConn, *MemoryConn) {
	a := &MemoryConn{name: nameA, in: make(chan string, memoryQueueDepth), closed: make(chan struct{})}
	b := &MemoryConn{name: nameB, in: make(chan string, memoryQueueDepth), closed: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

func (c *MemoryConn) Name() string { return c.name }

func (c *MemoryConn) ReadLine() (string, error) {
	select {
	case <-c.closed:
		return "", ErrClosed
	default:
	}
	select {
	case line := <-c.in:
		return line, nil
	case <-c.closed:
		return "", ErrClosed
	case <-c.peer.closed:
		// Deliver whatever the peer wrote before closing.
		select {
		case line := <-c.in:
			return line, nil
		default:
			return "", io.EOF
		}
	}
}

func (c *MemoryConn) WriteLine(line string) (int, error) {
	if !c.IsConnected() {
		return 0, ErrClosed
	}
	select {
	case c.peer.in <- line:
		return len(line) + 1, nil
	case <-c.closed:
		return 0, ErrClosed
	case <-c.peer.closed:
		return 0, io.ErrClosedPipe
	}
}

func (c *MemoryConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *MemoryConn) IsConnected() bool {
	select {
	case <-c.closed:
		return false
	case <-c.peer.closed:
		return false
	default:
		return true
	}
}

// Network is an in-process registry of listeners keyed by peer id.
// It implements Dialer.
type Network struct {
	mu        sync.Mutex
	listeners map[string]*MemoryListener
	seq       int
}

func NewNetwork() *Network {
	return &Network{listeners: make(map[string]*MemoryListener)}
}

// Listen registers a listener for id.
func (n *Network) Listen(id string) (*MemoryListener, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.listeners[id]; ok {
		return nil, fmt.Errorf("memory transport: %q already listening", id)
	}
	l := &MemoryListener{
		net:    n,
		id:     id,
		accept: make(chan Conn, 16),
		closed: make(chan struct{}),
	}
	n.listeners[id] = l
	return l, nil
}

// Dial connects to the listener registered for peerID.
func (n *Network) Dial(ctx context.Context, peerID string) (Conn, error) {
	n.mu.Lock()
	l, ok := n.listeners[peerID]
	n.seq++
	seq := n.seq
	n.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("memory transport: no listener for %q", peerID)
	}

	local, remote := Pipe(fmt.Sprintf("outgoing/mem-%d", seq), fmt.Sprintf("incoming/mem-%d", seq))
	select {
	case l.accept <- remote:
		return local, nil
	case <-l.closed:
		return nil, fmt.Errorf("memory transport: %q stopped listening", peerID)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// MemoryListener is the accepting side of a Network registration.
type MemoryListener struct {
	net    *Network
	id     string
	accept chan Conn
	closed chan struct{}
	once   sync.Once
}

func (l *MemoryListener) Accept() (Conn, error) {
	select {
	case c := <-l.accept:
		return c, nil
	case <-l.closed:
		return nil, ErrClosed
	}
}

func (l *MemoryListener) Close() error {
	l.once.Do(func() {
		close(l.closed)
		l.net.mu.Lock()
		delete(l.net.listeners, l.id)
		l.net.mu.Unlock()
	})
	return nil
}

func (l *MemoryListener) Addr() string { return "mem:" + l.id }
