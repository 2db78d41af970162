package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// TCPConn implements Conn over a net.Conn.
type TCPConn struct {
	name string
	conn net.Conn
	r    *bufio.Reader

	wmu    sync.Mutex
	closed atomic.Bool
	once   sync.Once
}

// NewConn wraps c. The name is prefixed to a fresh uuid.
func NewConn(c net.Conn, prefix string) *TCPConn {
	return &TCPConn{
		name: prefix + "/" + uuid.NewString(),
		conn: c,
		r:    bufio.NewReaderSize(c, 4096),
	}
}

func (c *TCPConn) Name() string { return c.name }

func (c *TCPConn) ReadLine() (string, error) {
	var line []byte
	for {
		chunk, err := c.r.ReadSlice('\n')
		if len(line)+len(chunk) > MaxLineLength+1 {
			c.Close()
			return "", ErrLineTooLong
		}
		line = append(line, chunk...)
		if err == nil {
			return string(line[:len(line)-1]), nil
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if c.closed.Load() {
			return "", ErrClosed
		}
		return "", err
	}
}

func (c *TCPConn) WriteLine(line string) (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.conn.Write([]byte(line + "\n"))
}

func (c *TCPConn) Close() error {
	var err error
	c.once.Do(func() {
		c.closed.Store(true)
		err = c.conn.Close()
	})
	return err
}

func (c *TCPConn) IsConnected() bool { return !c.closed.Load() }

// RemoteAddr exposes the underlying peer address for logging.
func (c *TCPConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// TCPListener implements Listener over a net.Listener.
type TCPListener struct {
	ln net.Listener
}

// ListenTCP binds addr.
func ListenTCP(addr string) (*TCPListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &TCPListener{ln: ln}, nil
}

func (l *TCPListener) Accept() (Conn, error) {
	c, err := l.ln.Accept()
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, ErrClosed
		}
		return nil, err
	}
	return NewConn(c, "incoming"), nil
}

func (l *TCPListener) Close() error { return l.ln.Close() }

func (l *TCPListener) Addr() string { return l.ln.Addr().String() }

// StaticDialer dials peers at fixed TCP addresses, bypassing Tor. Used for
// tests and for peers reachable on a trusted network.
type StaticDialer struct {
	mu    sync.RWMutex
	addrs map[string]string
}

func NewStaticDialer() *StaticDialer {
	return &StaticDialer{addrs: make(map[string]string)}
}

// Set maps peerID to a host:port address.
func (d *StaticDialer) Set(peerID, addr string) {
	d.mu.Lock()
	d.addrs[peerID] = addr
	d.mu.Unlock()
}

func (d *StaticDialer) Dial(ctx context.Context, peerID string) (Conn, error) {
	d.mu.RLock()
	addr, ok := d.addrs[peerID]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("transport: no address for peer %q", peerID)
	}
	var nd net.Dialer
	c, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewConn(c, "outgoing"), nil
}
