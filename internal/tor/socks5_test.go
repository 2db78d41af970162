package tor

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
)

// fakeTor is a minimal SOCKS5 server (RFC 1928, CONNECT only) that routes
// onion hostnames to local addresses, standing in for a Tor client.
type fakeTor struct {
	ln     net.Listener
	routes map[string]string // "<id>.onion:<port>" -> host:port

	mu        sync.Mutex
	requested []string
}

func startFakeTor(t *testing.T, routes map[string]string) *fakeTor {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	f := &fakeTor{ln: ln, routes: routes}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go f.handleConn(conn)
		}
	}()
	return f
}

func (f *fakeTor) Addr() string { return f.ln.Addr().String() }

func (f *fakeTor) Requested() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requested...)
}

func (f *fakeTor) handleConn(conn net.Conn) {
	defer conn.Close()

	if err := socks5Handshake(conn); err != nil {
		return
	}
	host, port, err := readRequest(conn)
	if err != nil {
		writeReply(conn, 0x07) // command not supported
		return
	}
	target := net.JoinHostPort(host, fmt.Sprint(port))
	f.mu.Lock()
	f.requested = append(f.requested, target)
	f.mu.Unlock()

	addr, ok := f.routes[target]
	if !ok {
		writeReply(conn, 0x04) // host unreachable
		return
	}
	upstream, err := net.Dial("tcp", addr)
	if err != nil {
		writeReply(conn, 0x05)
		return
	}
	defer upstream.Close()

	writeReply(conn, 0x00)
	done := make(chan struct{}, 2)
	go func() {
		io.Copy(upstream, conn) //nolint:errcheck
		done <- struct{}{}
	}()
	go func() {
		io.Copy(conn, upstream) //nolint:errcheck
		done <- struct{}{}
	}()
	<-done
}

func socks5Handshake(conn net.Conn) error {
	buf := make([]byte, 2)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return err
	}
	if buf[0] != 0x05 {
		return fmt.Errorf("not SOCKS5")
	}
	methods := make([]byte, int(buf[1]))
	if _, err := io.ReadFull(conn, methods); err != nil {
		return err
	}
	_, err := conn.Write([]byte{0x05, 0x00})
	return err
}

func readRequest(conn net.Conn) (host string, port int, err error) {
	hdr := make([]byte, 4)
	if _, err = io.ReadFull(conn, hdr); err != nil {
		return
	}
	if hdr[0] != 0x05 || hdr[1] != 0x01 {
		err = fmt.Errorf("only CONNECT supported")
		return
	}

	switch hdr[3] {
	case 0x01:
		addr := make([]byte, 4)
		if _, err = io.ReadFull(conn, addr); err != nil {
			return
		}
		host = net.IP(addr).String()
	case 0x03:
		lenBuf := make([]byte, 1)
		if _, err = io.ReadFull(conn, lenBuf); err != nil {
			return
		}
		domain := make([]byte, int(lenBuf[0]))
		if _, err = io.ReadFull(conn, domain); err != nil {
			return
		}
		host = string(domain)
	default:
		err = fmt.Errorf("unsupported address type %d", hdr[3])
		return
	}

	portBuf := make([]byte, 2)
	if _, err = io.ReadFull(conn, portBuf); err != nil {
		return
	}
	port = int(binary.BigEndian.Uint16(portBuf))
	return
}

func writeReply(conn net.Conn, status byte) {
	reply := []byte{0x05, status, 0x00, 0x01, 0, 0, 0, 0, 0, 0}
	conn.Write(reply) //nolint:errcheck
}
