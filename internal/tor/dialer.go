// Package tor dials TorChat peers through the local Tor SOCKS5 proxy.
//
// A peer id is the first label of its hidden service address, so the peer
// "abcdefghijklmnop" is reached at abcdefghijklmnop.onion:11009. Name
// resolution happens inside Tor; we hand the proxy the onion hostname.
package tor

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"golang.org/x/net/proxy"

	"github.com/Operative-001/torchat/internal/identity"
	"github.com/Operative-001/torchat/internal/transport"
)

const (
	DefaultProxyAddr   = "127.0.0.1:9050"
	DefaultServicePort = 11009
)

// Dialer implements transport.Dialer over Tor.
type Dialer struct {
	ProxyAddr   string // SOCKS5 host:port of the Tor client
	ServicePort int    // port the peers' hidden services listen on
}

// NewDialer returns a Dialer using proxyAddr, or DefaultProxyAddr if empty.
func NewDialer(proxyAddr string, servicePort int) *Dialer {
	if proxyAddr == "" {
		proxyAddr = DefaultProxyAddr
	}
	if servicePort == 0 {
		servicePort = DefaultServicePort
	}
	return &Dialer{ProxyAddr: proxyAddr, ServicePort: servicePort}
}

// Address returns the hidden service address of peerID.
func (d *Dialer) Address(peerID string) string {
	return net.JoinHostPort(peerID+".onion", strconv.Itoa(d.ServicePort))
}

func (d *Dialer) Dial(ctx context.Context, peerID string) (transport.Conn, error) {
	if !identity.ValidID(peerID) {
		return nil, fmt.Errorf("tor: %w: %q", identity.ErrInvalidID, peerID)
	}
	socks, err := proxy.SOCKS5("tcp", d.ProxyAddr, nil, &net.Dialer{})
	if err != nil {
		return nil, fmt.Errorf("tor: proxy %s: %w", d.ProxyAddr, err)
	}
	cd, ok := socks.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("tor: proxy dialer does not support contexts")
	}
	c, err := cd.DialContext(ctx, "tcp", d.Address(peerID))
	if err != nil {
		return nil, fmt.Errorf("tor: dial %s: %w", peerID, err)
	}
	return transport.NewConn(c, "outgoing"), nil
}
