package p2p

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Transport names accepted by NewTransport.
const (
	TransportTCP  = "tcp"
	TransportQUIC = "quic"
)

// Transport carries transfer-channel connections. Both sides of a transfer
// must use the same transport; the tracker only knows the port.
type Transport interface {
	Listen(addr string) (net.Listener, error)
	Dial(ctx context.Context, addr string) (net.Conn, error)
}

// NewTransport returns the transport registered under name.
func NewTransport(name string, dialTimeout time.Duration) (Transport, error) {
	switch name {
	case TransportTCP, "":
		return &TCPTransport{DialTimeout: dialTimeout}, nil
	case TransportQUIC:
		return NewQUICTransport(dialTimeout)
	default:
		return nil, fmt.Errorf("unknown transport %q", name)
	}
}

// TCPTransport runs the transfer channel over plain TCP connections.
type TCPTransport struct {
	// DialTimeout bounds connection setup. Zero means no timeout.
	DialTimeout time.Duration
}

func (t *TCPTransport) Listen(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

func (t *TCPTransport) Dial(ctx context.Context, addr string) (net.Conn, error) {
	d := net.Dialer{Timeout: t.DialTimeout}
	return d.DialContext(ctx, "tcp", addr)
}
