package p2p

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
)

const (
	quicStreamWait = 10 * time.Second
	quicLinger     = 10 * time.Second
)

// QUICTransport runs each transfer on the first stream of its own QUIC
// connection.
type QUICTransport struct {
	// DialTimeout bounds the handshake. Zero means no timeout.
	DialTimeout time.Duration

	tlsConfig *tls.Config
}

// NewQUICTransport returns a QUIC transport with a fresh self-signed
// certificate for its listener side.
func NewQUICTransport(dialTimeout time.Duration) (*QUICTransport, error) {
	tlsConfig, err := GenerateTLSConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to generate TLS config: %w", err)
	}
	return &QUICTransport{DialTimeout: dialTimeout, tlsConfig: tlsConfig}, nil
}

func (t *QUICTransport) Listen(addr string) (net.Listener, error) {
	ln, err := quic.ListenAddr(addr, t.tlsConfig, nil)
	if err != nil {
		return nil, err
	}
	l := &quicListener{
		ln:    ln,
		conns: make(chan net.Conn),
		done:  make(chan struct{}),
	}
	go l.acceptLoop()
	return l, nil
}

func (t *QUICTransport) Dial(ctx context.Context, addr string) (net.Conn, error) {
	if t.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.DialTimeout)
		defer cancel()
	}
	conn, err := quic.DialAddr(ctx, addr, clientTLSConfig(), nil)
	if err != nil {
		return nil, err
	}
	str, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "")
		return nil, err
	}
	return &streamConn{Stream: str, conn: conn}, nil
}

// quicListener adapts a QUIC listener to net.Listener by accepting the first
// stream of every incoming connection.
type quicListener struct {
	ln    *quic.Listener
	conns chan net.Conn
	done  chan struct{}
	once  sync.Once
}

func (l *quicListener) acceptLoop() {
	for {
		conn, err := l.ln.Accept(context.Background())
		if err != nil {
			l.Close()
			return
		}
		go l.acceptStream(conn)
	}
}

func (l *quicListener) acceptStream(conn *quic.Conn) {
	ctx, cancel := context.WithTimeout(conn.Context(), quicStreamWait)
	defer cancel()

	str, err := conn.AcceptStream(ctx)
	if err != nil {
		conn.CloseWithError(0, "")
		return
	}
	sc := &streamConn{Stream: str, conn: conn, responder: true}
	select {
	case l.conns <- sc:
	case <-l.done:
		sc.Close()
	}
}

func (l *quicListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *quicListener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		err = l.ln.Close()
	})
	return err
}

func (l *quicListener) Addr() net.Addr {
	return l.ln.Addr()
}

// streamConn is a net.Conn over one QUIC stream. Closing it closes the
// whole connection.
type streamConn struct {
	*quic.Stream
	conn *quic.Conn
	// responder is set on the accepting side, which waits for the dialer to
	// hang up so buffered data is not discarded.
	responder bool
}

func (c *streamConn) Close() error {
	err := c.Stream.Close()
	if c.responder {
		select {
		case <-c.conn.Context().Done():
		case <-time.After(quicLinger):
		}
	}
	c.conn.CloseWithError(0, "")
	return err
}

func (c *streamConn) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *streamConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }
