package p2p

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"peershare/internal/protocol"
)

// ErrNotFound is returned when the tracker answers a lookup with a
// *_NOT_FOUND reply.
var ErrNotFound = errors.New("not found")

// RejectError is a failure reply from the tracker.
type RejectError struct {
	Command string
	Reason  string
}

func (e *RejectError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s rejected", e.Command)
	}
	return fmt.Sprintf("%s rejected: %s", e.Command, e.Reason)
}

// TrackerClient holds one registry connection. Requests are serialized; each
// waits for its single-line reply. After a send or read failure the
// connection is closed and every later request returns that failure.
type TrackerClient struct {
	mu   sync.Mutex
	conn net.Conn
	pc   *protocol.Conn
	err  error
}

// DialTracker connects to the tracker at addr over TCP.
func DialTracker(ctx context.Context, addr string, timeout time.Duration) (*TrackerClient, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewTrackerClient(conn), nil
}

// NewTrackerClient wraps an established registry connection.
func NewTrackerClient(conn net.Conn) *TrackerClient {
	pc := protocol.NewConn(conn)
	pc.SetMaxLineLength(0)
	return &TrackerClient{conn: conn, pc: pc}
}

func (c *TrackerClient) roundTrip(request string) (string, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return "", "", c.err
	}
	if err := c.pc.WriteLine(request); err != nil {
		return "", "", c.fail(fmt.Errorf("send to tracker: %w", err))
	}
	line, err := c.pc.ReadLine()
	if err != nil {
		return "", "", c.fail(fmt.Errorf("read from tracker: %w", err))
	}
	cmd, rest := protocol.SplitReply(line)
	if cmd == protocol.UnknownCommand {
		keyword, _ := protocol.SplitReply(request)
		return "", "", &RejectError{Command: keyword, Reason: "unknown command"}
	}
	return cmd, rest, nil
}

// fail poisons the client with err. The reply stream can no longer be
// matched to requests, so the connection is dropped.
func (c *TrackerClient) fail(err error) error {
	c.err = err
	c.conn.Close()
	return err
}

// Register announces hostname with the transfer port it listens on.
func (c *TrackerClient) Register(hostname string, port int) error {
	cmd, rest, err := c.roundTrip(protocol.RegisterRequest(hostname, port))
	if err != nil {
		return err
	}
	switch cmd {
	case protocol.RegisterSuccess:
		return nil
	case protocol.RegisterFail:
		return &RejectError{Command: protocol.Register, Reason: rest}
	default:
		return unexpected(protocol.Register, cmd)
	}
}

// Publish records hostname as a holder of filename.
func (c *TrackerClient) Publish(filename, hostname string) error {
	cmd, rest, err := c.roundTrip(protocol.PublishRequest(filename, hostname))
	if err != nil {
		return err
	}
	switch cmd {
	case protocol.PublishSuccess:
		return nil
	case protocol.PublishFail:
		return &RejectError{Command: protocol.Publish, Reason: rest}
	default:
		return unexpected(protocol.Publish, cmd)
	}
}

// Fetch returns the active holders of filename, owner-flagged, in the order
// the tracker listed them.
func (c *TrackerClient) Fetch(filename string) ([]protocol.PeerEntry, error) {
	cmd, rest, err := c.roundTrip(protocol.FetchRequest(filename))
	if err != nil {
		return nil, err
	}
	switch cmd {
	case protocol.FetchOK:
		peers, err := protocol.ParsePeerList(rest)
		if err != nil {
			return nil, fmt.Errorf("malformed %s reply: %w", protocol.FetchOK, err)
		}
		if len(peers) == 0 {
			return nil, ErrNotFound
		}
		return peers, nil
	case protocol.FetchNotFound:
		return nil, ErrNotFound
	default:
		return nil, unexpected(protocol.Fetch, cmd)
	}
}

// ListClients returns the hostnames of active peers.
func (c *TrackerClient) ListClients() ([]string, error) {
	cmd, rest, err := c.roundTrip(protocol.ListClientsRequest())
	if err != nil {
		return nil, err
	}
	if cmd != protocol.ListClientsOK {
		return nil, unexpected(protocol.ListClients, cmd)
	}
	return strings.Fields(rest), nil
}

// DiscoverClient returns the files hostname holds.
func (c *TrackerClient) DiscoverClient(hostname string) ([]protocol.FileEntry, error) {
	cmd, rest, err := c.roundTrip(protocol.DiscoverClientRequest(hostname))
	if err != nil {
		return nil, err
	}
	switch cmd {
	case protocol.DiscoverClientOK:
		files, err := protocol.ParseFileList(rest)
		if err != nil {
			return nil, fmt.Errorf("malformed %s reply: %w", protocol.DiscoverClientOK, err)
		}
		return files, nil
	case protocol.DiscoverClientNotFound:
		return nil, ErrNotFound
	default:
		return nil, unexpected(protocol.DiscoverClient, cmd)
	}
}

// Close closes the registry connection. The tracker marks hostnames
// registered on it inactive.
func (c *TrackerClient) Close() error {
	return c.conn.Close()
}

func unexpected(request, reply string) error {
	return fmt.Errorf("unexpected reply to %s: %q", request, reply)
}
