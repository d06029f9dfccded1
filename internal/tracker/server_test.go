package tracker

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"peershare/internal/protocol"
)

func startServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	cfg.Logger = zerolog.Nop()
	s := NewServer(NewRegistry(), cfg)

	done := make(chan error, 1)
	go func() { done <- s.Serve(ln) }()
	t.Cleanup(func() {
		s.Close()
		if err := <-done; !errors.Is(err, ErrServerClosed) {
			t.Errorf("Serve() returned %v", err)
		}
	})

	for s.Addr() == nil {
		time.Sleep(time.Millisecond)
	}
	return s
}

type testClient struct {
	t    *testing.T
	conn net.Conn
	pc   *protocol.Conn
}

func dial(t *testing.T, s *Server) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn, pc: protocol.NewConn(conn)}
}

func (c *testClient) do(line string) string {
	c.t.Helper()
	if err := c.pc.WriteLine(line); err != nil {
		c.t.Fatalf("write %q: %v", line, err)
	}
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	reply, err := c.pc.ReadLine()
	if err != nil {
		c.t.Fatalf("read reply to %q: %v", line, err)
	}
	return reply
}

func (c *testClient) expect(line, want string) {
	c.t.Helper()
	if got := c.do(line); got != want {
		c.t.Errorf("%q -> %q, want %q", line, got, want)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServerScenarioA(t *testing.T) {
	s := startServer(t, Config{})

	alice := dial(t, s)
	alice.expect("REGISTER alice 9001", "REGISTER_SUCCESS")
	alice.expect("PUBLISH a.txt alice", "PUBLISH_SUCCESS")

	bob := dial(t, s)
	bob.expect("REGISTER bob 9002", "REGISTER_SUCCESS")
	bob.expect("FETCH a.txt", "FETCH_OK 127.0.0.1:9001:alice:1")
	alice.expect("FETCH a.txt", "FETCH_OK 127.0.0.1:9001:alice:1")

	bob.expect("PUBLISH a.txt bob", "PUBLISH_SUCCESS")
	bob.expect("FETCH a.txt", "FETCH_OK 127.0.0.1:9001:alice:1 127.0.0.1:9002:bob:0")
	bob.expect("DISCOVER_CLIENT bob", "DISCOVER_CLIENT_OK a.txt:0")
	bob.expect("LIST_CLIENTS", "LIST_CLIENTS_OK alice bob")
}

func TestServerRejections(t *testing.T) {
	s := startServer(t, Config{})
	c := dial(t, s)

	tests := []struct {
		request string
		want    string
	}{
		{"PUBLISH a.txt ghost", "PUBLISH_FAIL Client not registered"},
		{"REGISTER alice", "REGISTER_FAIL Missing arguments"},
		{"REGISTER alice port", "REGISTER_FAIL Invalid port"},
		{"REGISTER alice 0", "REGISTER_FAIL Invalid port"},
		{"REGISTER a:b 9001", "REGISTER_FAIL Invalid hostname"},
		{"REGISTER alice 9001", "REGISTER_SUCCESS"},
		{"REGISTER alice 9005", "REGISTER_FAIL Hostname already exists"},
		{"PUBLISH a.txt", "PUBLISH_FAIL Missing arguments"},
		{"PUBLISH ../x alice", "PUBLISH_FAIL Invalid filename"},
		{"FETCH", "FETCH_NOT_FOUND"},
		{"FETCH missing.txt", "FETCH_NOT_FOUND"},
		{"DISCOVER_CLIENT", "DISCOVER_CLIENT_NOT_FOUND"},
		{"DISCOVER_CLIENT ghost", "DISCOVER_CLIENT_NOT_FOUND"},
		{"DISCOVER_CLIENT alice", "DISCOVER_CLIENT_OK"},
		{"HELLO", "UNKNOWN_COMMAND"},
		{"register alice 9001", "UNKNOWN_COMMAND"},
	}
	for _, tt := range tests {
		c.expect(tt.request, tt.want)
	}
}

func TestServerBlankLinesIgnored(t *testing.T) {
	s := startServer(t, Config{})
	c := dial(t, s)
	if err := c.pc.WriteLine(""); err != nil {
		t.Fatal(err)
	}
	c.expect("LIST_CLIENTS", "LIST_CLIENTS_OK")
}

func TestServerDisconnectMarksInactive(t *testing.T) {
	s := startServer(t, Config{})

	alice := dial(t, s)
	alice.expect("REGISTER alice 9001", "REGISTER_SUCCESS")
	alice.expect("PUBLISH a.txt alice", "PUBLISH_SUCCESS")

	bob := dial(t, s)
	bob.expect("REGISTER bob 9002", "REGISTER_SUCCESS")
	bob.expect("PUBLISH a.txt bob", "PUBLISH_SUCCESS")

	alice.conn.Close()
	waitFor(t, func() bool {
		p, _ := s.Registry().Peer("alice")
		return !p.Active
	})

	carol := dial(t, s)
	carol.expect("LIST_CLIENTS", "LIST_CLIENTS_OK bob")
	carol.expect("FETCH a.txt", "FETCH_OK 127.0.0.1:9002:bob:0")
	carol.expect("DISCOVER_CLIENT alice", "DISCOVER_CLIENT_OK a.txt:1")
	carol.expect("REGISTER alice 9009", "REGISTER_FAIL Hostname already exists")

	bob.conn.Close()
	waitFor(t, func() bool {
		p, _ := s.Registry().Peer("bob")
		return !p.Active
	})
	carol.expect("FETCH a.txt", "FETCH_NOT_FOUND")
}

func TestServerOnlyRegisteringConnectionReleasesHostname(t *testing.T) {
	s := startServer(t, Config{})

	alice := dial(t, s)
	alice.expect("REGISTER alice 9001", "REGISTER_SUCCESS")

	// A second connection publishing on alice's behalf must not take her
	// offline when it closes.
	other := dial(t, s)
	other.expect("PUBLISH a.txt alice", "PUBLISH_SUCCESS")
	other.conn.Close()

	time.Sleep(50 * time.Millisecond)
	if p, _ := s.Registry().Peer("alice"); !p.Active {
		t.Fatal("alice went inactive when an unrelated connection closed")
	}
	alice.expect("LIST_CLIENTS", "LIST_CLIENTS_OK alice")
}

func TestServerMaxConns(t *testing.T) {
	s := startServer(t, Config{MaxConns: 1})

	first := dial(t, s)
	first.expect("REGISTER alice 9001", "REGISTER_SUCCESS")

	second := dial(t, s)
	if err := second.pc.WriteLine("LIST_CLIENTS"); err != nil {
		t.Fatal(err)
	}
	second.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, err := second.pc.ReadLine(); err == nil {
		t.Fatal("second connection was served while the first was open")
	}

	first.conn.Close()
	second.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	reply, err := second.pc.ReadLine()
	if err != nil {
		t.Fatalf("second connection not served after first closed: %v", err)
	}
	if reply != "LIST_CLIENTS_OK" && reply != "LIST_CLIENTS_OK alice" {
		t.Errorf("reply = %q", reply)
	}
}
