package p2p

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"peershare/internal/protocol"
	"peershare/internal/tracker"
)

func startTracker(t *testing.T) *tracker.Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := tracker.NewServer(tracker.NewRegistry(), tracker.Config{Logger: zerolog.Nop()})
	done := make(chan error, 1)
	go func() { done <- s.Serve(ln) }()
	t.Cleanup(func() {
		s.Close()
		<-done
	})
	for s.Addr() == nil {
		time.Sleep(time.Millisecond)
	}
	return s
}

func newPeer(t *testing.T, trackerAddr, hostname string, files map[string][]byte) *Engine {
	t.Helper()
	dir := t.TempDir()
	for name, data := range files {
		writeFile(t, dir, name, data)
	}
	e, err := NewEngine(Config{
		Hostname:    hostname,
		TrackerAddr: trackerAddr,
		ListenAddr:  "127.0.0.1:0",
		ShareDir:    dir,
		DialTimeout: time.Second,
		Logger:      zerolog.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Connect(context.Background()); err != nil {
		t.Fatalf("Connect(%s) error = %v", hostname, err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func deadPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

var tenBytes = []byte("0123456789")

func TestScenarioPublishAndFetch(t *testing.T) {
	tr := startTracker(t)
	addr := tr.Addr().String()
	alice := newPeer(t, addr, "alice", map[string][]byte{"a.txt": tenBytes})
	bob := newPeer(t, addr, "bob", nil)

	if err := alice.Publish("a.txt", "a.txt"); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	peers, err := bob.FetchPeers("a.txt")
	if err != nil {
		t.Fatal(err)
	}
	want := []protocol.PeerEntry{{IP: "127.0.0.1", Port: alice.Port(), Hostname: "alice", Owner: true}}
	if !reflect.DeepEqual(peers, want) {
		t.Errorf("FetchPeers() = %v, want %v", peers, want)
	}
}

func TestScenarioDownloadAndReannounce(t *testing.T) {
	tr := startTracker(t)
	addr := tr.Addr().String()
	alice := newPeer(t, addr, "alice", map[string][]byte{"a.txt": tenBytes})
	bob := newPeer(t, addr, "bob", nil)

	if err := bob.DownloadFrom(context.Background(), "127.0.0.1", alice.Port(), "a.txt", nil); err != nil {
		t.Fatalf("DownloadFrom() error = %v", err)
	}
	got, err := os.ReadFile(filepath.Join(bob.Share().Dir(), "a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, tenBytes) {
		t.Errorf("downloaded %q, want %q", got, tenBytes)
	}

	if err := bob.Announce("a.txt"); err != nil {
		t.Fatal(err)
	}
	peers, err := alice.FetchPeers("a.txt")
	if err != nil {
		t.Fatal(err)
	}
	want := []protocol.PeerEntry{
		{IP: "127.0.0.1", Port: alice.Port(), Hostname: "alice", Owner: true},
		{IP: "127.0.0.1", Port: bob.Port(), Hostname: "bob", Owner: false},
	}
	if !reflect.DeepEqual(peers, want) {
		t.Errorf("FetchPeers() = %v, want %v", peers, want)
	}
}

func TestScenarioFetchSkipsDeadCandidate(t *testing.T) {
	tr := startTracker(t)
	addr := tr.Addr().String()

	// p1 stays registered but nothing listens on its transfer port.
	p1, err := DialTracker(context.Background(), addr, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer p1.Close()
	if err := p1.Register("p1", deadPort(t)); err != nil {
		t.Fatal(err)
	}
	if err := p1.Publish("c.txt", "p1"); err != nil {
		t.Fatal(err)
	}

	p2 := newPeer(t, addr, "p2", map[string][]byte{"c.txt": tenBytes})
	bob := newPeer(t, addr, "bob", nil)

	peers, err := bob.FetchPeers("c.txt")
	if err != nil || len(peers) != 2 || peers[0].Hostname != "p1" {
		t.Fatalf("FetchPeers() = %v, %v; want p1 first", peers, err)
	}

	from, err := bob.Fetch(context.Background(), "c.txt", nil)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if from.Hostname != "p2" || from.Port != p2.Port() {
		t.Errorf("Fetch() used %v, want p2", from)
	}
	if got, _ := os.ReadFile(filepath.Join(bob.Share().Dir(), "c.txt")); !bytes.Equal(got, tenBytes) {
		t.Errorf("fetched %q", got)
	}
}

func TestFetchFailures(t *testing.T) {
	tr := startTracker(t)
	addr := tr.Addr().String()

	p1, err := DialTracker(context.Background(), addr, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer p1.Close()
	if err := p1.Register("p1", deadPort(t)); err != nil {
		t.Fatal(err)
	}
	if err := p1.Publish("dead.txt", "p1"); err != nil {
		t.Fatal(err)
	}

	bob := newPeer(t, addr, "bob", nil)

	if _, err := bob.Fetch(context.Background(), "nothing.txt", nil); !errors.Is(err, ErrNotAvailable) {
		t.Errorf("Fetch() of unknown file error = %v, want ErrNotAvailable", err)
	}
	if _, err := bob.Fetch(context.Background(), "dead.txt", nil); !errors.Is(err, ErrAllCandidatesFailed) {
		t.Errorf("Fetch() with dead holder error = %v, want ErrAllCandidatesFailed", err)
	}
	if bob.Share().Has("dead.txt") {
		t.Error("failed fetch left a file behind")
	}
}

func TestScenarioDiscoverClient(t *testing.T) {
	tr := startTracker(t)
	addr := tr.Addr().String()
	alice := newPeer(t, addr, "alice", nil)

	if _, err := alice.FilesOf("ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FilesOf(ghost) error = %v, want ErrNotFound", err)
	}
	files, err := alice.FilesOf("alice")
	if err != nil || len(files) != 0 {
		t.Errorf("FilesOf(alice) = %v, %v; want empty success", files, err)
	}

	src := writeFile(t, t.TempDir(), "notes.txt", []byte("n"))
	if err := alice.Publish(src, "notes.txt"); err != nil {
		t.Fatal(err)
	}
	files, err = alice.FilesOf("alice")
	want := []protocol.FileEntry{{Filename: "notes.txt", Owner: true}}
	if err != nil || !reflect.DeepEqual(files, want) {
		t.Errorf("FilesOf(alice) = %v, %v; want %v", files, err, want)
	}
}

func TestConnectAutoPublishes(t *testing.T) {
	tr := startTracker(t)
	alice := newPeer(t, tr.Addr().String(), "alice", map[string][]byte{
		"a.txt":     tenBytes,
		"b.txt":     []byte("b"),
		"has space": []byte("skipped"),
	})

	files, err := alice.FilesOf("alice")
	if err != nil {
		t.Fatal(err)
	}
	want := []protocol.FileEntry{{Filename: "a.txt", Owner: true}, {Filename: "b.txt", Owner: true}}
	if !reflect.DeepEqual(files, want) {
		t.Errorf("FilesOf(alice) = %v, want %v", files, want)
	}
}

func TestConnectDuplicateHostname(t *testing.T) {
	tr := startTracker(t)
	addr := tr.Addr().String()
	newPeer(t, addr, "alice", nil)

	e, err := NewEngine(Config{
		Hostname:    "alice",
		TrackerAddr: addr,
		ListenAddr:  "127.0.0.1:0",
		ShareDir:    t.TempDir(),
		Logger:      zerolog.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	err = e.Connect(context.Background())
	var rej *RejectError
	if !errors.As(err, &rej) || rej.Reason != protocol.ReasonHostnameExists {
		t.Fatalf("Connect() error = %v, want %q rejection", err, protocol.ReasonHostnameExists)
	}
	if _, err := e.ListClients(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("ListClients() after failed connect error = %v", err)
	}
}

func TestConnectRetriesUnreachableTracker(t *testing.T) {
	e, err := NewEngine(Config{
		Hostname:     "alice",
		TrackerAddr:  "127.0.0.1:" + strconv.Itoa(deadPort(t)),
		ListenAddr:   "127.0.0.1:0",
		ShareDir:     t.TempDir(),
		DialTimeout:  100 * time.Millisecond,
		ConnectRetry: 300 * time.Millisecond,
		Logger:       zerolog.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Connect(context.Background()); err == nil {
		e.Close()
		t.Fatal("Connect() to a dead tracker succeeded")
	}
}

func TestCloseDeactivatesPeer(t *testing.T) {
	tr := startTracker(t)
	addr := tr.Addr().String()
	alice := newPeer(t, addr, "alice", nil)
	bob := newPeer(t, addr, "bob", nil)

	clients, err := alice.ListClients()
	if err != nil || !reflect.DeepEqual(clients, []string{"alice", "bob"}) {
		t.Fatalf("ListClients() = %v, %v", clients, err)
	}

	bob.Close()
	deadline := time.Now().Add(5 * time.Second)
	for {
		clients, err = alice.ListClients()
		if err != nil {
			t.Fatal(err)
		}
		if reflect.DeepEqual(clients, []string{"alice"}) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("ListClients() = %v after bob closed", clients)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNewEngineValidates(t *testing.T) {
	tests := []Config{
		{Hostname: ""},
		{Hostname: "a:b"},
		{Hostname: "ok", TransferPort: 70000},
	}
	for _, cfg := range tests {
		cfg.ShareDir = t.TempDir()
		if _, err := NewEngine(cfg); err == nil {
			t.Errorf("NewEngine(%+v) succeeded", cfg)
		}
	}
}

func TestFetchSkipsOwnEntry(t *testing.T) {
	tr := startTracker(t)
	addr := tr.Addr().String()
	alice := newPeer(t, addr, "alice", map[string][]byte{
		"mine.txt":   tenBytes,
		"shared.txt": tenBytes,
	})
	bob := newPeer(t, addr, "bob", map[string][]byte{"shared.txt": tenBytes})

	// alice is the only holder: her own copy is never downloaded over itself.
	if _, err := alice.Fetch(context.Background(), "mine.txt", nil); !errors.Is(err, ErrNotAvailable) {
		t.Errorf("Fetch() of own file error = %v, want ErrNotAvailable", err)
	}
	if got, _ := os.ReadFile(filepath.Join(alice.Share().Dir(), "mine.txt")); !bytes.Equal(got, tenBytes) {
		t.Errorf("own file changed to %q", got)
	}

	// alice is listed first; the fetch moves straight on to bob.
	peers, err := alice.FetchPeers("shared.txt")
	if err != nil || len(peers) != 2 || peers[0].Hostname != "alice" {
		t.Fatalf("FetchPeers() = %v, %v; want alice first", peers, err)
	}
	from, err := alice.Fetch(context.Background(), "shared.txt", nil)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if from.Hostname != "bob" || from.Port != bob.Port() {
		t.Errorf("Fetch() used %v, want bob", from)
	}
}
