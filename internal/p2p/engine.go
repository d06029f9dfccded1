package p2p

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/rs/zerolog"

	"peershare/internal/common"
	"peershare/internal/protocol"
)

var (
	// ErrNotAvailable is returned by Fetch when the tracker lists no active
	// holder for the file.
	ErrNotAvailable = errors.New("file not available")
	// ErrAllCandidatesFailed is returned by Fetch when every listed holder
	// failed to deliver the file.
	ErrAllCandidatesFailed = errors.New("all candidates failed")
	// ErrNotConnected is returned by tracker operations before Connect.
	ErrNotConnected = errors.New("not connected to tracker")
)

// Config holds the peer settings.
type Config struct {
	// Hostname is the name the peer registers under.
	Hostname string
	// TrackerAddr is the tracker's registry address, host:port.
	TrackerAddr string
	// TransferPort is the port announced to the tracker. Zero announces
	// whatever port the transfer listener bound.
	TransferPort int
	// ListenAddr is the transfer listen address. Empty means all interfaces
	// on TransferPort.
	ListenAddr string
	// ShareDir holds the files this peer serves and downloads into.
	ShareDir string
	// Transport carries the transfer channel. Nil means TCP.
	Transport Transport
	// RateLimit caps upload bandwidth per transfer in bytes per second.
	RateLimit int
	// DialTimeout bounds every outgoing connection attempt.
	DialTimeout time.Duration
	// ConnectRetry is how long Connect keeps retrying the tracker dial. Zero
	// means a single attempt.
	ConnectRetry time.Duration
	Logger       zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.ShareDir == "" {
		c.ShareDir = common.DefaultShareDir
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":" + strconv.Itoa(c.TransferPort)
	}
	if c.Transport == nil {
		c.Transport = &TCPTransport{DialTimeout: c.DialTimeout}
	}
	return c
}

// Engine is a peer: a file server, a downloader and one registry connection
// sharing a share directory.
type Engine struct {
	cfg        Config
	log        zerolog.Logger
	share      *Share
	server     *FileServer
	downloader *Downloader

	mu      sync.Mutex
	tracker *TrackerClient
	port    int
}

// NewEngine prepares a peer. Nothing is bound or dialed until Connect.
func NewEngine(cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()
	if !protocol.ValidHostname(cfg.Hostname) {
		return nil, fmt.Errorf("invalid hostname %q", cfg.Hostname)
	}
	if cfg.TransferPort < 0 || cfg.TransferPort > 65535 {
		return nil, fmt.Errorf("invalid transfer port %d", cfg.TransferPort)
	}

	share, err := NewShare(cfg.ShareDir)
	if err != nil {
		return nil, err
	}
	log := cfg.Logger.With().Str("hostname", cfg.Hostname).Logger()
	return &Engine{
		cfg:   cfg,
		log:   log,
		share: share,
		server: NewFileServer(share, ServerConfig{
			Transport: cfg.Transport,
			RateLimit: cfg.RateLimit,
			Logger:    log,
		}),
		downloader: NewDownloader(share, cfg.Transport, log),
	}, nil
}

// Connect starts the transfer listener, registers with the tracker and
// announces every file already in the share directory. Announce failures
// are logged and skipped.
func (e *Engine) Connect(ctx context.Context) error {
	if err := e.server.Listen(e.cfg.ListenAddr); err != nil {
		return err
	}
	go func() {
		if err := e.server.Serve(); err != nil {
			e.log.Error().Err(err).Msg("transfer server stopped")
		}
	}()

	port := e.cfg.TransferPort
	if port == 0 {
		p, err := boundPort(e.server.Addr())
		if err != nil {
			e.server.Close()
			return err
		}
		port = p
	}

	tc, err := e.dialTracker(ctx)
	if err != nil {
		e.server.Close()
		return fmt.Errorf("connect to tracker %s: %w", e.cfg.TrackerAddr, err)
	}
	if err := tc.Register(e.cfg.Hostname, port); err != nil {
		tc.Close()
		e.server.Close()
		return err
	}
	e.log.Info().Str("tracker", e.cfg.TrackerAddr).Int("port", port).Msg("registered")

	e.mu.Lock()
	e.tracker = tc
	e.port = port
	e.mu.Unlock()

	e.announceAll()
	return nil
}

func (e *Engine) dialTracker(ctx context.Context) (*TrackerClient, error) {
	var tc *TrackerClient
	op := func() error {
		c, err := DialTracker(ctx, e.cfg.TrackerAddr, e.cfg.DialTimeout)
		if err != nil {
			return err
		}
		tc = c
		return nil
	}
	if e.cfg.ConnectRetry <= 0 {
		if err := op(); err != nil {
			return nil, err
		}
		return tc, nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = e.cfg.ConnectRetry
	notify := func(err error, wait time.Duration) {
		e.log.Warn().Err(err).Dur("retry_in", wait).Msg("tracker unreachable")
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, err
	}
	return tc, nil
}

func boundPort(addr net.Addr) (int, error) {
	_, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(port)
}

func (e *Engine) announceAll() {
	files, err := e.share.List()
	if err != nil {
		e.log.Warn().Err(err).Msg("could not list share directory")
		return
	}
	for _, f := range files {
		if !protocol.ValidFilename(f.Name) {
			e.log.Warn().Str("file", f.Name).Msg("skipping file with unshareable name")
			continue
		}
		if err := e.Announce(f.Name); err != nil {
			e.log.Warn().Err(err).Str("file", f.Name).Msg("auto-publish failed")
			continue
		}
		e.log.Info().Str("file", f.Name).Msg("auto-published")
	}
}

func (e *Engine) trackerClient() (*TrackerClient, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tracker == nil {
		return nil, ErrNotConnected
	}
	return e.tracker, nil
}

// Publish places the file at localPath in the share directory as sharedName
// and announces it.
func (e *Engine) Publish(localPath, sharedName string) error {
	if err := e.share.Import(localPath, sharedName); err != nil {
		return err
	}
	return e.Announce(sharedName)
}

// Announce tells the tracker this peer holds name.
func (e *Engine) Announce(name string) error {
	tc, err := e.trackerClient()
	if err != nil {
		return err
	}
	return tc.Publish(name, e.cfg.Hostname)
}

// FetchPeers returns the active holders of filename in tracker order.
func (e *Engine) FetchPeers(filename string) ([]protocol.PeerEntry, error) {
	tc, err := e.trackerClient()
	if err != nil {
		return nil, err
	}
	return tc.Fetch(filename)
}

// DownloadFrom transfers filename from the peer at ip:port into the share
// directory.
func (e *Engine) DownloadFrom(ctx context.Context, ip string, port int, filename string, progress ProgressFunc) error {
	addr := net.JoinHostPort(ip, strconv.Itoa(port))
	_, err := e.downloader.Download(ctx, addr, filename, progress)
	return err
}

// Fetch asks the tracker once for the holders of filename and tries them in
// order until one delivers the whole file. It returns the holder that did.
// Entries for this peer's own hostname are skipped.
func (e *Engine) Fetch(ctx context.Context, filename string, progress ProgressFunc) (protocol.PeerEntry, error) {
	peers, err := e.FetchPeers(filename)
	if errors.Is(err, ErrNotFound) {
		return protocol.PeerEntry{}, fmt.Errorf("%s: %w", filename, ErrNotAvailable)
	}
	if err != nil {
		return protocol.PeerEntry{}, err
	}

	errs := []error{ErrAllCandidatesFailed}
	for _, p := range peers {
		if p.Hostname == e.cfg.Hostname {
			e.log.Debug().Str("file", filename).Msg("skipping own entry")
			continue
		}
		if _, err := e.downloader.Download(ctx, p.Addr(), filename, progress); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Hostname, err))
			continue
		}
		return p, nil
	}
	if len(errs) == 1 {
		return protocol.PeerEntry{}, fmt.Errorf("%s: %w", filename, ErrNotAvailable)
	}
	return protocol.PeerEntry{}, errors.Join(errs...)
}

// ListClients returns the hostnames of active peers.
func (e *Engine) ListClients() ([]string, error) {
	tc, err := e.trackerClient()
	if err != nil {
		return nil, err
	}
	return tc.ListClients()
}

// FilesOf returns the files hostname holds, as the tracker knows them.
func (e *Engine) FilesOf(hostname string) ([]protocol.FileEntry, error) {
	tc, err := e.trackerClient()
	if err != nil {
		return nil, err
	}
	return tc.DiscoverClient(hostname)
}

// Close stops the transfer listener and drops the registry connection.
// Transfers in flight end when their connections do.
func (e *Engine) Close() error {
	err := e.server.Close()
	e.mu.Lock()
	tc := e.tracker
	e.tracker = nil
	e.mu.Unlock()
	if tc != nil {
		if cerr := tc.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Hostname returns the name the peer registers under.
func (e *Engine) Hostname() string {
	return e.cfg.Hostname
}

// Port returns the announced transfer port, or zero before Connect.
func (e *Engine) Port() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.port
}

// Share returns the peer's share directory.
func (e *Engine) Share() *Share {
	return e.share
}
