package tracker

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/net/netutil"

	"peershare/internal/protocol"
)

// ErrServerClosed is returned by Serve after Close.
var ErrServerClosed = errors.New("tracker: server closed")

// Config holds the tracker server settings.
type Config struct {
	// Addr is the registry listen address, e.g. ":8000".
	Addr string
	// MaxConns caps simultaneously open registry connections. Zero means no cap.
	MaxConns int
	// Logger receives one line per connection event and registry change.
	Logger zerolog.Logger
}

// Server accepts registry connections and answers them from a Registry. Each
// connection is served by its own goroutine.
type Server struct {
	registry *Registry
	cfg      Config
	log      zerolog.Logger

	mu     sync.Mutex
	ln     net.Listener
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewServer creates a server backed by registry.
func NewServer(registry *Registry, cfg Config) *Server {
	return &Server{
		registry: registry,
		cfg:      cfg,
		log:      cfg.Logger,
		conns:    make(map[net.Conn]struct{}),
	}
}

// Registry returns the registry the server answers from.
func (s *Server) Registry() *Registry {
	return s.registry
}

// ListenAndServe listens on the configured address and serves until Close.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Close is called.
func (s *Server) Serve(ln net.Listener) error {
	if s.cfg.MaxConns > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConns)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return ErrServerClosed
	}
	s.ln = ln
	s.mu.Unlock()

	s.log.Info().Str("addr", ln.Addr().String()).Msg("tracker listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		if !s.track(conn) {
			conn.Close()
			return ErrServerClosed
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// Addr returns the listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Close stops the acceptor, closes every open registry connection and waits
// for their handlers to return.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var err error
	if s.ln != nil {
		err = s.ln.Close()
	}
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) track(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c net.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()

	ip := remoteIP(conn)
	log := s.log.With().Str("remote", conn.RemoteAddr().String()).Logger()
	log.Info().Msg("new connection")

	// Hostnames successfully registered on this connection go inactive when
	// it ends.
	var registered []string
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("registry handler panicked")
		}
		for _, h := range registered {
			s.registry.Disconnect(h)
			log.Info().Str("hostname", h).Msg("client disconnected")
		}
		conn.Close()
		s.untrack(conn)
	}()

	pc := protocol.NewConn(conn)
	for {
		line, err := pc.ReadLine()
		if err != nil {
			if !errors.Is(err, io.EOF) && !s.isClosed() {
				log.Warn().Err(err).Msg("read failed")
			}
			return
		}

		cmd, args := protocol.Parse(line)
		if cmd == "" {
			continue
		}
		log.Debug().Str("request", line).Msg("received")

		reply, host := s.dispatch(cmd, args, ip, log)
		if host != "" {
			registered = append(registered, host)
		}

		if err := pc.WriteLine(reply); err != nil {
			log.Warn().Err(err).Msg("write failed")
			return
		}
		log.Debug().Str("reply", reply).Msg("sent")
	}
}

// dispatch answers one request. When the request registered a hostname it is
// returned so the connection can release it on close.
func (s *Server) dispatch(cmd string, args []string, ip string, log zerolog.Logger) (string, string) {
	switch cmd {
	case protocol.Register:
		return s.handleRegister(args, ip, log)
	case protocol.Publish:
		return s.handlePublish(args, log), ""
	case protocol.Fetch:
		return s.handleFetch(args), ""
	case protocol.ListClients:
		return protocol.ListClientsReply(s.registry.ListClients()), ""
	case protocol.DiscoverClient:
		return s.handleDiscoverClient(args), ""
	default:
		return protocol.UnknownCommand, ""
	}
}

func (s *Server) handleRegister(args []string, ip string, log zerolog.Logger) (string, string) {
	if len(args) < 2 {
		return protocol.Failure(protocol.RegisterFail, protocol.ReasonMissingArgs), ""
	}
	hostname := args[0]
	if !protocol.ValidHostname(hostname) {
		return protocol.Failure(protocol.RegisterFail, protocol.ReasonInvalidHostname), ""
	}
	port, err := strconv.Atoi(args[1])
	if err != nil || port <= 0 || port > 65535 {
		return protocol.Failure(protocol.RegisterFail, protocol.ReasonInvalidPort), ""
	}

	if err := s.registry.Register(hostname, ip, port); err != nil {
		log.Info().Str("hostname", hostname).Err(err).Msg("registration rejected")
		return protocol.Failure(protocol.RegisterFail, protocol.ReasonHostnameExists), ""
	}
	log.Info().Str("hostname", hostname).Str("ip", ip).Int("port", port).Msg("client registered")
	return protocol.RegisterSuccess, hostname
}

func (s *Server) handlePublish(args []string, log zerolog.Logger) string {
	if len(args) < 2 {
		return protocol.Failure(protocol.PublishFail, protocol.ReasonMissingArgs)
	}
	filename, hostname := args[0], args[1]
	if !protocol.ValidFilename(filename) {
		return protocol.Failure(protocol.PublishFail, protocol.ReasonInvalidFilename)
	}

	created, err := s.registry.Publish(filename, hostname)
	if err != nil {
		return protocol.Failure(protocol.PublishFail, protocol.ReasonNotRegistered)
	}
	log.Info().
		Str("file", filename).
		Str("hostname", hostname).
		Bool("original", created).
		Msg("file published")
	return protocol.PublishSuccess
}

func (s *Server) handleFetch(args []string) string {
	if len(args) < 1 {
		return protocol.FetchNotFound
	}
	peers, err := s.registry.Fetch(args[0])
	if err != nil {
		return protocol.FetchNotFound
	}
	return protocol.FetchReply(peers)
}

func (s *Server) handleDiscoverClient(args []string) string {
	if len(args) < 1 {
		return protocol.DiscoverClientNotFound
	}
	files, err := s.registry.DiscoverClient(args[0])
	if err != nil {
		return protocol.DiscoverClientNotFound
	}
	return protocol.DiscoverClientReply(files)
}

func remoteIP(c net.Conn) string {
	host, _, err := net.SplitHostPort(c.RemoteAddr().String())
	if err != nil {
		return c.RemoteAddr().String()
	}
	return host
}
