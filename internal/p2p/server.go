package p2p

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"peershare/internal/common"
	"peershare/internal/protocol"
)

// ServerConfig holds the transfer server settings.
type ServerConfig struct {
	// Transport carries the transfer channel. Nil means TCP.
	Transport Transport
	// RateLimit caps upload bandwidth per transfer in bytes per second.
	// Zero means unlimited.
	RateLimit int
	Logger    zerolog.Logger
}

// FileServer is the serving half of a peer. It answers DOWNLOAD requests for
// files in its share directory, one goroutine per connection.
type FileServer struct {
	share     *Share
	transport Transport
	rateLimit int
	log       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup
}

// NewFileServer creates a transfer server for share.
func NewFileServer(share *Share, cfg ServerConfig) *FileServer {
	t := cfg.Transport
	if t == nil {
		t = &TCPTransport{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &FileServer{
		share:     share,
		transport: t,
		rateLimit: cfg.RateLimit,
		log:       cfg.Logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Listen binds the transfer listener. Serve must be called to accept.
func (s *FileServer) Listen(addr string) error {
	ln, err := s.transport.Listen(addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("transfer server listening")
	return nil
}

// Serve accepts transfer connections until Close. Transfers already in
// flight keep running after Serve returns.
func (s *FileServer) Serve() error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return errors.New("transfer server: not listening")
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// Addr returns the bound listener address, or nil before Listen.
func (s *FileServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Close stops accepting new transfers and aborts throttled ones.
func (s *FileServer) Close() error {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}

// Wait blocks until every in-flight transfer handler has returned.
func (s *FileServer) Wait() {
	s.wg.Wait()
}

func (s *FileServer) handleConn(conn net.Conn) {
	defer s.wg.Done()

	log := s.log.With().
		Str("session", uuid.NewString()).
		Str("peer", conn.RemoteAddr().String()).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("transfer handler panicked")
		}
		conn.Close()
	}()

	pc := protocol.NewConn(conn)
	line, err := pc.ReadLine()
	if err != nil {
		log.Debug().Err(err).Msg("no request")
		return
	}

	name, reason := parseDownload(line)
	if reason != "" {
		log.Info().Str("request", line).Str("reason", reason).Msg("request rejected")
		pc.WriteLine(protocol.ErrorReply(reason))
		return
	}
	log = log.With().Str("file", name).Logger()

	f, size, err := s.share.Open(name)
	if err != nil {
		log.Info().Err(err).Msg("request rejected")
		pc.WriteLine(protocol.ErrorReply(protocol.ReasonFileNotFound))
		return
	}
	defer f.Close()

	if err := pc.WriteLine(protocol.FileSizeReply(size)); err != nil {
		log.Warn().Err(err).Msg("write failed")
		return
	}

	ack, err := pc.ReadLine()
	if err != nil {
		log.Info().Err(err).Msg("requester left before acknowledging")
		return
	}
	if cmd, _ := protocol.Parse(ack); cmd != protocol.BeginDownload {
		log.Info().Str("reply", ack).Msg("transfer not acknowledged")
		return
	}

	log.Info().Int64("size", size).Msg("upload started")
	sent, err := s.send(conn, io.LimitReader(f, size))
	if err != nil {
		log.Warn().Err(err).Int64("size", size).Int64("bytes", sent).Str("result", "failed").Msg("upload ended")
		return
	}
	log.Info().Int64("size", size).Int64("bytes", sent).Str("result", "complete").Msg("upload ended")
}

// send streams r to w in chunks of at most ChunkSize, throttled when a rate
// limit is configured.
func (s *FileServer) send(w io.Writer, r io.Reader) (int64, error) {
	var limiter *rate.Limiter
	if s.rateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.rateLimit), common.ChunkSize)
	}

	buf := make([]byte, common.ChunkSize)
	var sent int64
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			if limiter != nil {
				if err := limiter.WaitN(s.ctx, n); err != nil {
					return sent, err
				}
			}
			wn, werr := w.Write(buf[:n])
			sent += int64(wn)
			if werr != nil {
				return sent, werr
			}
		}
		if rerr == io.EOF {
			return sent, nil
		}
		if rerr != nil {
			return sent, rerr
		}
	}
}

// parseDownload extracts the filename from a DOWNLOAD request. A non-empty
// reason means the request must be answered with ERROR.
func parseDownload(line string) (string, string) {
	cmd, args := protocol.Parse(line)
	switch {
	case cmd != protocol.Download:
		return "", protocol.ReasonInvalidRequest
	case len(args) == 0:
		return "", protocol.ReasonNoFilename
	case len(args) > 1 || !protocol.ValidFilename(args[0]):
		return "", protocol.ReasonInvalidFilename
	}
	return args[0], ""
}
