package p2p

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"peershare/internal/common"
	"peershare/internal/protocol"
)

// State is a requester-side transfer state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateAwaitingSize
	StateAcked
	StateReceiving
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateAwaitingSize:
		return "AWAITING_SIZE"
	case StateAcked:
		return "ACKED"
	case StateReceiving:
		return "RECEIVING"
	case StateComplete:
		return "COMPLETE"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session describes one download attempt.
type Session struct {
	ID       string
	Filename string
	Peer     string
	// Size is the length declared by the responder, or -1 before FILESIZE.
	Size     int64
	Received int64
	State    State
	Started  time.Time
}

// TransferError reports a failed download. State is the state the requester
// was in when the transfer failed.
type TransferError struct {
	State  State
	Peer   string
	Reason string
	Err    error
}

func (e *TransferError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// ProgressFunc observes a download as bytes arrive. It cannot affect the
// outcome of the transfer.
type ProgressFunc func(received, total int64)

// Downloader is the requesting half of a peer. Downloads land in the share
// directory under the requested name.
type Downloader struct {
	share     *Share
	transport Transport
	log       zerolog.Logger
}

// NewDownloader creates a downloader writing into share. A nil transport
// means TCP.
func NewDownloader(share *Share, transport Transport, logger zerolog.Logger) *Downloader {
	if transport == nil {
		transport = &TCPTransport{}
	}
	return &Downloader{share: share, transport: transport, log: logger}
}

// Download fetches filename from the peer at addr. It succeeds only when the
// full declared size was received; any partial file is removed.
func (d *Downloader) Download(ctx context.Context, addr, filename string, progress ProgressFunc) (*Session, error) {
	sess := &Session{
		ID:       uuid.NewString(),
		Filename: filename,
		Peer:     addr,
		Size:     -1,
		State:    StateIdle,
		Started:  time.Now(),
	}
	log := d.log.With().
		Str("session", sess.ID).
		Str("file", filename).
		Str("peer", addr).
		Logger()

	fail := func(reason string, err error) (*Session, error) {
		terr := &TransferError{State: sess.State, Peer: addr, Reason: reason, Err: err}
		sess.State = StateFailed
		log.Warn().
			Err(terr).
			Str("state", terr.State.String()).
			Int64("size", sess.Size).
			Int64("bytes", sess.Received).
			Str("result", "failed").
			Msg("download ended")
		return sess, terr
	}

	if !protocol.ValidFilename(filename) {
		return fail(protocol.ReasonInvalidFilename, nil)
	}

	sess.State = StateConnecting
	conn, err := d.transport.Dial(ctx, addr)
	if err != nil {
		return fail("connect failed", err)
	}
	defer conn.Close()

	pc := protocol.NewConn(conn)
	if err := pc.WriteLine(protocol.DownloadRequest(filename)); err != nil {
		return fail("send request", err)
	}

	sess.State = StateAwaitingSize
	line, err := pc.ReadLine()
	if err != nil {
		return fail("no reply", err)
	}
	if cmd, rest := protocol.SplitReply(line); cmd == protocol.Error {
		if rest == "" {
			rest = "peer refused the transfer"
		}
		return fail(rest, nil)
	}
	size, err := protocol.ParseFileSize(line)
	if err != nil {
		return fail("bad reply", err)
	}
	sess.Size = size

	out, err := d.share.Create(filename)
	if err != nil {
		return fail("create destination", err)
	}
	received, err := d.receive(pc, out, sess, progress)
	sess.Received = received
	cerr := out.Close()
	if err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		if rerr := d.share.Remove(filename); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			log.Warn().Err(rerr).Msg("could not remove partial file")
		}
		if sess.State == StateReceiving && received < size {
			return fail(fmt.Sprintf("short transfer: received %d of %d bytes", received, size), err)
		}
		return fail("transfer failed", err)
	}

	sess.State = StateComplete
	log.Info().
		Int64("size", size).
		Int64("bytes", received).
		Dur("elapsed", time.Since(sess.Started)).
		Str("result", "complete").
		Msg("download ended")
	return sess, nil
}

// receive acknowledges the declared size and copies exactly that many bytes
// into w.
func (d *Downloader) receive(pc *protocol.Conn, w io.Writer, sess *Session, progress ProgressFunc) (int64, error) {
	if err := pc.WriteLine(protocol.BeginDownload); err != nil {
		return 0, err
	}
	sess.State = StateAcked

	report(progress, 0, sess.Size)
	sess.State = StateReceiving

	r := io.LimitReader(pc.Reader(), sess.Size)
	buf := make([]byte, common.ChunkSize)
	var received int64
	for received < sess.Size {
		n, rerr := r.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return received, err
			}
			received += int64(n)
			report(progress, received, sess.Size)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return received, rerr
		}
	}
	if received < sess.Size {
		return received, io.ErrUnexpectedEOF
	}
	return received, nil
}

func report(progress ProgressFunc, received, total int64) {
	if progress == nil {
		return
	}
	defer func() { recover() }()
	progress(received, total)
}
