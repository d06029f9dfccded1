package p2p

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"peershare/internal/protocol"
)

func TestNewTransport(t *testing.T) {
	for _, name := range []string{"", TransportTCP, TransportQUIC} {
		if _, err := NewTransport(name, time.Second); err != nil {
			t.Errorf("NewTransport(%q) error = %v", name, err)
		}
	}
	if _, err := NewTransport("udp", time.Second); err == nil {
		t.Error("NewTransport(udp) succeeded")
	}
}

func TestQUICDownload(t *testing.T) {
	qt, err := NewQUICTransport(5 * time.Second)
	if err != nil {
		t.Fatal(err)
	}
	data := pattern(100*1024 + 3)
	src := newShare(t, map[string][]byte{"q.bin": data})
	srv := startFileServer(t, src, ServerConfig{Transport: qt})

	dst := newShare(t, nil)
	d := NewDownloader(dst, qt, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := d.Download(ctx, srv.Addr().String(), "q.bin", nil); err != nil {
		t.Fatalf("Download() over QUIC error = %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dst.Dir(), "q.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Error("downloaded file differs from source")
	}

	_, err = d.Download(ctx, srv.Addr().String(), "missing.bin", nil)
	var terr *TransferError
	if !errors.As(err, &terr) || terr.Reason != protocol.ReasonFileNotFound {
		t.Errorf("Download() of missing file error = %v", err)
	}
}
