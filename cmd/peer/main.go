package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"peershare/internal/common"
	"peershare/internal/discovery"
	"peershare/internal/logging"
	"peershare/internal/p2p"
)

func main() {
	hostname := flag.String("hostname", "", "Name to register with the tracker (required)")
	trackerAddr := flag.String("tracker", "", "Tracker address host:port (empty discovers it via mDNS)")
	port := flag.Int("port", common.DefaultTransferPort, "Port for peer transfers")
	shareDir := flag.String("share", common.DefaultShareDir, "Directory of files to share and download into")
	transport := flag.String("transport", p2p.TransportTCP, "Transfer transport: tcp or quic")
	rateLimit := flag.Int("rate", 0, "Upload limit per transfer in bytes/s (0 = unlimited)")
	dialTimeout := flag.Duration("dial-timeout", 10*time.Second, "Timeout for outgoing connections")
	connectRetry := flag.Duration("connect-retry", 0, "Keep retrying the tracker connection for this long (0 = single attempt)")
	logFormat := flag.String("log-format", logging.FormatConsole, "Log format: console or json")
	flag.Parse()

	if *hostname == "" {
		fmt.Fprintln(os.Stderr, "Usage: peer -hostname <name> [-tracker host:port] [-port 9001] [-share ./shared]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	log, err := logging.New(*logFormat, "peer")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *trackerAddr == "" {
		log.Info().Msg("discovering tracker on the network")
		dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		addr, err := discovery.DiscoverTracker(dctx)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("could not find tracker")
		}
		log.Info().Str("tracker", addr).Msg("tracker found")
		*trackerAddr = addr
	}

	tr, err := p2p.NewTransport(*transport, *dialTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid transport")
	}

	engine, err := p2p.NewEngine(p2p.Config{
		Hostname:     *hostname,
		TrackerAddr:  *trackerAddr,
		TransferPort: *port,
		ShareDir:     *shareDir,
		Transport:    tr,
		RateLimit:    *rateLimit,
		DialTimeout:  *dialTimeout,
		ConnectRetry: *connectRetry,
		Logger:       log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if err := engine.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("could not join the network")
	}
	log.Info().Str("share", engine.Share().Dir()).Msg("peer ready")

	g, ctx := errgroup.WithContext(ctx)

	// Not part of the group: a blocked stdin read must not hold up shutdown.
	go func() {
		if err := newConsole(engine, os.Stdout).run(ctx, os.Stdin); err != nil {
			log.Error().Err(err).Msg("console failed")
		}
		stop()
	}()

	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		return engine.Close()
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("shutdown failed")
		os.Exit(1)
	}
}
