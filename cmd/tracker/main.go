package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"peershare/internal/common"
	"peershare/internal/discovery"
	"peershare/internal/logging"
	"peershare/internal/tracker"
)

func main() {
	port := flag.Int("port", common.DefaultTrackerPort, "Port for the tracker to listen on")
	mdns := flag.Bool("mdns", false, "Advertise the tracker on the local network via mDNS")
	adminAddr := flag.String("admin", "", "Listen address for the read-only HTTP admin API (empty disables it)")
	maxConns := flag.Int("max-conns", 0, "Maximum simultaneous registry connections (0 = unlimited)")
	logFormat := flag.String("log-format", logging.FormatConsole, "Log format: console or json")
	console := flag.Bool("console", false, "Read operator commands from stdin")
	flag.Parse()

	log, err := logging.New(*logFormat, "tracker")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := tracker.NewRegistry()
	server := tracker.NewServer(registry, tracker.Config{
		Addr:     fmt.Sprintf(":%d", *port),
		MaxConns: *maxConns,
		Logger:   log,
	})

	if *mdns {
		zc, err := discovery.PublishService(*port)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to publish mDNS service")
		}
		defer zc.Shutdown()
		log.Info().Str("service", common.ServiceName).Int("port", *port).Msg("published mDNS service")
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := server.ListenAndServe(); !errors.Is(err, tracker.ErrServerClosed) {
			return err
		}
		return nil
	})

	var admin *http.Server
	if *adminAddr != "" {
		admin = &http.Server{
			Addr:              *adminAddr,
			Handler:           tracker.AdminHandler(registry, log),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info().Str("addr", *adminAddr).Msg("admin API listening")
			if err := admin.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	if *console {
		// Not part of the group: a blocked stdin read must not hold up shutdown.
		go func() {
			if err := tracker.NewConsole(registry, os.Stdout).Run(os.Stdin); err != nil {
				log.Error().Err(err).Msg("console failed")
			}
			stop()
		}()
	}

	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		if admin != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			admin.Shutdown(shutdownCtx)
		}
		return server.Close()
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("tracker failed")
	}
}
