package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/ericfisherdev/mytotp/internal/adapter/driven/display"
	"github.com/ericfisherdev/mytotp/internal/adapter/driven/memory"
	sqliteadapter "github.com/ericfisherdev/mytotp/internal/adapter/driven/sqlite"
	httphandler "github.com/ericfisherdev/mytotp/internal/adapter/driving/http"
	"github.com/ericfisherdev/mytotp/internal/adapter/driving/link"
	"github.com/ericfisherdev/mytotp/internal/application"
	"github.com/ericfisherdev/mytotp/internal/config"
	"github.com/ericfisherdev/mytotp/internal/domain/port/driven"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"ephemeral", cfg.Ephemeral,
		"tick_interval", cfg.TickInterval,
		"local_clock", cfg.LocalClock,
		"encrypted", cfg.HasSecretKey(),
	)
	if cfg.TokenGenerated {
		slog.Warn("no MYTOTP_LINK_TOKEN set, generated a pairing token for this run; scan /api/v1/pairing/qr to pair")
	}

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open the snapshot store.
	var gw driven.SnapshotStore
	if cfg.Ephemeral {
		gw = memory.NewStore()
		slog.Info("using in-memory snapshot store, state is lost on exit")
	} else {
		db, err := sqliteadapter.NewDB(cfg.DBPath)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := db.Close(); closeErr != nil {
				slog.Error("error closing database", "error", closeErr)
			}
		}()
		slog.Info("database opened", "path", db.Path())

		if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
			return err
		}
		slog.Info("migrations complete")

		gw = sqliteadapter.NewSnapshotRepo(db, cfg.SecretKey)
	}

	// 4. Wire the device and load its snapshot.
	clock := application.UTCClock
	if cfg.LocalClock {
		clock = application.LocalClock
	}
	board := display.NewBoard(slog.Default())
	links := application.NewOutboxProvider()
	device := application.NewDevice(links, board, clock, cfg.TickInterval, slog.Default())

	if err := device.Load(ctx, gw); err != nil {
		return err
	}

	// 5. Start the device loop.
	deviceDone := make(chan struct{})
	go func() {
		defer close(deviceDone)
		device.Start(ctx)
	}()

	// 6. Create the controller link and HTTP API.
	linkSrv := link.NewServer(device, links, link.Config{
		Token:         cfg.LinkToken,
		MaxFrameBytes: cfg.MaxFrameBytes,
		InboundRate:   cfg.InboundRate,
		InboundBurst:  cfg.InboundBurst,
	}, slog.Default())

	apiHandler := httphandler.NewHandler(device, board, clock, cfg.LinkToken, cfg.PairingURL(), slog.Default())
	handler := httphandler.NewServeMux(apiHandler, linkSrv, slog.Default())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			stop()
		}
	}()

	slog.Info("mytotp started", "listen_addr", cfg.ListenAddr)

	// 7. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}
	linkSrv.Close()
	<-deviceDone

	// 8. Persist whatever changed while running.
	if err := device.Writeback(shutdownCtx, gw); err != nil {
		return err
	}

	slog.Info("shutdown complete")
	return nil
}
