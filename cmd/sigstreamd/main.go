// Command sigstreamd runs the capture-to-transfer daemon: it records the
// digitized sample stream to durable session files and streams recorded
// sessions to the remote collector on command.
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

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/meshcommons/sigstream/internal/api"
	"github.com/meshcommons/sigstream/internal/capture"
	"github.com/meshcommons/sigstream/internal/config"
	"github.com/meshcommons/sigstream/internal/gateway"
	"github.com/meshcommons/sigstream/internal/metrics"
	"github.com/meshcommons/sigstream/internal/store"
	"github.com/meshcommons/sigstream/internal/transfer"
	"github.com/meshcommons/sigstream/internal/transport"
)

func main() {
	cfgPath := flag.String("config", "sigstream.yaml", "path to config file")
	flag.Parse()

	if err := run(*cfgPath); err != nil {
		fmt.Fprintln(os.Stderr, "sigstreamd:", err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := os.MkdirAll(cfg.Capture.Dir, 0o755); err != nil {
		return fmt.Errorf("session dir: %w", err)
	}

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := store.Migrate(db); err != nil {
		return err
	}

	bus := gateway.NewEventBus()
	met := metrics.New()

	link := transport.NewTCPLink(cfg.Transport.Addr, cfg.Transport.CreditWindow, logger)
	coord := transfer.New(cfg.Transfer, cfg.Capture.Dir, link, db, bus, met, logger)
	link.SetCommandHandler(coord.HandleRaw)
	if err := link.Connect(); err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	defer link.Disconnect() //nolint:errcheck

	pipe := capture.NewPipeline(cfg.Capture, db, bus, met, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go coord.Run(ctx)

	apiSrv := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           api.NewRouter(db, pipe, coord, link, bus, logger),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	metSrv := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           met.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 2)
	go func() {
		logger.Info("api listening", zap.String("addr", cfg.API.Addr))
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()
	go func() {
		logger.Info("metrics listening", zap.String("addr", cfg.Metrics.Addr))
		if err := metSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-srvErr:
		logger.Error("http server", zap.Error(err))
		stop()
	}

	if pipe.Active() {
		if err := pipe.StopRecording(); err != nil {
			logger.Warn("stop recording", zap.Error(err))
		}
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiSrv.Shutdown(shutCtx); err != nil {
		logger.Warn("api shutdown", zap.Error(err))
	}
	if err := metSrv.Shutdown(shutCtx); err != nil {
		logger.Warn("metrics shutdown", zap.Error(err))
	}
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
