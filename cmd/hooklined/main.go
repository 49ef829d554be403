// Command hooklined runs the Hookline observability event pipeline: it
// ingests lifecycle events from agent runtimes over HTTP, persists them and
// rebroadcasts them to live WebSocket subscribers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hookline-dev/hookline/pkg/config"
	"github.com/hookline-dev/hookline/pkg/hub"
	"github.com/hookline-dev/hookline/pkg/observability"
	"github.com/hookline-dev/hookline/pkg/server"
	"github.com/hookline-dev/hookline/pkg/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath = flag.String("config", "", "optional YAML config file")
		portFlag   = flag.Int("port", 0, "listen port (overrides PORT)")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 2
	}
	if *configPath != "" {
		if err := config.LoadFile(*configPath, cfg); err != nil {
			fmt.Fprintln(os.Stderr, "config:", err)
			return 2
		}
	}
	if *portFlag != 0 {
		cfg.Port = *portFlag
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, backend, err := openStore(cfg)
	if err != nil {
		logger.Error("open store", "error", err)
		return 1
	}
	defer func() { _ = st.Close() }()

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = st.Init(initCtx)
	cancel()
	if err != nil {
		logger.Error("init store", "error", err)
		return 1
	}
	logger.Info("store ready", "backend", backend)

	obs, err := observability.New(ctx, observability.Config{
		ServiceName:    "hooklined",
		ServiceVersion: "0.1.0",
		Environment:    "production",
		OTLPEndpoint:   cfg.OTelEndpoint,
		BatchTimeout:   5 * time.Second,
		Enabled:        cfg.OTelEnabled,
		Insecure:       true,
	})
	if err != nil {
		logger.Error("init telemetry", "error", err)
		return 1
	}

	h := hub.New(st, cfg.StreamBacklog, cfg.SubscriberBuffer)

	srv, err := server.New(st, h, obs, server.Options{
		Addr:           fmt.Sprintf(":%d", cfg.Port),
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})
	if err != nil {
		logger.Error("init server", "error", err)
		return 1
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("serve", "error", err)
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown http", "error", err)
	}
	h.Close()
	if err := obs.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown telemetry", "error", err)
	}
	logger.Info("shutdown complete")
	return 0
}

// openStore picks Postgres when DATABASE_URL is set, SQLite otherwise.
func openStore(cfg *config.Config) (store.EventStore, string, error) {
	if cfg.DatabaseURL != "" {
		st, err := store.OpenPostgres(cfg.DatabaseURL)
		return st, "postgres", err
	}
	st, err := store.OpenSQLite(cfg.SQLitePath)
	return st, "sqlite", err
}

func logLevel(name string) slog.Level {
	switch strings.ToUpper(name) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
