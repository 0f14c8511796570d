package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/baxromumarov/telemetry-relay/internal/api"
	"github.com/baxromumarov/telemetry-relay/internal/config"
	"github.com/baxromumarov/telemetry-relay/internal/core"
	"github.com/baxromumarov/telemetry-relay/internal/feed"
	"github.com/baxromumarov/telemetry-relay/internal/httpx"
	"github.com/baxromumarov/telemetry-relay/internal/sink"
	"github.com/baxromumarov/telemetry-relay/internal/store"
	"github.com/baxromumarov/telemetry-relay/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		dbStore *store.Store
		history api.HistoryStore
		runs    core.RunStore
	)
	if cfg.StoreEnabled() {
		dbStore, err = store.NewStore(cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to store", "error", err)
			os.Exit(1)
		}
		defer dbStore.Close()

		// Run schema migrations to ensure tables exist
		if err := dbStore.RunMigrations(cfg.SchemaPath); err != nil {
			slog.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		history, runs = dbStore, dbStore

		core.NewSchedulerService(dbStore, cfg.Relay.Retention).Start(ctx)
	} else {
		slog.Warn("store disabled, run history is kept in memory only")
	}

	source, err := feed.NewClient(feed.Config{
		BaseURL:    cfg.Feed.BaseURL,
		BranchID:   cfg.Feed.BranchID,
		FilterID:   cfg.Feed.FilterID,
		ForceLogin: cfg.Feed.ForceLogin,
		Charset:    cfg.Feed.Charset,
	}, httpx.WithTimeout(cfg.Feed.Timeout))
	if err != nil {
		slog.Error("failed to create feed client", "error", err)
		os.Exit(1)
	}

	dst, err := sink.NewClient(sink.Config{
		BaseURL:   cfg.Sink.BaseURL,
		ChunkSize: cfg.Sink.ChunkSize,
	}, httpx.WithTimeout(cfg.Sink.Timeout))
	if err != nil {
		slog.Error("failed to create sink client", "error", err)
		os.Exit(1)
	}

	var allocator telemetry.IdentityAllocator = telemetry.OnePassAllocator{}
	if cfg.Relay.TwoPassIDs {
		allocator = telemetry.TwoPassAllocator{}
	}

	relay := core.NewRelayService(source, dst, runs, core.RelayOptions{
		DateFilter: cfg.Relay.DateFilter,
		Strict:     cfg.Relay.Strict,
		Allocator:  allocator,
		Interval:   cfg.Relay.Interval,
		Cron:       cfg.Relay.Cron,
	})
	if err := relay.Start(ctx); err != nil {
		slog.Error("failed to start relay", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewServer(history, relay).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("starting server",
		"port", cfg.Port,
		"feed", cfg.Feed.BaseURL,
		"sink", cfg.Sink.BaseURL,
		"store", cfg.StoreEnabled(),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
