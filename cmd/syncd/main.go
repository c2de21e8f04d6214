// syncd is the ops daemon for the sync engine. It serves the HTTP surface
// for enqueueing and inspecting sync jobs and sweeps jobs abandoned by dead
// workers. Executing jobs is left to worker processes that embed the engine
// with their provider clients registered.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/shopglance/syncengine/internal/config"
	"github.com/shopglance/syncengine/internal/otelsetup"
	"github.com/shopglance/syncengine/pkg/backoff"
	"github.com/shopglance/syncengine/pkg/storage"
)

const version = "0.3.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("app", "syncd", "env", cfg.AppEnv)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.OTelEnabled {
		shutdown, err := otelsetup.Init(ctx, version)
		if err != nil {
			logger.Error("failed to initialize telemetry", "error", err)
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Warn("telemetry shutdown failed", "error", err)
			}
		}()
	}

	db, err := gorm.Open(sqlite.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		logger.Error("failed to open database", "dsn", cfg.DatabaseDSN, "error", err)
		os.Exit(1)
	}
	if err := storage.ConfigurePool(db); err != nil {
		logger.Error("failed to configure connection pool", "error", err)
		os.Exit(1)
	}

	store := storage.NewGormStore(db, backoff.Default())
	if err := store.Migrate(ctx); err != nil {
		logger.Error("failed to migrate schema", "error", err)
		os.Exit(1)
	}

	srv := &server{store: store, logger: logger}
	if cfg.OTelEnabled {
		srv.countEnqueued = func() { otelsetup.JobsEnqueuedCounter.Add(ctx, 1) }
	}

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      newRouter(srv),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go runReaper(ctx, store, cfg, logger)

	go func() {
		logger.Info("http server starting", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", "error", err)
	}
}

// runReaper periodically fails processing jobs whose workers stopped making
// progress, so their retry budget decides whether they run again.
func runReaper(ctx context.Context, store *storage.GormStore, cfg config.Config, logger *slog.Logger) {
	ticker := time.NewTicker(cfg.ReapInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reclaimed, err := store.ReclaimStale(ctx, cfg.StaleAfter())
			if err != nil {
				logger.Error("stale job sweep failed", "error", err)
				continue
			}
			if reclaimed > 0 {
				logger.Warn("reclaimed abandoned jobs", "count", reclaimed)
			}
		}
	}
}
