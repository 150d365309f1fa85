// Command evonashd runs the experiment coordination daemon: the HTTP API,
// the background reconciliation sweeper, and the websocket event hub.
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
	"syscall"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jdefouw/EvoNash-sub001/api"
	"github.com/jdefouw/EvoNash-sub001/pkg/config"
	"github.com/jdefouw/EvoNash-sub001/pkg/events"
	"github.com/jdefouw/EvoNash-sub001/pkg/experiment"
	"github.com/jdefouw/EvoNash-sub001/pkg/ingest"
	"github.com/jdefouw/EvoNash-sub001/pkg/queue"
	"github.com/jdefouw/EvoNash-sub001/pkg/reconcile"
	"github.com/jdefouw/EvoNash-sub001/pkg/registry"
	"github.com/jdefouw/EvoNash-sub001/pkg/schedule"
	"github.com/jdefouw/EvoNash-sub001/pkg/storage"
)

type flags struct {
	addr     string
	dbPath   string
	logLevel string
	logJSON  bool
}

func parseFlags() flags {
	f := flags{}
	flag.StringVar(&f.addr, "addr", envOr("EVONASH_ADDR", ":8420"), "HTTP listen address")
	flag.StringVar(&f.dbPath, "db", envOr("EVONASH_DB", "evonash.db"), "SQLite database path")
	flag.StringVar(&f.logLevel, "log-level", envOr("EVONASH_LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	flag.BoolVar(&f.logJSON, "log-json", os.Getenv("EVONASH_LOG_JSON") != "", "emit JSON logs")
	flag.Parse()
	return f
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newLogger(f flags) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(f.logLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if f.logJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func main() {
	f := parseFlags()
	log := newLogger(f)
	slog.SetDefault(log)

	if err := run(f, log); err != nil {
		log.Error("daemon exited", "error", err)
		os.Exit(1)
	}
}

func run(f flags, log *slog.Logger) error {
	cfg := config.FromEnv()

	db, err := gorm.Open(sqlite.Open(f.dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	store, err := storage.NewGormStoreWithPool(db)
	if err != nil {
		return fmt.Errorf("configure storage: %w", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	bus := events.NewBus()
	hub := events.NewHub(bus, log)
	rec := reconcile.New(store, cfg, bus, log)

	deps := api.Deps{
		Queue:       queue.New(store, cfg, bus, log),
		Registry:    registry.New(store, cfg, bus, log),
		Experiments: experiment.New(store, cfg, rec, bus, log),
		Ingestor:    ingest.New(store, cfg, rec, bus, log),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go hub.Run(ctx)

	sweeper := schedule.NewSweeper(store, rec, cfg, schedule.Every(cfg.SweepInterval), log)
	go sweeper.Run(ctx)

	srv := &http.Server{
		Addr:              f.addr,
		Handler:           api.Handler(deps, api.WithEventHub(hub), api.WithLogger(log)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", f.addr, "db", f.dbPath)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
