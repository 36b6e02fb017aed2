package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/astronomiahub/hub/internal/config"
	"github.com/astronomiahub/hub/internal/database"
	"github.com/astronomiahub/hub/internal/dataset"
	"github.com/astronomiahub/hub/internal/deposition"
	"github.com/astronomiahub/hub/internal/events"
	"github.com/astronomiahub/hub/internal/publication"
	"github.com/astronomiahub/hub/internal/queue"
	"github.com/astronomiahub/hub/internal/staging"
	"github.com/astronomiahub/hub/internal/storage"
)

// errNotSynchronized makes asynq retry a sync that left the dataset local.
var errNotSynchronized = errors.New("dataset not synchronized")

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env file", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)})))

	if err := run(cfg); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}
	slog.Info("worker stopped gracefully")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := storage.New(cfg)
	if err != nil {
		return err
	}
	area := staging.New(cfg.WorkingDir)

	adapter, err := deposition.RemoteFromConfig(cfg)
	if err != nil {
		return err
	}

	var publisher events.Publisher = events.Noop{}
	if cfg.RabbitMQURL != "" {
		p, err := events.NewAMQPPublisher(cfg.RabbitMQURL, events.DefaultQueue)
		if err != nil {
			slog.Warn("rabbitmq unavailable; domain events disabled", "error", err)
		} else {
			publisher = p
		}
	}
	defer publisher.Close() //nolint:errcheck // best effort on shutdown

	orchestrator := publication.New(dataset.NewRepository(db.Pool()), adapter, store, area,
		publication.WithEvents(publisher))

	handlers := queue.NewHandlersRegistry()
	handlers.Register(queue.TypeDepositionSync, queue.NewDepositionSyncHandler(
		func(ctx context.Context, datasetID int64) error {
			res, err := orchestrator.Sync(ctx, datasetID)
			if err != nil {
				return err
			}
			if !res.Synchronized {
				return fmt.Errorf("%w: %v", errNotSynchronized, res.Warnings)
			}
			return nil
		}))

	srv := asynq.NewServer(queue.RedisOpt(cfg), asynq.Config{
		Concurrency: 4,
		Logger:      slogAdapter{},
	})
	if err := srv.Start(handlers.Mux()); err != nil {
		return fmt.Errorf("starting worker: %w", err)
	}
	slog.Info("worker started", "adapter", deposition.AdapterRemote, "archive", cfg.FakenodoURL, "task", queue.TypeDepositionSync)

	<-ctx.Done()
	slog.Info("shutting down worker")
	srv.Shutdown()
	return nil
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// slogAdapter routes asynq's internal logging through slog.
type slogAdapter struct{}

func (slogAdapter) Debug(args ...any) { slog.Debug(fmt.Sprint(args...)) }
func (slogAdapter) Info(args ...any)  { slog.Info(fmt.Sprint(args...)) }
func (slogAdapter) Warn(args ...any)  { slog.Warn(fmt.Sprint(args...)) }
func (slogAdapter) Error(args ...any) { slog.Error(fmt.Sprint(args...)) }
func (slogAdapter) Fatal(args ...any) {
	slog.Error(fmt.Sprint(args...))
	os.Exit(1)
}
