package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	specpkg "github.com/astronomiahub/hub/api"
	"github.com/astronomiahub/hub/internal/api"
	"github.com/astronomiahub/hub/internal/apikey"
	"github.com/astronomiahub/hub/internal/auth"
	"github.com/astronomiahub/hub/internal/comment"
	"github.com/astronomiahub/hub/internal/config"
	"github.com/astronomiahub/hub/internal/database"
	"github.com/astronomiahub/hub/internal/dataset"
	"github.com/astronomiahub/hub/internal/deposition"
	"github.com/astronomiahub/hub/internal/events"
	"github.com/astronomiahub/hub/internal/metrics"
	"github.com/astronomiahub/hub/internal/publication"
	"github.com/astronomiahub/hub/internal/queue"
	"github.com/astronomiahub/hub/internal/ratelimit"
	"github.com/astronomiahub/hub/internal/recommend"
	"github.com/astronomiahub/hub/internal/reconciler"
	"github.com/astronomiahub/hub/internal/search"
	"github.com/astronomiahub/hub/internal/staging"
	"github.com/astronomiahub/hub/internal/storage"
	"github.com/astronomiahub/hub/internal/token"
	"github.com/astronomiahub/hub/migrations"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env file", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	if err := run(cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped gracefully")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.Migrate(ctx, db.Pool(), migrations.FS); err != nil {
		return err
	}

	store, err := storage.New(cfg)
	if err != nil {
		return err
	}
	area := staging.New(cfg.WorkingDir)
	m := metrics.New()
	secret := []byte(cfg.SecretKey)

	authService := auth.NewService(auth.NewRepository(db.Pool()), auth.NewHasher(cfg.Argon2MemoryKiB),
		secret, auth.LogMailer{}, "http://"+cfg.Domain+"/")
	tokenService := token.NewService(token.NewRepository(db.Pool()), secret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	keyService := apikey.NewService(apikey.NewRepository(db.Pool()))

	datasetRepo := dataset.NewRepository(db.Pool())
	datasetService := dataset.NewService(datasetRepo, store, area)

	emulator := deposition.NewEmulator()
	registry, adapter, adapterName := deposition.FromConfig(cfg, emulator)
	slog.Info("deposition adapter selected", "adapter", adapterName, "registered", registry.Names())

	publisher := newEventPublisher(cfg)
	defer publisher.Close() //nolint:errcheck // best effort on shutdown

	opts := []publication.Option{publication.WithEvents(publisher), publication.WithObserver(m)}
	var queueClient *queue.Client
	if cfg.QueueEnabled {
		queueClient = queue.NewClient(queue.RedisOpt(cfg))
		defer queueClient.Close() //nolint:errcheck // best effort on shutdown
		opts = append(opts, publication.WithQueue(queueClient))
	}
	orchestrator := publication.New(datasetRepo, adapter, store, area, opts...)

	limits, err := newLimitStore(ctx, cfg)
	if err != nil {
		return err
	}

	seedLoadTestKeys(ctx, cfg, authService, keyService)

	router, err := api.NewRouter(api.RouterDeps{
		DBPinger:     db,
		Version:      cfg.Version,
		OpenAPISpec:  specpkg.OpenAPISpec,
		Domain:       cfg.Domain,
		CookieSecure: cfg.CookieSecure,
		CORSOrigins:  cfg.CORSOriginList(),
		TrustProxy:   cfg.TrustProxy,
		Auth:         authService,
		Tokens:       tokenService,
		Locator:      token.NewLocator(cfg.GeoIPURL),
		Keys:         keyService,
		Datasets:     datasetService,
		Staging:      area,
		Publisher:    orchestrator,
		Recommender:  recommend.New(datasetRepo),
		Comments:     comment.NewService(comment.NewRepository(db.Pool()), datasetRepo, auth.NewAdminPolicy(cfg.AdminEmailList())),
		Search:       search.NewService(search.NewRepository(db.Pool()), datasetRepo),
		Limits:       limits,
		Emulator:     emulator,
		Metrics:      m,
	})
	if err != nil {
		return err
	}

	retry := func(ctx context.Context, datasetID int64) error {
		if queueClient != nil {
			return queueClient.EnqueueDepositionSync(ctx, datasetID)
		}
		_, err := orchestrator.Sync(ctx, datasetID)
		return err
	}
	go reconciler.New(tokenService, datasetRepo, retry, cfg.SweepInterval).Start(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("starting hub server", "port", cfg.Port, "version", cfg.Version)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down server")
	case err := <-serverErr:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

func newEventPublisher(cfg *config.Config) events.Publisher {
	if cfg.RabbitMQURL == "" {
		return events.Noop{}
	}
	p, err := events.NewAMQPPublisher(cfg.RabbitMQURL, events.DefaultQueue)
	if err != nil {
		slog.Warn("rabbitmq unavailable; domain events disabled", "error", err)
		return events.Noop{}
	}
	return p
}

func newLimitStore(ctx context.Context, cfg *config.Config) (ratelimit.Store, error) {
	switch cfg.RateLimitStore {
	case "", "memory":
		return ratelimit.NewMemoryStore(), nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		return ratelimit.NewRedisStore(rdb, "hub:ratelimit"), nil
	default:
		return nil, fmt.Errorf("unknown rate limit store %q", cfg.RateLimitStore)
	}
}

// seedLoadTestKeys provisions the configured Locust keys for the first user.
func seedLoadTestKeys(ctx context.Context, cfg *config.Config, users *auth.Service, keys *apikey.Service) {
	if cfg.LocustAPIKey == "" && cfg.LocustAPIKeyStats == "" {
		return
	}
	u, err := users.FirstUser(ctx)
	if err != nil {
		slog.Warn("skipping load-test key seeding", "error", err)
		return
	}

	seeds := []struct {
		name, raw string
		scopes    []string
	}{
		{"Locust", cfg.LocustAPIKey, []string{apikey.ScopeReadDatasets}},
		{"Locust stats", cfg.LocustAPIKeyStats, []string{apikey.ScopeReadDatasets, apikey.ScopeReadStats}},
	}
	for _, s := range seeds {
		if s.raw == "" {
			continue
		}
		if _, err := keys.Seed(ctx, u.ID, s.name, s.raw, s.scopes); err != nil {
			slog.Warn("failed to seed api key", "name", s.name, "error", err)
		}
	}
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
