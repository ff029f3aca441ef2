package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/vdpress/internal/api"
	"github.com/foxzi/vdpress/internal/batch"
	"github.com/foxzi/vdpress/internal/codegen"
	"github.com/foxzi/vdpress/internal/config"
	"github.com/foxzi/vdpress/internal/db"
	"github.com/foxzi/vdpress/internal/ipfilter"
	"github.com/foxzi/vdpress/internal/metrics"
	"github.com/foxzi/vdpress/internal/personalize"
	"github.com/foxzi/vdpress/internal/progress"
	"github.com/foxzi/vdpress/internal/ratelimit"
	"github.com/foxzi/vdpress/internal/render"
	"github.com/foxzi/vdpress/internal/repository"
	"github.com/foxzi/vdpress/internal/storage"
)

// App is the main application
type App struct {
	config    *config.Config
	version   string
	db        *db.DB
	store     *repository.Store
	blobDB    *bolt.DB
	blobs     *storage.Blobs
	cleaner   *storage.Cleaner
	codes     *codegen.Generator
	chrome    *render.Chrome
	tracker   progress.Tracker
	redis     *progress.Redis
	quota     *ratelimit.Limiter
	processor *batch.Processor
	apiServer *api.Server

	metrics          *metrics.Metrics
	metricsServer    *metrics.Server
	metricsCollector *metrics.Collector

	logger *slog.Logger
}

// New creates a new application. Nothing listens until Run.
func New(cfg *config.Config, version string) (*App, error) {
	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	a := &App{config: cfg, version: version, logger: logger}
	if err := a.init(); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *App) init() error {
	cfg := a.config
	logger := a.logger

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	a.db = database
	if err := database.Migrate(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	a.store = repository.NewStore(database.DB)

	a.blobDB, err = storage.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to open artifact store: %w", err)
	}
	a.blobs, err = storage.NewBlobs(a.blobDB, cfg.Storage.SigningKey, cfg.Server.PublicURL)
	if err != nil {
		return fmt.Errorf("failed to create artifact store: %w", err)
	}
	if cfg.Storage.Retention.MaxAge > 0 {
		a.cleaner = storage.NewCleaner(a.blobs, storage.CleanerConfig{
			MaxAge:   cfg.Storage.Retention.MaxAge,
			Interval: cfg.Storage.Retention.CleanupInterval,
		}, logger)
		logger.Info("artifact retention enabled", "max_age", cfg.Storage.Retention.MaxAge)
	}

	a.codes, err = codegen.New(codegen.Options{
		BaseURL: cfg.Tracking.BaseURL,
		Size:    cfg.Tracking.CodeSize,
		Level:   cfg.Tracking.RecoveryLevel,
	})
	if err != nil {
		return fmt.Errorf("failed to create code generator: %w", err)
	}

	a.chrome = render.NewChrome(render.ChromeOptions{
		Bin:        cfg.Render.ChromeBin,
		ControlURL: cfg.Render.ControlURL,
		Pages:      cfg.Render.Pages,
		NoSandbox:  cfg.Render.NoSandbox,
		Timeout:    cfg.Render.Timeout,
	}, logger)

	switch cfg.Progress.Backend {
	case "redis":
		a.redis = progress.NewRedis(progress.RedisOptions{
			Addr:     cfg.Progress.Redis.Addr,
			Password: cfg.Progress.Redis.Password,
			DB:       cfg.Progress.Redis.DB,
			TTL:      cfg.Progress.Redis.TTL,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := a.redis.Ping(pingCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.tracker = a.redis
		logger.Info("progress events published to redis", "addr", cfg.Progress.Redis.Addr)
	default:
		a.tracker = progress.NewMemory()
	}

	if cfg.Metrics.Enabled {
		a.metrics = metrics.New()
		metrics.SetGlobal(a.metrics)
		a.metricsCollector = metrics.NewCollector(a.metrics, cfg.Storage.Path, cfg.Metrics.FlushInterval)
		filter := ipfilter.New(cfg.Metrics.AllowedIPs, false, logger.With("component", "metrics"))
		a.metricsServer = metrics.NewServer(a.metrics, cfg.Metrics.ListenAddr, cfg.Metrics.Path, filter, logger)
	}

	var quota api.Quota
	if cfg.Quota.Enabled {
		a.quota, err = ratelimit.NewLimiter(a.blobDB, &ratelimit.Config{
			Global:              quotaLimits(cfg.Quota.Global),
			DefaultOrganization: quotaLimits(cfg.Quota.DefaultOrganization),
			DefaultIP:           quotaLimits(cfg.Quota.DefaultIP),
			FlushInterval:       cfg.Quota.FlushInterval,
		})
		if err != nil {
			return fmt.Errorf("failed to create print quota: %w", err)
		}
		quota = a.quota
		logger.Info("print quotas enabled")
	}

	engine := personalize.NewEngine(logger, cfg.Batch.CodeTimeout)

	a.processor = batch.NewProcessor(a.store, a.blobs, a.chrome, a.codes, engine, a.tracker, batch.Config{
		Concurrency:   cfg.Batch.Concurrency,
		CodeTimeout:   cfg.Batch.CodeTimeout,
		RenderTimeout: cfg.Batch.RenderTimeout,
		URLTTL:        cfg.Storage.URLTTL,
		DefaultFormat: cfg.Render.DefaultFormat,
		ValidateFirst: cfg.Batch.Validate,
	}, logger)

	a.apiServer = api.NewServer(api.ServerOptions{
		Config:        &cfg.API,
		Store:         a.store,
		Processor:     a.processor,
		Tracker:       a.tracker,
		Quota:         quota,
		Renderer:      a.chrome,
		Codes:         a.codes,
		Engine:        engine,
		Files:         a.blobs.Handler(),
		FallbackURL:   cfg.Tracking.FallbackURL,
		DefaultFormat: cfg.Render.DefaultFormat,
		Version:       a.version,
		Logger:        logger.With("component", "api"),
	})

	return nil
}

func quotaLimits(l *config.QuotaLimits) *ratelimit.LimitConfig {
	if l == nil {
		return nil
	}
	return &ratelimit.LimitConfig{PiecesPerHour: l.PiecesPerHour, PiecesPerDay: l.PiecesPerDay}
}

// Store returns the SQLite repositories
func (a *App) Store() *repository.Store {
	return a.store
}

// Process runs one campaign outside the HTTP server
func (a *App) Process(ctx context.Context, campaignID, orgID string, onProgress func(progress.Event)) (*batch.Result, error) {
	return a.processor.Process(ctx, campaignID, orgID, onProgress)
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting vdpress",
		"version", a.version,
		"api_addr", a.config.API.ListenAddr,
		"public_url", a.config.Server.PublicURL,
		"progress_backend", a.config.Progress.Backend,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// renders start the browser lazily if this fails
	if err := a.chrome.Start(ctx); err != nil {
		a.logger.Warn("failed to start renderer, will retry on first render", "error", err)
	}

	if a.cleaner != nil {
		a.cleaner.Start(ctx)
	}
	if a.metricsCollector != nil {
		a.metricsCollector.Start(ctx)
	}

	errCh := make(chan error, 2)

	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	if a.metricsServer != nil {
		go func() {
			a.logger.Info("starting metrics server", "addr", a.config.Metrics.ListenAddr)
			if err := a.metricsServer.ListenAndServe(); err != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-errCh:
		a.logger.Error("server error", "error", runErr)
		cancel()
	}

	return errors.Join(runErr, a.Shutdown(context.Background()))
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// in-flight batches are cancelled here and end paused
	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}
	if a.metricsCollector != nil {
		a.metricsCollector.Stop()
	}
	if a.cleaner != nil {
		a.cleaner.Stop()
	}

	a.close()

	a.logger.Info("shutdown complete")
	return nil
}

// Close releases storage and the browser without touching servers.
// Use it when the app was only used for Process.
func (a *App) Close() {
	a.close()
}

func (a *App) close() {
	// counters are flushed into the artifact store, so this runs first
	if a.quota != nil {
		if err := a.quota.Stop(); err != nil {
			a.logger.Error("print quota flush error", "error", err)
		}
		a.quota = nil
	}
	if a.chrome != nil {
		if err := a.chrome.Close(); err != nil {
			a.logger.Error("renderer close error", "error", err)
		}
		a.chrome = nil
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", "error", err)
		}
		a.redis = nil
	}
	if a.blobDB != nil {
		if err := a.blobDB.Close(); err != nil {
			a.logger.Error("artifact store close error", "error", err)
		}
		a.blobDB = nil
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("database close error", "error", err)
		}
		a.db = nil
	}
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
