package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/phrazzld/imagelab-api/internal/analysis"
	"github.com/phrazzld/imagelab-api/internal/api"
	"github.com/phrazzld/imagelab-api/internal/config"
	"github.com/phrazzld/imagelab-api/internal/events"
	"github.com/phrazzld/imagelab-api/internal/platform/blobstore"
	"github.com/phrazzld/imagelab-api/internal/platform/cache"
	"github.com/phrazzld/imagelab-api/internal/platform/postgres"
	"github.com/phrazzld/imagelab-api/internal/service"
	"github.com/phrazzld/imagelab-api/internal/store"
	"github.com/phrazzld/imagelab-api/internal/task"
	"go.uber.org/multierr"
)

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB
	redis  *redis.Client

	imageStore store.ImageStore
	jobStore   store.JobStore
	blobs      store.BlobStore
	jobCache   store.JobCache

	eventEmitter *events.InMemoryEventEmitter
	images       *service.ImageService
	dispatcher   *service.AnalysisDispatcher
}

// newApplication creates a new application instance with all dependencies initialized.
// The database connection is owned by the application from here on and is
// closed by cleanup.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *sql.DB) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
		db:     db,
	}

	var err error
	app.blobs, err = blobstore.New(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize blob store: %w", err)
	}
	logger.Info("blob store initialized", slog.String("backend", cfg.Storage.Backend))

	if cfg.Cache.RedisAddr != "" {
		app.redis, err = cache.Connect(ctx, cfg.Cache.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		app.jobCache = cache.NewRedisJobCache(app.redis, cfg.Cache.TTL, logger)
		logger.Info("job cache enabled", slog.Duration("ttl", cfg.Cache.TTL))
	} else {
		app.jobCache = cache.NopJobCache{}
	}

	app.imageStore = postgres.NewPostgresImageStore(db, logger)
	app.jobStore = postgres.NewPostgresJobStore(db, logger)

	app.eventEmitter = events.NewInMemoryEventEmitter(logger)
	app.eventEmitter.RegisterHandler(service.NewResultArchiver(app.blobs, logger), events.JobCompleted)

	registry := analysis.NewDefaultRegistry(analysis.DetectorConfig{LoadDelay: cfg.Detector.LoadDelay})

	app.images = service.NewImageService(app.imageStore, app.blobs, service.UploadLimits{
		MaxBytes:  cfg.Server.MaxUploadBytes,
		MaxPixels: cfg.Server.MaxImagePixels,
	}, logger)
	app.dispatcher = service.NewAnalysisDispatcher(service.DispatcherDeps{
		Images:   app.imageStore,
		Jobs:     app.jobStore,
		Blobs:    app.blobs,
		Registry: registry,
		Cache:    app.jobCache,
		Events:   app.eventEmitter,
	}, dispatcherConfig(cfg), logger)

	logger.Info("application initialized",
		slog.String("instance_id", cfg.Task.InstanceID),
		slog.Any("analyzers", registry.Types()),
		slog.Int("workers", cfg.Task.WorkerCount),
		slog.Int("queue_size", cfg.Task.QueueSize))
	return app, nil
}

// dispatcherConfig converts the configured task settings.
func dispatcherConfig(cfg *config.Config) service.DispatcherConfig {
	return service.DispatcherConfig{
		Runner: task.TaskRunnerConfig{
			WorkerCount:      cfg.Task.WorkerCount,
			QueueSize:        cfg.Task.QueueSize,
			Backpressure:     task.Backpressure(cfg.Task.Backpressure),
			ExecutionTimeout: cfg.Task.ExecutionTimeout,
		},
		InstanceID:     cfg.Task.InstanceID,
		WriteRetries:   uint64(cfg.Task.TerminalWriteRetries),
		WriteBackoff:   cfg.Task.TerminalWriteBackoff,
		MaxImagePixels: cfg.Server.MaxImagePixels,
	}
}

// setupRouter builds the HTTP handler tree from the application services.
func (app *application) setupRouter() http.Handler {
	return api.NewRouter(api.RouterConfig{
		Images:             api.NewImageHandler(app.images, app.config.Server.MaxUploadBytes, app.logger),
		Analyses:           api.NewAnalysisHandler(app.dispatcher, app.logger),
		CORSAllowedOrigins: app.config.Server.CORSAllowedOrigins,
		Logger:             app.logger,
	})
}

// Run starts the dispatcher and the HTTP server and blocks until ctx is
// cancelled or the server fails. Resources are released before it returns.
func (app *application) Run(ctx context.Context) error {
	if err := app.dispatcher.Start(ctx); err != nil {
		return multierr.Append(fmt.Errorf("failed to start dispatcher: %w", err), app.cleanup())
	}

	err := app.startHTTPServer(ctx, app.setupRouter())
	if err != nil {
		err = fmt.Errorf("server error: %w", err)
	}
	return multierr.Append(err, app.cleanup())
}

// cleanup handles graceful shutdown of application resources.
func (app *application) cleanup() error {
	if app.dispatcher != nil {
		app.dispatcher.Stop()
	}

	var err error
	if app.redis != nil {
		err = multierr.Append(err, app.redis.Close())
	}
	if app.db != nil {
		err = multierr.Append(err, app.db.Close())
	}

	if err != nil {
		app.logger.Error("error releasing resources", slog.String("error", err.Error()))
		return err
	}
	app.logger.Info("application shutdown completed")
	return nil
}
