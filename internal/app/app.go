// Package app assembles the service from configuration. Every component is
// built once here and handed to its consumers explicitly.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/kosarica/place-service/config"
	"github.com/kosarica/place-service/internal/cache"
	"github.com/kosarica/place-service/internal/checkpoint"
	"github.com/kosarica/place-service/internal/controller"
	"github.com/kosarica/place-service/internal/database"
	"github.com/kosarica/place-service/internal/faults"
	"github.com/kosarica/place-service/internal/filter"
	"github.com/kosarica/place-service/internal/jobs"
	"github.com/kosarica/place-service/internal/metrics"
	"github.com/kosarica/place-service/internal/pipeline"
	"github.com/kosarica/place-service/internal/places"
	"github.com/kosarica/place-service/internal/regions"
	"github.com/kosarica/place-service/internal/scanner"
	"github.com/kosarica/place-service/internal/sources"
	"github.com/kosarica/place-service/internal/sweepers"
	"github.com/kosarica/place-service/internal/taskqueue"
	"github.com/kosarica/place-service/internal/telemetry"
	"github.com/kosarica/place-service/internal/types"
	"github.com/kosarica/place-service/internal/workers"
)

// Version is stamped on telemetry resources
var Version = "dev"

// DrainTimeout is how long callers should let Close wait for the current batch
const DrainTimeout = 30 * time.Second

// App holds the assembled service
type App struct {
	Config      *config.Config
	Metrics     *metrics.Recorder
	DB          *pgxpool.Pool
	Checkpoints checkpoint.Store
	Places      places.Repository
	Queue       *taskqueue.Queue
	Source      *sources.Client
	Pipeline    *pipeline.Pipeline
	Pool        *workers.Pool
	Controller  *controller.Controller
	Sweeper     *sweepers.TaskQueueSweeper
	Cleanup     *jobs.CleanupScheduler

	logger      zerolog.Logger
	closers     []func(context.Context) error
	sweepCancel context.CancelFunc
}

// New builds every component. On error anything already opened is closed.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (_ *App, err error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	a := &App{
		Config:  cfg,
		Metrics: metrics.NewRecorder(),
		logger:  logger.With().Str("component", "app").Logger(),
	}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: Version,
		Environment:    cfg.Telemetry.Environment,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init telemetry: %w", err)
	}
	a.onClose(shutdown)

	notifier, err := a.initStorage(ctx, logger)
	if err != nil {
		return nil, err
	}

	a.Queue, err = taskqueue.New(a.queueStore(), taskqueue.Config{
		MaxRetryAttempts:  cfg.Queue.MaxRetryAttempts,
		BaseDelay:         cfg.Queue.BaseDelay,
		BackoffMultiplier: cfg.Queue.BackoffMultiplier,
		MaxDelay:          cfg.Queue.MaxDelay,
	}, notifier, a.Metrics, logger)
	if err != nil {
		return nil, fmt.Errorf("invalid queue config: %w", err)
	}

	a.Source, err = sources.NewClient(sources.Config{
		Name:              cfg.Sources.Name,
		BaseURL:           cfg.Sources.BaseURL,
		APIKey:            cfg.Sources.APIKey,
		Timeout:           cfg.Sources.Timeout,
		RequestsPerSecond: cfg.Sources.RequestsPerSecond,
		Burst:             cfg.Sources.Burst,
		PageSize:          cfg.Sources.PageSize,
		UserAgent:         cfg.Sources.UserAgent,
		Breaker: sources.CircuitBreakerConfig{
			MaxFailures:      cfg.Sources.Breaker.MaxFailures,
			ResetTimeout:     cfg.Sources.Breaker.ResetTimeout,
			HalfOpenMaxCalls: cfg.Sources.Breaker.HalfOpenMaxCalls,
		},
	}, a.Metrics, logger)
	if err != nil {
		return nil, err
	}

	recent, err := a.initCache(ctx, logger)
	if err != nil {
		return nil, err
	}

	plan, err := LoadRegions(cfg.Regions)
	if err != nil {
		return nil, err
	}

	a.Pipeline, err = pipeline.New(pipeline.Config{
		JobName:      cfg.Pipeline.JobName,
		BatchSize:    cfg.Pipeline.BatchSize,
		ChunksPerRun: cfg.Pipeline.ChunksPerRun,
		Concurrency:  cfg.Pipeline.Concurrency,
		RetryDelay:   cfg.Pipeline.RetryDelay,
		FollowupFlags: types.WorkFlags{
			Menus:   cfg.Pipeline.Followup.Menus,
			Images:  cfg.Pipeline.Followup.Images,
			Reviews: cfg.Pipeline.Followup.Reviews,
		},
		FollowupPriority: taskqueue.Priority(cfg.Pipeline.Followup.Priority),
	}, pipeline.Deps{
		Scanner:     scanner.New(plan, cfg.Pipeline.Queries, cfg.Pipeline.MaxPages),
		Searcher:    a.Source,
		Details:     a.Source,
		Places:      a.Places,
		Checkpoints: a.Checkpoints,
		Filter:      filter.NewCategoryFilter(cfg.Filter.ExcludedCategories),
		Cache:       recent,
		Queue:       a.Queue,
		Policy:      faults.NewPolicy(cfg.Pipeline.SkipLimit, cfg.Pipeline.RetryLimits),
	}, a.Metrics, logger)
	if err != nil {
		return nil, err
	}

	a.Controller, err = controller.New(controller.BatchFunc(func(ctx context.Context) error {
		_, err := a.Pipeline.Run(ctx)
		return err
	}), controller.Config{
		BaseBackoff:       cfg.Controller.BaseBackoff,
		BackoffMultiplier: cfg.Controller.BackoffMultiplier,
		MaxBackoff:        cfg.Controller.MaxBackoff,
		BatchTimeout:      cfg.Controller.BatchTimeout,
	}, a.Metrics, logger)
	if err != nil {
		return nil, fmt.Errorf("invalid controller config: %w", err)
	}

	if cfg.Workers.Enabled {
		a.Pool = workers.New(a.Queue, workers.NewEnrichmentHandler(a.Places, a.Source, logger), workers.Config{
			Threads:           cfg.Workers.Threads,
			PollInterval:      cfg.Workers.PollInterval,
			HeartbeatInterval: cfg.Workers.HeartbeatInterval,
			TaskTimeout:       cfg.Workers.TaskTimeout,
		}, a.Metrics, logger)
		a.Controller.Attach(a.Pool)
	}

	a.Sweeper = sweepers.NewTaskQueueSweeper(a.Queue, logger, cfg.Workers.SweepInterval, cfg.Workers.StaleAfter)

	if cfg.Maintenance.Enabled {
		a.Cleanup, err = jobs.NewCleanupScheduler(a.Queue, jobs.CleanupConfig{
			Schedule:               cfg.Maintenance.Schedule,
			CompletedTaskRetention: cfg.Maintenance.CompletedTaskRetention,
			WorkerRetention:        cfg.Maintenance.WorkerRetention,
			Timeout:                cfg.Maintenance.Timeout,
		}, logger)
		if err != nil {
			return nil, err
		}
	}

	a.logger.Info().
		Str("storage", cfg.Storage.Driver).
		Str("cache", cfg.Cache.Driver).
		Int("regions", len(plan)).
		Bool("workers", cfg.Workers.Enabled).
		Msg("Service assembled")
	return a, nil
}

func (a *App) initStorage(ctx context.Context, logger *zerolog.Logger) (taskqueue.Notifier, error) {
	cfg := a.Config
	if cfg.Storage.Driver == config.DriverMemory {
		a.Checkpoints = checkpoint.NewMemoryStore()
		a.Places = places.NewMemoryRepository()
		return nil, nil
	}

	pool, err := database.Connect(ctx, database.Options{
		URL:             cfg.Database.URL,
		MaxConnections:  cfg.Database.MaxConnections,
		MinConnections:  cfg.Database.MinConnections,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.DB = pool
	a.onClose(func(context.Context) error {
		pool.Close()
		return nil
	})
	a.logger.Info().Msg("Database connected")

	if cfg.Database.AutoMigrate {
		if _, err := database.Migrate(ctx, pool, logger); err != nil {
			return nil, err
		}
	}

	a.Checkpoints = checkpoint.NewPostgresStore(pool)
	a.Places = places.NewPostgresRepository(pool)

	if !cfg.Queue.Listen {
		return nil, nil
	}
	notifier, err := taskqueue.NewPQNotifier(cfg.Database.URL, logger)
	if err != nil {
		a.logger.Warn().Err(err).Msg("Task notifications unavailable, workers will poll")
		return nil, nil
	}
	a.onClose(func(context.Context) error { return notifier.Close() })
	return notifier, nil
}

func (a *App) queueStore() taskqueue.Store {
	if a.DB == nil {
		return taskqueue.NewMemoryStore()
	}
	return taskqueue.NewPostgresStore(a.DB)
}

func (a *App) initCache(ctx context.Context, logger *zerolog.Logger) (cache.Recent, error) {
	cfg := a.Config.Cache
	switch cfg.Driver {
	case config.CacheRedis:
		c, err := cache.NewRedis(ctx, cfg.RedisURL, cfg.TTL, a.Metrics, logger)
		if err != nil {
			return nil, err
		}
		a.onClose(func(context.Context) error { return c.Close() })
		return c, nil
	case config.CacheMemory:
		return cache.NewMemory(cfg.TTL, a.Metrics), nil
	default:
		return cache.Nop{}, nil
	}
}

// LoadRegions reads the scan plan from the configured file, falling back to
// the inline list
func LoadRegions(cfg config.RegionsConfig) ([]scanner.Region, error) {
	plan := cfg.Items
	if cfg.File != "" {
		loaded, err := regions.LoadFile(cfg.File)
		if err != nil {
			return nil, err
		}
		plan = loaded
	}
	if len(plan) == 0 {
		return nil, errors.New("no scan regions configured")
	}
	return plan, nil
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Start recovers orphaned tasks, starts background maintenance and, when
// configured, the ingestion loop
func (a *App) Start(ctx context.Context) {
	if err := a.Sweeper.RecoverOrphanedTasks(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to recover orphaned tasks")
	}

	sweepCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.sweepCancel = cancel
	go a.Sweeper.Start(sweepCtx)

	if a.Cleanup != nil {
		a.Cleanup.Start()
	}
	if a.Config.Controller.AutoStart {
		a.Controller.Start()
	}
}

// Close stops the loop, then background jobs, then releases resources in
// reverse order of acquisition. ctx bounds the wait for the current batch.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Controller != nil && a.Controller.Running() {
		if err := a.Controller.Shutdown(ctx); err != nil && !errors.Is(err, controller.ErrNotRunning) {
			errs = append(errs, err)
		}
	}
	if a.sweepCancel != nil {
		a.Sweeper.Stop()
		a.sweepCancel()
	}
	if a.Cleanup != nil {
		a.Cleanup.Stop()
	}

	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
