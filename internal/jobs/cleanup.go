// Package jobs runs periodic retention cleanup on a cron schedule.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Cleaner is the part of the task queue the cleanup jobs use
type Cleaner interface {
	Cleanup(ctx context.Context, retention time.Duration) (int64, error)
	PruneWorkers(ctx context.Context, staleAfter time.Duration) (int64, error)
}

// CleanupConfig configures retention policies for cleanup jobs
type CleanupConfig struct {
	// Schedule is a five-field cron expression.
	Schedule               string
	CompletedTaskRetention time.Duration
	WorkerRetention        time.Duration
	Timeout                time.Duration
}

// DefaultCleanupConfig returns the default retention policy
func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{
		Schedule:               "0 3 * * *",
		CompletedTaskRetention: 7 * 24 * time.Hour,
		WorkerRetention:        24 * time.Hour,
		Timeout:                10 * time.Minute,
	}
}

// RunAllCleanupJobs runs every cleanup job in sequence. A failing job does
// not stop the others; the first error is returned.
func RunAllCleanupJobs(ctx context.Context, cleaner Cleaner, cfg CleanupConfig, logger *zerolog.Logger) error {
	var firstErr error

	logger.Info().Msg("Starting cleanup jobs")

	tasks, err := cleaner.Cleanup(ctx, cfg.CompletedTaskRetention)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to clean up completed tasks")
		firstErr = fmt.Errorf("cleanup tasks: %w", err)
	} else {
		logger.Info().
			Int64("rows_deleted", tasks).
			Dur("retention", cfg.CompletedTaskRetention).
			Msg("Cleaned up completed tasks")
	}

	workers, err := cleaner.PruneWorkers(ctx, cfg.WorkerRetention)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to prune worker rows")
		if firstErr == nil {
			firstErr = fmt.Errorf("prune workers: %w", err)
		}
	} else if workers > 0 {
		logger.Info().Int64("rows_deleted", workers).Msg("Pruned stale worker rows")
	}

	logger.Info().Msg("Cleanup jobs completed")
	return firstErr
}

// CleanupScheduler runs RunAllCleanupJobs on a cron schedule
type CleanupScheduler struct {
	cron    *cron.Cron
	cleaner Cleaner
	config  CleanupConfig
	logger  zerolog.Logger
}

// NewCleanupScheduler parses the schedule and registers the cleanup job
func NewCleanupScheduler(cleaner Cleaner, config CleanupConfig, logger *zerolog.Logger) (*CleanupScheduler, error) {
	def := DefaultCleanupConfig()
	if config.Schedule == "" {
		config.Schedule = def.Schedule
	}
	if config.CompletedTaskRetention <= 0 {
		config.CompletedTaskRetention = def.CompletedTaskRetention
	}
	if config.WorkerRetention <= 0 {
		config.WorkerRetention = def.WorkerRetention
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	s := &CleanupScheduler{
		cron:    cron.New(cron.WithParser(cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow))),
		cleaner: cleaner,
		config:  config,
		logger:  logger.With().Str("component", "cleanup").Logger(),
	}

	if _, err := s.cron.AddFunc(config.Schedule, s.run); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", config.Schedule, err)
	}
	return s, nil
}

func (s *CleanupScheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Timeout)
	defer cancel()
	if err := RunAllCleanupJobs(ctx, s.cleaner, s.config, &s.logger); err != nil {
		s.logger.Warn().Err(err).Msg("Cleanup run finished with errors")
	}
}

// Start begins running the schedule in the background
func (s *CleanupScheduler) Start() {
	s.logger.Info().Str("schedule", s.config.Schedule).Msg("Starting cleanup scheduler")
	s.cron.Start()
}

// Stop stops the schedule and waits for a running job to finish
func (s *CleanupScheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Next returns the next scheduled run
func (s *CleanupScheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}
