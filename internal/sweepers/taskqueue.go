package sweepers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Recoverer is the part of the task queue the sweeper drives
type Recoverer interface {
	RecoverStale(ctx context.Context, staleAfter time.Duration) (recovered, failed int, err error)
	PruneWorkers(ctx context.Context, staleAfter time.Duration) (int64, error)
}

// TaskQueueSweeper periodically returns tasks held by dead workers to the queue
type TaskQueueSweeper struct {
	queue      Recoverer
	logger     *zerolog.Logger
	interval   time.Duration
	staleAfter time.Duration
	stopChan   chan struct{}
	stopOnce   sync.Once
	done       chan struct{}
}

// NewTaskQueueSweeper creates a new sweeper for task queue maintenance.
// A worker is considered dead after staleAfter without a heartbeat.
func NewTaskQueueSweeper(queue Recoverer, logger *zerolog.Logger, interval, staleAfter time.Duration) *TaskQueueSweeper {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "sweeper").Logger()
	return &TaskQueueSweeper{
		queue:      queue,
		logger:     &l,
		interval:   interval,
		staleAfter: staleAfter,
		stopChan:   make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start begins the periodic recovery sweep. It blocks until ctx is done or
// Stop is called.
func (s *TaskQueueSweeper) Start(ctx context.Context) {
	defer close(s.done)

	s.logger.Info().
		Dur("interval", s.interval).
		Dur("stale_after", s.staleAfter).
		Msg("Starting task queue sweeper")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Task queue sweeper stopping (context cancelled)")
			return
		case <-s.stopChan:
			s.logger.Info().Msg("Task queue sweeper stopping (stop signal)")
			return
		case <-ticker.C:
			if err := s.RecoverOrphanedTasks(ctx); err != nil {
				s.logger.Error().Err(err).Msg("Failed to recover orphaned tasks")
			}
		}
	}
}

// Stop signals the sweeper to stop and waits for the loop to exit
func (s *TaskQueueSweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	<-s.done
}

// RecoverOrphanedTasks runs one sweep
func (s *TaskQueueSweeper) RecoverOrphanedTasks(ctx context.Context) error {
	s.logger.Debug().Msg("Running orphaned task recovery")

	recovered, failed, err := s.queue.RecoverStale(ctx, s.staleAfter)
	if err != nil {
		return fmt.Errorf("failed to recover stale tasks: %w", err)
	}

	if recovered > 0 || failed > 0 {
		s.logger.Info().
			Int("recovered", recovered).
			Int("failed", failed).
			Msg("Recovered orphaned tasks")
	}

	pruned, err := s.queue.PruneWorkers(ctx, s.staleAfter)
	if err != nil {
		return fmt.Errorf("failed to prune workers: %w", err)
	}
	if pruned > 0 {
		s.logger.Info().Int64("pruned", pruned).Msg("Pruned dead worker rows")
	}

	return nil
}
