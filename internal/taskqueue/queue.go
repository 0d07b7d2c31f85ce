// Package taskqueue is a durable priority queue of place enrichment tasks
// with exponential retry backoff and a terminal dead-letter state.
package taskqueue

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/kosarica/place-service/internal/metrics"
	"github.com/kosarica/place-service/internal/pkg/ids"
	"github.com/kosarica/place-service/internal/types"
)

// maxErrorLength bounds the error text stored on a task
const maxErrorLength = 2000

// Config holds the retry policy
type Config struct {
	MaxRetryAttempts  int
	BaseDelay         time.Duration
	BackoffMultiplier float64
	// MaxDelay caps the retry delay when positive.
	MaxDelay time.Duration
}

// Validate rejects policies that could never make progress
func (c Config) Validate() error {
	if c.MaxRetryAttempts < 1 {
		return fmt.Errorf("max retry attempts must be at least 1, got %d", c.MaxRetryAttempts)
	}
	if c.BaseDelay < 0 {
		return fmt.Errorf("base delay must not be negative")
	}
	if c.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff multiplier must be at least 1, got %v", c.BackoffMultiplier)
	}
	return nil
}

// Queue applies the task lifecycle on top of a Store
type Queue struct {
	store    Store
	cfg      Config
	notifier Notifier
	metrics  *metrics.Recorder
	logger   zerolog.Logger
	now      func() time.Time
}

// New creates a queue. A nil notifier gets a LocalNotifier.
func New(store Store, cfg Config, notifier Notifier, m *metrics.Recorder, logger *zerolog.Logger) (*Queue, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if notifier == nil {
		notifier = NewLocalNotifier()
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Queue{
		store:    store,
		cfg:      cfg,
		notifier: notifier,
		metrics:  m,
		logger:   logger.With().Str("component", "taskqueue").Logger(),
		now:      time.Now,
	}, nil
}

// Config returns the retry policy
func (q *Queue) Config() Config {
	return q.cfg
}

// Wake fires when new work may be claimable
func (q *Queue) Wake() <-chan struct{} {
	return q.notifier.C()
}

// RetryDelay is baseDelay × multiplier^attempts, capped by MaxDelay
func (q *Queue) RetryDelay(attempts int) time.Duration {
	d := float64(q.cfg.BaseDelay) * math.Pow(q.cfg.BackoffMultiplier, float64(attempts))
	if q.cfg.MaxDelay > 0 && d > float64(q.cfg.MaxDelay) {
		return q.cfg.MaxDelay
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

func (q *Queue) newTask(targetID string, flags types.WorkFlags, priority Priority) (Task, error) {
	if targetID == "" {
		return Task{}, fmt.Errorf("%w: target id is required", ErrInvalidTask)
	}
	if !priority.Valid() {
		return Task{}, fmt.Errorf("%w: priority must be %d or %d, got %d", ErrInvalidTask, PriorityNormal, PriorityHigh, priority)
	}

	now := q.now()
	return Task{
		ID:          ids.NewAt("task", now),
		TargetID:    targetID,
		Flags:       flags,
		Priority:    priority,
		Status:      StatusPending,
		CreatedAt:   now,
		ScheduledAt: now,
		UpdatedAt:   now,
	}, nil
}

func (q *Queue) enqueued(t Task) {
	q.notifier.Notify()
	q.metrics.RecordEnqueue(int(t.Priority))
	q.logger.Debug().
		Str("task_id", t.ID).
		Str("target_id", t.TargetID).
		Int("priority", int(t.Priority)).
		Msg("Task enqueued")
}

// Enqueue creates a pending task scheduled now
func (q *Queue) Enqueue(ctx context.Context, targetID string, flags types.WorkFlags, priority Priority) (*Task, error) {
	t, err := q.newTask(targetID, flags, priority)
	if err != nil {
		return nil, err
	}
	if err := q.store.Insert(ctx, t); err != nil {
		return nil, err
	}
	q.enqueued(t)
	return &t, nil
}

// EnqueueUnique is Enqueue unless targetID already has a task that is not
// completed or failed. That task is returned instead with created false.
func (q *Queue) EnqueueUnique(ctx context.Context, targetID string, flags types.WorkFlags, priority Priority) (task *Task, created bool, err error) {
	t, err := q.newTask(targetID, flags, priority)
	if err != nil {
		return nil, false, err
	}
	live, err := q.store.InsertUnique(ctx, t)
	if err != nil {
		return nil, false, err
	}
	if live != nil {
		return live, false, nil
	}
	q.enqueued(t)
	return &t, true, nil
}

// ClaimNext claims the best eligible task for workerID, or returns nil
func (q *Queue) ClaimNext(ctx context.Context, workerID string) (*Task, error) {
	return q.store.Claim(ctx, workerID, q.now())
}

func (q *Queue) progressFor(t *Task, workerID string, status Status, end time.Time, lastError string) TaskProgress {
	start := end
	if t.StartedAt != nil {
		start = *t.StartedAt
	}
	return TaskProgress{
		TaskID:    t.ID,
		Attempt:   t.Attempt(),
		TargetID:  t.TargetID,
		Status:    status,
		WorkerID:  workerID,
		StartTime: start,
		EndTime:   &end,
		LastError: lastError,
		Flags:     t.Flags,
	}
}

// Complete marks a claimed task completed and records its progress row.
// t is updated in place.
func (q *Queue) Complete(ctx context.Context, t *Task, workerID string) error {
	now := q.now()
	p := q.progressFor(t, workerID, StatusCompleted, now, "")

	next := *t
	next.Status = StatusCompleted
	next.LastError = ""
	next.UpdatedAt = now
	if err := q.store.Resolve(ctx, next, workerID, p); err != nil {
		return err
	}

	next.WorkerID = ""
	*t = next
	q.metrics.RecordTaskFinished(string(StatusCompleted), now.Sub(p.StartTime))
	return nil
}

// Fail records a failed attempt. Below MaxRetryAttempts the task is
// rescheduled as retrying; otherwise it becomes failed and is never
// claimed again. t is updated in place.
func (q *Queue) Fail(ctx context.Context, t *Task, workerID string, cause error) (Status, error) {
	now := q.now()
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if len(msg) > maxErrorLength {
		msg = msg[:maxErrorLength]
	}

	next := *t
	next.Attempts = t.Attempts + 1
	next.LastError = msg
	next.UpdatedAt = now
	if next.Attempts < q.cfg.MaxRetryAttempts {
		next.Status = StatusRetrying
		next.ScheduledAt = now.Add(q.RetryDelay(next.Attempts))
	} else {
		next.Status = StatusFailed
	}

	p := q.progressFor(t, workerID, next.Status, now, msg)
	if err := q.store.Resolve(ctx, next, workerID, p); err != nil {
		return "", err
	}

	next.WorkerID = ""
	*t = next
	q.metrics.RecordTaskFinished(string(next.Status), now.Sub(p.StartTime))

	event := q.logger.Warn()
	if next.Status == StatusFailed {
		event = q.logger.Error()
	}
	event.
		Str("task_id", t.ID).
		Str("target_id", t.TargetID).
		Int("attempts", t.Attempts).
		Str("status", string(t.Status)).
		Time("scheduled_at", t.ScheduledAt).
		Str("error", msg).
		Msg("Task attempt failed")

	return next.Status, nil
}

// Stats returns a queue snapshot including the worker table
func (q *Queue) Stats(ctx context.Context) (QueueStats, error) {
	counts, err := q.store.Counts(ctx)
	if err != nil {
		return QueueStats{}, err
	}
	workers, err := q.store.Workers(ctx)
	if err != nil {
		return QueueStats{}, err
	}

	stats := QueueStats{
		PendingCount:    counts.ByStatus[StatusPending],
		PriorityCount:   counts.PriorityPending,
		ProcessingCount: counts.ByStatus[StatusProcessing],
		CompletedCount:  counts.ByStatus[StatusCompleted],
		FailedCount:     counts.ByStatus[StatusFailed],
		RetryingCount:   counts.ByStatus[StatusRetrying],
		TotalWorkers:    len(workers),
		LastUpdated:     q.now(),
		Workers:         workers,
	}
	for _, w := range workers {
		if w.Status == WorkerActive || w.Status == WorkerIdle {
			stats.ActiveWorkers++
		}
	}

	depth := make(map[string]int, len(counts.ByStatus))
	for _, s := range []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusRetrying} {
		depth[string(s)] = counts.ByStatus[s]
	}
	q.metrics.RecordQueueDepth(depth)
	return stats, nil
}

func (q *Queue) Get(ctx context.Context, id string) (*Task, error) {
	return q.store.Get(ctx, id)
}

func (q *Queue) Progress(ctx context.Context, id string) ([]TaskProgress, error) {
	return q.store.Progress(ctx, id)
}

// DeadLetters lists terminally failed tasks, most recent first
func (q *Queue) DeadLetters(ctx context.Context, limit int) ([]Task, error) {
	return q.store.List(ctx, StatusFailed, limit)
}

// Heartbeat upserts a worker row
func (q *Queue) Heartbeat(ctx context.Context, w WorkerInfo) error {
	return q.store.UpsertWorker(ctx, w)
}

// RemoveWorker deletes a worker row on shutdown
func (q *Queue) RemoveWorker(ctx context.Context, workerID string) error {
	return q.store.DeleteWorker(ctx, workerID)
}

// RecoverStale requeues processing tasks whose worker has not heart-beaten
// within staleAfter. Each recovery counts as a failed attempt.
func (q *Queue) RecoverStale(ctx context.Context, staleAfter time.Duration) (recovered, failed int, err error) {
	now := q.now()
	recovered, failed, err = q.store.RecoverStale(ctx, now.Add(-staleAfter), now, q.cfg.MaxRetryAttempts)
	if err != nil {
		return 0, 0, err
	}
	if recovered > 0 || failed > 0 {
		q.metrics.RecordRecovered(recovered + failed)
		q.notifier.Notify()
	}
	return recovered, failed, nil
}

// PruneWorkers deletes worker rows with no heartbeat within staleAfter
func (q *Queue) PruneWorkers(ctx context.Context, staleAfter time.Duration) (int64, error) {
	return q.store.PruneWorkers(ctx, q.now().Add(-staleAfter))
}

// Cleanup deletes completed tasks older than retention. Failed tasks are
// kept for audit.
func (q *Queue) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	return q.store.DeleteCompleted(ctx, q.now().Add(-retention))
}
