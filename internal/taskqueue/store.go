package taskqueue

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a task ID does not exist
	ErrNotFound = errors.New("task not found")
	// ErrNotOwned is returned when a worker resolves a task it no longer holds
	ErrNotOwned = errors.New("task is not processing for this worker")
	// ErrInvalidTask is returned for tasks missing a target or with an
	// undefined priority
	ErrInvalidTask = errors.New("invalid task")
)

// Store persists tasks, progress rows and worker heartbeats.
//
// Claim must be an atomic compare-and-set from pending|retrying to
// processing; two concurrent callers never receive the same task.
type Store interface {
	Insert(ctx context.Context, t Task) error
	// InsertUnique inserts t unless t.TargetID already has a pending,
	// processing or retrying task. It returns that live task, or nil when t
	// was inserted.
	InsertUnique(ctx context.Context, t Task) (*Task, error)
	Claim(ctx context.Context, workerID string, now time.Time) (*Task, error)
	// Resolve writes t's new status, attempts, schedule and error for a task
	// still processing under workerID, and records p in the same transaction.
	Resolve(ctx context.Context, t Task, workerID string, p TaskProgress) error
	Get(ctx context.Context, id string) (*Task, error)
	Progress(ctx context.Context, id string) ([]TaskProgress, error)
	Counts(ctx context.Context) (Counts, error)
	List(ctx context.Context, status Status, limit int) ([]Task, error)
	// RecoverStale returns processing tasks whose worker stopped heart-beating
	// before staleBefore to the queue, failing those out of attempts.
	RecoverStale(ctx context.Context, staleBefore, now time.Time, maxAttempts int) (recovered, failed int, err error)
	DeleteCompleted(ctx context.Context, before time.Time) (int64, error)

	UpsertWorker(ctx context.Context, w WorkerInfo) error
	DeleteWorker(ctx context.Context, workerID string) error
	Workers(ctx context.Context) ([]WorkerInfo, error)
	PruneWorkers(ctx context.Context, staleBefore time.Time) (int64, error)
}

const lostWorkerError = "worker stopped heart-beating"
