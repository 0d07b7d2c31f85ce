package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kosarica/place-service/internal/database"
	"github.com/kosarica/place-service/internal/faults"
)

// NotifyChannel is the LISTEN/NOTIFY channel raised on every enqueue
const NotifyChannel = "task_queue"

const taskColumns = `task_id, target_id, menus, images, reviews, priority, attempts, status,
	worker_id, last_error, created_at, scheduled_at, started_at, updated_at`

const insertTaskSQL = `
	INSERT INTO tasks (
		task_id, target_id, menus, images, reviews, priority, attempts, status,
		created_at, scheduled_at, updated_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $9)
`

// liveTaskLockSQL serializes unique enqueues per target for the rest of
// the transaction
const liveTaskLockSQL = `SELECT pg_advisory_xact_lock(hashtext($1))`

const liveTaskSQL = `
	SELECT ` + taskColumns + `
	FROM tasks
	WHERE target_id = $1 AND status IN ('pending', 'processing', 'retrying')
	ORDER BY created_at ASC
	LIMIT 1
`

const notifySQL = `SELECT pg_notify('` + NotifyChannel + `', $1)`

// claimTaskSQL picks and flips one row in a single statement. SKIP LOCKED
// lets concurrent claimers pass over rows another transaction is taking.
const claimTaskSQL = `
	UPDATE tasks
	SET status = 'processing', worker_id = $1, started_at = $2, updated_at = $2
	WHERE task_id = (
		SELECT task_id FROM tasks
		WHERE status IN ('pending', 'retrying') AND scheduled_at <= $2
		ORDER BY priority DESC, scheduled_at ASC, created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	)
	AND status IN ('pending', 'retrying')
	RETURNING ` + taskColumns

const resolveTaskSQL = `
	UPDATE tasks
	SET status = $3, attempts = $4, scheduled_at = $5, last_error = $6,
	    worker_id = NULL, updated_at = $7
	WHERE task_id = $1 AND worker_id = $2 AND status = 'processing'
`

const upsertProgressSQL = `
	INSERT INTO task_progress (
		task_id, attempt, target_id, status, worker_id, start_time, end_time,
		last_error, menus, images, reviews
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (task_id, attempt) DO UPDATE SET
		status = EXCLUDED.status,
		end_time = EXCLUDED.end_time,
		last_error = EXCLUDED.last_error
`

const countTasksSQL = `
	SELECT status,
	       COUNT(*),
	       COUNT(*) FILTER (WHERE priority > 0 AND status IN ('pending', 'retrying'))
	FROM tasks
	GROUP BY status
`

const recoverStaleSQL = `
	UPDATE tasks t
	SET attempts = t.attempts + 1,
	    status = CASE WHEN t.attempts + 1 >= $3 THEN 'failed' ELSE 'retrying' END,
	    worker_id = NULL,
	    last_error = $4,
	    scheduled_at = $2,
	    updated_at = $2
	WHERE t.status = 'processing'
	  AND NOT EXISTS (
		SELECT 1 FROM workers w
		WHERE w.worker_id = t.worker_id AND w.last_heartbeat >= $1
	  )
	RETURNING t.status
`

const upsertWorkerSQL = `
	INSERT INTO workers (
		worker_id, hostname, threads, enabled, status, started_at, last_heartbeat,
		tasks_processed, tasks_failed, current_task_id
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (worker_id) DO UPDATE SET
		hostname = EXCLUDED.hostname,
		threads = EXCLUDED.threads,
		enabled = EXCLUDED.enabled,
		status = EXCLUDED.status,
		last_heartbeat = EXCLUDED.last_heartbeat,
		tasks_processed = EXCLUDED.tasks_processed,
		tasks_failed = EXCLUDED.tasks_failed,
		current_task_id = EXCLUDED.current_task_id
`

const workerColumns = `worker_id, hostname, threads, enabled, status, started_at, last_heartbeat,
	tasks_processed, tasks_failed, current_task_id`

// PostgresStore keeps the queue in Postgres
type PostgresStore struct {
	db database.DB
}

// NewPostgresStore creates a store backed by db
func NewPostgresStore(db database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func scanTask(row pgx.Row) (*Task, error) {
	var (
		t         Task
		priority  int
		status    string
		workerID  *string
		lastError *string
	)
	err := row.Scan(
		&t.ID, &t.TargetID, &t.Flags.Menus, &t.Flags.Images, &t.Flags.Reviews,
		&priority, &t.Attempts, &status, &workerID, &lastError,
		&t.CreatedAt, &t.ScheduledAt, &t.StartedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Priority = Priority(priority)
	t.Status = Status(status)
	if workerID != nil {
		t.WorkerID = *workerID
	}
	if lastError != nil {
		t.LastError = *lastError
	}
	return &t, nil
}

// Insert stores the task and notifies listeners once the row is committed
func (s *PostgresStore) Insert(ctx context.Context, t Task) error {
	_, err := s.insert(ctx, t, false)
	return err
}

// InsertUnique checks for a live task and inserts under a per-target
// advisory lock, so concurrent callers for one target create one task.
func (s *PostgresStore) InsertUnique(ctx context.Context, t Task) (*Task, error) {
	return s.insert(ctx, t, true)
}

func (s *PostgresStore) insert(ctx context.Context, t Task, unique bool) (*Task, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, faults.Storage(fmt.Errorf("failed to begin enqueue transaction: %w", err))
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if unique {
		if _, err := tx.Exec(ctx, liveTaskLockSQL, t.TargetID); err != nil {
			return nil, faults.Storage(fmt.Errorf("failed to lock target %s: %w", t.TargetID, err))
		}
		live, err := scanTask(tx.QueryRow(ctx, liveTaskSQL, t.TargetID))
		if err == nil {
			return live, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, faults.Storage(fmt.Errorf("failed to look up live task for %s: %w", t.TargetID, err))
		}
	}

	if _, err := tx.Exec(ctx, insertTaskSQL,
		t.ID, t.TargetID, t.Flags.Menus, t.Flags.Images, t.Flags.Reviews,
		int(t.Priority), t.Attempts, string(t.Status), t.CreatedAt, t.ScheduledAt,
	); err != nil {
		return nil, faults.Storage(fmt.Errorf("failed to insert task: %w", err))
	}

	if _, err := tx.Exec(ctx, notifySQL, t.ID); err != nil {
		return nil, faults.Storage(fmt.Errorf("failed to notify task queue: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, faults.Storage(fmt.Errorf("failed to commit task: %w", err))
	}
	return nil, nil
}

func (s *PostgresStore) Claim(ctx context.Context, workerID string, now time.Time) (*Task, error) {
	t, err := scanTask(s.db.QueryRow(ctx, claimTaskSQL, workerID, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, faults.Storage(fmt.Errorf("failed to claim task: %w", err))
	}
	return t, nil
}

func (s *PostgresStore) Resolve(ctx context.Context, t Task, workerID string, p TaskProgress) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return faults.Storage(fmt.Errorf("failed to begin resolve transaction: %w", err))
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	tag, err := tx.Exec(ctx, resolveTaskSQL,
		t.ID, workerID, string(t.Status), t.Attempts, t.ScheduledAt, nullString(t.LastError), t.UpdatedAt,
	)
	if err != nil {
		return faults.Storage(fmt.Errorf("failed to update task %s: %w", t.ID, err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotOwned
	}

	if _, err := tx.Exec(ctx, upsertProgressSQL,
		p.TaskID, p.Attempt, p.TargetID, string(p.Status), p.WorkerID, p.StartTime, p.EndTime,
		nullString(p.LastError), p.Flags.Menus, p.Flags.Images, p.Flags.Reviews,
	); err != nil {
		return faults.Storage(fmt.Errorf("failed to record progress for %s: %w", t.ID, err))
	}

	if err := tx.Commit(ctx); err != nil {
		return faults.Storage(fmt.Errorf("failed to commit task %s: %w", t.ID, err))
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Task, error) {
	t, err := scanTask(s.db.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE task_id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, faults.Storage(fmt.Errorf("failed to get task %s: %w", id, err))
	}
	return t, nil
}

func (s *PostgresStore) Progress(ctx context.Context, id string) ([]TaskProgress, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, `
		SELECT task_id, attempt, target_id, status, worker_id, start_time, end_time,
		       last_error, menus, images, reviews
		FROM task_progress
		WHERE task_id = $1
		ORDER BY attempt
	`, id)
	if err != nil {
		return nil, faults.Storage(fmt.Errorf("failed to query progress for %s: %w", id, err))
	}
	defer rows.Close()

	out := make([]TaskProgress, 0)
	for rows.Next() {
		var (
			p         TaskProgress
			status    string
			lastError *string
		)
		if err := rows.Scan(
			&p.TaskID, &p.Attempt, &p.TargetID, &status, &p.WorkerID, &p.StartTime, &p.EndTime,
			&lastError, &p.Flags.Menus, &p.Flags.Images, &p.Flags.Reviews,
		); err != nil {
			return nil, faults.Storage(fmt.Errorf("failed to scan progress: %w", err))
		}
		p.Status = Status(status)
		if lastError != nil {
			p.LastError = *lastError
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, faults.Storage(err)
	}
	return out, nil
}

func (s *PostgresStore) Counts(ctx context.Context) (Counts, error) {
	rows, err := s.db.Query(ctx, countTasksSQL)
	if err != nil {
		return Counts{}, faults.Storage(fmt.Errorf("failed to count tasks: %w", err))
	}
	defer rows.Close()

	c := Counts{ByStatus: make(map[Status]int)}
	for rows.Next() {
		var (
			status      string
			n, priority int
		)
		if err := rows.Scan(&status, &n, &priority); err != nil {
			return Counts{}, faults.Storage(fmt.Errorf("failed to scan task counts: %w", err))
		}
		c.ByStatus[Status(status)] = n
		c.PriorityPending += priority
	}
	if err := rows.Err(); err != nil {
		return Counts{}, faults.Storage(err)
	}
	return c, nil
}

func (s *PostgresStore) List(ctx context.Context, status Status, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE status = $1
		ORDER BY updated_at DESC
		LIMIT $2
	`, string(status), limit)
	if err != nil {
		return nil, faults.Storage(fmt.Errorf("failed to list %s tasks: %w", status, err))
	}
	defer rows.Close()

	out := make([]Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, faults.Storage(fmt.Errorf("failed to scan task: %w", err))
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, faults.Storage(err)
	}
	return out, nil
}

func (s *PostgresStore) RecoverStale(ctx context.Context, staleBefore, now time.Time, maxAttempts int) (int, int, error) {
	rows, err := s.db.Query(ctx, recoverStaleSQL, staleBefore, now, maxAttempts, lostWorkerError)
	if err != nil {
		return 0, 0, faults.Storage(fmt.Errorf("failed to recover stale tasks: %w", err))
	}
	defer rows.Close()

	var recovered, failed int
	for rows.Next() {
		var status string
		if err := rows.Scan(&status); err != nil {
			return 0, 0, faults.Storage(err)
		}
		if Status(status) == StatusFailed {
			failed++
		} else {
			recovered++
		}
	}
	if err := rows.Err(); err != nil {
		return 0, 0, faults.Storage(err)
	}
	return recovered, failed, nil
}

// DeleteCompleted removes completed tasks last updated before the cutoff,
// along with their progress rows. Failed tasks are kept.
func (s *PostgresStore) DeleteCompleted(ctx context.Context, before time.Time) (int64, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, faults.Storage(fmt.Errorf("failed to begin cleanup transaction: %w", err))
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `
		DELETE FROM task_progress
		WHERE task_id IN (SELECT task_id FROM tasks WHERE status = 'completed' AND updated_at < $1)
	`, before); err != nil {
		return 0, faults.Storage(fmt.Errorf("failed to delete task progress: %w", err))
	}

	tag, err := tx.Exec(ctx, `DELETE FROM tasks WHERE status = 'completed' AND updated_at < $1`, before)
	if err != nil {
		return 0, faults.Storage(fmt.Errorf("failed to delete tasks: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, faults.Storage(fmt.Errorf("failed to commit cleanup: %w", err))
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) UpsertWorker(ctx context.Context, w WorkerInfo) error {
	_, err := s.db.Exec(ctx, upsertWorkerSQL,
		w.WorkerID, w.Hostname, w.Threads, w.Enabled, string(w.Status), w.StartedAt, w.LastHeartbeat,
		w.TasksProcessed, w.TasksFailed, nullString(w.CurrentTaskID),
	)
	if err != nil {
		return faults.Storage(fmt.Errorf("failed to upsert worker %s: %w", w.WorkerID, err))
	}
	return nil
}

func (s *PostgresStore) DeleteWorker(ctx context.Context, workerID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM workers WHERE worker_id = $1`, workerID); err != nil {
		return faults.Storage(fmt.Errorf("failed to delete worker %s: %w", workerID, err))
	}
	return nil
}

func (s *PostgresStore) Workers(ctx context.Context) ([]WorkerInfo, error) {
	rows, err := s.db.Query(ctx, `SELECT `+workerColumns+` FROM workers ORDER BY worker_id`)
	if err != nil {
		return nil, faults.Storage(fmt.Errorf("failed to list workers: %w", err))
	}
	defer rows.Close()

	out := make([]WorkerInfo, 0)
	for rows.Next() {
		var (
			w       WorkerInfo
			status  string
			current *string
		)
		if err := rows.Scan(
			&w.WorkerID, &w.Hostname, &w.Threads, &w.Enabled, &status, &w.StartedAt, &w.LastHeartbeat,
			&w.TasksProcessed, &w.TasksFailed, &current,
		); err != nil {
			return nil, faults.Storage(fmt.Errorf("failed to scan worker: %w", err))
		}
		w.Status = WorkerStatus(status)
		if current != nil {
			w.CurrentTaskID = *current
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, faults.Storage(err)
	}
	return out, nil
}

func (s *PostgresStore) PruneWorkers(ctx context.Context, staleBefore time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM workers WHERE last_heartbeat < $1`, staleBefore)
	if err != nil {
		return 0, faults.Storage(fmt.Errorf("failed to prune workers: %w", err))
	}
	return tag.RowsAffected(), nil
}
