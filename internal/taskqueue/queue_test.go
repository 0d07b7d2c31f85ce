package taskqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kosarica/place-service/internal/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestQueue(t *testing.T, cfg Config) (*Queue, *MemoryStore, *fakeClock) {
	t.Helper()
	store := NewMemoryStore()
	q, err := New(store, cfg, nil, nil, nil)
	require.NoError(t, err)
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	q.now = clock.Now
	return q, store, clock
}

func defaultTestConfig() Config {
	return Config{MaxRetryAttempts: 3, BaseDelay: time.Second, BackoffMultiplier: 2}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", defaultTestConfig(), false},
		{"zero attempts", Config{MaxRetryAttempts: 0, BackoffMultiplier: 2}, true},
		{"negative delay", Config{MaxRetryAttempts: 1, BaseDelay: -time.Second, BackoffMultiplier: 2}, true},
		{"multiplier below one", Config{MaxRetryAttempts: 1, BackoffMultiplier: 0.5}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEnqueueCreatesPendingTask(t *testing.T) {
	q, _, clock := newTestQueue(t, defaultTestConfig())
	ctx := context.Background()

	task, err := q.Enqueue(ctx, "place-1", types.WorkFlags{Menus: true}, PriorityNormal)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, task.Status)
	assert.Equal(t, clock.Now(), task.ScheduledAt)
	assert.Contains(t, task.ID, "task_")

	select {
	case <-q.Wake():
	default:
		t.Fatal("enqueue did not notify")
	}

	_, err = q.Enqueue(ctx, "", types.WorkFlags{}, PriorityNormal)
	assert.ErrorIs(t, err, ErrInvalidTask)
}

func TestEnqueueRejectsUndefinedPriority(t *testing.T) {
	q, store, _ := newTestQueue(t, defaultTestConfig())
	ctx := context.Background()

	for _, p := range []Priority{-1, 2, 7} {
		_, err := q.Enqueue(ctx, "place-1", types.WorkFlags{Menus: true}, p)
		assert.ErrorIs(t, err, ErrInvalidTask, "priority %d", p)

		_, _, err = q.EnqueueUnique(ctx, "place-1", types.WorkFlags{Menus: true}, p)
		assert.ErrorIs(t, err, ErrInvalidTask, "priority %d", p)
	}

	c, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Zero(t, c.ByStatus[StatusPending], "nothing was stored")
}

func TestEnqueueUniqueReturnsLiveTask(t *testing.T) {
	q, _, _ := newTestQueue(t, Config{MaxRetryAttempts: 2, BaseDelay: 0, BackoffMultiplier: 1})
	ctx := context.Background()

	first, created, err := q.EnqueueUnique(ctx, "place-1", types.WorkFlags{Menus: true}, PriorityNormal)
	require.NoError(t, err)
	assert.True(t, created)

	// pending, processing and retrying tasks all count as live
	again, created, err := q.EnqueueUnique(ctx, "place-1", types.WorkFlags{Menus: true}, PriorityNormal)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	claimed, err := q.ClaimNext(ctx, "w-1")
	require.NoError(t, err)
	_, created, err = q.EnqueueUnique(ctx, "place-1", types.WorkFlags{Menus: true}, PriorityNormal)
	require.NoError(t, err)
	assert.False(t, created)

	_, err = q.Fail(ctx, claimed, "w-1", errors.New("boom"))
	require.NoError(t, err)
	require.Equal(t, StatusRetrying, claimed.Status)
	_, created, err = q.EnqueueUnique(ctx, "place-1", types.WorkFlags{Menus: true}, PriorityNormal)
	require.NoError(t, err)
	assert.False(t, created)

	// a different target is independent
	_, created, err = q.EnqueueUnique(ctx, "place-2", types.WorkFlags{Menus: true}, PriorityNormal)
	require.NoError(t, err)
	assert.True(t, created)

	// once the task is terminal a new one may be created
	claimed, err = q.ClaimNext(ctx, "w-1")
	require.NoError(t, err)
	require.Equal(t, first.ID, claimed.ID)
	_, err = q.Fail(ctx, claimed, "w-1", errors.New("boom"))
	require.NoError(t, err)
	require.Equal(t, StatusFailed, claimed.Status)

	next, created, err := q.EnqueueUnique(ctx, "place-1", types.WorkFlags{Menus: true}, PriorityNormal)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, next.ID)
}

func TestClaimPrefersHigherPriority(t *testing.T) {
	q, _, _ := newTestQueue(t, defaultTestConfig())
	ctx := context.Background()

	a, err := q.Enqueue(ctx, "a", types.WorkFlags{}, PriorityHigh)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "b", types.WorkFlags{}, PriorityNormal)
	require.NoError(t, err)

	claimed, err := q.ClaimNext(ctx, "w-1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, a.ID, claimed.ID)
	assert.Equal(t, StatusProcessing, claimed.Status)
	assert.Equal(t, "w-1", claimed.WorkerID)
}

func TestClaimTiesBreakOnScheduledAt(t *testing.T) {
	q, _, clock := newTestQueue(t, defaultTestConfig())
	ctx := context.Background()

	first, _ := q.Enqueue(ctx, "first", types.WorkFlags{}, PriorityNormal)
	clock.Advance(time.Millisecond)
	_, _ = q.Enqueue(ctx, "second", types.WorkFlags{}, PriorityNormal)

	claimed, err := q.ClaimNext(ctx, "w-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, claimed.ID)
}

func TestClaimReturnsNilWhenEmpty(t *testing.T) {
	q, _, _ := newTestQueue(t, defaultTestConfig())
	claimed, err := q.ClaimNext(context.Background(), "w-1")
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestConcurrentClaimsHaveOneWinner(t *testing.T) {
	q, _, _ := newTestQueue(t, defaultTestConfig())
	ctx := context.Background()
	_, err := q.Enqueue(ctx, "only", types.WorkFlags{}, PriorityNormal)
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task, err := q.ClaimNext(ctx, "w")
			if err == nil && task != nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestCompleteRecordsProgress(t *testing.T) {
	q, _, clock := newTestQueue(t, defaultTestConfig())
	ctx := context.Background()

	_, _ = q.Enqueue(ctx, "p", types.WorkFlags{Images: true}, PriorityNormal)
	task, err := q.ClaimNext(ctx, "w-1")
	require.NoError(t, err)

	clock.Advance(2 * time.Second)
	require.NoError(t, q.Complete(ctx, task, "w-1"))
	assert.Equal(t, StatusCompleted, task.Status)

	progress, err := q.Progress(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, progress, 1)
	assert.Equal(t, 1, progress[0].Attempt)
	assert.Equal(t, StatusCompleted, progress[0].Status)
	assert.True(t, progress[0].Flags.Images)
	require.NotNil(t, progress[0].EndTime)
	assert.Equal(t, 2*time.Second, progress[0].EndTime.Sub(progress[0].StartTime))
}

func TestCompleteByAnotherWorkerIsRejected(t *testing.T) {
	q, _, _ := newTestQueue(t, defaultTestConfig())
	ctx := context.Background()

	_, _ = q.Enqueue(ctx, "p", types.WorkFlags{}, PriorityNormal)
	task, _ := q.ClaimNext(ctx, "w-1")

	err := q.Complete(ctx, task, "w-2")
	assert.ErrorIs(t, err, ErrNotOwned)
	assert.Equal(t, StatusProcessing, task.Status)
}

func TestFailSchedulesRetryWithBackoff(t *testing.T) {
	q, _, clock := newTestQueue(t, defaultTestConfig())
	ctx := context.Background()

	_, _ = q.Enqueue(ctx, "p", types.WorkFlags{}, PriorityNormal)
	task, _ := q.ClaimNext(ctx, "w-1")

	status, err := q.Fail(ctx, task, "w-1", errors.New("upstream 503"))
	require.NoError(t, err)
	assert.Equal(t, StatusRetrying, status)
	assert.Equal(t, 1, task.Attempts)
	assert.Equal(t, "upstream 503", task.LastError)
	// base × multiplier^attempts = 1s × 2^1
	assert.Equal(t, clock.Now().Add(2*time.Second), task.ScheduledAt)

	again, err := q.ClaimNext(ctx, "w-1")
	require.NoError(t, err)
	assert.Nil(t, again, "not eligible before scheduledAt")

	clock.Advance(2 * time.Second)
	again, err = q.ClaimNext(ctx, "w-1")
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, task.ID, again.ID)
	assert.Equal(t, 2, again.Attempt())
}

func TestFailThreeTimesIsTerminal(t *testing.T) {
	q, _, clock := newTestQueue(t, defaultTestConfig())
	ctx := context.Background()

	created, _ := q.Enqueue(ctx, "p", types.WorkFlags{}, PriorityNormal)

	var last Status
	for i := 0; i < 3; i++ {
		clock.Advance(time.Hour)
		task, err := q.ClaimNext(ctx, "w-1")
		require.NoError(t, err)
		require.NotNil(t, task, "attempt %d", i+1)
		assert.LessOrEqual(t, task.Attempts, 3)

		last, err = q.Fail(ctx, task, "w-1", errors.New("boom"))
		require.NoError(t, err)
	}
	assert.Equal(t, StatusFailed, last)

	clock.Advance(24 * time.Hour)
	task, err := q.ClaimNext(ctx, "w-1")
	require.NoError(t, err)
	assert.Nil(t, task, "failed tasks are never claimed")

	stored, err := q.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stored.Status)
	assert.Equal(t, 3, stored.Attempts)

	dead, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, created.ID, dead[0].ID)

	progress, err := q.Progress(ctx, created.ID)
	require.NoError(t, err)
	assert.Len(t, progress, 3)
}

func TestRetryDelay(t *testing.T) {
	q, _, _ := newTestQueue(t, Config{
		MaxRetryAttempts:  5,
		BaseDelay:         time.Second,
		BackoffMultiplier: 3,
		MaxDelay:          20 * time.Second,
	})

	assert.Equal(t, time.Second, q.RetryDelay(0))
	assert.Equal(t, 3*time.Second, q.RetryDelay(1))
	assert.Equal(t, 9*time.Second, q.RetryDelay(2))
	assert.Equal(t, 20*time.Second, q.RetryDelay(3))
}

func TestStats(t *testing.T) {
	q, _, _ := newTestQueue(t, defaultTestConfig())
	ctx := context.Background()

	_, _ = q.Enqueue(ctx, "a", types.WorkFlags{}, PriorityHigh)
	_, _ = q.Enqueue(ctx, "b", types.WorkFlags{}, PriorityNormal)
	_, _ = q.Enqueue(ctx, "c", types.WorkFlags{}, PriorityNormal)
	claimed, _ := q.ClaimNext(ctx, "w-1")
	require.NoError(t, q.Complete(ctx, claimed, "w-1"))
	_, _ = q.ClaimNext(ctx, "w-1")

	require.NoError(t, q.Heartbeat(ctx, WorkerInfo{WorkerID: "w-1", Status: WorkerActive}))
	require.NoError(t, q.Heartbeat(ctx, WorkerInfo{WorkerID: "w-2", Status: WorkerStopping}))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PendingCount)
	assert.Equal(t, 0, stats.PriorityCount)
	assert.Equal(t, 1, stats.ProcessingCount)
	assert.Equal(t, 1, stats.CompletedCount)
	assert.Equal(t, 2, stats.TotalWorkers)
	assert.Equal(t, 1, stats.ActiveWorkers)
}

func TestRecoverStale(t *testing.T) {
	q, _, clock := newTestQueue(t, Config{MaxRetryAttempts: 2, BaseDelay: time.Second, BackoffMultiplier: 2})
	ctx := context.Background()

	_, _ = q.Enqueue(ctx, "a", types.WorkFlags{}, PriorityNormal)
	_, _ = q.Enqueue(ctx, "b", types.WorkFlags{}, PriorityNormal)

	a, _ := q.ClaimNext(ctx, "dead-worker")
	b, _ := q.ClaimNext(ctx, "live-worker")
	require.NoError(t, q.Heartbeat(ctx, WorkerInfo{WorkerID: "dead-worker", LastHeartbeat: clock.Now()}))

	clock.Advance(5 * time.Minute)
	require.NoError(t, q.Heartbeat(ctx, WorkerInfo{WorkerID: "live-worker", LastHeartbeat: clock.Now()}))

	recovered, failed, err := q.RecoverStale(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)
	assert.Equal(t, 0, failed)

	stored, _ := q.Get(ctx, a.ID)
	assert.Equal(t, StatusRetrying, stored.Status)
	assert.Equal(t, 1, stored.Attempts)

	stored, _ = q.Get(ctx, b.ID)
	assert.Equal(t, StatusProcessing, stored.Status)

	pruned, err := q.PruneWorkers(ctx, time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, pruned)
}

func TestCleanupKeepsFailedTasks(t *testing.T) {
	q, _, clock := newTestQueue(t, Config{MaxRetryAttempts: 1, BaseDelay: time.Second, BackoffMultiplier: 2})
	ctx := context.Background()

	_, _ = q.Enqueue(ctx, "ok", types.WorkFlags{}, PriorityHigh)
	_, _ = q.Enqueue(ctx, "bad", types.WorkFlags{}, PriorityNormal)

	ok, _ := q.ClaimNext(ctx, "w")
	require.NoError(t, q.Complete(ctx, ok, "w"))
	bad, _ := q.ClaimNext(ctx, "w")
	_, err := q.Fail(ctx, bad, "w", errors.New("boom"))
	require.NoError(t, err)

	clock.Advance(48 * time.Hour)
	n, err := q.Cleanup(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = q.Get(ctx, ok.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = q.Get(ctx, bad.ID)
	assert.NoError(t, err)
}

func TestLocalNotifierCoalesces(t *testing.T) {
	n := NewLocalNotifier()
	n.Notify()
	n.Notify()

	<-n.C()
	select {
	case <-n.C():
		t.Fatal("expected a single pending notification")
	default:
	}
}
