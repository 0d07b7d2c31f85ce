package controller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		BaseBackoff:       time.Millisecond,
		BackoffMultiplier: 2,
		MaxBackoff:        4 * time.Millisecond,
	}
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, testConfig().Validate())

	bad := testConfig()
	bad.BackoffMultiplier = 0.5
	assert.Error(t, bad.Validate())

	bad = testConfig()
	bad.MaxBackoff = 0
	assert.Error(t, bad.Validate())

	// a zero base would retry a failing batch in a hot loop
	bad = testConfig()
	bad.BaseBackoff = 0
	assert.Error(t, bad.Validate())
}

func TestNextBackoff(t *testing.T) {
	c, err := New(BatchFunc(func(context.Context) error { return nil }), Config{
		BaseBackoff:       time.Second,
		BackoffMultiplier: 2,
		MaxBackoff:        10 * time.Second,
	}, nil, nil)
	require.NoError(t, err)

	// after k failures the delay is min(base × 2^k, cap)
	cur := time.Second
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for k, w := range want {
		cur = c.NextBackoff(cur, false)
		assert.Equal(t, w, cur, "after %d failures", k+1)
	}

	assert.Equal(t, time.Second, c.NextBackoff(cur, true))
}

func TestStartAndStopAreIdempotent(t *testing.T) {
	var calls atomic.Int32
	c, err := New(BatchFunc(func(context.Context) error {
		calls.Add(1)
		return nil
	}), testConfig(), nil, nil)
	require.NoError(t, err)

	assert.False(t, c.Stop(), "stop while stopped is a no-op")
	assert.True(t, c.Start())
	assert.False(t, c.Start(), "start while running is a no-op")
	assert.True(t, c.Running())

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)
	assert.True(t, c.Stop())
	assert.False(t, c.Running())

	n := calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, calls.Load(), "no batch runs after stop")
}

func TestFailuresGrowBackoffAndSuccessResets(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	c, err := New(BatchFunc(func(context.Context) error {
		n := calls.Add(1)
		switch {
		case n <= 3:
			return errors.New("upstream down")
		case n == 4:
			<-release
		}
		return nil
	}), testConfig(), nil, nil)
	require.NoError(t, err)

	c.Start()
	require.Eventually(t, func() bool { return calls.Load() == 4 }, time.Second, time.Millisecond)

	st := c.Status()
	assert.EqualValues(t, 3, st.TotalBatches)
	assert.EqualValues(t, 3, st.FailedBatches)
	assert.EqualValues(t, 4, st.CurrentBackoffMs)
	assert.Equal(t, "upstream down", st.LastError)
	assert.Zero(t, st.SuccessRate)

	close(release)
	require.Eventually(t, func() bool { return c.Status().SuccessfulBatches >= 1 }, time.Second, time.Millisecond)
	c.Stop()

	st = c.Status()
	assert.EqualValues(t, 1, st.CurrentBackoffMs)
	assert.InDelta(t, float64(st.SuccessfulBatches)/float64(st.TotalBatches), st.SuccessRate, 1e-9)
	assert.False(t, st.Running)
	require.NotNil(t, st.StartedAt)
	require.NotNil(t, st.LastBatchAt)
}

func TestStopWaitsForCurrentBatch(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	c, err := New(BatchFunc(func(ctx context.Context) error {
		once.Do(func() { close(started) })
		<-release
		return ctx.Err()
	}), testConfig(), nil, nil)
	require.NoError(t, err)

	c.Start()
	<-started

	stopped := make(chan struct{})
	go func() {
		c.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned during a batch")
	case <-time.After(30 * time.Millisecond):
	}
	assert.True(t, c.Running(), "still running until the batch finishes")

	close(release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}

	st := c.Status()
	assert.False(t, st.Running)
	assert.EqualValues(t, 1, st.TotalBatches)
	assert.EqualValues(t, 1, st.SuccessfulBatches, "the batch was not cancelled")
}

func TestStopInterruptsBackoffSleep(t *testing.T) {
	var calls atomic.Int32
	c, err := New(BatchFunc(func(context.Context) error {
		calls.Add(1)
		return nil
	}), Config{BaseBackoff: time.Hour, BackoffMultiplier: 2, MaxBackoff: time.Hour}, nil, nil)
	require.NoError(t, err)

	c.Start()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	done := make(chan struct{})
	go func() {
		c.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not interrupt the backoff sleep")
	}
}

func TestPanicIsCountedAsFailure(t *testing.T) {
	var calls atomic.Int32
	c, err := New(BatchFunc(func(context.Context) error {
		if calls.Add(1) == 1 {
			panic("nil map")
		}
		return nil
	}), testConfig(), nil, nil)
	require.NoError(t, err)

	c.Start()
	require.Eventually(t, func() bool { return c.Status().SuccessfulBatches >= 1 }, time.Second, time.Millisecond)
	c.Stop()

	st := c.Status()
	assert.EqualValues(t, 1, st.FailedBatches)
	assert.Contains(t, st.LastError, "panicked")
}

func TestShutdownDeadlineCancelsBatch(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	c, err := New(BatchFunc(func(ctx context.Context) error {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return ctx.Err()
	}), testConfig(), nil, nil)
	require.NoError(t, err)

	c.Start()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err = c.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, c.Running())
}

type fakeService struct {
	started atomic.Bool
	stopped atomic.Bool
}

func (f *fakeService) Start(context.Context) { f.started.Store(true) }
func (f *fakeService) Stop()                 { f.stopped.Store(true) }

func TestAttachedServicesFollowLifecycle(t *testing.T) {
	c, err := New(BatchFunc(func(context.Context) error { return nil }), testConfig(), nil, nil)
	require.NoError(t, err)

	svc := &fakeService{}
	c.Attach(svc)

	c.Start()
	assert.True(t, svc.started.Load())
	assert.False(t, svc.stopped.Load())

	c.Stop()
	assert.True(t, svc.stopped.Load())
}

type slowService struct {
	release chan struct{}
	stopped atomic.Bool
}

func (s *slowService) Start(context.Context) {}

func (s *slowService) Stop() {
	<-s.release
	s.stopped.Store(true)
}

func TestConcurrentStopReportsOneChange(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	c, err := New(BatchFunc(func(context.Context) error {
		once.Do(func() { close(started) })
		<-release
		return nil
	}), testConfig(), nil, nil)
	require.NoError(t, err)

	svc := &slowService{release: make(chan struct{})}
	c.Attach(svc)
	c.Start()
	<-started

	type result struct {
		changed bool
		running bool
	}
	results := make(chan result, 2)
	stop := func() {
		changed := c.Stop()
		results <- result{changed: changed, running: c.Running()}
	}
	go stop()
	require.Eventually(t, func() bool { return c.Status().State == "stopping" }, time.Second, time.Millisecond)
	go stop()

	close(release)
	time.Sleep(20 * time.Millisecond)
	select {
	case <-results:
		t.Fatal("Stop returned before attached services stopped")
	default:
	}
	close(svc.release)

	var changes int
	for i := 0; i < 2; i++ {
		select {
		case r := <-results:
			if r.changed {
				changes++
			}
			assert.False(t, r.running, "Running must be false once Stop returns")
		case <-time.After(time.Second):
			t.Fatal("Stop did not return")
		}
	}
	assert.Equal(t, 1, changes)
	assert.True(t, svc.stopped.Load())
	assert.Equal(t, "stopped", c.Status().State)
	assert.ErrorIs(t, c.Shutdown(context.Background()), ErrNotRunning)
}

func TestUptimeIsKeptAfterStop(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	c, err := New(BatchFunc(func(context.Context) error { return nil }), testConfig(), nil, nil)
	require.NoError(t, err)
	c.now = clock

	c.Start()
	advance(90 * time.Second)
	assert.EqualValues(t, 90000, c.Status().UptimeMs)

	c.Stop()
	advance(time.Hour)

	st := c.Status()
	assert.False(t, st.Running)
	require.NotNil(t, st.StartedAt)
	assert.EqualValues(t, 90000, st.UptimeMs, "uptime stops counting when the run ends")
}
