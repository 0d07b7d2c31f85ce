package faults

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want Decision
	}{
		{"validation", Validation(base), Skip},
		{"wrapped validation", fmt.Errorf("item 3: %w", Validation(base)), Skip},
		{"not found", NotFound(base), Skip},
		{"transient remote", Transient(ClassRemote, base), Retry},
		{"deadline exceeded", context.DeadlineExceeded, Retry},
		{"net timeout", timeoutErr{}, Retry},
		{"storage", Storage(base), Abort},
		{"plain error", base, Abort},
		{"canceled", context.Canceled, Abort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestKindOf(t *testing.T) {
	kind, class := KindOf(context.DeadlineExceeded)
	assert.Equal(t, KindTransient, kind)
	assert.Equal(t, ClassTimeout, class)

	kind, class = KindOf(fmt.Errorf("fetch: %w", Transient(ClassRemote, errors.New("503"))))
	assert.Equal(t, KindTransient, kind)
	assert.Equal(t, ClassRemote, class)

	kind, _ = KindOf(nil)
	assert.Equal(t, KindUnclassified, kind)
	assert.False(t, Is(nil, KindUnclassified))
}

func TestErrorUnwrap(t *testing.T) {
	sentinel := errors.New("row missing")
	err := Storage(sentinel)
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, "storage: row missing", err.Error())
	assert.Equal(t, "transient (timeout): row missing", Transient(ClassTimeout, sentinel).Error())
}

func TestPolicyShouldSkip(t *testing.T) {
	p := NewPolicy(3, nil)
	validation := Validation(errors.New("bad coordinates"))
	storage := Storage(errors.New("connection reset"))

	for n := 0; n < 3; n++ {
		assert.True(t, p.ShouldSkip(validation, n), "skipCount %d", n)
	}
	assert.False(t, p.ShouldSkip(validation, 3))
	assert.False(t, p.ShouldSkip(validation, 10))

	for n := 0; n < 5; n++ {
		assert.False(t, p.ShouldSkip(storage, n))
	}
	assert.False(t, p.ShouldSkip(errors.New("unknown"), 0))
}

func TestPolicyRetryLimits(t *testing.T) {
	p := NewPolicy(10, nil)
	remote := Transient(ClassRemote, errors.New("502"))
	timeout := Transient(ClassTimeout, errors.New("deadline"))

	assert.Equal(t, 3, p.RetryLimit(remote))
	assert.Equal(t, 2, p.RetryLimit(timeout))
	assert.Equal(t, 0, p.RetryLimit(Validation(errors.New("x"))))

	assert.True(t, p.ShouldRetry(remote, 2))
	assert.False(t, p.ShouldRetry(remote, 3))
	assert.True(t, p.ShouldRetry(timeout, 1))
	assert.False(t, p.ShouldRetry(timeout, 2))
	assert.False(t, p.ShouldRetry(Storage(errors.New("x")), 0))

	custom := NewPolicy(1, map[string]int{ClassTimeout: 5})
	assert.Equal(t, 5, custom.RetryLimit(timeout))
	assert.Equal(t, 3, custom.RetryLimit(remote))
}

func TestBudgetResolve(t *testing.T) {
	t.Run("retries then skips transient", func(t *testing.T) {
		b := NewBudget(NewPolicy(1, nil))
		err := Transient(ClassTimeout, errors.New("slow"))

		assert.Equal(t, Retry, b.Resolve(err, 0))
		assert.Equal(t, Retry, b.Resolve(err, 1))
		assert.Equal(t, Skip, b.Resolve(err, 2))
		assert.Equal(t, 1, b.Skips())
		assert.Equal(t, Abort, b.Resolve(err, 2))
	})

	t.Run("not found is never charged", func(t *testing.T) {
		b := NewBudget(NewPolicy(0, nil))
		assert.Equal(t, Skip, b.Resolve(NotFound(errors.New("gone")), 0))
		assert.Equal(t, 0, b.Skips())
	})

	t.Run("storage aborts", func(t *testing.T) {
		b := NewBudget(NewPolicy(100, nil))
		err := Storage(errors.New("disk full"))
		assert.Equal(t, Abort, b.Resolve(err, 0))
		assert.Equal(t, err, b.Escalate(err))
	})

	t.Run("escalate marks budget exhaustion", func(t *testing.T) {
		b := NewBudget(NewPolicy(0, nil))
		err := Validation(errors.New("no name"))
		require.Equal(t, Abort, b.Resolve(err, 0))

		escalated := b.Escalate(err)
		assert.ErrorIs(t, escalated, ErrSkipLimitExceeded)
		assert.True(t, Is(escalated, KindValidation))
	})

	t.Run("reset clears skips", func(t *testing.T) {
		b := NewBudget(NewPolicy(1, nil))
		require.Equal(t, Skip, b.Resolve(Validation(errors.New("x")), 0))
		b.Reset()
		assert.Equal(t, 0, b.Skips())
		assert.Equal(t, Skip, b.Resolve(Validation(errors.New("y")), 0))
	})
}

func TestBudgetConcurrentSkips(t *testing.T) {
	b := NewBudget(NewPolicy(50, nil))
	err := Validation(errors.New("bad"))

	var wg sync.WaitGroup
	var mu sync.Mutex
	skipped := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.Resolve(err, 0) == Skip {
				mu.Lock()
				skipped++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, skipped)
	assert.Equal(t, 50, b.Skips())
}
