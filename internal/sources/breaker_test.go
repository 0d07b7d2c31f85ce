package sources

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestBreaker() (*CircuitBreaker, *time.Time) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{
		MaxFailures:      3,
		ResetTimeout:     10 * time.Second,
		HalfOpenMaxCalls: 2,
	}, nil, nil)
	cb.now = func() time.Time { return now }
	return cb, &now
}

func TestCircuitBreakerOpensAfterMaxFailures(t *testing.T) {
	cb, _ := newTestBreaker()
	boom := errors.New("boom")

	cb.RecordFailure(boom)
	cb.RecordFailure(boom)
	assert.True(t, cb.Allow())
	assert.Equal(t, CircuitClosed, cb.State())

	cb.RecordFailure(boom)
	assert.Equal(t, CircuitOpen, cb.State())
	assert.False(t, cb.Allow())
}

func TestCircuitBreakerSuccessResetsFailures(t *testing.T) {
	cb, _ := newTestBreaker()
	boom := errors.New("boom")

	cb.RecordFailure(boom)
	cb.RecordFailure(boom)
	cb.RecordSuccess()
	cb.RecordFailure(boom)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	cb, now := newTestBreaker()
	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		cb.RecordFailure(boom)
	}

	*now = now.Add(11 * time.Second)
	assert.True(t, cb.Allow())
	assert.Equal(t, CircuitHalfOpen, cb.State())
	assert.True(t, cb.Allow())
	assert.False(t, cb.Allow(), "probe slots exhausted")

	cb.RecordSuccess()
	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb, now := newTestBreaker()
	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		cb.RecordFailure(boom)
	}

	*now = now.Add(11 * time.Second)
	assert.True(t, cb.Allow())
	cb.RecordFailure(boom)
	assert.Equal(t, CircuitOpen, cb.State())
	assert.False(t, cb.Allow())
}

func TestCircuitBreakerAbandonFreesProbe(t *testing.T) {
	cb, now := newTestBreaker()
	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		cb.RecordFailure(boom)
	}

	*now = now.Add(11 * time.Second)
	assert.True(t, cb.Allow())
	assert.True(t, cb.Allow())
	cb.Abandon()
	assert.True(t, cb.Allow())
}

func TestCircuitBreakerReset(t *testing.T) {
	cb, _ := newTestBreaker()
	for i := 0; i < 3; i++ {
		cb.RecordFailure(errors.New("boom"))
	}
	cb.Reset()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.True(t, cb.Allow())
	assert.Equal(t, "closed", cb.State().String())
}
