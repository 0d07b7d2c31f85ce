package faults

import (
	"errors"
	"fmt"
	"sync"
)

// ErrSkipLimitExceeded is returned when an item would be skipped but the
// job-wide skip budget is used up.
var ErrSkipLimitExceeded = errors.New("skip limit exceeded")

// DefaultRetryLimits are the per-class retry limits used when none are configured
func DefaultRetryLimits() map[string]int {
	return map[string]int{
		ClassRemote:  3,
		ClassTimeout: 2,
	}
}

// Policy decides whether a failed item may be skipped or retried
type Policy struct {
	SkipLimit   int
	RetryLimits map[string]int
}

// NewPolicy creates a policy, falling back to DefaultRetryLimits for missing classes
func NewPolicy(skipLimit int, retryLimits map[string]int) Policy {
	limits := DefaultRetryLimits()
	for class, n := range retryLimits {
		limits[class] = n
	}
	return Policy{SkipLimit: skipLimit, RetryLimits: limits}
}

// RetryLimit returns how many retries err's class allows
func (p Policy) RetryLimit(err error) int {
	kind, class := KindOf(err)
	if kind != KindTransient {
		return 0
	}
	if n, ok := p.RetryLimits[class]; ok {
		return n
	}
	return p.RetryLimits[ClassRemote]
}

// ShouldRetry reports whether err may be retried after retryCount retries
func (p Policy) ShouldRetry(err error, retryCount int) bool {
	if Classify(err) != Retry {
		return false
	}
	return retryCount < p.RetryLimit(err)
}

// ShouldSkip reports whether err may be skipped when skipCount items have
// already been skipped. Transient errors are skippable once their retries
// are exhausted; storage and unclassified errors never are.
func (p Policy) ShouldSkip(err error, skipCount int) bool {
	kind, _ := KindOf(err)
	switch kind {
	case KindValidation, KindTransient:
		return skipCount < p.SkipLimit
	default:
		return false
	}
}

// Budget tracks skips across one run and resolves each failure to a decision.
// Safe for concurrent use.
type Budget struct {
	policy Policy

	mu    sync.Mutex
	skips int
}

// NewBudget creates an empty skip budget for policy
func NewBudget(policy Policy) *Budget {
	return &Budget{policy: policy}
}

// Resolve decides what to do with err after attempt retries. A Skip result
// has already been charged to the budget. NotFound is returned as Skip
// without charging; the caller handles it as a delete.
func (b *Budget) Resolve(err error, attempt int) Decision {
	if Is(err, KindNotFound) {
		return Skip
	}
	if b.policy.ShouldRetry(err, attempt) {
		return Retry
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.policy.ShouldSkip(err, b.skips) {
		b.skips++
		return Skip
	}
	return Abort
}

// Escalate wraps err for an Abort decision, marking budget exhaustion when
// the error would otherwise have been skippable.
func (b *Budget) Escalate(err error) error {
	kind, _ := KindOf(err)
	if kind == KindValidation || kind == KindTransient {
		return fmt.Errorf("%w after %d skips: %w", ErrSkipLimitExceeded, b.Skips(), err)
	}
	return err
}

// Skips returns the number of skips charged so far
func (b *Budget) Skips() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.skips
}

// Reset clears the budget for a new run
func (b *Budget) Reset() {
	b.mu.Lock()
	b.skips = 0
	b.mu.Unlock()
}
