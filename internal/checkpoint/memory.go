package checkpoint

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and the memory storage driver
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]State
	now    func() time.Time
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]State), now: time.Now}
}

func (s *MemoryStore) Load(_ context.Context, jobName string) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[jobName]
	if !ok {
		return nil, nil
	}
	st.Cursor = st.Cursor.Clone()
	return &st, nil
}

func (s *MemoryStore) Save(_ context.Context, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.states[state.JobName]; ok && state.LastProcessedPage < prev.LastProcessedPage {
		return fmt.Errorf("%w: job %s page %d < %d", ErrRegression, state.JobName, state.LastProcessedPage, prev.LastProcessedPage)
	}

	now := s.now()
	if state.LastProcessedTimestamp.IsZero() {
		state.LastProcessedTimestamp = now
	}
	state.UpdatedAt = now
	state.Cursor = state.Cursor.Clone()
	s.states[state.JobName] = state
	return nil
}
