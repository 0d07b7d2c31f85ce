package taskqueue

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memTask struct {
	Task
	seq int64
}

// MemoryStore is a Store kept in process memory
type MemoryStore struct {
	mu       sync.Mutex
	tasks    map[string]*memTask
	progress map[string][]TaskProgress
	workers  map[string]WorkerInfo
	seq      int64
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:    make(map[string]*memTask),
		progress: make(map[string][]TaskProgress),
		workers:  make(map[string]WorkerInfo),
	}
}

func (s *MemoryStore) Insert(_ context.Context, t Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	s.tasks[t.ID] = &memTask{Task: t, seq: s.seq}
	return nil
}

func (s *MemoryStore) InsertUnique(_ context.Context, t Task) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var live *memTask
	for _, existing := range s.tasks {
		if existing.TargetID != t.TargetID || existing.Status.Terminal() {
			continue
		}
		if live == nil || existing.seq < live.seq {
			live = existing
		}
	}
	if live != nil {
		out := live.Task
		return &out, nil
	}

	s.seq++
	s.tasks[t.ID] = &memTask{Task: t, seq: s.seq}
	return nil, nil
}

func (s *MemoryStore) Claim(_ context.Context, workerID string, now time.Time) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *memTask
	for _, t := range s.tasks {
		if !t.Status.Claimable() || t.ScheduledAt.After(now) {
			continue
		}
		if best == nil || claimsBefore(t, best) {
			best = t
		}
	}
	if best == nil {
		return nil, nil
	}

	started := now
	best.Status = StatusProcessing
	best.WorkerID = workerID
	best.StartedAt = &started
	best.UpdatedAt = now

	out := best.Task
	return &out, nil
}

func claimsBefore(a, b *memTask) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.ScheduledAt.Equal(b.ScheduledAt) {
		return a.ScheduledAt.Before(b.ScheduledAt)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.seq < b.seq
}

func (s *MemoryStore) Resolve(_ context.Context, t Task, workerID string, p TaskProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.tasks[t.ID]
	if !ok || cur.Status != StatusProcessing || cur.WorkerID != workerID {
		return ErrNotOwned
	}

	cur.Status = t.Status
	cur.Attempts = t.Attempts
	cur.ScheduledAt = t.ScheduledAt
	cur.LastError = t.LastError
	cur.WorkerID = ""
	cur.UpdatedAt = t.UpdatedAt

	list := s.progress[t.ID]
	for i := range list {
		if list[i].Attempt == p.Attempt {
			list[i] = p
			return nil
		}
	}
	s.progress[t.ID] = append(list, p)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := t.Task
	return &out, nil
}

func (s *MemoryStore) Progress(_ context.Context, id string) ([]TaskProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return nil, ErrNotFound
	}
	out := append([]TaskProgress(nil), s.progress[id]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Attempt < out[j].Attempt })
	return out, nil
}

func (s *MemoryStore) Counts(context.Context) (Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := Counts{ByStatus: make(map[Status]int)}
	for _, t := range s.tasks {
		c.ByStatus[t.Status]++
		if t.Status.Claimable() && t.Priority > PriorityNormal {
			c.PriorityPending++
		}
	}
	return c, nil
}

func (s *MemoryStore) List(_ context.Context, status Status, limit int) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Task
	for _, t := range s.tasks {
		if t.Status == status {
			out = append(out, t.Task)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) RecoverStale(_ context.Context, staleBefore, now time.Time, maxAttempts int) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var recovered, failed int
	for _, t := range s.tasks {
		if t.Status != StatusProcessing {
			continue
		}
		if w, ok := s.workers[t.WorkerID]; ok && !w.LastHeartbeat.Before(staleBefore) {
			continue
		}

		t.Attempts++
		t.WorkerID = ""
		t.LastError = lostWorkerError
		t.ScheduledAt = now
		t.UpdatedAt = now
		if t.Attempts >= maxAttempts {
			t.Status = StatusFailed
			failed++
		} else {
			t.Status = StatusRetrying
			recovered++
		}
	}
	return recovered, failed, nil
}

func (s *MemoryStore) DeleteCompleted(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, t := range s.tasks {
		if t.Status == StatusCompleted && t.UpdatedAt.Before(before) {
			delete(s.tasks, id)
			delete(s.progress, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) UpsertWorker(_ context.Context, w WorkerInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers[w.WorkerID] = w
	return nil
}

func (s *MemoryStore) DeleteWorker(_ context.Context, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.workers, workerID)
	return nil
}

func (s *MemoryStore) Workers(context.Context) ([]WorkerInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]WorkerInfo, 0, len(s.workers))
	for _, w := range s.workers {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkerID < out[j].WorkerID })
	return out, nil
}

func (s *MemoryStore) PruneWorkers(_ context.Context, staleBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, w := range s.workers {
		if w.LastHeartbeat.Before(staleBefore) {
			delete(s.workers, id)
			n++
		}
	}
	return n, nil
}
