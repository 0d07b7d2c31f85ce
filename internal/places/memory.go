package places

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kosarica/place-service/internal/types"
)

// MemoryRepository is an in-process Repository
type MemoryRepository struct {
	mu          sync.Mutex
	byKey       map[string]*types.Place
	byID        map[string]*types.Place
	enrichments map[string]types.Enrichment
	now         func() time.Time
}

// NewMemoryRepository creates an empty MemoryRepository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byKey:       make(map[string]*types.Place),
		byID:        make(map[string]*types.Place),
		enrichments: make(map[string]types.Enrichment),
		now:         time.Now,
	}
}

func (r *MemoryRepository) upsertLocked(p types.Place) (types.Place, bool) {
	if p.NaturalKey == "" {
		p.NaturalKey = NaturalKey(p.Region, p.Name)
	}
	now := r.now()
	p.UpdatedAt = now

	if existing, ok := r.byKey[p.NaturalKey]; ok {
		p.ID = existing.ID
		p.FirstSeenAt = existing.FirstSeenAt
		*existing = p
		return p, false
	}

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.FirstSeenAt = now
	stored := p
	r.byKey[p.NaturalKey] = &stored
	r.byID[p.ID] = &stored
	return p, true
}

func (r *MemoryRepository) deleteLocked(p *types.Place) {
	delete(r.byKey, p.NaturalKey)
	delete(r.byID, p.ID)
	delete(r.enrichments, p.ID)
}

func (r *MemoryRepository) deleteBySourceLocked(ref SourceRef) int64 {
	var n int64
	for _, p := range r.byID {
		if p.Source == ref.Source && p.SourceID == ref.SourceID {
			r.deleteLocked(p)
			n++
		}
	}
	return n
}

func (r *MemoryRepository) UpsertByNaturalKey(_ context.Context, p types.Place) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, inserted := r.upsertLocked(p)
	return stored.ID, inserted, nil
}

func (r *MemoryRepository) DeleteBySource(_ context.Context, ref SourceRef) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deleteBySourceLocked(ref), nil
}

func (r *MemoryRepository) WriteChunk(_ context.Context, chunk Chunk) (WriteResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result WriteResult
	for _, p := range chunk.Upserts {
		stored, inserted := r.upsertLocked(p)
		result.Upserted = append(result.Upserted, stored)
		if inserted {
			result.Inserted = append(result.Inserted, stored)
		} else {
			result.Updated++
		}
	}
	for _, ref := range chunk.Deletes {
		result.Deleted += int(r.deleteBySourceLocked(ref))
	}
	return result, nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*types.Place, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *p
	return &out, nil
}

func (r *MemoryRepository) Delete(_ context.Context, id string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return 0, nil
	}
	r.deleteLocked(p)
	return 1, nil
}

func (r *MemoryRepository) SaveEnrichment(_ context.Context, e types.Enrichment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[e.TargetID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, e.TargetID)
	}

	merged := r.enrichments[e.TargetID]
	merged.TargetID = e.TargetID
	if len(e.Menus) > 0 {
		merged.Menus = e.Menus
	}
	if len(e.Images) > 0 {
		merged.Images = e.Images
	}
	if len(e.Reviews) > 0 {
		merged.Reviews = e.Reviews
	}
	merged.FetchedAt = e.FetchedAt
	if merged.FetchedAt.IsZero() {
		merged.FetchedAt = r.now()
	}
	r.enrichments[e.TargetID] = merged
	return nil
}

func (r *MemoryRepository) Unenriched(_ context.Context, ids []string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string
	for _, id := range ids {
		if _, ok := r.byID[id]; !ok {
			continue
		}
		if _, ok := r.enrichments[id]; !ok {
			out = append(out, id)
		}
	}
	return out, nil
}

// Enrichment returns the stored enrichment for a place
func (r *MemoryRepository) Enrichment(id string) (types.Enrichment, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.enrichments[id]
	return e, ok
}

func (r *MemoryRepository) Count(context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.byKey)), nil
}
