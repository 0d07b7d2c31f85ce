// Package places persists place records and their enrichment payloads.
package places

import (
	"context"
	"errors"

	"github.com/kosarica/place-service/internal/types"
)

// ErrNotFound is returned when a place does not exist
var ErrNotFound = errors.New("place not found")

// SourceRef identifies a place by its external source identity
type SourceRef struct {
	Source   string
	SourceID string
}

// Chunk is everything one pipeline chunk writes
type Chunk struct {
	Upserts []types.Place
	Deletes []SourceRef
}

// WriteResult reports what a chunk write changed. Upserted holds every
// written place with its stored ID, inserted or not.
type WriteResult struct {
	Upserted []types.Place
	Inserted []types.Place
	Updated  int
	Deleted  int
}

// Repository stores places. Upserts are keyed by natural key so repeating
// a write never creates a second record.
type Repository interface {
	// UpsertByNaturalKey writes p and returns the stored ID and whether it was inserted.
	UpsertByNaturalKey(ctx context.Context, p types.Place) (string, bool, error)
	// DeleteBySource removes the place with the given source identity.
	DeleteBySource(ctx context.Context, ref SourceRef) (int64, error)
	// WriteChunk applies all upserts and deletes in one transaction.
	WriteChunk(ctx context.Context, chunk Chunk) (WriteResult, error)
	Get(ctx context.Context, id string) (*types.Place, error)
	// Delete removes a place by ID together with its enrichments.
	Delete(ctx context.Context, id string) (int64, error)
	SaveEnrichment(ctx context.Context, e types.Enrichment) error
	// Unenriched returns the IDs among ids that exist and have no stored
	// enrichment, in the order given.
	Unenriched(ctx context.Context, ids []string) ([]string, error)
	Count(ctx context.Context) (int64, error)
}
