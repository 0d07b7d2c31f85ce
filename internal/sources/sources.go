// Package sources talks to the external place provider: search, details
// and enrichment payloads.
package sources

import (
	"context"

	"github.com/kosarica/place-service/internal/scanner"
	"github.com/kosarica/place-service/internal/types"
)

// SearchPage is one page of search results
type SearchPage struct {
	Items   []types.Candidate `json:"items"`
	HasMore bool              `json:"hasMore"`
}

// Searcher returns candidates for one search context.
type Searcher interface {
	Search(ctx context.Context, sc scanner.SearchContext) (SearchPage, error)
}

// DetailFetcher returns the current full record for a source ID. A
// faults.NotFound error means the place no longer exists upstream.
type DetailFetcher interface {
	Details(ctx context.Context, sourceID string) (types.Candidate, error)
}

// Enricher fetches the payloads selected by flags for a source ID.
type Enricher interface {
	Enrich(ctx context.Context, sourceID string, flags types.WorkFlags) (types.Enrichment, error)
}

// Provider is everything the service needs from a source
type Provider interface {
	Searcher
	DetailFetcher
	Enricher
}
