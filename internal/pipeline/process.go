package pipeline

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kosarica/place-service/internal/cache"
	"github.com/kosarica/place-service/internal/faults"
	"github.com/kosarica/place-service/internal/filter"
	"github.com/kosarica/place-service/internal/places"
	"github.com/kosarica/place-service/internal/types"
)

type outcome int

const (
	outcomeUpsert outcome = iota
	outcomeDelete
	outcomeFiltered
	outcomeSkipped
	outcomeFailed
)

type itemResult struct {
	outcome outcome
	place   types.Place
	ref     places.SourceRef
	err     error
}

// processItems resolves every item concurrently. The first Abort cancels
// the remaining items and is returned.
func (p *Pipeline) processItems(ctx context.Context, items []types.Candidate) ([]itemResult, error) {
	results := make([]itemResult, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for i, c := range items {
		g.Go(func() error {
			r, err := p.processItem(gctx, c)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *Pipeline) processItem(ctx context.Context, c types.Candidate) (itemResult, error) {
	if !p.deps.Filter.Allow(c) {
		return itemResult{outcome: outcomeFiltered}, nil
	}
	if err := filter.Validate(c); err != nil {
		res, _, err := p.resolve(c, err, 0)
		return res, err
	}
	if p.deps.Cache.Seen(ctx, cache.Key(c.Source, c.SourceID)) {
		return itemResult{outcome: outcomeFiltered}, nil
	}

	for attempt := 0; ; attempt++ {
		detail, err := p.deps.Details.Details(ctx, c.SourceID)
		if err == nil {
			merged := merge(c, detail)
			if err := filter.Validate(merged); err != nil {
				res, _, err := p.resolve(c, err, 0)
				return res, err
			}
			return itemResult{outcome: outcomeUpsert, place: toPlace(merged)}, nil
		}
		if ctx.Err() != nil {
			return itemResult{}, ctx.Err()
		}

		res, retry, err := p.resolve(c, err, attempt)
		if !retry {
			return res, err
		}
		if err := sleepCtx(ctx, p.cfg.RetryDelay*time.Duration(attempt+1)); err != nil {
			return itemResult{}, err
		}
	}
}

// resolve turns an item fault into an outcome, or reports that the item
// should be fetched again.
func (p *Pipeline) resolve(c types.Candidate, err error, attempt int) (itemResult, bool, error) {
	ref := places.SourceRef{Source: c.Source, SourceID: c.SourceID}

	if faults.Is(err, faults.KindNotFound) {
		p.logger.Info().Str("source_id", c.SourceID).Msg("Place no longer exists upstream, deleting")
		return itemResult{outcome: outcomeDelete, ref: ref}, false, nil
	}

	switch p.budget.Resolve(err, attempt) {
	case faults.Retry:
		p.logger.Warn().Err(err).
			Str("source_id", c.SourceID).
			Int("attempt", attempt+1).
			Msg("Item fetch failed, retrying")
		return itemResult{}, true, nil
	case faults.Skip:
		p.logger.Warn().Err(err).Str("source_id", c.SourceID).Msg("Skipping item")
		if faults.Is(err, faults.KindTransient) {
			return itemResult{outcome: outcomeFailed, ref: ref, err: err}, false, nil
		}
		return itemResult{outcome: outcomeSkipped, ref: ref, err: err}, false, nil
	default:
		return itemResult{}, false, p.budget.Escalate(fmt.Errorf("item %s: %w", c.SourceID, err))
	}
}

// merge overlays the detail record on the search candidate
func merge(c, d types.Candidate) types.Candidate {
	out := d
	if out.Source == "" {
		out.Source = c.Source
	}
	if out.SourceID == "" {
		out.SourceID = c.SourceID
	}
	if out.Region == "" {
		out.Region = c.Region
	}
	if out.Name == "" {
		out.Name = c.Name
	}
	if out.Category == "" && len(out.Categories) == 0 {
		out.Category = c.Category
		out.Categories = c.Categories
	}
	if out.Lat == 0 && out.Lng == 0 {
		out.Lat, out.Lng = c.Lat, c.Lng
	}
	return out
}

func toPlace(c types.Candidate) types.Place {
	return types.Place{
		NaturalKey:  places.NaturalKey(c.Region, c.Name),
		Source:      c.Source,
		SourceID:    c.SourceID,
		Name:        c.Name,
		Region:      c.Region,
		Address:     c.Address,
		Category:    c.Category,
		Categories:  c.Categories,
		Lat:         c.Lat,
		Lng:         c.Lng,
		Rating:      c.Rating,
		ReviewCount: c.ReviewCount,
		Phone:       c.Phone,
		Website:     c.Website,
	}
}
