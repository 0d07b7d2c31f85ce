package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kosarica/place-service/internal/faults"
	"github.com/kosarica/place-service/internal/scanner"
	"github.com/kosarica/place-service/internal/types"
)

// pageBuffer holds the search page at the scanner cursor so a chunk
// boundary can fall inside a page
type pageBuffer struct {
	sc      scanner.SearchContext
	items   []types.Candidate
	hasMore bool
}

// errPageDropped marks a page given up on after its faults were resolved as Skip
var errPageDropped = errors.New("search page dropped")

// read collects up to n candidates, moving the scanner cursor past every
// item it returns. The cursor is only persisted by commit.
func (p *Pipeline) read(ctx context.Context, n int, res *ChunkResult) ([]types.Candidate, error) {
	out := make([]types.Candidate, 0, n)

	for len(out) < n {
		sc, ok := p.deps.Scanner.Current()
		if !ok {
			res.EndOfPass = true
			break
		}

		if p.buffer == nil || p.buffer.sc != sc {
			buf, err := p.search(ctx, sc)
			if errors.Is(err, errPageDropped) {
				gone := faults.Is(err, faults.KindNotFound)
				if !gone {
					p.deps.Scanner.RecordError(err.Error())
					res.Failed++
				}
				p.deps.Scanner.Advance(gone)
				res.Pages++
				continue
			}
			if err != nil {
				return nil, err
			}
			p.buffer = buf
		}

		items := p.buffer.items
		offset := p.deps.Scanner.Cursor().ItemOffset
		if offset > len(items) {
			offset = len(items)
		}
		take := min(n-len(out), len(items)-offset)
		for _, c := range items[offset : offset+take] {
			if c.Region == "" {
				c.Region = sc.Region
			}
			out = append(out, c)
		}
		offset += take

		if offset >= len(items) {
			p.deps.Scanner.Advance(!p.buffer.hasMore || len(items) == 0)
			p.buffer = nil
			res.Pages++
		} else {
			p.deps.Scanner.SetItemOffset(offset)
		}
	}

	res.Read = len(out)
	return out, nil
}

// search fetches one page, retrying transient faults per class. A page
// whose fault resolves to Skip comes back as errPageDropped.
func (p *Pipeline) search(ctx context.Context, sc scanner.SearchContext) (*pageBuffer, error) {
	for attempt := 0; ; attempt++ {
		page, err := p.deps.Searcher.Search(ctx, sc)
		if err == nil {
			return &pageBuffer{sc: sc, items: page.Items, hasMore: page.HasMore}, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		switch p.budget.Resolve(err, attempt) {
		case faults.Retry:
			p.logger.Warn().Err(err).
				Str("search", sc.String()).
				Int("attempt", attempt+1).
				Msg("Search failed, retrying")
			if err := sleepCtx(ctx, p.cfg.RetryDelay*time.Duration(attempt+1)); err != nil {
				return nil, err
			}
		case faults.Skip:
			p.logger.Warn().Err(err).Str("search", sc.String()).Msg("Skipping search page")
			return nil, fmt.Errorf("%w: %s: %w", errPageDropped, sc, err)
		default:
			return nil, p.budget.Escalate(fmt.Errorf("search %s: %w", sc, err))
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
