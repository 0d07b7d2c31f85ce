package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kosarica/place-service/internal/cache"
	"github.com/kosarica/place-service/internal/checkpoint"
	"github.com/kosarica/place-service/internal/places"
	"github.com/kosarica/place-service/internal/types"
)

// processLocked runs read, process and commit for one chunk. Any error
// rolls the scanner back to the last committed cursor.
func (p *Pipeline) processLocked(ctx context.Context, batchSize int) (res ChunkResult, err error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.chunk", trace.WithAttributes(
		attribute.String("pipeline.job", p.cfg.JobName),
		attribute.Int("pipeline.batch_size", batchSize),
	))
	defer span.End()

	start := time.Now()
	defer func() {
		if err != nil {
			p.rollback()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			p.logger.Error().Err(err).Int("read", res.Read).Msg("Chunk aborted, cursor rolled back")
		}
		span.SetAttributes(
			attribute.Int("pipeline.read", res.Read),
			attribute.Int("pipeline.processed", res.Processed),
		)
		p.metrics.RecordChunk(err == nil, time.Since(start), map[string]int{
			"read":      res.Read,
			"processed": res.Processed,
			"skipped":   res.Skipped,
			"failed":    res.Failed,
			"filtered":  res.Filtered,
			"deleted":   res.Deleted,
		})
	}()

	items, err := p.read(ctx, batchSize, &res)
	if err != nil {
		return res, err
	}
	if len(items) == 0 && res.Pages == 0 {
		return res, nil
	}

	results, err := p.processItems(ctx, items)
	if err != nil {
		return res, err
	}

	if err := p.commit(ctx, results, &res); err != nil {
		return res, err
	}

	p.logger.Debug().
		Int("read", res.Read).
		Int("processed", res.Processed).
		Int("inserted", res.Inserted).
		Int("skipped", res.Skipped).
		Int("failed", res.Failed).
		Int("filtered", res.Filtered).
		Int("deleted", res.Deleted).
		Int("pages", res.Pages).
		Dur("duration", time.Since(start)).
		Msg("Chunk committed")
	return res, nil
}

// commit writes the chunk in one transaction, enqueues follow-ups, then
// saves the checkpoint. A chunk replayed after a failed save enqueues again
// for places still lacking enrichment; EnqueueUnique absorbs the repeats.
// Follow-up tasks and cache marks are best effort.
func (p *Pipeline) commit(ctx context.Context, results []itemResult, res *ChunkResult) error {
	var chunk places.Chunk
	for _, r := range results {
		switch r.outcome {
		case outcomeUpsert:
			chunk.Upserts = append(chunk.Upserts, r.place)
		case outcomeDelete:
			chunk.Deletes = append(chunk.Deletes, r.ref)
		case outcomeFiltered:
			res.Filtered++
		case outcomeSkipped:
			res.Skipped++
			p.deps.Scanner.RecordError(fmt.Sprintf("skipped %s: %v", r.ref.SourceID, r.err))
		case outcomeFailed:
			res.Failed++
			p.deps.Scanner.RecordError(fmt.Sprintf("failed %s: %v", r.ref.SourceID, r.err))
		}
	}

	var written places.WriteResult
	if len(chunk.Upserts) > 0 || len(chunk.Deletes) > 0 {
		var err error
		written, err = p.deps.Places.WriteChunk(ctx, chunk)
		if err != nil {
			return fmt.Errorf("failed to write chunk: %w", err)
		}
	}
	res.Processed = len(chunk.Upserts)
	res.Deleted = len(chunk.Deletes)
	res.Inserted = len(written.Inserted)

	p.deps.Scanner.AddProcessed(res.Processed)
	p.enqueueFollowups(ctx, written.Upserted)

	next := p.state
	next.Cursor = p.deps.Scanner.Cursor()
	next.LastProcessedPage += int64(res.Pages)
	next.TotalProcessedRecords += int64(res.Processed)
	next.LastProcessedTimestamp = time.Now()
	next.LastExecutionStatus = checkpoint.StatusCompleted
	if err := p.deps.Checkpoints.Save(ctx, next); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	p.state = next
	p.metrics.RecordCheckpoint(p.cfg.JobName, next.LastProcessedPage)

	for _, pl := range chunk.Upserts {
		p.deps.Cache.Mark(ctx, cache.Key(pl.Source, pl.SourceID))
	}
	return nil
}

// enqueueFollowups creates a task for each written place without stored
// enrichment. A place missed here is picked up the next time it is written.
func (p *Pipeline) enqueueFollowups(ctx context.Context, upserted []types.Place) {
	if p.deps.Queue == nil || !p.cfg.FollowupFlags.Any() || len(upserted) == 0 {
		return
	}

	ids := make([]string, 0, len(upserted))
	for _, pl := range upserted {
		ids = append(ids, pl.ID)
	}
	targets, err := p.deps.Places.Unenriched(ctx, ids)
	if err != nil {
		p.logger.Warn().Err(err).Int("places", len(ids)).Msg("Failed to look up unenriched places")
		return
	}

	for _, id := range targets {
		if _, _, err := p.deps.Queue.EnqueueUnique(ctx, id, p.cfg.FollowupFlags, p.cfg.FollowupPriority); err != nil {
			p.logger.Warn().Err(err).Str("place_id", id).Msg("Failed to enqueue follow-up task")
		}
	}
}

// rollback restores the scanner to the last committed cursor
func (p *Pipeline) rollback() {
	p.deps.Scanner.Seed(p.state.Cursor)
	p.buffer = nil
}
