package workers

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/kosarica/place-service/internal/faults"
	"github.com/kosarica/place-service/internal/places"
	"github.com/kosarica/place-service/internal/sources"
	"github.com/kosarica/place-service/internal/taskqueue"
)

// EnrichmentHandler fetches the payloads a task asks for and stores them
// against the place. A place that no longer exists upstream is deleted and
// the task counts as done.
type EnrichmentHandler struct {
	places   places.Repository
	enricher sources.Enricher
	logger   zerolog.Logger
}

// NewEnrichmentHandler creates the task handler
func NewEnrichmentHandler(repo places.Repository, enricher sources.Enricher, logger *zerolog.Logger) *EnrichmentHandler {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &EnrichmentHandler{
		places:   repo,
		enricher: enricher,
		logger:   logger.With().Str("component", "enrichment_handler").Logger(),
	}
}

func (h *EnrichmentHandler) Handle(ctx context.Context, task *taskqueue.Task) error {
	place, err := h.places.Get(ctx, task.TargetID)
	if errors.Is(err, places.ErrNotFound) {
		h.logger.Info().
			Str("task_id", task.ID).
			Str("target_id", task.TargetID).
			Msg("Target place no longer stored, nothing to enrich")
		return nil
	}
	if err != nil {
		return err
	}

	if !task.Flags.Any() {
		return nil
	}

	enrichment, err := h.enricher.Enrich(ctx, place.SourceID, task.Flags)
	if faults.Is(err, faults.KindNotFound) {
		if _, delErr := h.places.Delete(ctx, place.ID); delErr != nil {
			return fmt.Errorf("failed to delete delisted place %s: %w", place.ID, delErr)
		}
		h.logger.Info().
			Str("task_id", task.ID).
			Str("place_id", place.ID).
			Str("source_id", place.SourceID).
			Msg("Place delisted upstream, deleted")
		return nil
	}
	if err != nil {
		return fmt.Errorf("enrich %s: %w", place.ID, err)
	}

	enrichment.TargetID = place.ID
	if err := h.places.SaveEnrichment(ctx, enrichment); err != nil {
		if errors.Is(err, places.ErrNotFound) {
			return nil
		}
		return err
	}
	return nil
}
