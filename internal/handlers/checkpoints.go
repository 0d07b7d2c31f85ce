package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetCheckpoint returns the stored progress of a job
// @Summary Get checkpoint
// @Description Returns the last committed position of a named ingestion job
// @Tags checkpoints
// @Produce json
// @Security ApiKeyAuth
// @Param job path string true "Job name" default(place-ingestion)
// @Success 200 {object} checkpoint.State
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /internal/checkpoints/{job} [get]
func (h *Handler) GetCheckpoint(c *gin.Context) {
	job := c.Param("job")
	state, err := h.checkpoints.Load(c.Request.Context(), job)
	if err != nil {
		h.logger.Error().Err(err).Str("job", job).Msg("Failed to load checkpoint")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to load checkpoint"})
		return
	}
	if state == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Checkpoint not found"})
		return
	}
	c.JSON(http.StatusOK, state)
}
