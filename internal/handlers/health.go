package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kosarica/place-service/internal/database"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string `json:"status" jsonschema:"required,enum=ok"`
	Database   string `json:"database" jsonschema:"required,enum=connected,enum=disconnected,enum=not configured"`
	Controller string `json:"controller" jsonschema:"required,enum=running,enum=stopped"`
}

// HealthCheck handles the health check endpoint
// @Summary Health check
// @Description Reports database connectivity and whether the ingestion loop is running
// @Tags health
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /health [get]
func (h *Handler) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:     "ok",
		Controller: controllerState(h.controller.Status().Running),
	}

	if h.db != nil {
		if err := database.Status(c.Request.Context(), h.db); err != nil {
			h.logger.Warn().Err(err).Msg("Health check database ping failed")
			response.Database = "disconnected"
			c.JSON(http.StatusServiceUnavailable, response)
			return
		}
		response.Database = "connected"
	} else {
		response.Database = "not configured"
	}

	c.JSON(http.StatusOK, response)
}

func controllerState(running bool) string {
	if running {
		return "running"
	}
	return "stopped"
}
