package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kosarica/place-service/internal/controller"
)

// ServiceActionResponse is returned by start and stop. Changed is false when
// the service was already in the requested state.
type ServiceActionResponse struct {
	Changed bool                     `json:"changed" jsonschema:"required"`
	Status  controller.ServiceStatus `json:"status" jsonschema:"required"`
}

// StartService starts the continuous ingestion loop
// @Summary Start ingestion
// @Description Starts the continuous ingestion loop. A no-op when it is already running.
// @Tags service
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} ServiceActionResponse
// @Failure 401 {object} ErrorResponse
// @Router /internal/service/start [post]
func (h *Handler) StartService(c *gin.Context) {
	changed := h.controller.Start()
	h.logger.Info().Bool("changed", changed).Msg("Service start requested")
	c.JSON(http.StatusOK, ServiceActionResponse{Changed: changed, Status: h.controller.Status()})
}

// StopService stops the loop after its current batch
// @Summary Stop ingestion
// @Description Stops the continuous ingestion loop. Waits a bounded time for the batch in progress; when it is still running the stop continues in the background and 202 is returned.
// @Tags service
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} ServiceActionResponse
// @Success 202 {object} ServiceActionResponse
// @Failure 401 {object} ErrorResponse
// @Router /internal/service/stop [post]
func (h *Handler) StopService(c *gin.Context) {
	result := make(chan bool, 1)
	go func() {
		result <- h.controller.Stop()
	}()

	timer := time.NewTimer(h.stopWait)
	defer timer.Stop()

	select {
	case changed := <-result:
		h.logger.Info().Bool("changed", changed).Msg("Service stop requested")
		c.JSON(http.StatusOK, ServiceActionResponse{Changed: changed, Status: h.controller.Status()})
	case <-timer.C:
		h.logger.Info().Dur("waited", h.stopWait).Msg("Service stop continues in the background")
		c.JSON(http.StatusAccepted, ServiceActionResponse{Changed: true, Status: h.controller.Status()})
	case <-c.Request.Context().Done():
		h.logger.Info().Msg("Stop request cancelled, stop continues in the background")
	}
}

// ServiceStatus returns the controller status snapshot
// @Summary Service status
// @Description Returns batch counters, success rate, uptime and the current backoff
// @Tags service
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} controller.ServiceStatus
// @Failure 401 {object} ErrorResponse
// @Router /internal/service/status [get]
func (h *Handler) ServiceStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.controller.Status())
}
