package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kosarica/place-service/internal/taskqueue"
	"github.com/kosarica/place-service/internal/types"
)

// EnqueueTaskRequest requests enrichment of one place
type EnqueueTaskRequest struct {
	TargetID string `json:"targetId" binding:"required" jsonschema:"required"`
	Menus    bool   `json:"menus"`
	Images   bool   `json:"images"`
	Reviews  bool   `json:"reviews"`
	Priority int    `json:"priority" binding:"min=0,max=1" jsonschema:"enum=0,enum=1"`
}

// TaskProgressResponse lists the recorded attempts of a task
type TaskProgressResponse struct {
	TaskID   string                   `json:"taskId" jsonschema:"required"`
	Status   taskqueue.Status         `json:"status" jsonschema:"required"`
	Attempts []taskqueue.TaskProgress `json:"attempts" jsonschema:"required"`
}

// ListDeadLettersRequest represents query parameters for dead letters
type ListDeadLettersRequest struct {
	Limit int `form:"limit" json:"limit" binding:"min=0,max=500" jsonschema:"minimum=1,maximum=500"`
}

// ListDeadLettersResponse lists terminally failed tasks
type ListDeadLettersResponse struct {
	Tasks []taskqueue.Task `json:"tasks" jsonschema:"required"`
	Total int              `json:"total" jsonschema:"required"`
}

// EnqueueTask creates an enrichment task
// @Summary Enqueue enrichment
// @Description Creates a pending enrichment task for a place. Priority 1 is claimed before priority 0.
// @Tags tasks
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param request body EnqueueTaskRequest true "Task"
// @Success 201 {object} taskqueue.Task
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /internal/tasks [post]
func (h *Handler) EnqueueTask(c *gin.Context) {
	var req EnqueueTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	flags := types.WorkFlags{Menus: req.Menus, Images: req.Images, Reviews: req.Reviews}
	task, err := h.queue.Enqueue(c.Request.Context(), req.TargetID, flags, taskqueue.Priority(req.Priority))
	if err != nil {
		if errors.Is(err, taskqueue.ErrInvalidTask) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
		h.logger.Error().Err(err).Str("target_id", req.TargetID).Msg("Failed to enqueue task")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to enqueue task"})
		return
	}

	c.JSON(http.StatusCreated, task)
}

// GetTask returns one task
// @Summary Get task
// @Tags tasks
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "Task ID"
// @Success 200 {object} taskqueue.Task
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /internal/tasks/{id} [get]
func (h *Handler) GetTask(c *gin.Context) {
	task, ok := h.loadTask(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, task)
}

// GetTaskProgress returns the attempt history of a task
// @Summary Get task progress
// @Tags tasks
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "Task ID"
// @Success 200 {object} TaskProgressResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /internal/tasks/{id}/progress [get]
func (h *Handler) GetTaskProgress(c *gin.Context) {
	task, ok := h.loadTask(c)
	if !ok {
		return
	}

	attempts, err := h.queue.Progress(c.Request.Context(), task.ID)
	if err != nil {
		h.logger.Error().Err(err).Str("task_id", task.ID).Msg("Failed to load task progress")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to load task progress"})
		return
	}
	if attempts == nil {
		attempts = []taskqueue.TaskProgress{}
	}

	c.JSON(http.StatusOK, TaskProgressResponse{TaskID: task.ID, Status: task.Status, Attempts: attempts})
}

func (h *Handler) loadTask(c *gin.Context) (*taskqueue.Task, bool) {
	id := c.Param("id")
	task, err := h.queue.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, taskqueue.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Task not found"})
			return nil, false
		}
		h.logger.Error().Err(err).Str("task_id", id).Msg("Failed to load task")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to load task"})
		return nil, false
	}
	return task, true
}

// QueueStats returns a queue snapshot
// @Summary Queue statistics
// @Description Returns per-status task counts and the worker table
// @Tags tasks
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} taskqueue.QueueStats
// @Failure 500 {object} ErrorResponse
// @Router /internal/queue/stats [get]
func (h *Handler) QueueStats(c *gin.Context) {
	stats, err := h.queue.Stats(c.Request.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to load queue stats")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to load queue stats"})
		return
	}
	if stats.Workers == nil {
		stats.Workers = []taskqueue.WorkerInfo{}
	}
	c.JSON(http.StatusOK, stats)
}

// ListDeadLetters returns terminally failed tasks
// @Summary List dead letters
// @Tags tasks
// @Produce json
// @Security ApiKeyAuth
// @Param limit query int false "Number of tasks to return" default(50) minimum(1) maximum(500)
// @Success 200 {object} ListDeadLettersResponse
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /internal/queue/dead [get]
func (h *Handler) ListDeadLetters(c *gin.Context) {
	var req ListDeadLettersRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if req.Limit == 0 {
		req.Limit = 50
	}

	tasks, err := h.queue.DeadLetters(c.Request.Context(), req.Limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list dead letters")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list dead letters"})
		return
	}
	if tasks == nil {
		tasks = []taskqueue.Task{}
	}
	c.JSON(http.StatusOK, ListDeadLettersResponse{Tasks: tasks, Total: len(tasks)})
}
