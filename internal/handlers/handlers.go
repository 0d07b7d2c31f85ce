// Package handlers exposes the ingestion control surface over HTTP.
package handlers

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/kosarica/place-service/internal/checkpoint"
	"github.com/kosarica/place-service/internal/controller"
	"github.com/kosarica/place-service/internal/database"
	"github.com/kosarica/place-service/internal/taskqueue"
	"github.com/kosarica/place-service/internal/types"
)

// DefaultStopWait bounds how long a stop request waits for the batch in
// progress before answering 202
const DefaultStopWait = 10 * time.Second

// ServiceController is the continuous ingestion loop
type ServiceController interface {
	Start() bool
	Stop() bool
	Status() controller.ServiceStatus
}

// TaskQueue is the subset of the queue the API reads and writes
type TaskQueue interface {
	Enqueue(ctx context.Context, targetID string, flags types.WorkFlags, priority taskqueue.Priority) (*taskqueue.Task, error)
	Get(ctx context.Context, id string) (*taskqueue.Task, error)
	Progress(ctx context.Context, id string) ([]taskqueue.TaskProgress, error)
	Stats(ctx context.Context) (taskqueue.QueueStats, error)
	DeadLetters(ctx context.Context, limit int) ([]taskqueue.Task, error)
}

// CheckpointLoader reads job checkpoints
type CheckpointLoader interface {
	Load(ctx context.Context, jobName string) (*checkpoint.State, error)
}

// Pinger checks database connectivity
type Pinger = database.Pinger

// Handler serves the API. DB may be nil when running on memory storage.
type Handler struct {
	controller  ServiceController
	queue       TaskQueue
	checkpoints CheckpointLoader
	db          database.Pinger
	stopWait    time.Duration
	logger      zerolog.Logger
}

// New creates a Handler
func New(ctrl ServiceController, queue TaskQueue, checkpoints CheckpointLoader, db database.Pinger, logger *zerolog.Logger) *Handler {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Handler{
		controller:  ctrl,
		queue:       queue,
		checkpoints: checkpoints,
		db:          db,
		stopWait:    DefaultStopWait,
		logger:      logger.With().Str("component", "http").Logger(),
	}
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error string `json:"error" jsonschema:"required"`
}
