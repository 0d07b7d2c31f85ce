package taskqueue

import (
	"time"

	"github.com/kosarica/place-service/internal/types"
)

// Status is the lifecycle state of a task
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRetrying   Status = "retrying"
)

// Claimable reports whether a task in this status may be claimed
func (s Status) Claimable() bool {
	return s == StatusPending || s == StatusRetrying
}

// Terminal reports whether the status never changes again
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Priority orders claimable tasks; higher wins
type Priority int

const (
	PriorityNormal Priority = 0
	PriorityHigh   Priority = 1
)

// Valid reports whether p is one of the defined priorities
func (p Priority) Valid() bool {
	return p == PriorityNormal || p == PriorityHigh
}

// Task is one enrichment request for a place
type Task struct {
	ID          string          `json:"taskId"`
	TargetID    string          `json:"targetId"`
	Flags       types.WorkFlags `json:"flags"`
	Priority    Priority        `json:"priority"`
	Attempts    int             `json:"attempts"`
	Status      Status          `json:"status"`
	WorkerID    string          `json:"workerId,omitempty"`
	LastError   string          `json:"lastError,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	ScheduledAt time.Time       `json:"scheduledAt"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Attempt is the 1-based number of the execution currently running
func (t Task) Attempt() int {
	return t.Attempts + 1
}

// TaskProgress records one execution attempt
type TaskProgress struct {
	TaskID    string          `json:"taskId"`
	Attempt   int             `json:"attempt"`
	TargetID  string          `json:"targetId"`
	Status    Status          `json:"status"`
	WorkerID  string          `json:"workerId"`
	StartTime time.Time       `json:"startTime"`
	EndTime   *time.Time      `json:"endTime,omitempty"`
	LastError string          `json:"lastError,omitempty"`
	Flags     types.WorkFlags `json:"flags"`
}

// WorkerStatus is the state of one worker goroutine
type WorkerStatus string

const (
	WorkerStarting WorkerStatus = "starting"
	WorkerActive   WorkerStatus = "active"
	WorkerIdle     WorkerStatus = "idle"
	WorkerStopping WorkerStatus = "stopping"
	WorkerStopped  WorkerStatus = "stopped"
)

// WorkerInfo is the heartbeat row of one worker
type WorkerInfo struct {
	WorkerID       string       `json:"workerId"`
	Hostname       string       `json:"hostname"`
	Threads        int          `json:"threads"`
	Enabled        bool         `json:"enabled"`
	Status         WorkerStatus `json:"status"`
	StartedAt      time.Time    `json:"startedAt"`
	LastHeartbeat  time.Time    `json:"lastHeartbeat"`
	TasksProcessed int64        `json:"tasksProcessed"`
	TasksFailed    int64        `json:"tasksFailed"`
	CurrentTaskID  string       `json:"currentTaskId,omitempty"`
}

// QueueStats is a point-in-time snapshot of the queue
type QueueStats struct {
	PendingCount    int          `json:"pendingCount"`
	PriorityCount   int          `json:"priorityCount"`
	ProcessingCount int          `json:"processingCount"`
	CompletedCount  int          `json:"completedCount"`
	FailedCount     int          `json:"failedCount"`
	RetryingCount   int          `json:"retryingCount"`
	ActiveWorkers   int          `json:"activeWorkers"`
	TotalWorkers    int          `json:"totalWorkers"`
	LastUpdated     time.Time    `json:"lastUpdated"`
	Workers         []WorkerInfo `json:"workers"`
}

// Counts is the raw per-status tally a store reports
type Counts struct {
	ByStatus        map[Status]int
	PriorityPending int
}
