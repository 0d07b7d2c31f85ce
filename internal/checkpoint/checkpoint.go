// Package checkpoint persists job progress so ingestion resumes where it
// stopped after a restart.
package checkpoint

import (
	"context"
	"errors"
	"time"
)

// ErrRegression is returned when a save would lower a job's page counter.
var ErrRegression = errors.New("checkpoint page would regress")

// maxCursorErrors bounds the error history kept on a cursor
const maxCursorErrors = 50

// Execution statuses recorded on State.LastExecutionStatus
const (
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
	StatusPassDone  = "PASS_COMPLETED"
)

// Cursor is the scanner position inside the region/coordinate/query/page space.
type Cursor struct {
	CurrentRegion    string   `json:"currentRegion"`
	CompletedRegions []string `json:"completedRegions"`
	CoordinateIndex  int      `json:"coordinateIndex"`
	QueryIndex       int      `json:"queryIndex"`
	Page             int      `json:"page"`
	// ItemOffset counts the items of the current page already committed.
	ItemOffset     int      `json:"itemOffset"`
	Pass           int      `json:"pass"`
	TotalProcessed int64    `json:"totalProcessed"`
	Errors         []string `json:"errors,omitempty"`
}

// RegionCompleted reports whether name is in CompletedRegions
func (c Cursor) RegionCompleted(name string) bool {
	for _, r := range c.CompletedRegions {
		if r == name {
			return true
		}
	}
	return false
}

// AddError appends msg, keeping only the most recent entries
func (c *Cursor) AddError(msg string) {
	c.Errors = append(c.Errors, msg)
	if len(c.Errors) > maxCursorErrors {
		c.Errors = append([]string(nil), c.Errors[len(c.Errors)-maxCursorErrors:]...)
	}
}

// Clone returns a deep copy
func (c Cursor) Clone() Cursor {
	out := c
	out.CompletedRegions = append([]string(nil), c.CompletedRegions...)
	out.Errors = append([]string(nil), c.Errors...)
	return out
}

// State is the persisted progress of one job
type State struct {
	JobName                string    `json:"jobName"`
	LastProcessedPage      int64     `json:"lastProcessedPage"`
	LastProcessedTimestamp time.Time `json:"lastProcessedTimestamp"`
	TotalProcessedRecords  int64     `json:"totalProcessedRecords"`
	LastExecutionStatus    string    `json:"lastExecutionStatus"`
	Cursor                 Cursor    `json:"cursor"`
	UpdatedAt              time.Time `json:"updatedAt"`
}

// Store loads and saves job checkpoints.
//
// Load returns (nil, nil) when the job has no checkpoint yet.
// Save upserts by job name and returns ErrRegression, leaving the stored
// row untouched, when LastProcessedPage is lower than the stored value.
type Store interface {
	Load(ctx context.Context, jobName string) (*State, error)
	Save(ctx context.Context, state State) error
}
