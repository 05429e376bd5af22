// Package maintenance provides long-running bulk jobs with persisted
// chunk-level progress and cooperative cancellation.
package maintenance

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/rich13/lifespan-beta-sub017/errors"
)

var errNoHandlerName = errors.New("handler name cannot be empty")

// Status represents the current state of a maintenance job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// IsValidStatus returns true if the status string is a valid Status.
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusQueued, StatusRunning, StatusCompleted, StatusCancelled, StatusFailed:
		return true
	default:
		return false
	}
}

// Progress carries per-record outcome counts for a job. Counts survive
// cancellation and crashes: they are persisted after every chunk.
type Progress struct {
	Processed int `json:"processed"`
	Created   int `json:"created,omitempty"`
	Skipped   int `json:"skipped,omitempty"`
	Errors    int `json:"errors,omitempty"`
	Total     int `json:"total,omitempty"`
}

// Percentage calculates progress as a percentage (0-100).
func (p Progress) Percentage() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Processed) / float64(p.Total) * 100
}

// Job is one maintenance operation. The infrastructure is handler-agnostic:
// HandlerName routes execution and Payload carries handler-specific data.
type Job struct {
	ID              string          `json:"id"`
	HandlerName     string          `json:"handler_name"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	Status          Status          `json:"status"`
	Progress        Progress        `json:"progress"`
	CancelRequested bool            `json:"cancel_requested,omitempty"`
	Error           string          `json:"error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	LastActivity    time.Time       `json:"last_activity"`
}

// NewJob creates a queued job for the named handler with a typed payload.
func NewJob(handlerName string, payload json.RawMessage) (*Job, error) {
	if handlerName == "" {
		return nil, errNoHandlerName
	}
	now := time.Now()
	return &Job{
		ID:           uuid.New().String(),
		HandlerName:  handlerName,
		Payload:      payload,
		Status:       StatusQueued,
		CreatedAt:    now,
		LastActivity: now,
	}, nil
}

// Start marks the job as running.
func (j *Job) Start() {
	now := time.Now()
	j.Status = StatusRunning
	j.StartedAt = &now
	j.LastActivity = now
}

// Complete marks the job as completed.
func (j *Job) Complete() {
	now := time.Now()
	j.Status = StatusCompleted
	j.CompletedAt = &now
	j.LastActivity = now
}

// Cancel marks the job as cancelled. Progress counts are left intact so the
// record reports exactly how far the job got.
func (j *Job) Cancel() {
	now := time.Now()
	j.Status = StatusCancelled
	j.CompletedAt = &now
	j.LastActivity = now
}

// Fail marks the job as failed with an error message.
func (j *Job) Fail(err error) {
	now := time.Now()
	j.Status = StatusFailed
	j.Error = err.Error()
	j.CompletedAt = &now
	j.LastActivity = now
}

// Touch records that the job made progress.
func (j *Job) Touch() {
	j.LastActivity = time.Now()
}
