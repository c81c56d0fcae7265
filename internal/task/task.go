// Package task is the persisted asynchronous task engine: durable task
// records, an in-process bounded queue, worker goroutines, idempotent
// submission and restart recovery.
package task

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"travelist/internal/schema"
)

// KindPlanDeep is the only task kind this phase executes.
const KindPlanDeep = "plan:deep"

// Canonical task statuses. Stores never write the legacy aliases but
// accept them on read.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
)

// NormalizeStatus maps legacy aliases (pending, done) onto the canonical
// set. Unknown values degrade to failed.
func NormalizeStatus(status string) string {
	switch strings.TrimSpace(status) {
	case "pending":
		return StatusQueued
	case "done":
		return StatusSucceeded
	case StatusQueued, StatusRunning, StatusSucceeded, StatusFailed, StatusCanceled:
		return status
	default:
		return StatusFailed
	}
}

// ErrorInfo is the sanitized error payload stored on failed tasks.
type ErrorInfo struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

// Task is one durable unit of asynchronous work.
type Task struct {
	ID         string              `json:"task_id"`
	UserID     int64               `json:"user_id"`
	Kind       string              `json:"kind"`
	Status     string              `json:"status"`
	Payload    *schema.PlanRequest `json:"payload,omitempty"`
	TraceID    string              `json:"trace_id,omitempty"`
	Result     map[string]any      `json:"result,omitempty"`
	Error      *ErrorInfo          `json:"error,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
	StartedAt  *time.Time          `json:"started_at,omitempty"`
	FinishedAt *time.Time          `json:"finished_at,omitempty"`
}

// UpdatedAt is the most recent transition time of the task.
func (t *Task) UpdatedAt() time.Time {
	if t.FinishedAt != nil {
		return *t.FinishedAt
	}
	if t.StartedAt != nil {
		return *t.StartedAt
	}
	return t.CreatedAt
}

// Terminal reports whether the task can no longer change status.
func (t *Task) Terminal() bool {
	switch t.Status {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// NewTaskID derives the task identifier. With a request_id the ID is a
// stable uuid5 over the user+request pair, so resubmission maps to the
// same row; without one it is random.
func NewTaskID(userID int64, requestID string) string {
	if requestID = strings.TrimSpace(requestID); requestID != "" {
		name := fmt.Sprintf("travelist+:ai_task:%s:%d:%s", KindPlanDeep, userID, requestID)
		stable := uuid.NewSHA1(uuid.NameSpaceDNS, []byte(name))
		return "at_" + hexUUID(stable)
	}
	return "at_" + hexUUID(uuid.New())
}

func hexUUID(u uuid.UUID) string {
	return strings.ReplaceAll(u.String(), "-", "")
}
