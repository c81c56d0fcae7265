package task

import (
	"context"
	"time"
)

// Store is the durable task record port. Implementations must keep the
// queued→running transition atomic so two workers never claim the same
// task.
type Store interface {
	// Create inserts a new queued task. A duplicate ID yields
	// apperr.KindDBConflict.
	Create(ctx context.Context, t *Task) error

	// Get returns the task or (nil, nil) when absent.
	Get(ctx context.Context, id string) (*Task, error)

	// CountActive counts queued+running tasks of the kind for the user.
	CountActive(ctx context.Context, userID int64, kind string) (int, error)

	// MarkRunning claims a queued task. Returns false when the task is no
	// longer queued (already claimed or terminal).
	MarkRunning(ctx context.Context, id string, at time.Time) (bool, error)

	// MarkSucceeded finishes a task with its result payload.
	MarkSucceeded(ctx context.Context, id string, result map[string]any, at time.Time) error

	// MarkFailed finishes a task with a sanitized error.
	MarkFailed(ctx context.Context, id string, info ErrorInfo, at time.Time) error

	// RecoverStartup fails every running task with a worker_restart error
	// and returns the queued IDs oldest first for re-enqueueing.
	RecoverStartup(ctx context.Context, kind string, at time.Time) (queued []string, failed int, err error)

	// DeleteFinishedBefore removes terminal tasks finished before cutoff.
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error)

	// StatusCounts returns the status distribution for the kind.
	StatusCounts(ctx context.Context, kind string) (map[string]int, error)

	// ListRecent returns up to limit tasks of the kind, newest first.
	ListRecent(ctx context.Context, kind string, limit int) ([]*Task, error)
}
