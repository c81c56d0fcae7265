package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"travelist/internal/apperr"
	"travelist/internal/logging"
	"travelist/internal/schema"
)

// PostgresStore persists tasks in the ai_tasks table. The queued→running
// claim is a conditional UPDATE so concurrent workers cannot double-run a
// task.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

// NewPostgresStore wraps the shared pool.
func NewPostgresStore(pool *pgxpool.Pool, logger logging.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logging.OrNop(logger)}
}

// EnsureSchema creates the ai_tasks table if missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS ai_tasks (
    id          TEXT PRIMARY KEY,
    user_id     BIGINT NOT NULL,
    kind        TEXT NOT NULL,
    status      TEXT NOT NULL,
    payload     JSONB NOT NULL DEFAULT '{}',
    trace_id    TEXT,
    result      JSONB,
    error       JSONB,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    started_at  TIMESTAMPTZ,
    finished_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS ix_ai_tasks_user_id ON ai_tasks (user_id);
CREATE INDEX IF NOT EXISTS ix_ai_tasks_status ON ai_tasks (status);
CREATE INDEX IF NOT EXISTS ix_ai_tasks_created_at ON ai_tasks (created_at);
CREATE INDEX IF NOT EXISTS ix_ai_tasks_finished_at ON ai_tasks (finished_at);
`
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure ai_tasks schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, t *Task) error {
	payload, err := json.Marshal(t.Payload)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistenceFailed, "encode task payload", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO ai_tasks (id, user_id, kind, status, payload, trace_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.UserID, t.Kind, t.Status, payload, t.TraceID, t.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperr.Wrap(apperr.KindDBConflict, "task already exists", err)
		}
		return apperr.Wrap(apperr.KindPersistenceFailed, "insert task", err)
	}
	return nil
}

const taskColumns = `id, user_id, kind, status, payload, trace_id, result, error, created_at, started_at, finished_at`

func (s *PostgresStore) Get(ctx context.Context, id string) (*Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM ai_tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistenceFailed, "load task", err)
	}
	return t, nil
}

func scanTask(row pgx.Row) (*Task, error) {
	var (
		t          Task
		payload    []byte
		result     []byte
		errPayload []byte
		traceID    *string
	)
	if err := row.Scan(&t.ID, &t.UserID, &t.Kind, &t.Status, &payload, &traceID,
		&result, &errPayload, &t.CreatedAt, &t.StartedAt, &t.FinishedAt); err != nil {
		return nil, err
	}
	t.Status = NormalizeStatus(t.Status)
	if traceID != nil {
		t.TraceID = *traceID
	}
	if len(payload) > 0 {
		var req schema.PlanRequest
		if err := json.Unmarshal(payload, &req); err == nil {
			t.Payload = &req
		}
	}
	if len(result) > 0 {
		_ = json.Unmarshal(result, &t.Result)
	}
	if len(errPayload) > 0 {
		var info ErrorInfo
		if err := json.Unmarshal(errPayload, &info); err == nil {
			t.Error = &info
		}
	}
	return &t, nil
}

func (s *PostgresStore) CountActive(ctx context.Context, userID int64, kind string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
SELECT COUNT(*) FROM ai_tasks
WHERE user_id = $1 AND kind = $2 AND status IN ('queued', 'pending', 'running')`,
		userID, kind).Scan(&count)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindPersistenceFailed, "count active tasks", err)
	}
	return count, nil
}

func (s *PostgresStore) MarkRunning(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE ai_tasks SET status = 'running', started_at = $2
WHERE id = $1 AND status IN ('queued', 'pending')`, id, at)
	if err != nil {
		return false, apperr.Wrap(apperr.KindPersistenceFailed, "claim task", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) MarkSucceeded(ctx context.Context, id string, result map[string]any, at time.Time) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistenceFailed, "encode task result", err)
	}
	_, err = s.pool.Exec(ctx, `
UPDATE ai_tasks SET status = 'succeeded', result = $2, error = NULL, finished_at = $3
WHERE id = $1`, id, raw, at)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistenceFailed, "finish task", err)
	}
	return nil
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id string, info ErrorInfo, at time.Time) error {
	raw, err := json.Marshal(info)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistenceFailed, "encode task error", err)
	}
	_, err = s.pool.Exec(ctx, `
UPDATE ai_tasks SET status = 'failed', error = $2, finished_at = $3
WHERE id = $1`, id, raw, at)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistenceFailed, "fail task", err)
	}
	return nil
}

func (s *PostgresStore) RecoverStartup(ctx context.Context, kind string, at time.Time) ([]string, int, error) {
	restartErr, err := json.Marshal(ErrorInfo{
		Type:    "worker_restart",
		Message: "worker restarted before task finished",
	})
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.KindPersistenceFailed, "encode restart error", err)
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE ai_tasks SET status = 'failed', error = $2, finished_at = $3
WHERE kind = $1 AND status = 'running'`, kind, restartErr, at)
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.KindPersistenceFailed, "fail running tasks", err)
	}

	rows, err := s.pool.Query(ctx, `
SELECT id FROM ai_tasks
WHERE kind = $1 AND status IN ('queued', 'pending')
ORDER BY created_at ASC, id ASC`, kind)
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.KindPersistenceFailed, "list queued tasks", err)
	}
	defer rows.Close()

	var queued []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, 0, apperr.Wrap(apperr.KindPersistenceFailed, "scan queued task", err)
		}
		queued = append(queued, id)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperr.Wrap(apperr.KindPersistenceFailed, "iterate queued tasks", err)
	}
	return queued, int(tag.RowsAffected()), nil
}

func (s *PostgresStore) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
DELETE FROM ai_tasks
WHERE status IN ('succeeded', 'done', 'failed', 'canceled') AND finished_at < $1`, cutoff)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindPersistenceFailed, "delete finished tasks", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) StatusCounts(ctx context.Context, kind string) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `
SELECT status, COUNT(*) FROM ai_tasks WHERE kind = $1 GROUP BY status`, kind)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistenceFailed, "count task statuses", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, apperr.Wrap(apperr.KindPersistenceFailed, "scan status count", err)
		}
		counts[NormalizeStatus(status)] += count
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindPersistenceFailed, "iterate status counts", err)
	}
	return counts, nil
}

func (s *PostgresStore) ListRecent(ctx context.Context, kind string, limit int) ([]*Task, error) {
	if limit < 1 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
SELECT `+taskColumns+` FROM ai_tasks
WHERE kind = $1
ORDER BY created_at DESC, id ASC
LIMIT $2`, kind, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistenceFailed, "list recent tasks", err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindPersistenceFailed, "scan task", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindPersistenceFailed, "iterate tasks", err)
	}
	return out, nil
}
