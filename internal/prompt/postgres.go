package prompt

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"travelist/internal/apperr"
)

// PostgresStore persists prompt overrides in the ai_prompts table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps the shared pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the ai_prompts table if missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS ai_prompts (
    key        TEXT PRIMARY KEY,
    title      TEXT NOT NULL DEFAULT '',
    role       TEXT NOT NULL DEFAULT 'system',
    content    TEXT NOT NULL,
    version    INTEGER NOT NULL DEFAULT 1,
    tags       TEXT[] NOT NULL DEFAULT '{}',
    is_active  BOOLEAN NOT NULL DEFAULT TRUE,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_by TEXT NOT NULL DEFAULT ''
);`
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure ai_prompts schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (*Prompt, error) {
	var (
		p         Prompt
		updatedAt time.Time
	)
	err := s.pool.QueryRow(ctx, `
SELECT key, title, role, content, version, tags, is_active, updated_at, updated_by
FROM ai_prompts WHERE key = $1`, key).Scan(
		&p.Key, &p.Title, &p.Role, &p.Content, &p.Version, &p.Tags,
		&p.IsActive, &updatedAt, &p.UpdatedBy)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistenceFailed, "get prompt", err)
	}
	p.UpdatedAt = &updatedAt
	return &p, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Prompt, error) {
	rows, err := s.pool.Query(ctx, `
SELECT key, title, role, content, version, tags, is_active, updated_at, updated_by
FROM ai_prompts ORDER BY updated_at DESC, version DESC`)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistenceFailed, "list prompts", err)
	}
	defer rows.Close()

	var prompts []Prompt
	for rows.Next() {
		var (
			p         Prompt
			updatedAt time.Time
		)
		if err := rows.Scan(&p.Key, &p.Title, &p.Role, &p.Content, &p.Version,
			&p.Tags, &p.IsActive, &updatedAt, &p.UpdatedBy); err != nil {
			return nil, apperr.Wrap(apperr.KindPersistenceFailed, "scan prompt row", err)
		}
		p.UpdatedAt = &updatedAt
		prompts = append(prompts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindPersistenceFailed, "iterate prompt rows", err)
	}
	return prompts, nil
}

func (s *PostgresStore) Save(ctx context.Context, p Prompt) error {
	updatedAt := time.Now().UTC()
	if p.UpdatedAt != nil {
		updatedAt = *p.UpdatedAt
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO ai_prompts (key, title, role, content, version, tags, is_active, updated_at, updated_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (key) DO UPDATE SET
    title = EXCLUDED.title,
    role = EXCLUDED.role,
    content = EXCLUDED.content,
    version = EXCLUDED.version,
    tags = EXCLUDED.tags,
    is_active = EXCLUDED.is_active,
    updated_at = EXCLUDED.updated_at,
    updated_by = EXCLUDED.updated_by`,
		p.Key, p.Title, p.Role, p.Content, p.Version, p.Tags, p.IsActive,
		updatedAt, p.UpdatedBy)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistenceFailed, "save prompt", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM ai_prompts WHERE key = $1`, key); err != nil {
		return apperr.Wrap(apperr.KindPersistenceFailed, "delete prompt", err)
	}
	return nil
}
