package trip

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

// PostgresStore persists trips across the trips / day_cards / sub_trips
// tables.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

// NewPostgresStore wraps the shared pool.
func NewPostgresStore(pool *pgxpool.Pool, logger logging.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logging.OrNop(logger)}
}

// EnsureSchema creates the trip tables if missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS users (
    id          BIGSERIAL PRIMARY KEY,
    email       TEXT NOT NULL UNIQUE,
    name        TEXT,
    preferences JSONB NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS trips (
    id          BIGSERIAL PRIMARY KEY,
    user_id     BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    title       TEXT NOT NULL,
    destination TEXT,
    start_date  DATE,
    end_date    DATE,
    status      TEXT NOT NULL DEFAULT 'draft',
    meta        JSONB NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_trips_user_id ON trips (user_id);
CREATE TABLE IF NOT EXISTS day_cards (
    id        BIGSERIAL PRIMARY KEY,
    trip_id   BIGINT NOT NULL REFERENCES trips(id) ON DELETE CASCADE,
    day_index INTEGER NOT NULL,
    date      DATE,
    note      TEXT,
    UNIQUE (trip_id, day_index)
);
CREATE TABLE IF NOT EXISTS sub_trips (
    id          BIGSERIAL PRIMARY KEY,
    day_card_id BIGINT NOT NULL REFERENCES day_cards(id) ON DELETE CASCADE,
    order_index INTEGER NOT NULL DEFAULT 0,
    activity    TEXT NOT NULL,
    poi_key     TEXT,
    loc_name    TEXT,
    transport   TEXT,
    start_time  TEXT,
    end_time    TEXT,
    ext         JSONB,
    UNIQUE (day_card_id, order_index)
);`
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure trip schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) UserExists(ctx context.Context, userID int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists)
	if err != nil {
		return false, apperr.Wrap(apperr.KindPersistenceFailed, "check user", err)
	}
	return exists, nil
}

func (s *PostgresStore) SavePlan(ctx context.Context, userID int64, plan *schema.TripPlan) (int64, error) {
	if plan == nil {
		return 0, apperr.New(apperr.KindInvalidParams, "nil plan")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindPersistenceFailed, "begin trip tx", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	meta, _ := json.Marshal(plan.Meta)
	if plan.Meta == nil {
		meta = []byte("{}")
	}

	var tripID int64
	err = tx.QueryRow(ctx, `
INSERT INTO trips (user_id, title, destination, start_date, end_date, status, meta)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		userID, plan.Title, plan.Destination,
		plan.StartDate.Time(), plan.EndDate.Time(), StatusPlanned, meta).Scan(&tripID)
	if err != nil {
		return 0, wrapSaveErr("insert trip", err)
	}

	for _, day := range plan.DayCards {
		var dayCardID int64
		err = tx.QueryRow(ctx, `
INSERT INTO day_cards (trip_id, day_index, date, note)
VALUES ($1, $2, $3, $4) RETURNING id`,
			tripID, day.DayIndex, day.Date.Time(), nullable(day.Note)).Scan(&dayCardID)
		if err != nil {
			return 0, wrapSaveErr("insert day card", err)
		}
		for _, st := range day.SubTrips {
			var ext []byte
			if st.Ext != nil {
				ext, _ = json.Marshal(st.Ext)
			}
			_, err = tx.Exec(ctx, `
INSERT INTO sub_trips (day_card_id, order_index, activity, poi_key, loc_name, transport, start_time, end_time, ext)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				dayCardID, st.OrderIndex, st.Activity, nullable(st.PoiKey),
				nullable(st.LocName), nullable(st.Transport),
				nullable(st.StartTime), nullable(st.EndTime), ext)
			if err != nil {
				return 0, wrapSaveErr("insert sub trip", err)
			}
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, apperr.Wrap(apperr.KindPersistenceFailed, "commit trip tx", err)
	}
	return tripID, nil
}

func wrapSaveErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return apperr.Wrap(apperr.KindDBConflict, op, err)
	}
	return apperr.Wrap(apperr.KindPersistenceFailed, op, err)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (s *PostgresStore) GetTrip(ctx context.Context, tripID int64) (*schema.TripPlan, error) {
	var (
		plan      schema.TripPlan
		start     time.Time
		end       time.Time
		meta      []byte
		dest      *string
	)
	err := s.pool.QueryRow(ctx, `
SELECT id, title, COALESCE(destination, ''), start_date, end_date, meta
FROM trips WHERE id = $1`, tripID).Scan(
		&plan.TripID, &plan.Title, &dest, &start, &end, &meta)
	if err == pgx.ErrNoRows {
		return nil, apperr.Newf(apperr.KindNotFound, "trip %d not found", tripID)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistenceFailed, "get trip", err)
	}
	if dest != nil {
		plan.Destination = *dest
	}
	plan.StartDate = schema.DateOf(start)
	plan.EndDate = schema.DateOf(end)
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &plan.Meta)
	}
	if err := s.loadDayCards(ctx, &plan); err != nil {
		return nil, err
	}
	plan.DayCount = len(plan.DayCards)
	return &plan, nil
}

func (s *PostgresStore) loadDayCards(ctx context.Context, plan *schema.TripPlan) error {
	rows, err := s.pool.Query(ctx, `
SELECT dc.id, dc.day_index, dc.date, COALESCE(dc.note, ''),
       st.order_index, st.activity, COALESCE(st.poi_key, ''), COALESCE(st.loc_name, ''),
       COALESCE(st.transport, ''), COALESCE(st.start_time, ''), COALESCE(st.end_time, ''), st.ext
FROM day_cards dc
LEFT JOIN sub_trips st ON st.day_card_id = dc.id
WHERE dc.trip_id = $1
ORDER BY dc.day_index, st.order_index`, plan.TripID)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistenceFailed, "load day cards", err)
	}
	defer rows.Close()

	var current *schema.DayCardPlan
	var currentID int64 = -1
	for rows.Next() {
		var (
			dayCardID  int64
			dayIndex   int
			date       time.Time
			note       string
			orderIndex *int
			activity   *string
			poiKey     string
			locName    string
			transport  string
			startTime  string
			endTime    string
			ext        []byte
		)
		if err := rows.Scan(&dayCardID, &dayIndex, &date, &note,
			&orderIndex, &activity, &poiKey, &locName,
			&transport, &startTime, &endTime, &ext); err != nil {
			return apperr.Wrap(apperr.KindPersistenceFailed, "scan day card row", err)
		}
		if dayCardID != currentID {
			plan.DayCards = append(plan.DayCards, schema.DayCardPlan{
				DayIndex: dayIndex,
				Date:     schema.DateOf(date),
				Note:     note,
			})
			current = &plan.DayCards[len(plan.DayCards)-1]
			currentID = dayCardID
		}
		if orderIndex == nil || activity == nil {
			continue // day card without sub-trips
		}
		st := schema.SubTripPlan{
			OrderIndex: *orderIndex,
			Activity:   *activity,
			PoiKey:     poiKey,
			LocName:    locName,
			Transport:  transport,
			StartTime:  startTime,
			EndTime:    endTime,
		}
		if len(ext) > 0 {
			_ = json.Unmarshal(ext, &st.Ext)
		}
		current.SubTrips = append(current.SubTrips, st)
	}
	if err := rows.Err(); err != nil {
		return apperr.Wrap(apperr.KindPersistenceFailed, "iterate day card rows", err)
	}
	return nil
}

func (s *PostgresStore) LatestForUser(ctx context.Context, userID int64) (*schema.TripPlan, error) {
	var tripID int64
	err := s.pool.QueryRow(ctx, `
SELECT id FROM trips WHERE user_id = $1
ORDER BY updated_at DESC, id DESC LIMIT 1`, userID).Scan(&tripID)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistenceFailed, "latest trip", err)
	}
	return s.GetTrip(ctx, tripID)
}

func (s *PostgresStore) ListTrips(ctx context.Context, filter ListFilter) ([]Summary, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := `
SELECT t.id, t.user_id, t.title, COALESCE(t.destination, ''), t.start_date, t.end_date,
       t.status, t.updated_at,
       COUNT(DISTINCT dc.id) AS day_count,
       COUNT(st.id) AS sub_trip_count
FROM trips t
LEFT JOIN day_cards dc ON dc.trip_id = t.id
LEFT JOIN sub_trips st ON st.day_card_id = dc.id
WHERE 1=1`
	args := []any{}
	if filter.UserID > 0 {
		args = append(args, filter.UserID)
		query += fmt.Sprintf(" AND t.user_id = $%d", len(args))
	}
	if filter.Destination != "" {
		args = append(args, "%"+filter.Destination+"%")
		query += fmt.Sprintf(" AND t.destination ILIKE $%d", len(args))
	}
	query += `
GROUP BY t.id
ORDER BY t.updated_at DESC, t.id DESC`
	args = append(args, limit, offset)
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistenceFailed, "list trips", err)
	}
	defer rows.Close()

	summaries := make([]Summary, 0, limit)
	for rows.Next() {
		var (
			summary Summary
			start   *time.Time
			end     *time.Time
		)
		if err := rows.Scan(&summary.ID, &summary.UserID, &summary.Title,
			&summary.Destination, &start, &end, &summary.Status,
			&summary.UpdatedAt, &summary.DayCount, &summary.SubTripCount); err != nil {
			return nil, apperr.Wrap(apperr.KindPersistenceFailed, "scan trip summary", err)
		}
		if start != nil {
			summary.StartDate = schema.DateOf(*start)
		}
		if end != nil {
			summary.EndDate = schema.DateOf(*end)
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindPersistenceFailed, "iterate trip summaries", err)
	}
	return summaries, nil
}
