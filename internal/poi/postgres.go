package poi

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"travelist/internal/apperr"
	"travelist/internal/logging"
	"travelist/internal/schema"
)

// PostgresStore persists POIs in a pois table keyed by (provider,
// provider_id) and answers radius queries with an in-database haversine.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

// NewPostgresStore wraps the shared pool.
func NewPostgresStore(pool *pgxpool.Pool, logger logging.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logging.OrNop(logger)}
}

// EnsureSchema creates the pois table and its indexes if missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS pois (
    id          BIGSERIAL PRIMARY KEY,
    provider    TEXT NOT NULL,
    provider_id TEXT NOT NULL,
    name        TEXT NOT NULL,
    category    TEXT NOT NULL DEFAULT '',
    addr        TEXT NOT NULL DEFAULT '',
    rating      DOUBLE PRECISION NOT NULL DEFAULT 0,
    lat         DOUBLE PRECISION NOT NULL,
    lng         DOUBLE PRECISION NOT NULL,
    ext         JSONB,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (provider, provider_id)
);
CREATE INDEX IF NOT EXISTS idx_pois_lat_lng ON pois (lat, lng);
CREATE INDEX IF NOT EXISTS idx_pois_category ON pois (category);`
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure pois schema: %w", err)
	}
	return nil
}

// haversineSQL computes the great-circle distance in meters between the
// query point ($1 lat, $2 lng) and each row.
const haversineSQL = `2 * 6371000 * asin(least(1, sqrt(
    power(sin(radians(lat - $1) / 2), 2) +
    cos(radians($1)) * cos(radians(lat)) *
    power(sin(radians(lng - $2) / 2), 2))))`

func (s *PostgresStore) QueryAround(ctx context.Context, lat, lng float64, poiType string, radiusM, limit int) ([]Item, error) {
	// Bounding-box prefilter so the index is usable; one degree of
	// latitude is ~111km.
	latDelta := float64(radiusM) / 111000.0
	lngDelta := latDelta * 2

	query := `
SELECT id, provider, provider_id, name, category, addr, rating, lat, lng, ext,
       ` + haversineSQL + ` AS distance_m
FROM pois
WHERE lat BETWEEN $1 - $3 AND $1 + $3
  AND lng BETWEEN $2 - $4 AND $2 + $4`
	args := []any{lat, lng, latDelta, lngDelta}
	if poiType != "" {
		query += ` AND lower(category) = lower($5)`
		args = append(args, poiType)
	}
	query += `
  AND ` + haversineSQL + ` <= $` + fmt.Sprint(len(args)+1)
	args = append(args, float64(radiusM))
	query += ` ORDER BY distance_m ASC LIMIT $` + fmt.Sprint(len(args)+1)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistenceFailed, "query pois", err)
	}
	defer rows.Close()

	items := make([]Item, 0, limit)
	for rows.Next() {
		item, err := scanPoiRow(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindPersistenceFailed, "scan poi row", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindPersistenceFailed, "iterate poi rows", err)
	}
	return items, nil
}

func scanPoiRow(rows pgx.Rows) (Item, error) {
	var (
		item Item
		ext  []byte
	)
	if err := rows.Scan(&item.ID, &item.Provider, &item.ProviderID, &item.Name,
		&item.Category, &item.Addr, &item.Rating, &item.Lat, &item.Lng, &ext,
		&item.DistanceM); err != nil {
		return Item{}, err
	}
	if len(ext) > 0 {
		_ = json.Unmarshal(ext, &item.Ext)
	}
	item.Source = SourceDB
	return item, nil
}

// Upsert inserts new rows; existing (provider, provider_id) rows are left
// untouched.
func (s *PostgresStore) Upsert(ctx context.Context, pois []schema.Poi) error {
	if len(pois) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, poi := range pois {
		var ext []byte
		if poi.Ext != nil {
			ext, _ = json.Marshal(poi.Ext)
		}
		batch.Queue(`
INSERT INTO pois (provider, provider_id, name, category, addr, rating, lat, lng, ext)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (provider, provider_id) DO NOTHING`,
			poi.Provider, poi.ProviderID, poi.Name, poi.Category, poi.Addr,
			poi.Rating, poi.Lat, poi.Lng, ext)
	}
	results := s.pool.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()
	for range pois {
		if _, err := results.Exec(); err != nil {
			return apperr.Wrap(apperr.KindPersistenceFailed, "upsert poi", err)
		}
	}
	return nil
}

func (s *PostgresStore) GetByKey(ctx context.Context, provider, providerID string) (*schema.Poi, error) {
	var (
		poi schema.Poi
		ext []byte
	)
	err := s.pool.QueryRow(ctx, `
SELECT id, provider, provider_id, name, category, addr, rating, lat, lng, ext
FROM pois WHERE provider = $1 AND provider_id = $2`,
		provider, providerID).Scan(&poi.ID, &poi.Provider, &poi.ProviderID,
		&poi.Name, &poi.Category, &poi.Addr, &poi.Rating, &poi.Lat, &poi.Lng, &ext)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistenceFailed, "get poi", err)
	}
	if len(ext) > 0 {
		_ = json.Unmarshal(ext, &poi.Ext)
	}
	return &poi, nil
}
