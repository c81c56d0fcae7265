package poi

import (
	"context"
	"sort"
	"time"

	"travelist/internal/apperr"
	"travelist/internal/logging"
	"travelist/internal/metrics"
	"travelist/internal/schema"
)

// Query is one around-search request after HTTP-layer parsing.
type Query struct {
	Lat     float64
	Lng     float64
	Type    string
	RadiusM int
	Limit   int
}

// ServiceConfig carries the tunables the around flow needs.
type ServiceConfig struct {
	DefaultRadiusM int
	MaxRadiusM     int
	CoordPrecision int
	MinResults     int
}

// Service implements the layered lookup: cache -> local store -> provider.
type Service struct {
	cfg      ServiceConfig
	cache    Cache
	store    Store
	provider Provider
	metrics  *metrics.Registry
	logger   logging.Logger
}

// NewService wires the around-search flow.
func NewService(cfg ServiceConfig, cache Cache, store Store, provider Provider, reg *metrics.Registry, logger logging.Logger) *Service {
	if cache == nil {
		cache = NewNopCache()
	}
	if reg == nil {
		reg = metrics.NewRegistry(nil)
	}
	return &Service{
		cfg:      cfg,
		cache:    cache,
		store:    store,
		provider: provider,
		metrics:  reg,
		logger:   logging.OrNop(logger),
	}
}

// Around performs the cache-aside lookup and reports where the results
// came from.
func (s *Service) Around(ctx context.Context, q Query) ([]Item, Meta, error) {
	q, err := s.normalize(q)
	if err != nil {
		return nil, Meta{}, err
	}

	key := CacheKey(q.Lat, q.Lng, q.Type, q.RadiusM, q.Limit, s.cfg.CoordPrecision)
	if items, ok := s.cache.Get(ctx, key); ok {
		s.metrics.PoiCacheHit()
		return withSource(items, SourceCache), Meta{Source: SourceCache}, nil
	}
	s.metrics.PoiCacheMiss()

	stored, err := s.queryStore(ctx, q)
	if err != nil {
		s.logger.Warn("poi store query failed: %v", err)
		stored = nil
	}
	if len(stored) >= s.cfg.MinResults {
		s.cache.Set(ctx, key, stored)
		return stored, Meta{Source: SourceDB}, nil
	}

	s.metrics.PoiAPICall()
	fetched, err := s.provider.Search(ctx, q.Lat, q.Lng, q.Type, q.RadiusM, q.Limit)
	if err != nil {
		s.metrics.PoiAPIFailure()
		if ctx.Err() != nil {
			return nil, Meta{}, apperr.Wrap(apperr.KindCancelled, "poi lookup cancelled", ctx.Err())
		}
		s.logger.Warn("poi provider %s failed, serving degraded results: %v", s.provider.Name(), err)
		return stored, Meta{Source: SourceDB, Degraded: true}, nil
	}

	if s.store != nil && len(fetched) > 0 {
		if err := s.store.Upsert(ctx, fetched); err != nil {
			s.logger.Warn("poi upsert failed: %v", err)
		}
	}

	merged := mergeByDistance(q, stored, fetched)
	if len(merged) > q.Limit {
		merged = merged[:q.Limit]
	}
	s.cache.Set(ctx, key, merged)
	return merged, Meta{Source: SourceAPI}, nil
}

func (s *Service) normalize(q Query) (Query, error) {
	if err := schema.ValidateCoords(q.Lat, q.Lng); err != nil {
		return q, err
	}
	if q.RadiusM <= 0 {
		q.RadiusM = s.cfg.DefaultRadiusM
	}
	if q.RadiusM > s.cfg.MaxRadiusM {
		return q, apperr.Newf(apperr.KindInvalidParams, "radius %dm exceeds maximum %dm", q.RadiusM, s.cfg.MaxRadiusM)
	}
	if q.Limit <= 0 {
		q.Limit = 10
	}
	if q.Limit > 100 {
		return q, apperr.Newf(apperr.KindInvalidParams, "limit %d exceeds maximum 100", q.Limit)
	}
	return q, nil
}

func (s *Service) queryStore(ctx context.Context, q Query) ([]Item, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.QueryAround(ctx, q.Lat, q.Lng, q.Type, q.RadiusM, q.Limit)
}

// mergeByDistance combines stored and freshly fetched rows, deduplicating
// on (provider, provider_id) with stored rows winning, sorted by distance.
func mergeByDistance(q Query, stored []Item, fetched []schema.Poi) []Item {
	seen := make(map[string]struct{}, len(stored)+len(fetched))
	merged := make([]Item, 0, len(stored)+len(fetched))
	for _, item := range stored {
		seen[item.Key()] = struct{}{}
		merged = append(merged, item)
	}
	for _, poi := range fetched {
		if _, dup := seen[poi.Key()]; dup {
			continue
		}
		seen[poi.Key()] = struct{}{}
		merged = append(merged, Item{
			Poi:       poi,
			DistanceM: HaversineM(q.Lat, q.Lng, poi.Lat, poi.Lng),
			Source:    SourceAPI,
		})
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].DistanceM < merged[j].DistanceM
	})
	return merged
}

func withSource(items []Item, source string) []Item {
	out := make([]Item, len(items))
	for i, item := range items {
		item.Source = source
		out[i] = item
	}
	return out
}

// CacheTTL converts the configured seconds to a duration with a sane floor.
func CacheTTL(seconds int) time.Duration {
	if seconds < 1 {
		seconds = 1
	}
	return time.Duration(seconds) * time.Second
}
