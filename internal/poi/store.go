package poi

import (
	"context"
	"sort"
	"strings"
	"sync"

	"travelist/internal/schema"
)

// Store is the local spatial index port. QueryAround returns rows within
// radiusM of the point ordered by distance ascending; Upsert inserts new
// rows and never overwrites existing ones.
type Store interface {
	QueryAround(ctx context.Context, lat, lng float64, poiType string, radiusM, limit int) ([]Item, error)
	Upsert(ctx context.Context, pois []schema.Poi) error
	GetByKey(ctx context.Context, provider, providerID string) (*schema.Poi, error)
}

// MemoryStore is the in-process spatial index used by tests and
// DB-less deployments.
type MemoryStore struct {
	mu     sync.RWMutex
	byKey  map[string]schema.Poi
	nextID int64
}

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byKey: make(map[string]schema.Poi), nextID: 1}
}

func (s *MemoryStore) QueryAround(_ context.Context, lat, lng float64, poiType string, radiusM, limit int) ([]Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]Item, 0)
	for _, poi := range s.byKey {
		if poiType != "" && !strings.EqualFold(poi.Category, poiType) {
			continue
		}
		distance := HaversineM(lat, lng, poi.Lat, poi.Lng)
		if distance > float64(radiusM) {
			continue
		}
		items = append(items, Item{Poi: poi, DistanceM: distance, Source: SourceDB})
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].DistanceM != items[j].DistanceM {
			return items[i].DistanceM < items[j].DistanceM
		}
		return items[i].Key() < items[j].Key()
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *MemoryStore) Upsert(_ context.Context, pois []schema.Poi) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, poi := range pois {
		key := poi.Key()
		if _, exists := s.byKey[key]; exists {
			continue
		}
		poi.ID = s.nextID
		s.nextID++
		s.byKey[key] = poi
	}
	return nil
}

func (s *MemoryStore) GetByKey(_ context.Context, provider, providerID string) (*schema.Poi, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if poi, ok := s.byKey[provider+":"+providerID]; ok {
		copied := poi
		return &copied, nil
	}
	return nil, nil
}

// Len reports the number of stored rows. Test helper.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byKey)
}
