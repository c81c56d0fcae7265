package poi

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"travelist/internal/apperr"
	"travelist/internal/metrics"
	"travelist/internal/schema"
)

func testConfig() ServiceConfig {
	return ServiceConfig{
		DefaultRadiusM: 1000,
		MaxRadiusM:     5000,
		CoordPrecision: 4,
		MinResults:     3,
	}
}

func newTestService(t *testing.T, provider Provider) (*Service, *MemoryStore, *metrics.Registry) {
	t.Helper()
	store := NewMemoryStore()
	reg := metrics.NewRegistry(nil)
	svc := NewService(testConfig(), NewMemoryCache(64, time.Minute), store, provider, reg, nil)
	return svc, store, reg
}

func TestAroundFirstCallHitsProviderThenCache(t *testing.T) {
	svc, store, reg := newTestService(t, MockProvider{})
	ctx := context.Background()
	q := Query{Lat: 23.1291, Lng: 113.2644, Type: "food", RadiusM: 1000, Limit: 5}

	items, meta, err := svc.Around(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, SourceAPI, meta.Source)
	assert.False(t, meta.Degraded)
	require.Len(t, items, 5)
	assert.Equal(t, "food-0", items[0].ProviderID)
	assert.Equal(t, "Mock Food 1", items[0].Name)
	assert.Equal(t, 5, store.Len())

	counters := reg.Poi.Snapshot()
	assert.Equal(t, int64(0), counters["cache_hits"])
	assert.Equal(t, int64(1), counters["cache_misses"])
	assert.Equal(t, int64(1), counters["api_calls"])
	assert.Equal(t, int64(0), counters["api_failures"])

	cached, meta2, err := svc.Around(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, meta2.Source)
	assert.Len(t, cached, 5)

	counters = reg.Poi.Snapshot()
	assert.Equal(t, int64(1), counters["cache_hits"])
	assert.Equal(t, int64(1), counters["api_calls"])
}

func TestAroundResultsOrderedByDistance(t *testing.T) {
	svc, _, _ := newTestService(t, MockProvider{})
	items, _, err := svc.Around(context.Background(), Query{Lat: 30, Lng: 120, Type: "sight", Limit: 8})
	require.NoError(t, err)
	require.NotEmpty(t, items)
	for i := 1; i < len(items); i++ {
		assert.LessOrEqual(t, items[i-1].DistanceM, items[i].DistanceM)
	}
}

func TestAroundServesFromStoreWhenEnoughRows(t *testing.T) {
	provider := &countingProvider{inner: MockProvider{}}
	svc, store, _ := newTestService(t, provider)
	ctx := context.Background()

	seed := make([]schema.Poi, 0, 4)
	for i := 0; i < 4; i++ {
		seed = append(seed, schema.Poi{
			Provider:   "seed",
			ProviderID: schemaID(i),
			Name:       "Seeded",
			Category:   "food",
			Lat:        30.0 + float64(i)*0.0005,
			Lng:        120.0,
		})
	}
	require.NoError(t, store.Upsert(ctx, seed))

	items, meta, err := svc.Around(ctx, Query{Lat: 30, Lng: 120, Type: "food", RadiusM: 1000, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, SourceDB, meta.Source)
	assert.Len(t, items, 4)
	assert.Equal(t, 0, provider.calls, "provider should not be called when the store has enough rows")
}

func TestAroundDegradesOnProviderFailure(t *testing.T) {
	svc, store, reg := newTestService(t, failingProvider{})
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, []schema.Poi{{
		Provider: "seed", ProviderID: "only", Name: "Lone", Category: "food",
		Lat: 30.0001, Lng: 120,
	}}))

	items, meta, err := svc.Around(ctx, Query{Lat: 30, Lng: 120, Type: "food", RadiusM: 1000, Limit: 10})
	require.NoError(t, err)
	assert.True(t, meta.Degraded)
	assert.Equal(t, SourceDB, meta.Source)
	assert.Len(t, items, 1)

	counters := reg.Poi.Snapshot()
	assert.Equal(t, int64(1), counters["api_calls"])
	assert.Equal(t, int64(1), counters["api_failures"])
}

func TestAroundRejectsBadParams(t *testing.T) {
	svc, _, _ := newTestService(t, MockProvider{})
	ctx := context.Background()

	_, _, err := svc.Around(ctx, Query{Lat: 30, Lng: 120, RadiusM: 5001})
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidParams))

	_, _, err = svc.Around(ctx, Query{Lat: 30, Lng: 120, Limit: 101})
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidParams))

	_, _, err = svc.Around(ctx, Query{Lat: 91, Lng: 120})
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidParams))

	// Boundary values are accepted.
	_, _, err = svc.Around(ctx, Query{Lat: 30, Lng: 120, RadiusM: 5000, Limit: 100})
	assert.NoError(t, err)
}

func TestAroundDefaultsRadiusAndLimit(t *testing.T) {
	svc, _, _ := newTestService(t, MockProvider{})
	items, meta, err := svc.Around(context.Background(), Query{Lat: 30, Lng: 120, Type: "park"})
	require.NoError(t, err)
	assert.Equal(t, SourceAPI, meta.Source)
	assert.Len(t, items, 10)
}

func TestCacheKeyQuantizesCoordinates(t *testing.T) {
	a := CacheKey(23.12914, 113.26442, "food", 1000, 5, 4)
	b := CacheKey(23.12913, 113.26441, "food", 1000, 5, 4)
	assert.Equal(t, a, b)
	assert.Equal(t, "poi:around:23.1291:113.2644:food:1000:5", a)

	all := CacheKey(23.1291, 113.2644, "", 1000, 5, 4)
	assert.Equal(t, "poi:around:23.1291:113.2644:all:1000:5", all)
}

func TestMergeByDistanceDeduplicates(t *testing.T) {
	q := Query{Lat: 30, Lng: 120}
	stored := []Item{{
		Poi:       schema.Poi{Provider: "mock", ProviderID: "food-0", Name: "Stored"},
		DistanceM: 10,
		Source:    SourceDB,
	}}
	fetched := []schema.Poi{
		{Provider: "mock", ProviderID: "food-0", Name: "Fetched", Lat: 30.001, Lng: 120.001},
		{Provider: "mock", ProviderID: "food-1", Name: "New", Lat: 30.0005, Lng: 120.0005},
	}
	merged := mergeByDistance(q, stored, fetched)
	require.Len(t, merged, 2)
	assert.Equal(t, "Stored", merged[0].Name, "stored row wins on key collision")
}

func TestHaversineKnownDistance(t *testing.T) {
	// Guangzhou -> Shenzhen is roughly 105km.
	d := HaversineM(23.1291, 113.2644, 22.5431, 114.0579)
	assert.InDelta(t, 105000, d, 5000)
	assert.Zero(t, HaversineM(30, 120, 30, 120))
}

type countingProvider struct {
	inner Provider
	calls int
}

func (p *countingProvider) Name() string { return "counting" }

func (p *countingProvider) Search(ctx context.Context, lat, lng float64, poiType string, radiusM, limit int) ([]schema.Poi, error) {
	p.calls++
	return p.inner.Search(ctx, lat, lng, poiType, radiusM, limit)
}

type failingProvider struct{}

func (failingProvider) Name() string { return "failing" }

func (failingProvider) Search(context.Context, float64, float64, string, int, int) ([]schema.Poi, error) {
	return nil, errors.New("upstream unavailable")
}

func schemaID(i int) string {
	return string(rune('a' + i))
}
