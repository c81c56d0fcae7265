package tools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"travelist/internal/metrics"
	"travelist/internal/poi"
	"travelist/internal/schema"
	"travelist/internal/trip"
)

func newRegistryWithTools(t *testing.T) (*Registry, trip.Store) {
	t.Helper()
	poiSvc := poi.NewService(poi.ServiceConfig{
		DefaultRadiusM: 1000, MaxRadiusM: 5000, CoordPrecision: 4, MinResults: 3,
	}, poi.NewMemoryCache(16, time.Minute), poi.NewMemoryStore(), poi.MockProvider{},
		metrics.NewRegistry(nil), nil)
	tripStore := trip.NewMemoryStore()

	reg := NewRegistry(5*time.Second, nil)
	reg.Register(NewPoiAroundTool(poiSvc))
	reg.Register(NewTripQueryTool(tripStore))
	reg.Register(NewWeatherAreaTool("", nil))
	reg.Register(NewPathNavigateTool())
	return reg, tripStore
}

func TestRegistryListSorted(t *testing.T) {
	reg, _ := newRegistryWithTools(t)
	infos := reg.List()
	require.Len(t, infos, 4)
	names := []string{infos[0].Name, infos[1].Name, infos[2].Name, infos[3].Name}
	assert.Equal(t, []string{"path_navigate", "poi_around", "trip_query", "weather_area"}, names)
}

func TestInvokeUnknownTool(t *testing.T) {
	reg, _ := newRegistryWithTools(t)
	result, trace := reg.Invoke(context.Background(), "nope", CallContext{}, Args{})
	assert.Equal(t, "failed", result["status"])
	assert.Equal(t, "failed", trace.Status)
	assert.Equal(t, "nope", trace.Node)
}

func TestPoiAroundToolReturnsResults(t *testing.T) {
	reg, _ := newRegistryWithTools(t)
	result, trace := reg.Invoke(context.Background(), "poi_around", CallContext{UserID: 1}, Args{
		"lat": 23.1291, "lng": 113.2644, "type": "food", "limit": float64(3),
	})
	assert.Equal(t, "ok", trace.Status)
	assert.Equal(t, "ok", result["status"])
	assert.Equal(t, 3, result["total"])
	pois := result["pois"].([]map[string]any)
	assert.Equal(t, "mock:food-0", pois[0]["poi_id"])
}

func TestPoiAroundToolValidation(t *testing.T) {
	reg, _ := newRegistryWithTools(t)
	result, trace := reg.Invoke(context.Background(), "poi_around", CallContext{}, Args{"lat": 23.0})
	assert.Equal(t, "failed", trace.Status)
	assert.Contains(t, result["error"], "lng")
}

func TestTripQueryToolReadsLatestTrip(t *testing.T) {
	reg, tripStore := newRegistryWithTools(t)
	ctx := context.Background()

	plan := &schema.TripPlan{
		Title:       "广州 行程规划",
		Destination: "广州",
		StartDate:   schema.MustDate("2026-09-01"),
		EndDate:     schema.MustDate("2026-09-01"),
		DayCount:    1,
		DayCards: []schema.DayCardPlan{{
			DayIndex: 0,
			Date:     schema.MustDate("2026-09-01"),
			SubTrips: []schema.SubTripPlan{{OrderIndex: 0, Activity: "景点游览", PoiKey: "mock:sight-0"}},
		}},
	}
	_, err := tripStore.SavePlan(ctx, 7, plan)
	require.NoError(t, err)

	result, trace := reg.Invoke(ctx, "trip_query", CallContext{UserID: 7}, Args{})
	assert.Equal(t, "ok", trace.Status)
	assert.Equal(t, true, result["found"])
	assert.Equal(t, "广州", result["destination"])

	// Unknown day index is reported, not an error.
	result, trace = reg.Invoke(ctx, "trip_query", CallContext{UserID: 7}, Args{"day": float64(5)})
	assert.Equal(t, "ok", trace.Status)
	assert.Equal(t, "该行程没有对应天数", result["message"])
}

func TestTripQueryToolRequiresUser(t *testing.T) {
	reg, _ := newRegistryWithTools(t)
	result, trace := reg.Invoke(context.Background(), "trip_query", CallContext{}, Args{})
	assert.Equal(t, "failed", trace.Status)
	assert.Equal(t, "failed", result["status"])
}

func TestWeatherAreaMockDeterministic(t *testing.T) {
	reg, _ := newRegistryWithTools(t)
	ctx := context.Background()
	args := Args{"locations": []any{"广州", "上海"}}

	first, trace := reg.Invoke(ctx, "weather_area", CallContext{}, args)
	require.Equal(t, "ok", trace.Status)
	second, _ := reg.Invoke(ctx, "weather_area", CallContext{}, args)
	assert.Equal(t, first["results"], second["results"])

	results := first["results"].([]map[string]any)
	require.Len(t, results, 2)
	assert.Equal(t, "mock", results[0]["source"])
	assert.Equal(t, "estimated", results[0]["status"])
}

func TestWeatherAreaForecastDays(t *testing.T) {
	reg, _ := newRegistryWithTools(t)
	result, trace := reg.Invoke(context.Background(), "weather_area", CallContext{}, Args{
		"locations": []any{"广州"}, "weather_type": "forecast", "days": float64(3),
	})
	require.Equal(t, "ok", trace.Status)
	results := result["results"].([]map[string]any)
	forecast := results[0]["forecast"].([]map[string]any)
	assert.Len(t, forecast, 3)
}

func TestWeatherAreaValidation(t *testing.T) {
	reg, _ := newRegistryWithTools(t)
	ctx := context.Background()

	_, trace := reg.Invoke(ctx, "weather_area", CallContext{}, Args{"locations": []any{}})
	assert.Equal(t, "failed", trace.Status)

	_, trace = reg.Invoke(ctx, "weather_area", CallContext{}, Args{
		"locations": []any{"广州"}, "days": float64(5),
	})
	assert.Equal(t, "failed", trace.Status)
}

func TestPathNavigateEstimates(t *testing.T) {
	reg, _ := newRegistryWithTools(t)
	result, trace := reg.Invoke(context.Background(), "path_navigate", CallContext{}, Args{
		"routes":      []any{map[string]any{"origin": "广州塔", "destination": "白云山"}},
		"travel_mode": "walking",
	})
	require.Equal(t, "ok", trace.Status)
	routes := result["routes"].([]map[string]any)
	require.Len(t, routes, 1)
	assert.Equal(t, "walking", routes[0]["travel_mode"])
	assert.Greater(t, routes[0]["distance_km"].(float64), 0.0)
	assert.NotContains(t, routes[0], "strategy")
}

func TestPathNavigateValidation(t *testing.T) {
	reg, _ := newRegistryWithTools(t)
	ctx := context.Background()

	_, trace := reg.Invoke(ctx, "path_navigate", CallContext{}, Args{"routes": []any{}})
	assert.Equal(t, "failed", trace.Status)

	_, trace = reg.Invoke(ctx, "path_navigate", CallContext{}, Args{
		"routes":      []any{map[string]any{"origin": "a", "destination": "b"}},
		"travel_mode": "flying",
	})
	assert.Equal(t, "failed", trace.Status)
}
