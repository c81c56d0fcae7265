package planner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"travelist/internal/apperr"
	"travelist/internal/config"
	"travelist/internal/geocode"
	"travelist/internal/llm"
	"travelist/internal/metrics"
	"travelist/internal/schema"
	"travelist/internal/trip"
)

func newPlanService(t *testing.T, cfg *config.Config, trips trip.Store) *Service {
	t.Helper()
	fast := newFastPlanner(t, cfg)
	deep := NewDeepPlanner(cfg, fast, llm.NewMockClient("", nil), nil, nil)
	return NewService(cfg, fast, deep, trips, metrics.NewRegistry(nil), nil)
}

func TestServiceFastInlineSaves(t *testing.T) {
	cfg := config.Default()
	store := trip.NewMemoryStore()
	svc := newPlanService(t, cfg, store)

	req := fastRequest(2)
	req.Save = true
	resp, err := svc.Plan(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, schema.ModeFast, resp.Mode)
	assert.False(t, resp.Async)
	assert.NotEmpty(t, resp.TraceID)
	require.NotNil(t, resp.Plan)
	require.Greater(t, resp.Plan.TripID, int64(0))

	saved, err := store.GetTrip(context.Background(), resp.Plan.TripID)
	require.NoError(t, err)
	assert.Equal(t, resp.Plan.Title, saved.Title)
}

func TestServiceFastWithoutSaveLeavesStoreEmpty(t *testing.T) {
	cfg := config.Default()
	store := trip.NewMemoryStore()
	svc := newPlanService(t, cfg, store)

	resp, err := svc.Plan(context.Background(), fastRequest(1))
	require.NoError(t, err)
	assert.Zero(t, resp.Plan.TripID)

	latest, err := store.LatestForUser(context.Background(), 7)
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestServiceRejectsMissingUser(t *testing.T) {
	cfg := config.Default()
	store := trip.NewMemoryStore()
	store.SeedUser(1) // strict mode: only user 1 exists
	svc := newPlanService(t, cfg, store)

	_, err := svc.Plan(context.Background(), fastRequest(1))
	assert.True(t, apperr.IsKind(err, apperr.KindUserMissing))
}

func TestServiceRejectsUnknownMode(t *testing.T) {
	cfg := config.Default()
	svc := newPlanService(t, cfg, trip.NewMemoryStore())

	req := fastRequest(1)
	req.Mode = "balanced"
	_, err := svc.Plan(context.Background(), req)
	assert.True(t, apperr.IsKind(err, apperr.KindBadMode))
}

func TestServiceDeepInline(t *testing.T) {
	cfg := config.Default()
	svc := newPlanService(t, cfg, trip.NewMemoryStore())

	req := fastRequest(2)
	req.Mode = schema.ModeDeep
	resp, err := svc.Plan(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, schema.ModeDeep, resp.Mode)
	assert.Equal(t, DeepPlannerVersion, resp.Metrics["planner"])
}

func TestServiceDeepRecordsGeocodeProvenance(t *testing.T) {
	cfg := config.Default()
	geocoder := geocode.NewService(geocode.ProviderDisabled, "", time.Hour, nil, nil)
	fast := NewFastPlanner(cfg, testPoiService(t), geocoder, nil)
	deep := NewDeepPlanner(cfg, fast, llm.NewMockClient("", nil), nil, nil)
	reg := metrics.NewRegistry(nil)
	svc := NewService(cfg, fast, deep, trip.NewMemoryStore(), reg, nil)

	req := fastRequest(2)
	req.Mode = schema.ModeDeep
	resp, err := svc.Plan(context.Background(), req)
	require.NoError(t, err)

	center, ok := resp.Metrics["destination_center"].(map[string]any)
	require.True(t, ok, "deep metrics must carry the seed plan's center")
	assert.Equal(t, "fallback_pseudo", center["source"])

	snap := reg.Plan.Snapshot(1)
	assert.Equal(t, int64(1), snap["geocode_pseudo_centers"])
	recent := snap["last_10_calls"].([]metrics.PlanCallEntry)
	require.Len(t, recent, 1)
	assert.True(t, recent[0].PseudoGeo)
}

func TestServiceDeepDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.PlanDeepEnabled = false
	svc := newPlanService(t, cfg, trip.NewMemoryStore())

	req := fastRequest(1)
	req.Mode = schema.ModeDeep
	_, err := svc.Plan(context.Background(), req)
	assert.True(t, apperr.IsKind(err, apperr.KindDeepUnsupported))
}

func TestServiceAsyncWithoutSubmitter(t *testing.T) {
	cfg := config.Default()
	svc := newPlanService(t, cfg, trip.NewMemoryStore())

	req := fastRequest(1)
	req.Mode = schema.ModeDeep
	req.Async = true
	_, err := svc.Plan(context.Background(), req)
	assert.True(t, apperr.IsKind(err, apperr.KindDeepUnsupported))
}

func TestServiceAsyncSubmits(t *testing.T) {
	cfg := config.Default()
	svc := newPlanService(t, cfg, trip.NewMemoryStore())
	svc.SetTaskSubmitter(stubSubmitter{taskID: "at_123"})

	req := fastRequest(1)
	req.Mode = schema.ModeDeep
	req.Async = true
	resp, err := svc.Plan(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, resp.Async)
	assert.Equal(t, "at_123", resp.TaskID)
	assert.Nil(t, resp.Plan)
}

type stubSubmitter struct{ taskID string }

func (s stubSubmitter) SubmitPlanDeep(context.Context, *schema.PlanRequest) (string, error) {
	return s.taskID, nil
}
