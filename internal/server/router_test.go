package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"travelist/internal/assistant"
	"travelist/internal/config"
	"travelist/internal/geocode"
	"travelist/internal/llm"
	"travelist/internal/memory"
	"travelist/internal/metrics"
	"travelist/internal/planner"
	"travelist/internal/poi"
	"travelist/internal/prompt"
	"travelist/internal/task"
	"travelist/internal/tools"
	"travelist/internal/trip"
)

type testEnv struct {
	router http.Handler
	engine *task.Engine
	trips  *trip.MemoryStore
	cfg    *config.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.AdminAPIToken = "secret"
	cfg.PlanTaskWorkerConcurrency = 1

	metricsReg := metrics.NewRegistry(nil)
	poiSvc := poi.NewService(poi.ServiceConfig{
		DefaultRadiusM: 1000, MaxRadiusM: 5000, CoordPrecision: 4, MinResults: 3,
	}, poi.NewMemoryCache(64, time.Minute), poi.NewMemoryStore(), poi.MockProvider{}, metricsReg, nil)
	geocoder := geocode.NewService(geocode.ProviderMock, "", time.Hour, nil, nil)
	client := llm.NewMockClient("", metricsReg)

	fast := planner.NewFastPlanner(cfg, poiSvc, geocoder, nil)
	deep := planner.NewDeepPlanner(cfg, fast, client, nil, nil)
	tripStore := trip.NewMemoryStore()
	planSvc := planner.NewService(cfg, fast, deep, tripStore, metricsReg, nil)

	engine := task.NewEngine(cfg, task.NewMemoryStore(), planSvc, nil)
	require.NoError(t, engine.Start(context.Background()))
	t.Cleanup(engine.Stop)
	planSvc.SetTaskSubmitter(engine)

	toolReg := tools.NewRegistry(5*time.Second, nil)
	toolReg.Register(tools.NewPoiAroundTool(poiSvc))
	toolReg.Register(tools.NewTripQueryTool(tripStore))
	toolReg.Register(tools.NewWeatherAreaTool("", nil))
	toolReg.Register(tools.NewPathNavigateTool())

	prompts := prompt.NewRegistry(prompt.NewMemoryStore(), time.Minute, nil)
	memSvc := memory.NewService(memory.NewLocalEngine(100), true, metricsReg, nil)
	chatSvc := assistant.NewService(cfg, assistant.NewMemoryStore(), toolReg, prompts, client, memSvc, nil)

	router := NewRouter(Deps{
		Config:  cfg,
		Metrics: metricsReg,
		Plan:    planSvc,
		Tasks:   engine,
		Chat:    chatSvc,
		Poi:     poiSvc,
		Prompts: prompts,
	})
	return &testEnv{router: router, engine: engine, trips: tripStore, cfg: cfg}
}

func (env *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) (*httptest.ResponseRecorder, Envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	var envl Envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envl))
	}
	return rec, envl
}

func planBody(mode string) map[string]any {
	return map[string]any{
		"user_id":     1,
		"destination": "广州",
		"start_date":  "2026-09-01",
		"end_date":    "2026-09-02",
		"mode":        mode,
		"preferences": map[string]any{"interests": []string{"sight", "food"}},
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec, envl := env.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, envl.Code)
}

func TestPlanFastEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rec, envl := env.do(t, http.MethodPost, "/api/ai/plan", planBody("fast"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 0, envl.Code)

	data := envl.Data.(map[string]any)
	assert.Equal(t, "fast", data["mode"])
	plan := data["plan"].(map[string]any)
	assert.Equal(t, "广州 行程规划", plan["title"])
	assert.Equal(t, float64(2), plan["day_count"])
}

func TestPlanValidationErrors(t *testing.T) {
	env := newTestEnv(t)

	body := planBody("fast")
	body["destination"] = ""
	rec, envl := env.do(t, http.MethodPost, "/api/ai/plan", body, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 14071, envl.Code)

	body = planBody("balanced")
	rec, envl = env.do(t, http.MethodPost, "/api/ai/plan", body, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 14081, envl.Code)

	body = planBody("fast")
	body["end_date"] = "2026-12-31"
	rec, envl = env.do(t, http.MethodPost, "/api/ai/plan", body, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 14070, envl.Code)
}

func TestPlanAsyncAndTaskStatus(t *testing.T) {
	env := newTestEnv(t)

	body := planBody("deep")
	body["async"] = true
	body["request_id"] = "req-http-1"
	rec, envl := env.do(t, http.MethodPost, "/api/ai/plan", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 0, envl.Code)

	data := envl.Data.(map[string]any)
	taskID, _ := data["task_id"].(string)
	require.NotEmpty(t, taskID)
	assert.Nil(t, data["plan"])

	require.Eventually(t, func() bool {
		_, envl := env.do(t, http.MethodGet, "/api/ai/plan/tasks/"+taskID+"?user_id=1", nil, nil)
		if envl.Code != 0 {
			return false
		}
		status, _ := envl.Data.(map[string]any)["status"].(string)
		return status == task.StatusSucceeded
	}, 3*time.Second, 20*time.Millisecond)

	// Ownership: another user cannot read the task.
	rec, envl = env.do(t, http.MethodGet, "/api/ai/plan/tasks/"+taskID+"?user_id=2", nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, 14085, envl.Code)

	// Admin token bypasses ownership.
	rec, envl = env.do(t, http.MethodGet, "/api/ai/plan/tasks/"+taskID, nil,
		map[string]string{"X-Admin-Token": "secret"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, envl.Code)

	// Unknown task id.
	rec, envl = env.do(t, http.MethodGet, "/api/ai/plan/tasks/at_missing?user_id=1", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 14084, envl.Code)
}

func TestPoiAroundEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec, envl := env.do(t, http.MethodGet, "/api/poi/around?lat=23.1291&lng=113.2644&type=food&limit=3", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 0, envl.Code)
	data := envl.Data.(map[string]any)
	assert.Equal(t, float64(3), data["total"])

	rec, envl = env.do(t, http.MethodGet, "/api/poi/around?lat=123&lng=113", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 14071, envl.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/poi/around?lat=abc&lng=113", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatUnaryEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rec, envl := env.do(t, http.MethodPost, "/api/ai/chat", map[string]any{
		"user_id": 1,
		"query":   "帮我看看我的行程安排",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 0, envl.Code)

	data := envl.Data.(map[string]any)
	assert.NotEmpty(t, data["answer"])
	assert.Greater(t, data["session_id"].(float64), float64(0))
	assert.Equal(t, "trip_query", data["intent"])
}

func TestChatStreamEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rec, _ := env.do(t, http.MethodPost, "/api/ai/chat", map[string]any{
		"user_id": 1,
		"query":   "明天广州天气怎么样",
		"stream":  true,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "event:chunk")
	assert.Contains(t, body, "event:result")
	assert.Contains(t, body, "data: [DONE]")
}

func TestChatRejectsBadBody(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/api/ai/chat", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminAuth(t *testing.T) {
	env := newTestEnv(t)

	rec, envl := env.do(t, http.MethodGet, "/admin/plan/summary", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 2002, envl.Code)

	rec, envl = env.do(t, http.MethodGet, "/admin/plan/summary", nil,
		map[string]string{"X-Admin-Token": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, envl = env.do(t, http.MethodGet, "/admin/plan/summary", nil,
		map[string]string{"X-Admin-Token": "secret"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, envl.Code)

	rec, envl = env.do(t, http.MethodGet, "/admin/plan/summary?token=secret", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminPlanSummaryWindow(t *testing.T) {
	env := newTestEnv(t)
	auth := map[string]string{"X-Admin-Token": "secret"}

	rec, envl := env.do(t, http.MethodGet, "/admin/plan/summary?window_seconds=300", nil, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 0, envl.Code)
	data := envl.Data.(map[string]any)
	assert.Equal(t, float64(300), data["window_seconds"])
	assert.Contains(t, data, "plan")
	assert.Contains(t, data, "ai")

	rec, envl = env.do(t, http.MethodGet, "/admin/plan/summary?window_seconds=abc", nil, auth)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 14071, envl.Code)
}

func TestAdminTaskSummaryEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rec, envl := env.do(t, http.MethodGet, "/admin/ai/tasks/summary", nil,
		map[string]string{"X-Admin-Token": "secret"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 0, envl.Code)
	data := envl.Data.(map[string]any)
	assert.Contains(t, data, "status_counts")
	assert.Contains(t, data, "p95_duration_ms")
}

func TestPromptAdminEndpoints(t *testing.T) {
	env := newTestEnv(t)
	auth := map[string]string{"X-Admin-Token": "secret"}

	rec, envl := env.do(t, http.MethodGet, "/admin/ai/prompts", nil, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	data := envl.Data.(map[string]any)
	assert.Equal(t, float64(6), data["total"])

	content := "改写后的提示词"
	rec, envl = env.do(t, http.MethodPut, "/admin/ai/prompts/assistant.fallback",
		map[string]any{"content": content}, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	updated := envl.Data.(map[string]any)
	assert.Equal(t, content, updated["content"])

	rec, envl = env.do(t, http.MethodPost, "/admin/ai/prompts/assistant.fallback/reset", nil, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	restored := envl.Data.(map[string]any)
	assert.NotEqual(t, content, restored["content"])
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPlanUserMissingWhenStrict(t *testing.T) {
	env := newTestEnv(t)
	env.trips.SeedUser(42)

	rec, envl := env.do(t, http.MethodPost, "/api/ai/plan", planBody("fast"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 14072, envl.Code)

	body := planBody("fast")
	body["user_id"] = 42
	rec, envl = env.do(t, http.MethodPost, "/api/ai/plan", body, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, envl.Code)
}
