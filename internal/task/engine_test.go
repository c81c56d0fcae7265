package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"travelist/internal/apperr"
	"travelist/internal/config"
	"travelist/internal/schema"
)

type stubRunner struct {
	mu      sync.Mutex
	calls   int
	err     error
	block   chan struct{}
	claimed chan string
}

func (r *stubRunner) RunDeepAndSave(_ context.Context, req *schema.PlanRequest) (*schema.PlanResponseData, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	if r.claimed != nil {
		r.claimed <- req.RequestID
	}
	if r.block != nil {
		<-r.block
	}
	if r.err != nil {
		return nil, r.err
	}
	return &schema.PlanResponseData{
		Mode:    schema.ModeDeep,
		TraceID: "plan-test",
		Plan:    &schema.TripPlan{Title: req.Destination + " 行程规划"},
	}, nil
}

func (r *stubRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func taskConfig() *config.Config {
	cfg := config.Default()
	cfg.PlanTaskWorkerConcurrency = 1
	cfg.PlanTaskQueueMaxsize = 8
	cfg.PlanTaskMaxRunningPerUser = 2
	return cfg
}

func deepRequest(userID int64, requestID, destination string) *schema.PlanRequest {
	return &schema.PlanRequest{
		UserID:      userID,
		Destination: destination,
		StartDate:   schema.MustDate("2026-09-01"),
		EndDate:     schema.MustDate("2026-09-02"),
		Mode:        schema.ModeDeep,
		Async:       true,
		RequestID:   requestID,
	}
}

func startEngine(t *testing.T, cfg *config.Config, store Store, runner Runner) *Engine {
	t.Helper()
	engine := NewEngine(cfg, store, runner, nil)
	require.NoError(t, engine.Start(context.Background()))
	t.Cleanup(engine.Stop)
	return engine
}

func waitStatus(t *testing.T, store Store, taskID, status string) *Task {
	t.Helper()
	var got *Task
	require.Eventually(t, func() bool {
		loaded, err := store.Get(context.Background(), taskID)
		if err != nil || loaded == nil {
			return false
		}
		got = loaded
		return loaded.Status == status
	}, 2*time.Second, 10*time.Millisecond)
	return got
}

func TestSubmitRunsToCompletion(t *testing.T) {
	store := NewMemoryStore()
	runner := &stubRunner{}
	engine := startEngine(t, taskConfig(), store, runner)

	taskID, err := engine.SubmitPlanDeep(context.Background(), deepRequest(7, "req-1", "广州"))
	require.NoError(t, err)
	assert.True(t, len(taskID) == 35 && taskID[:3] == "at_")

	done := waitStatus(t, store, taskID, StatusSucceeded)
	assert.Equal(t, taskID, done.Result["task_id"])
	assert.Equal(t, schema.ModeDeep, done.Result["mode"])
	assert.Nil(t, done.Error)
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.FinishedAt)
}

func TestSubmitIdempotentResubmission(t *testing.T) {
	store := NewMemoryStore()
	runner := &stubRunner{}
	engine := startEngine(t, taskConfig(), store, runner)
	ctx := context.Background()

	req := deepRequest(7, "req-2", "上海")
	first, err := engine.SubmitPlanDeep(ctx, req)
	require.NoError(t, err)
	waitStatus(t, store, first, StatusSucceeded)

	second, err := engine.SubmitPlanDeep(ctx, deepRequest(7, "req-2", "上海"))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	recent, err := store.ListRecent(ctx, KindPlanDeep, 10)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
	assert.Equal(t, 1, runner.callCount())
}

func TestSubmitIdempotencyConflict(t *testing.T) {
	store := NewMemoryStore()
	engine := startEngine(t, taskConfig(), store, &stubRunner{})
	ctx := context.Background()

	first, err := engine.SubmitPlanDeep(ctx, deepRequest(7, "req-3", "上海"))
	require.NoError(t, err)
	waitStatus(t, store, first, StatusSucceeded)

	_, err = engine.SubmitPlanDeep(ctx, deepRequest(7, "req-3", "北京"))
	assert.True(t, apperr.IsKind(err, apperr.KindIdempotencyConflict))

	recent, listErr := store.ListRecent(ctx, KindPlanDeep, 10)
	require.NoError(t, listErr)
	assert.Len(t, recent, 1)
}

func TestSubmitRateLimited(t *testing.T) {
	cfg := taskConfig()
	cfg.PlanTaskMaxRunningPerUser = 1
	store := NewMemoryStore()
	release := make(chan struct{})
	runner := &stubRunner{block: release, claimed: make(chan string, 4)}
	engine := startEngine(t, cfg, store, runner)
	defer close(release)
	ctx := context.Background()

	_, err := engine.SubmitPlanDeep(ctx, deepRequest(7, "req-4", "上海"))
	require.NoError(t, err)

	_, err = engine.SubmitPlanDeep(ctx, deepRequest(7, "req-5", "北京"))
	assert.True(t, apperr.IsKind(err, apperr.KindRateLimited))

	// Other users are unaffected by the cap.
	_, err = engine.SubmitPlanDeep(ctx, deepRequest(8, "req-6", "北京"))
	require.NoError(t, err)
}

func TestSubmitQueueFull(t *testing.T) {
	cfg := taskConfig()
	cfg.PlanTaskQueueMaxsize = 1
	cfg.PlanTaskMaxRunningPerUser = 10
	store := NewMemoryStore()
	release := make(chan struct{})
	runner := &stubRunner{block: release, claimed: make(chan string, 4)}
	engine := startEngine(t, cfg, store, runner)
	defer close(release)
	ctx := context.Background()

	_, err := engine.SubmitPlanDeep(ctx, deepRequest(7, "req-a", "上海"))
	require.NoError(t, err)
	<-runner.claimed // first task claimed, queue drained

	_, err = engine.SubmitPlanDeep(ctx, deepRequest(7, "req-b", "北京"))
	require.NoError(t, err)

	overflowID, err := engine.SubmitPlanDeep(ctx, deepRequest(7, "req-c", "广州"))
	assert.True(t, apperr.IsKind(err, apperr.KindQueueFull))
	assert.Empty(t, overflowID)

	failedID := NewTaskID(7, "req-c")
	failed, getErr := store.Get(ctx, failedID)
	require.NoError(t, getErr)
	require.NotNil(t, failed)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, "queue_error", failed.Error.Type)
}

func TestSubmitFailureRecorded(t *testing.T) {
	store := NewMemoryStore()
	runner := &stubRunner{err: apperr.New(apperr.KindDeepPlanFailed, "day 0 failed after retries")}
	engine := startEngine(t, taskConfig(), store, runner)

	taskID, err := engine.SubmitPlanDeep(context.Background(), deepRequest(7, "req-7", "上海"))
	require.NoError(t, err)

	failed := waitStatus(t, store, taskID, StatusFailed)
	require.NotNil(t, failed.Error)
	assert.Equal(t, string(apperr.KindDeepPlanFailed), failed.Error.Type)
	assert.Equal(t, apperr.CodeDeepPlanFailed, failed.Error.Code)
}

func TestSubmitRejectedWhenStopped(t *testing.T) {
	engine := NewEngine(taskConfig(), NewMemoryStore(), &stubRunner{}, nil)
	_, err := engine.SubmitPlanDeep(context.Background(), deepRequest(7, "", "上海"))
	assert.True(t, apperr.IsKind(err, apperr.KindDeepUnsupported))
}

func TestGetOwnership(t *testing.T) {
	store := NewMemoryStore()
	engine := startEngine(t, taskConfig(), store, &stubRunner{})
	ctx := context.Background()

	taskID, err := engine.SubmitPlanDeep(ctx, deepRequest(7, "req-8", "上海"))
	require.NoError(t, err)

	got, err := engine.Get(ctx, taskID, 7, false)
	require.NoError(t, err)
	assert.Equal(t, taskID, got.ID)

	_, err = engine.Get(ctx, taskID, 8, false)
	assert.True(t, apperr.IsKind(err, apperr.KindTaskNotAuthorized))

	got, err = engine.Get(ctx, taskID, 8, true)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.UserID)

	_, err = engine.Get(ctx, "at_ffffffffffffffffffffffffffffffff", 7, false)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	_, err = engine.Get(ctx, "", 7, false)
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidParams))
}

func TestRestartRecovery(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	interrupted := &Task{
		ID: NewTaskID(7, "req-run"), UserID: 7, Kind: KindPlanDeep,
		Status: StatusRunning, Payload: deepRequest(7, "req-run", "上海"),
		CreatedAt: time.Now().UTC().Add(-time.Minute),
	}
	require.NoError(t, store.Create(ctx, interrupted))
	pending := &Task{
		ID: NewTaskID(7, "req-pend"), UserID: 7, Kind: KindPlanDeep,
		Status: "pending", Payload: deepRequest(7, "req-pend", "北京"),
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Create(ctx, pending))

	startEngine(t, taskConfig(), store, &stubRunner{})

	failed := waitStatus(t, store, interrupted.ID, StatusFailed)
	require.NotNil(t, failed.Error)
	assert.Equal(t, "worker_restart", failed.Error.Type)

	waitStatus(t, store, pending.ID, StatusSucceeded)
}

func TestRetentionCleanup(t *testing.T) {
	cfg := taskConfig()
	cfg.PlanTaskRetentionDays = 14
	store := NewMemoryStore()
	engine := NewEngine(cfg, store, &stubRunner{}, nil)
	ctx := context.Background()

	old := time.Now().UTC().AddDate(0, 0, -30)
	stale := &Task{
		ID: NewTaskID(7, "req-old"), UserID: 7, Kind: KindPlanDeep,
		Status: StatusQueued, CreatedAt: old,
	}
	require.NoError(t, store.Create(ctx, stale))
	require.NoError(t, store.MarkFailed(ctx, stale.ID, ErrorInfo{Type: "plan_failed"}, old))

	fresh := &Task{
		ID: NewTaskID(7, "req-new"), UserID: 7, Kind: KindPlanDeep,
		Status: StatusQueued, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Create(ctx, fresh))

	engine.CleanupOnce(ctx)

	gone, err := store.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
	kept, err := store.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.NotNil(t, kept)
}

func TestSummary(t *testing.T) {
	store := NewMemoryStore()
	runner := &stubRunner{err: errors.New("boom")}
	engine := startEngine(t, taskConfig(), store, runner)
	ctx := context.Background()

	taskID, err := engine.SubmitPlanDeep(ctx, deepRequest(7, "req-9", "上海"))
	require.NoError(t, err)
	waitStatus(t, store, taskID, StatusFailed)

	summary, err := engine.Summary(ctx, 10)
	require.NoError(t, err)
	counts := summary["status_counts"].(map[string]int)
	assert.Equal(t, 1, counts[StatusFailed])
	reasons := summary["failure_reasons"].(map[string]int)
	assert.Equal(t, 1, reasons[string(apperr.KindInternal)])
	recent := summary["recent"].([]map[string]any)
	require.Len(t, recent, 1)
	assert.Equal(t, taskID, recent[0]["task_id"])
}

func TestNewTaskIDDeterminism(t *testing.T) {
	a := NewTaskID(1, "req-x")
	b := NewTaskID(1, "req-x")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, NewTaskID(2, "req-x"))
	assert.NotEqual(t, a, NewTaskID(1, "req-y"))
	assert.Len(t, a, 35)

	r1 := NewTaskID(1, "")
	r2 := NewTaskID(1, "")
	assert.NotEqual(t, r1, r2)
}

func TestNormalizeStatus(t *testing.T) {
	assert.Equal(t, StatusQueued, NormalizeStatus("pending"))
	assert.Equal(t, StatusSucceeded, NormalizeStatus("done"))
	assert.Equal(t, StatusRunning, NormalizeStatus("running"))
	assert.Equal(t, StatusFailed, NormalizeStatus("exploded"))
}

func TestTruncateKeepsRuneBoundaries(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "ab", truncate("abcd", 2))

	got := truncate("规划失败：目的地不可用", 6)
	assert.Equal(t, "规划失败：目", got)
	assert.True(t, utf8.ValidString(got))
}
