package task

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"travelist/internal/apperr"
	"travelist/internal/async"
	"travelist/internal/config"
	"travelist/internal/logging"
	"travelist/internal/schema"
)

// Runner executes the kind-specific work for a claimed task. The planner
// service implements it for plan:deep.
type Runner interface {
	RunDeepAndSave(ctx context.Context, req *schema.PlanRequest) (*schema.PlanResponseData, error)
}

// Engine is the in-process task engine: bounded queue, N workers, restart
// recovery and retention cleanup. It implements planner.TaskSubmitter.
type Engine struct {
	cfg    *config.Config
	store  Store
	runner Runner
	logger logging.Logger

	queue  chan string
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool

	now func() time.Time
}

// NewEngine wires the engine. Start must be called before submissions are
// accepted.
func NewEngine(cfg *config.Config, store Store, runner Runner, logger logging.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		store:  store,
		runner: runner,
		logger: logging.OrNop(logger),
		now:    time.Now,
	}
}

// Start recovers persisted state and launches the worker pool.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return nil
	}

	maxsize := e.cfg.PlanTaskQueueMaxsize
	if maxsize < 1 {
		maxsize = 1
	}
	e.queue = make(chan string, maxsize)

	queued, failed, err := e.store.RecoverStartup(ctx, KindPlanDeep, e.now().UTC())
	if err != nil {
		return apperr.Wrap(apperr.KindPersistenceFailed, "task recovery", err)
	}
	if failed > 0 {
		e.logger.Warn("task recovery failed %d running tasks", failed)
	}
	for _, id := range queued {
		select {
		case e.queue <- id:
		default:
			e.logger.Warn("task recovery queue full, %s left queued", id)
		}
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	concurrency := e.cfg.PlanTaskWorkerConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	for i := 0; i < concurrency; i++ {
		worker := i
		e.wg.Add(1)
		async.Go(e.logger, "task-worker", func() {
			defer e.wg.Done()
			e.workerLoop(workerCtx, worker)
		})
	}
	e.wg.Add(1)
	async.Go(e.logger, "task-retention", func() {
		defer e.wg.Done()
		e.retentionLoop(workerCtx)
	})

	e.started = true
	e.logger.Info("task engine started: %d workers, queue %d, recovered %d queued", concurrency, maxsize, len(queued))
	return nil
}

// Stop cancels the workers and waits for in-flight tasks to settle.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	cancel := e.cancel
	e.mu.Unlock()

	cancel()
	e.wg.Wait()
	e.logger.Info("task engine stopped")
}

func (e *Engine) running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

// SubmitPlanDeep registers a deep-plan task and enqueues it. Resubmission
// with the same request_id and payload returns the existing task ID.
func (e *Engine) SubmitPlanDeep(ctx context.Context, req *schema.PlanRequest) (string, error) {
	if !e.running() {
		return "", apperr.New(apperr.KindDeepUnsupported, "task worker is not started")
	}

	taskID := NewTaskID(req.UserID, req.RequestID)
	if req.RequestID != "" {
		if existingID, err := e.findIdempotent(ctx, taskID, req); err != nil {
			return "", err
		} else if existingID != "" {
			return existingID, nil
		}
	}

	maxRunning := e.cfg.PlanTaskMaxRunningPerUser
	if maxRunning < 1 {
		maxRunning = 1
	}
	active, err := e.store.CountActive(ctx, req.UserID, KindPlanDeep)
	if err != nil {
		return "", apperr.Wrap(apperr.KindPersistenceFailed, "count active tasks", err)
	}
	if active >= maxRunning {
		return "", apperr.Newf(apperr.KindRateLimited, "too many running tasks for user %d", req.UserID).
			WithData(map[string]any{"limit": maxRunning, "running": active})
	}

	t := &Task{
		ID:        taskID,
		UserID:    req.UserID,
		Kind:      KindPlanDeep,
		Status:    StatusQueued,
		Payload:   req,
		TraceID:   logging.NewTraceID("plan"),
		CreatedAt: e.now().UTC(),
	}
	if err := e.store.Create(ctx, t); err != nil {
		if apperr.IsKind(err, apperr.KindDBConflict) {
			// Lost a create race on the same request_id.
			if existingID, idemErr := e.findIdempotent(ctx, taskID, req); idemErr != nil {
				return "", idemErr
			} else if existingID != "" {
				return existingID, nil
			}
		}
		return "", apperr.Normalize(err)
	}

	select {
	case e.queue <- taskID:
	default:
		info := ErrorInfo{Type: "queue_error", Message: "task queue is full"}
		if markErr := e.store.MarkFailed(ctx, taskID, info, e.now().UTC()); markErr != nil {
			e.logger.Warn("mark queue-full task %s failed: %v", taskID, markErr)
		}
		return "", apperr.New(apperr.KindQueueFull, "task queue is full").
			WithData(map[string]any{"task_id": taskID})
	}
	e.logger.Info("task %s queued for user %d", taskID, req.UserID)
	return taskID, nil
}

// findIdempotent returns the existing task ID when the stored payload
// matches the resubmission, an idempotency error when it does not, and
// empty when no task exists yet.
func (e *Engine) findIdempotent(ctx context.Context, taskID string, req *schema.PlanRequest) (string, error) {
	existing, err := e.store.Get(ctx, taskID)
	if err != nil {
		return "", apperr.Wrap(apperr.KindPersistenceFailed, "lookup task", err)
	}
	if existing == nil {
		return "", nil
	}
	if !payloadEqual(existing.Payload, req) {
		return "", apperr.New(apperr.KindIdempotencyConflict, "request_id conflict with different payload").
			WithData(map[string]any{"task_id": existing.ID}).
			WithTrace(existing.TraceID)
	}
	return existing.ID, nil
}

func payloadEqual(a, b *schema.PlanRequest) bool {
	if a == nil || b == nil {
		return a == b
	}
	rawA, errA := json.Marshal(a)
	rawB, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(rawA, rawB)
}

// Get returns a task with ownership enforcement: non-admin requesters
// must own the task.
func (e *Engine) Get(ctx context.Context, taskID string, userID int64, isAdmin bool) (*Task, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" || len(taskID) > 64 {
		return nil, apperr.New(apperr.KindInvalidParams, "invalid task_id")
	}
	t, err := e.store.Get(ctx, taskID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistenceFailed, "load task", err)
	}
	if t == nil || t.Kind != KindPlanDeep {
		return nil, apperr.New(apperr.KindNotFound, "task not found")
	}
	if !isAdmin && t.UserID != userID {
		return nil, apperr.New(apperr.KindTaskNotAuthorized, "task belongs to another user")
	}
	return t, nil
}

// Summary builds the admin task overview: status distribution, p95
// duration and the most recent tasks with failure reasons.
func (e *Engine) Summary(ctx context.Context, lastN int) (map[string]any, error) {
	if lastN < 1 {
		lastN = 20
	}
	counts, err := e.store.StatusCounts(ctx, KindPlanDeep)
	if err != nil {
		return nil, apperr.Normalize(err)
	}
	recent, err := e.store.ListRecent(ctx, KindPlanDeep, lastN)
	if err != nil {
		return nil, apperr.Normalize(err)
	}

	var durations []float64
	failureReasons := make(map[string]int)
	recentViews := make([]map[string]any, 0, len(recent))
	for _, t := range recent {
		view := map[string]any{
			"task_id":    t.ID,
			"user_id":    t.UserID,
			"status":     t.Status,
			"created_at": t.CreatedAt,
			"updated_at": t.UpdatedAt(),
		}
		if t.StartedAt != nil && t.FinishedAt != nil {
			durationMS := float64(t.FinishedAt.Sub(*t.StartedAt).Microseconds()) / 1000.0
			durations = append(durations, durationMS)
			view["duration_ms"] = durationMS
		}
		if t.Error != nil {
			failureReasons[t.Error.Type]++
			view["error_type"] = t.Error.Type
		}
		recentViews = append(recentViews, view)
	}

	return map[string]any{
		"status_counts":   counts,
		"p95_duration_ms": percentile95(durations),
		"failure_reasons": failureReasons,
		"recent":          recentViews,
	}, nil
}

func percentile95(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64{}, values...)
	sort.Float64s(sorted)
	idx := (len(sorted)*95 + 99) / 100
	if idx > len(sorted) {
		idx = len(sorted)
	}
	return sorted[idx-1]
}

func (e *Engine) workerLoop(ctx context.Context, worker int) {
	for {
		select {
		case <-ctx.Done():
			return
		case taskID := <-e.queue:
			e.execute(ctx, taskID, worker)
		}
	}
}

func (e *Engine) execute(ctx context.Context, taskID string, worker int) {
	claimed, err := e.store.MarkRunning(ctx, taskID, e.now().UTC())
	if err != nil {
		e.logger.Warn("worker %d claim %s failed: %v", worker, taskID, err)
		return
	}
	if !claimed {
		return
	}
	t, err := e.store.Get(ctx, taskID)
	if err != nil || t == nil || t.Payload == nil {
		info := ErrorInfo{Type: "task_error", Message: "task payload missing"}
		if markErr := e.store.MarkFailed(ctx, taskID, info, e.now().UTC()); markErr != nil {
			e.logger.Warn("worker %d fail %s: %v", worker, taskID, markErr)
		}
		return
	}

	req := *t.Payload
	req.Async = false
	req.Mode = schema.ModeDeep

	resp, runErr := e.runner.RunDeepAndSave(ctx, &req)
	if runErr != nil {
		appErr := apperr.Normalize(runErr)
		info := ErrorInfo{
			Type:    string(appErr.Kind),
			Message: truncate(appErr.Msg, 500),
			Code:    appErr.Code,
			TraceID: appErr.TraceID,
		}
		if markErr := e.store.MarkFailed(ctx, taskID, info, e.now().UTC()); markErr != nil {
			e.logger.Warn("worker %d fail %s: %v", worker, taskID, markErr)
		}
		e.logger.Warn("task %s failed on worker %d: %v", taskID, worker, runErr)
		return
	}

	result := resultMap(resp)
	result["task_id"] = taskID
	if markErr := e.store.MarkSucceeded(ctx, taskID, result, e.now().UTC()); markErr != nil {
		e.logger.Warn("worker %d finish %s: %v", worker, taskID, markErr)
		return
	}
	e.logger.Info("task %s succeeded on worker %d", taskID, worker)
}

func resultMap(resp *schema.PlanResponseData) map[string]any {
	out := make(map[string]any)
	raw, err := json.Marshal(resp)
	if err != nil {
		return out
	}
	_ = json.Unmarshal(raw, &out)
	return out
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

func (e *Engine) retentionLoop(ctx context.Context) {
	days := e.cfg.PlanTaskRetentionDays
	if days < 1 {
		return
	}
	ticker := time.NewTicker(6 * time.Hour)
	defer ticker.Stop()
	for {
		e.CleanupOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// CleanupOnce deletes terminal tasks older than the retention window.
func (e *Engine) CleanupOnce(ctx context.Context) {
	days := e.cfg.PlanTaskRetentionDays
	if days < 1 {
		return
	}
	cutoff := e.now().UTC().AddDate(0, 0, -days)
	deleted, err := e.store.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		e.logger.Warn("task retention cleanup failed: %v", err)
		return
	}
	if deleted > 0 {
		e.logger.Info("task retention removed %d finished tasks", deleted)
	}
}
