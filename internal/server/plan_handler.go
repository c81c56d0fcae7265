package server

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"travelist/internal/apperr"
	"travelist/internal/schema"
)

// planCreate handles POST /api/ai/plan: fast/deep sync plans and async
// deep submissions through one body shape.
func (h *handlers) planCreate(c *gin.Context) {
	var raw schema.RawPlanRequest
	if err := c.ShouldBindJSON(&raw); err != nil {
		Fail(c, apperr.Wrap(apperr.KindInvalidParams, "invalid request body", err))
		return
	}
	req, err := schema.ParsePlanRequest(raw, h.deps.Config.PlanMaxDays)
	if err != nil {
		Fail(c, err)
		return
	}
	resp, err := h.deps.Plan.Plan(c.Request.Context(), req)
	if err != nil {
		Fail(c, err)
		return
	}
	OK(c, resp)
}

// planTaskGet handles GET /api/ai/plan/tasks/:task_id. Non-admin callers
// must pass their own user_id.
func (h *handlers) planTaskGet(c *gin.Context) {
	if h.deps.Tasks == nil {
		Fail(c, apperr.New(apperr.KindDeepUnsupported, "async planning is not available"))
		return
	}
	isAdmin := h.isAdmin(c)
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		if !isAdmin {
			Fail(c, apperr.New(apperr.KindInvalidParams, "user_id is required"))
			return
		}
		userID = 0
	}

	t, err := h.deps.Tasks.Get(c.Request.Context(), c.Param("task_id"), userID, isAdmin)
	if err != nil {
		Fail(c, err)
		return
	}
	view := map[string]any{
		"task_id":    t.ID,
		"status":     t.Status,
		"created_at": t.CreatedAt,
		"updated_at": t.UpdatedAt(),
		"trace_id":   t.TraceID,
	}
	if t.StartedAt != nil {
		view["started_at"] = t.StartedAt
	}
	if t.FinishedAt != nil {
		view["finished_at"] = t.FinishedAt
	}
	if t.Result != nil {
		view["result"] = t.Result
	}
	if t.Error != nil {
		view["error"] = t.Error
	}
	OK(c, view)
}

// planSummary handles GET /admin/plan/summary. An optional
// window_seconds query restricts the view to recent activity.
func (h *handlers) planSummary(c *gin.Context) {
	if raw := c.Query("window_seconds"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			Fail(c, apperr.New(apperr.KindInvalidParams, "window_seconds must be a positive integer"))
			return
		}
		OK(c, h.deps.Metrics.SnapshotWindow(time.Duration(seconds)*time.Second))
		return
	}
	OK(c, h.deps.Metrics.Snapshot())
}

// taskSummary handles GET /admin/ai/tasks/summary.
func (h *handlers) taskSummary(c *gin.Context) {
	if h.deps.Tasks == nil {
		Fail(c, apperr.New(apperr.KindDeepUnsupported, "async planning is not available"))
		return
	}
	lastN, _ := strconv.Atoi(c.DefaultQuery("last_n", "20"))
	summary, err := h.deps.Tasks.Summary(c.Request.Context(), lastN)
	if err != nil {
		Fail(c, err)
		return
	}
	OK(c, summary)
}
