package server

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"travelist/internal/assistant"
	"travelist/internal/config"
	"travelist/internal/logging"
	"travelist/internal/metrics"
	"travelist/internal/planner"
	"travelist/internal/poi"
	"travelist/internal/prompt"
	"travelist/internal/task"
)

// Deps carries everything the router serves. WS may be nil when the
// websocket gateway is disabled.
type Deps struct {
	Config  *config.Config
	Logger  logging.Logger
	Metrics *metrics.Registry

	Plan    *planner.Service
	Tasks   *task.Engine
	Chat    *assistant.Service
	Poi     *poi.Service
	Prompts *prompt.Registry

	WS http.Handler
}

// NewRouter builds the gin engine with all routes and middleware.
func NewRouter(deps Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	logger := logging.OrNop(deps.Logger)

	r := gin.New()
	r.Use(recovery(logger))
	if deps.Metrics != nil {
		r.Use(requestMetrics(deps.Metrics))
	}
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization", "X-Admin-Token"},
	}))

	h := &handlers{deps: deps, logger: logger}

	r.GET("/health", func(c *gin.Context) { OK(c, map[string]any{"status": "up"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.POST("/ai/plan", h.planCreate)
		api.GET("/ai/plan/tasks/:task_id", h.planTaskGet)
		api.POST("/ai/chat", h.chat)
		api.GET("/poi/around", h.poiAround)
	}

	if deps.WS != nil {
		r.GET("/ws/assistant", gin.WrapH(deps.WS))
	}

	admin := r.Group("/admin", adminAuth(deps.Config))
	{
		admin.GET("/plan/summary", h.planSummary)
		admin.GET("/ai/tasks/summary", h.taskSummary)
		admin.GET("/ai/prompts", h.promptList)
		admin.PUT("/ai/prompts/:key", h.promptUpdate)
		admin.POST("/ai/prompts/:key/reset", h.promptReset)
	}

	return r
}

type handlers struct {
	deps   Deps
	logger logging.Logger
}

// isAdmin reports whether the request carries the configured admin token.
// Used by user-facing routes that grant admins a wider view.
func (h *handlers) isAdmin(c *gin.Context) bool {
	cfg := h.deps.Config
	if cfg.AdminAPIToken == "" {
		return false
	}
	token := c.GetHeader("X-Admin-Token")
	if token == "" {
		token = c.Query("token")
	}
	if token == "" {
		token, _ = c.Cookie("admin_token")
	}
	return token == cfg.AdminAPIToken
}
