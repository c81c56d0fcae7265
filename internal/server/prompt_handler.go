package server

import (
	"github.com/gin-gonic/gin"

	"travelist/internal/apperr"
	"travelist/internal/prompt"
)

// promptList handles GET /admin/ai/prompts.
func (h *handlers) promptList(c *gin.Context) {
	prompts, err := h.deps.Prompts.List(c.Request.Context())
	if err != nil {
		Fail(c, err)
		return
	}
	OK(c, map[string]any{"total": len(prompts), "prompts": prompts})
}

// promptUpdate handles PUT /admin/ai/prompts/:key.
func (h *handlers) promptUpdate(c *gin.Context) {
	var payload prompt.UpdatePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		Fail(c, apperr.Wrap(apperr.KindInvalidParams, "invalid request body", err))
		return
	}
	updated, err := h.deps.Prompts.Update(c.Request.Context(), c.Param("key"), payload)
	if err != nil {
		Fail(c, err)
		return
	}
	OK(c, updated)
}

// promptReset handles POST /admin/ai/prompts/:key/reset.
func (h *handlers) promptReset(c *gin.Context) {
	restored, err := h.deps.Prompts.Reset(c.Request.Context(), c.Param("key"))
	if err != nil {
		Fail(c, err)
		return
	}
	OK(c, restored)
}
