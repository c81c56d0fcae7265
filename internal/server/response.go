// Package server is the HTTP transport: gin router, unified response
// envelope, REST handlers for planning, tasks, chat, POI and admin
// surfaces, and SSE framing for streamed chat turns.
package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"travelist/internal/apperr"
)

// Envelope is the unified response wrapper. Code 0 means success.
type Envelope struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data"`
}

// OK writes a success envelope.
func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Envelope{Code: 0, Msg: "ok", Data: data})
}

// Fail normalizes err and writes the error envelope with a matching HTTP
// status. Trace id and structured data travel in the data slot.
func Fail(c *gin.Context, err error) {
	appErr := apperr.Normalize(err)
	data := map[string]any{}
	if appErr.TraceID != "" {
		data["trace_id"] = appErr.TraceID
	}
	for k, v := range appErr.Data {
		data[k] = v
	}
	c.JSON(statusFor(appErr.Kind), Envelope{Code: appErr.Code, Msg: appErr.Msg, Data: data})
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindInvalidParams, apperr.KindBadMode, apperr.KindRangeExceeded,
		apperr.KindUserMissing, apperr.KindDeepUnsupported:
		return http.StatusBadRequest
	case apperr.KindAdminRequired:
		return http.StatusUnauthorized
	case apperr.KindNotAuthorized, apperr.KindTaskNotAuthorized:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindIdempotencyConflict, apperr.KindDBConflict:
		return http.StatusConflict
	case apperr.KindRateLimited, apperr.KindQueueFull, apperr.KindLLMRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
