package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"travelist/internal/apperr"
	"travelist/internal/assistant"
	"travelist/internal/llm"
)

// chatRequest is the wire shape of POST /api/ai/chat.
type chatRequest struct {
	UserID    int64  `json:"user_id"`
	SessionID int64  `json:"session_id,omitempty"`
	TripID    int64  `json:"trip_id,omitempty"`
	Query     string `json:"query"`
	Stream    bool   `json:"stream,omitempty"`

	Location *struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	} `json:"location,omitempty"`
	PoiType   string `json:"poi_type,omitempty"`
	PoiRadius int    `json:"poi_radius,omitempty"`

	UseMemory        bool `json:"use_memory,omitempty"`
	TopKMemory       int  `json:"top_k_memory,omitempty"`
	ReturnMemory     bool `json:"return_memory,omitempty"`
	ReturnToolTraces bool `json:"return_tool_traces,omitempty"`
	ReturnMessages   bool `json:"return_messages,omitempty"`
}

func (r chatRequest) payload() assistant.ChatPayload {
	p := assistant.ChatPayload{
		UserID:           r.UserID,
		SessionID:        r.SessionID,
		TripID:           r.TripID,
		Query:            r.Query,
		PoiType:          r.PoiType,
		PoiRadius:        r.PoiRadius,
		UseMemory:        r.UseMemory,
		TopK:             r.TopKMemory,
		ReturnMemory:     r.ReturnMemory,
		ReturnToolTraces: r.ReturnToolTraces,
		ReturnMessages:   r.ReturnMessages,
	}
	if r.Location != nil {
		lat, lng := r.Location.Lat, r.Location.Lng
		p.Lat, p.Lng = &lat, &lng
	}
	return p
}

// chat handles POST /api/ai/chat. stream=false answers with one JSON
// envelope; stream=true answers with SSE frames (chunk*, result|error)
// terminated by a [DONE] marker.
func (h *handlers) chat(c *gin.Context) {
	var raw chatRequest
	if err := c.ShouldBindJSON(&raw); err != nil {
		Fail(c, apperr.Wrap(apperr.KindInvalidParams, "invalid request body", err))
		return
	}

	if !raw.Stream {
		result, err := h.deps.Chat.Chat(c.Request.Context(), raw.payload(), nil)
		if err != nil {
			Fail(c, err)
			return
		}
		OK(c, result)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)

	flush := func() {
		if flusher, ok := c.Writer.(http.Flusher); ok {
			flusher.Flush()
		}
	}
	onChunk := func(chunk llm.StreamChunk) {
		c.SSEvent("chunk", chunk)
		flush()
	}

	result, err := h.deps.Chat.Chat(c.Request.Context(), raw.payload(), onChunk)
	if err != nil {
		appErr := apperr.Normalize(err)
		c.SSEvent("error", map[string]any{
			"code":     appErr.Code,
			"msg":      appErr.Msg,
			"trace_id": appErr.TraceID,
		})
	} else {
		c.SSEvent("result", result)
	}
	c.Writer.WriteString("data: [DONE]\n\n")
	flush()
}
