// Package llm defines the chat-completion client contract consumed by the
// deep planner and the assistant, with mock and ollama implementations.
package llm

import (
	"context"
	"fmt"
)

// Message is one chat message.
type Message struct {
	Role    string `json:"role"` // system | user | assistant
	Content string `json:"content"`
}

// ChatRequest carries one completion call.
type ChatRequest struct {
	Messages       []Message
	Model          string // empty uses the client default
	Temperature    float64
	MaxTokens      int
	TimeoutS       int
	ResponseFormat string // "" | "json"
}

// ChatResult is the provider-agnostic completion result.
type ChatResult struct {
	Content     string  `json:"content"`
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	LatencyMS   float64 `json:"latency_ms"`
	UsageTokens int     `json:"usage_tokens,omitempty"`
	TraceID     string  `json:"trace_id"`
}

// StreamChunk is one incremental content delta.
type StreamChunk struct {
	TraceID string `json:"trace_id"`
	Index   int    `json:"index"`
	Delta   string `json:"delta"`
	Done    bool   `json:"done"`
}

// StreamFunc receives chunks during a streamed completion.
type StreamFunc func(StreamChunk)

// Error classification values.
const (
	ErrTimeout       = "timeout"
	ErrRateLimit     = "rate_limit"
	ErrProviderError = "provider_error"
	ErrInvalidOutput = "invalid_output"
	ErrNetwork       = "network_error"
	ErrNotConfigured = "not_configured"
	ErrCancelled     = "cancelled"
)

// Error is the structured provider failure.
type Error struct {
	Type       string
	Msg        string
	TraceID    string
	StatusCode int
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("llm %s: %s: %v", e.Type, e.Msg, e.cause)
	}
	return fmt.Sprintf("llm %s: %s", e.Type, e.Msg)
}

func (e *Error) Unwrap() error { return e.cause }

// NewError builds a classified provider failure.
func NewError(errType, msg string) *Error {
	return &Error{Type: errType, Msg: msg}
}

// WrapError builds a classified provider failure with a cause.
func WrapError(errType, msg string, cause error) *Error {
	return &Error{Type: errType, Msg: msg, cause: cause}
}

// ErrorType extracts the classification from err, "internal" for unknown
// errors and "" for nil.
func ErrorType(err error) string {
	if err == nil {
		return ""
	}
	if llmErr, ok := err.(*Error); ok {
		return llmErr.Type
	}
	return "internal"
}

// Client is the chat-completion port. Implementations must honor ctx
// cancellation, emit ordered chunks when onChunk is non-nil, and record
// call metrics.
type Client interface {
	Chat(ctx context.Context, req ChatRequest, onChunk StreamFunc) (*ChatResult, error)
}
