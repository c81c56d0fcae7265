package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"travelist/internal/logging"
	"travelist/internal/metrics"
)

// OllamaClient talks to an Ollama-compatible /api/chat endpoint with
// line-delimited streaming.
type OllamaClient struct {
	model      string
	baseURL    string
	httpClient *http.Client
	external   *semaphore.Weighted
	metrics    *metrics.Registry
	logger     logging.Logger
}

// NewOllamaClient builds the client. external bounds in-flight provider
// calls and may be shared with other external callers; metricsReg and
// external may be nil.
func NewOllamaClient(model, baseURL string, external *semaphore.Weighted, metricsReg *metrics.Registry, logger logging.Logger) *OllamaClient {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = "http://127.0.0.1:11434"
	}
	if !strings.HasSuffix(base, "/api") {
		base += "/api"
	}
	return &OllamaClient{
		model:      model,
		baseURL:    base,
		httpClient: &http.Client{},
		external:   external,
		metrics:    metricsReg,
		logger:     logging.OrNop(logger),
	}
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChunk struct {
	Message   ollamaMessage `json:"message"`
	Done      bool          `json:"done"`
	EvalCount int           `json:"eval_count"`
	Error     string        `json:"error"`
}

func (c *OllamaClient) Chat(ctx context.Context, req ChatRequest, onChunk StreamFunc) (*ChatResult, error) {
	traceID := logging.NewTraceID("ai")
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.model
	}
	start := time.Now()

	result, err := c.chat(ctx, req, model, traceID, onChunk)
	latency := float64(time.Since(start).Microseconds()) / 1000.0
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordAICall(traceID, "ollama", model, latency, false, ErrorType(err), 0)
		}
		if llmErr, ok := err.(*Error); ok && llmErr.TraceID == "" {
			llmErr.TraceID = traceID
		}
		return nil, err
	}
	result.LatencyMS = latency
	result.TraceID = traceID
	if c.metrics != nil {
		c.metrics.RecordAICall(traceID, "ollama", model, latency, true, "", result.UsageTokens)
	}
	return result, nil
}

func (c *OllamaClient) chat(ctx context.Context, req ChatRequest, model, traceID string, onChunk StreamFunc) (*ChatResult, error) {
	if c.external != nil {
		if err := c.external.Acquire(ctx, 1); err != nil {
			return nil, WrapError(ErrCancelled, "waiting for external slot", err)
		}
		defer c.external.Release(1)
	}

	if req.TimeoutS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutS)*time.Second)
		defer cancel()
	}

	payload := map[string]any{
		"model":    model,
		"messages": toOllamaMessages(req.Messages),
		"stream":   true,
	}
	if req.ResponseFormat == "json" {
		payload["format"] = "json"
	}
	options := map[string]any{}
	if req.Temperature > 0 {
		options["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	if len(options) > 0 {
		payload["options"] = options
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, WrapError(ErrInvalidOutput, "encode request", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(body))
	if err != nil {
		return nil, WrapError(ErrNetwork, "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, NewError(ErrRateLimit, "provider rate limited")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{Type: ErrProviderError, Msg: fmt.Sprintf("provider returned status %d", resp.StatusCode), StatusCode: resp.StatusCode}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)

	var builder strings.Builder
	usageTokens := 0
	chunkIndex := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var chunk ollamaChunk
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			return nil, WrapError(ErrInvalidOutput, "provider returned non-JSON chunk", err)
		}
		if chunk.Error != "" {
			return nil, NewError(ErrProviderError, chunk.Error)
		}
		if delta := chunk.Message.Content; delta != "" {
			builder.WriteString(delta)
			if onChunk != nil {
				onChunk(StreamChunk{TraceID: traceID, Index: chunkIndex, Delta: delta})
				chunkIndex++
			}
		}
		if chunk.Done {
			usageTokens = chunk.EvalCount
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, classifyTransportError(err)
	}
	if builder.Len() == 0 {
		return nil, NewError(ErrInvalidOutput, "provider returned empty response")
	}
	if onChunk != nil {
		onChunk(StreamChunk{TraceID: traceID, Index: chunkIndex, Done: true})
	}
	if usageTokens == 0 {
		usageTokens = CountTokens(builder.String())
	}
	return &ChatResult{
		Content:     builder.String(),
		Provider:    "ollama",
		Model:       model,
		UsageTokens: usageTokens,
	}, nil
}

func toOllamaMessages(messages []Message) []ollamaMessage {
	out := make([]ollamaMessage, len(messages))
	for i, msg := range messages {
		out[i] = ollamaMessage{Role: msg.Role, Content: msg.Content}
	}
	return out
}

func classifyTransportError(err error) *Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return WrapError(ErrTimeout, "provider request timed out", err)
	case errors.Is(err, context.Canceled):
		return WrapError(ErrCancelled, "provider request cancelled", err)
	default:
		return WrapError(ErrNetwork, "failed to reach provider", err)
	}
}
