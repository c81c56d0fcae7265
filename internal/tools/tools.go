// Package tools catalogs the assistant's named tools behind a registry
// with argument validation, timeouts and per-invocation traces.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"travelist/internal/apperr"
	"travelist/internal/logging"
	"travelist/internal/schema"
)

// Args is the raw argument map handed to a tool.
type Args map[string]any

// CallContext carries the caller identity into a tool run.
type CallContext struct {
	UserID int64
	TripID int64
}

// Tool is one callable unit. Validate rejects malformed arguments before
// Invoke runs; Invoke must be deterministic for a given input and
// environment.
type Tool interface {
	Name() string
	Description() string
	Schema() map[string]any
	Validate(args Args) error
	Invoke(ctx context.Context, call CallContext, args Args) (map[string]any, error)
}

// Info is the list() projection of a registered tool.
type Info struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Schema      map[string]any `json:"schema"`
}

// Registry maps tool names to implementations.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	timeout time.Duration
	logger  logging.Logger
}

// NewRegistry builds an empty registry with the given per-tool timeout.
func NewRegistry(timeout time.Duration, logger logging.Logger) *Registry {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Registry{
		tools:   make(map[string]Tool),
		timeout: timeout,
		logger:  logging.OrNop(logger),
	}
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns every registered tool's info sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]Info, 0, len(r.tools))
	for _, t := range r.tools {
		infos = append(infos, Info{Name: t.Name(), Description: t.Description(), Schema: t.Schema()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Invoke validates and runs the named tool. Failures never propagate as
// errors: the result carries status=failed and the trace records it.
func (r *Registry) Invoke(ctx context.Context, name string, call CallContext, args Args) (map[string]any, schema.ToolTrace) {
	started := time.Now()
	trace := schema.ToolTrace{Node: name, Status: "ok"}

	tool, ok := r.Get(name)
	if !ok {
		trace.Status = "failed"
		trace.Detail = map[string]any{"error": "unknown tool"}
		trace.LatencyMS = latencyMS(started)
		return failedResult(fmt.Sprintf("unknown tool %q", name)), trace
	}
	if err := tool.Validate(args); err != nil {
		trace.Status = "failed"
		trace.Detail = map[string]any{"error": err.Error()}
		trace.LatencyMS = latencyMS(started)
		return failedResult(err.Error()), trace
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := r.invokeGuarded(runCtx, tool, call, args)
	trace.LatencyMS = latencyMS(started)
	if err != nil {
		r.logger.Warn("tool %s failed: %v", name, err)
		trace.Status = "failed"
		trace.Detail = map[string]any{"error": err.Error()}
		return failedResult(err.Error()), trace
	}
	return result, trace
}

func (r *Registry) invokeGuarded(ctx context.Context, tool Tool, call CallContext, args Args) (result map[string]any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = apperr.Newf(apperr.KindInternal, "tool %s panicked: %v", tool.Name(), rec)
		}
	}()
	return tool.Invoke(ctx, call, args)
}

func failedResult(msg string) map[string]any {
	return map[string]any{"status": "failed", "error": msg}
}

func latencyMS(started time.Time) float64 {
	return float64(time.Since(started).Microseconds()) / 1000.0
}

// Argument decoding helpers shared by the tool implementations. JSON
// numbers arrive as float64; accept ints too for direct callers.

func argString(args Args, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func argFloat(args Args, key string) (float64, bool) {
	switch v := args[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func argInt(args Args, key string) (int, bool) {
	f, ok := argFloat(args, key)
	if !ok {
		return 0, false
	}
	return int(f), true
}

func argStringSlice(args Args, key string) ([]string, bool) {
	switch v := args[key].(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

func invalidArg(format string, args ...any) error {
	return apperr.Newf(apperr.KindInvalidParams, format, args...)
}
