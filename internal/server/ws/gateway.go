// Package ws is the bidirectional assistant channel: one websocket
// connection per client, multiplexing dialogue turns for a single session
// with bounded send queues, idle timeouts and per-user rate limiting.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"travelist/internal/apperr"
	"travelist/internal/assistant"
	"travelist/internal/async"
	"travelist/internal/config"
	"travelist/internal/llm"
	"travelist/internal/logging"
)

// Client event types.
const (
	eventUserMessage = "user_message"
	eventPing        = "ping"
	eventCancel      = "cancel"
)

// clientEvent is one inbound frame.
type clientEvent struct {
	Type    string                `json:"type"`
	ID      string                `json:"id,omitempty"`
	TS      int64                 `json:"ts,omitempty"`
	Payload assistant.ChatPayload `json:"payload,omitempty"`
}

// serverEvent is one outbound frame.
type serverEvent struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Gateway upgrades /ws/assistant connections and drives the per-turn
// pipeline over them.
type Gateway struct {
	cfg      *config.Config
	svc      *assistant.Service
	logger   logging.Logger
	upgrader websocket.Upgrader

	mu        sync.Mutex
	userConns map[int64]int
	sessions  map[int64]*conn
}

// NewGateway builds the websocket gateway.
func NewGateway(cfg *config.Config, svc *assistant.Service, logger logging.Logger) *Gateway {
	return &Gateway{
		cfg:    cfg,
		svc:    svc,
		logger: logging.OrNop(logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		userConns: make(map[int64]int),
		sessions:  make(map[int64]*conn),
	}
}

// ConnectionCount reports currently open connections, for admin snapshots.
func (g *Gateway) ConnectionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	total := 0
	for _, n := range g.userConns {
		total += n
	}
	return total
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !g.cfg.AssistantWSEnabled {
		http.Error(w, "websocket gateway is disabled", http.StatusServiceUnavailable)
		return
	}
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	sessionID, _ := strconv.ParseInt(r.URL.Query().Get("session_id"), 10, 64)
	tripID, _ := strconv.ParseInt(r.URL.Query().Get("trip_id"), 10, 64)

	if !g.acquireSlot(userID) {
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}

	sess, err := g.svc.ResolveSession(r.Context(), userID, sessionID, tripID)
	if err != nil {
		g.releaseSlot(userID)
		http.Error(w, apperr.Normalize(err).Msg, http.StatusForbidden)
		return
	}

	socket, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.releaseSlot(userID)
		g.logger.Warn("ws upgrade failed for user %d: %v", userID, err)
		return
	}

	queueSize := g.cfg.AssistantWSSendQueueMaxsize
	if queueSize < 1 {
		queueSize = 16
	}
	ctx, cancel := context.WithCancel(context.Background())
	cn := &conn{
		gateway: g,
		socket:  socket,
		userID:  userID,
		session: sess,
		sendQ:   make(chan serverEvent, queueSize),
		ctx:     ctx,
		cancel:  cancel,
		limiter: newSlidingWindow(g.cfg.AssistantWSRateLimitPerMin, time.Minute),
		turns:   make(map[string]context.CancelFunc),
	}
	g.register(cn)

	cn.enqueue(serverEvent{Type: "ready", Data: map[string]any{
		"session_id":  sess.ID,
		"server_time": time.Now().UTC().Format(time.RFC3339),
		"caps":        []string{"chat", "stream", "cancel"},
	}})

	async.Go(g.logger, "ws-writer", cn.writePump)
	async.Go(g.logger, "ws-reader", cn.readPump)
}

func (g *Gateway) acquireSlot(userID int64) bool {
	limit := g.cfg.AssistantWSMaxConnsPerUser
	g.mu.Lock()
	defer g.mu.Unlock()
	if limit > 0 && g.userConns[userID] >= limit {
		return false
	}
	g.userConns[userID]++
	return true
}

func (g *Gateway) releaseSlot(userID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.userConns[userID] > 0 {
		g.userConns[userID]--
	}
	if g.userConns[userID] == 0 {
		delete(g.userConns, userID)
	}
}

func (g *Gateway) register(cn *conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions[cn.session.ID] = cn
}

func (g *Gateway) unregister(cn *conn) {
	g.mu.Lock()
	if g.sessions[cn.session.ID] == cn {
		delete(g.sessions, cn.session.ID)
	}
	g.mu.Unlock()
	g.releaseSlot(cn.userID)
}

// conn is one upgraded connection with its pumps and in-flight turns.
type conn struct {
	gateway *Gateway
	socket  *websocket.Conn
	userID  int64
	session *assistant.Session
	sendQ   chan serverEvent
	ctx     context.Context
	cancel  context.CancelFunc
	limiter *slidingWindow

	turnMu sync.Mutex
	turns  map[string]context.CancelFunc

	closeOnce sync.Once
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.cancelAllTurns()
		_ = c.socket.Close()
		c.gateway.unregister(c)
	})
}

// enqueue puts an event on the bounded send queue. When the queue is
// full, chunk frames are dropped (the final result still carries the full
// answer); anything else closes the connection as a slow client.
func (c *conn) enqueue(ev serverEvent) {
	select {
	case c.sendQ <- ev:
	default:
		if ev.Type == "chunk" {
			return
		}
		c.gateway.logger.Warn("ws send queue full for user %d, closing", c.userID)
		c.close()
	}
}

func (c *conn) writePump() {
	defer c.close()
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev := <-c.sendQ:
			_ = c.socket.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.socket.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}

func (c *conn) readPump() {
	defer c.close()
	if max := c.gateway.cfg.AssistantWSMaxMessageChars; max > 0 {
		// Generous factor for JSON framing around the message text.
		c.socket.SetReadLimit(int64(max) * 8)
	}
	c.resetIdleDeadline()
	c.socket.SetPongHandler(func(string) error {
		c.resetIdleDeadline()
		return nil
	})

	for {
		_, raw, err := c.socket.ReadMessage()
		if err != nil {
			return
		}
		c.resetIdleDeadline()

		var ev clientEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			c.sendError(ev.ID, "bad_request", "invalid event payload", "")
			continue
		}
		switch ev.Type {
		case eventPing:
			c.enqueue(serverEvent{Type: "pong", Data: map[string]any{"ts": time.Now().UnixMilli()}})
		case eventCancel:
			c.cancelTurn(ev.ID)
		case eventUserMessage:
			c.startTurn(ev)
		default:
			c.sendError(ev.ID, "bad_request", "unknown event type", "")
		}
	}
}

func (c *conn) resetIdleDeadline() {
	idle := c.gateway.cfg.AssistantWSIdleTimeoutS
	if idle < 1 {
		idle = 300
	}
	_ = c.socket.SetReadDeadline(time.Now().Add(time.Duration(idle) * time.Second))
}

func (c *conn) startTurn(ev clientEvent) {
	if !c.limiter.Allow() {
		c.sendError(ev.ID, "rate_limited", "message rate limit exceeded", "")
		return
	}

	payload := ev.Payload
	payload.UserID = c.userID
	payload.SessionID = c.session.ID
	if payload.TripID == 0 {
		payload.TripID = c.session.TripID
	}

	turnCtx, cancelTurn := context.WithCancel(c.ctx)
	c.trackTurn(ev.ID, cancelTurn)

	async.Go(c.gateway.logger, "ws-turn", func() {
		defer c.untrackTurn(ev.ID)

		result, err := c.gateway.svc.Chat(turnCtx, payload, func(chunk llm.StreamChunk) {
			c.enqueue(serverEvent{Type: "chunk", Data: chunk})
		})
		if err != nil {
			appErr := apperr.Normalize(err)
			c.sendError(ev.ID, errorTypeFor(appErr, turnCtx), appErr.Msg, appErr.TraceID)
			return
		}
		c.enqueue(serverEvent{Type: "result", Data: result})
		c.enqueue(serverEvent{Type: "done", Data: map[string]any{"id": ev.ID}})
	})
}

func (c *conn) trackTurn(id string, cancel context.CancelFunc) {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()
	c.turns[id] = cancel
}

func (c *conn) untrackTurn(id string) {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()
	delete(c.turns, id)
}

func (c *conn) cancelTurn(id string) {
	c.turnMu.Lock()
	cancel := c.turns[id]
	c.turnMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *conn) cancelAllTurns() {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()
	for _, cancel := range c.turns {
		cancel()
	}
}

func (c *conn) sendError(id, errorType, message, traceID string) {
	c.enqueue(serverEvent{Type: "error", Data: map[string]any{
		"id":         id,
		"error_type": errorType,
		"message":    message,
		"trace_id":   traceID,
	}})
}

func errorTypeFor(appErr *apperr.Error, ctx context.Context) string {
	switch {
	case ctx.Err() == context.Canceled || appErr.Kind == apperr.KindCancelled:
		return "cancelled"
	case appErr.Kind == apperr.KindRateLimited || appErr.Kind == apperr.KindQueueFull:
		return "rate_limited"
	case appErr.Kind == apperr.KindInvalidParams || appErr.Kind == apperr.KindNotAuthorized:
		return "bad_request"
	default:
		return "internal"
	}
}
