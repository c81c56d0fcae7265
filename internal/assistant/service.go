package assistant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"travelist/internal/apperr"
	"travelist/internal/config"
	"travelist/internal/llm"
	"travelist/internal/logging"
	"travelist/internal/memory"
	"travelist/internal/prompt"
	"travelist/internal/schema"
	"travelist/internal/tools"
)

// ChatPayload is one assistant turn request.
type ChatPayload struct {
	UserID    int64    `json:"user_id"`
	SessionID int64    `json:"session_id,omitempty"`
	TripID    int64    `json:"trip_id,omitempty"`
	Query     string   `json:"query"`
	Lat       *float64 `json:"lat,omitempty"`
	Lng       *float64 `json:"lng,omitempty"`
	PoiType   string   `json:"poi_type,omitempty"`
	PoiRadius int      `json:"poi_radius,omitempty"`

	UseMemory        bool `json:"use_memory"`
	TopK             int  `json:"top_k_memory,omitempty"`
	ReturnMessages   bool `json:"return_messages,omitempty"`
	ReturnMemory     bool `json:"return_memory,omitempty"`
	ReturnToolTraces bool `json:"return_tool_traces,omitempty"`
}

// ChatResult is the final per-turn result delivered over unary and
// streaming transports alike.
type ChatResult struct {
	SessionID      int64              `json:"session_id"`
	Answer         string             `json:"answer"`
	Intent         string             `json:"intent,omitempty"`
	SelectedTool   string             `json:"selected_tool,omitempty"`
	UsedMemory     []memory.Record    `json:"used_memory,omitempty"`
	ToolTraces     []schema.ToolTrace `json:"tool_traces,omitempty"`
	AIMeta         map[string]any     `json:"ai_meta"`
	Messages       []Message          `json:"messages,omitempty"`
	MemoryRecordID string             `json:"memory_record_id,omitempty"`
	TraceID        string             `json:"trace_id"`
}

// Service runs the assistant turn pipeline.
type Service struct {
	cfg     *config.Config
	store   Store
	tools   *tools.Registry
	prompts *prompt.Registry
	client  llm.Client
	memSvc  *memory.Service
	router  *Router
	logger  logging.Logger
}

// NewService wires the assistant. memSvc may be a disabled facade.
func NewService(cfg *config.Config, store Store, toolReg *tools.Registry, prompts *prompt.Registry, client llm.Client, memSvc *memory.Service, logger logging.Logger) *Service {
	return &Service{
		cfg:     cfg,
		store:   store,
		tools:   toolReg,
		prompts: prompts,
		client:  client,
		memSvc:  memSvc,
		router:  NewRouter(),
		logger:  logging.OrNop(logger),
	}
}

// turnState carries the pipeline state of one turn.
type turnState struct {
	session *Session
	history []Message
	route   Route
	traces  []schema.ToolTrace

	selectedTool string
	toolResult   map[string]any
	memories     []memory.Record

	directAnswer string
	answer       string
	aiMeta       map[string]any
}

func (st *turnState) trace(node, status string, detail map[string]any) {
	st.traces = append(st.traces, schema.ToolTrace{Node: node, Status: status, Detail: detail})
}

// Chat executes one turn. With a non-nil onChunk the answer is also
// streamed in fixed-size rune chunks before the result returns.
func (s *Service) Chat(ctx context.Context, payload ChatPayload, onChunk llm.StreamFunc) (*ChatResult, error) {
	traceID := logging.NewTraceID("chat")

	query := strings.TrimSpace(payload.Query)
	if query == "" {
		return nil, apperr.New(apperr.KindInvalidParams, "query is empty").WithTrace(traceID)
	}
	if max := s.cfg.AssistantWSMaxMessageChars; max > 0 && len([]rune(query)) > max {
		return nil, apperr.Newf(apperr.KindInvalidParams, "query exceeds %d characters", max).WithTrace(traceID)
	}
	if payload.UserID <= 0 {
		return nil, apperr.New(apperr.KindInvalidParams, "user_id is required").WithTrace(traceID)
	}

	if timeoutS := s.cfg.AssistantTurnTimeoutS; timeoutS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutS)*time.Second)
		defer cancel()
	}

	st := &turnState{}
	if err := s.loadContext(ctx, payload, st); err != nil {
		return nil, apperr.Normalize(err).WithTrace(traceID)
	}
	s.retrieveMemories(ctx, payload, query, st)

	st.route = s.router.Classify(query)
	st.trace("router", "ok", map[string]any{
		"intent":     st.route.Intent,
		"confidence": st.route.Confidence,
	})

	s.runTools(ctx, payload, query, st)
	s.composeAnswer(ctx, query, st, traceID)

	if err := s.persistTurn(ctx, query, st); err != nil {
		return nil, apperr.Normalize(err).WithTrace(traceID)
	}
	memoryRecordID := s.writeTurnMemory(ctx, payload, query, st)

	if onChunk != nil {
		s.streamAnswer(st.answer, traceID, onChunk)
	}

	result := &ChatResult{
		SessionID:      st.session.ID,
		Answer:         st.answer,
		Intent:         st.route.Intent,
		SelectedTool:   st.selectedTool,
		AIMeta:         st.aiMeta,
		MemoryRecordID: memoryRecordID,
		TraceID:        traceID,
	}
	if payload.ReturnMemory {
		result.UsedMemory = st.memories
	}
	if payload.ReturnToolTraces {
		result.ToolTraces = st.traces
	}
	if payload.ReturnMessages {
		messages, err := s.store.RecentMessages(ctx, st.session.ID, s.historyLimit())
		if err == nil {
			result.Messages = messages
		}
	}
	return result, nil
}

// ResolveSession loads sessionID with ownership enforcement, or creates a
// fresh session when sessionID is zero. Used by connection handshakes that
// announce the session before the first turn.
func (s *Service) ResolveSession(ctx context.Context, userID, sessionID, tripID int64) (*Session, error) {
	if userID <= 0 {
		return nil, apperr.New(apperr.KindInvalidParams, "user_id is required")
	}
	if sessionID > 0 {
		sess, err := s.store.GetSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if sess == nil || sess.UserID != userID {
			return nil, apperr.New(apperr.KindNotAuthorized, "会话不存在或不属于该用户")
		}
		return sess, nil
	}
	return s.store.CreateSession(ctx, userID, tripID)
}

func (s *Service) historyLimit() int {
	rounds := s.cfg.AssistantHistoryMaxRounds
	if rounds < 1 {
		rounds = 6
	}
	return rounds * 2
}

// loadContext resolves (or creates) the session, enforces ownership and
// loads the history window.
func (s *Service) loadContext(ctx context.Context, payload ChatPayload, st *turnState) error {
	if payload.SessionID > 0 {
		sess, err := s.store.GetSession(ctx, payload.SessionID)
		if err != nil {
			return err
		}
		if sess == nil || sess.UserID != payload.UserID {
			return apperr.New(apperr.KindNotAuthorized, "会话不存在或不属于该用户")
		}
		st.session = sess
	} else {
		sess, err := s.store.CreateSession(ctx, payload.UserID, payload.TripID)
		if err != nil {
			return err
		}
		st.session = sess
	}

	history, err := s.store.RecentMessages(ctx, st.session.ID, s.historyLimit())
	if err != nil {
		return err
	}
	st.history = history
	st.trace("load_context", "ok", map[string]any{
		"session_id": st.session.ID,
		"history":    len(history),
	})
	return nil
}

// retrieveMemories searches session > trip > user scopes with bounded
// dedup. Provider failures degrade to an empty set.
func (s *Service) retrieveMemories(ctx context.Context, payload ChatPayload, query string, st *turnState) {
	if !payload.UseMemory || s.memSvc == nil {
		st.trace("memory_retrieve", "skipped", nil)
		return
	}
	topK := payload.TopK
	if topK < 1 {
		topK = 5
	}

	seen := make(map[string]bool)
	scopeCounts := make(map[string]int)
	add := func(scope string, records []memory.Record) {
		for _, record := range records {
			if len(st.memories) >= topK || seen[record.Text] {
				continue
			}
			seen[record.Text] = true
			st.memories = append(st.memories, record)
			scopeCounts[scope]++
		}
	}
	add("session", s.memSvc.Search(ctx, payload.UserID, memory.LevelSession, fmt.Sprint(st.session.ID), query, topK))
	if payload.TripID > 0 {
		add("trip", s.memSvc.Search(ctx, payload.UserID, memory.LevelTrip, fmt.Sprint(payload.TripID), query, topK))
	}
	add("user", s.memSvc.Search(ctx, payload.UserID, memory.LevelUser, "", query, topK))

	st.trace("memory_retrieve", "ok", map[string]any{
		"count":  len(st.memories),
		"scopes": scopeCounts,
	})
}

// runTools normalizes slots into tool arguments and executes at most one
// tool. Missing required slots produce a skipped trace, never an error.
func (s *Service) runTools(ctx context.Context, payload ChatPayload, query string, st *turnState) {
	call := tools.CallContext{UserID: payload.UserID, TripID: payload.TripID}

	switch st.route.Intent {
	case IntentPoiNearby:
		if payload.Lat == nil || payload.Lng == nil {
			st.trace("tool_args_normalize", "skipped", map[string]any{"reason": "missing_location"})
			return
		}
		args := tools.Args{"lat": *payload.Lat, "lng": *payload.Lng, "limit": 10}
		poiType := payload.PoiType
		if poiType == "" {
			poiType = st.route.PoiType
		}
		if poiType != "" {
			args["type"] = poiType
		}
		if payload.PoiRadius > 0 {
			args["radius"] = payload.PoiRadius
		}
		s.invokeTool(ctx, "poi_around", call, args, st)

	case IntentTripQuery:
		s.invokeTool(ctx, "trip_query", call, tools.Args{}, st)

	case IntentWeather:
		s.runWeather(ctx, call, st)

	case IntentNavigation:
		nav := st.route.Nav
		if nav == nil || nav.Origin == "" || nav.Destination == "" {
			st.trace("tool_args_normalize", "skipped", map[string]any{"reason": "missing_route"})
			return
		}
		args := tools.Args{
			"routes":      []any{map[string]any{"origin": nav.Origin, "destination": nav.Destination}},
			"travel_mode": "driving",
			"strategy":    0,
		}
		s.invokeTool(ctx, "path_navigate", call, args, st)

	default:
		st.trace("tool_args_normalize", "skipped", map[string]any{"reason": "no_tool_for_intent"})
	}
}

func (s *Service) runWeather(ctx context.Context, call tools.CallContext, st *turnState) {
	slots := st.route.Weather
	if slots == nil || len(slots.Locations) == 0 {
		st.directAnswer = "想查询哪个城市/地区的天气？例如：明天广州天气怎么样。"
		st.trace("tool_args_normalize", "skipped", map[string]any{"reason": "missing_location"})
		return
	}
	offset := slots.DayOffset
	if offset < 0 && slots.TargetDate != nil {
		st.directAnswer = fmt.Sprintf("你查询的日期（%s）早于今天，无法提供预报。",
			slots.TargetDate.Format("2006-01-02"))
		st.trace("tool_args_normalize", "skipped", map[string]any{"reason": "date_in_past"})
		return
	}
	if offset > 3 {
		st.directAnswer = fmt.Sprintf("目前仅支持查询未来 4 天内的天气预报；你请求的是 %s。",
			slots.TargetDate.Format("2006-01-02"))
		st.trace("tool_args_normalize", "skipped", map[string]any{"reason": "date_out_of_range"})
		return
	}
	if offset < 0 {
		offset = 0
	}
	days := offset + 1
	if days > 4 {
		days = 4
	}
	args := tools.Args{
		"locations":    []any{slots.Locations[0]},
		"weather_type": "forecast",
		"days":         days,
	}
	s.invokeTool(ctx, "weather_area", call, args, st)
	if st.toolResult != nil {
		st.directAnswer = formatWeatherAnswer(slots.Locations[0], offset, st.toolResult)
	}
}

func (s *Service) invokeTool(ctx context.Context, name string, call tools.CallContext, args tools.Args, st *turnState) {
	result, trace := s.tools.Invoke(ctx, name, call, args)
	st.traces = append(st.traces, trace)
	st.selectedTool = name
	if trace.Status == "ok" {
		st.toolResult = result
	}
}

// composeAnswer produces the final answer: direct answers skip the LLM
// entirely, otherwise exactly one completion call runs per turn.
func (s *Service) composeAnswer(ctx context.Context, query string, st *turnState, traceID string) {
	if st.directAnswer != "" {
		st.answer = st.directAnswer
		st.trace("answer_compose", "skipped", map[string]any{"reason": "answer_prepared"})
		return
	}

	system := ""
	if s.prompts != nil {
		system = s.prompts.Content(ctx, prompt.KeyAssistantFormatter)
	}
	contextText := s.buildContextText(st)
	messages := make([]llm.Message, 0, 2)
	if system != "" {
		messages = append(messages, llm.Message{Role: "system", Content: system})
	}
	messages = append(messages, llm.Message{
		Role:    "user",
		Content: fmt.Sprintf("用户提问: %s\n可用上下文:\n%s", query, contextText),
	})

	fallback := s.fallbackAnswer(st)
	result, err := s.client.Chat(ctx, llm.ChatRequest{
		Messages: messages,
		TimeoutS: s.cfg.AssistantTurnTimeoutS,
	}, nil)
	if err != nil {
		s.logger.Warn("answer compose degraded (trace=%s): %v", traceID, err)
		st.answer = fallback
		st.trace("answer_compose", "failed", map[string]any{"error": apperr.Normalize(err).Kind})
		return
	}
	st.aiMeta = map[string]any{
		"provider":     result.Provider,
		"model":        result.Model,
		"latency_ms":   result.LatencyMS,
		"usage_tokens": result.UsageTokens,
		"trace_id":     result.TraceID,
	}
	answer := strings.TrimSpace(result.Content)
	if result.Provider == "mock" || strings.HasPrefix(answer, "mock:") || answer == "" {
		answer = fallback
	}
	st.answer = answer
	st.trace("answer_compose", "ok", map[string]any{
		"used_tool":   st.toolResult != nil,
		"used_memory": len(st.memories),
	})
}

func (s *Service) buildContextText(st *turnState) string {
	var blocks []string
	if len(st.memories) > 0 {
		var lines []string
		for _, record := range st.memories {
			lines = append(lines, "- "+record.Text)
		}
		blocks = append(blocks, "相关记忆：\n"+strings.Join(lines, "\n"))
	}
	if st.toolResult != nil {
		blocks = append(blocks, "工具结果（"+st.selectedTool+"）：\n"+s.fallbackAnswer(st))
	}
	if len(st.history) > 0 {
		var lines []string
		for _, msg := range st.history {
			lines = append(lines, fmt.Sprintf("%s: %s", msg.Role, msg.Content))
		}
		blocks = append(blocks, "历史对话：\n"+strings.Join(lines, "\n"))
	}
	if len(blocks) == 0 {
		return "无额外上下文"
	}
	return strings.Join(blocks, "\n\n")
}

// fallbackAnswer builds a deterministic answer from whatever the tools
// produced, used when the LLM is mocked or unavailable.
func (s *Service) fallbackAnswer(st *turnState) string {
	if st.toolResult == nil {
		return "抱歉，暂时无法生成回答。"
	}
	switch st.selectedTool {
	case "poi_around":
		return formatPoiAnswer(st.toolResult)
	case "trip_query":
		return formatTripAnswer(st.toolResult)
	case "path_navigate":
		return formatNavAnswer(st.toolResult)
	case "weather_area":
		if st.route.Weather != nil && len(st.route.Weather.Locations) > 0 {
			offset := st.route.Weather.DayOffset
			if offset < 0 {
				offset = 0
			}
			return formatWeatherAnswer(st.route.Weather.Locations[0], offset, st.toolResult)
		}
	}
	return "抱歉，暂时无法生成回答。"
}

func formatPoiAnswer(result map[string]any) string {
	pois, _ := result["pois"].([]map[string]any)
	if len(pois) == 0 {
		return "附近没有找到合适的地点，可以换个范围或类型再试。"
	}
	lines := []string{fmt.Sprintf("为你找到 %d 个相关地点：", len(pois))}
	for i, poi := range pois {
		if i >= 5 {
			break
		}
		name, _ := poi["name"].(string)
		category, _ := poi["category"].(string)
		addr, _ := poi["addr"].(string)
		line := fmt.Sprintf("%d. %s", i+1, name)
		if category != "" {
			line += "（" + category + "）"
		}
		if addr != "" {
			line += " " + addr
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func formatTripAnswer(result map[string]any) string {
	if found, _ := result["found"].(bool); !found {
		return "还没有找到你的行程，可以先创建一个行程规划。"
	}
	title, _ := result["title"].(string)
	if message, _ := result["message"].(string); message != "" {
		return title + "：" + message
	}
	destination, _ := result["destination"].(string)
	start, _ := result["start_date"].(string)
	end, _ := result["end_date"].(string)
	dayCount, _ := result["day_count"].(int)
	lines := []string{fmt.Sprintf("当前行程「%s」：%s，%s 至 %s，共 %d 天。", title, destination, start, end, dayCount)}
	if days, ok := result["days"].([]map[string]any); ok {
		for _, day := range days {
			idx, _ := day["day_index"].(int)
			subs, _ := day["sub_trips"].([]map[string]any)
			var acts []string
			for _, st := range subs {
				if activity, _ := st["activity"].(string); activity != "" {
					acts = append(acts, activity)
				}
			}
			if len(acts) > 0 {
				lines = append(lines, fmt.Sprintf("第 %d 天：%s", idx+1, strings.Join(acts, "、")))
			}
		}
	}
	return strings.Join(lines, "\n")
}

func formatNavAnswer(result map[string]any) string {
	routes, _ := result["routes"].([]map[string]any)
	if len(routes) == 0 {
		return "暂时无法规划这条路线。"
	}
	var lines []string
	for _, route := range routes {
		origin, _ := route["origin"].(string)
		destination, _ := route["destination"].(string)
		distance, _ := route["distance_km"].(float64)
		duration, _ := route["duration_min"].(float64)
		mode, _ := route["travel_mode"].(string)
		lines = append(lines, fmt.Sprintf("%s → %s：约 %.1f 公里，%s 预计 %.0f 分钟。",
			origin, destination, distance, mode, duration))
	}
	return strings.Join(lines, "\n")
}

func formatWeatherAnswer(location string, offset int, result map[string]any) string {
	label := dayLabels[offset]
	if label == "" {
		label = "当天"
	}
	unavailable := fmt.Sprintf("%s%s的天气预报暂不可用。", location, label)

	results, _ := result["results"].([]map[string]any)
	if len(results) == 0 {
		return unavailable
	}
	first := results[0]
	forecast, _ := first["forecast"].([]map[string]any)
	if len(forecast) == 0 {
		return unavailable
	}
	cast := forecast[0]
	if offset >= 0 && offset < len(forecast) {
		cast = forecast[offset]
	}

	dateText, _ := cast["date"].(string)
	dayWeather := stringField(cast, "dayweather", "day_weather")
	nightWeather := stringField(cast, "nightweather", "night_weather")
	high := stringField(cast, "daytemp", "high_c", "high")
	low := stringField(cast, "nighttemp", "low_c", "low")

	lines := []string{fmt.Sprintf("%s%s（%s）的天气预报如下：", location, label, dateText)}
	switch {
	case dayWeather != "" && nightWeather != "" && dayWeather != nightWeather:
		lines = append(lines, fmt.Sprintf("天气情况：白天%s，夜间%s", dayWeather, nightWeather))
	case dayWeather != "":
		lines = append(lines, "天气情况："+dayWeather)
	case nightWeather != "":
		lines = append(lines, "天气情况："+nightWeather)
	}
	if high != "" {
		lines = append(lines, fmt.Sprintf("最高气温：约 %s °C", high))
	}
	if low != "" {
		lines = append(lines, fmt.Sprintf("最低气温：约 %s °C", low))
	}
	return strings.Join(lines, "\n")
}

func stringField(m map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := m[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case fmt.Stringer:
			return v.String()
		}
	}
	return ""
}

// persistTurn appends both turn messages atomically.
func (s *Service) persistTurn(ctx context.Context, query string, st *turnState) error {
	userMsg := Message{Role: "user", Content: query, Intent: st.route.Intent}
	aiMsg := Message{Role: "assistant", Content: st.answer, Intent: st.route.Intent, Meta: st.aiMeta}
	if err := s.store.AppendTurn(ctx, st.session.ID, userMsg, aiMsg); err != nil {
		return apperr.Wrap(apperr.KindPersistenceFailed, "persist turn", err)
	}
	st.trace("persist", "ok", nil)
	return nil
}

func (s *Service) writeTurnMemory(ctx context.Context, payload ChatPayload, query string, st *turnState) string {
	if s.memSvc == nil {
		return ""
	}
	metadata := map[string]any{
		"source":     "assistant_v1",
		"session_id": st.session.ID,
	}
	if payload.TripID > 0 {
		metadata["trip_id"] = payload.TripID
	}
	text := fmt.Sprintf("Q: %s\nA: %s", query, st.answer)
	return s.memSvc.Write(ctx, payload.UserID, memory.LevelSession, fmt.Sprint(st.session.ID), text, metadata)
}

// streamAnswer delivers the composed answer in fixed-size rune chunks
// with strictly increasing contiguous indexes.
func (s *Service) streamAnswer(answer, traceID string, onChunk llm.StreamFunc) {
	size := s.cfg.AssistantStreamChunkChars
	if size < 1 {
		size = 40
	}
	runes := []rune(answer)
	if len(runes) == 0 {
		onChunk(llm.StreamChunk{TraceID: traceID, Index: 0, Delta: "", Done: true})
		return
	}
	index := 0
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		onChunk(llm.StreamChunk{
			TraceID: traceID,
			Index:   index,
			Delta:   string(runes[start:end]),
			Done:    end == len(runes),
		})
		index++
	}
}
