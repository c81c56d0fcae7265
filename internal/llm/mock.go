package llm

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"travelist/internal/logging"
	"travelist/internal/metrics"
)

// MockClient is the deterministic in-process provider used in tests and
// local development. Plain prompts echo as "mock:<prompt>"; json-format
// prompts carrying a plan_day task produce a well-formed day card built
// from the supplied candidate POIs.
type MockClient struct {
	model   string
	metrics *metrics.Registry
}

// NewMockClient builds the mock provider. metricsReg may be nil.
func NewMockClient(model string, metricsReg *metrics.Registry) *MockClient {
	if model == "" {
		model = "mock-chat"
	}
	return &MockClient{model: model, metrics: metricsReg}
}

func (c *MockClient) Chat(ctx context.Context, req ChatRequest, onChunk StreamFunc) (*ChatResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, WrapError(ErrCancelled, "request cancelled", err)
	}
	start := time.Now()
	traceID := logging.NewTraceID("ai")

	prompt := ""
	if len(req.Messages) > 0 {
		prompt = req.Messages[len(req.Messages)-1].Content
	}

	var answer string
	if req.ResponseFormat == "json" {
		answer = mockJSONResponse(prompt)
	} else {
		answer = "mock:" + prompt
	}

	if onChunk != nil {
		onChunk(StreamChunk{TraceID: traceID, Index: 0, Delta: answer, Done: true})
	}

	result := &ChatResult{
		Content:     answer,
		Provider:    "mock",
		Model:       c.model,
		LatencyMS:   float64(time.Since(start).Microseconds()) / 1000.0,
		UsageTokens: CountTokens(answer),
		TraceID:     traceID,
	}
	if c.metrics != nil {
		c.metrics.RecordAICall(traceID, "mock", c.model, result.LatencyMS, true, "", result.UsageTokens)
	}
	return result, nil
}

type mockPoi struct {
	Provider   string  `json:"provider"`
	ProviderID string  `json:"provider_id"`
	Name       string  `json:"name"`
	Category   string  `json:"category"`
	Addr       string  `json:"addr"`
	Rating     float64 `json:"rating"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
}

func (p mockPoi) key() string { return p.Provider + ":" + p.ProviderID }

type mockPlanDayPrompt struct {
	Task        string `json:"task"`
	DayIndex    int    `json:"day_index"`
	Date        string `json:"date"`
	Destination string `json:"destination"`
	Preferences struct {
		Interests []string `json:"interests"`
	} `json:"preferences"`
	CandidatePois []mockPoi `json:"candidate_pois"`
	UsedPois      []mockPoi `json:"used_pois"`
}

// mockJSONResponse returns deterministic JSON. Prompts that decode to a
// plan_day task yield a two-slot day card; anything else echoes.
func mockJSONResponse(prompt string) string {
	var payload mockPlanDayPrompt
	if err := json.Unmarshal([]byte(prompt), &payload); err != nil || payload.Task != "plan_day" {
		out, _ := json.Marshal(map[string]any{"mock": true, "echo": prompt})
		return string(out)
	}

	used := make(map[string]bool, len(payload.UsedPois))
	for _, poi := range payload.UsedPois {
		if poi.Provider != "" && poi.ProviderID != "" {
			used[poi.key()] = true
		}
	}

	pick := func(category string) *mockPoi {
		for i, poi := range payload.CandidatePois {
			if poi.Provider == "" || poi.ProviderID == "" || used[poi.key()] {
				continue
			}
			if category != "" && !strings.EqualFold(poi.Category, category) {
				continue
			}
			return &payload.CandidatePois[i]
		}
		for i, poi := range payload.CandidatePois {
			if poi.Provider == "" || poi.ProviderID == "" || used[poi.key()] {
				continue
			}
			return &payload.CandidatePois[i]
		}
		return nil
	}

	interests := make([]string, 0, len(payload.Preferences.Interests))
	for _, raw := range payload.Preferences.Interests {
		if interest := strings.ToLower(strings.TrimSpace(raw)); interest != "" {
			interests = append(interests, interest)
		}
	}
	firstCat, secondCat := "", ""
	if len(interests) > 0 {
		firstCat = interests[0]
		secondCat = firstCat
	}
	if len(interests) > 1 {
		secondCat = interests[1]
	}

	poi1 := pick(firstCat)
	if poi1 != nil {
		used[poi1.key()] = true
	}
	poi2 := pick(secondCat)

	date := payload.Date
	if date == "" {
		date = "2025-01-01"
	}
	destination := payload.Destination
	if destination == "" {
		destination = "目的地"
	}

	day := map[string]any{
		"day_index": payload.DayIndex,
		"date":      date,
		"sub_trips": []map[string]any{
			mockSubTrip(0, "morning", "09:00", "11:00", poi1, destination),
			mockSubTrip(1, "afternoon", "14:00", "16:00", poi2, destination),
		},
	}
	out, _ := json.Marshal(day)
	return string(out)
}

var mockActivities = map[string]string{
	"food":   "美食探索",
	"sight":  "景点游览",
	"museum": "博物馆参观",
	"park":   "公园漫步",
}

func mockSubTrip(orderIndex int, slot, start, end string, poi *mockPoi, destination string) map[string]any {
	activity := "自由探索"
	locName := destination
	ext := map[string]any{"slot": slot, "planner": map[string]any{"mock": true}}
	st := map[string]any{
		"order_index": orderIndex,
		"activity":    activity,
		"loc_name":    locName,
		"start_time":  start,
		"end_time":    end,
		"ext":         ext,
	}
	if poi != nil {
		if named, ok := mockActivities[strings.ToLower(poi.Category)]; ok {
			st["activity"] = named
		}
		st["loc_name"] = poi.Name
		st["poi_id"] = poi.key()
		st["lat"] = poi.Lat
		st["lng"] = poi.Lng
		ext["poi"] = map[string]any{
			"provider":    poi.Provider,
			"provider_id": poi.ProviderID,
			"category":    poi.Category,
			"addr":        poi.Addr,
			"rating":      poi.Rating,
			"name":        poi.Name,
		}
	}
	return st
}
