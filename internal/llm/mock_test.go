package llm

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"travelist/internal/metrics"
)

func TestMockClientEchoesPlainPrompts(t *testing.T) {
	reg := metrics.NewRegistry(nil)
	client := NewMockClient("", reg)

	var chunks []StreamChunk
	result, err := client.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "你好"}},
	}, func(c StreamChunk) { chunks = append(chunks, c) })
	require.NoError(t, err)

	assert.Equal(t, "mock:你好", result.Content)
	assert.Equal(t, "mock", result.Provider)
	require.Len(t, chunks, 1)
	assert.True(t, chunks[0].Done)

	snap := reg.AI.Snapshot()
	assert.Equal(t, int64(1), snap["ai_calls_total"])
}

func TestMockClientPlanDayUsesCandidates(t *testing.T) {
	prompt := map[string]any{
		"task":        "plan_day",
		"day_index":   1,
		"date":        "2025-12-02",
		"destination": "广州",
		"preferences": map[string]any{"interests": []string{"food", "sight"}},
		"candidate_pois": []map[string]any{
			{"provider": "mock", "provider_id": "sight-0", "name": "老城", "category": "sight", "lat": 23.1, "lng": 113.2},
			{"provider": "mock", "provider_id": "food-0", "name": "小馆", "category": "food", "lat": 23.2, "lng": 113.3},
		},
		"used_pois": []map[string]any{
			{"provider": "mock", "provider_id": "food-1"},
		},
	}
	raw, err := json.Marshal(prompt)
	require.NoError(t, err)

	client := NewMockClient("", nil)
	result, err := client.Chat(context.Background(), ChatRequest{
		Messages:       []Message{{Role: "user", Content: string(raw)}},
		ResponseFormat: "json",
	}, nil)
	require.NoError(t, err)

	var day struct {
		DayIndex int    `json:"day_index"`
		Date     string `json:"date"`
		SubTrips []struct {
			OrderIndex int    `json:"order_index"`
			Activity   string `json:"activity"`
			PoiID      string `json:"poi_id"`
			LocName    string `json:"loc_name"`
			StartTime  string `json:"start_time"`
		} `json:"sub_trips"`
	}
	require.NoError(t, json.Unmarshal([]byte(result.Content), &day))

	assert.Equal(t, 1, day.DayIndex)
	assert.Equal(t, "2025-12-02", day.Date)
	require.Len(t, day.SubTrips, 2)
	// First interest is food, so the morning slot picks the food POI.
	assert.Equal(t, "mock:food-0", day.SubTrips[0].PoiID)
	assert.Equal(t, "美食探索", day.SubTrips[0].Activity)
	assert.Equal(t, "mock:sight-0", day.SubTrips[1].PoiID)
}

func TestDecodeJSONRepairsFencedOutput(t *testing.T) {
	var v map[string]any
	require.NoError(t, DecodeJSON("```json\n{\"a\": 1,}\n```", &v))
	assert.Equal(t, float64(1), v["a"])

	err := DecodeJSON("definitely not json at all {{{", &map[string]any{})
	if err != nil {
		assert.Equal(t, ErrInvalidOutput, ErrorType(err))
	}
}

func TestErrorTypeClassification(t *testing.T) {
	assert.Equal(t, "", ErrorType(nil))
	assert.Equal(t, ErrTimeout, ErrorType(NewError(ErrTimeout, "x")))
	assert.Equal(t, "internal", ErrorType(assert.AnError))
}
