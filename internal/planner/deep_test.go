package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"travelist/internal/apperr"
	"travelist/internal/config"
	"travelist/internal/llm"
	"travelist/internal/schema"
)

func newDeepPlanner(t *testing.T, cfg *config.Config, client llm.Client) *DeepPlanner {
	t.Helper()
	return NewDeepPlanner(cfg, newFastPlanner(t, cfg), client, nil, nil)
}

func TestDeepPlanHappyPath(t *testing.T) {
	cfg := config.Default()
	p := newDeepPlanner(t, cfg, llm.NewMockClient("", nil))

	plan, planMetrics, err := p.Plan(context.Background(), fastRequest(2))
	require.NoError(t, err)
	assert.Equal(t, 2, plan.DayCount)
	require.Len(t, plan.DayCards, 2)

	for i, day := range plan.DayCards {
		assert.Equal(t, i, day.DayIndex)
		require.Len(t, day.SubTrips, 2)
	}

	assert.Equal(t, DeepPlannerVersion, planMetrics["planner"])
	assert.Equal(t, false, planMetrics["fallback_to_fast"])
	assert.GreaterOrEqual(t, planMetrics["llm_calls"].(int), 2)
	assert.NotContains(t, planMetrics, "fallback")

	planner := plan.Meta["planner"].(map[string]any)
	assert.Equal(t, DeepPlannerVersion, planner["rules_version"])
}

func TestDeepPlanUniquePoisAcrossDays(t *testing.T) {
	cfg := config.Default()
	p := newDeepPlanner(t, cfg, llm.NewMockClient("", nil))

	plan, _, err := p.Plan(context.Background(), fastRequest(2))
	require.NoError(t, err)

	seen := make(map[string]bool)
	for _, day := range plan.DayCards {
		for _, st := range day.SubTrips {
			if st.PoiKey == "" {
				continue
			}
			assert.False(t, seen[st.PoiKey], "poi %s reused", st.PoiKey)
			seen[st.PoiKey] = true
		}
	}
}

func TestDeepPlanFallsBackPerDay(t *testing.T) {
	cfg := config.Default()
	p := newDeepPlanner(t, cfg, erroringClient{})

	plan, planMetrics, err := p.Plan(context.Background(), fastRequest(2))
	require.NoError(t, err)
	require.Len(t, plan.DayCards, 2)

	fallback := planMetrics["fallback"].(map[string]any)
	assert.Equal(t, []int{0, 1}, fallback["partial_days"])
	assert.Equal(t, 2*cfg.PlanDeepRetries, planMetrics["llm_retries"])
}

func TestDeepPlanFailsWhenFallbackDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.PlanDeepFallbackToFast = false
	p := newDeepPlanner(t, cfg, erroringClient{})

	_, _, err := p.Plan(context.Background(), fastRequest(2))
	assert.True(t, apperr.IsKind(err, apperr.KindDeepPlanFailed))
}

func TestDeepPlanDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.PlanDeepEnabled = false
	p := newDeepPlanner(t, cfg, llm.NewMockClient("", nil))

	_, _, err := p.Plan(context.Background(), fastRequest(1))
	assert.True(t, apperr.IsKind(err, apperr.KindDeepUnsupported))
}

func TestDeepPlanRejectsTooManyDays(t *testing.T) {
	cfg := config.Default()
	p := newDeepPlanner(t, cfg, llm.NewMockClient("", nil))

	_, _, err := p.Plan(context.Background(), fastRequest(cfg.PlanDeepMaxDays+1))
	assert.True(t, apperr.IsKind(err, apperr.KindRangeExceeded))
}

func TestAppendBoundedSummary(t *testing.T) {
	var summaries []daySummary
	for i := 0; i < 5; i++ {
		summaries = appendBoundedSummary(summaries, daySummary{DayIndex: i}, 3, 0)
	}
	require.Len(t, summaries, 3)
	assert.Equal(t, 2, summaries[0].DayIndex)
	assert.Equal(t, 4, summaries[2].DayIndex)
}

func TestOffendingDay(t *testing.T) {
	issues := schema.Issues{
		{Kind: schema.IssueRange, Path: "day_cards[2].sub_trips[0].start_time", Msg: "out of window"},
	}
	assert.Equal(t, 2, offendingDay(issues))
	assert.Equal(t, -1, offendingDay(schema.Issues{{Path: "title", Msg: "missing"}}))
}

type erroringClient struct{}

func (erroringClient) Chat(context.Context, llm.ChatRequest, llm.StreamFunc) (*llm.ChatResult, error) {
	return nil, errors.New("model unavailable")
}
