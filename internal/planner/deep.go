package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"travelist/internal/apperr"
	"travelist/internal/config"
	"travelist/internal/llm"
	"travelist/internal/logging"
	"travelist/internal/memory"
	"travelist/internal/schema"
)

// DeepPlannerVersion tags plans enriched by the per-day LLM loop.
const DeepPlannerVersion = "deep_llm_v1"

// DeepPlanner runs bounded LLM generation on top of a fast skeleton.
type DeepPlanner struct {
	cfg    *config.Config
	fast   *FastPlanner
	client llm.Client
	memSvc *memory.Service
	valid  *schema.Validator
	logger logging.Logger
}

// NewDeepPlanner wires the deep planner. memSvc may be nil.
func NewDeepPlanner(cfg *config.Config, fast *FastPlanner, client llm.Client, memSvc *memory.Service, logger logging.Logger) *DeepPlanner {
	return &DeepPlanner{
		cfg:    cfg,
		fast:   fast,
		client: client,
		memSvc: memSvc,
		valid:  schema.NewValidator(),
		logger: logging.OrNop(logger),
	}
}

// daySummary is the bounded context carried between accepted days.
type daySummary struct {
	DayIndex   int      `json:"day_index"`
	Date       string   `json:"date"`
	Highlights []string `json:"highlights"`
	UsedPois   []string `json:"used_pois"`
}

// candidateView is the POI shape embedded into the per-day prompt.
type candidateView struct {
	Provider   string  `json:"provider"`
	ProviderID string  `json:"provider_id"`
	Name       string  `json:"name"`
	Category   string  `json:"category"`
	Addr       string  `json:"addr"`
	Rating     float64 `json:"rating"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
}

// Plan enriches a fast skeleton day by day. The returned metrics include
// token and latency accounting plus fallback flags.
func (p *DeepPlanner) Plan(ctx context.Context, req *schema.PlanRequest) (*schema.TripPlan, map[string]any, error) {
	if !p.cfg.PlanDeepEnabled {
		return nil, nil, apperr.New(apperr.KindDeepUnsupported, "deep planning is disabled")
	}
	dayCount := req.DayCount()
	maxDays := p.cfg.PlanDeepMaxDays
	if maxDays > 0 && dayCount > maxDays {
		return nil, nil, apperr.Newf(apperr.KindRangeExceeded, "deep mode supports at most %d days", maxDays)
	}

	started := time.Now()
	skeleton, fastMetrics, err := p.fast.Plan(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	candidates := p.candidatePool(skeleton)
	interests := req.Preferences.NormalizedInterests()

	metrics := map[string]any{
		"planner":        DeepPlannerVersion,
		"prompt_version": p.cfg.PlanDeepPromptVersion,
		"day_count":      dayCount,
		"seed_planner":   fastMetrics["planner"],
	}
	if center, ok := fastMetrics["destination_center"]; ok {
		metrics["destination_center"] = center
	}
	var (
		llmCalls     int
		llmRetries   int
		tokensTotal  int
		llmLatencyMS float64
		partialDays  []int
		summaries    []daySummary
		usedPois     = make(map[string]bool)
		acceptedDays = make([]schema.DayCardPlan, 0, dayCount)
	)

	dayStartMin, _ := schema.ParseClock(p.cfg.PlanDefaultDayStart)
	dayEndMin, _ := schema.ParseClock(p.cfg.PlanDefaultDayEnd)

	proposeDay := func(dayIdx int) (schema.DayCardPlan, bool) {
		attempts := p.cfg.PlanDeepRetries + 1
		if attempts < 1 {
			attempts = 1
		}
		for attempt := 0; attempt < attempts; attempt++ {
			if attempt > 0 {
				llmRetries++
			}
			day, callMetrics, err := p.proposeDay(ctx, req, dayIdx, candidates, interests, summaries, usedPois)
			llmCalls++
			tokensTotal += callMetrics.tokens
			llmLatencyMS += callMetrics.latencyMS
			if err != nil {
				p.logger.Warn("deep day %d attempt %d failed: %v", dayIdx, attempt+1, err)
				continue
			}
			issues := p.valid.ValidateDay(*day, schema.ValidateContext{
				StartDate:   req.StartDate,
				DayCount:    dayCount,
				DayStartMin: dayStartMin,
				DayEndMin:   dayEndMin,
				UsedPoiKeys: poisForValidation(usedPois, p.cfg.PlanRequireUniquePois),
			})
			if !issues.OK() {
				p.logger.Warn("deep day %d attempt %d invalid: %s", dayIdx, attempt+1, issues.Error())
				continue
			}
			return *day, true
		}
		return schema.DayCardPlan{}, false
	}

	for dayIdx := 0; dayIdx < dayCount; dayIdx++ {
		day, ok := proposeDay(dayIdx)
		if !ok {
			if !p.cfg.PlanDeepFallbackToFast {
				return nil, nil, apperr.Newf(apperr.KindDeepPlanFailed, "day %d failed after retries", dayIdx)
			}
			day = skeleton.DayCards[dayIdx]
			partialDays = append(partialDays, dayIdx)
		}
		acceptedDays = append(acceptedDays, day)
		for _, st := range day.SubTrips {
			if st.PoiKey != "" {
				usedPois[st.PoiKey] = true
			}
		}
		summaries = appendBoundedSummary(summaries, summarizeDay(day), p.cfg.PlanDeepContextMaxDays, p.cfg.PlanDeepContextMaxChars)
	}

	plan := &schema.TripPlan{
		Title:       skeleton.Title,
		Destination: skeleton.Destination,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		DayCount:    dayCount,
		DayCards:    acceptedDays,
		Meta: map[string]any{
			"planner": map[string]any{
				"mode":           schema.ModeDeep,
				"rules_version":  DeepPlannerVersion,
				"prompt_version": p.cfg.PlanDeepPromptVersion,
				"interests":      interests,
			},
		},
	}

	fallbackToFast := false
	globalIssues := p.valid.ValidateTrip(plan, schema.ValidateContext{
		StartDate:         req.StartDate,
		DayCount:          dayCount,
		DayStartMin:       dayStartMin,
		DayEndMin:         dayEndMin,
		RequireUniquePois: p.cfg.PlanRequireUniquePois,
	})
	if !globalIssues.OK() {
		// Single-day repair: retry the first offending day once, then
		// give up and use the skeleton wholesale.
		if repaired := p.repairOneDay(ctx, req, plan, globalIssues, candidates, interests, &llmCalls, &tokensTotal, &llmLatencyMS); !repaired {
			if !p.cfg.PlanDeepFallbackToFast {
				return nil, nil, apperr.Newf(apperr.KindDeepPlanFailed, "plan invalid: %s", globalIssues.Error())
			}
			plan = skeleton
			fallbackToFast = true
		}
	}

	metrics["llm_calls"] = llmCalls
	metrics["llm_retries"] = llmRetries
	metrics["llm_tokens_total"] = tokensTotal
	metrics["llm_latency_ms"] = round1(llmLatencyMS)
	metrics["latency_ms"] = round1(float64(time.Since(started).Microseconds()) / 1000.0)
	metrics["fallback_to_fast"] = fallbackToFast
	if len(partialDays) > 0 {
		metrics["fallback"] = map[string]any{"partial_days": partialDays}
	}

	p.writeMemorySummary(ctx, req, plan)
	return plan, metrics, nil
}

type callMetrics struct {
	tokens    int
	latencyMS float64
}

// proposeDay issues one plan_day LLM call and decodes the day card.
func (p *DeepPlanner) proposeDay(ctx context.Context, req *schema.PlanRequest, dayIdx int, candidates []candidateView, interests []string, summaries []daySummary, usedPois map[string]bool) (*schema.DayCardPlan, callMetrics, error) {
	prompt := map[string]any{
		"task":        "plan_day",
		"day_index":   dayIdx,
		"date":        req.StartDate.AddDays(dayIdx).String(),
		"destination": req.Destination,
		"preferences": map[string]any{"interests": interests},
		"candidate_pois": boundCandidates(candidates, p.cfg.PlanDeepMaxPois),
		"used_pois":      usedCandidates(candidates, usedPois),
		"context_days":   summaries,
		"instruction": "仅输出一个 JSON 对象，表示该天的行程卡片：" +
			`{"day_index": n, "date": "YYYY-MM-DD", "sub_trips": [...]}，不要输出任何解释文字。`,
	}
	raw, err := json.Marshal(prompt)
	if err != nil {
		return nil, callMetrics{}, err
	}

	model := p.cfg.PlanDeepModel
	if model == "" {
		model = p.cfg.AIModel
	}
	result, err := p.client.Chat(ctx, llm.ChatRequest{
		Messages:       []llm.Message{{Role: "user", Content: string(raw)}},
		Model:          model,
		Temperature:    p.cfg.PlanDeepTemperature,
		MaxTokens:      p.cfg.PlanDeepMaxTokens,
		TimeoutS:       p.cfg.PlanDeepTimeoutS,
		ResponseFormat: "json",
	}, nil)
	if err != nil {
		return nil, callMetrics{}, err
	}
	cm := callMetrics{tokens: result.UsageTokens, latencyMS: result.LatencyMS}

	var day schema.DayCardPlan
	if err := llm.DecodeJSON(result.Content, &day); err != nil {
		return nil, cm, err
	}
	return &day, cm, nil
}

// repairOneDay retries the first day named in the issues once.
func (p *DeepPlanner) repairOneDay(ctx context.Context, req *schema.PlanRequest, plan *schema.TripPlan, issues schema.Issues, candidates []candidateView, interests []string, llmCalls, tokensTotal *int, llmLatencyMS *float64) bool {
	dayIdx := offendingDay(issues)
	if dayIdx < 0 || dayIdx >= len(plan.DayCards) {
		return false
	}
	usedElsewhere := make(map[string]bool)
	for i, day := range plan.DayCards {
		if i == dayIdx {
			continue
		}
		for _, st := range day.SubTrips {
			if st.PoiKey != "" {
				usedElsewhere[st.PoiKey] = true
			}
		}
	}
	day, cm, err := p.proposeDay(ctx, req, dayIdx, candidates, interests, nil, usedElsewhere)
	*llmCalls++
	*tokensTotal += cm.tokens
	*llmLatencyMS += cm.latencyMS
	if err != nil {
		return false
	}

	dayStartMin, _ := schema.ParseClock(p.cfg.PlanDefaultDayStart)
	dayEndMin, _ := schema.ParseClock(p.cfg.PlanDefaultDayEnd)
	dayIssues := p.valid.ValidateDay(*day, schema.ValidateContext{
		StartDate:   req.StartDate,
		DayCount:    plan.DayCount,
		DayStartMin: dayStartMin,
		DayEndMin:   dayEndMin,
		UsedPoiKeys: poisForValidation(usedElsewhere, p.cfg.PlanRequireUniquePois),
	})
	if !dayIssues.OK() {
		return false
	}
	plan.DayCards[dayIdx] = *day

	global := p.valid.ValidateTrip(plan, schema.ValidateContext{
		StartDate:         req.StartDate,
		DayCount:          plan.DayCount,
		DayStartMin:       dayStartMin,
		DayEndMin:         dayEndMin,
		RequireUniquePois: p.cfg.PlanRequireUniquePois,
	})
	return global.OK()
}

// offendingDay extracts the first day index mentioned in an issue path.
func offendingDay(issues schema.Issues) int {
	for _, issue := range issues {
		var idx int
		if n, err := fmt.Sscanf(issue.Path, "day_cards[%d]", &idx); err == nil && n == 1 {
			return idx
		}
	}
	return -1
}

// candidatePool rebuilds the prompt-facing candidate list from the
// skeleton's sub-trip annotations so deep mode sees exactly the pool the
// fast planner grounded on.
func (p *DeepPlanner) candidatePool(skeleton *schema.TripPlan) []candidateView {
	seen := make(map[string]bool)
	pool := make([]candidateView, 0)
	for _, day := range skeleton.DayCards {
		for _, st := range day.SubTrips {
			if st.PoiKey == "" || seen[st.PoiKey] {
				continue
			}
			seen[st.PoiKey] = true
			view := candidateView{Name: st.LocName}
			parts := strings.SplitN(st.PoiKey, ":", 2)
			if len(parts) == 2 {
				view.Provider = parts[0]
				view.ProviderID = parts[1]
			}
			if st.Lat != nil {
				view.Lat = *st.Lat
			}
			if st.Lng != nil {
				view.Lng = *st.Lng
			}
			if ext, ok := st.Ext["poi"].(map[string]any); ok {
				if cat, ok := ext["category"].(string); ok {
					view.Category = cat
				}
				if addr, ok := ext["addr"].(string); ok {
					view.Addr = addr
				}
				switch rating := ext["rating"].(type) {
				case float64:
					view.Rating = rating
				}
			}
			pool = append(pool, view)
		}
	}
	return pool
}

func boundCandidates(candidates []candidateView, max int) []candidateView {
	if max > 0 && len(candidates) > max {
		return candidates[:max]
	}
	return candidates
}

func usedCandidates(candidates []candidateView, used map[string]bool) []candidateView {
	out := make([]candidateView, 0, len(used))
	for _, c := range candidates {
		if used[c.Provider+":"+c.ProviderID] {
			out = append(out, c)
		}
	}
	return out
}

func poisForValidation(used map[string]bool, requireUnique bool) map[string]bool {
	if !requireUnique {
		return nil
	}
	return used
}

func summarizeDay(day schema.DayCardPlan) daySummary {
	summary := daySummary{DayIndex: day.DayIndex, Date: day.Date.String()}
	for _, st := range day.SubTrips {
		highlight := st.Activity
		if st.LocName != "" {
			highlight += "@" + st.LocName
		}
		summary.Highlights = append(summary.Highlights, highlight)
		if st.PoiKey != "" {
			summary.UsedPois = append(summary.UsedPois, st.PoiKey)
		}
	}
	return summary
}

// appendBoundedSummary keeps the rolling context within the configured
// day and character budgets.
func appendBoundedSummary(summaries []daySummary, next daySummary, maxDays, maxChars int) []daySummary {
	summaries = append(summaries, next)
	if maxDays > 0 && len(summaries) > maxDays {
		summaries = summaries[len(summaries)-maxDays:]
	}
	if maxChars > 0 {
		for len(summaries) > 1 {
			raw, err := json.Marshal(summaries)
			if err != nil || len(raw) <= maxChars {
				break
			}
			summaries = summaries[1:]
		}
	}
	return summaries
}

func (p *DeepPlanner) writeMemorySummary(ctx context.Context, req *schema.PlanRequest, plan *schema.TripPlan) {
	if p.memSvc == nil {
		return
	}
	text := fmt.Sprintf("为用户规划了 %s 的 %d 天行程（%s 至 %s）。",
		plan.Destination, plan.DayCount, plan.StartDate, plan.EndDate)
	p.memSvc.Write(ctx, req.UserID, memory.LevelUser, "", text, map[string]any{
		"origin":     "deep_planner",
		"request_id": req.RequestID,
	})
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}
