// Package planner generates itineraries: a deterministic fast planner and
// an LLM-backed deep planner that enriches the fast skeleton day by day.
package planner

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"travelist/internal/apperr"
	"travelist/internal/config"
	"travelist/internal/geocode"
	"travelist/internal/logging"
	"travelist/internal/poi"
	"travelist/internal/schema"
)

// FastRulesVersion tags plans produced by the deterministic rule set.
const FastRulesVersion = "fast_rules_v1"

const fallbackActivity = "自由探索"

// FastPlanner is the deterministic, non-LLM itinerary generator.
type FastPlanner struct {
	cfg      *config.Config
	poiSvc   *poi.Service
	geocoder *geocode.Service
	logger   logging.Logger
}

// NewFastPlanner wires the fast planner.
func NewFastPlanner(cfg *config.Config, poiSvc *poi.Service, geocoder *geocode.Service, logger logging.Logger) *FastPlanner {
	return &FastPlanner{
		cfg:      cfg,
		poiSvc:   poiSvc,
		geocoder: geocoder,
		logger:   logging.OrNop(logger),
	}
}

// Plan builds a TripPlan from the request. Same request + same seed +
// same POI snapshot produce an identical plan.
func (p *FastPlanner) Plan(ctx context.Context, req *schema.PlanRequest) (*schema.TripPlan, map[string]any, error) {
	dayCount := req.DayCount()
	if dayCount <= 0 {
		return nil, nil, apperr.New(apperr.KindRangeExceeded, "invalid date range")
	}
	maxDays := p.cfg.PlanMaxDays
	if maxDays < 1 {
		maxDays = 1
	}
	if dayCount > maxDays {
		return nil, nil, apperr.Newf(apperr.KindRangeExceeded, "day count %d exceeds limit %d", dayCount, maxDays)
	}

	seed := p.cfg.PlanFastRandomSeed
	if req.Seed != nil {
		seed = *req.Seed
	} else if req.SeedMode == schema.SeedModeAuto {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	interests := req.Preferences.NormalizedInterests()

	dayStartMin, err := schema.ParseClock(p.cfg.PlanDefaultDayStart)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.KindPlanFailed, "bad day start config", err)
	}
	dayEndMin, err := schema.ParseClock(p.cfg.PlanDefaultDayEnd)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.KindPlanFailed, "bad day end config", err)
	}
	slotMinutes := p.cfg.PlanDefaultSlotMins
	if slotMinutes < 15 {
		slotMinutes = 15
	}
	midMin := (dayStartMin + dayEndMin) / 2
	windows := []slotWindow{
		{name: "morning", startMin: dayStartMin, endMin: midMin},
		{name: "afternoon", startMin: midMin, endMin: dayEndMin},
	}

	candidates, candidateMeta, err := p.loadCandidates(ctx, req.Destination, interests, dayCount)
	if err != nil {
		return nil, nil, err
	}

	perHalfDay := 1
	switch req.Preferences.NormalizedPace() {
	case "fast", "packed":
		perHalfDay = 2
	}
	if dayCount <= 2 && perHalfDay < 2 {
		perHalfDay = 2
	}

	// Rotate interest priority with the seeded RNG so different seeds
	// explore different category orders.
	cursor := 0
	if len(interests) > 0 {
		cursor = rng.Intn(len(interests))
	}
	interestOrder := append(append([]string{}, interests[cursor:]...), interests[:cursor]...)

	used := make(map[string]bool)
	dayCards := make([]schema.DayCardPlan, 0, dayCount)
	totalSubTrips := 0
	for dayIdx := 0; dayIdx < dayCount; dayIdx++ {
		date := req.StartDate.AddDays(dayIdx)
		subTrips := make([]schema.SubTripPlan, 0, perHalfDay*len(windows))
		orderIndex := 0
		prevCategory := ""
		for _, window := range windows {
			capacity := (window.endMin - window.startMin) / slotMinutes
			if capacity < 1 {
				capacity = 1
			}
			perSlot := perHalfDay
			if perSlot > capacity {
				perSlot = capacity
			}
			for localIdx := 0; localIdx < perSlot; localIdx++ {
				startMin := window.startMin + localIdx*slotMinutes
				candidate := pickCandidate(candidates, interestOrder, used, prevCategory)
				if candidate == nil {
					subTrips = append(subTrips, buildFallbackSubTrip(
						req.Destination, orderIndex, window.name, startMin, slotMinutes, p.cfg.PlanFastTransportMode))
					orderIndex++
					continue
				}
				used[candidate.Key()] = true
				if candidate.Category != "" {
					prevCategory = candidate.Category
				}
				subTrips = append(subTrips, buildSubTrip(
					candidate, orderIndex, window.name, startMin, slotMinutes, p.cfg.PlanFastTransportMode))
				orderIndex++
			}
		}
		totalSubTrips += len(subTrips)
		dayCards = append(dayCards, schema.DayCardPlan{
			DayIndex: dayIdx,
			Date:     date,
			SubTrips: subTrips,
		})
	}

	plan := &schema.TripPlan{
		Title:       fmt.Sprintf("%s 行程规划", req.Destination),
		Destination: req.Destination,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		DayCount:    dayCount,
		DayCards:    dayCards,
		Meta: map[string]any{
			"planner": map[string]any{
				"mode":          schema.ModeFast,
				"rules_version": FastRulesVersion,
				"seed":          seed,
				"interests":     interests,
			},
		},
	}

	metrics := map[string]any{
		"planner":        FastRulesVersion,
		"seed":           seed,
		"day_count":      dayCount,
		"candidate_pois": len(candidates),
		"activities":     totalSubTrips,
	}
	for k, v := range candidateMeta {
		metrics[k] = v
	}
	return plan, metrics, nil
}

type slotWindow struct {
	name     string
	startMin int
	endMin   int
}

// loadCandidates resolves the destination center and assembles the
// deduplicated, deterministically ordered candidate pool.
func (p *FastPlanner) loadCandidates(ctx context.Context, destination string, interests []string, dayCount int) ([]*poi.Item, map[string]any, error) {
	limitPerDay := p.cfg.PlanFastPoiLimitPerDay
	if limitPerDay < 1 {
		limitPerDay = 1
	}
	limit := limitPerDay * dayCount
	if limit > 200 {
		limit = 200
	}

	center, err := p.geocoder.ResolveCityCenter(ctx, destination)
	if err != nil {
		return nil, nil, err
	}

	sources := make(map[string]int)
	seen := make(map[string]bool)
	merged := make([]*poi.Item, 0, limit)
	maxInterests := len(interests)
	if maxInterests > 6 {
		maxInterests = 6
	}
	perQuery := limit
	if perQuery > 30 {
		perQuery = 30
	}
	for _, interest := range interests[:maxInterests] {
		items, meta, err := p.poiSvc.Around(ctx, poi.Query{
			Lat:     center.Lat,
			Lng:     center.Lng,
			Type:    interest,
			RadiusM: p.cfg.PoiDefaultRadiusM,
			Limit:   perQuery,
		})
		if err != nil {
			p.logger.Warn("candidate query for %q failed: %v", interest, err)
			continue
		}
		sources[meta.Source]++
		for i := range items {
			item := items[i]
			if item.ProviderID == "" || seen[item.Key()] {
				continue
			}
			seen[item.Key()] = true
			merged = append(merged, &item)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Rating != merged[j].Rating {
			return merged[i].Rating > merged[j].Rating
		}
		if merged[i].Name != merged[j].Name {
			return merged[i].Name < merged[j].Name
		}
		if merged[i].Provider != merged[j].Provider {
			return merged[i].Provider < merged[j].Provider
		}
		return merged[i].ProviderID < merged[j].ProviderID
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}

	meta := map[string]any{
		"poi_sources": sources,
		"destination_center": map[string]any{
			"lat":      center.Lat,
			"lng":      center.Lng,
			"provider": center.Provider,
			"source":   center.Source,
		},
	}
	return merged, meta, nil
}

// pickCandidate applies the selection policy: interest match with category
// diversity first, then any unused diverse candidate, then any unused one.
func pickCandidate(candidates []*poi.Item, interests []string, used map[string]bool, prevCategory string) *poi.Item {
	interestSet := make(map[string]bool, len(interests))
	for _, interest := range interests {
		if trimmed := strings.TrimSpace(interest); trimmed != "" {
			interestSet[trimmed] = true
		}
	}
	for _, item := range candidates {
		if used[item.Key()] {
			continue
		}
		if item.Category != "" && interestSet[item.Category] && item.Category != prevCategory {
			return item
		}
	}
	for _, item := range candidates {
		if used[item.Key()] {
			continue
		}
		if item.Category != "" && item.Category != prevCategory {
			return item
		}
	}
	for _, item := range candidates {
		if !used[item.Key()] {
			return item
		}
	}
	return nil
}

func buildSubTrip(candidate *poi.Item, orderIndex int, slotName string, startMin, slotMinutes int, transport string) schema.SubTripPlan {
	category := candidate.Category
	if category == "" {
		category = "activity"
	}
	lat := candidate.Lat
	lng := candidate.Lng
	return schema.SubTripPlan{
		OrderIndex: orderIndex,
		Activity:   ActivityTitle(category),
		PoiKey:     candidate.Key(),
		LocName:    candidate.Name,
		Transport:  normalizeTransport(transport),
		StartTime:  schema.FormatClock(startMin),
		EndTime:    schema.FormatClock(startMin + slotMinutes),
		Lat:        &lat,
		Lng:        &lng,
		Ext: map[string]any{
			"slot": slotName,
			"poi": map[string]any{
				"provider":    candidate.Provider,
				"provider_id": candidate.ProviderID,
				"source":      candidate.Source,
				"category":    candidate.Category,
				"addr":        candidate.Addr,
				"rating":      candidate.Rating,
				"distance_m":  candidate.DistanceM,
			},
			"planner": map[string]any{"rules_version": FastRulesVersion},
		},
	}
}

func buildFallbackSubTrip(destination string, orderIndex int, slotName string, startMin, slotMinutes int, transport string) schema.SubTripPlan {
	return schema.SubTripPlan{
		OrderIndex: orderIndex,
		Activity:   fallbackActivity,
		LocName:    destination,
		Transport:  normalizeTransport(transport),
		StartTime:  schema.FormatClock(startMin),
		EndTime:    schema.FormatClock(startMin + slotMinutes),
		Ext: map[string]any{
			"slot":     slotName,
			"fallback": true,
			"planner":  map[string]any{"rules_version": FastRulesVersion},
			"hint":     "POI 数据不足，已降级为自由探索；可补充 POI 数据或扩大兴趣类型后重试。",
		},
	}
}

func normalizeTransport(mode string) string {
	if schema.ValidTransport(mode) {
		return mode
	}
	return ""
}

// ActivityTitle maps a POI category to its itinerary activity label.
func ActivityTitle(category string) string {
	switch strings.ToLower(strings.TrimSpace(category)) {
	case "food":
		return "美食探索"
	case "sight":
		return "景点游览"
	case "museum":
		return "博物馆参观"
	case "park":
		return "公园漫步"
	case "hotel":
		return "住宿安排"
	case "shopping":
		return "购物休闲"
	default:
		return category + "体验"
	}
}
