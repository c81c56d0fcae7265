package schema

import (
	"fmt"
	"strings"
)

// Issue kinds for validator findings.
const (
	IssueSchema   = "schema"
	IssueBusiness = "business"
	IssueRange    = "range"
)

// Issue is one structured validator finding with a machine-readable
// location path.
type Issue struct {
	Kind string `json:"kind"`
	Path string `json:"path"`
	Msg  string `json:"msg"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s at %s: %s", i.Kind, i.Path, i.Msg)
}

// Issues aggregates validator findings; empty means valid.
type Issues []Issue

func (is Issues) OK() bool { return len(is) == 0 }

func (is Issues) Error() string {
	if len(is) == 0 {
		return ""
	}
	parts := make([]string, len(is))
	for idx, issue := range is {
		parts[idx] = issue.String()
	}
	return strings.Join(parts, "; ")
}

// ValidateContext carries the trip-level facts a day is checked against.
type ValidateContext struct {
	StartDate Date
	DayCount  int
	// DayStartMin/DayEndMin bound sub-trip times in minutes since midnight;
	// zero values disable the window check.
	DayStartMin int
	DayEndMin   int
	// RequireUniquePois enables cross-day POI dedup in ValidateTrip. UsedPoiKeys
	// carries POIs consumed by previously accepted days for per-day checks.
	RequireUniquePois bool
	UsedPoiKeys       map[string]bool
}

// Validator performs structural and cross-day checks on plans. It is
// stateless; methods never suspend.
type Validator struct{}

// NewValidator returns the shared plan validator.
func NewValidator() *Validator { return &Validator{} }

// ValidateDay checks one day card: dense order_index, monotone times within
// the day window, non-empty activities, location grounding, and POI
// duplicates (intra-day always, cross-day against ctx.UsedPoiKeys).
func (v *Validator) ValidateDay(day DayCardPlan, ctx ValidateContext) Issues {
	var issues Issues
	path := fmt.Sprintf("day_cards[%d]", day.DayIndex)

	if day.DayIndex < 0 || (ctx.DayCount > 0 && day.DayIndex >= ctx.DayCount) {
		issues = append(issues, Issue{IssueRange, path + ".day_index",
			fmt.Sprintf("day_index %d outside [0, %d)", day.DayIndex, ctx.DayCount)})
	}
	if !ctx.StartDate.IsZero() {
		want := ctx.StartDate.AddDays(day.DayIndex)
		if !day.Date.Equal(want) {
			issues = append(issues, Issue{IssueSchema, path + ".date",
				fmt.Sprintf("date %s does not match start_date + %d (%s)", day.Date, day.DayIndex, want)})
		}
	}
	if len(day.SubTrips) == 0 {
		issues = append(issues, Issue{IssueSchema, path + ".sub_trips", "day has no sub_trips"})
		return issues
	}

	seenPois := make(map[string]bool)
	for i, st := range day.SubTrips {
		stPath := fmt.Sprintf("%s.sub_trips[%d]", path, i)
		if st.OrderIndex != i {
			issues = append(issues, Issue{IssueSchema, stPath + ".order_index",
				fmt.Sprintf("order_index %d not dense (want %d)", st.OrderIndex, i)})
		}
		if strings.TrimSpace(st.Activity) == "" {
			issues = append(issues, Issue{IssueSchema, stPath + ".activity", "activity is empty"})
		}
		if st.PoiKey == "" && strings.TrimSpace(st.LocName) == "" {
			issues = append(issues, Issue{IssueSchema, stPath + ".loc_name", "neither poi_id nor loc_name set"})
		}
		if st.Transport != "" && !ValidTransport(st.Transport) {
			issues = append(issues, Issue{IssueSchema, stPath + ".transport",
				fmt.Sprintf("unsupported transport %q", st.Transport)})
		}
		issues = append(issues, v.checkTimes(st, stPath, ctx)...)

		if st.PoiKey != "" {
			if seenPois[st.PoiKey] {
				issues = append(issues, Issue{IssueBusiness, stPath + ".poi_id",
					fmt.Sprintf("poi %s repeated within day", st.PoiKey)})
			}
			seenPois[st.PoiKey] = true
			if ctx.UsedPoiKeys != nil && ctx.UsedPoiKeys[st.PoiKey] {
				issues = append(issues, Issue{IssueBusiness, stPath + ".poi_id",
					fmt.Sprintf("poi %s already used on a previous day", st.PoiKey)})
			}
		}
	}
	return issues
}

func (v *Validator) checkTimes(st SubTripPlan, path string, ctx ValidateContext) Issues {
	var issues Issues
	var startMin, endMin = -1, -1
	if st.StartTime != "" {
		m, err := ParseClock(st.StartTime)
		if err != nil {
			issues = append(issues, Issue{IssueSchema, path + ".start_time", err.Error()})
		} else {
			startMin = m
		}
	}
	if st.EndTime != "" {
		m, err := ParseClock(st.EndTime)
		if err != nil {
			issues = append(issues, Issue{IssueSchema, path + ".end_time", err.Error()})
		} else {
			endMin = m
		}
	}
	if startMin >= 0 && endMin >= 0 && startMin >= endMin {
		issues = append(issues, Issue{IssueSchema, path + ".start_time",
			fmt.Sprintf("start_time %s not before end_time %s", st.StartTime, st.EndTime)})
	}
	if ctx.DayStartMin < ctx.DayEndMin {
		if startMin >= 0 && startMin < ctx.DayStartMin {
			issues = append(issues, Issue{IssueRange, path + ".start_time",
				fmt.Sprintf("start_time %s before day window", st.StartTime)})
		}
		if endMin >= 0 && endMin > ctx.DayEndMin {
			issues = append(issues, Issue{IssueRange, path + ".end_time",
				fmt.Sprintf("end_time %s after day window", st.EndTime)})
		}
	}
	return issues
}

// ValidateTrip checks the whole plan: dense day_index from 0 to
// day_count-1, per-day dates, derived counts, and (when required)
// cross-day POI uniqueness. Per-day structural checks run as well.
func (v *Validator) ValidateTrip(plan *TripPlan, ctx ValidateContext) Issues {
	var issues Issues
	if plan == nil {
		return Issues{{IssueSchema, "plan", "plan is nil"}}
	}

	dayCount := ctx.DayCount
	if dayCount == 0 {
		dayCount = plan.StartDate.DaysUntil(plan.EndDate) + 1
	}
	if plan.DayCount != 0 && plan.DayCount != dayCount {
		issues = append(issues, Issue{IssueSchema, "day_count",
			fmt.Sprintf("day_count %d does not match date range (%d)", plan.DayCount, dayCount)})
	}
	if len(plan.DayCards) != dayCount {
		issues = append(issues, Issue{IssueSchema, "day_cards",
			fmt.Sprintf("have %d day cards, want %d", len(plan.DayCards), dayCount)})
	}

	start := ctx.StartDate
	if start.IsZero() {
		start = plan.StartDate
	}
	usedAcrossDays := make(map[string]bool)
	for i, day := range plan.DayCards {
		if day.DayIndex != i {
			issues = append(issues, Issue{IssueSchema, fmt.Sprintf("day_cards[%d].day_index", i),
				fmt.Sprintf("day_index %d not dense (want %d)", day.DayIndex, i)})
		}
		dayCtx := ValidateContext{
			StartDate:   start,
			DayCount:    dayCount,
			DayStartMin: ctx.DayStartMin,
			DayEndMin:   ctx.DayEndMin,
		}
		if ctx.RequireUniquePois {
			dayCtx.UsedPoiKeys = usedAcrossDays
		}
		issues = append(issues, v.ValidateDay(day, dayCtx)...)
		for _, st := range day.SubTrips {
			if st.PoiKey != "" {
				usedAcrossDays[st.PoiKey] = true
			}
		}
	}
	return issues
}

// RenumberIndices rewrites day_index and order_index densely in place.
// The fast planner uses it as a local repair before final validation.
func RenumberIndices(plan *TripPlan) {
	for i := range plan.DayCards {
		plan.DayCards[i].DayIndex = i
		for j := range plan.DayCards[i].SubTrips {
			plan.DayCards[i].SubTrips[j].OrderIndex = j
		}
	}
	plan.DayCount = len(plan.DayCards)
}
