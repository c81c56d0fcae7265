// Package schema holds the typed plan/trip/poi vocabulary shared by the
// planners, the assistant, the stores and the transport layer, plus the
// plan validator.
package schema

import "strings"

// Transport modes accepted on a sub-trip.
const (
	TransportWalk    = "walk"
	TransportBike    = "bike"
	TransportDrive   = "drive"
	TransportTransit = "transit"
)

// ValidTransport reports whether mode is one of the accepted enum values.
func ValidTransport(mode string) bool {
	switch mode {
	case TransportWalk, TransportBike, TransportDrive, TransportTransit:
		return true
	default:
		return false
	}
}

// Poi is a point of interest identified by (provider, provider_id).
// Rows are inserted on first external fetch and never mutated afterwards.
type Poi struct {
	ID         int64          `json:"id,omitempty"`
	Provider   string         `json:"provider"`
	ProviderID string         `json:"provider_id"`
	Name       string         `json:"name"`
	Category   string         `json:"category"`
	Addr       string         `json:"addr,omitempty"`
	Rating     float64        `json:"rating,omitempty"`
	Lat        float64        `json:"lat"`
	Lng        float64        `json:"lng"`
	Ext        map[string]any `json:"ext,omitempty"`
}

// Key returns the provider-scoped identity used for dedup.
func (p Poi) Key() string {
	return p.Provider + ":" + p.ProviderID
}

// SubTripPlan is one ordered activity inside a day card. PoiKey references
// a Poi by its provider-scoped key when the activity is grounded on one.
type SubTripPlan struct {
	OrderIndex int            `json:"order_index"`
	Activity   string         `json:"activity"`
	PoiKey     string         `json:"poi_id,omitempty"`
	LocName    string         `json:"loc_name,omitempty"`
	Transport  string         `json:"transport,omitempty"`
	StartTime  string         `json:"start_time,omitempty"`
	EndTime    string         `json:"end_time,omitempty"`
	Lat        *float64       `json:"lat,omitempty"`
	Lng        *float64       `json:"lng,omitempty"`
	Ext        map[string]any `json:"ext,omitempty"`
}

// DayCardPlan is one day of a trip plan with its ordered sub-trips.
type DayCardPlan struct {
	DayIndex int           `json:"day_index"`
	Date     Date          `json:"date"`
	Note     string        `json:"note,omitempty"`
	SubTrips []SubTripPlan `json:"sub_trips"`
}

// TripPlan mirrors the Trip/DayCard/SubTrip aggregate but may be unsaved.
type TripPlan struct {
	TripID      int64          `json:"trip_id,omitempty"`
	Title       string         `json:"title"`
	Destination string         `json:"destination"`
	StartDate   Date           `json:"start_date"`
	EndDate     Date           `json:"end_date"`
	DayCount    int            `json:"day_count"`
	DayCards    []DayCardPlan  `json:"day_cards"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// UsedPoiKeys returns the set of POI keys referenced anywhere in the plan.
func (p *TripPlan) UsedPoiKeys() map[string]bool {
	used := make(map[string]bool)
	for _, day := range p.DayCards {
		for _, st := range day.SubTrips {
			if st.PoiKey != "" {
				used[st.PoiKey] = true
			}
		}
	}
	return used
}

// Preferences carries user planning preferences. Unknown input keys are
// ignored on decode for forward compatibility.
type Preferences struct {
	Interests   []string `json:"interests,omitempty"`
	Pace        string   `json:"pace,omitempty"`
	BudgetLevel string   `json:"budget_level,omitempty"`
	PeopleCount int      `json:"people_count,omitempty"`
}

// DefaultInterests is the fallback interest set when the caller supplies
// none.
var DefaultInterests = []string{"sight", "food"}

// NormalizedInterests returns trimmed, lower-cased, deduplicated interests,
// falling back to DefaultInterests when empty.
func (p Preferences) NormalizedInterests() []string {
	seen := make(map[string]bool)
	out := make([]string, 0, len(p.Interests))
	for _, raw := range p.Interests {
		interest := strings.ToLower(strings.TrimSpace(raw))
		if interest == "" || seen[interest] {
			continue
		}
		seen[interest] = true
		out = append(out, interest)
	}
	if len(out) == 0 {
		return append([]string(nil), DefaultInterests...)
	}
	return out
}

// NormalizedPace returns the pace or "normal" when unset/unknown.
func (p Preferences) NormalizedPace() string {
	switch strings.ToLower(strings.TrimSpace(p.Pace)) {
	case "slow":
		return "slow"
	case "fast":
		return "fast"
	case "packed":
		return "packed"
	default:
		return "normal"
	}
}

// ToolTrace is one structured record per tool/node invocation within a turn
// or plan run.
type ToolTrace struct {
	Node      string         `json:"node"`
	Status    string         `json:"status"` // ok | failed | skipped
	LatencyMS float64        `json:"latency_ms"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// PlanResponseData is the data payload of POST /api/ai/plan. Exactly one of
// Plan / TaskID is set.
type PlanResponseData struct {
	Mode       string         `json:"mode"`
	Async      bool           `json:"async"`
	RequestID  string         `json:"request_id,omitempty"`
	SeedMode   string         `json:"seed_mode,omitempty"`
	TaskID     string         `json:"task_id,omitempty"`
	Plan       *TripPlan      `json:"plan,omitempty"`
	Metrics    map[string]any `json:"metrics,omitempty"`
	ToolTraces []ToolTrace    `json:"tool_traces,omitempty"`
	TraceID    string         `json:"trace_id"`
}
