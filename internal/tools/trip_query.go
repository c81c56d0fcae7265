package tools

import (
	"context"

	"travelist/internal/apperr"
	"travelist/internal/schema"
	"travelist/internal/trip"
)

// TripQueryTool reads a trip (or one of its days) for the calling user.
type TripQueryTool struct {
	store trip.Store
}

// NewTripQueryTool wraps the trip store.
func NewTripQueryTool(store trip.Store) *TripQueryTool {
	return &TripQueryTool{store: store}
}

func (t *TripQueryTool) Name() string { return "trip_query" }

func (t *TripQueryTool) Description() string {
	return "查询用户行程详情，可指定 trip_id 与单日 day_index；缺省读取最近行程。"
}

func (t *TripQueryTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"trip_id": map[string]any{"type": "integer"},
			"day":     map[string]any{"type": "integer", "minimum": 0},
		},
	}
}

func (t *TripQueryTool) Validate(args Args) error {
	if _, present := args["day"]; present {
		day, ok := argInt(args, "day")
		if !ok || day < 0 {
			return invalidArg("trip_query: day must be a non-negative integer")
		}
	}
	return nil
}

func (t *TripQueryTool) Invoke(ctx context.Context, call CallContext, args Args) (map[string]any, error) {
	if call.UserID <= 0 {
		return nil, apperr.New(apperr.KindNotAuthorized, "trip_query requires a user")
	}

	var (
		plan *schema.TripPlan
		err  error
	)
	tripID, hasTripID := argInt(args, "trip_id")
	if !hasTripID && call.TripID > 0 {
		tripID, hasTripID = int(call.TripID), true
	}
	if hasTripID && tripID > 0 {
		plan, err = t.store.GetTrip(ctx, int64(tripID))
	} else {
		plan, err = t.store.LatestForUser(ctx, call.UserID)
	}
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return map[string]any{"status": "ok", "found": false}, nil
	}

	days := plan.DayCards
	if day, ok := argInt(args, "day"); ok {
		days = nil
		for _, card := range plan.DayCards {
			if card.DayIndex == day {
				days = []schema.DayCardPlan{card}
				break
			}
		}
		if days == nil {
			return map[string]any{
				"status":  "ok",
				"found":   true,
				"trip_id": plan.TripID,
				"title":   plan.Title,
				"message": "该行程没有对应天数",
			}, nil
		}
	}

	dayViews := make([]map[string]any, 0, len(days))
	for _, card := range days {
		subs := make([]map[string]any, 0, len(card.SubTrips))
		for _, st := range card.SubTrips {
			subs = append(subs, map[string]any{
				"order_index": st.OrderIndex,
				"activity":    st.Activity,
				"poi_id":      st.PoiKey,
				"loc_name":    st.LocName,
				"transport":   st.Transport,
				"start_time":  st.StartTime,
				"end_time":    st.EndTime,
			})
		}
		dayViews = append(dayViews, map[string]any{
			"day_index": card.DayIndex,
			"date":      card.Date.String(),
			"note":      card.Note,
			"sub_trips": subs,
		})
	}
	return map[string]any{
		"status":      "ok",
		"found":       true,
		"trip_id":     plan.TripID,
		"title":       plan.Title,
		"destination": plan.Destination,
		"start_date":  plan.StartDate.String(),
		"end_date":    plan.EndDate.String(),
		"day_count":   plan.DayCount,
		"days":        dayViews,
	}, nil
}
