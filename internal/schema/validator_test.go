package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPlan() *TripPlan {
	start := MustDate("2025-12-01")
	return &TripPlan{
		Title:       "广州 行程规划",
		Destination: "广州",
		StartDate:   start,
		EndDate:     start.AddDays(1),
		DayCount:    2,
		DayCards: []DayCardPlan{
			{
				DayIndex: 0,
				Date:     start,
				SubTrips: []SubTripPlan{
					{OrderIndex: 0, Activity: "游览", PoiKey: "mock:sight-0", StartTime: "09:00", EndTime: "11:00"},
					{OrderIndex: 1, Activity: "午餐", PoiKey: "mock:food-0", StartTime: "11:30", EndTime: "13:00"},
				},
			},
			{
				DayIndex: 1,
				Date:     start.AddDays(1),
				SubTrips: []SubTripPlan{
					{OrderIndex: 0, Activity: "游览", PoiKey: "mock:sight-1", StartTime: "09:00", EndTime: "11:00"},
				},
			},
		},
	}
}

func TestValidateTripAcceptsWellFormedPlan(t *testing.T) {
	v := NewValidator()
	issues := v.ValidateTrip(validPlan(), ValidateContext{RequireUniquePois: true})
	assert.True(t, issues.OK(), "unexpected issues: %s", issues.Error())
}

func TestValidateTripFlagsNonDenseDayIndex(t *testing.T) {
	plan := validPlan()
	plan.DayCards[1].DayIndex = 3

	issues := NewValidator().ValidateTrip(plan, ValidateContext{})
	require.False(t, issues.OK())
	assert.Contains(t, issues.Error(), "day_index")
}

func TestValidateTripFlagsDateMismatch(t *testing.T) {
	plan := validPlan()
	plan.DayCards[1].Date = MustDate("2025-12-05")

	issues := NewValidator().ValidateTrip(plan, ValidateContext{})
	require.False(t, issues.OK())
	assert.Contains(t, issues.Error(), "does not match start_date")
}

func TestValidateTripCrossDayPoiDedup(t *testing.T) {
	plan := validPlan()
	plan.DayCards[1].SubTrips[0].PoiKey = "mock:sight-0"

	v := NewValidator()
	issues := v.ValidateTrip(plan, ValidateContext{RequireUniquePois: true})
	require.False(t, issues.OK())
	assert.Contains(t, issues.Error(), "already used on a previous day")

	// Without the dedup requirement the same plan passes.
	assert.True(t, v.ValidateTrip(plan, ValidateContext{}).OK())
}

func TestValidateDayIntraDayDuplicateAndTimes(t *testing.T) {
	day := DayCardPlan{
		DayIndex: 0,
		Date:     MustDate("2025-12-01"),
		SubTrips: []SubTripPlan{
			{OrderIndex: 0, Activity: "a", PoiKey: "mock:x", StartTime: "10:00", EndTime: "09:00"},
			{OrderIndex: 1, Activity: "b", PoiKey: "mock:x"},
		},
	}
	issues := NewValidator().ValidateDay(day, ValidateContext{StartDate: MustDate("2025-12-01"), DayCount: 1})
	require.False(t, issues.OK())
	assert.Contains(t, issues.Error(), "repeated within day")
	assert.Contains(t, issues.Error(), "not before end_time")
}

func TestValidateDayWindowAndGrounding(t *testing.T) {
	day := DayCardPlan{
		DayIndex: 0,
		Date:     MustDate("2025-12-01"),
		SubTrips: []SubTripPlan{
			{OrderIndex: 0, Activity: "早起", LocName: "酒店", StartTime: "07:00", EndTime: "08:00"},
			{OrderIndex: 1, Activity: "闲逛"},
		},
	}
	ctx := ValidateContext{
		StartDate:   MustDate("2025-12-01"),
		DayCount:    1,
		DayStartMin: 9 * 60,
		DayEndMin:   18 * 60,
	}
	issues := NewValidator().ValidateDay(day, ctx)
	require.False(t, issues.OK())
	assert.Contains(t, issues.Error(), "before day window")
	assert.Contains(t, issues.Error(), "neither poi_id nor loc_name")
}

func TestRenumberIndices(t *testing.T) {
	plan := validPlan()
	plan.DayCards[0].SubTrips[1].OrderIndex = 9
	plan.DayCards[1].DayIndex = 7
	plan.DayCount = 0

	RenumberIndices(plan)
	assert.Equal(t, 2, plan.DayCount)
	assert.Equal(t, 1, plan.DayCards[1].DayIndex)
	assert.Equal(t, 1, plan.DayCards[0].SubTrips[1].OrderIndex)

	issues := NewValidator().ValidateTrip(plan, ValidateContext{})
	assert.True(t, issues.OK(), issues.Error())
}
