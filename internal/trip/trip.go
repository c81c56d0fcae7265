// Package trip persists generated itineraries: a trip row, its day cards
// and their ordered sub-trips.
package trip

import (
	"context"
	"time"

	"travelist/internal/schema"
)

// Trip statuses.
const (
	StatusDraft   = "draft"
	StatusPlanned = "planned"
)

// Summary is the list-view projection of one trip.
type Summary struct {
	ID           int64        `json:"id"`
	UserID       int64        `json:"user_id"`
	Title        string       `json:"title"`
	Destination  string       `json:"destination"`
	StartDate    schema.Date  `json:"start_date"`
	EndDate      schema.Date  `json:"end_date"`
	Status       string       `json:"status"`
	DayCount     int          `json:"day_count"`
	SubTripCount int          `json:"sub_trip_count"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// ListFilter narrows ListTrips.
type ListFilter struct {
	UserID      int64
	Destination string
	Limit       int
	Offset      int
}

// Store is the itinerary persistence port. SavePlan writes the trip, its
// day cards and sub-trips atomically and returns the new trip id; a
// day-index or order-index collision surfaces as KindDBConflict.
type Store interface {
	SavePlan(ctx context.Context, userID int64, plan *schema.TripPlan) (int64, error)
	GetTrip(ctx context.Context, tripID int64) (*schema.TripPlan, error)
	ListTrips(ctx context.Context, filter ListFilter) ([]Summary, error)
	LatestForUser(ctx context.Context, userID int64) (*schema.TripPlan, error)
	UserExists(ctx context.Context, userID int64) (bool, error)
}
