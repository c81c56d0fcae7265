package trip

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"travelist/internal/apperr"
	"travelist/internal/schema"
)

// MemoryStore keeps trips in process. Used by tests and DB-less runs; the
// user table degenerates to an allow-all set unless seeded.
type MemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	trips   map[int64]storedTrip
	users   map[int64]bool
	strict  bool // when true, UserExists consults the seeded set
}

type storedTrip struct {
	userID    int64
	plan      schema.TripPlan
	status    string
	updatedAt time.Time
}

// NewMemoryStore returns an empty store where every user exists.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1, trips: make(map[int64]storedTrip), users: make(map[int64]bool)}
}

// SeedUser registers a user id and switches the store to strict existence
// checks.
func (s *MemoryStore) SeedUser(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID] = true
	s.strict = true
}

func (s *MemoryStore) UserExists(_ context.Context, userID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.strict {
		return userID > 0, nil
	}
	return s.users[userID], nil
}

func (s *MemoryStore) SavePlan(_ context.Context, userID int64, plan *schema.TripPlan) (int64, error) {
	if plan == nil {
		return 0, apperr.New(apperr.KindInvalidParams, "nil plan")
	}
	seenDays := make(map[int]bool)
	for _, day := range plan.DayCards {
		if seenDays[day.DayIndex] {
			return 0, apperr.Newf(apperr.KindDBConflict, "duplicate day_index %d", day.DayIndex)
		}
		seenDays[day.DayIndex] = true
		seenOrders := make(map[int]bool)
		for _, st := range day.SubTrips {
			if seenOrders[st.OrderIndex] {
				return 0, apperr.Newf(apperr.KindDBConflict,
					"duplicate order_index %d on day %d", st.OrderIndex, day.DayIndex)
			}
			seenOrders[st.OrderIndex] = true
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	copied := clonePlan(plan)
	copied.TripID = id
	s.trips[id] = storedTrip{
		userID:    userID,
		plan:      *copied,
		status:    StatusPlanned,
		updatedAt: time.Now().UTC(),
	}
	return id, nil
}

func (s *MemoryStore) GetTrip(_ context.Context, tripID int64) (*schema.TripPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.trips[tripID]
	if !ok {
		return nil, apperr.Newf(apperr.KindNotFound, "trip %d not found", tripID)
	}
	return clonePlan(&stored.plan), nil
}

func (s *MemoryStore) LatestForUser(_ context.Context, userID int64) (*schema.TripPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		best   *storedTrip
		bestID int64
	)
	for id, stored := range s.trips {
		if stored.userID != userID {
			continue
		}
		if best == nil || stored.updatedAt.After(best.updatedAt) ||
			(stored.updatedAt.Equal(best.updatedAt) && id > bestID) {
			copied := stored
			best = &copied
			bestID = id
		}
	}
	if best == nil {
		return nil, nil
	}
	return clonePlan(&best.plan), nil
}

func (s *MemoryStore) ListTrips(_ context.Context, filter ListFilter) ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]Summary, 0)
	for id, stored := range s.trips {
		if filter.UserID > 0 && stored.userID != filter.UserID {
			continue
		}
		if filter.Destination != "" &&
			!strings.Contains(strings.ToLower(stored.plan.Destination), strings.ToLower(filter.Destination)) {
			continue
		}
		subCount := 0
		for _, day := range stored.plan.DayCards {
			subCount += len(day.SubTrips)
		}
		summaries = append(summaries, Summary{
			ID:           id,
			UserID:       stored.userID,
			Title:        stored.plan.Title,
			Destination:  stored.plan.Destination,
			StartDate:    stored.plan.StartDate,
			EndDate:      stored.plan.EndDate,
			Status:       stored.status,
			DayCount:     len(stored.plan.DayCards),
			SubTripCount: subCount,
			UpdatedAt:    stored.updatedAt,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		if !summaries[i].UpdatedAt.Equal(summaries[j].UpdatedAt) {
			return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
		}
		return summaries[i].ID > summaries[j].ID
	})

	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(summaries) {
		return []Summary{}, nil
	}
	summaries = summaries[offset:]
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries, nil
}

func clonePlan(plan *schema.TripPlan) *schema.TripPlan {
	copied := *plan
	copied.DayCards = make([]schema.DayCardPlan, len(plan.DayCards))
	for i, day := range plan.DayCards {
		dayCopy := day
		dayCopy.SubTrips = append([]schema.SubTripPlan(nil), day.SubTrips...)
		copied.DayCards[i] = dayCopy
	}
	if plan.Meta != nil {
		copied.Meta = make(map[string]any, len(plan.Meta))
		for k, v := range plan.Meta {
			copied.Meta[k] = v
		}
	}
	return &copied
}
