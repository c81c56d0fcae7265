package schema

import (
	"strings"

	"travelist/internal/apperr"
)

// Plan modes.
const (
	ModeFast = "fast"
	ModeDeep = "deep"
)

// Seed modes.
const (
	SeedModeFixed = "fixed"
	SeedModeAuto  = "auto"
)

const maxDestinationLen = 255

// PlanRequest is the validated planning request. Build one with
// ParsePlanRequest; hand-built values skip validation.
type PlanRequest struct {
	UserID      int64       `json:"user_id"`
	Destination string      `json:"destination"`
	StartDate   Date        `json:"start_date"`
	EndDate     Date        `json:"end_date"`
	Mode        string      `json:"mode"`
	Save        bool        `json:"save"`
	Preferences Preferences `json:"preferences"`
	Seed        *int64      `json:"seed,omitempty"`
	Async       bool        `json:"async,omitempty"`
	RequestID   string      `json:"request_id,omitempty"`
	SeedMode    string      `json:"seed_mode,omitempty"`
}

// DayCount returns the inclusive number of days covered by the request.
func (r *PlanRequest) DayCount() int {
	return r.StartDate.DaysUntil(r.EndDate) + 1
}

// RawPlanRequest is the untrusted wire shape of POST /api/ai/plan. Unknown
// preference keys are dropped by the decoder.
type RawPlanRequest struct {
	UserID      int64       `json:"user_id"`
	Destination string      `json:"destination"`
	StartDate   string      `json:"start_date"`
	EndDate     string      `json:"end_date"`
	Mode        string      `json:"mode"`
	Save        bool        `json:"save"`
	Preferences Preferences `json:"preferences"`
	PeopleCount int         `json:"people_count,omitempty"`
	Seed        *int64      `json:"seed,omitempty"`
	Async       bool        `json:"async,omitempty"`
	RequestID   string      `json:"request_id,omitempty"`
	SeedMode    string      `json:"seed_mode,omitempty"`
}

// ParsePlanRequest validates raw input into a PlanRequest. maxDays bounds
// the inclusive day count.
func ParsePlanRequest(raw RawPlanRequest, maxDays int) (*PlanRequest, error) {
	if raw.UserID <= 0 {
		return nil, apperr.New(apperr.KindInvalidParams, "user_id is required")
	}

	destination := strings.TrimSpace(raw.Destination)
	if destination == "" {
		return nil, apperr.New(apperr.KindInvalidParams, "destination is required")
	}
	if len(destination) > maxDestinationLen {
		return nil, apperr.Newf(apperr.KindInvalidParams, "destination exceeds %d characters", maxDestinationLen)
	}

	start, err := ParseDate(raw.StartDate)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidParams, "invalid start_date", err)
	}
	end, err := ParseDate(raw.EndDate)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidParams, "invalid end_date", err)
	}

	dayCount := start.DaysUntil(end) + 1
	if dayCount < 1 || (maxDays > 0 && dayCount > maxDays) {
		return nil, apperr.Newf(apperr.KindRangeExceeded, "day count %d outside [1, %d]", dayCount, maxDays)
	}

	mode := strings.ToLower(strings.TrimSpace(raw.Mode))
	if mode == "" {
		mode = ModeFast
	}
	if mode != ModeFast && mode != ModeDeep {
		return nil, apperr.Newf(apperr.KindBadMode, "unsupported mode %q", raw.Mode)
	}

	seedMode := strings.ToLower(strings.TrimSpace(raw.SeedMode))
	switch seedMode {
	case "", SeedModeFixed, SeedModeAuto:
	default:
		return nil, apperr.Newf(apperr.KindInvalidParams, "unsupported seed_mode %q", raw.SeedMode)
	}

	prefs := raw.Preferences
	prefs.Interests = prefs.NormalizedInterests()
	prefs.Pace = prefs.NormalizedPace()
	if prefs.PeopleCount == 0 && raw.PeopleCount > 0 {
		prefs.PeopleCount = raw.PeopleCount
	}
	if prefs.PeopleCount < 0 {
		return nil, apperr.New(apperr.KindInvalidParams, "people_count must be positive")
	}

	return &PlanRequest{
		UserID:      raw.UserID,
		Destination: destination,
		StartDate:   start,
		EndDate:     end,
		Mode:        mode,
		Save:        raw.Save,
		Preferences: prefs,
		Seed:        raw.Seed,
		Async:       raw.Async,
		RequestID:   strings.TrimSpace(raw.RequestID),
		SeedMode:    seedMode,
	}, nil
}

// ValidateCoords checks a WGS84 coordinate pair.
func ValidateCoords(lat, lng float64) error {
	if lat < -90 || lat > 90 {
		return apperr.Newf(apperr.KindInvalidParams, "lat %.6f outside [-90, 90]", lat)
	}
	if lng < -180 || lng > 180 {
		return apperr.Newf(apperr.KindInvalidParams, "lng %.6f outside [-180, 180]", lng)
	}
	return nil
}
