package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"travelist/internal/apperr"
)

func rawRequest() RawPlanRequest {
	return RawPlanRequest{
		UserID:      1,
		Destination: "Guangzhou",
		StartDate:   "2025-12-01",
		EndDate:     "2025-12-02",
		Mode:        "fast",
		Preferences: Preferences{Interests: []string{"Food", " sight ", "food"}},
	}
}

func TestParsePlanRequestNormalizes(t *testing.T) {
	req, err := ParsePlanRequest(rawRequest(), 14)
	require.NoError(t, err)

	assert.Equal(t, 2, req.DayCount())
	assert.Equal(t, []string{"food", "sight"}, req.Preferences.Interests)
	assert.Equal(t, "normal", req.Preferences.Pace)
	assert.Equal(t, ModeFast, req.Mode)
}

func TestParsePlanRequestDefaultsInterests(t *testing.T) {
	raw := rawRequest()
	raw.Preferences = Preferences{}
	req, err := ParsePlanRequest(raw, 14)
	require.NoError(t, err)
	assert.Equal(t, DefaultInterests, req.Preferences.Interests)
}

func TestParsePlanRequestRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*RawPlanRequest)
		kind   apperr.Kind
		code   int
	}{
		{"missing user", func(r *RawPlanRequest) { r.UserID = 0 }, apperr.KindInvalidParams, apperr.CodeInvalidParams},
		{"blank destination", func(r *RawPlanRequest) { r.Destination = "  " }, apperr.KindInvalidParams, apperr.CodeInvalidParams},
		{"bad date", func(r *RawPlanRequest) { r.StartDate = "12/01/2025" }, apperr.KindInvalidParams, apperr.CodeInvalidParams},
		{"end before start", func(r *RawPlanRequest) { r.EndDate = "2025-11-30" }, apperr.KindRangeExceeded, apperr.CodeRangeExceeded},
		{"too many days", func(r *RawPlanRequest) { r.EndDate = "2025-12-31" }, apperr.KindRangeExceeded, apperr.CodeRangeExceeded},
		{"bad mode", func(r *RawPlanRequest) { r.Mode = "turbo" }, apperr.KindBadMode, apperr.CodeBadMode},
		{"bad seed mode", func(r *RawPlanRequest) { r.SeedMode = "chaotic" }, apperr.KindInvalidParams, apperr.CodeInvalidParams},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw := rawRequest()
			tc.mutate(&raw)
			_, err := ParsePlanRequest(raw, 14)
			require.Error(t, err)
			appErr := apperr.AsError(err)
			require.NotNil(t, appErr)
			assert.Equal(t, tc.kind, appErr.Kind)
			assert.Equal(t, tc.code, appErr.Code)
		})
	}
}

func TestParsePlanRequestDayCountBoundaries(t *testing.T) {
	raw := rawRequest()
	raw.EndDate = raw.StartDate // one day
	_, err := ParsePlanRequest(raw, 14)
	assert.NoError(t, err)

	raw.EndDate = "2025-12-14" // exactly 14 days
	_, err = ParsePlanRequest(raw, 14)
	assert.NoError(t, err)

	raw.EndDate = "2025-12-15" // 15 days
	_, err = ParsePlanRequest(raw, 14)
	assert.True(t, apperr.IsKind(err, apperr.KindRangeExceeded))
}

func TestValidateCoords(t *testing.T) {
	assert.NoError(t, ValidateCoords(23.129, 113.264))
	assert.Error(t, ValidateCoords(90.1, 0))
	assert.Error(t, ValidateCoords(0, -180.5))
}

func TestDateHelpers(t *testing.T) {
	d := MustDate("2025-12-01")
	assert.Equal(t, "2025-12-03", d.AddDays(2).String())
	assert.Equal(t, 2, d.DaysUntil(MustDate("2025-12-03")))

	min, err := ParseClock("09:30")
	require.NoError(t, err)
	assert.Equal(t, 570, min)
	assert.Equal(t, "09:30", FormatClock(570))
}
