// Package poi implements the layered POI lookup: normalized cache key ->
// local spatial index -> external provider, with dedup and persistence on
// fetch.
package poi

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"travelist/internal/schema"
)

// Result sources.
const (
	SourceCache = "cache"
	SourceDB    = "db"
	SourceAPI   = "api"
)

// Item is one POI result with its computed distance from the query point.
type Item struct {
	schema.Poi
	DistanceM float64 `json:"distance_m"`
	Source    string  `json:"source"`
}

// Meta describes how a result set was obtained.
type Meta struct {
	Source   string `json:"source"`
	Degraded bool   `json:"degraded,omitempty"`
}

// CacheKey builds the normalized lookup key with coordinates quantized to
// precision decimal places and the type slot defaulting to "all".
func CacheKey(lat, lng float64, poiType string, radius, limit, precision int) string {
	if precision < 0 {
		precision = 0
	}
	typeSlot := strings.TrimSpace(poiType)
	if typeSlot == "" {
		typeSlot = "all"
	}
	latQ := strconv.FormatFloat(quantize(lat, precision), 'f', -1, 64)
	lngQ := strconv.FormatFloat(quantize(lng, precision), 'f', -1, 64)
	return fmt.Sprintf("poi:around:%s:%s:%s:%d:%d", latQ, lngQ, typeSlot, radius, limit)
}

func quantize(v float64, precision int) float64 {
	scale := math.Pow10(precision)
	return math.Round(v*scale) / scale
}

const earthRadiusM = 6371000.0

// HaversineM returns the great-circle distance in meters.
func HaversineM(lat1, lng1, lat2, lng2 float64) float64 {
	rad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := rad(lat2 - lat1)
	dLng := rad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusM * math.Asin(math.Min(1, math.Sqrt(a)))
}
