package server

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"travelist/internal/apperr"
	"travelist/internal/poi"
	"travelist/internal/schema"
)

// poiAround handles GET /api/poi/around.
func (h *handlers) poiAround(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		Fail(c, apperr.New(apperr.KindInvalidParams, "lat and lng are required"))
		return
	}
	if err := schema.ValidateCoords(lat, lng); err != nil {
		Fail(c, err)
		return
	}
	radius, _ := strconv.Atoi(c.Query("radius"))
	limit, _ := strconv.Atoi(c.Query("limit"))

	items, meta, err := h.deps.Poi.Around(c.Request.Context(), poi.Query{
		Lat:     lat,
		Lng:     lng,
		Type:    c.Query("type"),
		RadiusM: radius,
		Limit:   limit,
	})
	if err != nil {
		Fail(c, err)
		return
	}
	OK(c, map[string]any{
		"total": len(items),
		"pois":  items,
		"meta":  meta,
	})
}
