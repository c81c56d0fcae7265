package tools

import (
	"context"

	"travelist/internal/poi"
)

// PoiAroundTool exposes the layered POI lookup to the assistant.
type PoiAroundTool struct {
	svc *poi.Service
}

// NewPoiAroundTool wraps the POI service.
func NewPoiAroundTool(svc *poi.Service) *PoiAroundTool {
	return &PoiAroundTool{svc: svc}
}

func (t *PoiAroundTool) Name() string { return "poi_around" }

func (t *PoiAroundTool) Description() string {
	return "按坐标搜索附近兴趣点，支持类型过滤与半径限制。"
}

func (t *PoiAroundTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"lat":    map[string]any{"type": "number"},
			"lng":    map[string]any{"type": "number"},
			"type":   map[string]any{"type": "string"},
			"radius": map[string]any{"type": "integer", "minimum": 1},
			"limit":  map[string]any{"type": "integer", "minimum": 1, "maximum": 100},
		},
		"required": []string{"lat", "lng"},
	}
}

func (t *PoiAroundTool) Validate(args Args) error {
	if _, ok := argFloat(args, "lat"); !ok {
		return invalidArg("poi_around: lat is required")
	}
	if _, ok := argFloat(args, "lng"); !ok {
		return invalidArg("poi_around: lng is required")
	}
	return nil
}

func (t *PoiAroundTool) Invoke(ctx context.Context, _ CallContext, args Args) (map[string]any, error) {
	lat, _ := argFloat(args, "lat")
	lng, _ := argFloat(args, "lng")
	poiType, _ := argString(args, "type")
	radius, _ := argInt(args, "radius")
	limit, _ := argInt(args, "limit")

	items, meta, err := t.svc.Around(ctx, poi.Query{
		Lat: lat, Lng: lng, Type: poiType, RadiusM: radius, Limit: limit,
	})
	if err != nil {
		return nil, err
	}
	pois := make([]map[string]any, 0, len(items))
	for _, item := range items {
		pois = append(pois, map[string]any{
			"poi_id":     item.Key(),
			"name":       item.Name,
			"category":   item.Category,
			"addr":       item.Addr,
			"rating":     item.Rating,
			"lat":        item.Lat,
			"lng":        item.Lng,
			"distance_m": item.DistanceM,
		})
	}
	return map[string]any{
		"status":   "ok",
		"source":   meta.Source,
		"degraded": meta.Degraded,
		"total":    len(pois),
		"pois":     pois,
	}, nil
}
