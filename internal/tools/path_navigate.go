package tools

import (
	"context"
	"math"
)

// Travel modes accepted by path_navigate.
var travelModes = map[string]float64{
	"driving":   60.0,
	"transit":   40.0,
	"bicycling": 15.0,
	"walking":   5.0,
}

// PathNavigateTool estimates distance and duration for batched routes
// from a length heuristic. Offline-friendly: no external calls.
type PathNavigateTool struct{}

// NewPathNavigateTool builds the estimator.
func NewPathNavigateTool() *PathNavigateTool { return &PathNavigateTool{} }

func (t *PathNavigateTool) Name() string { return "path_navigate" }

func (t *PathNavigateTool) Description() string {
	return "规划多条路线的粗略距离与时长评估（本地估算，缺少真实路况时返回近似值）。"
}

func (t *PathNavigateTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"routes": map[string]any{
				"type":     "array",
				"minItems": 1,
				"maxItems": 20,
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"origin":      map[string]any{"type": "string"},
						"destination": map[string]any{"type": "string"},
					},
				},
			},
			"travel_mode": map[string]any{"type": "string", "enum": []string{"driving", "walking", "transit", "bicycling"}},
			"strategy":    map[string]any{"type": "integer", "minimum": 0, "maximum": 9},
			"city":        map[string]any{"type": "string"},
		},
		"required": []string{"routes"},
	}
}

func (t *PathNavigateTool) Validate(args Args) error {
	routes, err := decodeRoutes(args)
	if err != nil {
		return err
	}
	if len(routes) == 0 || len(routes) > 20 {
		return invalidArg("path_navigate: routes must contain 1-20 entries")
	}
	if mode, ok := argString(args, "travel_mode"); ok && mode != "" {
		if _, known := travelModes[mode]; !known {
			return invalidArg("path_navigate: unknown travel_mode %q", mode)
		}
	}
	if _, present := args["strategy"]; present {
		strategy, ok := argInt(args, "strategy")
		if !ok || strategy < 0 || strategy > 9 {
			return invalidArg("path_navigate: strategy must be between 0 and 9")
		}
	}
	return nil
}

type routePair struct {
	origin      string
	destination string
}

func decodeRoutes(args Args) ([]routePair, error) {
	raw, ok := args["routes"].([]any)
	if !ok {
		if typed, isTyped := args["routes"].([]map[string]string); isTyped {
			routes := make([]routePair, 0, len(typed))
			for _, r := range typed {
				routes = append(routes, routePair{origin: r["origin"], destination: r["destination"]})
			}
			return routes, nil
		}
		return nil, invalidArg("path_navigate: routes must be a list of objects")
	}
	routes := make([]routePair, 0, len(raw))
	for _, item := range raw {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, invalidArg("path_navigate: each route must be an object")
		}
		origin, _ := obj["origin"].(string)
		destination, _ := obj["destination"].(string)
		routes = append(routes, routePair{origin: origin, destination: destination})
	}
	return routes, nil
}

func (t *PathNavigateTool) Invoke(_ context.Context, _ CallContext, args Args) (map[string]any, error) {
	routes, err := decodeRoutes(args)
	if err != nil {
		return nil, err
	}
	mode, _ := argString(args, "travel_mode")
	if mode == "" {
		mode = "driving"
	}
	strategy, _ := argInt(args, "strategy")
	city, _ := argString(args, "city")

	results := make([]map[string]any, 0, len(routes))
	for _, route := range routes {
		origin := route.origin
		if origin == "" {
			origin = "未知起点"
		}
		destination := route.destination
		if destination == "" {
			destination = "未知终点"
		}
		distanceKM := estimateDistanceKM(origin, destination)
		durationMin := estimateDurationMin(distanceKM, mode)
		result := map[string]any{
			"origin":       origin,
			"destination":  destination,
			"distance_km":  math.Round(distanceKM*10) / 10,
			"duration_min": math.Round(durationMin),
			"travel_mode":  mode,
		}
		if mode == "driving" {
			result["strategy"] = strategy
		}
		if city != "" {
			result["city"] = city
		}
		results = append(results, result)
	}
	return map[string]any{
		"status": "ok",
		"summary": map[string]any{
			"total_routes": len(results),
			"travel_mode":  mode,
		},
		"routes": results,
	}, nil
}

// estimateDistanceKM seeds on the combined name length, clamped to a
// plausible road-trip range.
func estimateDistanceKM(origin, destination string) float64 {
	seed := len([]rune(origin)) + len([]rune(destination))
	return math.Max(1.0, math.Min(1200.0, float64(seed)*3.1))
}

func estimateDurationMin(distanceKM float64, mode string) float64 {
	speed, ok := travelModes[mode]
	if !ok {
		speed = 40.0
	}
	return distanceKM / speed * 60.0
}
