package assistant

import (
	"regexp"
	"strings"
	"time"
)

// Intents produced by the rule router.
const (
	IntentPoiNearby  = "poi_nearby"
	IntentTripQuery  = "trip_query"
	IntentWeather    = "weather"
	IntentNavigation = "navigation"
	IntentGeneralQA  = "general_qa"
)

// Route is the router verdict: intent, confidence and extracted slots.
type Route struct {
	Intent     string
	Confidence float64
	Weather    *WeatherSlots
	Nav        *NavSlots
	PoiType    string
}

// WeatherSlots are the date/location slots of a weather query.
type WeatherSlots struct {
	Locations  []string
	TargetDate *time.Time
	DayOffset  int // -1 when unresolved
	DayLabel   string
}

// NavSlots are the origin/destination slots of a navigation query.
type NavSlots struct {
	Origin      string
	Destination string
}

var (
	weatherKeywords = []string{"天气", "weather", "气温", "温度", "下雨", "降雨", "风力", "风向"}
	navKeywords     = []string{"怎么去", "怎么走", "导航", "路线", "开车去", "打车去"}
	poiKeywords     = []string{"附近", "周边", "周围", "景点", "好吃", "餐厅", "美食", "hotel"}
	tripKeywords    = []string{"行程", "trip", "计划", "安排"}
)

// Router classifies a user query with keyword heuristics and extracts
// the slots the tool layer needs. Classification is fully deterministic.
type Router struct {
	now func() time.Time
}

// NewRouter builds the rule router.
func NewRouter() *Router { return &Router{now: time.Now} }

// Classify routes a query. Weather wins over POI so "附近明天下雨吗" is a
// weather question, not a nearby search.
func (r *Router) Classify(query string) Route {
	lowered := strings.ToLower(strings.TrimSpace(query))
	switch {
	case containsAny(lowered, weatherKeywords):
		slots := r.weatherSlots(query)
		return Route{Intent: IntentWeather, Confidence: 0.9, Weather: &slots}
	case containsAny(lowered, navKeywords):
		nav := navSlots(query)
		return Route{Intent: IntentNavigation, Confidence: 0.85, Nav: &nav}
	case containsAny(lowered, poiKeywords):
		return Route{Intent: IntentPoiNearby, Confidence: 0.85, PoiType: GuessPoiType(query)}
	case containsAny(lowered, tripKeywords):
		return Route{Intent: IntentTripQuery, Confidence: 0.8}
	default:
		return Route{Intent: IntentGeneralQA, Confidence: 0.3}
	}
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// GuessPoiType maps category keywords in the query to a POI type.
func GuessPoiType(query string) string {
	lowered := strings.ToLower(query)
	switch {
	case containsAny(lowered, []string{"美食", "好吃", "餐厅", "吃饭", "小吃"}):
		return "food"
	case containsAny(lowered, []string{"酒店", "住宿", "hotel", "民宿"}):
		return "hotel"
	case containsAny(lowered, []string{"博物馆", "展览"}):
		return "museum"
	case containsAny(lowered, []string{"公园"}):
		return "park"
	case containsAny(lowered, []string{"景点", "游玩", "打卡"}):
		return "sight"
	default:
		return ""
	}
}

var explicitDateRE = regexp.MustCompile(`(20\d{2})[.\-/年](\d{1,2})[.\-/月](\d{1,2})日?`)

// relativeDays is checked in order so 大后天 is not swallowed by 后天.
var relativeDays = []struct {
	token  string
	offset int
	label  string
}{
	{"大后天", 3, "大后天"},
	{"后天", 2, "后天"},
	{"明天", 1, "明天"},
	{"明日", 1, "明天"},
	{"明早", 1, "明天"},
	{"明晚", 1, "明天"},
	{"今天", 0, "今天"},
	{"今日", 0, "今天"},
	{"现在", 0, "今天"},
	{"今晚", 0, "今天"},
	{"今夜", 0, "今天"},
}

var dayLabels = map[int]string{0: "今天", 1: "明天", 2: "后天", 3: "大后天"}

// ResolveRelativeDate resolves 今天/明天/后天/大后天 or an explicit date
// against base. Offset is -1 when the query names no date.
func ResolveRelativeDate(query string, base time.Time) (*time.Time, int, string) {
	text := strings.TrimSpace(query)
	if text == "" {
		return nil, -1, ""
	}
	// Compare calendar dates in base's zone; truncating the instant would
	// shift the day boundary to UTC midnight.
	y, mo, d := base.Date()
	base = time.Date(y, mo, d, 0, 0, 0, 0, base.Location())

	if m := explicitDateRE.FindStringSubmatch(text); m != nil {
		target, err := time.ParseInLocation("2006-1-2", m[1]+"-"+m[2]+"-"+m[3], base.Location())
		if err != nil {
			return nil, -1, ""
		}
		offset := int(target.Sub(base) / (24 * time.Hour))
		return &target, offset, dayLabels[offset]
	}

	for _, rel := range relativeDays {
		if strings.Contains(text, rel.token) {
			target := base.AddDate(0, 0, rel.offset)
			return &target, rel.offset, rel.label
		}
	}
	return nil, -1, ""
}

var (
	relativeTokenRE = regexp.MustCompile(`今天|今日|现在|今晚|今夜|明天|明日|明早|明晚|后天|大后天|本周|这周|下周|周末|这个周末|未来\d+天|接下来\d+天`)
	weatherWordRE   = regexp.MustCompile(`天气预报|天气情况|天气|气温|温度|下雨|降雨|风力|风向|空气质量|冷不冷|热不热|怎么样|如何|咋样|呢|呀|吧`)
	punctuationRE   = regexp.MustCompile(`[\s，,。．.？！?!：:；;（）()【】\[\]“”"'<>《》、/\\-]+`)
	locationSplitRE = regexp.MustCompile(`\s+|和|与|及|、`)
)

// ExtractWeatherLocations strips date and weather words from the query
// and splits what remains into location candidates.
func ExtractWeatherLocations(query string) []string {
	text := strings.TrimSpace(query)
	if text == "" {
		return nil
	}
	text = explicitDateRE.ReplaceAllString(text, "")
	text = relativeTokenRE.ReplaceAllString(text, "")
	text = weatherWordRE.ReplaceAllString(text, "")
	text = strings.TrimSpace(punctuationRE.ReplaceAllString(text, " "))
	if text == "" {
		return nil
	}

	var locations []string
	for _, part := range locationSplitRE.Split(text, -1) {
		part = strings.Trim(part, "的 ")
		if part != "" {
			locations = append(locations, part)
		}
	}
	return locations
}

func (r *Router) weatherSlots(query string) WeatherSlots {
	base := r.now().In(cstZone())
	target, offset, label := ResolveRelativeDate(query, base)
	return WeatherSlots{
		Locations:  ExtractWeatherLocations(query),
		TargetDate: target,
		DayOffset:  offset,
		DayLabel:   label,
	}
}

var navRouteRE = regexp.MustCompile(`从(.{1,20}?)(?:到|去)(.{1,20}?)(?:怎么走|怎么去|的路线|要多久|$)`)

func navSlots(query string) NavSlots {
	text := strings.TrimSpace(query)
	if m := navRouteRE.FindStringSubmatch(text); m != nil {
		return NavSlots{
			Origin:      strings.TrimSpace(m[1]),
			Destination: strings.TrimSpace(m[2]),
		}
	}
	return NavSlots{}
}

func cstZone() *time.Location {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		return time.FixedZone("CST", 8*3600)
	}
	return loc
}
