package poi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"travelist/internal/apperr"
	"travelist/internal/logging"
	"travelist/internal/schema"
)

// Provider is the external POI source port.
type Provider interface {
	Name() string
	Search(ctx context.Context, lat, lng float64, poiType string, radiusM, limit int) ([]schema.Poi, error)
}

// MockProvider returns a deterministic sample set: at most 10 items with
// predictable ids, ratings stepping down by 0.05 and coordinates offset by
// (idx+1)*0.001 degrees.
type MockProvider struct{}

func (MockProvider) Name() string { return "mock" }

func (MockProvider) Search(_ context.Context, lat, lng float64, poiType string, _, limit int) ([]schema.Poi, error) {
	typeStr := strings.TrimSpace(poiType)
	if typeStr == "" {
		typeStr = "place"
	}
	count := limit
	if count > 10 {
		count = 10
	}
	pois := make([]schema.Poi, 0, count)
	for idx := 0; idx < count; idx++ {
		offset := float64(idx+1) * 0.001
		pois = append(pois, schema.Poi{
			Provider:   "mock",
			ProviderID: fmt.Sprintf("%s-%d", typeStr, idx),
			Name:       fmt.Sprintf("Mock %s %d", titleCase(typeStr), idx+1),
			Category:   typeStr,
			Addr:       fmt.Sprintf("附近道路 %d 号", idx+1),
			Rating:     roundRating(4.0 - float64(idx)*0.05),
			Lat:        lat + offset,
			Lng:        lng + offset,
		})
	}
	return pois, nil
}

func roundRating(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// AmapProvider wraps the Amap place/around search with a timeout, one
// retry and the shared external-call semaphore.
type AmapProvider struct {
	apiKey   string
	client   *http.Client
	external *semaphore.Weighted
	logger   logging.Logger
}

// NewAmapProvider builds the Amap provider. external may be nil.
func NewAmapProvider(apiKey string, external *semaphore.Weighted, logger logging.Logger) *AmapProvider {
	return &AmapProvider{
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 6 * time.Second},
		external: external,
		logger:   logging.OrNop(logger),
	}
}

func (p *AmapProvider) Name() string { return "amap" }

type amapAroundResponse struct {
	Status string `json:"status"`
	Info   string `json:"info"`
	Pois   []struct {
		ID       string          `json:"id"`
		Name     string          `json:"name"`
		Type     string          `json:"type"`
		Address  string          `json:"address"`
		Location string          `json:"location"`
		Tel      string          `json:"tel"`
		Pname    string          `json:"pname"`
		BizExt   json.RawMessage `json:"biz_ext"`
	} `json:"pois"`
}

func (p *AmapProvider) Search(ctx context.Context, lat, lng float64, poiType string, radiusM, limit int) ([]schema.Poi, error) {
	if p.external != nil {
		if err := p.external.Acquire(ctx, 1); err != nil {
			return nil, apperr.Wrap(apperr.KindPoiProviderError, "waiting for external slot", err)
		}
		defer p.external.Release(1)
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		pois, err := p.search(ctx, lat, lng, poiType, radiusM, limit)
		if err == nil {
			return pois, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (p *AmapProvider) search(ctx context.Context, lat, lng float64, poiType string, radiusM, limit int) ([]schema.Poi, error) {
	offset := limit
	if offset > 20 {
		offset = 20
	}
	params := url.Values{
		"key":      {p.apiKey},
		"location": {fmt.Sprintf("%f,%f", lng, lat)},
		"radius":   {strconv.Itoa(radiusM)},
		"offset":   {strconv.Itoa(offset)},
		"sortrule": {"distance"},
		"page":     {"1"},
		"output":   {"JSON"},
	}
	if poiType != "" {
		params.Set("types", poiType)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		"https://restapi.amap.com/v3/place/around?"+params.Encode(), nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPoiProviderError, "build request", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPoiProviderError, "amap request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Newf(apperr.KindPoiProviderError, "amap returned status %d", resp.StatusCode)
	}

	var payload amapAroundResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, apperr.Wrap(apperr.KindPoiProviderError, "decode amap response", err)
	}
	if payload.Status != "1" {
		info := payload.Info
		if info == "" {
			info = "amap_error"
		}
		return nil, apperr.Newf(apperr.KindPoiProviderError, "amap api failed: %s", info)
	}

	pois := make([]schema.Poi, 0, len(payload.Pois))
	for _, item := range payload.Pois {
		if len(pois) >= limit {
			break
		}
		parts := strings.SplitN(item.Location, ",", 2)
		if len(parts) != 2 {
			continue
		}
		itemLng, err1 := strconv.ParseFloat(parts[0], 64)
		itemLat, err2 := strconv.ParseFloat(parts[1], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		rating := 0.0
		if len(item.BizExt) > 0 {
			var biz struct {
				Rating any `json:"rating"`
			}
			if json.Unmarshal(item.BizExt, &biz) == nil {
				switch v := biz.Rating.(type) {
				case string:
					rating, _ = strconv.ParseFloat(v, 64)
				case float64:
					rating = v
				}
			}
		}
		pois = append(pois, schema.Poi{
			Provider:   "amap",
			ProviderID: item.ID,
			Name:       item.Name,
			Category:   item.Type,
			Addr:       item.Address,
			Rating:     rating,
			Lat:        itemLat,
			Lng:        itemLng,
			Ext:        map[string]any{"tel": item.Tel, "pname": item.Pname},
		})
	}
	return pois, nil
}

// BuildProvider selects the configured provider, silently degrading an
// unconfigured amap provider to mock.
func BuildProvider(name, apiKey string, external *semaphore.Weighted, logger logging.Logger) Provider {
	if strings.EqualFold(name, "amap") && apiKey != "" {
		return NewAmapProvider(apiKey, external, logger)
	}
	return MockProvider{}
}
