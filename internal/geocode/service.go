// Package geocode resolves a destination name to a city-center coordinate
// with caching and deterministic pseudo-center fallback.
package geocode

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/semaphore"

	"travelist/internal/apperr"
	"travelist/internal/logging"
)

// Providers.
const (
	ProviderDisabled = "disabled"
	ProviderMock     = "mock"
	ProviderAmap     = "amap"
)

// Result is a resolved city center. Source explains how the coordinate was
// obtained; any source other than "api"/"deterministic" means a pseudo
// center was used.
type Result struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Provider string  `json:"provider"`
	Source   string  `json:"source"`
}

// Pseudo reports whether the coordinate is a hash-derived pseudo center
// rather than a real geocode.
func (r Result) Pseudo() bool {
	return r.Source != "api"
}

// PseudoCityCenter derives a deterministic coordinate from the destination
// name: lat in [20.00, 35.00), lng in [100.00, 125.00).
func PseudoCityCenter(destination string) (float64, float64) {
	digest := md5.Sum([]byte(destination))
	hexDigest := hex.EncodeToString(digest[:])
	n1, _ := strconv.ParseUint(hexDigest[:8], 16, 64)
	n2, _ := strconv.ParseUint(hexDigest[8:16], 16, 64)
	lat := 20.0 + float64(n1%1500)/100.0
	lng := 100.0 + float64(n2%2500)/100.0
	return lat, lng
}

// Service resolves destinations through the configured provider with an
// in-process TTL cache.
type Service struct {
	provider string
	apiKey   string
	cache    *expirable.LRU[string, Result]
	client   *http.Client
	external *semaphore.Weighted
	logger   logging.Logger
}

// NewService builds the geocode service. external bounds concurrent
// provider calls and may be nil.
func NewService(provider, apiKey string, cacheTTL time.Duration, external *semaphore.Weighted, logger logging.Logger) *Service {
	if cacheTTL < time.Minute {
		cacheTTL = time.Minute
	}
	return &Service{
		provider: strings.ToLower(strings.TrimSpace(provider)),
		apiKey:   apiKey,
		cache:    expirable.NewLRU[string, Result](512, nil, cacheTTL),
		client:   &http.Client{Timeout: 10 * time.Second},
		external: external,
		logger:   logging.OrNop(logger),
	}
}

// ResolveCityCenter maps a destination to a coordinate. It never fails for
// a non-empty destination: provider errors degrade to the pseudo center.
func (s *Service) ResolveCityCenter(ctx context.Context, destination string) (Result, error) {
	dest := strings.TrimSpace(destination)
	if dest == "" {
		return Result{}, apperr.New(apperr.KindInvalidParams, "destination must not be empty")
	}

	if s.provider == ProviderDisabled || s.provider == "" {
		lat, lng := PseudoCityCenter(dest)
		return Result{Lat: lat, Lng: lng, Provider: ProviderDisabled, Source: "fallback_pseudo"}, nil
	}

	key := fmt.Sprintf("geocode:center:%s:%s", s.provider, dest)
	if cached, ok := s.cache.Get(key); ok {
		return cached, nil
	}

	var result Result
	switch s.provider {
	case ProviderMock:
		lat, lng := PseudoCityCenter(dest)
		result = Result{Lat: lat, Lng: lng, Provider: ProviderMock, Source: "deterministic"}
	case ProviderAmap:
		result = s.amapCityCenter(ctx, dest)
	default:
		lat, lng := PseudoCityCenter(dest)
		result = Result{Lat: lat, Lng: lng, Provider: s.provider, Source: "fallback_pseudo"}
	}
	s.cache.Add(key, result)
	return result, nil
}

type amapGeoResponse struct {
	Status   string `json:"status"`
	Geocodes []struct {
		Location string `json:"location"`
	} `json:"geocodes"`
}

func (s *Service) amapCityCenter(ctx context.Context, destination string) Result {
	fallback := func(source string) Result {
		lat, lng := PseudoCityCenter(destination)
		return Result{Lat: lat, Lng: lng, Provider: ProviderAmap, Source: source}
	}
	if s.apiKey == "" {
		return fallback("fallback_missing_key")
	}
	if s.external != nil {
		if err := s.external.Acquire(ctx, 1); err != nil {
			return fallback("fallback")
		}
		defer s.external.Release(1)
	}

	query := url.Values{"address": {destination}, "key": {s.apiKey}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		"https://restapi.amap.com/v3/geocode/geo?"+query.Encode(), nil)
	if err != nil {
		return fallback("fallback")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("amap geocode failed for %q: %v", destination, err)
		return fallback("fallback")
	}
	defer func() { _ = resp.Body.Close() }()

	var data amapGeoResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return fallback("fallback_parse")
	}
	if data.Status != "1" {
		return fallback("fallback_bad_status")
	}
	if len(data.Geocodes) == 0 {
		return fallback("fallback_empty")
	}
	loc := data.Geocodes[0].Location
	parts := strings.SplitN(loc, ",", 2)
	if len(parts) != 2 {
		return fallback("fallback_missing_location")
	}
	lng, err1 := strconv.ParseFloat(parts[0], 64)
	lat, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil {
		return fallback("fallback_parse")
	}
	return Result{Lat: lat, Lng: lng, Provider: ProviderAmap, Source: "api"}
}
