package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/trustguard/riskcore/internal/models"
	"github.com/trustguard/riskcore/internal/queue"
)

// callTimeout bounds every external connector call.
const callTimeout = 10 * time.Second

// CreditScoreResult is the bureau response for one user.
type CreditScoreResult struct {
	Success         bool `json:"success"`
	CreditScore     int  `json:"credit_score"`
	HasRestrictions bool `json:"has_restrictions"`
	IsWatchlisted   bool `json:"is_watchlisted"`
}

// CreditBureau checks a user against the regional credit bureau.
type CreditBureau interface {
	CheckCreditScore(ctx context.Context, userID string) (*CreditScoreResult, error)
}

// Geolocator resolves an IP to location and network reputation.
type Geolocator interface {
	Lookup(ctx context.Context, ip string) (*models.LocationData, error)
}

// IPReputation reports anonymization-network flags for an IP.
type IPReputationResult struct {
	IsVPN     bool `json:"is_vpn"`
	IsProxy   bool `json:"is_proxy"`
	IsTor     bool `json:"is_tor"`
	IsHosting bool `json:"is_hosting"`
}

type IPReputation interface {
	Check(ctx context.Context, ip string) (*IPReputationResult, error)
}

// HTTPGeolocator is the production Geolocator fronting the geo service.
type HTTPGeolocator struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPGeolocator(baseURL, apiKey string) *HTTPGeolocator {
	return &HTTPGeolocator{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: callTimeout},
	}
}

func (g *HTTPGeolocator) Lookup(ctx context.Context, ip string) (*models.LocationData, error) {
	endpoint := fmt.Sprintf("%s/v1/geolocate?ip=%s", g.baseURL, url.QueryEscape(ip))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build geolocation request: %w", err)
	}
	req.Header.Set("X-API-Key", g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geolocation lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geolocation service returned status %d", resp.StatusCode)
	}

	var loc models.LocationData
	if err := json.NewDecoder(resp.Body).Decode(&loc); err != nil {
		return nil, fmt.Errorf("failed to decode geolocation response: %w", err)
	}
	loc.IP = ip
	return &loc, nil
}

// CachedGeolocator fronts a Geolocator with a Redis cache. IP reputation data
// goes stale slowly, so a generous TTL is safe.
type CachedGeolocator struct {
	inner Geolocator
	cache *queue.CacheClient
	ttl   time.Duration
}

func NewCachedGeolocator(inner Geolocator, cache *queue.CacheClient, ttl time.Duration) *CachedGeolocator {
	return &CachedGeolocator{inner: inner, cache: cache, ttl: ttl}
}

func (g *CachedGeolocator) Lookup(ctx context.Context, ip string) (*models.LocationData, error) {
	key := "geo:" + ip

	var cached models.LocationData
	err := g.cache.Get(ctx, key, &cached)
	if err == nil {
		return &cached, nil
	}
	if !queue.IsMiss(err) {
		log.Warn().Err(err).Str("ip", ip).Msg("Geolocation cache read failed")
	}

	loc, err := g.inner.Lookup(ctx, ip)
	if err != nil {
		return nil, err
	}
	if cacheErr := g.cache.Set(ctx, key, loc, g.ttl); cacheErr != nil {
		log.Warn().Err(cacheErr).Str("ip", ip).Msg("Geolocation cache write failed")
	}
	return loc, nil
}

// HTTPCreditBureau is the production bureau connector.
type HTTPCreditBureau struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPCreditBureau(baseURL, apiKey string) *HTTPCreditBureau {
	return &HTTPCreditBureau{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: callTimeout},
	}
}

func (b *HTTPCreditBureau) CheckCreditScore(ctx context.Context, userID string) (*CreditScoreResult, error) {
	endpoint := fmt.Sprintf("%s/v1/credit-score/%s", b.baseURL, url.PathEscape(userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build bureau request: %w", err)
	}
	req.Header.Set("X-API-Key", b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("credit bureau call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("credit bureau returned status %d", resp.StatusCode)
	}

	var result CreditScoreResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode bureau response: %w", err)
	}
	return &result, nil
}

// LocationIPReputation derives reputation flags from geolocation data, for
// deployments without a dedicated reputation feed.
type LocationIPReputation struct {
	geo Geolocator
}

func NewLocationIPReputation(geo Geolocator) *LocationIPReputation {
	return &LocationIPReputation{geo: geo}
}

func (r *LocationIPReputation) Check(ctx context.Context, ip string) (*IPReputationResult, error) {
	loc, err := r.geo.Lookup(ctx, ip)
	if err != nil {
		return nil, err
	}
	return &IPReputationResult{
		IsVPN:     loc.IsVPN,
		IsProxy:   loc.IsProxy,
		IsTor:     loc.IsTor,
		IsHosting: loc.IsHosting,
	}, nil
}
