package eta

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"
)

// RoadNetworkOracle is the external routing provider contract. A miss in
// both cache tiers, with budget remaining, calls through this interface.
// Implementations are grounded in the teacher's GoogleMapsRoutingClient /
// MapboxRoutingClient / OSRMRoutingClient, trimmed to the duration/distance
// pair this package actually needs.
type RoadNetworkOracle interface {
	Route(ctx context.Context, pair RoadNetworkPair, at time.Time) (RoadNetworkResult, error)
	// RouteBatch resolves up to 25 pairs in a single call, matching the
	// provider batch ceiling used by eta_batch.
	RouteBatch(ctx context.Context, pairs []RoadNetworkPair, at time.Time) ([]RoadNetworkResult, error)
}

const maxBatchPairs = 25

// GoogleRoutesClient calls the Google Maps Directions API.
type GoogleRoutesClient struct {
	apiKey string
	http   *http.Client
}

func NewGoogleRoutesClient() *GoogleRoutesClient {
	return &GoogleRoutesClient{
		apiKey: os.Getenv("GOOGLE_MAPS_API_KEY"),
		http:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (g *GoogleRoutesClient) Route(ctx context.Context, pair RoadNetworkPair, at time.Time) (RoadNetworkResult, error) {
	if g.apiKey == "" {
		return RoadNetworkResult{}, fmt.Errorf("GOOGLE_MAPS_API_KEY not configured")
	}

	params := url.Values{}
	params.Set("origin", fmt.Sprintf("%.6f,%.6f", pair.Origin.Lat, pair.Origin.Lng))
	params.Set("destination", fmt.Sprintf("%.6f,%.6f", pair.Destination.Lat, pair.Destination.Lng))
	params.Set("key", g.apiKey)
	params.Set("departure_time", strconv.FormatInt(at.Unix(), 10))
	params.Set("traffic_model", "best_guess")

	reqURL := "https://maps.googleapis.com/maps/api/directions/json?" + params.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return RoadNetworkResult{}, fmt.Errorf("build request: %w", err)
	}

	resp, err := g.http.Do(httpReq)
	if err != nil {
		return RoadNetworkResult{}, fmt.Errorf("call google directions: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return RoadNetworkResult{}, fmt.Errorf("read response: %w", err)
	}

	var parsed struct {
		Status string `json:"status"`
		Routes []struct {
			Legs []struct {
				Distance struct {
					Value int64 `json:"value"`
				} `json:"distance"`
				DurationInTraffic struct {
					Value int64 `json:"value"`
				} `json:"duration_in_traffic"`
				Duration struct {
					Value int64 `json:"value"`
				} `json:"duration"`
			} `json:"legs"`
		} `json:"routes"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return RoadNetworkResult{}, fmt.Errorf("parse response: %w", err)
	}
	if parsed.Status != "OK" || len(parsed.Routes) == 0 || len(parsed.Routes[0].Legs) == 0 {
		return RoadNetworkResult{}, fmt.Errorf("no route found: %s", parsed.Status)
	}

	leg := parsed.Routes[0].Legs[0]
	durationS := leg.DurationInTraffic.Value
	if durationS == 0 {
		durationS = leg.Duration.Value
	}

	return RoadNetworkResult{DistanceM: leg.Distance.Value, DurationS: durationS, OK: true}, nil
}

func (g *GoogleRoutesClient) RouteBatch(ctx context.Context, pairs []RoadNetworkPair, at time.Time) ([]RoadNetworkResult, error) {
	return sequentialBatch(ctx, g, pairs, at)
}

// MapboxRoutesClient calls the Mapbox Directions API, used as a fallback
// provider alongside Google.
type MapboxRoutesClient struct {
	token string
	http  *http.Client
}

func NewMapboxRoutesClient() *MapboxRoutesClient {
	return &MapboxRoutesClient{
		token: os.Getenv("MAPBOX_ACCESS_TOKEN"),
		http:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (m *MapboxRoutesClient) Route(ctx context.Context, pair RoadNetworkPair, at time.Time) (RoadNetworkResult, error) {
	if m.token == "" {
		return RoadNetworkResult{}, fmt.Errorf("MAPBOX_ACCESS_TOKEN not configured")
	}

	reqURL := fmt.Sprintf(
		"https://api.mapbox.com/directions/v5/mapbox/driving-traffic/%.6f,%.6f;%.6f,%.6f?access_token=%s",
		pair.Origin.Lng, pair.Origin.Lat, pair.Destination.Lng, pair.Destination.Lat, m.token,
	)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return RoadNetworkResult{}, fmt.Errorf("build request: %w", err)
	}

	resp, err := m.http.Do(httpReq)
	if err != nil {
		return RoadNetworkResult{}, fmt.Errorf("call mapbox directions: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return RoadNetworkResult{}, fmt.Errorf("read response: %w", err)
	}

	var parsed struct {
		Code   string `json:"code"`
		Routes []struct {
			Duration float64 `json:"duration"`
			Distance float64 `json:"distance"`
		} `json:"routes"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return RoadNetworkResult{}, fmt.Errorf("parse response: %w", err)
	}
	if parsed.Code != "Ok" || len(parsed.Routes) == 0 {
		return RoadNetworkResult{}, fmt.Errorf("no route found: %s", parsed.Code)
	}

	route := parsed.Routes[0]
	return RoadNetworkResult{
		DistanceM: int64(route.Distance),
		DurationS: int64(route.Duration),
		OK:        true,
	}, nil
}

func (m *MapboxRoutesClient) RouteBatch(ctx context.Context, pairs []RoadNetworkPair, at time.Time) ([]RoadNetworkResult, error) {
	return sequentialBatch(ctx, m, pairs, at)
}

// FallbackOracle tries each provider in order, moving to the next on error.
// Grounded in the teacher's MultiProviderRoutingClient.
type FallbackOracle struct {
	providers []RoadNetworkOracle
}

func NewFallbackOracle(providers ...RoadNetworkOracle) *FallbackOracle {
	return &FallbackOracle{providers: providers}
}

func (f *FallbackOracle) Route(ctx context.Context, pair RoadNetworkPair, at time.Time) (RoadNetworkResult, error) {
	var lastErr error
	for _, p := range f.providers {
		result, err := p.Route(ctx, pair, at)
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	return RoadNetworkResult{}, fmt.Errorf("all routing providers failed: %w", lastErr)
}

func (f *FallbackOracle) RouteBatch(ctx context.Context, pairs []RoadNetworkPair, at time.Time) ([]RoadNetworkResult, error) {
	return sequentialBatch(ctx, f, pairs, at)
}

// sequentialBatch resolves each pair with single-leg calls, capped at
// maxBatchPairs per invocation. Providers with a native batch endpoint
// should override RouteBatch instead of falling through to this helper.
func sequentialBatch(ctx context.Context, o RoadNetworkOracle, pairs []RoadNetworkPair, at time.Time) ([]RoadNetworkResult, error) {
	if len(pairs) > maxBatchPairs {
		pairs = pairs[:maxBatchPairs]
	}
	results := make([]RoadNetworkResult, len(pairs))
	for i, pair := range pairs {
		res, err := o.Route(ctx, pair, at)
		if err != nil {
			results[i] = RoadNetworkResult{OK: false}
			continue
		}
		results[i] = res
	}
	return results, nil
}
