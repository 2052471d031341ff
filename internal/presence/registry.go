// Package presence tracks drivers' live connection and last-known-location
// state in Redis: the "is this driver reachable right now" layer the
// dispatch engine's candidate search reads from. Grounded on the teacher's
// internal/redis.DriverPool (GeoAdd/GeoRadius proximity index, a JSON blob
// per driver, TTL-bounded freshness), generalized from per-driver location
// pings into the full domain.Presence record the scorer ranks against.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ubi-africa/dispatch-core/internal/domain"
)

const (
	geoIndexKey   = "presence:geo"
	presenceKey   = "presence:driver:"
	presenceTTL   = domain.FreshnessWindow + 30*time.Second
	defaultRadiusM = 10_000.0
)

// Registry is the Redis-backed driver presence store. *Registry satisfies
// dispatch.PresenceSource.
type Registry struct {
	client *redis.Client
}

func NewRegistry(client *redis.Client) *Registry {
	return &Registry{client: client}
}

// Heartbeat upserts a driver's presence record and refreshes its geo-index
// entry. Called on every location ping / availability change from the
// driver's socket connection.
func (r *Registry) Heartbeat(ctx context.Context, p domain.Presence) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal presence: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.Set(ctx, presenceKey+p.DriverID.String(), data, presenceTTL)
	pipe.GeoAdd(ctx, geoIndexKey, &redis.GeoLocation{
		Name: p.DriverID.String(), Latitude: p.LastLat, Longitude: p.LastLng,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write presence: %w", err)
	}
	return nil
}

// Drop removes a driver from presence tracking: socket disconnect or
// explicit go-offline.
func (r *Registry) Drop(ctx context.Context, driverID uuid.UUID) error {
	pipe := r.client.Pipeline()
	pipe.Del(ctx, presenceKey+driverID.String())
	pipe.ZRem(ctx, geoIndexKey, driverID.String())
	_, err := pipe.Exec(ctx)
	return err
}

// Get returns a single driver's current presence record, if tracked.
func (r *Registry) Get(ctx context.Context, driverID uuid.UUID) (*domain.Presence, error) {
	data, err := r.client.Get(ctx, presenceKey+driverID.String()).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var p domain.Presence
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// NearbyDrivers implements dispatch.PresenceSource: every presence record
// within radiusKm of pickup, geo-indexed closest-first. Freshness and
// availability filtering is left to the caller's scoring pass
// (domain.Presence.IsRankable), since a driver just past the freshness
// window is still useful context for logging.
func (r *Registry) NearbyDrivers(ctx context.Context, pickup domain.Point, radiusKm float64, at time.Time) ([]domain.Presence, error) {
	radiusM := radiusKm * 1000
	if radiusM <= 0 {
		radiusM = defaultRadiusM
	}
	results, err := r.client.GeoRadius(ctx, geoIndexKey, pickup.Lng, pickup.Lat, &redis.GeoRadiusQuery{
		Radius: radiusM, Unit: "m", Sort: "ASC", Count: 200,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("geo radius search: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	keys := make([]string, len(results))
	for i, res := range results {
		keys[i] = presenceKey + res.Name
	}
	raw, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("batch fetch presence: %w", err)
	}

	out := make([]domain.Presence, 0, len(raw))
	for i, v := range raw {
		if v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		var p domain.Presence
		if err := json.Unmarshal([]byte(s), &p); err != nil {
			log.Warn().Err(err).Str("driver_id", results[i].Name).Msg("failed to unmarshal presence record, skipping")
			continue
		}
		out = append(out, p)
	}
	return out, nil
}
