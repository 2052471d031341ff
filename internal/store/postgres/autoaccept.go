package postgres

import (
	"context"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ubi-africa/dispatch-core/internal/dispatch"
)

// AutoAcceptStore implements dispatch.AutoAcceptPolicyStore against
// driver_auto_accept_settings (one row per driver's configured gate) and
// daily_auto_accept_stats (one row per driver per day, the cap/cooldown/
// consecutive-count counters the policy gate consults).
type AutoAcceptStore struct {
	pool *pgxpool.Pool
}

func (s *AutoAcceptStore) GetPolicy(ctx context.Context, driverID uuid.UUID) (dispatch.AutoAcceptPolicy, error) {
	var p dispatch.AutoAcceptPolicy
	var activeHours, blacklistedZones []string
	err := s.pool.QueryRow(ctx, `
		SELECT enabled, max_pickup_distance_km, min_fare, min_trip_distance_km,
			active_hours, blacklisted_zones, daily_cap, cooldown_minutes, consecutive_cap
		FROM driver_auto_accept_settings WHERE driver_id = $1`,
		driverID,
	).Scan(&p.Enabled, &p.MaxPickupDistanceKm, &p.MinFare, &p.MinTripDistanceKm,
		&activeHours, &blacklistedZones, &p.DailyCap, &p.CooldownMinutes, &p.ConsecutiveCap)
	if errors.Is(err, pgx.ErrNoRows) {
		return dispatch.AutoAcceptPolicy{}, nil
	}
	if err != nil {
		return dispatch.AutoAcceptPolicy{}, err
	}

	if len(activeHours) > 0 {
		p.ActiveHours = make(map[int]bool, len(activeHours))
		for _, h := range activeHours {
			if hour, err := strconv.Atoi(h); err == nil {
				p.ActiveHours[hour] = true
			}
		}
	}
	if len(blacklistedZones) > 0 {
		p.BlacklistedZones = make(map[string]bool, len(blacklistedZones))
		for _, z := range blacklistedZones {
			p.BlacklistedZones[z] = true
		}
	}
	return p, nil
}

func (s *AutoAcceptStore) DailyStats(ctx context.Context, driverID uuid.UUID, date string) (dispatch.AutoAcceptDailyStats, error) {
	var stats dispatch.AutoAcceptDailyStats
	err := s.pool.QueryRow(ctx, `
		SELECT count, consecutive_count, last_auto_accept_at, completed_count, total_auto_accepted
		FROM daily_auto_accept_stats WHERE driver_id = $1 AND date = $2`,
		driverID, date,
	).Scan(&stats.Count, &stats.ConsecutiveCount, &stats.LastAutoAcceptAt, &stats.CompletedCount, &stats.TotalAutoAccepted)
	if errors.Is(err, pgx.ErrNoRows) {
		return dispatch.AutoAcceptDailyStats{}, nil
	}
	return stats, err
}
