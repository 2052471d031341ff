package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// autoAcceptInput is everything the side channel needs about one
// candidate to compute its score and evaluate its policy gate.
type autoAcceptInput struct {
	DriverID         uuid.UUID
	PReject          float64
	DistanceScore    float64 // 0-100, reused from the main scorer's distance component
	FareScore        float64 // 0-100
	TimeWindowScore  float64 // 0-100
	DriverFitScore   float64 // 0-100
	PickupDistanceKm float64
	FinalFare        int64
	TripDistanceKm   float64
	ZoneID           string
	Hour             int
}

// autoAcceptScore computes the 0-100 side-channel score: 0.40*(1-p_reject)
// + 0.20*distance_score + 0.15*fare_score + 0.15*time_window_score +
// 0.10*driver_fit_score.
func autoAcceptScore(in autoAcceptInput, w AutoAcceptConfig) float64 {
	return (1-in.PReject)*100*w.ScoreWeightAcceptance +
		in.DistanceScore*w.ScoreWeightDistance +
		in.FareScore*w.ScoreWeightFare +
		in.TimeWindowScore*w.ScoreWeightTimeWindow +
		in.DriverFitScore*w.ScoreWeightDriverFit
}

// evaluateAutoAcceptPolicy enforces the per-driver auto-accept gate. The
// engine itself never auto-accepts; this decision is attached to the
// offer payload and logged for the driver client to act on.
func evaluateAutoAcceptPolicy(ctx context.Context, store AutoAcceptPolicyStore, in autoAcceptInput, cfg AutoAcceptConfig, now time.Time) (allowed bool, blockReason string) {
	if store == nil {
		return false, "AUTO_ACCEPT_NOT_CONFIGURED"
	}
	policy, err := store.GetPolicy(ctx, in.DriverID)
	if err != nil {
		return false, "POLICY_LOOKUP_FAILED"
	}
	if !policy.Enabled {
		return false, "DISABLED"
	}
	if in.PickupDistanceKm > policy.MaxPickupDistanceKm {
		return false, "MAX_PICKUP_DISTANCE"
	}
	if in.FinalFare < policy.MinFare {
		return false, "MIN_FARE"
	}
	if in.TripDistanceKm < policy.MinTripDistanceKm {
		return false, "MIN_TRIP_DISTANCE"
	}
	if len(policy.ActiveHours) > 0 && !policy.ActiveHours[in.Hour] {
		return false, "OUTSIDE_ACTIVE_HOURS"
	}
	if in.ZoneID != "" && policy.BlacklistedZones[in.ZoneID] {
		return false, "BLACKLISTED_ZONE"
	}

	stats, err := store.DailyStats(ctx, in.DriverID, now.Format("2006-01-02"))
	if err != nil {
		return false, "STATS_LOOKUP_FAILED"
	}
	if policy.DailyCap > 0 && stats.Count >= policy.DailyCap {
		return false, "DAILY_CAP"
	}
	if policy.CooldownMinutes > 0 && !stats.LastAutoAcceptAt.IsZero() {
		if now.Sub(stats.LastAutoAcceptAt) < time.Duration(policy.CooldownMinutes)*time.Minute {
			return false, "COOLDOWN"
		}
	}
	if policy.ConsecutiveCap > 0 && stats.ConsecutiveCount >= policy.ConsecutiveCap {
		return false, "CONSECUTIVE_CAP"
	}
	if stats.TotalAutoAccepted >= cfg.MinCompletionRateSampleSize {
		completionRate := float64(stats.CompletedCount) / float64(stats.TotalAutoAccepted)
		if completionRate < cfg.MinCompletionRate {
			return false, "LOW_COMPLETION_RATE"
		}
	}
	return true, ""
}
