package predictor

import "github.com/ubi-africa/dispatch-core/internal/domain"

// RuleInput is the raw (non-normalized) context the fallback rule engine
// reasons over — distinct from Features, since several rules compare
// against a driver's own historical values rather than fixed ranges.
type RuleInput struct {
	DistanceToPickupKm float64
	IsShortTrip        bool // trip_distance_km < 3
	IsLongTrip         bool // trip_distance_km > 10
	DriverTodayEarnings float64
	Hour               int
	OnlineHours        float64
	Profile            *domain.BehavioralProfile // nil if the driver has no history
}

const ruleScoreCap = 0.95

// Score evaluates the deterministic fallback used when no trained model
// exists yet or the network call errors. Every contributing penalty is
// additive; the final score is clamped to ruleScoreCap.
func Score(in RuleInput) float64 {
	var score float64

	score += distancePenalty(in)
	score += earningsPenalty(in)
	score += hourlyPenalty(in)
	score += tripLengthPenalty(in)
	score += overallAcceptancePenalty(in)
	if in.OnlineHours > 10 {
		score += 0.10
	}

	if score > ruleScoreCap {
		score = ruleScoreCap
	}
	if score < 0 {
		score = 0
	}
	return score
}

func distancePenalty(in RuleInput) float64 {
	if in.Profile == nil || !in.Profile.HasHistory() {
		switch {
		case in.DistanceToPickupKm > 8:
			return 0.30
		case in.DistanceToPickupKm > 5:
			return 0.15
		default:
			return 0
		}
	}

	switch {
	case in.DistanceToPickupKm > in.Profile.AcceptedDistanceMaxKm:
		return 0.35
	case in.DistanceToPickupKm > 1.5*in.Profile.AcceptedDistanceMeanKm:
		return 0.20
	case in.DistanceToPickupKm > in.Profile.AcceptedDistanceMeanKm:
		return 0.10
	default:
		return 0
	}
}

func earningsPenalty(in RuleInput) float64 {
	if in.Profile == nil || in.Profile.EarningsSaturationThreshold <= 0 {
		return 0
	}
	threshold := in.Profile.EarningsSaturationThreshold
	switch {
	case in.DriverTodayEarnings > threshold:
		return 0.25
	case in.DriverTodayEarnings > 0.8*threshold:
		return 0.10
	default:
		return 0
	}
}

func hourlyPenalty(in RuleInput) float64 {
	if in.Profile == nil {
		return 0
	}
	h := in.Hour % 24
	if h < 0 {
		h += 24
	}
	acceptance := in.Profile.HourlyAcceptance[h]
	return (1 - acceptance) * 0.15
}

func tripLengthPenalty(in RuleInput) float64 {
	if in.Profile == nil {
		return 0
	}
	var penalty float64
	if in.IsShortTrip && in.Profile.ShortTripAcceptRate < 0.70 {
		penalty += 0.15
	}
	if in.IsLongTrip && in.Profile.LongTripAcceptRate < 0.70 {
		penalty += 0.15
	}
	return penalty
}

func overallAcceptancePenalty(in RuleInput) float64 {
	if in.Profile == nil {
		return 0
	}
	rate := in.Profile.OverallAcceptanceRate
	switch {
	case rate < 0.70:
		return 0.15
	case rate < 0.85:
		return 0.05
	default:
		return 0
	}
}
