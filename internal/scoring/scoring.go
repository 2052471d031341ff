// Package scoring ranks candidate drivers for an order using the
// weighted multi-factor scorer: distance, ETA, earnings balance,
// acceptance prediction, efficiency match, and hot-zone bonus.
package scoring

import (
	"sort"

	"github.com/google/uuid"

	"github.com/ubi-africa/dispatch-core/internal/domain"
)

// Weights holds the per-component scorer weights. Defaults match the
// fixed table; callers may override for experimentation.
type Weights struct {
	Distance       float64
	ETA            float64
	EarningsBalance float64
	Acceptance     float64
	Efficiency     float64
	HotZoneBonus   float64
}

func DefaultWeights() Weights {
	return Weights{
		Distance:        0.20,
		ETA:             0.20,
		EarningsBalance: 0.20,
		Acceptance:      0.20,
		Efficiency:      0.10,
		HotZoneBonus:    0.10,
	}
}

const rejectThreshold = 0.70
const earningsCeiling = 8500.0

// TripClass buckets an order by its trip distance for the efficiency
// lookup table.
type TripClass string

const (
	TripClassShort  TripClass = "SHORT"
	TripClassMedium TripClass = "MEDIUM"
	TripClassLong   TripClass = "LONG"
)

// ClassifyTrip buckets a trip distance into short/medium/long.
func ClassifyTrip(distanceKm float64) TripClass {
	switch {
	case distanceKm < 3:
		return TripClassShort
	case distanceKm <= 10:
		return TripClassMedium
	default:
		return TripClassLong
	}
}

// efficiencyTable scores trip_class x driver_class fit on a 0-15 scale.
var efficiencyTable = map[TripClass]map[domain.DriverClass]float64{
	TripClassShort: {
		domain.DriverClassFastTurnover: 15,
		domain.DriverClassHighVolume:   10,
		domain.DriverClassLongDistance: 7,
	},
	TripClassMedium: {
		domain.DriverClassHighVolume:   15,
		domain.DriverClassFastTurnover: 10,
		domain.DriverClassLongDistance: 8,
	},
	TripClassLong: {
		domain.DriverClassLongDistance: 15,
		domain.DriverClassHighVolume:   9,
		domain.DriverClassFastTurnover: 7,
	},
}

func efficiencyScore(trip TripClass, driver domain.DriverClass) float64 {
	if row, ok := efficiencyTable[trip]; ok {
		if v, ok := row[driver]; ok {
			return v
		}
	}
	return 0
}

// Candidate is everything the scorer needs about one driver for one
// order: presence-layer freshness already filtered by the caller.
type Candidate struct {
	DriverID       uuid.UUID
	DistanceKm     float64
	ETAMinutes     float64
	TodayEarnings  float64
	PReject        float64
	DriverClass    domain.DriverClass
	InPeakZone     bool
}

// Score is one driver's ranked result, including the component
// breakdown needed for the "why" side output.
type Score struct {
	DriverID uuid.UUID
	Total    float64

	DistanceScore   float64
	ETAScore        float64
	EarningsScore   float64
	AcceptanceScore float64
	EfficiencyScore float64
	HotZoneScore    float64

	Why []string
}

// componentThresholds gate which components are surfaced in the "why"
// side output: only components whose raw (unweighted) value exceeds its
// own threshold are eligible. Raw values run 0-100, except efficiency,
// which runs 0-15.
var componentThresholds = map[string]float64{
	"distance":   70,
	"eta":        70,
	"earnings":   70,
	"acceptance": 70,
	"efficiency": 10,
	"hot_zone":   50,
}

// Rank scores every candidate for the given trip class and pickup
// hot-zone status, drops anyone at or above the reject threshold, sorts
// by total score descending with the documented tie-break chain, and
// returns at most k results.
func Rank(candidates []Candidate, tripDistanceKm float64, w Weights, k int) []Score {
	trip := ClassifyTrip(tripDistanceKm)

	scores := make([]Score, 0, len(candidates))
	for _, c := range candidates {
		if c.PReject >= rejectThreshold {
			continue
		}
		scores = append(scores, scoreOne(c, trip, w))
	}

	sort.Slice(scores, func(i, j int) bool {
		a, b := scores[i], scores[j]
		if a.Total != b.Total {
			return a.Total > b.Total
		}
		ai := findCandidate(candidates, a.DriverID)
		bi := findCandidate(candidates, b.DriverID)
		if ai.PReject != bi.PReject {
			return ai.PReject < bi.PReject
		}
		if ai.DistanceKm != bi.DistanceKm {
			return ai.DistanceKm < bi.DistanceKm
		}
		return a.DriverID.String() < b.DriverID.String()
	})

	if k > 0 && len(scores) > k {
		scores = scores[:k]
	}
	return scores
}

func findCandidate(candidates []Candidate, id uuid.UUID) Candidate {
	for _, c := range candidates {
		if c.DriverID == id {
			return c
		}
	}
	return Candidate{}
}

func scoreOne(c Candidate, trip TripClass, w Weights) Score {
	distanceRaw := clampLow(100 - c.DistanceKm*10)
	etaRaw := clampLow(100 - c.ETAMinutes*5)
	earningsRaw := 100 * clampLow(1-c.TodayEarnings/earningsCeiling)
	acceptanceRaw := 100 * (1 - c.PReject)
	efficiencyRaw := efficiencyScore(trip, c.DriverClass)
	hotZoneRaw := 0.0
	if c.InPeakZone {
		hotZoneRaw = 100
	}

	total := distanceRaw*w.Distance + etaRaw*w.ETA + earningsRaw*w.EarningsBalance +
		acceptanceRaw*w.Acceptance + efficiencyRaw*w.Efficiency + hotZoneRaw*w.HotZoneBonus

	s := Score{
		DriverID:        c.DriverID,
		Total:           total,
		DistanceScore:   distanceRaw,
		ETAScore:        etaRaw,
		EarningsScore:   earningsRaw,
		AcceptanceScore: acceptanceRaw,
		EfficiencyScore: efficiencyRaw,
		HotZoneScore:    hotZoneRaw,
	}
	s.Why = whyFor(s)
	return s
}

func clampLow(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func whyFor(s Score) []string {
	type component struct {
		name  string
		value float64
	}
	components := []component{
		{"distance", s.DistanceScore},
		{"eta", s.ETAScore},
		{"earnings", s.EarningsScore},
		{"acceptance", s.AcceptanceScore},
		{"efficiency", s.EfficiencyScore},
		{"hot_zone", s.HotZoneScore},
	}

	eligible := make([]component, 0, len(components))
	for _, c := range components {
		if c.value > componentThresholds[c.name] {
			eligible = append(eligible, c)
		}
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].value > eligible[j].value })

	limit := 3
	if len(eligible) < limit {
		limit = len(eligible)
	}
	why := make([]string, 0, limit)
	for i := 0; i < limit; i++ {
		why = append(why, eligible[i].name)
	}
	return why
}
