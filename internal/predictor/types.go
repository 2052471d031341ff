// Package predictor estimates the probability a driver rejects an offer,
// backed by a small trained feed-forward network with a deterministic
// rule-engine fallback when no model exists yet or inference errors.
package predictor

import (
	"time"

	"github.com/google/uuid"
)

// Features is the fixed 10-value input vector, each normalized to [0,1]
// before it reaches the network. The rule engine reads raw values
// (RuleInput) instead.
type Features struct {
	DistanceToPickupKm   float64
	TripDistanceKm       float64
	EstimatedFare        float64
	HourOfDay            float64
	DayOfWeek            float64
	IsHoliday            float64
	DriverTodayEarnings  float64
	DriverTodayTrips     float64
	DriverOnlineHours    float64
	DriverAcceptanceRate float64
}

// featureRanges fixes the min-max normalization bounds. Not specified
// precisely upstream; chosen to cover the observed operating envelope of
// a single metro area and recorded as a decision in DESIGN.md.
var (
	maxDistanceToPickupKm  = 20.0
	maxTripDistanceKm      = 50.0
	maxEstimatedFare       = 20000.0
	maxDriverTodayEarnings = 20000.0
	maxDriverTodayTrips    = 40.0
	maxDriverOnlineHours   = 16.0
)

// NormalizeFeatures maps raw observed values onto the fixed [0,1] feature
// vector the network consumes.
func NormalizeFeatures(
	distanceToPickupKm, tripDistanceKm, estimatedFare float64,
	at time.Time, isHoliday bool,
	driverTodayEarnings, driverTodayTrips, driverOnlineHours, driverAcceptanceRate float64,
) Features {
	clamp01 := func(v float64) float64 {
		if v < 0 {
			return 0
		}
		if v > 1 {
			return 1
		}
		return v
	}

	holiday := 0.0
	if isHoliday {
		holiday = 1.0
	}

	return Features{
		DistanceToPickupKm:   clamp01(distanceToPickupKm / maxDistanceToPickupKm),
		TripDistanceKm:       clamp01(tripDistanceKm / maxTripDistanceKm),
		EstimatedFare:        clamp01(estimatedFare / maxEstimatedFare),
		HourOfDay:            float64(at.Hour()) / 23.0,
		DayOfWeek:            float64(int(at.Weekday())) / 6.0,
		IsHoliday:            holiday,
		DriverTodayEarnings:  clamp01(driverTodayEarnings / maxDriverTodayEarnings),
		DriverTodayTrips:     clamp01(driverTodayTrips / maxDriverTodayTrips),
		DriverOnlineHours:    clamp01(driverOnlineHours / maxDriverOnlineHours),
		DriverAcceptanceRate: clamp01(driverAcceptanceRate),
	}
}

// Vector flattens Features into the fixed 10-element input the network
// expects.
func (f Features) Vector() [10]float64 {
	return [10]float64{
		f.DistanceToPickupKm, f.TripDistanceKm, f.EstimatedFare, f.HourOfDay,
		f.DayOfWeek, f.IsHoliday, f.DriverTodayEarnings, f.DriverTodayTrips,
		f.DriverOnlineHours, f.DriverAcceptanceRate,
	}
}

// Sample is one labeled training example: features plus the observed
// accept(0)/reject(1) outcome.
type Sample struct {
	Features Features
	Rejected bool
}

// RejectionRecord mirrors the persisted rejection row a driver-reject
// event writes, used both for decision logging and as model training
// input.
type RejectionRecord struct {
	OrderID            uuid.UUID
	DriverID            uuid.UUID
	ReasonCode          string
	DistanceToPickupKm  float64
	TripDistanceKm      *float64
	EstimatedFare       *float64
	HourOfDay           int
	DriverTodayEarnings float64
	CreatedAt           time.Time
}

const minTrainingSamples = 100
