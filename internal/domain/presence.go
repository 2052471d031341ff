// Package domain contains driver-related domain entities: live presence and
// the behavioral profile the rejection predictor's fallback rule engine and
// the driver scorer both read from.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Availability is the presence-layer reachability state of a driver.
type Availability string

const (
	AvailabilityAvailable Availability = "AVAILABLE"
	AvailabilityRest      Availability = "REST"
	AvailabilityOnTrip    Availability = "ON_TRIP"
	AvailabilityOffline   Availability = "OFFLINE"
)

// DriverClass is the derived behavioral bucket used for efficiency matching
// in the driver scorer and produced by profile recompute.
type DriverClass string

const (
	DriverClassFastTurnover DriverClass = "FAST_TURNOVER"
	DriverClassLongDistance DriverClass = "LONG_DISTANCE"
	DriverClassHighVolume   DriverClass = "HIGH_VOLUME"
)

// FreshnessWindow is the implementation-defined heartbeat staleness bound
// the driver scorer uses when building its candidate set.
const FreshnessWindow = 2 * time.Minute

// Presence is a driver's live connection + last-known-location record,
// owned by the socket layer. It is authoritative for "is this driver
// reachable now"; the persistent driver row is authoritative for identity
// and long-term stats.
type Presence struct {
	DriverID       uuid.UUID    `json:"driver_id"`
	SocketHandle   string       `json:"socket_handle"`
	LastLat        float64      `json:"last_lat"`
	LastLng        float64      `json:"last_lng"`
	LastHeartbeat  time.Time    `json:"last_heartbeat_ts"`
	Availability   Availability `json:"availability"`
	AcceptanceRate float64      `json:"acceptance_rate_pct"`
	DriverClass    DriverClass  `json:"driver_class"`
	TodayTrips     int          `json:"today_trips"`
	TodayEarnings  float64      `json:"today_earnings"`
	OnlineHours    float64      `json:"online_hours_today"`
}

// IsFresh reports whether the presence entry's heartbeat is recent enough
// to be considered reachable for ranking purposes.
func (p *Presence) IsFresh(now time.Time) bool {
	return now.Sub(p.LastHeartbeat) <= FreshnessWindow
}

// IsRankable reports whether this presence entry belongs in the driver
// scorer's candidate set: AVAILABLE or REST, with a fresh heartbeat.
func (p *Presence) IsRankable(now time.Time) bool {
	if p.Availability != AvailabilityAvailable && p.Availability != AvailabilityRest {
		return false
	}
	return p.IsFresh(now)
}

// BehavioralProfile is the per-driver 30-day rolling profile the rejection
// predictor's fallback rule engine consults, recomputed by a profile
// update job or the batch refresh variant.
type BehavioralProfile struct {
	DriverID uuid.UUID `json:"driver_id"`

	// HourlyAcceptance holds 24 values in [0,1], indexed by hour-of-day.
	HourlyAcceptance [24]float64 `json:"hourly_acceptance"`

	// ZoneAcceptance maps zone_id to observed acceptance rate in that zone.
	ZoneAcceptance map[string]float64 `json:"zone_acceptance"`

	AcceptedDistanceMeanKm float64 `json:"accepted_distance_mean_km"`
	AcceptedDistanceMaxKm  float64 `json:"accepted_distance_max_km"`

	ShortTripAcceptRate float64 `json:"short_trip_accept_rate"`
	LongTripAcceptRate  float64 `json:"long_trip_accept_rate"`

	EarningsSaturationThreshold float64 `json:"earnings_saturation_threshold"`

	OverallAcceptanceRate float64 `json:"overall_acceptance_rate"`

	Class          DriverClass `json:"class"`
	LastRecomputed time.Time   `json:"last_recomputed_at"`
	SampleSize     int         `json:"sample_size"`
}

// HasHistory reports whether the profile was built from any observed
// outcomes; an empty profile falls back to the predictor's defaults.
func (p *BehavioralProfile) HasHistory() bool {
	return p.SampleSize > 0
}

// Classify derives the behavioral bucket from the recomputed rates. Grounded
// in the teacher's efficiency-matching intent (matching/engine.go's score
// weighting) generalized to the three driver classes.
func (p *BehavioralProfile) Classify() DriverClass {
	switch {
	case p.ShortTripAcceptRate >= p.LongTripAcceptRate && p.AcceptedDistanceMeanKm < 5:
		return DriverClassFastTurnover
	case p.LongTripAcceptRate > p.ShortTripAcceptRate:
		return DriverClassLongDistance
	default:
		return DriverClassHighVolume
	}
}
