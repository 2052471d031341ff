// Package hotzone implements the hour-quota / surge-staircase controller
// that gates order admission in high-demand zones, with a FIFO overflow
// queue for orders that arrive once a zone's hourly quota is exhausted.
package hotzone

import (
	"time"

	"github.com/google/uuid"
)

// AdmissionOutcome is the contract returned by CheckAdmission.
type AdmissionOutcome string

const (
	AdmissionNormal AdmissionOutcome = "NORMAL"
	AdmissionSurge  AdmissionOutcome = "SURGE"
	AdmissionQueue  AdmissionOutcome = "QUEUE"
)

// QueueStatus is the lifecycle state of one overflow-queue entry.
type QueueStatus string

const (
	QueueStatusWaiting  QueueStatus = "WAITING"
	QueueStatusReleased QueueStatus = "RELEASED"
	QueueStatusExpired  QueueStatus = "EXPIRED"
)

// Zone is a configured hot-zone (geofence + quota/surge parameters).
// Zones may overlap; ZoneIndex.Match picks the highest-priority match.
type Zone struct {
	ZoneID         string
	Name           string
	CenterLat      float64
	CenterLng      float64
	RadiusKm       float64
	PeakHours      map[int]bool
	QuotaNormal    int
	QuotaPeak      int
	SurgeThreshold float64
	SurgeMax       float64
	SurgeStep      float64
	QueueEnabled   bool
	MaxQueue       int
	QueueTimeoutMin int
	Priority       int
	Active         bool
}

// QuotaForHour selects quota_peak or quota_normal per the zone's
// configured peak hours.
func (z Zone) QuotaForHour(hour int) int {
	if z.PeakHours[hour] {
		return z.QuotaPeak
	}
	return z.QuotaNormal
}

const defaultAvgWaitPerOrderMin = 3

// QueueEntry is one FIFO overflow-queue row.
type QueueEntry struct {
	ID              uuid.UUID
	ZoneID          string
	OrderID         uuid.UUID
	RiderID         uuid.UUID
	BaseFare        int64
	Position        int
	EstWaitMin      int
	Status          QueueStatus
	QueuedAt        time.Time
	ResolvedAt      *time.Time
}

// QueueInfo is the admission-check side output describing an order's
// place in a zone's overflow queue.
type QueueInfo struct {
	Position        int
	EstimatedWaitMin int
}

// ZoneQuotaState is the per-zone-per-hour mutable admission state: how
// many slots are used this hour, out of the selected quota.
type ZoneQuotaState struct {
	ZoneID string
	Date   string
	Hour   int
	Used   int
	Limit  int
	Surge  float64
}

// Utilization returns used/limit, the u term in the surge staircase.
func (s ZoneQuotaState) Utilization() float64 {
	if s.Limit <= 0 {
		return 1
	}
	return float64(s.Used) / float64(s.Limit)
}
