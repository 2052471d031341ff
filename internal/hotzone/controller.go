package hotzone

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ubi-africa/dispatch-core/internal/geo"
)

// AdmissionResult is CheckAdmission's full contract response.
type AdmissionResult struct {
	Outcome    AdmissionOutcome
	Surge      float64
	Zone       *Zone
	QueueInfo  *QueueInfo
}

// Controller is the hot-zone admission/quota/surge/queue service (E).
type Controller struct {
	index   *ZoneIndex
	quotas  QuotaStore
	queue   QueueStore
	binding OrderZoneBinding
}

func NewController(zones []Zone, quotas QuotaStore, queue QueueStore, binding OrderZoneBinding) *Controller {
	return &Controller{index: NewZoneIndex(zones), quotas: quotas, queue: queue, binding: binding}
}

// CheckAdmission matches the pickup to a zone, computes its current
// utilization and surge, and returns the admission decision. Pickups
// that match no zone are always NORMAL, surge 1.
func (c *Controller) CheckAdmission(ctx context.Context, pickup geo.Point, at time.Time) (AdmissionResult, error) {
	zone, matched := c.index.Match(pickup)
	if !matched {
		return AdmissionResult{Outcome: AdmissionNormal, Surge: 1}, nil
	}

	limit := zone.QuotaForHour(at.Hour())
	state, err := c.quotas.Get(ctx, zone.ZoneID, dateKey(at), at.Hour(), limit)
	if err != nil {
		return AdmissionResult{}, err
	}

	u := state.Utilization()
	surge := ComputeSurge(u, zone)

	queueLen := 0
	if zone.QueueEnabled {
		queueLen, err = c.queue.Length(ctx, zone.ZoneID)
		if err != nil {
			return AdmissionResult{}, err
		}
	}

	outcome := ClassifyAdmission(u, zone, queueLen)

	result := AdmissionResult{Outcome: outcome, Surge: surge, Zone: &zone}
	if outcome == AdmissionQueue {
		result.QueueInfo = &QueueInfo{
			Position:         queueLen + 1,
			EstimatedWaitMin: (queueLen + 1) * defaultAvgWaitPerOrderMin,
		}
	}
	return result, nil
}

// Consume atomically reserves one quota slot for order_id in zone_id,
// binding the order to the zone/fare/surge it was admitted under.
func (c *Controller) Consume(ctx context.Context, zoneID string, orderID uuid.UUID, baseFare int64, surge float64, at time.Time) (bool, error) {
	zone := c.zoneByID(zoneID)
	if zone == nil {
		return false, nil
	}
	limit := zone.QuotaForHour(at.Hour())

	ok, state, err := c.quotas.Consume(ctx, zoneID, dateKey(at), at.Hour(), limit, surge)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	recomputed := ComputeSurge(state.Utilization(), *zone)
	if err := c.binding.Bind(ctx, orderID, zoneID, baseFare, recomputed, dateKey(at), at.Hour()); err != nil {
		log.Error().Err(err).Str("order_id", orderID.String()).Msg("failed to bind order to hot-zone quota")
	}
	return true, nil
}

// Release frees the quota slot an order held, then attempts to release
// the head of that zone's overflow queue into the same slot. The slot
// freed is the (date, hour) Consume incremented at admission time, not
// whatever hour happens to be current now — an order that outlives an
// hour boundary must still free its original slot.
func (c *Controller) Release(ctx context.Context, orderID uuid.UUID) (*QueueEntry, error) {
	zoneID, _, _, date, hour, found, err := c.binding.Lookup(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	if err := c.quotas.Release(ctx, zoneID, date, hour); err != nil {
		return nil, err
	}
	if err := c.binding.Unbind(ctx, orderID); err != nil {
		log.Error().Err(err).Str("order_id", orderID.String()).Msg("failed to unbind order from hot-zone quota")
	}

	zone := c.zoneByID(zoneID)
	if zone == nil || !zone.QueueEnabled {
		return nil, nil
	}
	return c.queue.ReleaseHead(ctx, zoneID)
}

// MarkCompleted is Release's counterpart for a normally-completed trip:
// the quota slot is freed the same way a cancellation frees it.
func (c *Controller) MarkCompleted(ctx context.Context, orderID uuid.UUID) (*QueueEntry, error) {
	return c.Release(ctx, orderID)
}

func (c *Controller) Enqueue(ctx context.Context, zoneID string, orderID, riderID uuid.UUID, baseFare int64) (QueueEntry, error) {
	return c.queue.Enqueue(ctx, zoneID, orderID, riderID, baseFare)
}

func (c *Controller) Dequeue(ctx context.Context, orderID uuid.UUID) error {
	return c.queue.Dequeue(ctx, orderID)
}

// ExpireTimedOut marks WAITING entries older than each zone's configured
// queue_timeout_min as EXPIRED. Intended to run on a fixed interval from
// cmd/dispatchd.
func (c *Controller) ExpireTimedOut(ctx context.Context) ([]QueueEntry, error) {
	var expired []QueueEntry
	for _, z := range c.index.zones {
		if !z.QueueEnabled {
			continue
		}
		timeout := time.Duration(z.QueueTimeoutMin) * time.Minute
		entries, err := c.queue.ExpireTimedOut(ctx, timeout)
		if err != nil {
			return expired, err
		}
		expired = append(expired, entries...)
	}
	return expired, nil
}

func (c *Controller) zoneByID(zoneID string) *Zone {
	for i := range c.index.zones {
		if c.index.zones[i].ZoneID == zoneID {
			return &c.index.zones[i]
		}
	}
	return nil
}

func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
