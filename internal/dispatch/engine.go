// Package dispatch implements the tiered dispatch engine: the per-order
// batched offer protocol, its hot-zone admission integration, and the
// auto-accept side channel. Grounded on the teacher's matching.Engine
// (session map + per-ride goroutine + cancellable context), generalized
// from its radius-expansion single-attempt loop into the batched,
// mailbox-serialized state machine this system specifies.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ubi-africa/dispatch-core/internal/domain"
	"github.com/ubi-africa/dispatch-core/internal/eta"
	"github.com/ubi-africa/dispatch-core/internal/geo"
	"github.com/ubi-africa/dispatch-core/internal/hotzone"
	"github.com/ubi-africa/dispatch-core/internal/predictor"
	"github.com/ubi-africa/dispatch-core/internal/scoring"
)

// Engine owns every in-flight order's actor and the dependencies the
// batched offer protocol, hot-zone integration, and auto-accept side
// channel all read from.
type Engine struct {
	cfg     Config
	weights scoring.Weights

	presence    PresenceSource
	estimator   ETAEstimator
	predictor   RejectionPredictor
	hotZone     HotZoneController
	orders      OrderStore
	decisionLog DecisionLogger

	driverNotifier     DriverNotifier
	riderNotifier      RiderNotifier
	autoAcceptPolicies AutoAcceptPolicyStore
	profileUpdater     ProfileUpdater

	mu     sync.RWMutex
	actors map[uuid.UUID]*orderActor
}

// Deps bundles every collaborator the engine needs. Orders,
// DriverNotifier and RiderNotifier are required; the other fields left
// nil degrade their feature gracefully (e.g. a nil AutoAcceptPolicyStore
// means every candidate's auto-accept gate is simply blocked).
type Deps struct {
	Presence    PresenceSource
	Estimator   ETAEstimator
	Predictor   RejectionPredictor
	HotZone     HotZoneController
	Orders      OrderStore
	DecisionLog DecisionLogger

	DriverNotifier     DriverNotifier
	RiderNotifier      RiderNotifier
	AutoAcceptPolicies AutoAcceptPolicyStore
	ProfileUpdater     ProfileUpdater
}

func New(cfg Config, weights scoring.Weights, deps Deps) *Engine {
	return &Engine{
		cfg: cfg, weights: weights,
		presence: deps.Presence, estimator: deps.Estimator, predictor: deps.Predictor,
		hotZone: deps.HotZone, orders: deps.Orders, decisionLog: deps.DecisionLog,
		driverNotifier: deps.DriverNotifier, riderNotifier: deps.RiderNotifier,
		autoAcceptPolicies: deps.AutoAcceptPolicies, profileUpdater: deps.ProfileUpdater,
		actors: make(map[uuid.UUID]*orderActor),
	}
}

// Submit admits a freshly created order into the dispatch engine: it
// checks hot-zone admission, persists the initial transition, and starts
// the order's owning actor — DISPATCHING straight into the first batch,
// or QUEUED awaiting a zone slot.
func (e *Engine) Submit(ctx context.Context, order *domain.Order) error {
	now := time.Now().UTC()
	pickup := geo.Point{Lat: order.Pickup.Lat, Lng: order.Pickup.Lng}

	var admission hotzone.AdmissionResult
	var err error
	if e.hotZone != nil {
		admission, err = e.hotZone.CheckAdmission(ctx, pickup, now)
		if err != nil {
			return err
		}
	} else {
		admission = hotzone.AdmissionResult{Outcome: hotzone.AdmissionNormal, Surge: 1}
	}

	queued := false
	switch admission.Outcome {
	case hotzone.AdmissionQueue:
		queued = true
		order.Status = domain.OrderStatusQueued
		if admission.Zone != nil {
			if _, err := e.hotZone.Enqueue(ctx, admission.Zone.ZoneID, order.ID, order.RiderID, fareOrZero(order.BaseFare)); err != nil {
				return err
			}
		}
	default:
		if admission.Zone != nil {
			ok, err := e.hotZone.Consume(ctx, admission.Zone.ZoneID, order.ID, fareOrZero(order.BaseFare), admission.Surge, now)
			if err != nil {
				return err
			}
			if !ok {
				// race lost: re-check admission, which may now report QUEUE.
				admission, err = e.hotZone.CheckAdmission(ctx, pickup, now)
				if err != nil {
					return err
				}
				if admission.Outcome == hotzone.AdmissionQueue {
					queued = true
					order.Status = domain.OrderStatusQueued
					if admission.Zone != nil {
						if _, err := e.hotZone.Enqueue(ctx, admission.Zone.ZoneID, order.ID, order.RiderID, fareOrZero(order.BaseFare)); err != nil {
							return err
						}
					}
				}
			}
		}
		if !queued {
			order.Status = domain.OrderStatusDispatching
		}
	}

	if err := e.orders.Save(ctx, order); err != nil {
		return err
	}

	actor := newOrderActor(e, order, &admission, queued)
	e.mu.Lock()
	e.actors[order.ID] = actor
	e.mu.Unlock()

	go func() {
		actor.run(ctx)
		e.mu.Lock()
		delete(e.actors, order.ID)
		e.mu.Unlock()
	}()
	return nil
}

func fareOrZero(fare *int64) int64 {
	if fare == nil {
		return 0
	}
	return *fare
}

// DriverAccept delivers a driver's accept response to the order's actor
// and blocks for the result.
func (e *Engine) DriverAccept(ctx context.Context, orderID, driverID uuid.UUID, batchNumber int) (DriverResponseResult, error) {
	return e.deliverResponse(ctx, orderID, &driverResponseMsg{driverID: driverID, accepted: true, batchNumber: batchNumber})
}

// DriverReject delivers a driver's reject response to the order's actor.
func (e *Engine) DriverReject(ctx context.Context, orderID, driverID uuid.UUID, batchNumber int, reasonCode, detail string) (DriverResponseResult, error) {
	return e.deliverResponse(ctx, orderID, &driverResponseMsg{driverID: driverID, accepted: false, batchNumber: batchNumber, reasonCode: reasonCode, detail: detail})
}

func (e *Engine) deliverResponse(ctx context.Context, orderID uuid.UUID, msg *driverResponseMsg) (DriverResponseResult, error) {
	e.mu.RLock()
	actor, ok := e.actors[orderID]
	e.mu.RUnlock()
	if !ok {
		return DriverResponseResult{OK: false, AlreadyTaken: true}, domain.ErrOrderNotFound
	}

	msg.reply = make(chan DriverResponseResult, 1)
	select {
	case actor.mailbox <- msg:
	case <-ctx.Done():
		return DriverResponseResult{}, ctx.Err()
	}

	select {
	case res := <-msg.reply:
		return res, res.Err
	case <-ctx.Done():
		return DriverResponseResult{}, ctx.Err()
	}
}

// CancelOrder delivers a rider-initiated cancellation to the order's actor.
func (e *Engine) CancelOrder(ctx context.Context, orderID uuid.UUID, reason string) error {
	e.mu.RLock()
	actor, ok := e.actors[orderID]
	e.mu.RUnlock()
	if !ok {
		return domain.ErrOrderNotFound
	}

	msg := &riderCancelMsg{reason: reason, reply: make(chan error, 1)}
	select {
	case actor.mailbox <- msg:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-msg.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MarkArrived records that the assigned driver reached the pickup point.
// ACCEPTED is the last status the order's actor owns, so this and the two
// calls below operate directly against the order store rather than a
// mailbox message.
func (e *Engine) MarkArrived(ctx context.Context, orderID uuid.UUID) error {
	return e.transitionOrder(ctx, orderID, (*domain.Order).MarkArrived, "driver arrived at pickup")
}

// MarkStarted records that the trip is underway.
func (e *Engine) MarkStarted(ctx context.Context, orderID uuid.UUID) error {
	return e.transitionOrder(ctx, orderID, (*domain.Order).MarkStarted, "trip started")
}

// CompleteOrder records a normal trip completion and frees the hot-zone
// quota slot the order held, the way a cancellation frees it via Release.
func (e *Engine) CompleteOrder(ctx context.Context, orderID uuid.UUID) error {
	if err := e.transitionOrder(ctx, orderID, (*domain.Order).MarkCompleted, "trip completed"); err != nil {
		return err
	}
	if e.hotZone == nil {
		return nil
	}
	promoted, err := e.hotZone.MarkCompleted(ctx, orderID)
	if err != nil {
		log.Error().Err(err).Str("order_id", orderID.String()).Msg("failed to release hot-zone quota on trip completion")
		return nil
	}
	if promoted != nil {
		e.promoteQueued(*promoted)
	}
	return nil
}

func (e *Engine) transitionOrder(ctx context.Context, orderID uuid.UUID, mutate func(*domain.Order) error, message string) error {
	order, err := e.orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if order == nil {
		return domain.ErrOrderNotFound
	}
	if err := mutate(order); err != nil {
		return err
	}
	if err := e.orders.Save(ctx, order); err != nil {
		return err
	}
	if e.riderNotifier != nil {
		update := RiderUpdate{OrderID: order.ID, Status: order.Status, DispatchStatus: RiderStatusAccepted, Message: message}
		if err := e.riderNotifier.SendUpdate(ctx, update); err != nil {
			log.Debug().Err(err).Msg("order:update delivery failed for trip-lifecycle notification")
		}
	}
	return nil
}

// promoteQueued is invoked after a hot-zone Release/MarkCompleted call
// promotes a queued order's entry; it wakes that order's actor so it can
// transition QUEUED -> DISPATCHING and start its first batch.
func (e *Engine) promoteQueued(entry hotzone.QueueEntry) {
	e.mu.RLock()
	actor, ok := e.actors[entry.OrderID]
	e.mu.RUnlock()
	if !ok {
		log.Warn().Str("order_id", entry.OrderID.String()).Msg("hot-zone released a queue entry with no tracked actor")
		return
	}
	actor.send(queueReleasedMsg{})
}

// RunQueueSweeper polls every configured zone's overflow queue for
// entries that exceeded queue_timeout_min, cancelling their orders. Run
// as a background goroutine from cmd/dispatchd.
func (e *Engine) RunQueueSweeper(ctx context.Context) {
	if e.hotZone == nil {
		return
	}
	ticker := time.NewTicker(e.cfg.QueuePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := e.hotZone.ExpireTimedOut(ctx)
			if err != nil {
				log.Error().Err(err).Msg("hot-zone queue expiry sweep failed")
				continue
			}
			for _, entry := range expired {
				e.mu.RLock()
				actor, ok := e.actors[entry.OrderID]
				e.mu.RUnlock()
				if ok {
					actor.send(queueExpiredMsg{})
				}
			}
		}
	}
}

// buildRankedCandidates gathers rankable drivers around the order's
// pickup, scores each against the order, and returns both the ranked
// scores and a lookup back to the scoring.Candidate that produced them.
func (e *Engine) buildRankedCandidates(ctx context.Context, order *domain.Order, tripDistanceKm float64, exclude map[uuid.UUID]bool, k int, inHotZone bool) (map[uuid.UUID]scoring.Candidate, []scoring.Score) {
	if e.presence == nil {
		return nil, nil
	}
	now := time.Now().UTC()
	presences, err := e.presence.NearbyDrivers(ctx, order.Pickup, e.cfg.SearchRadiusKm, now)
	if err != nil {
		log.Error().Err(err).Str("order_id", order.ID.String()).Msg("failed to look up nearby drivers")
		return nil, nil
	}

	pickup := geo.Point{Lat: order.Pickup.Lat, Lng: order.Pickup.Lng}
	candidates := make(map[uuid.UUID]scoring.Candidate, len(presences))
	list := make([]scoring.Candidate, 0, len(presences))

	for _, p := range presences {
		if exclude[p.DriverID] || !p.IsRankable(now) {
			continue
		}
		driverLoc := geo.Point{Lat: p.LastLat, Lng: p.LastLng}
		distanceKm := geo.HaversineKm(pickup, driverLoc)

		etaMinutes := distanceKm / 0.4 // conservative fallback: 24 km/h
		if e.estimator != nil {
			if res, err := e.estimator.Estimate(ctx, eta.Request{
				Origin: eta.LatLng{Lat: driverLoc.Lat, Lng: driverLoc.Lng},
				Destination: eta.LatLng{Lat: pickup.Lat, Lng: pickup.Lng}, At: now,
			}); err == nil {
				etaMinutes = float64(res.DurationS) / 60.0
			}
		}

		features := predictor.NormalizeFeatures(
			distanceKm, tripDistanceKm, float64(fareOrZero(order.BaseFare)),
			now, false, p.TodayEarnings, float64(p.TodayTrips), p.OnlineHours, p.AcceptanceRate/100.0,
		)
		fallback := predictor.RuleInput{
			DistanceToPickupKm: distanceKm, IsShortTrip: tripDistanceKm < 3, IsLongTrip: tripDistanceKm > 10,
			DriverTodayEarnings: p.TodayEarnings, Hour: now.Hour(), OnlineHours: p.OnlineHours,
		}
		pReject := 0.5
		if e.predictor != nil {
			pReject = e.predictor.PReject(ctx, p.DriverID, features, fallback)
		}

		c := scoring.Candidate{
			DriverID: p.DriverID, DistanceKm: distanceKm, ETAMinutes: etaMinutes,
			TodayEarnings: p.TodayEarnings, PReject: pReject, DriverClass: p.DriverClass,
			InPeakZone: inHotZone,
		}
		candidates[p.DriverID] = c
		list = append(list, c)
	}

	scores := scoring.Rank(list, tripDistanceKm, e.weights, k)
	return candidates, scores
}
