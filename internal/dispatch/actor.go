package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ubi-africa/dispatch-core/internal/domain"
	"github.com/ubi-africa/dispatch-core/internal/geo"
	"github.com/ubi-africa/dispatch-core/internal/hotzone"
	"github.com/ubi-africa/dispatch-core/internal/predictor"
	"github.com/ubi-africa/dispatch-core/internal/scoring"
)

// driverResponseMsg carries a driver's accept/reject into an order's
// mailbox, with a reply channel for the HTTP handler awaiting the result.
type driverResponseMsg struct {
	driverID    uuid.UUID
	accepted    bool
	reasonCode  string
	detail      string
	batchNumber int
	reply       chan DriverResponseResult
}

// DriverResponseResult is DriverAccept/DriverReject's result: whether the
// response was accepted by the order's current state, and (for accepts)
// whether the order was already taken by someone else.
type DriverResponseResult struct {
	OK           bool
	AlreadyTaken bool
	ReDispatched bool
	NextBatch    int
	Err          error
}

// Ok reports whether the engine processed this response (as opposed to
// rejecting it as stale or already-resolved).
func (r DriverResponseResult) Ok() bool { return r.OK }

type batchTimerMsg struct{ gen int }
type orderTimerMsg struct{ gen int }
type queueReleasedMsg struct{}
type queueExpiredMsg struct{}

type riderCancelMsg struct {
	reason string
	reply  chan error
}

// orderActor is the single logical task that owns one order for the
// duration of its dispatch lifetime. All mutation happens on its run
// goroutine; every other interaction is a message dropped in its mailbox.
type orderActor struct {
	eng   *Engine
	order *domain.Order

	mailbox chan interface{}
	done    chan struct{}

	tripDistanceKm float64

	batchNumber   int
	batchGen      int
	orderTimerGen int

	allOffered  map[uuid.UUID]bool
	allRejected map[uuid.UUID]bool
	allTimedOut map[uuid.UUID]bool

	currentBatchOffered   map[uuid.UUID]bool
	currentBatchResponded map[uuid.UUID]bool
	currentBatchOfferedAt map[uuid.UUID]time.Time

	hotZone *hotzone.AdmissionResult
	queued  bool
}

func newOrderActor(eng *Engine, order *domain.Order, hz *hotzone.AdmissionResult, queued bool) *orderActor {
	trip := 0.0
	if order.Destination != nil {
		trip = geo.HaversineKm(geo.Point{Lat: order.Pickup.Lat, Lng: order.Pickup.Lng}, geo.Point{Lat: order.Destination.Lat, Lng: order.Destination.Lng})
	}
	return &orderActor{
		eng:                   eng,
		order:                 order,
		mailbox:               make(chan interface{}, 16),
		done:                  make(chan struct{}),
		tripDistanceKm:        trip,
		allOffered:            make(map[uuid.UUID]bool),
		allRejected:           make(map[uuid.UUID]bool),
		allTimedOut:           make(map[uuid.UUID]bool),
		currentBatchOffered:   make(map[uuid.UUID]bool),
		currentBatchResponded: make(map[uuid.UUID]bool),
		currentBatchOfferedAt: make(map[uuid.UUID]time.Time),
		hotZone:               hz,
		queued:                queued,
	}
}

// run is the actor's single-writer loop: one mailbox message processed at
// a time, exactly as the concurrency model requires.
func (a *orderActor) run(ctx context.Context) {
	defer close(a.done)

	if a.queued {
		a.notifyRiderQueued(ctx)
	} else if a.executeBatch(ctx) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-a.mailbox:
			if a.handle(ctx, msg) {
				return
			}
		}
	}
}

// handle processes one mailbox message, returning true once the order has
// reached a terminal, released state.
func (a *orderActor) handle(ctx context.Context, msg interface{}) bool {
	switch m := msg.(type) {
	case *driverResponseMsg:
		if m.accepted {
			return a.onAccept(ctx, m)
		}
		return a.onReject(ctx, m)
	case batchTimerMsg:
		if m.gen != a.batchGen {
			return false // stale timer, order already moved on
		}
		return a.onBatchTimeout(ctx)
	case orderTimerMsg:
		if m.gen != a.orderTimerGen {
			return false
		}
		return a.finalize(ctx, domain.CancelReasonTimeout)
	case queueReleasedMsg:
		return a.onQueueReleased(ctx)
	case queueExpiredMsg:
		return a.finalize(ctx, domain.CancelReasonTimeout)
	case *riderCancelMsg:
		err := a.onRiderCancel(ctx, m.reason)
		m.reply <- err
		return true
	}
	return false
}

func (a *orderActor) onQueueReleased(ctx context.Context) bool {
	a.queued = false
	a.order.Status = domain.OrderStatusDispatching
	if err := a.eng.orders.Save(ctx, a.order); err != nil {
		log.Error().Err(err).Str("order_id", a.order.ID.String()).Msg("failed to persist dispatching transition after queue release")
	}
	return a.executeBatch(ctx)
}

// executeBatch implements the per-batch offer loop. Returns true if the
// order finalized (terminal) as part of this call.
func (a *orderActor) executeBatch(ctx context.Context) bool {
	a.batchNumber++
	if a.batchNumber > a.eng.cfg.MaxBatches {
		return a.finalize(ctx, domain.CancelReasonMaxBatches)
	}

	exclude := make(map[uuid.UUID]bool, len(a.allOffered)+len(a.allRejected)+len(a.allTimedOut))
	for id := range a.allOffered {
		exclude[id] = true
	}
	for id := range a.allRejected {
		exclude[id] = true
	}
	for id := range a.allTimedOut {
		exclude[id] = true
	}

	inHotZone := a.hotZone != nil && a.hotZone.Zone != nil
	candidates, scored := a.eng.buildRankedCandidates(ctx, a.order, a.tripDistanceKm, exclude, a.eng.cfg.BatchSize, inHotZone)
	if len(scored) == 0 {
		if len(a.allRejected)+len(a.allTimedOut) > 0 {
			return a.finalize(ctx, domain.CancelReasonAllRejected)
		}
		return a.finalize(ctx, domain.CancelReasonNoDrivers)
	}

	a.batchGen++
	gen := a.batchGen
	a.currentBatchOffered = make(map[uuid.UUID]bool)
	a.currentBatchResponded = make(map[uuid.UUID]bool)
	a.currentBatchOfferedAt = make(map[uuid.UUID]time.Time)

	now := time.Now().UTC()
	weights := map[string]float64{
		"distance": a.eng.weights.Distance, "eta": a.eng.weights.ETA,
		"earnings_balance": a.eng.weights.EarningsBalance, "acceptance": a.eng.weights.Acceptance,
		"efficiency": a.eng.weights.Efficiency, "hot_zone_bonus": a.eng.weights.HotZoneBonus,
	}
	batchCandidateIDs := make([]uuid.UUID, 0, len(scored))
	for _, s := range scored {
		batchCandidateIDs = append(batchCandidateIDs, s.DriverID)
	}
	if a.eng.decisionLog != nil {
		go a.eng.decisionLog.LogBatch(context.Background(), BatchDecisionRecord{
			OrderID: a.order.ID, BatchNumber: a.batchNumber, Candidates: batchCandidateIDs,
			Weights: weights, Hour: now.Hour(), DayOfWeek: int(now.Weekday()), CreatedAt: now,
		})
	}

	offeredCount := 0
	for i, s := range scored {
		c := candidates[s.DriverID]
		offer := a.buildOffer(ctx, c, s, now)
		if err := a.eng.driverNotifier.SendOffer(ctx, s.DriverID, offer); err != nil {
			// A send that would block is treated as the driver being
			// unreachable for this offer: excluded from now on, never
			// counted as offered.
			a.allTimedOut[s.DriverID] = true
			continue
		}
		a.allOffered[s.DriverID] = true
		a.currentBatchOffered[s.DriverID] = true
		a.currentBatchOfferedAt[s.DriverID] = now
		offeredCount++
		_ = i
	}

	a.notifyRiderSearching(ctx, offeredCount)

	if offeredCount == 0 {
		// every candidate in this batch was unreachable; move on
		// immediately rather than waiting out a timer with no offers live.
		return a.executeBatch(ctx)
	}

	if a.batchNumber == 1 {
		a.orderTimerGen++
		orderGen := a.orderTimerGen
		time.AfterFunc(a.eng.cfg.OrderTotalTimeout, func() {
			a.send(orderTimerMsg{gen: orderGen})
		})
	}
	time.AfterFunc(a.eng.cfg.BatchTimeout, func() {
		a.send(batchTimerMsg{gen: gen})
	})
	return false
}

func (a *orderActor) buildOffer(ctx context.Context, c scoring.Candidate, s scoring.Score, now time.Time) OfferMessage {
	finalFare := int64(0)
	surge := 1.0
	var hzInfo *HotZoneInfo
	if a.hotZone != nil && a.hotZone.Zone != nil {
		surge = a.hotZone.Surge
		hzInfo = &HotZoneInfo{ZoneID: a.hotZone.Zone.ZoneID, Surge: surge}
	}
	if a.order.BaseFare != nil {
		finalFare = int64(float64(*a.order.BaseFare) * surge)
	}

	distanceScore := s.DistanceScore
	fareScore := clamp0100(100 * (1 - c.PReject)) // fare affordability isn't separately modeled; acceptance stands in
	timeWindowScore := clamp0100(100 - float64(now.Hour()%24))
	driverFitScore := s.EfficiencyScore / 15.0 * 100

	aaIn := autoAcceptInput{
		DriverID: c.DriverID, PReject: c.PReject, DistanceScore: distanceScore,
		FareScore: fareScore, TimeWindowScore: timeWindowScore, DriverFitScore: driverFitScore,
		PickupDistanceKm: c.DistanceKm, FinalFare: finalFare, TripDistanceKm: a.tripDistanceKm,
		Hour: now.Hour(),
	}
	if hzInfo != nil {
		aaIn.ZoneID = hzInfo.ZoneID
	}
	score := autoAcceptScore(aaIn, a.eng.cfg.AutoAccept)
	allowed, blockReason := evaluateAutoAcceptPolicy(ctx, a.eng.autoAcceptPolicies, aaIn, a.eng.cfg.AutoAccept, now)

	if a.eng.decisionLog != nil {
		go a.eng.decisionLog.LogAutoAcceptDecision(context.Background(), AutoAcceptDecisionRecord{
			OrderID: a.order.ID, DriverID: c.DriverID, BatchNumber: a.batchNumber,
			Score: score, Allowed: allowed, BlockReason: blockReason, CreatedAt: now,
		})
	}

	return OfferMessage{
		OrderID: a.order.ID, Pickup: a.order.Pickup, Destination: a.order.Destination,
		BaseFare: a.order.BaseFare, FinalFare: finalFare, PickupDistanceKm: c.DistanceKm,
		ETAMinutes: c.ETAMinutes, ETASource: "", BatchNumber: a.batchNumber,
		ResponseDeadlineMs: now.Add(a.eng.cfg.BatchTimeout).UnixMilli(),
		DispatchReason:     "RANKED", HotZone: hzInfo,
		AutoAccept: AutoAcceptOffer{Score: score, Allowed: allowed, BlockReason: blockReason},
	}
}

func clamp0100(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func (a *orderActor) onAccept(ctx context.Context, m *driverResponseMsg) bool {
	if a.order.Status != domain.OrderStatusDispatching || m.batchNumber != a.batchNumber {
		m.reply <- DriverResponseResult{OK: false, AlreadyTaken: true}
		return false
	}

	a.batchGen++  // invalidate any pending batch timer
	a.orderTimerGen++ // invalidate the order timer

	offeredAt, hadOffer := a.currentBatchOfferedAt[m.driverID]
	if err := a.order.Accept(m.driverID); err != nil {
		m.reply <- DriverResponseResult{OK: false, Err: err}
		return false
	}
	if err := a.eng.orders.Save(ctx, a.order); err != nil {
		log.Error().Err(err).Str("order_id", a.order.ID.String()).Msg("failed to persist order acceptance")
	}

	responseMs := int64(0)
	if hadOffer {
		responseMs = time.Since(offeredAt).Milliseconds()
	}
	if a.eng.decisionLog != nil {
		go a.eng.decisionLog.LogAccept(context.Background(), AcceptRecord{
			OrderID: a.order.ID, DriverID: m.driverID, BatchNumber: a.batchNumber,
			ResponseMs: responseMs, CreatedAt: time.Now().UTC(),
		})
	}

	for id := range a.currentBatchOffered {
		if id == m.driverID {
			continue
		}
		if err := a.eng.driverNotifier.SendTaken(ctx, id, a.order.ID, "order taken by another driver"); err != nil {
			log.Debug().Err(err).Str("driver_id", id.String()).Msg("order:taken delivery failed, driver presumed unreachable")
		}
	}

	a.notifyRiderAccepted(ctx)
	m.reply <- DriverResponseResult{OK: true}
	return true
}

func (a *orderActor) onReject(ctx context.Context, m *driverResponseMsg) bool {
	if a.order.Status != domain.OrderStatusDispatching || m.batchNumber != a.batchNumber {
		m.reply <- DriverResponseResult{OK: true, ReDispatched: false}
		return false
	}

	a.allRejected[m.driverID] = true
	a.currentBatchResponded[m.driverID] = true

	if a.eng.decisionLog != nil {
		tripPtr := &a.tripDistanceKm
		var farePtr *float64
		if a.order.BaseFare != nil {
			f := float64(*a.order.BaseFare)
			farePtr = &f
		}
		go a.eng.decisionLog.LogRejection(context.Background(), predictor.RejectionRecord{
			OrderID: a.order.ID, DriverID: m.driverID, ReasonCode: m.reasonCode,
			DistanceToPickupKm: 0, TripDistanceKm: tripPtr, EstimatedFare: farePtr,
			HourOfDay: time.Now().Hour(), CreatedAt: time.Now().UTC(),
		})
	}
	if a.eng.profileUpdater != nil {
		driverID := m.driverID
		go func() {
			if err := a.eng.profileUpdater.UpdateProfile(context.Background(), driverID); err != nil {
				log.Error().Err(err).Str("driver_id", driverID.String()).Msg("failed to schedule driver profile recompute after rejection")
			}
		}()
	}

	redispatched := false
	nextBatch := a.batchNumber
	if a.batchFullyResolved() {
		a.batchGen++ // cancel the pending batch timer
		redispatched = true
		if a.executeBatch(ctx) {
			m.reply <- DriverResponseResult{OK: true, ReDispatched: redispatched, NextBatch: a.batchNumber}
			return true
		}
		nextBatch = a.batchNumber
	}
	m.reply <- DriverResponseResult{OK: true, ReDispatched: redispatched, NextBatch: nextBatch}
	return false
}

func (a *orderActor) batchFullyResolved() bool {
	for id := range a.currentBatchOffered {
		if !a.currentBatchResponded[id] && !a.allTimedOut[id] {
			return false
		}
	}
	return true
}

func (a *orderActor) onBatchTimeout(ctx context.Context) bool {
	for id := range a.currentBatchOffered {
		if a.currentBatchResponded[id] {
			continue
		}
		a.allTimedOut[id] = true
		if err := a.eng.driverNotifier.SendBatchTimeout(ctx, id, a.order.ID); err != nil {
			log.Debug().Err(err).Str("driver_id", id.String()).Msg("order:batch-timeout delivery failed")
		}
	}
	return a.executeBatch(ctx)
}

func (a *orderActor) onRiderCancel(ctx context.Context, reason string) error {
	if !a.order.IsActive() {
		return domain.ErrOrderAlreadyEnded
	}
	a.batchGen++
	a.orderTimerGen++

	cancelReason := domain.CancelReasonRiderRequest
	if err := a.order.Cancel(cancelReason); err != nil {
		return err
	}
	if err := a.eng.orders.Save(ctx, a.order); err != nil {
		log.Error().Err(err).Str("order_id", a.order.ID.String()).Msg("failed to persist rider cancellation")
	}

	if a.hotZone != nil && a.hotZone.Zone != nil {
		if a.queued {
			if err := a.eng.hotZone.Dequeue(ctx, a.order.ID); err != nil {
				log.Error().Err(err).Msg("failed to dequeue cancelled order")
			}
		} else if promoted, err := a.eng.hotZone.Release(ctx, a.order.ID); err == nil && promoted != nil {
			a.eng.promoteQueued(*promoted)
		}
	}
	a.notifyRiderUpdate(ctx, RiderStatusFailed, cancelReason, "cancelled by rider")
	return nil
}

// finalize writes the terminal status, notifies the rider, releases any
// hot-zone hold, and returns true so the run loop exits.
func (a *orderActor) finalize(ctx context.Context, reason domain.CancelReason) bool {
	if err := a.order.Cancel(reason); err != nil {
		return true // already terminal somehow; nothing left to do
	}
	if err := a.eng.orders.Save(ctx, a.order); err != nil {
		log.Error().Err(err).Str("order_id", a.order.ID.String()).Msg("failed to persist order cancellation")
	}

	if a.hotZone != nil && a.hotZone.Zone != nil {
		if a.queued {
			if err := a.eng.hotZone.Dequeue(ctx, a.order.ID); err != nil {
				log.Error().Err(err).Msg("failed to dequeue timed-out order")
			}
		} else if promoted, err := a.eng.hotZone.Release(ctx, a.order.ID); err == nil && promoted != nil {
			a.eng.promoteQueued(*promoted)
		}
	}

	a.notifyRiderUpdate(ctx, RiderStatusFailed, reason, "no driver found")
	return true
}

func (a *orderActor) notifyRiderQueued(ctx context.Context) {
	pos, waitMin := 0, 0
	if a.hotZone != nil && a.hotZone.QueueInfo != nil {
		pos, waitMin = a.hotZone.QueueInfo.Position, a.hotZone.QueueInfo.EstimatedWaitMin
	}
	update := RiderUpdate{
		OrderID: a.order.ID, Status: a.order.Status, DispatchStatus: RiderStatusQueued,
		QueuePosition: pos, EstimatedWaitMin: waitMin, Message: "waiting for a zone slot to free up",
	}
	if a.hotZone != nil && a.hotZone.Zone != nil {
		update.HotZoneInfo = &HotZoneInfo{ZoneID: a.hotZone.Zone.ZoneID, Surge: a.hotZone.Surge}
	}
	if err := a.eng.riderNotifier.SendUpdate(ctx, update); err != nil {
		log.Debug().Err(err).Msg("order:update delivery failed for queued notification")
	}
}

func (a *orderActor) notifyRiderSearching(ctx context.Context, offeredCount int) {
	update := RiderUpdate{
		OrderID: a.order.ID, Status: a.order.Status, DispatchStatus: RiderStatusSearching,
		BatchNumber: a.batchNumber, OfferedCount: offeredCount, Message: "searching for a driver",
	}
	if a.hotZone != nil && a.hotZone.Zone != nil {
		update.HotZoneInfo = &HotZoneInfo{ZoneID: a.hotZone.Zone.ZoneID, Surge: a.hotZone.Surge}
	}
	if err := a.eng.riderNotifier.SendUpdate(ctx, update); err != nil {
		log.Debug().Err(err).Msg("order:update delivery failed for searching notification")
	}
}

func (a *orderActor) notifyRiderAccepted(ctx context.Context) {
	update := RiderUpdate{
		OrderID: a.order.ID, Status: a.order.Status, DispatchStatus: RiderStatusAccepted,
		BatchNumber: a.batchNumber, Message: "driver assigned",
	}
	if err := a.eng.riderNotifier.SendUpdate(ctx, update); err != nil {
		log.Debug().Err(err).Msg("order:update delivery failed for accepted notification")
	}
}

func (a *orderActor) notifyRiderUpdate(ctx context.Context, status RiderDispatchStatus, reason domain.CancelReason, message string) {
	update := RiderUpdate{
		OrderID: a.order.ID, Status: a.order.Status, DispatchStatus: status,
		BatchNumber: a.batchNumber, Message: message, CancelReason: reason,
	}
	if err := a.eng.riderNotifier.SendUpdate(ctx, update); err != nil {
		log.Debug().Err(err).Msg("order:update delivery failed for terminal notification")
	}
}

// send drops a timer message in the actor's mailbox without blocking the
// firing goroutine if the actor has already finished.
func (a *orderActor) send(msg interface{}) {
	select {
	case a.mailbox <- msg:
	case <-a.done:
	}
}
