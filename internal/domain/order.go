// Package domain contains the core business entities and rules for the dispatch core.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// OrderStatus represents the current state of a dispatch order.
type OrderStatus string

const (
	OrderStatusOffered     OrderStatus = "OFFERED"
	OrderStatusDispatching OrderStatus = "DISPATCHING"
	OrderStatusQueued      OrderStatus = "QUEUED"
	OrderStatusAccepted    OrderStatus = "ACCEPTED"
	OrderStatusArrived     OrderStatus = "ARRIVED"
	OrderStatusOnTrip      OrderStatus = "ON_TRIP"
	OrderStatusDone        OrderStatus = "DONE"
	OrderStatusCancelled   OrderStatus = "CANCELLED"
)

// PaymentKind mirrors the payment method selected at order creation.
type PaymentKind string

const (
	PaymentKindCash        PaymentKind = "CASH"
	PaymentKindWallet      PaymentKind = "WALLET"
	PaymentKindMobileMoney PaymentKind = "MOBILE_MONEY"
	PaymentKindCard        PaymentKind = "CARD"
)

// CancelReason enumerates terminal cancellation reasons. The dispatch
// engine produces the first four itself; a rider-initiated cancellation
// is recorded as RIDER_REQUEST, and the rider's free-text reason is not
// stored.
type CancelReason string

const (
	CancelReasonNoDrivers    CancelReason = "NO_DRIVERS"
	CancelReasonAllRejected  CancelReason = "ALL_REJECTED"
	CancelReasonMaxBatches   CancelReason = "MAX_BATCHES"
	CancelReasonTimeout      CancelReason = "TIMEOUT"
	CancelReasonRiderRequest CancelReason = "RIDER_REQUEST"
)

// Point is a geographic coordinate with an optional human label.
type Point struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address,omitempty"`
}

// Order is the dispatchable unit: a rider's request for a trip.
type Order struct {
	ID          uuid.UUID   `json:"order_id"`
	RiderID     uuid.UUID   `json:"rider_id"`
	DriverID    *uuid.UUID  `json:"driver_id,omitempty"`
	Pickup      Point       `json:"pickup"`
	Destination *Point      `json:"destination,omitempty"`
	PaymentKind PaymentKind `json:"payment_kind"`
	BaseFare    *int64      `json:"base_fare,omitempty"`

	Status      OrderStatus `json:"status"`
	RejectCount int         `json:"reject_count"`

	HourOfDay int `json:"hour_of_day"`
	DayOfWeek int `json:"day_of_week"`

	CreatedAt   time.Time  `json:"created_at"`
	OfferedAt   *time.Time `json:"offered_at,omitempty"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
	ArrivedAt   *time.Time `json:"arrived_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`

	CancelReason CancelReason `json:"cancel_reason,omitempty"`
}

// NewOrder builds an order fresh off a ride request, in its initial OFFERED
// state. Engine.Submit then moves it to QUEUED or DISPATCHING after
// consulting the hot-zone controller.
func NewOrder(riderID uuid.UUID, pickup Point, dest *Point, paymentKind PaymentKind, baseFare *int64) *Order {
	now := time.Now().UTC()
	return &Order{
		ID:          uuid.New(),
		RiderID:     riderID,
		Pickup:      pickup,
		Destination: dest,
		PaymentKind: paymentKind,
		BaseFare:    baseFare,
		Status:      OrderStatusOffered,
		HourOfDay:   now.Hour(),
		DayOfWeek:   int(now.Weekday()),
		CreatedAt:   now,
	}
}

// validOrderTransitions encodes the order lifecycle state machine.
var validOrderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusOffered:     {OrderStatusDispatching, OrderStatusQueued, OrderStatusCancelled},
	OrderStatusQueued:      {OrderStatusDispatching, OrderStatusCancelled},
	OrderStatusDispatching: {OrderStatusAccepted, OrderStatusCancelled},
	OrderStatusAccepted:    {OrderStatusArrived, OrderStatusCancelled},
	OrderStatusArrived:     {OrderStatusOnTrip, OrderStatusCancelled},
	OrderStatusOnTrip:      {OrderStatusDone, OrderStatusCancelled},
	OrderStatusDone:        {},
	OrderStatusCancelled:   {},
}

// CanTransitionTo reports whether newStatus is reachable from the order's
// current status.
func (o *Order) CanTransitionTo(newStatus OrderStatus) bool {
	for _, s := range validOrderTransitions[o.Status] {
		if s == newStatus {
			return true
		}
	}
	return false
}

// Accept binds a driver and moves the order to ACCEPTED. A single
// driver_id is bound and never changes afterward.
func (o *Order) Accept(driverID uuid.UUID) error {
	if !o.CanTransitionTo(OrderStatusAccepted) {
		return ErrInvalidStatusTransition
	}
	now := time.Now().UTC()
	o.DriverID = &driverID
	o.Status = OrderStatusAccepted
	o.AcceptedAt = &now
	return nil
}

// Cancel finalizes the order as CANCELLED with a reason. cancelled_at and
// completed_at are mutually exclusive.
func (o *Order) Cancel(reason CancelReason) error {
	if o.Status == OrderStatusDone || o.Status == OrderStatusCancelled {
		return ErrOrderAlreadyEnded
	}
	now := time.Now().UTC()
	o.Status = OrderStatusCancelled
	o.CancelReason = reason
	o.CancelledAt = &now
	return nil
}

// MarkArrived, MarkStarted and MarkCompleted advance the post-acceptance
// trip lifecycle. The dispatch engine no longer owns the order once
// ACCEPTED is reached.
func (o *Order) MarkArrived() error {
	if !o.CanTransitionTo(OrderStatusArrived) {
		return ErrInvalidStatusTransition
	}
	now := time.Now().UTC()
	o.Status = OrderStatusArrived
	o.ArrivedAt = &now
	return nil
}

func (o *Order) MarkStarted() error {
	if !o.CanTransitionTo(OrderStatusOnTrip) {
		return ErrInvalidStatusTransition
	}
	now := time.Now().UTC()
	o.Status = OrderStatusOnTrip
	o.StartedAt = &now
	return nil
}

func (o *Order) MarkCompleted() error {
	if !o.CanTransitionTo(OrderStatusDone) {
		return ErrInvalidStatusTransition
	}
	now := time.Now().UTC()
	o.Status = OrderStatusDone
	o.CompletedAt = &now
	return nil
}

// IsActive reports whether the order has not yet reached a terminal state.
func (o *Order) IsActive() bool {
	return o.Status != OrderStatusDone && o.Status != OrderStatusCancelled
}
