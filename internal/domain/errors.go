package domain

import "errors"

// Domain errors
var (
	// Order errors
	ErrOrderNotFound           = errors.New("order not found")
	ErrOrderAlreadyEnded       = errors.New("order has already reached a terminal state")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrOrderNotDispatching     = errors.New("order is not in DISPATCHING status")
	ErrOrderAlreadyTaken       = errors.New("order already accepted by another driver")

	// Driver / presence errors
	ErrDriverNotFound     = errors.New("driver not found")
	ErrDriverNotAvailable = errors.New("driver is not available")
	ErrPresenceNotFound   = errors.New("driver has no live presence entry")
	ErrNoDriversAvailable = errors.New("no drivers available for this order")

	// Location errors
	ErrInvalidLocation = errors.New("invalid location coordinates")

	// Hot-zone errors
	ErrZoneNotFound      = errors.New("no hot-zone matches this pickup point")
	ErrQuotaExhausted    = errors.New("zone hour quota already at limit")
	ErrQueueFull         = errors.New("zone overflow queue is full")
	ErrQueueEntryNotFound = errors.New("queue entry not found")

	// Dispatch errors
	ErrMaxBatchesExceeded = errors.New("maximum batch count exceeded")
	ErrBatchMismatch      = errors.New("response does not match the current batch")

	// General errors
	ErrInvalidRequest = errors.New("invalid request")
	ErrInternal       = errors.New("internal error")
)

// Error codes for API responses.
const (
	ErrCodeOrderNotFound           = "ORDER_NOT_FOUND"
	ErrCodeOrderAlreadyEnded       = "ORDER_ALREADY_ENDED"
	ErrCodeInvalidStatusTransition = "INVALID_STATUS_TRANSITION"
	ErrCodeOrderAlreadyTaken       = "ORDER_ALREADY_TAKEN"

	ErrCodeDriverNotFound     = "DRIVER_NOT_FOUND"
	ErrCodeDriverNotAvailable = "DRIVER_NOT_AVAILABLE"
	ErrCodeNoDriversAvailable = "NO_DRIVERS_AVAILABLE"

	ErrCodeInvalidLocation = "INVALID_LOCATION"

	ErrCodeZoneNotFound   = "ZONE_NOT_FOUND"
	ErrCodeQuotaExhausted = "QUOTA_EXHAUSTED"
	ErrCodeQueueFull      = "QUEUE_FULL"

	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeInternal       = "INTERNAL_ERROR"
)
