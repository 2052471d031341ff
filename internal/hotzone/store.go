package hotzone

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// QuotaStore owns the atomic per-zone-per-hour quota counters. Consume
// MUST be safe under concurrent callers — implementations use either an
// optimistic `UPDATE ... SET used=used+1 WHERE used<limit RETURNING ...`
// (Postgres) or a per-zone Redis lock/Lua script.
type QuotaStore interface {
	Get(ctx context.Context, zoneID string, date string, hour int, limit int) (ZoneQuotaState, error)
	// Consume atomically increments used if used<limit, persists the
	// recomputed surge, and reports whether it succeeded.
	Consume(ctx context.Context, zoneID string, date string, hour int, limit int, surge float64) (ok bool, state ZoneQuotaState, err error)
	// Release decrements used by one (a cancel/complete freeing a slot).
	Release(ctx context.Context, zoneID string, date string, hour int) error
}

// QueueStore owns the FIFO overflow queue for zones at capacity.
type QueueStore interface {
	Enqueue(ctx context.Context, zoneID string, orderID, riderID uuid.UUID, baseFare int64) (QueueEntry, error)
	Dequeue(ctx context.Context, orderID uuid.UUID) error
	Length(ctx context.Context, zoneID string) (int, error)
	ExpireTimedOut(ctx context.Context, timeout time.Duration) ([]QueueEntry, error)
	// ReleaseHead resolves the head WAITING entry for a zone (status ->
	// RELEASED) and compacts the remaining positions, returning the
	// released entry if one existed.
	ReleaseHead(ctx context.Context, zoneID string) (*QueueEntry, error)
}

// OrderZoneBinding is a small lookup the controller needs to find which
// zone + fare + quota hour an order was admitted under, for
// Release/MarkCompleted. The bound date/hour is the (date, hour) Consume
// incremented, not the hour Release happens to run in — an order that
// spans an hour boundary between admission and release must still free
// the original slot.
type OrderZoneBinding interface {
	Bind(ctx context.Context, orderID uuid.UUID, zoneID string, baseFare int64, surge float64, date string, hour int) error
	Lookup(ctx context.Context, orderID uuid.UUID) (zoneID string, baseFare int64, surge float64, date string, hour int, found bool, err error)
	Unbind(ctx context.Context, orderID uuid.UUID) error
}
