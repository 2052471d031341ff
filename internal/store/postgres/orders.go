package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ubi-africa/dispatch-core/internal/domain"
)

// OrderStore persists order transitions. Implements dispatch.OrderStore.
type OrderStore struct {
	pool *pgxpool.Pool
}

// Save upserts the order's full current state. Grounded on the teacher's
// RideRepository.Create/Update pair, collapsed into one statement since an
// order's primary key never changes hands after creation.
func (s *OrderStore) Save(ctx context.Context, order *domain.Order) error {
	query := `
		INSERT INTO orders (
			id, rider_id, driver_id, pickup_lat, pickup_lng, pickup_address,
			dest_lat, dest_lng, dest_address,
			payment_kind, base_fare, status, reject_count,
			hour_of_day, day_of_week,
			created_at, offered_at, accepted_at, arrived_at, started_at,
			completed_at, cancelled_at, cancel_reason
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9,
			$10, $11, $12, $13,
			$14, $15,
			$16, $17, $18, $19, $20,
			$21, $22, $23
		)
		ON CONFLICT (id) DO UPDATE SET
			driver_id = EXCLUDED.driver_id,
			status = EXCLUDED.status,
			reject_count = EXCLUDED.reject_count,
			offered_at = EXCLUDED.offered_at,
			accepted_at = EXCLUDED.accepted_at,
			arrived_at = EXCLUDED.arrived_at,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			cancelled_at = EXCLUDED.cancelled_at,
			cancel_reason = EXCLUDED.cancel_reason`

	var destLat, destLng *float64
	var destAddr *string
	if order.Destination != nil {
		destLat, destLng = &order.Destination.Lat, &order.Destination.Lng
		if order.Destination.Address != "" {
			destAddr = &order.Destination.Address
		}
	}

	_, err := s.pool.Exec(ctx, query,
		order.ID, order.RiderID, order.DriverID,
		order.Pickup.Lat, order.Pickup.Lng, nullIfEmpty(order.Pickup.Address),
		destLat, destLng, destAddr,
		order.PaymentKind, order.BaseFare, order.Status, order.RejectCount,
		order.HourOfDay, order.DayOfWeek,
		order.CreatedAt, order.OfferedAt, order.AcceptedAt, order.ArrivedAt, order.StartedAt,
		order.CompletedAt, order.CancelledAt, nullIfEmpty(string(order.CancelReason)),
	)
	return err
}

// Get loads an order by id. Implements dispatch.OrderStore.
func (s *OrderStore) Get(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	var o domain.Order
	var destLat, destLng *float64
	var destAddr, pickupAddr, cancelReason *string

	err := s.pool.QueryRow(ctx, `
		SELECT id, rider_id, driver_id, pickup_lat, pickup_lng, pickup_address,
			dest_lat, dest_lng, dest_address,
			payment_kind, base_fare, status, reject_count,
			hour_of_day, day_of_week,
			created_at, offered_at, accepted_at, arrived_at, started_at,
			completed_at, cancelled_at, cancel_reason
		FROM orders WHERE id = $1`,
		orderID,
	).Scan(
		&o.ID, &o.RiderID, &o.DriverID, &o.Pickup.Lat, &o.Pickup.Lng, &pickupAddr,
		&destLat, &destLng, &destAddr,
		&o.PaymentKind, &o.BaseFare, &o.Status, &o.RejectCount,
		&o.HourOfDay, &o.DayOfWeek,
		&o.CreatedAt, &o.OfferedAt, &o.AcceptedAt, &o.ArrivedAt, &o.StartedAt,
		&o.CompletedAt, &o.CancelledAt, &cancelReason,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if pickupAddr != nil {
		o.Pickup.Address = *pickupAddr
	}
	if destLat != nil && destLng != nil {
		o.Destination = &domain.Point{Lat: *destLat, Lng: *destLng}
		if destAddr != nil {
			o.Destination.Address = *destAddr
		}
	}
	if cancelReason != nil {
		o.CancelReason = domain.CancelReason(*cancelReason)
	}
	return &o, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
