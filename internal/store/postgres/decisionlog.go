package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ubi-africa/dispatch-core/internal/dispatch"
	"github.com/ubi-africa/dispatch-core/internal/predictor"
)

// DecisionLogStore implements decisionlog.Store. Rejections and auto-accept
// decisions append to their own tables; batch and accept records share
// dispatch_logs, keyed by (order_id, batch_number), with an accept upserting
// onto its batch's row. Written from decisionlog.Writer's single background
// goroutine so these never see concurrent writers for the same order.
type DecisionLogStore struct {
	pool *pgxpool.Pool
}

func (s *DecisionLogStore) InsertBatch(ctx context.Context, rec dispatch.BatchDecisionRecord) error {
	candidateIDs, err := json.Marshal(rec.Candidates)
	if err != nil {
		return err
	}
	weights, err := json.Marshal(rec.Weights)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO dispatch_logs (order_id, batch_number, candidate_ids, weights, hour_of_day, day_of_week, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.OrderID, rec.BatchNumber, candidateIDs, weights, rec.Hour, rec.DayOfWeek, rec.CreatedAt,
	)
	return err
}

func (s *DecisionLogStore) InsertRejection(ctx context.Context, rec predictor.RejectionRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO order_rejections (
			order_id, driver_id, reason_code, distance_to_pickup_km,
			trip_distance_km, estimated_fare, hour_of_day, driver_today_earnings, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.OrderID, rec.DriverID, rec.ReasonCode, rec.DistanceToPickupKm,
		rec.TripDistanceKm, rec.EstimatedFare, rec.HourOfDay, rec.DriverTodayEarnings, rec.CreatedAt,
	)
	return err
}

func (s *DecisionLogStore) InsertAutoAcceptDecision(ctx context.Context, rec dispatch.AutoAcceptDecisionRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO auto_accept_logs (order_id, driver_id, batch_number, score, allowed, block_reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.OrderID, rec.DriverID, rec.BatchNumber, rec.Score, rec.Allowed, nullIfEmpty(rec.BlockReason), rec.CreatedAt,
	)
	return err
}

func (s *DecisionLogStore) InsertAccept(ctx context.Context, rec dispatch.AcceptRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO dispatch_logs (order_id, batch_number, driver_id, response_ms, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (order_id, batch_number) DO UPDATE SET
			driver_id = EXCLUDED.driver_id, response_ms = EXCLUDED.response_ms`,
		rec.OrderID, rec.BatchNumber, rec.DriverID, rec.ResponseMs, rec.CreatedAt,
	)
	return err
}
