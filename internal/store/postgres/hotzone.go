package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ubi-africa/dispatch-core/internal/hotzone"
)

// HotZoneStore implements hotzone.QuotaStore, hotzone.QueueStore, and
// hotzone.OrderZoneBinding against the hot_zone_quotas/hot_zone_queue/
// hot_zone_orders tables.
type HotZoneStore struct {
	pool *pgxpool.Pool
}

// Get reads the per-zone-per-hour quota row; when none exists it returns a
// zero-usage state without writing a row.
func (s *HotZoneStore) Get(ctx context.Context, zoneID, date string, hour, limit int) (hotzone.ZoneQuotaState, error) {
	var state hotzone.ZoneQuotaState
	err := s.pool.QueryRow(ctx, `
		SELECT zone_id, date, hour, used, "limit", surge FROM hot_zone_quotas
		WHERE zone_id = $1 AND date = $2 AND hour = $3`,
		zoneID, date, hour,
	).Scan(&state.ZoneID, &state.Date, &state.Hour, &state.Used, &state.Limit, &state.Surge)
	if errors.Is(err, pgx.ErrNoRows) {
		return hotzone.ZoneQuotaState{ZoneID: zoneID, Date: date, Hour: hour, Limit: limit, Surge: 1}, nil
	}
	return state, err
}

// Consume implements the atomic `UPDATE ... WHERE used<limit RETURNING`
// quota-slot reservation the hot-zone admission invariant requires.
func (s *HotZoneStore) Consume(ctx context.Context, zoneID, date string, hour, limit int, surge float64) (bool, hotzone.ZoneQuotaState, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO hot_zone_quotas (zone_id, date, hour, used, "limit", surge)
		VALUES ($1, $2, $3, 0, $4, 1)
		ON CONFLICT (zone_id, date, hour) DO NOTHING`,
		zoneID, date, hour, limit,
	)
	if err != nil {
		return false, hotzone.ZoneQuotaState{}, err
	}

	var state hotzone.ZoneQuotaState
	err = s.pool.QueryRow(ctx, `
		UPDATE hot_zone_quotas SET used = used + 1, surge = $5
		WHERE zone_id = $1 AND date = $2 AND hour = $3 AND used < $4
		RETURNING zone_id, date, hour, used, "limit", surge`,
		zoneID, date, hour, limit, surge,
	).Scan(&state.ZoneID, &state.Date, &state.Hour, &state.Used, &state.Limit, &state.Surge)
	if errors.Is(err, pgx.ErrNoRows) {
		current, getErr := s.Get(ctx, zoneID, date, hour, limit)
		return false, current, getErr
	}
	if err != nil {
		return false, hotzone.ZoneQuotaState{}, err
	}
	return true, state, nil
}

func (s *HotZoneStore) Release(ctx context.Context, zoneID, date string, hour int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE hot_zone_quotas SET used = GREATEST(used - 1, 0)
		WHERE zone_id = $1 AND date = $2 AND hour = $3`,
		zoneID, date, hour,
	)
	return err
}

// Enqueue inserts a new FIFO overflow entry, assigning it the next dense
// position for its zone under a per-zone advisory lock so positions never
// collide under concurrent enqueues.
func (s *HotZoneStore) Enqueue(ctx context.Context, zoneID string, orderID, riderID uuid.UUID, baseFare int64) (hotzone.QueueEntry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return hotzone.QueueEntry{}, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, zoneID); err != nil {
		return hotzone.QueueEntry{}, err
	}

	var nextPos int
	if err := tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(position), 0) + 1 FROM hot_zone_queue
		WHERE zone_id = $1 AND status = $2`,
		zoneID, hotzone.QueueStatusWaiting,
	).Scan(&nextPos); err != nil {
		return hotzone.QueueEntry{}, err
	}

	entry := hotzone.QueueEntry{
		ID: uuid.New(), ZoneID: zoneID, OrderID: orderID, RiderID: riderID,
		BaseFare: baseFare, Position: nextPos, Status: hotzone.QueueStatusWaiting,
		QueuedAt: time.Now().UTC(),
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO hot_zone_queue (id, zone_id, order_id, rider_id, base_fare, position, status, queued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.ZoneID, entry.OrderID, entry.RiderID, entry.BaseFare, entry.Position, entry.Status, entry.QueuedAt,
	)
	if err != nil {
		return hotzone.QueueEntry{}, err
	}
	return entry, tx.Commit(ctx)
}

func (s *HotZoneStore) Dequeue(ctx context.Context, orderID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM hot_zone_queue WHERE order_id = $1`, orderID)
	return err
}

func (s *HotZoneStore) Length(ctx context.Context, zoneID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM hot_zone_queue WHERE zone_id = $1 AND status = $2`,
		zoneID, hotzone.QueueStatusWaiting,
	).Scan(&n)
	return n, err
}

func (s *HotZoneStore) ExpireTimedOut(ctx context.Context, timeout time.Duration) ([]hotzone.QueueEntry, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE hot_zone_queue SET status = $1, resolved_at = now()
		WHERE status = $2 AND queued_at < $3
		RETURNING id, zone_id, order_id, rider_id, base_fare, position, status, queued_at, resolved_at`,
		hotzone.QueueStatusExpired, hotzone.QueueStatusWaiting, time.Now().UTC().Add(-timeout),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanQueueEntries(rows)
}

// ReleaseHead resolves the head WAITING entry for a zone, compacting the
// remaining positions under the same per-zone advisory lock Enqueue uses.
func (s *HotZoneStore) ReleaseHead(ctx context.Context, zoneID string) (*hotzone.QueueEntry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, zoneID); err != nil {
		return nil, err
	}

	var entry hotzone.QueueEntry
	err = tx.QueryRow(ctx, `
		UPDATE hot_zone_queue SET status = $1, resolved_at = now()
		WHERE id = (
			SELECT id FROM hot_zone_queue
			WHERE zone_id = $2 AND status = $3
			ORDER BY position ASC LIMIT 1
		)
		RETURNING id, zone_id, order_id, rider_id, base_fare, position, status, queued_at, resolved_at`,
		hotzone.QueueStatusReleased, zoneID, hotzone.QueueStatusWaiting,
	).Scan(&entry.ID, &entry.ZoneID, &entry.OrderID, &entry.RiderID, &entry.BaseFare,
		&entry.Position, &entry.Status, &entry.QueuedAt, &entry.ResolvedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, tx.Commit(ctx)
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE hot_zone_queue SET position = position - 1
		WHERE zone_id = $1 AND status = $2 AND position > $3`,
		zoneID, hotzone.QueueStatusWaiting, entry.Position,
	); err != nil {
		return nil, err
	}

	return &entry, tx.Commit(ctx)
}

func scanQueueEntries(rows pgx.Rows) ([]hotzone.QueueEntry, error) {
	var out []hotzone.QueueEntry
	for rows.Next() {
		var e hotzone.QueueEntry
		if err := rows.Scan(&e.ID, &e.ZoneID, &e.OrderID, &e.RiderID, &e.BaseFare,
			&e.Position, &e.Status, &e.QueuedAt, &e.ResolvedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Bind/Lookup/Unbind implement hotzone.OrderZoneBinding against
// hot_zone_orders, the small lookup Release/MarkCompleted need to find
// which zone + fare an order was admitted under.
func (s *HotZoneStore) Bind(ctx context.Context, orderID uuid.UUID, zoneID string, baseFare int64, surge float64, date string, hour int) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO hot_zone_orders (order_id, zone_id, base_fare, surge, quota_date, quota_hour)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (order_id) DO UPDATE SET
			zone_id = EXCLUDED.zone_id, base_fare = EXCLUDED.base_fare, surge = EXCLUDED.surge,
			quota_date = EXCLUDED.quota_date, quota_hour = EXCLUDED.quota_hour`,
		orderID, zoneID, baseFare, surge, date, hour,
	)
	return err
}

func (s *HotZoneStore) Lookup(ctx context.Context, orderID uuid.UUID) (string, int64, float64, string, int, bool, error) {
	var zoneID, date string
	var baseFare int64
	var surge float64
	var hour int
	err := s.pool.QueryRow(ctx, `
		SELECT zone_id, base_fare, surge, quota_date, quota_hour FROM hot_zone_orders WHERE order_id = $1`,
		orderID,
	).Scan(&zoneID, &baseFare, &surge, &date, &hour)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", 0, 0, "", 0, false, nil
	}
	if err != nil {
		return "", 0, 0, "", 0, false, err
	}
	return zoneID, baseFare, surge, date, hour, true, nil
}

func (s *HotZoneStore) Unbind(ctx context.Context, orderID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM hot_zone_orders WHERE order_id = $1`, orderID)
	return err
}
