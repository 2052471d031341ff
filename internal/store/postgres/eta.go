package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ubi-africa/dispatch-core/internal/eta"
)

// ETACache implements eta.PersistentCache against the eta_cache table: the
// second, across-restart tier backing the oracle's in-process map.
type ETACache struct {
	pool *pgxpool.Pool
}

func (c *ETACache) Get(ctx context.Context, key eta.CacheKey) (*eta.CacheRow, error) {
	var row eta.CacheRow
	err := c.pool.QueryRow(ctx, `
		SELECT distance_m, duration_s, cached_at, expires_at, hit_count FROM eta_cache
		WHERE origin_lat_q = $1 AND origin_lng_q = $2 AND dest_lat_q = $3 AND dest_lng_q = $4 AND hour = $5`,
		key.OriginLatQ, key.OriginLngQ, key.DestLatQ, key.DestLngQ, key.Hour,
	).Scan(&row.DistanceM, &row.DurationS, &row.CachedAt, &row.ExpiresAt, &row.HitCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (c *ETACache) Upsert(ctx context.Context, key eta.CacheKey, row eta.CacheRow) error {
	_, err := c.pool.Exec(ctx, `
		INSERT INTO eta_cache (
			origin_lat_q, origin_lng_q, dest_lat_q, dest_lng_q, hour,
			distance_m, duration_s, cached_at, expires_at, hit_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (origin_lat_q, origin_lng_q, dest_lat_q, dest_lng_q, hour) DO UPDATE SET
			distance_m = EXCLUDED.distance_m, duration_s = EXCLUDED.duration_s,
			cached_at = EXCLUDED.cached_at, expires_at = EXCLUDED.expires_at,
			hit_count = eta_cache.hit_count + 1`,
		key.OriginLatQ, key.OriginLngQ, key.DestLatQ, key.DestLngQ, key.Hour,
		row.DistanceM, row.DurationS, row.CachedAt, row.ExpiresAt, row.HitCount,
	)
	return err
}
