package eta

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// CacheKey is the five-tuple primary key of an ETA cache row: quantized
// origin, quantized destination, and the current hour bucket.
type CacheKey struct {
	OriginLatQ float64
	OriginLngQ float64
	DestLatQ   float64
	DestLngQ   float64
	Hour       int
}

func (k CacheKey) String() string {
	return fmt.Sprintf("%.4f,%.4f:%.4f,%.4f:h%d", k.OriginLatQ, k.OriginLngQ, k.DestLatQ, k.DestLngQ, k.Hour)
}

// CacheRow is a stored ETA cache row.
type CacheRow struct {
	DistanceM int64
	DurationS int64
	CachedAt  time.Time
	ExpiresAt time.Time
	HitCount  int64
}

// PersistentCache is the second, across-restart authoritative tier backing
// the eta_cache table. Implemented by internal/store/postgres.
type PersistentCache interface {
	Get(ctx context.Context, key CacheKey) (*CacheRow, error)
	Upsert(ctx context.Context, key CacheKey, row CacheRow) error
}

// memCache is the in-process, authoritative-within-process tier: an
// in-process map keyed by the same five-tuple, TTL 1h. Read order is
// memory -> table -> external; writes populate both.
type memCache struct {
	mu   sync.RWMutex
	rows map[CacheKey]CacheRow
	ttl  time.Duration
}

func newMemCache(ttl time.Duration) *memCache {
	return &memCache{rows: make(map[CacheKey]CacheRow), ttl: ttl}
}

// get reports a hit and, on hit, increments the row's hit_count in place
// before returning it.
func (m *memCache) get(key CacheKey, now time.Time) (CacheRow, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[key]
	if !ok || now.After(row.ExpiresAt) {
		return CacheRow{}, false
	}
	row.HitCount++
	m.rows[key] = row
	return row, true
}

func (m *memCache) put(key CacheKey, row CacheRow) {
	m.mu.Lock()
	m.rows[key] = row
	m.mu.Unlock()
}

// bump increments and returns the row's hit_count, for a persistent-tier
// hit just promoted into the in-process tier via put.
func (m *memCache) bump(key CacheKey) CacheRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := m.rows[key]
	row.HitCount++
	m.rows[key] = row
	return row
}

// sweep deletes expired rows; run periodically by the owning Oracle. Stale
// rows may be read until a sweep pass deletes them.
func (m *memCache) sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, row := range m.rows {
		if now.After(row.ExpiresAt) {
			delete(m.rows, k)
		}
	}
}
