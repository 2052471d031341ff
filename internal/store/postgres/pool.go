// Package postgres is the durable storage layer backing every module that
// needs it: orders, decision logs, hot-zone quotas/queue/bindings, the
// rejection predictor's model/training/profile stores, the ETA oracle's
// persistent cache tier, and auto-accept policy/stats. Grounded on the
// teacher's internal/repository.RideRepository: a pgxpool.Pool held by
// value, plain parameterized SQL, pgx.ErrNoRows mapped to a nil/not-found
// result rather than propagated as an error.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the shared connection pool every per-concern accessor in this
// package is built from.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pool against dsn. Callers own calling Close on the
// returned Store's pool during shutdown.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// Orders, DecisionLog, HotZone, Predictor, ETA, and AutoAccept return
// narrow accessors over the same pool, one per interface this package
// implements, matching the teacher's one-repository-per-entity layering.
func (s *Store) Orders() *OrderStore           { return &OrderStore{pool: s.pool} }
func (s *Store) DecisionLog() *DecisionLogStore { return &DecisionLogStore{pool: s.pool} }
func (s *Store) HotZone() *HotZoneStore        { return &HotZoneStore{pool: s.pool} }
func (s *Store) Predictor() *PredictorStore    { return &PredictorStore{pool: s.pool} }
func (s *Store) ETA() *ETACache                { return &ETACache{pool: s.pool} }
func (s *Store) AutoAccept() *AutoAcceptStore  { return &AutoAcceptStore{pool: s.pool} }
