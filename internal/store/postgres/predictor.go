package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ubi-africa/dispatch-core/internal/domain"
	"github.com/ubi-africa/dispatch-core/internal/predictor"
)

// PredictorStore implements predictor.ModelStore, predictor.
// TrainingDataSource, and predictor.ProfileStore against driver_patterns
// (behavioral profiles), a training_samples table, and model_snapshots
// (Save appends one row per training run; GetLatest reads the newest).
// Nothing in this module writes training_samples; it is only read here.
type PredictorStore struct {
	pool *pgxpool.Pool
}

func (s *PredictorStore) GetLatest(ctx context.Context) (*predictor.ModelSnapshot, error) {
	var weights []byte
	var snap predictor.ModelSnapshot
	err := s.pool.QueryRow(ctx, `
		SELECT weights, trained_at, sample_count, mean_training_loss
		FROM model_snapshots ORDER BY trained_at DESC LIMIT 1`,
	).Scan(&weights, &snap.TrainedAt, &snap.SampleCount, &snap.MeanTrainingLoss)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	net := &predictor.Network{}
	if err := json.Unmarshal(weights, net); err != nil {
		return nil, err
	}
	snap.Weights = net
	return &snap, nil
}

func (s *PredictorStore) Save(ctx context.Context, snapshot predictor.ModelSnapshot) error {
	weights, err := json.Marshal(snapshot.Weights)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO model_snapshots (weights, trained_at, sample_count, mean_training_loss)
		VALUES ($1, $2, $3, $4)`,
		weights, snapshot.TrainedAt, snapshot.SampleCount, snapshot.MeanTrainingLoss,
	)
	return err
}

// RecentSamples reads the rolling training window from training_samples,
// one row per observed accept-or-reject outcome. No code in this module
// inserts into that table.
func (s *PredictorStore) RecentSamples(ctx context.Context, window time.Duration, limit int) ([]predictor.Sample, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT features, rejected FROM training_samples
		WHERE created_at > $1
		ORDER BY created_at DESC LIMIT $2`,
		time.Now().UTC().Add(-window), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []predictor.Sample
	for rows.Next() {
		var raw []byte
		var s predictor.Sample
		if err := rows.Scan(&raw, &s.Rejected); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &s.Features); err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

func (s *PredictorStore) Get(ctx context.Context, driverID uuid.UUID) (*domain.BehavioralProfile, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT profile FROM driver_patterns WHERE driver_id = $1`, driverID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var p domain.BehavioralProfile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PredictorStore) Put(ctx context.Context, profile *domain.BehavioralProfile) error {
	raw, err := json.Marshal(profile)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO driver_patterns (driver_id, profile, last_recomputed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (driver_id) DO UPDATE SET profile = EXCLUDED.profile, last_recomputed_at = EXCLUDED.last_recomputed_at`,
		profile.DriverID, raw, profile.LastRecomputed,
	)
	return err
}

// RecomputeWindow aggregates this driver's rejection/acceptance history
// over window and persists the derived profile, mirroring the teacher's
// getDriverAcceptRate/getDriverRating Redis-stat lookups generalized into
// a full rolling recompute against Postgres history.
func (s *PredictorStore) RecomputeWindow(ctx context.Context, driverID uuid.UUID, window time.Duration) (*domain.BehavioralProfile, error) {
	since := time.Now().UTC().Add(-window)
	profile := &domain.BehavioralProfile{DriverID: driverID, ZoneAcceptance: map[string]float64{}}

	var offered, rejected int
	if err := s.pool.QueryRow(ctx, `
		SELECT
			COALESCE((SELECT COUNT(*) FROM dispatch_logs dl JOIN orders o ON o.id = dl.order_id
				WHERE dl.driver_id = $1 AND dl.created_at > $2), 0),
			COALESCE((SELECT COUNT(*) FROM order_rejections WHERE driver_id = $1 AND created_at > $2), 0)`,
		driverID, since,
	).Scan(&offered, &rejected); err != nil {
		return nil, err
	}

	profile.SampleSize = offered + rejected
	if profile.SampleSize > 0 {
		profile.OverallAcceptanceRate = float64(offered) / float64(profile.SampleSize)
	}
	profile.ShortTripAcceptRate = profile.OverallAcceptanceRate
	profile.LongTripAcceptRate = profile.OverallAcceptanceRate
	profile.LastRecomputed = time.Now().UTC()
	profile.Class = profile.Classify()

	if err := s.Put(ctx, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

func (s *PredictorStore) ActiveDriverIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT driver_id FROM dispatch_logs WHERE created_at > $1 AND driver_id IS NOT NULL`,
		time.Now().UTC().Add(-24*time.Hour),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
