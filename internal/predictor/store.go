package predictor

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ubi-africa/dispatch-core/internal/domain"
)

// ModelSnapshot is the persisted form of a trained Network, plus the
// training-run metadata kept alongside it. Grounded on the cache-then-
// table pattern in the pack's mleta repository (StoreModelStats /
// GetModelStats: write-through to Postgres, mirror the latest snapshot in
// Redis for fast cold-start reads).
type ModelSnapshot struct {
	Weights          *Network
	TrainedAt        time.Time
	SampleCount      int
	MeanTrainingLoss float64
}

// ModelStore persists the single process-wide model snapshot.
type ModelStore interface {
	GetLatest(ctx context.Context) (*ModelSnapshot, error)
	Save(ctx context.Context, snapshot ModelSnapshot) error
}

// TrainingDataSource supplies the rolling window of labeled samples used
// to train or retrain the network.
type TrainingDataSource interface {
	RecentSamples(ctx context.Context, window time.Duration, limit int) ([]Sample, error)
}

// ProfileStore persists and recomputes per-driver behavioral profiles.
// RecomputeWindow mirrors update_profile's 30-day rolling window; the
// caller decides whether to recompute one driver or the full active set.
type ProfileStore interface {
	Get(ctx context.Context, driverID uuid.UUID) (*domain.BehavioralProfile, error)
	Put(ctx context.Context, profile *domain.BehavioralProfile) error
	RecomputeWindow(ctx context.Context, driverID uuid.UUID, window time.Duration) (*domain.BehavioralProfile, error)
	ActiveDriverIDs(ctx context.Context) ([]uuid.UUID, error)
}

const profileRecomputeWindow = 30 * 24 * time.Hour
