package predictor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Predictor is the process-wide rejection-probability service: exactly
// one model instance, concurrent inference permitted, training
// serialized by isTraining.
type Predictor struct {
	mu          sync.RWMutex
	net         *Network
	trainedAt   time.Time
	sampleCount int

	models   ModelStore
	data     TrainingDataSource
	profiles ProfileStore

	isTraining int32 // atomic bool, guards single-flight training
}

func New(models ModelStore, data TrainingDataSource, profiles ProfileStore) *Predictor {
	return &Predictor{models: models, data: data, profiles: profiles}
}

// LoadLatest restores the most recently trained snapshot, if any, from
// the model store. Called once at process startup.
func (p *Predictor) LoadLatest(ctx context.Context) error {
	snapshot, err := p.models.GetLatest(ctx)
	if err != nil {
		return err
	}
	if snapshot == nil {
		return nil
	}
	p.mu.Lock()
	p.net = snapshot.Weights
	p.trainedAt = snapshot.TrainedAt
	p.sampleCount = snapshot.SampleCount
	p.mu.Unlock()
	return nil
}

// PReject returns the rejection probability for one driver/order pairing.
// It never returns an error: on a missing model, it falls back to the
// rule engine, and profile lookup failures degrade to a historyless
// fallback rather than propagating.
func (p *Predictor) PReject(ctx context.Context, driverID uuid.UUID, features Features, fallback RuleInput) float64 {
	p.mu.RLock()
	net := p.net
	p.mu.RUnlock()

	if net != nil {
		return net.Predict(features.Vector())
	}

	if fallback.Profile == nil && p.profiles != nil {
		if profile, err := p.profiles.Get(ctx, driverID); err == nil {
			fallback.Profile = profile
		}
	}
	return Score(fallback)
}

// Train attempts to (re)train the model from recent historical samples.
// At most one training run proceeds at a time; a call arriving while one
// is already in flight returns immediately without error, matching the
// spec's "training is single-flight" invariant.
func (p *Predictor) Train(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&p.isTraining, 0, 1) {
		log.Info().Msg("predictor training already in flight, skipping")
		return nil
	}
	defer atomic.StoreInt32(&p.isTraining, 0)

	samples, err := p.data.RecentSamples(ctx, 30*24*time.Hour, 0)
	if err != nil {
		return err
	}
	if len(samples) < minTrainingSamples {
		log.Info().Int("samples", len(samples)).Msg("not enough samples to train rejection predictor")
		return nil
	}

	net := NewNetwork(time.Now().UnixNano())
	loss := net.Train(samples, DefaultTrainConfig())

	snapshot := ModelSnapshot{
		Weights:          net,
		TrainedAt:        time.Now().UTC(),
		SampleCount:      len(samples),
		MeanTrainingLoss: loss,
	}
	if err := p.models.Save(ctx, snapshot); err != nil {
		return err
	}

	p.mu.Lock()
	p.net = net
	p.trainedAt = snapshot.TrainedAt
	p.sampleCount = snapshot.SampleCount
	p.mu.Unlock()

	log.Info().Int("samples", len(samples)).Float64("loss", loss).Msg("rejection predictor retrained")
	return nil
}

// IsTraining reports whether a training run is currently in flight.
func (p *Predictor) IsTraining() bool {
	return atomic.LoadInt32(&p.isTraining) == 1
}

// UpdateProfile recomputes one driver's behavioral profile over the
// rolling window and persists it, invalidating any cached copy.
func (p *Predictor) UpdateProfile(ctx context.Context, driverID uuid.UUID) error {
	profile, err := p.profiles.RecomputeWindow(ctx, driverID, profileRecomputeWindow)
	if err != nil {
		return err
	}
	profile.Class = profile.Classify()
	profile.LastRecomputed = time.Now().UTC()
	return p.profiles.Put(ctx, profile)
}

// UpdateAllProfiles is the batch variant of UpdateProfile, refreshing
// every currently active driver.
func (p *Predictor) UpdateAllProfiles(ctx context.Context) error {
	ids, err := p.profiles.ActiveDriverIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := p.UpdateProfile(ctx, id); err != nil {
			log.Error().Err(err).Str("driver_id", id.String()).Msg("failed to recompute driver behavioral profile")
		}
	}
	return nil
}
