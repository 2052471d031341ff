package predictor_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ubi-africa/dispatch-core/internal/domain"
	"github.com/ubi-africa/dispatch-core/internal/predictor"
)

type memModelStore struct {
	snapshot *predictor.ModelSnapshot
}

func (m *memModelStore) GetLatest(ctx context.Context) (*predictor.ModelSnapshot, error) {
	return m.snapshot, nil
}

func (m *memModelStore) Save(ctx context.Context, snapshot predictor.ModelSnapshot) error {
	m.snapshot = &snapshot
	return nil
}

type fixedDataSource struct {
	samples []predictor.Sample
}

func (f *fixedDataSource) RecentSamples(ctx context.Context, window time.Duration, limit int) ([]predictor.Sample, error) {
	return f.samples, nil
}

type memProfileStore struct {
	profiles map[uuid.UUID]*domain.BehavioralProfile
}

func newMemProfileStore() *memProfileStore {
	return &memProfileStore{profiles: make(map[uuid.UUID]*domain.BehavioralProfile)}
}

func (m *memProfileStore) Get(ctx context.Context, driverID uuid.UUID) (*domain.BehavioralProfile, error) {
	return m.profiles[driverID], nil
}

func (m *memProfileStore) Put(ctx context.Context, profile *domain.BehavioralProfile) error {
	m.profiles[profile.DriverID] = profile
	return nil
}

func (m *memProfileStore) RecomputeWindow(ctx context.Context, driverID uuid.UUID, window time.Duration) (*domain.BehavioralProfile, error) {
	return &domain.BehavioralProfile{
		DriverID:               driverID,
		ShortTripAcceptRate:    0.9,
		LongTripAcceptRate:     0.4,
		AcceptedDistanceMeanKm: 3,
		SampleSize:             50,
	}, nil
}

func (m *memProfileStore) ActiveDriverIDs(ctx context.Context) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(m.profiles))
	for id := range m.profiles {
		ids = append(ids, id)
	}
	return ids, nil
}

func TestPReject_FallsBackToRuleEngineWithoutModel(t *testing.T) {
	p := predictor.New(&memModelStore{}, &fixedDataSource{}, newMemProfileStore())

	features := predictor.Features{DistanceToPickupKm: 0.1}
	fallback := predictor.RuleInput{DistanceToPickupKm: 2, Hour: 10, OnlineHours: 2}

	p_reject := p.PReject(context.Background(), uuid.New(), features, fallback)
	if p_reject < 0 || p_reject > 1 {
		t.Fatalf("p_reject out of bounds: %f", p_reject)
	}
}

func TestTrain_SkipsBelowMinimumSamples(t *testing.T) {
	store := &memModelStore{}
	p := predictor.New(store, &fixedDataSource{samples: make([]predictor.Sample, 5)}, newMemProfileStore())

	if err := p.Train(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.snapshot != nil {
		t.Fatal("expected no snapshot to be saved below the minimum sample count")
	}
}

func TestTrain_TrainsAndPersistsAboveMinimum(t *testing.T) {
	samples := make([]predictor.Sample, 0, 120)
	for i := 0; i < 120; i++ {
		samples = append(samples, predictor.Sample{
			Features: predictor.Features{DistanceToPickupKm: float64(i%10) / 10},
			Rejected: i%3 == 0,
		})
	}

	store := &memModelStore{}
	p := predictor.New(store, &fixedDataSource{samples: samples}, newMemProfileStore())

	if err := p.Train(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.snapshot == nil {
		t.Fatal("expected a trained snapshot to be persisted")
	}
	if store.snapshot.SampleCount != len(samples) {
		t.Fatalf("expected sample count %d, got %d", len(samples), store.snapshot.SampleCount)
	}
}

func TestUpdateProfile_AppliesClassification(t *testing.T) {
	store := newMemProfileStore()
	p := predictor.New(&memModelStore{}, &fixedDataSource{}, store)

	driverID := uuid.New()
	if err := p.UpdateProfile(context.Background(), driverID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	profile, err := store.Get(context.Background(), driverID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if profile == nil {
		t.Fatal("expected profile to be persisted")
	}
	if profile.Class != domain.DriverClassFastTurnover {
		t.Fatalf("expected FAST_TURNOVER given the fixture rates, got %s", profile.Class)
	}
}

func TestRuleScore_ClampedToCap(t *testing.T) {
	profile := &domain.BehavioralProfile{
		AcceptedDistanceMaxKm:       1,
		AcceptedDistanceMeanKm:      1,
		EarningsSaturationThreshold: 100,
		OverallAcceptanceRate:       0.1,
		ShortTripAcceptRate:         0.1,
		LongTripAcceptRate:          0.1,
	}
	in := predictor.RuleInput{
		DistanceToPickupKm:  50,
		IsShortTrip:         true,
		IsLongTrip:          true,
		DriverTodayEarnings: 500,
		Hour:                3,
		OnlineHours:         14,
		Profile:             profile,
	}

	score := predictor.Score(in)
	if score > 0.95 {
		t.Fatalf("expected score clamped to 0.95, got %f", score)
	}
}
