package dispatch_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ubi-africa/dispatch-core/internal/dispatch"
	"github.com/ubi-africa/dispatch-core/internal/domain"
	"github.com/ubi-africa/dispatch-core/internal/eta"
	"github.com/ubi-africa/dispatch-core/internal/geo"
	"github.com/ubi-africa/dispatch-core/internal/hotzone"
	"github.com/ubi-africa/dispatch-core/internal/predictor"
	"github.com/ubi-africa/dispatch-core/internal/scoring"
)

type fakeOrderStore struct {
	mu     sync.Mutex
	saved  []domain.Order
}

func (f *fakeOrderStore) Save(ctx context.Context, order *domain.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, *order)
	return nil
}

func (f *fakeOrderStore) Get(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.saved) - 1; i >= 0; i-- {
		if f.saved[i].ID == orderID {
			order := f.saved[i]
			return &order, nil
		}
	}
	return nil, nil
}

func (f *fakeOrderStore) lastStatus() domain.OrderStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.saved) == 0 {
		return ""
	}
	return f.saved[len(f.saved)-1].Status
}

type fakePresence struct {
	entries []domain.Presence
}

func (f *fakePresence) NearbyDrivers(ctx context.Context, pickup domain.Point, radiusKm float64, at time.Time) ([]domain.Presence, error) {
	return f.entries, nil
}

type fakeEstimator struct{}

func (fakeEstimator) Estimate(ctx context.Context, req eta.Request) (eta.Result, error) {
	return eta.Result{DurationS: 300, DistanceM: 2000, Source: eta.SourceEstimated}, nil
}

type fakePredictor struct{ pReject float64 }

func (f fakePredictor) PReject(ctx context.Context, driverID uuid.UUID, features predictor.Features, fallback predictor.RuleInput) float64 {
	return f.pReject
}

type noopHotZone struct{}

func (noopHotZone) CheckAdmission(ctx context.Context, pickup geo.Point, at time.Time) (hotzone.AdmissionResult, error) {
	return hotzone.AdmissionResult{Outcome: hotzone.AdmissionNormal, Surge: 1}, nil
}
func (noopHotZone) Consume(ctx context.Context, zoneID string, orderID uuid.UUID, baseFare int64, surge float64, at time.Time) (bool, error) {
	return true, nil
}
func (noopHotZone) Release(ctx context.Context, orderID uuid.UUID) (*hotzone.QueueEntry, error) {
	return nil, nil
}
func (noopHotZone) MarkCompleted(ctx context.Context, orderID uuid.UUID) (*hotzone.QueueEntry, error) {
	return nil, nil
}
func (noopHotZone) Enqueue(ctx context.Context, zoneID string, orderID, riderID uuid.UUID, baseFare int64) (hotzone.QueueEntry, error) {
	return hotzone.QueueEntry{}, nil
}
func (noopHotZone) Dequeue(ctx context.Context, orderID uuid.UUID) error { return nil }
func (noopHotZone) ExpireTimedOut(ctx context.Context) ([]hotzone.QueueEntry, error) {
	return nil, nil
}

type recordingDriverNotifier struct {
	mu     sync.Mutex
	offers []dispatch.OfferMessage
	taken  []uuid.UUID
}

func (r *recordingDriverNotifier) SendOffer(ctx context.Context, driverID uuid.UUID, offer dispatch.OfferMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offers = append(r.offers, offer)
	return nil
}
func (r *recordingDriverNotifier) SendTaken(ctx context.Context, driverID uuid.UUID, orderID uuid.UUID, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.taken = append(r.taken, driverID)
	return nil
}
func (r *recordingDriverNotifier) SendBatchTimeout(ctx context.Context, driverID uuid.UUID, orderID uuid.UUID) error {
	return nil
}

type recordingRiderNotifier struct {
	mu      sync.Mutex
	updates []dispatch.RiderUpdate
}

func (r *recordingRiderNotifier) SendUpdate(ctx context.Context, update dispatch.RiderUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, update)
	return nil
}

func (r *recordingRiderNotifier) last() dispatch.RiderUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updates[len(r.updates)-1]
}

func newTestEngine(presences []domain.Presence) (*dispatch.Engine, *fakeOrderStore, *recordingDriverNotifier, *recordingRiderNotifier) {
	store := &fakeOrderStore{}
	driverNotifier := &recordingDriverNotifier{}
	riderNotifier := &recordingRiderNotifier{}
	eng := dispatch.New(dispatch.DefaultConfig(), scoring.DefaultWeights(), dispatch.Deps{
		Presence:       &fakePresence{entries: presences},
		Estimator:      fakeEstimator{},
		Predictor:      fakePredictor{pReject: 0.1},
		HotZone:        noopHotZone{},
		Orders:         store,
		DriverNotifier: driverNotifier,
		RiderNotifier:  riderNotifier,
	})
	return eng, store, driverNotifier, riderNotifier
}

func waitForStatus(t *testing.T, store *fakeOrderStore, want domain.OrderStatus, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if store.lastStatus() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for status %s, last was %s", want, store.lastStatus())
}

func TestSubmit_NoDriversCancelsImmediately(t *testing.T) {
	eng, store, _, _ := newTestEngine(nil)
	order := domain.NewOrder(uuid.New(), domain.Point{Lat: 6.45, Lng: 3.39}, nil, domain.PaymentKindCash, nil)

	if err := eng.Submit(context.Background(), order); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitForStatus(t, store, domain.OrderStatusCancelled, time.Second)
}

func TestSubmit_OfferedDriverAccepts(t *testing.T) {
	driverID := uuid.New()
	presences := []domain.Presence{{
		DriverID: driverID, LastLat: 6.451, LastLng: 3.391,
		LastHeartbeat: time.Now(), Availability: domain.AvailabilityAvailable,
		DriverClass: domain.DriverClassHighVolume, AcceptanceRate: 80,
	}}
	eng, store, driverNotifier, riderNotifier := newTestEngine(presences)
	order := domain.NewOrder(uuid.New(), domain.Point{Lat: 6.45, Lng: 3.39}, nil, domain.PaymentKindCash, nil)

	if err := eng.Submit(context.Background(), order); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for len(driverNotifier.offers) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(driverNotifier.offers) != 1 {
		t.Fatalf("expected one offer, got %d", len(driverNotifier.offers))
	}

	res, err := eng.DriverAccept(context.Background(), order.ID, driverID, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Ok() {
		t.Fatalf("expected accept to succeed: %+v", res)
	}

	waitForStatus(t, store, domain.OrderStatusAccepted, time.Second)
	if riderNotifier.last().DispatchStatus != dispatch.RiderStatusAccepted {
		t.Fatalf("expected rider to be notified of acceptance, got %+v", riderNotifier.last())
	}
}

func TestSubmit_AllDriversRejectCancelsOrder(t *testing.T) {
	driverID := uuid.New()
	presences := []domain.Presence{{
		DriverID: driverID, LastLat: 6.451, LastLng: 3.391,
		LastHeartbeat: time.Now(), Availability: domain.AvailabilityAvailable,
		DriverClass: domain.DriverClassHighVolume, AcceptanceRate: 80,
	}}
	eng, store, driverNotifier, _ := newTestEngine(presences)
	order := domain.NewOrder(uuid.New(), domain.Point{Lat: 6.45, Lng: 3.39}, nil, domain.PaymentKindCash, nil)

	if err := eng.Submit(context.Background(), order); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for len(driverNotifier.offers) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	res, err := eng.DriverReject(context.Background(), order.ID, driverID, 1, "TOO_FAR", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Ok() {
		t.Fatalf("expected reject to be acknowledged: %+v", res)
	}

	waitForStatus(t, store, domain.OrderStatusCancelled, time.Second)
}
