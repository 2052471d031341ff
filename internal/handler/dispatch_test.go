package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ubi-africa/dispatch-core/internal/dispatch"
	"github.com/ubi-africa/dispatch-core/internal/domain"
	"github.com/ubi-africa/dispatch-core/internal/eta"
	"github.com/ubi-africa/dispatch-core/internal/geo"
	"github.com/ubi-africa/dispatch-core/internal/handler"
	"github.com/ubi-africa/dispatch-core/internal/hotzone"
	"github.com/ubi-africa/dispatch-core/internal/predictor"
	"github.com/ubi-africa/dispatch-core/internal/scoring"
)

type fakeOrderStore struct{ saved []domain.Order }

func (f *fakeOrderStore) Save(ctx context.Context, order *domain.Order) error {
	f.saved = append(f.saved, *order)
	return nil
}

func (f *fakeOrderStore) Get(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	for i := len(f.saved) - 1; i >= 0; i-- {
		if f.saved[i].ID == orderID {
			order := f.saved[i]
			return &order, nil
		}
	}
	return nil, nil
}

type fakePresence struct{ entries []domain.Presence }

func (f *fakePresence) NearbyDrivers(ctx context.Context, pickup domain.Point, radiusKm float64, at time.Time) ([]domain.Presence, error) {
	return f.entries, nil
}

type fakeEstimator struct{}

func (fakeEstimator) Estimate(ctx context.Context, req eta.Request) (eta.Result, error) {
	return eta.Result{DurationS: 300, DistanceM: 2000, Source: eta.SourceEstimated}, nil
}

type fakePredictor struct{}

func (fakePredictor) PReject(ctx context.Context, driverID uuid.UUID, features predictor.Features, fallback predictor.RuleInput) float64 {
	return 0.1
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

type noopDriverNotifier struct{}

func (noopDriverNotifier) SendOffer(ctx context.Context, driverID uuid.UUID, offer dispatch.OfferMessage) error {
	return nil
}
func (noopDriverNotifier) SendTaken(ctx context.Context, driverID, orderID uuid.UUID, message string) error {
	return nil
}
func (noopDriverNotifier) SendBatchTimeout(ctx context.Context, driverID, orderID uuid.UUID) error {
	return nil
}

type noopRiderNotifier struct{}

func (noopRiderNotifier) SendUpdate(ctx context.Context, update dispatch.RiderUpdate) error {
	return nil
}

func newTestHandler(presences []domain.Presence) (*handler.DispatchHandler, *fakeOrderStore) {
	store := &fakeOrderStore{}
	eng := dispatch.New(dispatch.DefaultConfig(), scoring.DefaultWeights(), dispatch.Deps{
		Presence:       &fakePresence{entries: presences},
		Estimator:      fakeEstimator{},
		Predictor:      fakePredictor{},
		HotZone:        noopHotZone{},
		Orders:         store,
		DriverNotifier: noopDriverNotifier{},
		RiderNotifier:  noopRiderNotifier{},
	})
	return handler.NewDispatchHandler(eng, nil), store
}

func withUser(req *http.Request, userID uuid.UUID) *http.Request {
	return req.WithContext(handler.WithUserID(req.Context(), userID))
}

func TestCreateOrder_RejectsMissingPickup(t *testing.T) {
	h, _ := newTestHandler(nil)
	body, _ := json.Marshal(map[string]any{"payment_kind": "CASH"})
	req := withUser(httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader(body)), uuid.New())
	rec := httptest.NewRecorder()

	router := chi.NewRouter()
	router.Mount("/orders", h.Routes())
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateOrder_RejectsUnauthenticated(t *testing.T) {
	h, _ := newTestHandler(nil)
	body, _ := json.Marshal(map[string]any{"pickup": domain.Point{Lat: 6.45, Lng: 3.39}})
	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	router := chi.NewRouter()
	router.Mount("/orders", h.Routes())
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateOrder_NoDriversStillAccepted(t *testing.T) {
	h, store := newTestHandler(nil)
	body, _ := json.Marshal(map[string]any{
		"pickup":       domain.Point{Lat: 6.45, Lng: 3.39},
		"payment_kind": "CASH",
	})
	req := withUser(httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader(body)), uuid.New())
	rec := httptest.NewRecorder()

	router := chi.NewRouter()
	router.Mount("/orders", h.Routes())
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && len(store.saved) == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if len(store.saved) == 0 {
		t.Fatal("expected order to be persisted")
	}
}

func TestCancelOrder_NotFound(t *testing.T) {
	h, _ := newTestHandler(nil)
	req := httptest.NewRequest(http.MethodPost, "/orders/"+uuid.New().String()+"/cancel", bytes.NewReader(nil))
	rec := httptest.NewRecorder()

	router := chi.NewRouter()
	router.Mount("/orders", h.Routes())
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestDriverAccept_InvalidOrderID(t *testing.T) {
	h, _ := newTestHandler(nil)
	req := withUser(httptest.NewRequest(http.MethodPost, "/orders/not-a-uuid/accept", bytes.NewReader([]byte("{}"))), uuid.New())
	rec := httptest.NewRecorder()

	router := chi.NewRouter()
	router.Mount("/orders", h.Routes())
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}
