package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ubi-africa/dispatch-core/internal/domain"
	"github.com/ubi-africa/dispatch-core/internal/eta"
	"github.com/ubi-africa/dispatch-core/internal/geo"
	"github.com/ubi-africa/dispatch-core/internal/hotzone"
	"github.com/ubi-africa/dispatch-core/internal/predictor"
)

// PresenceSource supplies the rankable driver candidates around a pickup
// point. Implemented by internal/presence against the live registry.
type PresenceSource interface {
	NearbyDrivers(ctx context.Context, pickup domain.Point, radiusKm float64, at time.Time) ([]domain.Presence, error)
}

// ETAEstimator is the subset of eta.Oracle the dispatch engine consumes.
type ETAEstimator interface {
	Estimate(ctx context.Context, req eta.Request) (eta.Result, error)
}

// RejectionPredictor is the subset of predictor.Predictor the engine and
// the auto-accept side channel both consult.
type RejectionPredictor interface {
	PReject(ctx context.Context, driverID uuid.UUID, features predictor.Features, fallback predictor.RuleInput) float64
}

// HotZoneController is the subset of hotzone.Controller the engine drives
// through an order's admission/consume/release lifecycle. *hotzone.Controller
// satisfies this directly.
type HotZoneController interface {
	CheckAdmission(ctx context.Context, pickup geo.Point, at time.Time) (hotzone.AdmissionResult, error)
	Consume(ctx context.Context, zoneID string, orderID uuid.UUID, baseFare int64, surge float64, at time.Time) (bool, error)
	Release(ctx context.Context, orderID uuid.UUID) (*hotzone.QueueEntry, error)
	MarkCompleted(ctx context.Context, orderID uuid.UUID) (*hotzone.QueueEntry, error)
	Enqueue(ctx context.Context, zoneID string, orderID, riderID uuid.UUID, baseFare int64) (hotzone.QueueEntry, error)
	Dequeue(ctx context.Context, orderID uuid.UUID) error
	ExpireTimedOut(ctx context.Context) ([]hotzone.QueueEntry, error)
}

// OrderStore durably persists order transitions. Save is always awaited
// before a transition is acknowledged to a rider or driver, per the
// "durable before acknowledged" invariant. Get loads an order the actor
// no longer owns (anything past ACCEPTED), for the trip-lifecycle calls
// that operate directly against the store instead of a mailbox.
type OrderStore interface {
	Save(ctx context.Context, order *domain.Order) error
	Get(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
}

// BatchDecisionRecord is one row of the per-batch decision log.
type BatchDecisionRecord struct {
	OrderID     uuid.UUID
	BatchNumber int
	Candidates  []uuid.UUID
	Weights     map[string]float64
	Hour        int
	DayOfWeek   int
	CreatedAt   time.Time
}

// AutoAcceptDecisionRecord is one row logged per candidate per batch,
// independent of whether the driver's client actually auto-accepts.
type AutoAcceptDecisionRecord struct {
	OrderID     uuid.UUID
	DriverID    uuid.UUID
	BatchNumber int
	Score       float64
	Allowed     bool
	BlockReason string
	CreatedAt   time.Time
}

// AcceptRecord is the terminal log row for a successfully dispatched order.
type AcceptRecord struct {
	OrderID     uuid.UUID
	DriverID    uuid.UUID
	BatchNumber int
	ResponseMs  int64
	CreatedAt   time.Time
}

// DecisionLogger writes dispatch decisions and rejection records. The
// engine never waits on these calls; implementations own their own
// durability and error handling (fire-and-forget from the critical path).
type DecisionLogger interface {
	LogBatch(ctx context.Context, rec BatchDecisionRecord)
	LogRejection(ctx context.Context, rec predictor.RejectionRecord)
	LogAutoAcceptDecision(ctx context.Context, rec AutoAcceptDecisionRecord)
	LogAccept(ctx context.Context, rec AcceptRecord)
}

// ProfileUpdater schedules a driver's behavioral-profile recompute after a
// rejection. Matches predictor.Predictor's UpdateProfile signature.
type ProfileUpdater interface {
	UpdateProfile(ctx context.Context, driverID uuid.UUID) error
}

// OfferMessage is the order:offer payload pushed to one driver's socket.
type OfferMessage struct {
	OrderID           uuid.UUID
	Pickup            domain.Point
	Destination       *domain.Point
	BaseFare          *int64
	FinalFare         int64
	PickupDistanceKm  float64
	ETAMinutes        float64
	ETASource         string
	BatchNumber       int
	ResponseDeadlineMs int64
	DispatchReason    string
	HotZone           *HotZoneInfo
	AutoAccept        AutoAcceptOffer
}

type HotZoneInfo struct {
	ZoneID string
	Surge  float64
}

type AutoAcceptOffer struct {
	Score       float64
	Allowed     bool
	BlockReason string
}

// DriverNotifier is the push channel to a driver's socket. A send that
// would block is treated as a timeout by the caller: the implementation
// must return promptly (non-blocking send, or a bounded write deadline)
// rather than waiting indefinitely.
type DriverNotifier interface {
	SendOffer(ctx context.Context, driverID uuid.UUID, offer OfferMessage) error
	SendTaken(ctx context.Context, driverID uuid.UUID, orderID uuid.UUID, message string) error
	SendBatchTimeout(ctx context.Context, driverID uuid.UUID, orderID uuid.UUID) error
}

// RiderDispatchStatus mirrors the rider-facing dispatch_status enum.
type RiderDispatchStatus string

const (
	RiderStatusSearching RiderDispatchStatus = "SEARCHING"
	RiderStatusQueued    RiderDispatchStatus = "QUEUED"
	RiderStatusAccepted  RiderDispatchStatus = "ACCEPTED"
	RiderStatusFailed    RiderDispatchStatus = "FAILED"
)

// RiderUpdate is the order:update payload pushed to the rider's socket.
type RiderUpdate struct {
	OrderID            uuid.UUID
	Status             domain.OrderStatus
	DispatchStatus     RiderDispatchStatus
	BatchNumber        int
	OfferedCount       int
	QueuePosition      int
	EstimatedWaitMin   int
	Message            string
	CancelReason       domain.CancelReason
	HotZoneInfo        *HotZoneInfo
}

// RiderNotifier is the push channel to the rider's socket.
type RiderNotifier interface {
	SendUpdate(ctx context.Context, update RiderUpdate) error
}

// AutoAcceptPolicy is one driver's configured auto-accept gate.
type AutoAcceptPolicy struct {
	Enabled            bool
	MaxPickupDistanceKm float64
	MinFare            int64
	MinTripDistanceKm  float64
	ActiveHours        map[int]bool
	BlacklistedZones   map[string]bool
	DailyCap           int
	CooldownMinutes    int
	ConsecutiveCap     int
}

// AutoAcceptDailyStats is the per-driver per-day auto-accept counters the
// policy gate consults.
type AutoAcceptDailyStats struct {
	Count             int
	ConsecutiveCount  int
	LastAutoAcceptAt  time.Time
	CompletedCount    int
	TotalAutoAccepted int
}

// AutoAcceptPolicyStore supplies the per-driver policy and running stats
// the auto-accept side channel's gate evaluates.
type AutoAcceptPolicyStore interface {
	GetPolicy(ctx context.Context, driverID uuid.UUID) (AutoAcceptPolicy, error)
	DailyStats(ctx context.Context, driverID uuid.UUID, date string) (AutoAcceptDailyStats, error)
}
