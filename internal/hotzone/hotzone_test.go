package hotzone_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ubi-africa/dispatch-core/internal/geo"
	"github.com/ubi-africa/dispatch-core/internal/hotzone"
)

func testZone() hotzone.Zone {
	return hotzone.Zone{
		ZoneID:          "lagos-island",
		Name:            "Lagos Island",
		CenterLat:       6.4550,
		CenterLng:       3.3940,
		RadiusKm:        4,
		PeakHours:       map[int]bool{17: true, 18: true},
		QuotaNormal:     10,
		QuotaPeak:       5,
		SurgeThreshold:  0.80,
		SurgeMax:        1.50,
		SurgeStep:       0.10,
		QueueEnabled:    true,
		MaxQueue:        3,
		QueueTimeoutMin: 10,
		Priority:        1,
		Active:          true,
	}
}

func TestComputeSurge_StaircaseSteps(t *testing.T) {
	z := testZone()
	cases := []struct {
		u    float64
		want float64
	}{
		{0.5, 1.0},
		{0.80, 1.10},
		{0.90, 1.20},
		{1.00, 1.30},
		{2.00, 1.50}, // capped at surge_max
	}
	for _, c := range cases {
		if got := hotzone.ComputeSurge(c.u, z); got != c.want {
			t.Errorf("ComputeSurge(%v) = %v, want %v", c.u, got, c.want)
		}
	}
}

func TestClassifyAdmission(t *testing.T) {
	z := testZone()
	if got := hotzone.ClassifyAdmission(0.5, z, 0); got != hotzone.AdmissionNormal {
		t.Errorf("expected NORMAL below threshold, got %s", got)
	}
	if got := hotzone.ClassifyAdmission(0.9, z, 0); got != hotzone.AdmissionSurge {
		t.Errorf("expected SURGE between threshold and 1.0, got %s", got)
	}
	if got := hotzone.ClassifyAdmission(1.0, z, 0); got != hotzone.AdmissionQueue {
		t.Errorf("expected QUEUE at full utilization with room in queue, got %s", got)
	}
	if got := hotzone.ClassifyAdmission(1.0, z, 3); got != hotzone.AdmissionSurge {
		t.Errorf("expected SURGE fallback when the queue is also full, got %s", got)
	}
}

func TestZone_QuotaForHour(t *testing.T) {
	z := testZone()
	if z.QuotaForHour(17) != z.QuotaPeak {
		t.Error("expected peak quota during a configured peak hour")
	}
	if z.QuotaForHour(10) != z.QuotaNormal {
		t.Error("expected normal quota outside peak hours")
	}
}

func TestZoneIndex_Match(t *testing.T) {
	idx := hotzone.NewZoneIndex([]hotzone.Zone{testZone()})
	pickup := geo.Point{Lat: 6.4560, Lng: 3.3950}
	zone, ok := idx.Match(pickup)
	if !ok {
		t.Fatal("expected a zone match for a pickup inside the configured radius")
	}
	if zone.ZoneID != "lagos-island" {
		t.Fatalf("unexpected zone matched: %s", zone.ZoneID)
	}

	farAway := geo.Point{Lat: -1.2921, Lng: 36.8219} // Nairobi
	if _, ok := idx.Match(farAway); ok {
		t.Fatal("expected no zone match for a pickup far outside any configured radius")
	}
}

func TestZoneIndex_PicksHighestPriorityOverlap(t *testing.T) {
	low := testZone()
	low.ZoneID = "low-priority"
	low.Priority = 1

	high := testZone()
	high.ZoneID = "high-priority"
	high.Priority = 5

	idx := hotzone.NewZoneIndex([]hotzone.Zone{low, high})
	pickup := geo.Point{Lat: 6.4560, Lng: 3.3950}
	zone, ok := idx.Match(pickup)
	if !ok {
		t.Fatal("expected a match")
	}
	if zone.ZoneID != "high-priority" {
		t.Fatalf("expected the higher-priority overlapping zone to win, got %s", zone.ZoneID)
	}
}

// memQuotaStore is a simple in-process QuotaStore for controller tests,
// guarded by a mutex the way the teacher's own in-memory stubs are.
type memQuotaStore struct {
	mu     sync.Mutex
	states map[string]hotzone.ZoneQuotaState
}

func newMemQuotaStore() *memQuotaStore {
	return &memQuotaStore{states: make(map[string]hotzone.ZoneQuotaState)}
}

func (m *memQuotaStore) key(zoneID, date string, hour int) string {
	return zoneID + "|" + date + "|" + string(rune(hour))
}

func (m *memQuotaStore) Get(ctx context.Context, zoneID, date string, hour, limit int) (hotzone.ZoneQuotaState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[m.key(zoneID, date, hour)]
	if !ok {
		s = hotzone.ZoneQuotaState{ZoneID: zoneID, Date: date, Hour: hour, Limit: limit, Surge: 1}
	}
	s.Limit = limit
	return s, nil
}

func (m *memQuotaStore) Consume(ctx context.Context, zoneID, date string, hour, limit int, surge float64) (bool, hotzone.ZoneQuotaState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.key(zoneID, date, hour)
	s, ok := m.states[k]
	if !ok {
		s = hotzone.ZoneQuotaState{ZoneID: zoneID, Date: date, Hour: hour, Limit: limit}
	}
	if s.Used >= limit {
		return false, s, nil
	}
	s.Used++
	s.Surge = surge
	m.states[k] = s
	return true, s, nil
}

func (m *memQuotaStore) Release(ctx context.Context, zoneID, date string, hour int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.key(zoneID, date, hour)
	s := m.states[k]
	if s.Used > 0 {
		s.Used--
	}
	m.states[k] = s
	return nil
}

type memQueueStore struct {
	mu      sync.Mutex
	entries map[string][]hotzone.QueueEntry
}

func newMemQueueStore() *memQueueStore {
	return &memQueueStore{entries: make(map[string][]hotzone.QueueEntry)}
}

func (m *memQueueStore) Enqueue(ctx context.Context, zoneID string, orderID, riderID uuid.UUID, baseFare int64) (hotzone.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	position := len(m.entries[zoneID]) + 1
	e := hotzone.QueueEntry{
		ID: uuid.New(), ZoneID: zoneID, OrderID: orderID, RiderID: riderID, BaseFare: baseFare,
		Position: position, EstWaitMin: position * 3, Status: hotzone.QueueStatusWaiting, QueuedAt: time.Now(),
	}
	m.entries[zoneID] = append(m.entries[zoneID], e)
	return e, nil
}

func (m *memQueueStore) Dequeue(ctx context.Context, orderID uuid.UUID) error { return nil }

func (m *memQueueStore) Length(ctx context.Context, zoneID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries[zoneID] {
		if e.Status == hotzone.QueueStatusWaiting {
			n++
		}
	}
	return n, nil
}

func (m *memQueueStore) ExpireTimedOut(ctx context.Context, timeout time.Duration) ([]hotzone.QueueEntry, error) {
	return nil, nil
}

func (m *memQueueStore) ReleaseHead(ctx context.Context, zoneID string) (*hotzone.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.entries[zoneID]
	for i := range entries {
		if entries[i].Status == hotzone.QueueStatusWaiting {
			entries[i].Status = hotzone.QueueStatusReleased
			for j := range entries {
				if entries[j].Status == hotzone.QueueStatusWaiting && entries[j].Position > entries[i].Position {
					entries[j].Position--
				}
			}
			m.entries[zoneID] = entries
			released := entries[i]
			return &released, nil
		}
	}
	return nil, nil
}

type memBinding struct {
	mu   sync.Mutex
	rows map[uuid.UUID][5]interface{}
}

func newMemBinding() *memBinding {
	return &memBinding{rows: make(map[uuid.UUID][5]interface{})}
}

func (b *memBinding) Bind(ctx context.Context, orderID uuid.UUID, zoneID string, baseFare int64, surge float64, date string, hour int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rows[orderID] = [5]interface{}{zoneID, baseFare, surge, date, hour}
	return nil
}

func (b *memBinding) Lookup(ctx context.Context, orderID uuid.UUID) (string, int64, float64, string, int, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	row, ok := b.rows[orderID]
	if !ok {
		return "", 0, 0, "", 0, false, nil
	}
	return row[0].(string), row[1].(int64), row[2].(float64), row[3].(string), row[4].(int), true, nil
}

func (b *memBinding) Unbind(ctx context.Context, orderID uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.rows, orderID)
	return nil
}

func TestController_ConsumeRespectsQuotaLimit(t *testing.T) {
	z := testZone()
	z.QuotaNormal = 1
	quotas := newMemQuotaStore()
	ctrl := hotzone.NewController([]hotzone.Zone{z}, quotas, newMemQueueStore(), newMemBinding())

	at := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC) // not a peak hour
	ok1, err := ctrl.Consume(context.Background(), z.ZoneID, uuid.New(), 1000, 1.0, at)
	if err != nil || !ok1 {
		t.Fatalf("expected first consume to succeed, ok=%v err=%v", ok1, err)
	}

	ok2, err := ctrl.Consume(context.Background(), z.ZoneID, uuid.New(), 1000, 1.0, at)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok2 {
		t.Fatal("expected second consume to fail once the quota is exhausted")
	}
}

func TestController_ReleaseFreesSlotAndReleasesQueueHead(t *testing.T) {
	z := testZone()
	z.QuotaNormal = 1
	quotas := newMemQuotaStore()
	queue := newMemQueueStore()
	ctrl := hotzone.NewController([]hotzone.Zone{z}, quotas, queue, newMemBinding())

	at := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	orderA := uuid.New()
	ok, err := ctrl.Consume(context.Background(), z.ZoneID, orderA, 1000, 1.0, at)
	if err != nil || !ok {
		t.Fatalf("expected consume to succeed: ok=%v err=%v", ok, err)
	}

	queuedOrder := uuid.New()
	if _, err := queue.Enqueue(context.Background(), z.ZoneID, queuedOrder, uuid.New(), 1200); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	released, err := ctrl.Release(context.Background(), orderA)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if released == nil {
		t.Fatal("expected the queue head to be released")
	}
	if released.OrderID != queuedOrder {
		t.Fatalf("expected %s to be released, got %s", queuedOrder, released.OrderID)
	}
}
