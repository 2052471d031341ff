package eta_test

import (
	"context"
	"testing"
	"time"

	"github.com/ubi-africa/dispatch-core/internal/eta"
)

type stubPersistentCache struct {
	rows map[eta.CacheKey]eta.CacheRow
}

func newStubPersistentCache() *stubPersistentCache {
	return &stubPersistentCache{rows: make(map[eta.CacheKey]eta.CacheRow)}
}

func (s *stubPersistentCache) Get(ctx context.Context, key eta.CacheKey) (*eta.CacheRow, error) {
	row, ok := s.rows[key]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (s *stubPersistentCache) Upsert(ctx context.Context, key eta.CacheKey, row eta.CacheRow) error {
	s.rows[key] = row
	return nil
}

type stubRoadNetworkOracle struct {
	calls  int
	result eta.RoadNetworkResult
	err    error
}

func (s *stubRoadNetworkOracle) Route(ctx context.Context, pair eta.RoadNetworkPair, at time.Time) (eta.RoadNetworkResult, error) {
	s.calls++
	return s.result, s.err
}

func (s *stubRoadNetworkOracle) RouteBatch(ctx context.Context, pairs []eta.RoadNetworkPair, at time.Time) ([]eta.RoadNetworkResult, error) {
	results := make([]eta.RoadNetworkResult, len(pairs))
	for i := range pairs {
		s.calls++
		results[i] = s.result
	}
	return results, s.err
}

func TestEstimate_ShortHopUsesFormula(t *testing.T) {
	external := &stubRoadNetworkOracle{}
	o := eta.NewOracle(newStubPersistentCache(), external, 100)

	req := eta.Request{
		Origin:      eta.LatLng{Lat: 6.5244, Lng: 3.3792},
		Destination: eta.LatLng{Lat: 6.5300, Lng: 3.3820},
		At:          time.Date(2026, 1, 1, 14, 0, 0, 0, time.UTC),
	}

	res, err := o.Estimate(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Source != eta.SourceEstimated {
		t.Fatalf("expected ESTIMATED source for a short hop, got %s", res.Source)
	}
	if res.DurationS < 180 {
		t.Fatalf("duration floor of 180s violated: got %d", res.DurationS)
	}
	if external.calls != 0 {
		t.Fatalf("short hop must not spend external budget, spent %d calls", external.calls)
	}
}

func TestEstimate_LongHopConsultsExternalOnCacheMiss(t *testing.T) {
	external := &stubRoadNetworkOracle{result: eta.RoadNetworkResult{DistanceM: 12000, DurationS: 1800, OK: true}}
	o := eta.NewOracle(newStubPersistentCache(), external, 100)

	req := eta.Request{
		Origin:      eta.LatLng{Lat: 6.5244, Lng: 3.3792},
		Destination: eta.LatLng{Lat: 6.6018, Lng: 3.3515},
		At:          time.Date(2026, 1, 1, 14, 0, 0, 0, time.UTC),
	}

	res, err := o.Estimate(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Source != eta.SourceExternal {
		t.Fatalf("expected EXTERNAL source on first long-hop lookup, got %s", res.Source)
	}
	if external.calls != 1 {
		t.Fatalf("expected exactly one external call, got %d", external.calls)
	}

	res2, err := o.Estimate(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res2.Source != eta.SourceCached {
		t.Fatalf("expected CACHED source on second lookup, got %s", res2.Source)
	}
	if external.calls != 1 {
		t.Fatalf("second lookup must hit the memory cache, not the external provider: calls=%d", external.calls)
	}
}

func TestEstimate_ExhaustedBudgetFallsBackToFormula(t *testing.T) {
	external := &stubRoadNetworkOracle{result: eta.RoadNetworkResult{DistanceM: 12000, DurationS: 1800, OK: true}}
	o := eta.NewOracle(newStubPersistentCache(), external, 0)

	req := eta.Request{
		Origin:      eta.LatLng{Lat: 6.5244, Lng: 3.3792},
		Destination: eta.LatLng{Lat: 6.6018, Lng: 3.3515},
		At:          time.Date(2026, 1, 1, 14, 0, 0, 0, time.UTC),
	}

	res, err := o.Estimate(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Source != eta.SourceEstimated {
		t.Fatalf("expected ESTIMATED fallback once budget is exhausted, got %s", res.Source)
	}
	if external.calls != 0 {
		t.Fatalf("exhausted budget must not reach the external provider, calls=%d", external.calls)
	}
}

func TestDailyBudget_TryConsume(t *testing.T) {
	b := eta.NewDailyBudget(2)
	if !b.TryConsume() {
		t.Fatal("expected first consume to succeed")
	}
	if !b.TryConsume() {
		t.Fatal("expected second consume to succeed")
	}
	if b.TryConsume() {
		t.Fatal("expected third consume to fail once the limit is reached")
	}
	if b.Remaining() != 0 {
		t.Fatalf("expected 0 remaining, got %d", b.Remaining())
	}
}
