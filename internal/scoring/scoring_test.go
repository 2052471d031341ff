package scoring_test

import (
	"testing"

	"github.com/google/uuid"

	"github.com/ubi-africa/dispatch-core/internal/domain"
	"github.com/ubi-africa/dispatch-core/internal/scoring"
)

func TestRank_DropsCandidatesAboveRejectThreshold(t *testing.T) {
	candidates := []scoring.Candidate{
		{DriverID: uuid.New(), DistanceKm: 1, ETAMinutes: 2, PReject: 0.80, DriverClass: domain.DriverClassFastTurnover},
		{DriverID: uuid.New(), DistanceKm: 1, ETAMinutes: 2, PReject: 0.10, DriverClass: domain.DriverClassFastTurnover},
	}

	ranked := scoring.Rank(candidates, 2, scoring.DefaultWeights(), 10)
	if len(ranked) != 1 {
		t.Fatalf("expected 1 survivor after the reject-threshold filter, got %d", len(ranked))
	}
}

func TestRank_OrdersByTotalScore(t *testing.T) {
	lowDriver := uuid.New()
	highDriver := uuid.New()
	candidates := []scoring.Candidate{
		{DriverID: lowDriver, DistanceKm: 5, ETAMinutes: 10, TodayEarnings: 2000, PReject: 0.3, DriverClass: domain.DriverClassHighVolume},
		{DriverID: highDriver, DistanceKm: 1, ETAMinutes: 2, TodayEarnings: 500, PReject: 0.1, DriverClass: domain.DriverClassFastTurnover},
	}

	ranked := scoring.Rank(candidates, 2, scoring.DefaultWeights(), 10)
	if len(ranked) != 2 {
		t.Fatalf("expected 2 survivors, got %d", len(ranked))
	}
	if ranked[0].DriverID != highDriver {
		t.Fatalf("expected the closer, cheaper, lower-reject driver to rank first")
	}
}

func TestRank_RespectsK(t *testing.T) {
	candidates := make([]scoring.Candidate, 5)
	for i := range candidates {
		candidates[i] = scoring.Candidate{DriverID: uuid.New(), DistanceKm: float64(i), ETAMinutes: float64(i), PReject: 0.1}
	}
	ranked := scoring.Rank(candidates, 2, scoring.DefaultWeights(), 3)
	if len(ranked) != 3 {
		t.Fatalf("expected exactly 3 results, got %d", len(ranked))
	}
}

func TestClassifyTrip(t *testing.T) {
	cases := map[float64]scoring.TripClass{
		1:  scoring.TripClassShort,
		3:  scoring.TripClassMedium,
		10: scoring.TripClassMedium,
		11: scoring.TripClassLong,
	}
	for distance, want := range cases {
		if got := scoring.ClassifyTrip(distance); got != want {
			t.Errorf("ClassifyTrip(%v) = %v, want %v", distance, got, want)
		}
	}
}

func TestScore_WhyListsTopComponents(t *testing.T) {
	candidates := []scoring.Candidate{
		{DriverID: uuid.New(), DistanceKm: 0.5, ETAMinutes: 1, PReject: 0.05, DriverClass: domain.DriverClassFastTurnover, InPeakZone: true},
	}
	ranked := scoring.Rank(candidates, 1, scoring.DefaultWeights(), 1)
	if len(ranked[0].Why) == 0 {
		t.Fatal("expected at least one why component for a near-perfect candidate")
	}
	if len(ranked[0].Why) > 3 {
		t.Fatalf("why list must be capped at 3, got %d", len(ranked[0].Why))
	}
}
