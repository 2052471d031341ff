package presence_test

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/ubi-africa/dispatch-core/internal/domain"
	"github.com/ubi-africa/dispatch-core/internal/presence"
)

func newTestRegistry(t *testing.T) *presence.Registry {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping testcontainers-backed test in short mode")
	}
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get redis connection string: %v", err)
	}
	opts, err := redis.ParseURL(uri)
	if err != nil {
		t.Fatalf("failed to parse redis url: %v", err)
	}
	return presence.NewRegistry(redis.NewClient(opts))
}

func TestRegistry_HeartbeatAndNearbyDrivers(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	driverID := uuid.New()

	p := domain.Presence{
		DriverID: driverID, LastLat: 6.45, LastLng: 3.39,
		LastHeartbeat: time.Now(), Availability: domain.AvailabilityAvailable,
		DriverClass: domain.DriverClassHighVolume, AcceptanceRate: 85,
	}
	if err := reg.Heartbeat(ctx, p); err != nil {
		t.Fatalf("heartbeat failed: %v", err)
	}

	nearby, err := reg.NearbyDrivers(ctx, domain.Point{Lat: 6.451, Lng: 3.391}, 5, time.Now())
	if err != nil {
		t.Fatalf("nearby drivers failed: %v", err)
	}
	if len(nearby) != 1 || nearby[0].DriverID != driverID {
		t.Fatalf("expected to find the heartbeated driver, got %+v", nearby)
	}
}

func TestRegistry_DropRemovesDriverFromIndex(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	driverID := uuid.New()

	p := domain.Presence{
		DriverID: driverID, LastLat: 6.45, LastLng: 3.39,
		LastHeartbeat: time.Now(), Availability: domain.AvailabilityAvailable,
	}
	if err := reg.Heartbeat(ctx, p); err != nil {
		t.Fatalf("heartbeat failed: %v", err)
	}
	if err := reg.Drop(ctx, driverID); err != nil {
		t.Fatalf("drop failed: %v", err)
	}

	nearby, err := reg.NearbyDrivers(ctx, domain.Point{Lat: 6.45, Lng: 3.39}, 5, time.Now())
	if err != nil {
		t.Fatalf("nearby drivers failed: %v", err)
	}
	if len(nearby) != 0 {
		t.Fatalf("expected no drivers after drop, got %+v", nearby)
	}
}
