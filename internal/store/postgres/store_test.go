package postgres_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ubi-africa/dispatch-core/internal/domain"
	"github.com/ubi-africa/dispatch-core/internal/store/postgres"
)

func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping testcontainers-backed test in short mode")
	}
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("dispatch_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("failed to connect to postgres: %v", err)
	}

	schema, err := os.ReadFile(filepath.Join("..", "..", "..", "migrations", "0001_init.sql"))
	if err != nil {
		t.Fatalf("failed to read schema: %v", err)
	}
	if _, err := pool.Exec(ctx, string(schema)); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}

	return postgres.New(pool)
}

func TestOrderStore_SaveUpsertsOnConflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	orders := store.Orders()

	order := domain.NewOrder(uuid.New(), domain.Point{Lat: 6.45, Lng: 3.39}, nil, domain.PaymentKindCash, nil)
	order.Status = domain.OrderStatusDispatching
	if err := orders.Save(ctx, order); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	driverID := uuid.New()
	if err := order.Accept(driverID); err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if err := orders.Save(ctx, order); err != nil {
		t.Fatalf("upsert save failed: %v", err)
	}
}

func TestHotZoneStore_ConsumeIsAtomicAtLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	hz := store.HotZone()

	ok1, _, err := hz.Consume(ctx, "zone-1", "2026-07-31", 18, 1, 1.2)
	if err != nil {
		t.Fatalf("first consume failed: %v", err)
	}
	if !ok1 {
		t.Fatal("expected first consume against an empty quota to succeed")
	}

	ok2, state, err := hz.Consume(ctx, "zone-1", "2026-07-31", 18, 1, 1.2)
	if err != nil {
		t.Fatalf("second consume failed: %v", err)
	}
	if ok2 {
		t.Fatal("expected second consume to fail once the quota of 1 is exhausted")
	}
	if state.Used != 1 {
		t.Fatalf("expected used=1 after exhausting quota, got %d", state.Used)
	}
}
