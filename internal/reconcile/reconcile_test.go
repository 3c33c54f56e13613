package reconcile_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/loanserve/core/internal/migrations"
	"github.com/loanserve/core/internal/reconcile"
)

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("LEDGER_DB_DSN")
	if dsn == "" {
		t.Skip("LEDGER_DB_DSN not set; skipping integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)
	return pool
}

// TestRecordVarianceOpensHighSeverityException exercises spec §8 scenario
// 4: bank_total=100000.00 sor_total=97250.00 ⇒ variance=2750.00, status
// variance, one exception case with severity high (|2750|<10000).
func TestRecordVarianceOpensHighSeverityException(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	if err := migrations.Migrate(ctx, pool); err != nil {
		t.Fatal(err)
	}

	tenantID := uuid.New()
	st := reconcile.New(pool)

	periodStart := time.Date(2025, 8, 15, 0, 0, 0, 0, time.UTC)
	periodEnd := periodStart

	r, err := st.Record(ctx, tenantID, "wire-"+uuid.NewString(), periodStart, periodEnd,
		decimal.NewFromFloat(100000.00), decimal.NewFromFloat(97250.00))
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != reconcile.StatusVariance {
		t.Fatalf("expected status variance, got %s", r.Status)
	}
	if !r.Variance.Equal(decimal.NewFromFloat(2750.00)) {
		t.Fatalf("expected variance 2750.00, got %s", r.Variance)
	}
	if r.ExceptionCase == nil {
		t.Fatal("expected an exception case to be opened")
	}
}

// TestRecordBalancedOpensNoException covers the zero-variance path.
func TestRecordBalancedOpensNoException(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	if err := migrations.Migrate(ctx, pool); err != nil {
		t.Fatal(err)
	}

	tenantID := uuid.New()
	st := reconcile.New(pool)

	periodStart := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	periodEnd := periodStart

	r, err := st.Record(ctx, tenantID, "ach-"+uuid.NewString(), periodStart, periodEnd,
		decimal.NewFromFloat(500.00), decimal.NewFromFloat(500.00))
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != reconcile.StatusBalanced {
		t.Fatalf("expected status balanced, got %s", r.Status)
	}
	if r.ExceptionCase != nil {
		t.Fatal("expected no exception case for a balanced reconciliation")
	}
}

// TestRecordUpsertsByCompositeKey ensures a second Record for the same
// (channel, period) updates the existing row rather than inserting a
// second one.
func TestRecordUpsertsByCompositeKey(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	if err := migrations.Migrate(ctx, pool); err != nil {
		t.Fatal(err)
	}

	tenantID := uuid.New()
	st := reconcile.New(pool)
	channel := "check-" + uuid.NewString()
	periodStart := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	periodEnd := periodStart

	first, err := st.Record(ctx, tenantID, channel, periodStart, periodEnd,
		decimal.NewFromFloat(10.00), decimal.NewFromFloat(10.00))
	if err != nil {
		t.Fatal(err)
	}

	second, err := st.Record(ctx, tenantID, channel, periodStart, periodEnd,
		decimal.NewFromFloat(20.00), decimal.NewFromFloat(10.00))
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID {
		t.Fatal("expected upsert to reuse the same reconciliation id")
	}
	if second.Status != reconcile.StatusVariance {
		t.Fatalf("expected status variance after update, got %s", second.Status)
	}
}
