package servicing_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/loanserve/core/internal/migrations"
	"github.com/loanserve/core/internal/servicing"
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

// TestRunCycleSingleLoanScenario5 reproduces spec §8 scenario 5 through
// the full run lifecycle: one interest_accrual event for 14 days,
// accrued_amount 230.14, no late fee, zero exceptions, run completes
// with reconciliation_status=balanced.
func TestRunCycleSingleLoanScenario5(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	if err := migrations.Migrate(ctx, pool); err != nil {
		t.Fatal(err)
	}

	tenantID := uuid.New()
	st := servicing.New(pool)

	valuationDate := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	run, err := st.CreateRun(ctx, tenantID, servicing.StartRequest{
		ValuationDate: valuationDate, LoanIDs: []string{"17"},
	})
	if err != nil {
		t.Fatal(err)
	}

	lastAccrual := time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC)
	loan := servicing.LoanInput{
		LoanID: "17", OriginationDate: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		LastAccrualDate: &lastAccrual, PrincipalBalance: 10_000_000,
		AnnualRatePercent: decimal.NewFromInt(6),
		CurrentBalance:    10_000_000, DaysLate: 0, GracePeriodDays: 15,
		MaturityDate: valuationDate.AddDate(10, 0, 0), HasRateOnFile: true, HasPaymentOnFile: true,
	}

	results, err := st.RunCycle(ctx, tenantID, run.ID, valuationDate, []servicing.LoanData{{Loan: loan}}, 2, run.DryRun)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Err != nil {
		t.Fatalf("unexpected per-loan error: %v", results[0].Err)
	}
	if results[0].ExceptionsRaised != 0 {
		t.Fatalf("expected zero exceptions, got %d", results[0].ExceptionsRaised)
	}
	if results[0].EventsWritten != 1 {
		t.Fatalf("expected exactly one event (interest accrual only), got %d", results[0].EventsWritten)
	}
}

// TestRunCycleRefusesConcurrentRun exercises the "at most one running
// run per tenant" rule.
func TestRunCycleRefusesConcurrentRun(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	if err := migrations.Migrate(ctx, pool); err != nil {
		t.Fatal(err)
	}

	tenantID := uuid.New()
	st := servicing.New(pool)
	valuationDate := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	run1, err := st.CreateRun(ctx, tenantID, servicing.StartRequest{ValuationDate: valuationDate})
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Transition(ctx, tenantID, run1.ID, servicing.StatusRunning); err != nil {
		t.Fatal(err)
	}

	if _, err := st.CreateRun(ctx, tenantID, servicing.StartRequest{ValuationDate: valuationDate.AddDate(0, 0, 1)}); err == nil {
		t.Fatal("expected second concurrent run to be refused")
	}
}
