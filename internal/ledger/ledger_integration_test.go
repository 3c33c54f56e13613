package ledger_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loanserve/core/internal/envelope"
	"github.com/loanserve/core/internal/ledger"
	"github.com/loanserve/core/internal/migrations"
	"github.com/loanserve/core/internal/tenant"
	"github.com/loanserve/core/internal/waterfall"
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

// TestPostPaymentCleanACH exercises spec §8 scenario 1: a clean ACH
// receipt posts one balanced ledger entry set and advances the payment
// to "posted".
func TestPostPaymentCleanACH(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	if err := migrations.Migrate(ctx, pool); err != nil {
		t.Fatal(err)
	}

	tenantID := uuid.New()
	st := ledger.New(pool)

	loanID := "17-" + uuid.NewString()
	routing := "121000248"
	mask := "****1234"
	env := envelope.FromACHPayload(envelope.ACHPayload{
		MessageID:     uuid.NewString(),
		CorrelationID: uuid.NewString(),
		OccurredAt:    time.Now().UTC(),
		LoanID:        &loanID,
		AmountCents:   150000,
		ValueDate:     time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
		Reference:     "TRC-1-" + uuid.NewString(),
		RoutingNumber: routing,
		AccountMask:   mask,
	})
	if err := envelope.Validate(env); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	risk := envelope.ScoreRisk(env)
	env.Risk = &risk

	outstanding := waterfall.Outstanding{Interest: 50000, Principal: 80000, Escrow: 20000}

	result, err := st.PostPayment(ctx, tenantID, env, outstanding, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsNew {
		t.Fatal("expected new payment")
	}
	if result.State != ledger.StatePosted {
		t.Fatalf("expected posted state, got %s", result.State)
	}

	// Idempotent retry: same envelope, same idempotency key.
	result2, err := st.PostPayment(ctx, tenantID, env, outstanding, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result2.IsNew {
		t.Fatal("expected idempotent retry to report IsNew=false")
	}
	if result2.PaymentID != result.PaymentID {
		t.Fatal("expected same payment id on idempotent retry")
	}
}

// TestPostPaymentUnmatchedLoanGoesToSuspense exercises spec §8 scenario 3.
func TestPostPaymentUnmatchedLoanGoesToSuspense(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	if err := migrations.Migrate(ctx, pool); err != nil {
		t.Fatal(err)
	}

	tenantID := uuid.New()
	st := ledger.New(pool)

	env := envelope.FromWirePayload(envelope.WirePayload{
		MessageID:     uuid.NewString(),
		CorrelationID: uuid.NewString(),
		OccurredAt:    time.Now().UTC(),
		AmountCents:   500000,
		ValueDate:     time.Now().UTC(),
		Reference:     "wire-" + uuid.NewString(),
	})
	if err := envelope.Validate(env); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	risk := envelope.ScoreRisk(env)
	env.Risk = &risk
	if risk.Score < 20 {
		t.Fatalf("expected risk score >= 20, got %d", risk.Score)
	}
	if !env.RequiresReview {
		t.Fatal("expected requires_review=true")
	}

	result, err := st.PostPayment(ctx, tenantID, env, waterfall.Outstanding{}, nil)
	if err != nil {
		t.Fatal(err)
	}

	payment, err := st.Get(ctx, tenantID, result.PaymentID)
	if err != nil {
		t.Fatal(err)
	}
	if payment.Allocations.SuspenseCents != 500000 {
		t.Fatalf("expected all-suspense allocation, got %+v", payment.Allocations)
	}
}

// TestTenantIsolation ensures a payment created under tenant A is
// invisible to tenant B, per spec §8 tenant isolation property.
func TestTenantIsolation(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	if err := migrations.Migrate(ctx, pool); err != nil {
		t.Fatal(err)
	}

	tenantA := uuid.New()
	tenantB := uuid.New()
	st := ledger.New(pool)

	loanID := "17-" + uuid.NewString()
	env := envelope.FromBookPayload(envelope.BookPayload{
		MessageID:     uuid.NewString(),
		CorrelationID: uuid.NewString(),
		OccurredAt:    time.Now().UTC(),
		LoanID:        &loanID,
		AmountCents:   1000,
		ValueDate:     time.Now().UTC(),
		Reference:     "book-" + uuid.NewString(),
	})

	result, err := st.PostPayment(ctx, tenantA, env, waterfall.Outstanding{}, nil)
	if err != nil {
		t.Fatal(err)
	}

	_, err = st.Get(ctx, tenantB, result.PaymentID)
	if err == nil {
		t.Fatal("expected tenant B to not see tenant A's payment")
	}
}

func TestMustFromGuardFailsWithoutTenant(t *testing.T) {
	if _, err := tenant.MustFrom(context.Background()); err == nil {
		t.Fatal("expected error for missing tenant context")
	}
}

// TestTransitionReversedThenReturnedIsNoOp exercises spec §3.1's
// "terminal states never regress": once a payment reverses, a later
// returned transition is a silent no-op that leaves it reversed.
func TestTransitionReversedThenReturnedIsNoOp(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	if err := migrations.Migrate(ctx, pool); err != nil {
		t.Fatal(err)
	}

	tenantID := uuid.New()
	st := ledger.New(pool)

	loanID := "17-" + uuid.NewString()
	env := envelope.FromACHPayload(envelope.ACHPayload{
		MessageID:     uuid.NewString(),
		CorrelationID: uuid.NewString(),
		OccurredAt:    time.Now().UTC(),
		LoanID:        &loanID,
		AmountCents:   150000,
		ValueDate:     time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
		Reference:     "TRC-1-" + uuid.NewString(),
		RoutingNumber: "121000248",
		AccountMask:   "****1234",
	})
	if err := envelope.Validate(env); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	risk := envelope.ScoreRisk(env)
	env.Risk = &risk

	result, err := st.PostPayment(ctx, tenantID, env, waterfall.Outstanding{Interest: 50000, Principal: 80000, Escrow: 20000}, nil)
	if err != nil {
		t.Fatal(err)
	}

	reversed, err := st.Transition(ctx, tenantID, result.PaymentID, ledger.StateReversed, ledger.TransitionReason{Code: "R01", Note: "insufficient funds"})
	if err != nil {
		t.Fatal(err)
	}
	if reversed.State != ledger.StateReversed {
		t.Fatalf("expected reversed, got %s", reversed.State)
	}

	returned, err := st.Transition(ctx, tenantID, result.PaymentID, ledger.StateReturned, ledger.TransitionReason{Code: "R02"})
	if err != nil {
		t.Fatal(err)
	}
	if returned.State != ledger.StateReversed {
		t.Fatalf("expected terminal state to hold at reversed, got %s", returned.State)
	}
}
