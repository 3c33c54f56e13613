package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loanserve/core/internal/errkind"
	"github.com/loanserve/core/internal/tenant"
)

// Get fetches a payment by id within the caller's tenant scope.
func (s *Store) Get(ctx context.Context, tenantID, paymentID uuid.UUID) (*Payment, error) {
	var p *Payment
	err := tenant.ReadOnlyScope(ctx, s.db, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		var row Payment
		err := tx.QueryRow(ctx, `
			SELECT id, tenant_id, loan_id, channel, idempotency_key, amount_cents, currency,
			       value_date, state, requires_review, risk_score, created_at,
			       fees_cents, interest_cents, principal_cents, escrow_cents, suspense_cents
			FROM payments WHERE id = $1`, paymentID,
		).Scan(&row.ID, &row.TenantID, &row.LoanID, &row.Channel, &row.IdempotencyKey, &row.AmountCents,
			&row.Currency, &row.ValueDate, &row.State, &row.RequiresReview, &row.RiskScore, &row.CreatedAt,
			&row.Allocations.FeesCents, &row.Allocations.InterestCents, &row.Allocations.PrincipalCents,
			&row.Allocations.EscrowCents, &row.Allocations.SuspenseCents)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: payment %s", errkind.ErrNotFound, paymentID)
		}
		if err != nil {
			return fmt.Errorf("%w: get payment: %v", errkind.ErrTransient, err)
		}
		p = &row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// BalanceSum reports the debit/credit totals for an arbitrary ledger
// account code within a tenant, mirroring the teacher's Balance method
// generalized from a two-account transfer book to the full chart of
// accounts.
func BalanceSum(ctx context.Context, pool *pgxpool.Pool, tenantID uuid.UUID, accountCode string) (debit, credit int64, err error) {
	txErr := tenant.ReadOnlyScope(ctx, pool, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `
			SELECT COALESCE(SUM(debit_cents),0), COALESCE(SUM(credit_cents),0)
			FROM ledger_entries WHERE account_code = $1`, accountCode,
		).Scan(&debit, &credit); err != nil {
			return fmt.Errorf("%w: balance sum: %v", errkind.ErrTransient, err)
		}
		return nil
	})
	if txErr != nil {
		return 0, 0, txErr
	}
	return debit, credit, nil
}
