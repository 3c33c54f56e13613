package reconcile

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/loanserve/core/internal/tenant"
)

func marshalActions(actions []string) ([]byte, error) {
	b, err := json.Marshal(actions)
	if err != nil {
		return nil, fmt.Errorf("marshal suggested actions: %w", err)
	}
	return b, nil
}

// Get fetches a reconciliation by id within the caller's tenant scope.
func (s *Store) Get(ctx context.Context, tenantID, id uuid.UUID) (*Reconciliation, error) {
	var r Reconciliation
	err := tenant.ReadOnlyScope(ctx, s.db, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		return tx.QueryRow(ctx, `
			SELECT id, tenant_id, channel, period_start, period_end, bank_total, sor_total, variance, status
			FROM reconciliations WHERE id = $1`, id,
		).Scan(&r.ID, &r.TenantID, &r.Channel, &r.PeriodStart, &r.PeriodEnd, &r.BankTotal, &r.SORTotal, &r.Variance, &r.Status)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}
