// Package reconcile implements the reconciliation service of spec §4.9:
// per (channel, period_start, period_end) bank vs. system-of-record
// comparison, variance classification, and exception-case creation.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/loanserve/core/internal/outbox"
	"github.com/loanserve/core/internal/tenant"
)

// Status values for a reconciliations row.
const (
	StatusOpen     = "open"
	StatusBalanced = "balanced"
	StatusVariance = "variance"
)

// Exception severities, by |variance| (spec §3.1).
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

var suggestedActions = []string{
	"review bank statement",
	"check duplicates",
	"look for delays",
	"investigate reversals",
}

// Reconciliation mirrors a reconciliations row.
type Reconciliation struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	Channel       string
	PeriodStart   time.Time
	PeriodEnd     time.Time
	BankTotal     decimal.Decimal
	SORTotal      decimal.Decimal
	Variance      decimal.Decimal
	Status        string
	ExceptionCase *uuid.UUID
}

// VariancePayload is the reconciliation.variance outbox announcement,
// published per spec §4.9 the first time a period closes out of balance
// (see internal/outbox.ExchangeRouting's reconciliation.topic entry).
type VariancePayload struct {
	ReconciliationID string    `json:"reconciliation_id"`
	Channel          string    `json:"channel"`
	PeriodStart      time.Time `json:"period_start"`
	PeriodEnd        time.Time `json:"period_end"`
	Variance         string    `json:"variance"`
	Severity         string    `json:"severity"`
	ExceptionCaseID  string    `json:"exception_case_id"`
}

// Store provides reconciliation persistence.
type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// severityFor classifies |variance| per spec §3.1's reconciliation note.
func severityFor(variance decimal.Decimal) string {
	abs := variance.Abs()
	switch {
	case abs.LessThan(decimal.NewFromInt(100)):
		return SeverityLow
	case abs.LessThan(decimal.NewFromInt(1000)):
		return SeverityMedium
	case abs.LessThan(decimal.NewFromInt(10000)):
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

// Record upserts a reconciliation row by (channel, period_start,
// period_end), derives its status from variance = bank - sor, and opens
// an exception case of type reconciliation_variance when the variance is
// non-zero. Idempotent: re-recording the same totals for the same period
// leaves the existing exception case untouched (only opened once, on the
// insert that first produces a variance).
func (s *Store) Record(ctx context.Context, tenantID uuid.UUID, channel string, periodStart, periodEnd time.Time, bankTotal, sorTotal decimal.Decimal) (*Reconciliation, error) {
	variance := bankTotal.Sub(sorTotal)
	status := StatusBalanced
	if !variance.IsZero() {
		status = StatusVariance
	}

	var result Reconciliation
	err := tenant.Scope(ctx, s.db, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		id := uuid.New()
		var existingID uuid.UUID
		var existingStatus string
		err := tx.QueryRow(ctx, `
			SELECT id, status FROM reconciliations
			WHERE tenant_id = $1 AND channel = $2 AND period_start = $3 AND period_end = $4`,
			tenantID, channel, periodStart, periodEnd,
		).Scan(&existingID, &existingStatus)

		switch {
		case err == nil:
			id = existingID
			if _, err := tx.Exec(ctx, `
				UPDATE reconciliations
				SET bank_total = $1, sor_total = $2, variance = $3, status = $4, updated_at = now()
				WHERE id = $5`, bankTotal, sorTotal, variance, status, id); err != nil {
				return fmt.Errorf("update reconciliation: %w", err)
			}
		case err == pgx.ErrNoRows:
			if _, err := tx.Exec(ctx, `
				INSERT INTO reconciliations
					(id, tenant_id, channel, period_start, period_end, bank_total, sor_total, variance, status)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
				id, tenantID, channel, periodStart, periodEnd, bankTotal, sorTotal, variance, status); err != nil {
				return fmt.Errorf("insert reconciliation: %w", err)
			}
		default:
			return fmt.Errorf("lookup reconciliation: %w", err)
		}

		result = Reconciliation{
			ID: id, TenantID: tenantID, Channel: channel,
			PeriodStart: periodStart, PeriodEnd: periodEnd,
			BankTotal: bankTotal, SORTotal: sorTotal, Variance: variance, Status: status,
		}

		if status != StatusVariance {
			return nil
		}

		// Only open one exception case per reconciliation row: skip if one
		// already references it.
		var existingExceptionID uuid.UUID
		err = tx.QueryRow(ctx, `SELECT id FROM exception_cases WHERE reconciliation_id = $1`, id).Scan(&existingExceptionID)
		if err == nil {
			result.ExceptionCase = &existingExceptionID
			return nil
		}
		if err != pgx.ErrNoRows {
			return fmt.Errorf("lookup exception case: %w", err)
		}

		severity := severityFor(variance)
		excID := uuid.New()
		actionsJSON, err := marshalActions(suggestedActions)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO exception_cases
				(id, tenant_id, reconciliation_id, type, severity, message, suggested_actions, status)
			VALUES ($1,$2,$3,'reconciliation_variance',$4,$5,$6,'open')`,
			excID, tenantID, id, severity,
			fmt.Sprintf("reconciliation variance of %s for channel %s over %s..%s",
				variance.StringFixed(2), channel, periodStart.Format("2006-01-02"), periodEnd.Format("2006-01-02")),
			actionsJSON); err != nil {
			return fmt.Errorf("insert exception case: %w", err)
		}
		result.ExceptionCase = &excID

		if _, err := outbox.Write(ctx, tx, tenantID, "reconciliation", id.String(), "reconciliation.variance", VariancePayload{
			ReconciliationID: id.String(),
			Channel:          channel,
			PeriodStart:      periodStart,
			PeriodEnd:        periodEnd,
			Variance:         variance.StringFixed(2),
			Severity:         severity,
			ExceptionCaseID:  excID.String(),
		}); err != nil {
			return fmt.Errorf("write outbox reconciliation.variance: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}
