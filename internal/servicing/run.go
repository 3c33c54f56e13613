package servicing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loanserve/core/internal/errkind"
	"github.com/loanserve/core/internal/outbox"
	"github.com/loanserve/core/internal/tenant"
)

// Store is the servicing run store, mirroring internal/ledger.Store's
// shape: a thin wrapper around the pool with tenant-scoped methods.
type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// StartRequest is the caller's POST to begin a run (spec §4.8 step 1).
type StartRequest struct {
	ValuationDate time.Time
	LoanIDs       []string // nil ⇒ all loans
	DryRun        bool
}

// inputHash computes SHA-256({valuation_date, loan_ids, dry_run}) per
// spec §4.8 step 2, used for re-entry detection.
func inputHash(req StartRequest) (string, error) {
	payload := struct {
		ValuationDate string   `json:"valuation_date"`
		LoanIDs       []string `json:"loan_ids"`
		DryRun        bool     `json:"dry_run"`
	}{
		ValuationDate: req.ValuationDate.Format("2006-01-02"),
		LoanIDs:       req.LoanIDs,
		DryRun:        req.DryRun,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal input hash payload: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// CreateRun inserts a new run as pending, refusing if another run is
// already running for this tenant (spec §4.8 step 1-2). The DB's
// servicing_runs_one_running_per_tenant partial unique index is the
// authoritative enforcement; this pre-check only gives a clean error
// message instead of a raw constraint violation.
func (s *Store) CreateRun(ctx context.Context, tenantID uuid.UUID, req StartRequest) (*Run, error) {
	hash, err := inputHash(req)
	if err != nil {
		return nil, err
	}

	var run Run
	err = tenant.Scope(ctx, s.db, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		var runningCount int
		if err := tx.QueryRow(ctx, `SELECT count(*) FROM servicing_runs WHERE status = 'running'`).Scan(&runningCount); err != nil {
			return fmt.Errorf("%w: check running runs: %v", errkind.ErrTransient, err)
		}
		if runningCount > 0 {
			return fmt.Errorf("%w: a servicing run is already running for this tenant", errkind.ErrConflict)
		}

		loanIDsJSON, err := json.Marshal(req.LoanIDs)
		if err != nil {
			return fmt.Errorf("marshal loan ids: %w", err)
		}

		id := uuid.New()
		if _, err := tx.Exec(ctx, `
			INSERT INTO servicing_runs (id, tenant_id, valuation_date, status, dry_run, loan_ids, input_hash)
			VALUES ($1,$2,$3,'pending',$4,$5,$6)`,
			id, tenantID, req.ValuationDate, req.DryRun, loanIDsJSON, hash); err != nil {
			return fmt.Errorf("%w: insert servicing run: %v", errkind.ErrTransient, err)
		}

		run = Run{
			ID: id, TenantID: tenantID, ValuationDate: req.ValuationDate,
			Status: StatusPending, DryRun: req.DryRun, LoanIDs: req.LoanIDs, InputHash: hash,
			ReconciliationStatus: ReconPending,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// Transition moves a run to running (from pending) or to a terminal
// state (completed/failed/cancelled), per spec §3.3's lifecycle; once
// terminal, a run never regresses.
func (s *Store) Transition(ctx context.Context, tenantID, runID uuid.UUID, status string) error {
	return tenant.Scope(ctx, s.db, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE servicing_runs SET status = $1, updated_at = now()
			WHERE id = $2 AND status NOT IN ('completed','failed','cancelled')`, status, runID)
		if err != nil {
			return fmt.Errorf("%w: transition run: %v", errkind.ErrTransient, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: run %s not found or already terminal", errkind.ErrConflict, runID)
		}
		return nil
	})
}

// RecordEvent persists one servicing event, skipping (not failing) on a
// duplicate event_key — the idempotent-replay contract of spec §4.8.
// Returns false when the event was skipped as a duplicate.
func (s *Store) RecordEvent(ctx context.Context, tenantID uuid.UUID, ev Event) (bool, error) {
	inserted := false
	err := tenant.Scope(ctx, s.db, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		detailsJSON := []byte("{}")
		id := uuid.New()
		tag, err := tx.Exec(ctx, `
			INSERT INTO servicing_events
				(id, run_id, tenant_id, event_key, event_type, loan_id, valuation_date,
				 amount_cents, principal_cents, interest_cents, escrow_cents, fees_cents, details, status)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
			ON CONFLICT (run_id, event_key) DO NOTHING`,
			id, ev.RunID, tenantID, ev.EventKey, ev.EventType, ev.LoanID, ev.ValuationDate,
			ev.AmountCents, ev.PrincipalCents, ev.InterestCents, ev.EscrowCents, ev.FeesCents, detailsJSON, ev.Status)
		if err != nil {
			return fmt.Errorf("%w: insert servicing event: %v", errkind.ErrTransient, err)
		}
		inserted = tag.RowsAffected() > 0
		if inserted {
			if _, err := tx.Exec(ctx, `UPDATE servicing_runs SET events_created = events_created + 1 WHERE id = $1`, ev.RunID); err != nil {
				return fmt.Errorf("%w: bump events_created: %v", errkind.ErrTransient, err)
			}
			// Escrow disbursement, investor distribution, interest accrual,
			// and fee events announce through the same outbox+dispatcher
			// path as payments (routes in internal/outbox.ExchangeRouting;
			// escrow disbursements reach q.schedule.disbursement, investor
			// distributions reach investor.calculations); payment_posted
			// itself is already announced by
			// internal/ledger.PostPayment, so it has no mapping here.
			if eventType, payload, ok := outboxEventFor(ev); ok {
				if _, err := outbox.Write(ctx, tx, tenantID, "servicing_event", id.String(), eventType, payload); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

// RecordException persists a servicing exception, deriving its due date
// from DueDateFor and bumping the run's exceptions_created counter.
func (s *Store) RecordException(ctx context.Context, tenantID, runID uuid.UUID, loanID string, valuationDate time.Time, c CandidateException) (*Exception, error) {
	var exc Exception
	err := tenant.Scope(ctx, s.db, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		id := uuid.New()
		dueDate := DueDateFor(valuationDate, c.Severity)
		if _, err := tx.Exec(ctx, `
			INSERT INTO servicing_exceptions
				(id, run_id, tenant_id, loan_id, severity, type, message, suggested_action, due_date, status)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,'open')`,
			id, runID, tenantID, loanID, c.Severity, c.Type, c.Message, c.SuggestedAction, dueDate); err != nil {
			return fmt.Errorf("%w: insert servicing exception: %v", errkind.ErrTransient, err)
		}
		if _, err := tx.Exec(ctx, `UPDATE servicing_runs SET exceptions_created = exceptions_created + 1 WHERE id = $1`, runID); err != nil {
			return fmt.Errorf("%w: bump exceptions_created: %v", errkind.ErrTransient, err)
		}
		exc = Exception{
			ID: id, RunID: runID, LoanID: loanID, Severity: c.Severity, Type: c.Type,
			Message: c.Message, SuggestedAction: c.SuggestedAction, DueDate: dueDate, Status: ExceptionOpen,
		}
		eventType, payload := outboxEventForException(&exc)
		if _, err := outbox.Write(ctx, tx, tenantID, "servicing_exception", id.String(), eventType, payload); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &exc, nil
}

// Get fetches a run by id within the caller's tenant scope, for the
// maintenance status-check surface of internal/httpapi.
func (s *Store) Get(ctx context.Context, tenantID, runID uuid.UUID) (*Run, error) {
	var run Run
	err := tenant.ReadOnlyScope(ctx, s.db, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		var loanIDsJSON []byte
		var beneficiaryDollars, investorsDollars float64
		err := tx.QueryRow(ctx, `
			SELECT id, tenant_id, valuation_date, status, dry_run, loan_ids, input_hash,
			       total_loans, loans_processed, events_created, exceptions_created,
			       total_disbursed_beneficiary, total_disbursed_investors, reconciliation_status
			FROM servicing_runs WHERE id = $1`, runID,
		).Scan(&run.ID, &run.TenantID, &run.ValuationDate, &run.Status, &run.DryRun, &loanIDsJSON, &run.InputHash,
			&run.TotalLoans, &run.LoansProcessed, &run.EventsCreated, &run.ExceptionsCreated,
			&beneficiaryDollars, &investorsDollars, &run.ReconciliationStatus)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: servicing run %s", errkind.ErrNotFound, runID)
		}
		if err != nil {
			return fmt.Errorf("%w: get servicing run: %v", errkind.ErrTransient, err)
		}
		run.TotalDisbursedBeneficiary = int64(beneficiaryDollars * 100)
		run.TotalDisbursedInvestors = int64(investorsDollars * 100)
		return json.Unmarshal(loanIDsJSON, &run.LoanIDs)
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ReconciliationStatusFor classifies |totalBeneficiary - totalInvestors|
// per spec §4.8: <0.01 balanced, <10.00 pending, else imbalanced. Both
// totals are in cents; thresholds are therefore 1 cent and 1000 cents.
func ReconciliationStatusFor(totalBeneficiaryCents, totalInvestorsCents int64) string {
	diff := totalBeneficiaryCents - totalInvestorsCents
	if diff < 0 {
		diff = -diff
	}
	switch {
	case diff < 1:
		return ReconBalanced
	case diff < 1000:
		return ReconPending
	default:
		return ReconImbalanced
	}
}

// FinishRun transitions a run to completed (or failed, if failed=true),
// records final totals and reconciliation status, and — when the
// reconciliation is imbalanced — opens a critical exception per spec
// §4.8.
func (s *Store) FinishRun(ctx context.Context, tenantID, runID uuid.UUID, totalLoans, loansProcessed int, totalBeneficiaryCents, totalInvestorsCents int64, failed bool) (*Run, error) {
	status := StatusCompleted
	if failed {
		status = StatusFailed
	}
	reconStatus := ReconciliationStatusFor(totalBeneficiaryCents, totalInvestorsCents)

	var run Run
	err := tenant.Scope(ctx, s.db, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		beneficiaryDollars := float64(totalBeneficiaryCents) / 100
		investorsDollars := float64(totalInvestorsCents) / 100
		tag, err := tx.Exec(ctx, `
			UPDATE servicing_runs
			SET status = $1, total_loans = $2, loans_processed = $3,
			    total_disbursed_beneficiary = $4, total_disbursed_investors = $5,
			    reconciliation_status = $6, updated_at = now()
			WHERE id = $7 AND status NOT IN ('completed','failed','cancelled')`,
			status, totalLoans, loansProcessed, beneficiaryDollars, investorsDollars, reconStatus, runID)
		if err != nil {
			return fmt.Errorf("%w: finish run: %v", errkind.ErrTransient, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: run %s not found or already terminal", errkind.ErrConflict, runID)
		}

		run = Run{
			ID: runID, TenantID: tenantID, Status: status, TotalLoans: totalLoans,
			LoansProcessed: loansProcessed, TotalDisbursedBeneficiary: totalBeneficiaryCents,
			TotalDisbursedInvestors: totalInvestorsCents, ReconciliationStatus: reconStatus,
		}

		if reconStatus != ReconImbalanced {
			return nil
		}
		id := uuid.New()
		dueDate := time.Now().UTC().AddDate(0, 0, 1)
		_, err = tx.Exec(ctx, `
			INSERT INTO servicing_exceptions
				(id, run_id, tenant_id, loan_id, severity, type, message, suggested_action, due_date, status)
			VALUES ($1,$2,$3,'','critical','reconciliation_imbalance',$4,$5,$6,'open')`,
			id, runID, tenantID,
			fmt.Sprintf("beneficiary/investor disbursement totals differ by %.2f", float64(totalBeneficiaryCents-totalInvestorsCents)/100),
			"reconcile beneficiary and investor ledgers before closing the cycle", dueDate)
		if err != nil {
			return fmt.Errorf("%w: insert imbalance exception: %v", errkind.ErrTransient, err)
		}
		_, err = tx.Exec(ctx, `UPDATE servicing_runs SET exceptions_created = exceptions_created + 1 WHERE id = $1`, runID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}
