package servicing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/loanserve/core/internal/errkind"
	"github.com/loanserve/core/internal/tenant"
)

// LoanData bundles everything ProcessLoan needs for one loan's pass,
// gathered by the caller from the external loan/investor/escrow tables
// (spec §6 treats those as external domain tables this engine reads but
// does not own).
type LoanData struct {
	Loan           LoanInput
	Payments       []MatchedPayment
	EscrowDue      []EscrowDisbursement
	InvestorOwners []InvestorOwnership
}

// LoanResult summarizes one loan's pipeline pass for run-level totals.
type LoanResult struct {
	LoanID           string
	EventsWritten    int
	ExceptionsRaised int
	BeneficiaryCents int64
	InvestorCents    int64
	Err              error
}

var centsPerDollar = decimal.NewFromInt(100)

// recordEvent is RecordEvent's dry-run-aware front door: a dry run
// reports the event as if it had been written (so totals/previews are
// meaningful) without touching servicing_events or bumping any run
// counter.
func (s *Store) recordEvent(ctx context.Context, tenantID uuid.UUID, dryRun bool, ev Event) (bool, error) {
	if dryRun {
		return true, nil
	}
	return s.RecordEvent(ctx, tenantID, ev)
}

// recordException is RecordException's dry-run-aware counterpart.
func (s *Store) recordException(ctx context.Context, tenantID, runID uuid.UUID, dryRun bool, loanID string, valuationDate time.Time, c CandidateException) error {
	if dryRun {
		return nil
	}
	_, err := s.RecordException(ctx, tenantID, runID, loanID, valuationDate, c)
	return err
}

// ProcessLoan runs the full per-loan pipeline of spec §4.8's table:
// interest accrual, payment inbox, fee assessment, escrow disbursement,
// investor distribution, exceptions. Every write goes through
// RecordEvent/RecordException, which are themselves idempotent on
// (run_id, event_key), so re-running this for the same run and loan is
// safe. When dryRun is true (servicing_runs.dry_run), the pipeline
// still computes every step so callers can preview totals, but none of
// it is persisted: no servicing_events row, no exception, no counter
// bump.
func (s *Store) ProcessLoan(ctx context.Context, tenantID, runID uuid.UUID, valuationDate time.Time, data LoanData, dryRun bool) LoanResult {
	result := LoanResult{LoanID: data.Loan.LoanID}

	accrual := AccrueInterest(data.Loan, valuationDate)
	interestCents := accrual.AccruedAmount.Mul(centsPerDollar).IntPart()
	wrote, err := s.recordEvent(ctx, tenantID, dryRun, Event{
		RunID: runID, EventKey: accrual.EventKey(), EventType: "interest_accrual",
		LoanID: data.Loan.LoanID, ValuationDate: valuationDate,
		InterestCents: interestCents, Status: EventSuccess,
	})
	if err != nil {
		result.Err = fmt.Errorf("interest accrual: %w", err)
		return result
	}
	if wrote {
		result.EventsWritten++
	}

	for _, p := range data.Payments {
		if p.ValueDate.After(valuationDate) {
			continue
		}
		wrote, err := s.recordEvent(ctx, tenantID, dryRun, Event{
			RunID: runID, EventKey: "post_payment_" + p.PaymentID + "_" + valuationDate.Format("2006-01-02"),
			EventType: "payment_posted", LoanID: data.Loan.LoanID, ValuationDate: valuationDate,
			PrincipalCents: p.PrincipalCents, InterestCents: p.InterestCents,
			AmountCents: p.PrincipalCents + p.InterestCents, Status: EventSuccess,
		})
		if err != nil {
			result.Err = fmt.Errorf("payment inbox: %w", err)
			return result
		}
		if wrote {
			result.EventsWritten++
		}
	}

	if triggered, key := LateFeeCheck(data.Loan); triggered {
		wrote, err := s.recordEvent(ctx, tenantID, dryRun, Event{
			RunID: runID, EventKey: key + "_" + valuationDate.Format("2006-01-02"),
			EventType: "late_fee", LoanID: data.Loan.LoanID, ValuationDate: valuationDate, Status: EventSuccess,
		})
		if err != nil {
			result.Err = fmt.Errorf("fee assessment: %w", err)
			return result
		}
		if wrote {
			result.EventsWritten++
		}
	}

	for _, d := range DueEscrowDisbursements(data.EscrowDue, valuationDate) {
		wrote, err := s.recordEvent(ctx, tenantID, dryRun, Event{
			RunID: runID, EventKey: "escrow_disbursement_" + d.ID + "_" + valuationDate.Format("2006-01-02"),
			EventType: "escrow_disbursement", LoanID: data.Loan.LoanID, ValuationDate: valuationDate,
			EscrowCents: d.AmountCents, AmountCents: d.AmountCents, Status: EventSuccess,
		})
		if err != nil {
			result.Err = fmt.Errorf("escrow disbursement: %w", err)
			return result
		}
		if wrote {
			result.EventsWritten++
			result.BeneficiaryCents += d.AmountCents
		}
	}

	if len(data.InvestorOwners) > 0 {
		for _, p := range data.Payments {
			shares := ApportionInvestorDistribution(p.PrincipalCents+p.InterestCents, data.InvestorOwners)
			for investorID, amount := range shares {
				wrote, err := s.recordEvent(ctx, tenantID, dryRun, Event{
					RunID:      runID,
					EventKey:   "investor_distribution_" + investorID + "_" + p.PaymentID + "_" + valuationDate.Format("2006-01-02"),
					EventType:  "investor_distribution",
					LoanID:     data.Loan.LoanID,
					ValuationDate: valuationDate,
					AmountCents: amount,
					Status:      EventSuccess,
				})
				if err != nil {
					result.Err = fmt.Errorf("investor distribution: %w", err)
					return result
				}
				if wrote {
					result.EventsWritten++
					result.InvestorCents += amount
				}
			}
		}
	}

	for _, c := range RunExceptionChecks(data.Loan, valuationDate) {
		if err := s.recordException(ctx, tenantID, runID, dryRun, data.Loan.LoanID, valuationDate, c); err != nil {
			result.Err = fmt.Errorf("exceptions: %w", err)
			return result
		}
		result.ExceptionsRaised++
	}

	return result
}

// RunCycle drives the full run: transitions pending→running, fans the
// per-loan pipeline out across a bounded worker pool (spec §5's "worker
// pool for CPU-bound steps"), then reconciles and finishes the run.
// dryRun mirrors servicing_runs.dry_run: when true, every loan still
// runs through the full pipeline (so the caller gets the same totals
// and exception previews a real run would produce) but nothing is
// written to servicing_events/servicing_exceptions and no run counter
// is bumped. The run row itself still transitions to completed/failed
// with the computed totals, since it's the caller's only record of
// what the dry run would have done.
func (s *Store) RunCycle(ctx context.Context, tenantID, runID uuid.UUID, valuationDate time.Time, loans []LoanData, workers int, dryRun bool) ([]LoanResult, error) {
	if workers < 1 {
		workers = 1
	}
	if err := s.Transition(ctx, tenantID, runID, StatusRunning); err != nil {
		return nil, err
	}

	results := make([]LoanResult, len(loans))
	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)
	for i, data := range loans {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, data LoanData) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = s.ProcessLoan(ctx, tenantID, runID, valuationDate, data, dryRun)
		}(i, data)
	}
	wg.Wait()

	var beneficiaryTotal, investorTotal int64
	var processed int
	var anyFailed bool
	for _, r := range results {
		if r.Err != nil {
			anyFailed = true
			continue
		}
		processed++
		beneficiaryTotal += r.BeneficiaryCents
		investorTotal += r.InvestorCents
	}

	if _, err := s.FinishRun(ctx, tenantID, runID, len(loans), processed, beneficiaryTotal, investorTotal, anyFailed); err != nil {
		return results, err
	}
	return results, nil
}

// ReprocessLoan implements spec §4.8's explicit per-loan reprocessing:
// delete this run's events for (loan_id, valuation_date), then re-run
// the pipeline with dry_run=false.
func (s *Store) ReprocessLoan(ctx context.Context, tenantID, runID uuid.UUID, valuationDate time.Time, data LoanData) (LoanResult, error) {
	err := tenant.Scope(ctx, s.db, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			DELETE FROM servicing_events WHERE run_id = $1 AND loan_id = $2 AND valuation_date = $3`,
			runID, data.Loan.LoanID, valuationDate)
		if err != nil {
			return fmt.Errorf("%w: delete events for reprocessing: %v", errkind.ErrTransient, err)
		}
		return nil
	})
	if err != nil {
		return LoanResult{}, err
	}
	return s.ProcessLoan(ctx, tenantID, runID, valuationDate, data, false), nil
}
