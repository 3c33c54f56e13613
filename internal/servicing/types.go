// Package servicing implements the daily servicing cycle engine of spec
// §4.8: run lifecycle, per-loan event generation with idempotent event
// keys, and the beneficiary/investor reconciliation and exception pass
// that follow it.
package servicing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Run status values (spec §3.3).
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Reconciliation status values for a run, distinct from
// internal/reconcile's per-channel reconciliation (spec §4.8).
const (
	ReconPending   = "pending"
	ReconBalanced  = "balanced"
	ReconImbalanced = "imbalanced"
)

// Servicing event statuses (spec §3.1).
const (
	EventSuccess = "success"
	EventSkipped = "skipped"
	EventFailed  = "failed"
)

// Exception severities and statuses (spec §3.1).
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"

	ExceptionOpen     = "open"
	ExceptionResolved = "resolved"
	ExceptionWaived   = "waived"
)

// Run mirrors a servicing_runs row.
type Run struct {
	ID                        uuid.UUID
	TenantID                  uuid.UUID
	ValuationDate             time.Time
	Status                    string
	TotalLoans                int
	LoansProcessed            int
	EventsCreated             int
	ExceptionsCreated         int
	TotalDisbursedBeneficiary int64 // cents
	TotalDisbursedInvestors   int64 // cents
	ReconciliationStatus      string
	DryRun                    bool
	LoanIDs                   []string
	InputHash                 string
}

// Event mirrors a servicing_events row.
type Event struct {
	ID             uuid.UUID
	RunID          uuid.UUID
	EventKey       string
	EventType      string
	LoanID         string
	ValuationDate  time.Time
	AmountCents    int64
	PrincipalCents int64
	InterestCents  int64
	EscrowCents    int64
	FeesCents      int64
	Status         string
}

// Exception mirrors a servicing_exceptions row.
type Exception struct {
	ID              uuid.UUID
	RunID           uuid.UUID
	LoanID          string
	Severity        string
	Type            string
	Message         string
	SuggestedAction string
	DueDate         time.Time
	Status          string
}

// DueDateFor applies the spec §3.1 due-date heuristic: critical +1d,
// high +3d, else +7d from the valuation date.
func DueDateFor(valuationDate time.Time, severity string) time.Time {
	switch severity {
	case SeverityCritical:
		return valuationDate.AddDate(0, 0, 1)
	case SeverityHigh:
		return valuationDate.AddDate(0, 0, 3)
	default:
		return valuationDate.AddDate(0, 0, 7)
	}
}

// LoanInput is the minimal external-loan-table projection the engine
// needs per loan; loans themselves live in an external system (spec §6
// treats "loans, investors, escrow_accounts" as external domain tables).
type LoanInput struct {
	LoanID            string
	OriginationDate   time.Time
	LastAccrualDate   *time.Time // nil ⇒ accrue from origination
	PrincipalBalance  int64      // cents
	// AnnualRatePercent is decimal(9,6) precision, e.g. 6.000000 for 6% APR.
	// Spec §9 open question: ownership/rate precision varies across the
	// original migrations; this engine standardizes on decimal(9,6) for
	// rates and decimal(8,6) for ownership percentages. Nothing checks
	// that precision at runtime.
	AnnualRatePercent decimal.Decimal
	CurrentBalance    int64      // cents; drives delinquency/maturity checks
	MaturityDate      time.Time
	DaysLate          int
	GracePeriodDays   int
	EscrowBalance     int64 // cents
	HasRateOnFile     bool
	HasPaymentOnFile  bool
}

// EscrowDisbursement is a scheduled disbursement due on or before the
// valuation date.
type EscrowDisbursement struct {
	ID          string
	LoanID      string
	DueDate     time.Time
	AmountCents int64
}

// InvestorOwnership is one investor's pro-rata share of a loan, used to
// split a matched payment's principal+interest across investors.
type InvestorOwnership struct {
	InvestorID       string
	LoanID           string
	OwnershipPercent decimal.Decimal // decimal(8,6) precision per spec §9 open question
}

// MatchedPayment is a payment the inbox step has matched to a loan and
// value date ≤ valuation date, ready to post.
type MatchedPayment struct {
	PaymentID      string
	LoanID         string
	ValueDate      time.Time
	PrincipalCents int64
	InterestCents  int64
}
