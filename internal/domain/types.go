// Package domain holds the wire request/response shapes for
// internal/httpapi, kept separate from internal/envelope so the HTTP
// contract can evolve independently of the canonical envelope shape.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentIntakeRequest is the common envelope every /v1/payments/{channel}
// endpoint decodes, channel-specific fields left zero-valued where they
// don't apply.
type PaymentIntakeRequest struct {
	MessageID     string  `json:"message_id"`
	CorrelationID string  `json:"correlation_id"`
	LoanID        *string `json:"loan_id,omitempty"`
	AmountCents   int64   `json:"amount_cents"`
	ValueDate     time.Time `json:"value_date"`
	Reference     string  `json:"reference"`
	Provider      string  `json:"provider,omitempty"`
	BatchID       *string `json:"batch_id,omitempty"`

	RoutingNumber string  `json:"routing_number,omitempty"`
	AccountMask   string  `json:"account_mask,omitempty"`
	ReturnCode    *string `json:"return_code,omitempty"`
	SECCode       *string `json:"sec_code,omitempty"`

	CheckNumber string `json:"check_number,omitempty"`
	ImageURI    string `json:"image_uri,omitempty"`
	ImageHash   string `json:"image_hash,omitempty"`

	BankTransferID *string `json:"bank_transfer_id,omitempty"`
	PSPID          *string `json:"psp_id,omitempty"`

	// Outstanding is the loan's receivable state at allocation time.
	// The loan master ledger is an external system (spec §6); callers
	// fetch it there and pass it through so the poster stays pure of
	// that dependency.
	Outstanding OutstandingRequest `json:"outstanding"`
}

// OutstandingRequest mirrors internal/waterfall.Outstanding on the wire.
type OutstandingRequest struct {
	FeesCents      int64 `json:"fees_cents"`
	InterestCents  int64 `json:"interest_cents"`
	PrincipalCents int64 `json:"principal_cents"`
	EscrowCents    int64 `json:"escrow_cents"`
}

// PaymentPostedResponse is returned for every successful payment intake.
type PaymentPostedResponse struct {
	PaymentID uuid.UUID `json:"payment_id"`
	IsNew     bool      `json:"is_new"`
	State     string    `json:"state"`
}

// ReconciliationRequest posts one channel-period bank/SOR total pair.
type ReconciliationRequest struct {
	Channel     string    `json:"channel"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	BankTotal   string    `json:"bank_total"` // decimal string, e.g. "100000.00"
	SORTotal    string    `json:"sor_total"`
}

// ReconciliationResponse reports the recorded reconciliation and its status.
type ReconciliationResponse struct {
	ID       uuid.UUID `json:"id"`
	Status   string    `json:"status"`
	Variance string    `json:"variance"`
}

// ServicingRunRequest starts a servicing cycle.
type ServicingRunRequest struct {
	ValuationDate time.Time `json:"valuation_date"`
	LoanIDs       []string  `json:"loan_ids,omitempty"`
	DryRun        bool      `json:"dry_run"`
}

// ServicingRunResponse reports a run's current state.
type ServicingRunResponse struct {
	ID                   uuid.UUID `json:"id"`
	Status               string    `json:"status"`
	TotalLoans           int       `json:"total_loans"`
	LoansProcessed       int       `json:"loans_processed"`
	EventsCreated        int       `json:"events_created"`
	ExceptionsCreated    int       `json:"exceptions_created"`
	ReconciliationStatus string    `json:"reconciliation_status"`
}
