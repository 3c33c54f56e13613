package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// State enumerates the payment lifecycle of spec §3.3: states advance
// monotonically and terminal states never regress.
type State string

const (
	StateReceived  State = "received"
	StateValidated State = "validated"
	StateAllocated State = "allocated"
	StatePosted    State = "posted"
	StateSettled   State = "settled"
	StateReturned  State = "returned"
	StateReversed  State = "reversed"
	StateFailed    State = "failed"
)

// terminalStates never transition further.
var terminalStates = map[State]bool{
	StateSettled:  true,
	StateReturned: true,
	StateReversed: true,
	StateFailed:   true,
}

// IsTerminal reports whether s is a terminal payment state.
func IsTerminal(s State) bool { return terminalStates[s] }

// AccountType enumerates the ledger's double-entry account taxonomy.
type AccountType string

const (
	AccountAsset     AccountType = "asset"
	AccountLiability AccountType = "liability"
	AccountRevenue   AccountType = "revenue"
	AccountExpense   AccountType = "expense"
	AccountEquity    AccountType = "equity"
)

// Allocations mirrors waterfall.Allocation as persisted on the payment row.
type Allocations struct {
	FeesCents      int64
	InterestCents  int64
	PrincipalCents int64
	EscrowCents    int64
	SuspenseCents  int64
}

// Sum returns the total of all allocation buckets.
func (a Allocations) Sum() int64 {
	return a.FeesCents + a.InterestCents + a.PrincipalCents + a.EscrowCents + a.SuspenseCents
}

// Payment is the immutable record of one accepted payment (spec §3.1).
type Payment struct {
	ID                uuid.UUID
	TenantID          uuid.UUID
	LoanID            *string
	Channel           string
	IdempotencyKey    string
	AmountCents       int64
	Currency          string
	ValueDate         time.Time
	State             State
	BankTransferID    *string
	CheckNumber       *string
	Allocations       Allocations
	RequiresReview    bool
	RiskScore         int
	CreatedAt         time.Time
}

// LedgerLine is a single debit or credit line. Exactly one of
// DebitCents/CreditCents is non-zero, matching spec §3.1.
type LedgerLine struct {
	ID            uuid.UUID
	PaymentID     uuid.UUID
	EntryDate     time.Time
	AccountType   AccountType
	AccountCode   string
	DebitCents    int64
	CreditCents   int64
	DebitAmount   decimal.Decimal
	CreditAmount  decimal.Decimal
	Description   string
	CorrelationID string
}

// CashAccountCode maps a channel to the asset account debited for
// incoming cash. Channels not listed fall back to "cash.default".
var CashAccountCode = map[string]string{
	"ach":      "cash.ach",
	"wire":     "cash.wire",
	"realtime": "cash.realtime",
	"check":    "cash.check",
	"card":     "cash.card",
	"paypal":   "cash.paypal",
	"venmo":    "cash.venmo",
	"book":     "cash.book",
}

func cashAccountFor(channel string) string {
	if code, ok := CashAccountCode[channel]; ok {
		return code
	}
	return "cash.default"
}
