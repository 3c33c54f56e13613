// Package envelope normalizes channel-specific payment payloads into the
// canonical, channel-independent shape described in spec §3.1 and
// derives the deterministic idempotency key described in spec §4.2.
//
// The envelope itself is a concrete struct tree (tagged variant types
// per spec §9's redesign note), not a dynamic map: each nested section
// is optional where the spec says it is optional, and a single "details"
// map carries forward-compatible, channel-specific extras.
package envelope

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/loanserve/core/internal/errkind"
)

// Channel enumerates the accepted source channels.
type Channel string

const (
	ChannelACH      Channel = "ach"
	ChannelWire     Channel = "wire"
	ChannelRealtime Channel = "realtime"
	ChannelCheck    Channel = "check"
	ChannelCard     Channel = "card"
	ChannelPaypal   Channel = "paypal"
	ChannelVenmo    Channel = "venmo"
	ChannelBook     Channel = "book"
)

var validChannels = map[Channel]bool{
	ChannelACH: true, ChannelWire: true, ChannelRealtime: true, ChannelCheck: true,
	ChannelCard: true, ChannelPaypal: true, ChannelVenmo: true, ChannelBook: true,
}

// Source identifies where a payment entered the system.
type Source struct {
	Channel  Channel `json:"channel"`
	Provider string  `json:"provider,omitempty"`
	BatchID  *string `json:"batch_id,omitempty"`
}

// Borrower identifies the loan a payment is meant for, which may be
// unknown at ingestion time.
type Borrower struct {
	LoanID      *string           `json:"loan_id,omitempty"`
	Name        *string           `json:"name,omitempty"`
	ExternalIDs map[string]string `json:"external_ids,omitempty"`
}

// Payment carries the monetary facts of the envelope.
type Payment struct {
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
	Method      Channel   `json:"method"`
	ValueDate   time.Time `json:"value_date"`
	Reference   string    `json:"reference"`
	Details     map[string]any `json:"details,omitempty"`

	// ACH-specific fields; present only when Method == ChannelACH.
	RoutingNumber *string `json:"routing_number,omitempty"`
	AccountMask   *string `json:"account_mask,omitempty"`
	ReturnCode    *string `json:"return_code,omitempty"`
	SECCode       *string `json:"sec_code,omitempty"`

	// Check-specific.
	CheckNumber *string `json:"check_number,omitempty"`
}

// Artifact references a stored document (image, confirmation, etc.)
// associated with the payment.
type Artifact struct {
	Type string `json:"type"`
	URI  string `json:"uri"`
	Hash string `json:"hash"`
}

// Risk carries the envelope's computed risk signal.
type Risk struct {
	Flags []string `json:"flags"`
	Score int      `json:"score"`
}

// External carries reference-only identifiers from upstream systems.
// Correlation id, not these, is sovereign for hash-chain integrity
// (spec §9 open question).
type External struct {
	BankTransferID *string `json:"bank_transfer_id,omitempty"`
	BankEventID    *string `json:"bank_event_id,omitempty"`
	PSPID          *string `json:"psp_id,omitempty"`
}

// Envelope is the normalized, channel-independent projection of one
// inbound payment.
type Envelope struct {
	SchemaVersion  string    `json:"schema_version"`
	MessageID      string    `json:"message_id"`
	CorrelationID  string    `json:"correlation_id"`
	IdempotencyKey string    `json:"idempotency_key"`
	OccurredAt     time.Time `json:"occurred_at"`

	Source   Source    `json:"source"`
	Borrower Borrower  `json:"borrower"`
	Payment  Payment   `json:"payment"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
	Risk     *Risk      `json:"risk,omitempty"`
	External *External  `json:"external,omitempty"`

	RequiresReview bool `json:"requires_review"`
}

// SchemaVersion is the wire envelope schema named in spec §6.
const SchemaVersion = "loanserve.payments.v1"

// ValidationError carries the list of reasons an envelope failed
// validation, surfaced as invalid_envelope per spec §4.2.
type ValidationError struct {
	Reasons []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: %s", errkind.ErrValidation, strings.Join(e.Reasons, "; "))
}

func (e *ValidationError) Unwrap() error { return errkind.ErrValidation }

// methodBridges records explicit channel -> method bridges where the
// two are allowed to differ (spec §4.2: "payment.method equals
// source.channel unless an explicit bridge is configured"). Empty by
// default; operators wire bridges through WithMethodBridge.
var methodBridges = map[Channel]Channel{}

// WithMethodBridge registers an allowed channel -> method divergence.
func WithMethodBridge(channel, method Channel) {
	methodBridges[channel] = method
}

// Validate checks the rules of spec §4.2 and returns a *ValidationError
// listing every violated rule (not just the first).
func Validate(e *Envelope) error {
	var reasons []string

	if e.Payment.AmountCents <= 0 {
		reasons = append(reasons, "amount_cents must be > 0")
	}
	if e.Payment.Currency != "USD" {
		reasons = append(reasons, "currency must be USD")
	}
	if !validChannels[e.Source.Channel] {
		reasons = append(reasons, fmt.Sprintf("unknown channel %q", e.Source.Channel))
	}

	expectedMethod := e.Source.Channel
	if bridge, ok := methodBridges[e.Source.Channel]; ok {
		expectedMethod = bridge
	}
	if e.Payment.Method != expectedMethod {
		reasons = append(reasons, "payment.method must equal source.channel unless a bridge is configured")
	}

	switch e.Source.Channel {
	case ChannelACH:
		if e.Payment.RoutingNumber == nil || strings.TrimSpace(*e.Payment.RoutingNumber) == "" {
			reasons = append(reasons, "ach: routing number required")
		}
		if e.Payment.AccountMask == nil || strings.TrimSpace(*e.Payment.AccountMask) == "" {
			reasons = append(reasons, "ach: account mask required")
		}
		if e.Payment.ReturnCode != nil && !isACHReturnEvent(e) {
			reasons = append(reasons, "ach: return code only allowed on return events")
		}
	case ChannelCheck:
		if e.Payment.CheckNumber == nil || strings.TrimSpace(*e.Payment.CheckNumber) == "" {
			reasons = append(reasons, "check: check number required")
		}
	case ChannelWire:
		if strings.TrimSpace(e.Payment.Reference) == "" {
			reasons = append(reasons, "wire: reference required")
		}
	}

	if e.Borrower.LoanID == nil {
		e.RequiresReview = true
	}

	if len(reasons) > 0 {
		return &ValidationError{Reasons: reasons}
	}
	return nil
}

func isACHReturnEvent(e *Envelope) bool {
	if e.Payment.Details == nil {
		return false
	}
	v, ok := e.Payment.Details["event_type"]
	if !ok {
		return false
	}
	s, _ := v.(string)
	return s == "return"
}

// IdempotencyKey derives the deterministic idempotency key of spec
// §4.2: SHA-256(lower(method)|trim(lower(reference))|value_date|
// amount_cents|loan_id_or_"none").
func IdempotencyKey(method Channel, reference string, valueDate time.Time, amountCents int64, loanID *string) string {
	loan := "none"
	if loanID != nil && strings.TrimSpace(*loanID) != "" {
		loan = *loanID
	}
	parts := []string{
		strings.ToLower(string(method)),
		strings.TrimSpace(strings.ToLower(reference)),
		valueDate.Format("2006-01-02"),
		fmt.Sprintf("%d", amountCents),
		loan,
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// DeriveIdempotencyKey fills in Envelope.IdempotencyKey from its own
// fields and returns the key.
func DeriveIdempotencyKey(e *Envelope) string {
	key := IdempotencyKey(e.Payment.Method, e.Payment.Reference, e.Payment.ValueDate, e.Payment.AmountCents, e.Borrower.LoanID)
	e.IdempotencyKey = key
	return key
}
