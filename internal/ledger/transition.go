package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/loanserve/core/internal/errkind"
	"github.com/loanserve/core/internal/eventlog"
	"github.com/loanserve/core/internal/outbox"
	"github.com/loanserve/core/internal/tenant"
)

// transitionEventTypes maps a terminal state to the outbox/event-log
// event type announced when a payment advances into it, per spec §3.1's
// posted -> {settled, returned, reversed, failed} states and
// internal/outbox.ExchangeRouting's payment.settled/returned/reversed
// entries.
var transitionEventTypes = map[State]string{
	StateSettled:  "payment.settled",
	StateReturned: "payment.returned",
	StateReversed: "payment.reversed",
}

// TransitionReason carries the consumer-supplied context for a state
// advance (e.g. an ACH return code, a wire recall notice), recorded on
// both the outbox announcement and the hash-chained event.
type TransitionReason struct {
	Code string `json:"code,omitempty"`
	Note string `json:"note,omitempty"`
}

type paymentTransitionPayload struct {
	PaymentID string            `json:"payment_id"`
	From      string            `json:"from_state"`
	To        string            `json:"to_state"`
	Reason    TransitionReason  `json:"reason"`
}

// Transition advances a payment from its current state to to, per the
// consumer-driven settlement/return/reversal paths spec §3.1 describes
// ("state may later advance to settled or reversed on consumer
// action"). Terminal states never regress: transitioning an
// already-terminal payment is a no-op that returns the payment
// unchanged, the same "duplicate is silent success" shape as
// PostPayment's idempotency replay.
func (s *Store) Transition(ctx context.Context, tenantID, paymentID uuid.UUID, to State, reason TransitionReason) (*Payment, error) {
	var result *Payment
	err := tenant.Scope(ctx, s.db, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		p, err := TransitionTx(ctx, tx, tenantID, paymentID, to, reason)
		if err != nil {
			return err
		}
		result = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// TransitionTx is Transition's body, taking an already-open,
// already-tenant-scoped transaction. internal/broker/consumer's
// payments.reversal/payments.returned handlers call this directly —
// the framework has already opened and scoped tx by the time Handler
// runs (see consumer.Consumer[T].process), so they must not nest
// another tenant.Scope call around it.
func TransitionTx(ctx context.Context, tx pgx.Tx, tenantID, paymentID uuid.UUID, to State, reason TransitionReason) (*Payment, error) {
	eventType, ok := transitionEventTypes[to]
	if !ok {
		return nil, fmt.Errorf("%w: ledger: no such terminal transition %q", errkind.ErrValidation, to)
	}

	var p Payment
	err := tx.QueryRow(ctx, `
		SELECT id, tenant_id, loan_id, channel, idempotency_key, amount_cents, currency,
		       value_date, state, requires_review, risk_score, created_at
		FROM payments WHERE id = $1 FOR UPDATE`, paymentID,
	).Scan(&p.ID, &p.TenantID, &p.LoanID, &p.Channel, &p.IdempotencyKey, &p.AmountCents,
		&p.Currency, &p.ValueDate, &p.State, &p.RequiresReview, &p.RiskScore, &p.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("%w: payment %s", errkind.ErrNotFound, paymentID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: lookup payment: %v", errkind.ErrTransient, err)
	}

	if IsTerminal(p.State) {
		return &p, nil
	}

	if _, err := tx.Exec(ctx, `UPDATE payments SET state = $1 WHERE id = $2`, to, paymentID); err != nil {
		return nil, fmt.Errorf("%w: update payment state: %v", errkind.ErrTransient, err)
	}

	payload := paymentTransitionPayload{
		PaymentID: paymentID.String(),
		From:      string(p.State),
		To:        string(to),
		Reason:    reason,
	}
	if _, err := outbox.Write(ctx, tx, tenantID, "payments", paymentID.String(), eventType, payload); err != nil {
		return nil, err
	}

	if err := eventlog.Lock(ctx, tx, tenantID); err != nil {
		return nil, err
	}
	if _, err := eventlog.Append(ctx, tx, eventlog.AppendParams{
		TenantID:      tenantID,
		PaymentID:     &paymentID,
		EventType:     eventType,
		EventTime:     time.Now().UTC(),
		Actor:         eventlog.ActorSystem,
		ActorID:       "ledger.Transition",
		CorrelationID: paymentID.String(),
		Data:          payload,
	}); err != nil {
		return nil, err
	}

	p.State = to
	return &p, nil
}
