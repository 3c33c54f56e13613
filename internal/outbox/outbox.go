// Package outbox implements the durable transactional outbox of spec
// §4.4/§4.5/§6: a row written in the same database transaction as the
// business change it announces, later delivered to the broker with
// at-least-once semantics by Dispatcher.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/loanserve/core/internal/errkind"
)

// Message is one row of the outbox_messages table.
type Message struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       json.RawMessage
	CreatedAt     time.Time
	PublishedAt   *time.Time
	AttemptCount  int
	LastError     *string
}

// Write inserts a new outbox row inside tx, to be committed atomically
// with whatever business rows the caller also wrote. Payload is
// marshaled to JSON here so callers pass typed Go values.
func Write(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, aggregateType, aggregateID, eventType string, payload any) (uuid.UUID, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("outbox: marshal payload: %w", err)
	}

	id := uuid.New()
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_messages(
			id, tenant_id, aggregate_type, aggregate_id, event_type, payload, created_at, attempt_count
		) VALUES ($1,$2,$3,$4,$5,$6::jsonb,$7,0)`,
		id, tenantID, aggregateType, aggregateID, eventType, raw, time.Now().UTC(),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: insert outbox row: %v", errkind.ErrTransient, err)
	}
	return id, nil
}

// ExchangeRouting maps an outbox event_type to the exchange and routing
// key the dispatcher publishes it to, per spec §4.5
// ("payment.posted -> payments.topic with routing key payment.posted").
var ExchangeRouting = map[string]struct {
	Exchange   string
	RoutingKey string
}{
	"payment.posted":               {"payments.topic", "payment.posted"},
	"payment.settled":              {"payments.topic", "payment.settled"},
	"payment.returned":             {"payments.topic", "payment.returned"},
	"payment.reversed":             {"payments.topic", "payment.reversed"},
	"servicing.interest_accrued":   {"servicing.direct", "servicing.interest_accrued"},
	"servicing.fee_assessed":       {"servicing.direct", "servicing.fee_assessed"},
	"servicing.escrow_disbursed":   {"escrow.direct", "escrow.disbursed"},
	"servicing.investor_distributed": {"settlement.topic", "investor.distributed"},
	"servicing.exception_raised":   {"servicing.direct", "servicing.exception_raised"},
	"reconciliation.variance":      {"reconciliation.topic", "reconciliation.variance"},
}

// RouteFor resolves the exchange/routing key for an event type, or
// false if no mapping is configured.
func RouteFor(eventType string) (exchange, routingKey string, ok bool) {
	r, found := ExchangeRouting[eventType]
	if !found {
		return "", "", false
	}
	return r.Exchange, r.RoutingKey, true
}
