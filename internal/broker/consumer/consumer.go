// Package consumer implements the generic consumer framework of spec
// §4.7: subscribe, apply per-message processing inside a DB transaction
// that also records processed-message dedup, and route outcomes to
// ack/nack/DLQ.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/loanserve/core/internal/broker"
	"github.com/loanserve/core/internal/errkind"
	"github.com/loanserve/core/internal/tenant"
)

// Outcome is the result of processing one message, per spec §4.7.
type Outcome int

const (
	Success Outcome = iota
	RetryableFailure
	Poison
)

// Handler processes one decoded message of type T inside tx, which
// already has (message_id, tenant_id) reserved in processed_messages by
// the framework before Handler is called.
type Handler[T any] func(ctx context.Context, tx pgx.Tx, tenantID string, msg T) Outcome

// Consumer drives one queue with a generic typed handler.
type Consumer[T any] struct {
	conn     *broker.Connection
	db       *pgxpool.Pool
	log      *zap.Logger
	queue    string
	handler  Handler[T]
	messageIDHeader string
	tenantIDHeader  string
}

// Config configures a Consumer.
type Config[T any] struct {
	Queue           string
	Handler         Handler[T]
	MessageIDHeader string // default "x-message-id"
	TenantIDHeader  string // default "x-tenant-id"
}

func New[T any](conn *broker.Connection, db *pgxpool.Pool, log *zap.Logger, cfg Config[T]) *Consumer[T] {
	messageIDHeader := cfg.MessageIDHeader
	if messageIDHeader == "" {
		messageIDHeader = "x-message-id"
	}
	tenantIDHeader := cfg.TenantIDHeader
	if tenantIDHeader == "" {
		tenantIDHeader = "x-tenant-id"
	}
	return &Consumer[T]{
		conn: conn, db: db, log: log, queue: cfg.Queue, handler: cfg.Handler,
		messageIDHeader: messageIDHeader, tenantIDHeader: tenantIDHeader,
	}
}

// Run subscribes to the queue and processes deliveries until ctx is
// cancelled or the channel closes.
func (c *Consumer[T]) Run(ctx context.Context) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.Qos(10, 0, false); err != nil {
		return fmt.Errorf("consumer: set qos: %w", err)
	}

	deliveries, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consumer: consume %s: %w", c.queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("consumer: delivery channel for %s closed", c.queue)
			}
			c.handle(ctx, d)
		}
	}
}

func (c *Consumer[T]) handle(ctx context.Context, d amqp.Delivery) {
	messageID, _ := d.Headers[c.messageIDHeader].(string)
	tenantIDStr, _ := d.Headers[c.tenantIDHeader].(string)
	if messageID == "" || tenantIDStr == "" {
		c.log.Warn("rejecting message missing identity headers", zap.String("queue", c.queue))
		_ = d.Reject(false)
		return
	}

	var msg T
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		c.log.Warn("poison message: deserialize failure", zap.String("queue", c.queue), zap.Error(err))
		_ = d.Reject(false)
		return
	}

	outcome, err := c.process(ctx, messageID, tenantIDStr, msg)
	if err != nil {
		c.log.Error("consumer processing error", zap.String("queue", c.queue), zap.Error(err))
		_ = d.Nack(false, false)
		return
	}

	switch outcome {
	case Success:
		_ = d.Ack(false)
	case RetryableFailure:
		_ = d.Nack(false, false) // requeue=false: broker applies its delivery-limit/DLQ policy
	case Poison:
		_ = d.Reject(false)
	}
}

func (c *Consumer[T]) process(ctx context.Context, messageID, tenantIDStr string, msg T) (Outcome, error) {
	tenantID, err := tenant.ParseID(tenantIDStr)
	if err != nil {
		return Poison, fmt.Errorf("%w: invalid tenant id header: %v", errkind.ErrValidation, err)
	}

	var outcome Outcome
	err = tenant.Scope(ctx, c.db, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO processed_messages (message_id, tenant_id) VALUES ($1, $2)
			ON CONFLICT (message_id, tenant_id) DO NOTHING`, messageID, tenantID)
		if err != nil {
			return fmt.Errorf("%w: reserve processed_messages: %v", errkind.ErrTransient, err)
		}
		if tag.RowsAffected() == 0 {
			// Already processed: ack without side effects (spec §4.7).
			outcome = Success
			return nil
		}
		outcome = c.handler(ctx, tx, tenantIDStr, msg)
		if outcome != Success {
			return errSkipCommit
		}
		return nil
	})
	if errors.Is(err, errSkipCommit) {
		return outcome, nil
	}
	if err != nil {
		return 0, err
	}
	return outcome, nil
}

// errSkipCommit signals tenant.Scope to roll back (handler reported a
// non-success outcome) without that rollback being treated as an error
// by the caller.
var errSkipCommit = errors.New("consumer: handler outcome requires rollback")
