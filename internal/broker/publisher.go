package broker

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher wraps one confirm-mode channel. Not safe for concurrent
// Publish calls from multiple goroutines; callers open one Publisher per
// goroutine (cmd/server opens one for its single outbox dispatcher).
type Publisher struct {
	ch      *amqp.Channel
	confirm chan amqp.Confirmation
}

// NewPublisher opens a fresh channel in publisher-confirm mode.
func NewPublisher(conn *Connection) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("broker: enable confirms: %w", err)
	}
	confirm := ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	return &Publisher{ch: ch, confirm: confirm}, nil
}

// Publish sends body to exchange/routingKey with persistent delivery
// mode and waits for the broker's publisher confirm, per spec §4.5.
func (p *Publisher) Publish(ctx context.Context, exchange, routingKey string, body []byte, confirmTimeout time.Duration) error {
	return p.PublishWithHeaders(ctx, exchange, routingKey, nil, body, confirmTimeout)
}

// PublishWithHeaders is Publish with caller-supplied AMQP headers, used
// by cmd/dlq's reprocess command to stamp x-reprocessed/x-reprocess-count
// per spec §4.7's DLQ hygiene note.
func (p *Publisher) PublishWithHeaders(ctx context.Context, exchange, routingKey string, headers amqp.Table, body []byte, confirmTimeout time.Duration) error {
	err := p.ch.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      headers,
		Body:         body,
		Timestamp:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("broker: publish: %w", err)
	}

	select {
	case confirm, ok := <-p.confirm:
		if !ok {
			return fmt.Errorf("broker: confirm channel closed")
		}
		if !confirm.Ack {
			return fmt.Errorf("broker: broker nacked publish")
		}
		return nil
	case <-time.After(confirmTimeout):
		return fmt.Errorf("broker: confirm timeout after %s", confirmTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the underlying channel.
func (p *Publisher) Close() error {
	return p.ch.Close()
}
