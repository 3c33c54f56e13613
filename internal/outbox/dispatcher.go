package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/loanserve/core/internal/tenant"
)

// Publisher is the narrow interface Dispatcher needs from
// internal/broker.Publisher, kept here to avoid a dependency cycle and
// to make the dispatcher unit-testable against a fake.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte, confirmTimeout time.Duration) error
}

// DispatcherConfig controls polling cadence and retry budget, per spec
// §4.5 ("configurable poll interval, batch size, maximum attempt count
// before the row is parked").
type DispatcherConfig struct {
	PollInterval   time.Duration
	BatchSize      int
	MaxAttempts    int
	ConfirmTimeout time.Duration
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = 5 * time.Second
	}
	return c
}

// Dispatcher polls outbox_messages for unpublished rows and delivers
// them to the broker with at-least-once semantics (spec §4.5).
type Dispatcher struct {
	db        *pgxpool.Pool
	publisher Publisher
	log       *zap.Logger
	cfg       DispatcherConfig
}

func NewDispatcher(db *pgxpool.Pool, publisher Publisher, log *zap.Logger, cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{db: db, publisher: publisher, log: log, cfg: cfg.withDefaults()}
}

// Run polls on cfg.PollInterval until ctx is cancelled. Each tick
// processes up to one batch; a processing error on the batch is logged
// and the loop continues on the next tick (never loses a row, matching
// spec §4.5's "never lose the row").
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.pollOnce(ctx); err != nil {
				d.log.Error("outbox dispatch batch failed", zap.Error(err))
			}
		}
	}
}

type outboxRow struct {
	id            uuid.UUID
	eventType     string
	payload       []byte
	attemptCount  int
}

// pollOnce claims one batch with SELECT ... FOR UPDATE SKIP LOCKED so
// multiple dispatcher instances can run concurrently without
// double-publishing (spec §4.5/§5's "one dispatcher goroutine per outbox
// shard" note — this is the per-shard unit of work). The batch spans
// every tenant by design, so the transaction runs through AdminScope
// (no app.tenant_id set) rather than a tenant-scoped helper; the
// outbox_messages row-level policy admits such sessions explicitly.
func (d *Dispatcher) pollOnce(ctx context.Context) error {
	return tenant.AdminScope(ctx, d.db, d.log, "outbox dispatcher poll", func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id, event_type, payload, attempt_count
			FROM outbox_messages
			WHERE published_at IS NULL AND attempt_count < $1
			ORDER BY created_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED`, d.cfg.MaxAttempts, d.cfg.BatchSize)
		if err != nil {
			return err
		}

		var batch []outboxRow
		for rows.Next() {
			var r outboxRow
			if err := rows.Scan(&r.id, &r.eventType, &r.payload, &r.attemptCount); err != nil {
				rows.Close()
				return err
			}
			batch = append(batch, r)
		}
		rows.Close()
		if rows.Err() != nil {
			return rows.Err()
		}

		for _, r := range batch {
			exchange, routingKey, ok := RouteFor(r.eventType)
			if !ok {
				d.log.Warn("no exchange routing configured for event type; parking", zap.String("event_type", r.eventType))
				if err := d.recordFailure(ctx, tx, r.id, "no exchange routing configured"); err != nil {
					return err
				}
				continue
			}

			pubErr := d.publisher.Publish(ctx, exchange, routingKey, r.payload, d.cfg.ConfirmTimeout)
			if pubErr != nil {
				if err := d.recordFailure(ctx, tx, r.id, pubErr.Error()); err != nil {
					return err
				}
				continue
			}
			if _, err := tx.Exec(ctx, `UPDATE outbox_messages SET published_at = now() WHERE id = $1`, r.id); err != nil {
				return err
			}
		}

		return nil
	})
}

func (d *Dispatcher) recordFailure(ctx context.Context, tx pgx.Tx, id uuid.UUID, lastError string) error {
	_, err := tx.Exec(ctx, `
		UPDATE outbox_messages SET attempt_count = attempt_count + 1, last_error = $1 WHERE id = $2`,
		lastError, id)
	return err
}
