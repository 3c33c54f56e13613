package outbox_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/loanserve/core/internal/migrations"
	"github.com/loanserve/core/internal/outbox"
)

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("LEDGER_DB_DSN")
	if dsn == "" {
		t.Skip("LEDGER_DB_DSN not set; skipping integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)
	return pool
}

type fakePublisher struct {
	published []string
	fail      bool
}

func (f *fakePublisher) Publish(ctx context.Context, exchange, routingKey string, body []byte, confirmTimeout time.Duration) error {
	if f.fail {
		return errFake
	}
	f.published = append(f.published, exchange+":"+routingKey)
	return nil
}

var errFake = &fakeErr{"fake publish failure"}

type fakeErr struct{ msg string }

func (e *fakeErr) Error() string { return e.msg }

func TestDispatcherPublishesAndMarksPublished(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	if err := migrations.Migrate(ctx, pool); err != nil {
		t.Fatal(err)
	}

	id := uuid.New()
	_, err := pool.Exec(ctx, `
		INSERT INTO outbox_messages (id, tenant_id, aggregate_type, aggregate_id, event_type, payload, created_at, attempt_count)
		VALUES ($1, $2, 'payments', $3, 'payment.posted', '{}'::jsonb, now(), 0)`, id, uuid.New(), uuid.NewString())
	if err != nil {
		t.Fatal(err)
	}

	fp := &fakePublisher{}
	logger := zap.NewNop()
	d := outbox.NewDispatcher(pool, fp, logger, outbox.DispatcherConfig{PollInterval: 50 * time.Millisecond, BatchSize: 10})

	runCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	_ = d.Run(runCtx)

	var publishedAt *time.Time
	if err := pool.QueryRow(ctx, `SELECT published_at FROM outbox_messages WHERE id = $1`, id).Scan(&publishedAt); err != nil {
		t.Fatal(err)
	}
	if publishedAt == nil {
		t.Fatal("expected published_at to be set")
	}
	if len(fp.published) != 1 || fp.published[0] != "payments.topic:payment.posted" {
		t.Fatalf("unexpected publish calls: %+v", fp.published)
	}
}

func TestDispatcherRecordsFailureAndRetries(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	if err := migrations.Migrate(ctx, pool); err != nil {
		t.Fatal(err)
	}

	id := uuid.New()
	_, err := pool.Exec(ctx, `
		INSERT INTO outbox_messages (id, tenant_id, aggregate_type, aggregate_id, event_type, payload, created_at, attempt_count)
		VALUES ($1, $2, 'payments', $3, 'payment.posted', '{}'::jsonb, now(), 0)`, id, uuid.New(), uuid.NewString())
	if err != nil {
		t.Fatal(err)
	}

	fp := &fakePublisher{fail: true}
	logger := zap.NewNop()
	d := outbox.NewDispatcher(pool, fp, logger, outbox.DispatcherConfig{PollInterval: 50 * time.Millisecond, BatchSize: 10})

	runCtx, cancel := context.WithTimeout(ctx, 120*time.Millisecond)
	defer cancel()
	_ = d.Run(runCtx)

	var attemptCount int
	var lastError *string
	if err := pool.QueryRow(ctx, `SELECT attempt_count, last_error FROM outbox_messages WHERE id = $1`, id).Scan(&attemptCount, &lastError); err != nil {
		t.Fatal(err)
	}
	if attemptCount < 1 {
		t.Fatal("expected attempt_count to be incremented")
	}
	if lastError == nil {
		t.Fatal("expected last_error to be recorded")
	}
}
