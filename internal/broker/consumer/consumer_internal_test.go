package consumer

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/loanserve/core/internal/migrations"
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

type testMessage struct {
	Value string `json:"value"`
}

// TestProcessDedupsOnMessageID exercises spec §4.7's processed-message
// dedup contract: a second delivery of the same message id is acked
// without the handler running again.
func TestProcessDedupsOnMessageID(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	if err := migrations.Migrate(ctx, pool); err != nil {
		t.Fatal(err)
	}

	var handlerCalls int
	c := New[testMessage](nil, pool, zap.NewNop(), Config[testMessage]{
		Queue: "test.queue",
		Handler: func(ctx context.Context, tx pgx.Tx, tenantID string, msg testMessage) Outcome {
			handlerCalls++
			return Success
		},
	})

	tenantID := uuid.New()
	messageID := uuid.NewString()

	outcome1, err := c.process(ctx, messageID, tenantID.String(), testMessage{Value: "a"})
	if err != nil {
		t.Fatal(err)
	}
	if outcome1 != Success {
		t.Fatalf("expected success, got %v", outcome1)
	}

	outcome2, err := c.process(ctx, messageID, tenantID.String(), testMessage{Value: "a"})
	if err != nil {
		t.Fatal(err)
	}
	if outcome2 != Success {
		t.Fatalf("expected success (deduped ack), got %v", outcome2)
	}
	if handlerCalls != 1 {
		t.Fatalf("expected handler to run exactly once, got %d calls", handlerCalls)
	}
}

// TestProcessRollsBackOnRetryableFailure ensures a retryable-failure
// outcome rolls back the processed_messages reservation too, so the
// broker's own redelivery can retry cleanly.
func TestProcessRollsBackOnRetryableFailure(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	if err := migrations.Migrate(ctx, pool); err != nil {
		t.Fatal(err)
	}

	c := New[testMessage](nil, pool, zap.NewNop(), Config[testMessage]{
		Queue: "test.queue",
		Handler: func(ctx context.Context, tx pgx.Tx, tenantID string, msg testMessage) Outcome {
			return RetryableFailure
		},
	})

	tenantID := uuid.New()
	messageID := uuid.NewString()

	outcome, err := c.process(ctx, messageID, tenantID.String(), testMessage{Value: "a"})
	if err != nil {
		t.Fatal(err)
	}
	if outcome != RetryableFailure {
		t.Fatalf("expected retryable failure, got %v", outcome)
	}

	var count int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM processed_messages WHERE message_id = $1`, messageID).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Fatal("expected processed_messages reservation to be rolled back on retryable failure")
	}
}
