// Package eventlog implements the append-only, hash-chained payment
// event log of spec §4.6: each event's prev_event_hash must equal the
// previous event's event_hash, with a fixed genesis sentinel for the
// first event of a tenant.
//
// Canonicalization reuses the teacher's RFC 8785 (JCS) approach
// (gowebpki/jcs) rather than a hand-rolled key sort, generalized from a
// DB-trigger-computed hash to an application-computed one: the chain
// must be verifiable offline (Export/Verify) without a database round
// trip, so the app — not a trigger — owns the hash.
package eventlog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
	"github.com/jackc/pgx/v5"

	"github.com/loanserve/core/internal/errkind"
)

// GenesisHash is the fixed, all-zero 32-byte sentinel used as
// prev_event_hash for the first event of a tenant.
var GenesisHash = make([]byte, 32)

// GenesisHashHex is the hex encoding of GenesisHash.
var GenesisHashHex = hex.EncodeToString(GenesisHash)

// Actor identifies who or what caused an event.
type Actor string

const (
	ActorSystem Actor = "system"
	ActorHuman  Actor = "human"
	ActorAI     Actor = "ai"
)

// Event is one row of the payment_events table.
type Event struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	PaymentID     *uuid.UUID
	IngestionID   *uuid.UUID
	EventType     string
	EventTime     time.Time
	Actor         Actor
	ActorID       string
	CorrelationID string
	Data          json.RawMessage
	PrevEventHash []byte
	EventHash     []byte
}

type chainPayload struct {
	PrevEventHash string          `json:"prev_event_hash"`
	Data          json.RawMessage `json:"data"`
	CorrelationID string          `json:"correlation_id"`
	OccurredAt    string          `json:"occurred_at"`
}

// ComputeHash reproduces the spec §4.6 formula:
// SHA-256(canonicalize({prev_event_hash, data, correlation_id, occurred_at})).
func ComputeHash(prevHash []byte, data json.RawMessage, correlationID string, occurredAt time.Time) ([]byte, error) {
	p := chainPayload{
		PrevEventHash: hex.EncodeToString(prevHash),
		Data:          data,
		CorrelationID: correlationID,
		OccurredAt:    occurredAt.UTC().Format(time.RFC3339Nano),
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("eventlog: marshal chain payload: %w", err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("eventlog: canonicalize chain payload: %w", err)
	}
	sum := sha256.Sum256(canon)
	return sum[:], nil
}

// AppendParams describes one event insertion.
type AppendParams struct {
	TenantID      uuid.UUID
	PaymentID     *uuid.UUID
	IngestionID   *uuid.UUID
	EventType     string
	EventTime     time.Time
	Actor         Actor
	ActorID       string
	CorrelationID string
	Data          any
}

// Append inserts the next event in the tenant's chain. It must be
// called with tx already holding the tenant's chain-serialization lock
// (see Lock) so that "SELECT last event" and "INSERT new event" observe
// a consistent view; without that lock, two concurrent inserts could
// both read the same prior hash and corrupt the chain.
func Append(ctx context.Context, tx pgx.Tx, p AppendParams) (*Event, error) {
	if p.EventType == "" || p.CorrelationID == "" {
		return nil, fmt.Errorf("%w: event_type and correlation_id are required", errkind.ErrValidation)
	}
	if p.TenantID == uuid.Nil {
		return nil, fmt.Errorf("%w: tenant id is required", errkind.ErrValidation)
	}
	if p.EventTime.IsZero() {
		p.EventTime = time.Now().UTC()
	}
	// payment_events.event_time is timestamptz (microsecond resolution);
	// truncate before hashing so the hash recomputed from a DB read-back
	// (Verify, ExportRange) always matches the hash stored at insert.
	p.EventTime = p.EventTime.UTC().Truncate(time.Microsecond)

	dataRaw, err := json.Marshal(p.Data)
	if err != nil {
		return nil, fmt.Errorf("eventlog: marshal data: %w", err)
	}

	prevHash := GenesisHash
	var lastTime time.Time
	var lastHash []byte
	err = tx.QueryRow(ctx, `
		SELECT event_time, event_hash FROM payment_events
		WHERE tenant_id = $1
		ORDER BY event_time DESC, id DESC LIMIT 1`, p.TenantID).Scan(&lastTime, &lastHash)
	switch {
	case err == nil:
		prevHash = lastHash
	case err == pgx.ErrNoRows:
		prevHash = GenesisHash
	default:
		return nil, fmt.Errorf("%w: read last event: %v", errkind.ErrTransient, err)
	}

	hash, err := ComputeHash(prevHash, dataRaw, p.CorrelationID, p.EventTime)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errkind.ErrInvariantViolation, err)
	}

	ev := &Event{
		ID:            uuid.New(),
		TenantID:      p.TenantID,
		PaymentID:     p.PaymentID,
		IngestionID:   p.IngestionID,
		EventType:     p.EventType,
		EventTime:     p.EventTime,
		Actor:         p.Actor,
		ActorID:       p.ActorID,
		CorrelationID: p.CorrelationID,
		Data:          dataRaw,
		PrevEventHash: prevHash,
		EventHash:     hash,
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO payment_events(
			id, tenant_id, payment_id, ingestion_id, event_type, event_time, actor, actor_id,
			correlation_id, data, prev_event_hash, event_hash
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10::jsonb,$11,$12)`,
		ev.ID, ev.TenantID, ev.PaymentID, ev.IngestionID, ev.EventType, ev.EventTime, string(ev.Actor), ev.ActorID,
		ev.CorrelationID, ev.Data, ev.PrevEventHash, ev.EventHash,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: insert event: %v", errkind.ErrTransient, err)
	}
	return ev, nil
}

// Lock serializes hash-chain writers for one tenant using a table-level
// advisory lock keyed by the tenant id, reusing the teacher's
// pg_advisory_xact_lock idiom from its idempotency reservation path.
// Hold it for the duration of the transaction that calls Append.
func Lock(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('payment_events:'||$1::text))`, tenantID.String())
	if err != nil {
		return fmt.Errorf("%w: acquire chain lock: %v", errkind.ErrTransient, err)
	}
	return nil
}
