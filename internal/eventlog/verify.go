package eventlog

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// BrokenLink records one place the chain does not hold.
type BrokenLink struct {
	EventID  uuid.UUID `json:"event_id"`
	Expected string    `json:"expected"`
	Actual   string    `json:"actual"`
	Reason   string    `json:"reason"`
}

// VerifyResult is the outcome of walking a tenant's event chain.
type VerifyResult struct {
	IsValid     bool         `json:"is_valid"`
	BrokenLinks []BrokenLink `json:"broken_links"`
	TotalEvents int          `json:"total_events"`
}

// Verify iterates tenant events in chronological order and checks both
// that prev_event_hash matches the expected running hash and that each
// event's stored hash still matches ComputeHash over its own fields.
// Verify is stateless and idempotent: running it twice over the same
// data produces the same result.
func Verify(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID) (*VerifyResult, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, event_type, event_time, correlation_id, data, prev_event_hash, event_hash
		FROM payment_events
		WHERE tenant_id = $1
		ORDER BY event_time ASC, id ASC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("eventlog: query events: %w", err)
	}
	defer rows.Close()

	result := &VerifyResult{IsValid: true}
	expectedPrev := GenesisHash

	for rows.Next() {
		var (
			id            uuid.UUID
			eventType     string
			eventTime     time.Time
			correlationID string
			data          json.RawMessage
			prevHash      []byte
			storedHash    []byte
		)
		if err := rows.Scan(&id, &eventType, &eventTime, &correlationID, &data, &prevHash, &storedHash); err != nil {
			return nil, fmt.Errorf("eventlog: scan event: %w", err)
		}

		result.TotalEvents++

		if !bytes.Equal(prevHash, expectedPrev) {
			result.IsValid = false
			result.BrokenLinks = append(result.BrokenLinks, BrokenLink{
				EventID:  id,
				Expected: hex.EncodeToString(expectedPrev),
				Actual:   hex.EncodeToString(prevHash),
				Reason:   "prev_event_hash does not match prior event's hash",
			})
		}

		recomputed, err := ComputeHash(prevHash, data, correlationID, eventTime)
		if err != nil {
			return nil, fmt.Errorf("eventlog: recompute hash for %s: %w", id, err)
		}
		if !bytes.Equal(recomputed, storedHash) {
			result.IsValid = false
			result.BrokenLinks = append(result.BrokenLinks, BrokenLink{
				EventID:  id,
				Expected: hex.EncodeToString(recomputed),
				Actual:   hex.EncodeToString(storedHash),
				Reason:   "stored event_hash does not match recomputed hash",
			})
		}

		expectedPrev = storedHash
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("eventlog: iterate events: %w", err)
	}

	return result, nil
}

// Export is the dump produced for a date range: the events themselves
// plus a tamper-evident summary hash over the whole payload, per spec §4.6.
type Export struct {
	StartDate   time.Time       `json:"start_date"`
	EndDate     time.Time       `json:"end_date"`
	TotalEvents int             `json:"total_events"`
	ChainValid  bool            `json:"chain_valid"`
	ExportedAt  time.Time       `json:"exported_at"`
	Events      []ExportedEvent `json:"events"`
	ExportHash  string          `json:"export_hash"`
}

// ExportedEvent is the wire shape of one event inside an Export.
type ExportedEvent struct {
	ID            uuid.UUID       `json:"id"`
	EventType     string          `json:"event_type"`
	EventTime     time.Time       `json:"event_time"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
	PrevEventHash string          `json:"prev_event_hash"`
	EventHash     string          `json:"event_hash"`
}

// ExportRange dumps all events in [start, end] for the scoped tenant
// along with a verification pass and an export hash over the dump.
// exportedAt is supplied by the caller since eventlog must not call
// time.Now() itself to stay deterministically testable.
func ExportRange(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, start, end, exportedAt time.Time) (*Export, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, event_type, event_time, correlation_id, data, prev_event_hash, event_hash
		FROM payment_events
		WHERE tenant_id = $1 AND event_time >= $2 AND event_time <= $3
		ORDER BY event_time ASC, id ASC`, tenantID, start, end)
	if err != nil {
		return nil, fmt.Errorf("eventlog: query export range: %w", err)
	}
	defer rows.Close()

	exp := &Export{StartDate: start, EndDate: end, ExportedAt: exportedAt}
	for rows.Next() {
		var (
			id            uuid.UUID
			eventType     string
			eventTime     time.Time
			correlationID string
			data          json.RawMessage
			prevHash      []byte
			eventHash     []byte
		)
		if err := rows.Scan(&id, &eventType, &eventTime, &correlationID, &data, &prevHash, &eventHash); err != nil {
			return nil, fmt.Errorf("eventlog: scan export row: %w", err)
		}
		exp.Events = append(exp.Events, ExportedEvent{
			ID: id, EventType: eventType, EventTime: eventTime, CorrelationID: correlationID,
			Data: data, PrevEventHash: hex.EncodeToString(prevHash), EventHash: hex.EncodeToString(eventHash),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("eventlog: iterate export rows: %w", err)
	}
	exp.TotalEvents = len(exp.Events)

	verified, err := Verify(ctx, tx, tenantID)
	if err != nil {
		return nil, err
	}
	exp.ChainValid = verified.IsValid

	hashInput, err := json.Marshal(exp)
	if err != nil {
		return nil, fmt.Errorf("eventlog: marshal export for hashing: %w", err)
	}
	sum := sha256.Sum256(hashInput)
	exp.ExportHash = hex.EncodeToString(sum[:])

	return exp, nil
}
