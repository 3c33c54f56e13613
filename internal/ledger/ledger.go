// Package ledger implements the poster and transactional outbox of
// spec §4.4: atomically persisting a new payment, its ledger lines, one
// outbox message, and one hash-chained payment event inside a single
// database transaction, idempotent under retry.
//
// This generalizes the teacher's internal/store Store.PostTransfer
// (pg_advisory_xact_lock idempotency reservation, pgx.Tx, JCS event
// payloads) from a two-account transfer to the full waterfall-allocated
// payment posting algorithm.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loanserve/core/internal/envelope"
	"github.com/loanserve/core/internal/errkind"
	"github.com/loanserve/core/internal/eventlog"
	"github.com/loanserve/core/internal/outbox"
	"github.com/loanserve/core/internal/tenant"
	"github.com/loanserve/core/internal/waterfall"
)

// PostingReadyThreshold is the minimum amount (in cents) below which a
// payment is held pending rematching rather than posted against real
// buckets, per spec §4.3 ("amount below threshold ... allocator still
// runs against notional buckets"). Spec leaves the exact number
// implementation-defined; this package uses $1.00.
const PostingReadyThreshold = 100 // $1.00

// HighRiskScore is the risk score at or above which a payment is held
// pending review instead of posted against real buckets.
const HighRiskScore = 70

// Store is the ledger's database access point.
type Store struct {
	db *pgxpool.Pool
}

// New builds a Store over an already-configured pool.
func New(db *pgxpool.Pool) *Store { return &Store{db: db} }

// PostResult is returned by PostPayment.
type PostResult struct {
	PaymentID uuid.UUID
	IsNew     bool
	State     State
}

// PostPayment runs the algorithm of spec §4.4 inside one transaction:
//
//  1. look up by idempotency key; if found, return the existing payment
//     without writing ledger/outbox/event again.
//  2. insert the payment row with state derived from posting-readiness.
//  3. insert ledger entries (one cash debit, one credit per non-zero
//     waterfall bucket); abort if debits != credits.
//  4. insert the outbox message.
//  5. append the hash-chained payment event.
//  6. commit.
func (s *Store) PostPayment(ctx context.Context, tenantID uuid.UUID, env *envelope.Envelope, outstanding waterfall.Outstanding, order []waterfall.Bucket) (*PostResult, error) {
	if env.IdempotencyKey == "" {
		return nil, fmt.Errorf("%w: envelope missing idempotency key", errkind.ErrValidation)
	}

	var result *PostResult
	err := tenant.Scope(ctx, s.db, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		// Serialize per idempotency key, mirroring the teacher's
		// pg_advisory_xact_lock use in PostTransfer.
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, env.IdempotencyKey); err != nil {
			return fmt.Errorf("%w: acquire idempotency lock: %v", errkind.ErrTransient, err)
		}

		existing, err := lookupByIdempotencyKey(ctx, tx, env.IdempotencyKey)
		if err != nil {
			return err
		}
		if existing != nil {
			result = &PostResult{PaymentID: existing.ID, IsNew: false, State: existing.State}
			return nil
		}

		alloc, err := waterfall.Allocate(env.Payment.AmountCents, outstanding, order)
		if err != nil {
			return fmt.Errorf("%w: %v", errkind.ErrInvariantViolation, err)
		}

		postingReady := isPostingReady(env, alloc)
		allocations := Allocations{
			FeesCents: alloc.Fees, InterestCents: alloc.Interest,
			PrincipalCents: alloc.Principal, EscrowCents: alloc.Escrow, SuspenseCents: alloc.Suspense,
		}
		if !postingReady {
			// Defer real buckets to a later rematching step: ledger
			// lines, the payment row's allocation columns, and the
			// outbox payload all carry the full amount as suspense. The
			// computed waterfall allocation is not persisted.
			allocations = Allocations{SuspenseCents: env.Payment.AmountCents}
		}

		state := StatePosted
		if !postingReady {
			state = StateAllocated
		}

		paymentID := uuid.New()
		loanID := env.Borrower.LoanID
		if err := insertPayment(ctx, tx, tenantID, paymentID, env, state, allocations); err != nil {
			return err
		}

		if err := writeLedgerLines(ctx, tx, tenantID, paymentID, env, allocations); err != nil {
			return err
		}

		payload := paymentPostedPayload{
			PaymentID:   paymentID.String(),
			Envelope:    env,
			Allocations: allocations,
			Status:      string(state),
		}
		if _, err := outbox.Write(ctx, tx, tenantID, "payments", paymentID.String(), "payment.posted", payload); err != nil {
			return err
		}

		if err := eventlog.Lock(ctx, tx, tenantID); err != nil {
			return err
		}
		if _, err := eventlog.Append(ctx, tx, eventlog.AppendParams{
			TenantID:      tenantID,
			PaymentID:     &paymentID,
			EventType:     "payment.posted",
			EventTime:     time.Now().UTC(),
			Actor:         eventlog.ActorSystem,
			ActorID:       "ledger.PostPayment",
			CorrelationID: env.CorrelationID,
			Data:          payload,
		}); err != nil {
			return err
		}

		_ = loanID
		result = &PostResult{PaymentID: paymentID, IsNew: true, State: state}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

type paymentPostedPayload struct {
	PaymentID   string             `json:"payment_id"`
	Envelope    *envelope.Envelope `json:"envelope"`
	Allocations Allocations        `json:"allocations"`
	Status      string             `json:"status"`
}

// isPostingReady implements spec §4.3's posting-readiness gate: loan
// matched, amount at/above threshold, risk score below the high-risk
// cutoff.
func isPostingReady(env *envelope.Envelope, alloc waterfall.Allocation) bool {
	if env.Borrower.LoanID == nil {
		return false
	}
	if env.Payment.AmountCents < PostingReadyThreshold {
		return false
	}
	if env.Risk != nil && env.Risk.Score >= HighRiskScore {
		return false
	}
	return true
}

func lookupByIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) (*Payment, error) {
	var p Payment
	err := tx.QueryRow(ctx, `
		SELECT id, tenant_id, loan_id, channel, idempotency_key, amount_cents, currency,
		       value_date, state, requires_review, risk_score, created_at
		FROM payments WHERE idempotency_key = $1`, key,
	).Scan(&p.ID, &p.TenantID, &p.LoanID, &p.Channel, &p.IdempotencyKey, &p.AmountCents, &p.Currency,
		&p.ValueDate, &p.State, &p.RequiresReview, &p.RiskScore, &p.CreatedAt)
	switch {
	case err == nil:
		return &p, nil
	case errors.Is(err, pgx.ErrNoRows):
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: lookup by idempotency key: %v", errkind.ErrTransient, err)
	}
}

func insertPayment(ctx context.Context, tx pgx.Tx, tenantID, paymentID uuid.UUID, env *envelope.Envelope, state State, alloc Allocations) error {
	riskScore := 0
	if env.Risk != nil {
		riskScore = env.Risk.Score
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO payments(
			id, tenant_id, loan_id, channel, idempotency_key, amount_cents, currency, value_date,
			state, bank_transfer_id, check_number, fees_cents, interest_cents, principal_cents,
			escrow_cents, suspense_cents, requires_review, risk_score, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		paymentID, tenantID, env.Borrower.LoanID, string(env.Source.Channel), env.IdempotencyKey,
		env.Payment.AmountCents, env.Payment.Currency, env.Payment.ValueDate, string(state),
		bankTransferID(env), env.Payment.CheckNumber,
		alloc.FeesCents, alloc.InterestCents, alloc.PrincipalCents, alloc.EscrowCents, alloc.SuspenseCents,
		env.RequiresReview, riskScore, time.Now().UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: idempotency key already exists: %v", errkind.ErrIdempotencyConflict, err)
		}
		return fmt.Errorf("%w: insert payment: %v", errkind.ErrTransient, err)
	}
	return nil
}

func bankTransferID(env *envelope.Envelope) *string {
	if env.External == nil {
		return nil
	}
	return env.External.BankTransferID
}

func writeLedgerLines(ctx context.Context, tx pgx.Tx, tenantID, paymentID uuid.UUID, env *envelope.Envelope, alloc Allocations) error {
	cashAccount := cashAccountFor(string(env.Source.Channel))
	entryDate := env.Payment.ValueDate
	now := time.Now().UTC()

	type line struct {
		accountType AccountType
		accountCode string
		debit       int64
		credit      int64
		description string
	}
	lines := []line{
		{AccountAsset, cashAccount, env.Payment.AmountCents, 0, "cash received"},
	}
	if alloc.FeesCents > 0 {
		lines = append(lines, line{AccountRevenue, "fee.income", 0, alloc.FeesCents, "fee income"})
	}
	if alloc.InterestCents > 0 {
		lines = append(lines, line{AccountRevenue, "interest.income", 0, alloc.InterestCents, "interest income"})
	}
	if alloc.PrincipalCents > 0 {
		lines = append(lines, line{AccountAsset, "loan.receivable", 0, alloc.PrincipalCents, "loan receivable"})
	}
	if alloc.EscrowCents > 0 {
		lines = append(lines, line{AccountLiability, "escrow.liability", 0, alloc.EscrowCents, "escrow liability"})
	}
	if alloc.SuspenseCents > 0 {
		lines = append(lines, line{AccountLiability, "suspense.liability", 0, alloc.SuspenseCents, "suspense liability"})
	}

	var totalDebit, totalCredit int64
	for _, l := range lines {
		totalDebit += l.debit
		totalCredit += l.credit
	}
	if totalDebit != totalCredit {
		return fmt.Errorf("%w: ledger debits %d != credits %d", errkind.ErrInvariantViolation, totalDebit, totalCredit)
	}

	for _, l := range lines {
		_, err := tx.Exec(ctx, `
			INSERT INTO ledger_entries(
				id, tenant_id, payment_id, entry_date, account_type, account_code,
				debit_cents, credit_cents, description, correlation_id, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			uuid.New(), tenantID, paymentID, entryDate, string(l.accountType), l.accountCode,
			l.debit, l.credit, l.description, env.CorrelationID, now,
		)
		if err != nil {
			return fmt.Errorf("%w: insert ledger entry: %v", errkind.ErrTransient, err)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return errkind.Classify(err) == errkind.KindUnknown && containsSQLState(err, "23505")
}

func containsSQLState(err error, code string) bool {
	type sqlStater interface{ SQLState() string }
	var s sqlStater
	for e := err; e != nil; e = errors.Unwrap(e) {
		if ss, ok := e.(sqlStater); ok {
			s = ss
			break
		}
	}
	if s == nil {
		return false
	}
	return s.SQLState() == code
}
