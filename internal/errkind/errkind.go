// Package errkind classifies errors into the taxonomy of spec §7
// (invalid input, duplicate, conflict, transient, poison, invariant
// violation, policy) so that both the HTTP surface and the consumer
// framework can decide how to respond from one place.
//
// Sentinel style and names follow the teacher's internal/store
// Err* set (ErrValidation, ErrNotFound, ErrIdempotencyConflict),
// generalized with the kinds the teacher never needed.
package errkind

import "errors"

var (
	// ErrValidation marks an invalid-input failure: the caller's request
	// itself is malformed. No retry; nothing is persisted.
	ErrValidation = errors.New("invalid input")

	// ErrNotFound marks a missing entity lookup.
	ErrNotFound = errors.New("not found")

	// ErrIdempotencyConflict marks an idempotency key that already
	// exists on a stored payment which the caller's lookup did not
	// return (a unique-key violation on insert). Payloads are not
	// compared.
	ErrIdempotencyConflict = errors.New("idempotency key already in use")

	// ErrConflict marks a broker precondition mismatch or a DB
	// unique-constraint conflict that is not an idempotency replay.
	ErrConflict = errors.New("conflict")

	// ErrTransient marks a connection drop, deadlock, or timeout that
	// is safe to retry with backoff.
	ErrTransient = errors.New("transient failure")

	// ErrPoison marks an unparseable or schema-mismatched message that
	// must never be retried in place.
	ErrPoison = errors.New("poison message")

	// ErrInvariantViolation marks a broken domain invariant (ledger
	// debits != credits, hash chain mismatch, allocation sum
	// mismatch). Always aborts the transaction; never retried.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrPolicy marks a tenant-isolation or authorization failure.
	ErrPolicy = errors.New("policy violation")
)

// Kind is the stable taxonomy identifier used in structured error bodies
// and log fields.
type Kind string

const (
	KindValidation Kind = "invalid_input"
	KindDuplicate  Kind = "duplicate"
	KindConflict   Kind = "conflict"
	KindTransient  Kind = "transient"
	KindPoison     Kind = "poison"
	KindInvariant  Kind = "invariant_violation"
	KindPolicy     Kind = "policy"
	KindNotFound   Kind = "not_found"
	KindUnknown    Kind = "unknown"
)

// Classify maps an error to its taxonomy kind by walking the sentinel
// chain with errors.Is. Unrecognized errors classify as KindUnknown,
// which callers must treat as an internal error never to retry blindly.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrIdempotencyConflict):
		return KindDuplicate
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrTransient):
		return KindTransient
	case errors.Is(err, ErrPoison):
		return KindPoison
	case errors.Is(err, ErrInvariantViolation):
		return KindInvariant
	case errors.Is(err, ErrPolicy):
		return KindPolicy
	default:
		return KindUnknown
	}
}

// Retryable reports whether a caller should retry the operation that
// produced err. Duplicates are not errors to the caller (handled as
// success), so they are not part of this decision.
func Retryable(err error) bool {
	switch Classify(err) {
	case KindTransient:
		return true
	default:
		return false
	}
}
