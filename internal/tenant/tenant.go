// Package tenant enforces the row-level tenant isolation discipline of
// spec §4.10: every read or write that touches tenant data must run
// inside a scoped session that has issued `SET LOCAL app.tenant_id` for
// the duration of one transaction, and every service entry point must
// assert that a tenant id is present before doing any work.
package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/loanserve/core/internal/errkind"
)

type ctxKey int

const tenantIDKey ctxKey = iota

// ErrNoTenant is returned by MustFrom when no tenant id has been set on
// the context. It classifies as a policy violation: fail fast, no data
// exposed.
var ErrNoTenant = fmt.Errorf("%w: no tenant id on context", errkind.ErrPolicy)

// WithTenant returns a context carrying tenantID for later retrieval by
// MustFrom. It does not touch the database; Scope is what actually sets
// the session variable.
func WithTenant(ctx context.Context, tenantID uuid.UUID) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// MustFrom asserts that a tenant id is present on ctx and returns it.
// The service methods in internal/ledger, internal/servicing, and
// internal/reconcile do not call it: they take an explicit tenant id,
// which Scope and ReadOnlyScope reject when it is nil.
func MustFrom(ctx context.Context) (uuid.UUID, error) {
	v, ok := ctx.Value(tenantIDKey).(uuid.UUID)
	if !ok || v == uuid.Nil {
		return uuid.Nil, ErrNoTenant
	}
	return v, nil
}

// ParseID validates a tenant id string, failing fast (spec §4.10's "must
// be a well-formed UUID; otherwise fail fast") rather than passing a raw
// string through to the database.
func ParseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: malformed tenant id: %v", errkind.ErrValidation, err)
	}
	return id, nil
}

// Scope acquires a pooled connection, sets app.tenant_id for the
// lifetime of a single transaction, runs fn with that transaction, and
// releases the connection on every exit path. tenantID must be a
// well-formed non-nil UUID or Scope fails fast with ErrValidation.
func Scope(ctx context.Context, pool *pgxpool.Pool, tenantID uuid.UUID, fn func(ctx context.Context, tx pgx.Tx) error) error {
	if tenantID == uuid.Nil {
		return fmt.Errorf("%w: tenant id must not be nil", errkind.ErrValidation)
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("%w: acquire connection: %v", errkind.ErrTransient, err)
	}
	defer conn.Release()

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", errkind.ErrTransient, err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.tenant_id', $1, true)`, tenantID.String()); err != nil {
		return fmt.Errorf("%w: set tenant context: %v", errkind.ErrTransient, err)
	}

	scopedCtx := WithTenant(ctx, tenantID)
	if err := fn(scopedCtx, tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		if errors.Is(err, pgx.ErrTxClosed) {
			return fmt.Errorf("%w: commit: %v", errkind.ErrTransient, err)
		}
		return fmt.Errorf("%w: commit: %v", errkind.ErrTransient, err)
	}
	return nil
}

// ReadOnlyScope is Scope's read-only counterpart for query paths that
// don't need a writable transaction but still must honor row-level
// isolation.
func ReadOnlyScope(ctx context.Context, pool *pgxpool.Pool, tenantID uuid.UUID, fn func(ctx context.Context, tx pgx.Tx) error) error {
	if tenantID == uuid.Nil {
		return fmt.Errorf("%w: tenant id must not be nil", errkind.ErrValidation)
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("%w: acquire connection: %v", errkind.ErrTransient, err)
	}
	defer conn.Release()

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", errkind.ErrTransient, err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.tenant_id', $1, true)`, tenantID.String()); err != nil {
		return fmt.Errorf("%w: set tenant context: %v", errkind.ErrTransient, err)
	}

	scopedCtx := WithTenant(ctx, tenantID)
	if err := fn(scopedCtx, tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// AdminScope is the maintenance access path of spec §4.10: it bypasses
// per-tenant isolation entirely (no SET LOCAL app.tenant_id is issued,
// so row-level policies fall back to their admin-role exemption) and
// must never be reachable from request handlers or consumers. Every
// call logs its reason.
func AdminScope(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger, reason string, fn func(ctx context.Context, tx pgx.Tx) error) error {
	if reason == "" {
		return fmt.Errorf("%w: admin access requires a reason", errkind.ErrValidation)
	}
	logger.Warn("admin db access", zap.String("reason", reason))

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("%w: acquire connection: %v", errkind.ErrTransient, err)
	}
	defer conn.Release()

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", errkind.ErrTransient, err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
