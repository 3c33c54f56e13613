// Package httpapi is the payment-intake and maintenance HTTP surface of
// spec §6, generalized from the teacher's CreateAccount/PostTransfer/
// Balance handlers: one intake endpoint per channel normalizes into
// internal/envelope and posts through internal/ledger, plus maintenance
// endpoints for reconciliation, servicing runs, and the hash-chain
// verify/export tools.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/loanserve/core/internal/domain"
	"github.com/loanserve/core/internal/envelope"
	"github.com/loanserve/core/internal/errkind"
	"github.com/loanserve/core/internal/eventlog"
	"github.com/loanserve/core/internal/ledger"
	"github.com/loanserve/core/internal/reconcile"
	"github.com/loanserve/core/internal/servicing"
	"github.com/loanserve/core/internal/tenant"
	"github.com/loanserve/core/internal/waterfall"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func waterfallOutstanding(o domain.OutstandingRequest) waterfall.Outstanding {
	return waterfall.Outstanding{
		Fees: o.FeesCents, Interest: o.InterestCents, Principal: o.PrincipalCents, Escrow: o.EscrowCents,
	}
}

// Handlers bundles the service-layer stores the HTTP surface dispatches
// into. Each handler does its own tenant resolution and error mapping;
// there is no shared middleware stack beyond the concurrency limiter in
// router.go, mirroring the teacher's flat handler style.
type Handlers struct {
	db        *pgxpool.Pool
	ledger    *ledger.Store
	reconcile *reconcile.Store
	servicing *servicing.Store
	log       *zap.Logger
}

// NewHandlers wires a Handlers over an already-migrated pool.
func NewHandlers(db *pgxpool.Pool, log *zap.Logger) *Handlers {
	return &Handlers{
		db:        db,
		ledger:    ledger.New(db),
		reconcile: reconcile.New(db),
		servicing: servicing.New(db),
		log:       log,
	}
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, kind errkind.Kind, msg string) {
	writeJSON(w, code, map[string]any{"error": msg, "kind": kind})
}

// httpStatusForErr maps the spec §7 error taxonomy to an HTTP status,
// generalizing the teacher's httpStatusForErr switch from three sentinel
// errors to the full internal/errkind.Kind set.
func httpStatusForErr(err error) (int, errkind.Kind) {
	if err == nil {
		return http.StatusOK, errkind.KindUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, errkind.KindTransient
	}
	if errors.Is(err, context.Canceled) {
		return http.StatusRequestTimeout, errkind.KindTransient
	}

	kind := errkind.Classify(err)
	switch kind {
	case errkind.KindValidation:
		return http.StatusBadRequest, kind
	case errkind.KindNotFound:
		return http.StatusNotFound, kind
	case errkind.KindDuplicate, errkind.KindConflict:
		return http.StatusConflict, kind
	case errkind.KindPolicy:
		return http.StatusForbidden, kind
	case errkind.KindTransient:
		return http.StatusServiceUnavailable, kind
	default:
		return http.StatusInternalServerError, kind
	}
}

func publicErrMessage(code int, err error) string {
	if code >= 500 {
		return "internal error"
	}
	return err.Error()
}

func (h *Handlers) writeServiceErr(w http.ResponseWriter, err error) {
	code, kind := httpStatusForErr(err)
	writeErr(w, code, kind, publicErrMessage(code, err))
}

// tenantFromRequest resolves the X-Tenant-Id header into a UUID, failing
// fast per spec §4.10 rather than letting an empty/malformed id reach a
// query.
func tenantFromRequest(r *http.Request) (uuid.UUID, error) {
	raw := r.Header.Get("X-Tenant-Id")
	if raw == "" {
		return uuid.Nil, tenant.ErrNoTenant
	}
	return tenant.ParseID(raw)
}

func correlationID(r *http.Request, fallback string) string {
	if fallback != "" {
		return fallback
	}
	if h := r.Header.Get("X-Correlation-Id"); h != "" {
		return h
	}
	return uuid.New().String()
}

// PostPaymentACH handles POST /v1/payments/ach.
func (h *Handlers) PostPaymentACH(w http.ResponseWriter, r *http.Request) {
	h.intake(w, r, func(req domain.PaymentIntakeRequest) *envelope.Envelope {
		return envelope.FromACHPayload(envelope.ACHPayload{
			MessageID: req.MessageID, CorrelationID: req.CorrelationID, OccurredAt: time.Now().UTC(),
			LoanID: req.LoanID, AmountCents: req.AmountCents, ValueDate: req.ValueDate, Reference: req.Reference,
			RoutingNumber: req.RoutingNumber, AccountMask: req.AccountMask, ReturnCode: req.ReturnCode,
			SECCode: req.SECCode, Provider: req.Provider, BatchID: req.BatchID,
		})
	})
}

// PostPaymentWire handles POST /v1/payments/wire.
func (h *Handlers) PostPaymentWire(w http.ResponseWriter, r *http.Request) {
	h.intake(w, r, func(req domain.PaymentIntakeRequest) *envelope.Envelope {
		return envelope.FromWirePayload(envelope.WirePayload{
			MessageID: req.MessageID, CorrelationID: req.CorrelationID, OccurredAt: time.Now().UTC(),
			LoanID: req.LoanID, AmountCents: req.AmountCents, ValueDate: req.ValueDate, Reference: req.Reference,
			BankTransferID: req.BankTransferID, Provider: req.Provider,
		})
	})
}

// PostPaymentCheck handles POST /v1/payments/check.
func (h *Handlers) PostPaymentCheck(w http.ResponseWriter, r *http.Request) {
	h.intake(w, r, func(req domain.PaymentIntakeRequest) *envelope.Envelope {
		return envelope.FromCheckPayload(envelope.CheckPayload{
			MessageID: req.MessageID, CorrelationID: req.CorrelationID, OccurredAt: time.Now().UTC(),
			LoanID: req.LoanID, AmountCents: req.AmountCents, ValueDate: req.ValueDate,
			CheckNumber: req.CheckNumber, ImageURI: req.ImageURI, ImageHash: req.ImageHash, Provider: req.Provider,
		})
	})
}

// PostPaymentRealtime handles POST /v1/payments/realtime.
func (h *Handlers) PostPaymentRealtime(w http.ResponseWriter, r *http.Request) {
	h.intake(w, r, func(req domain.PaymentIntakeRequest) *envelope.Envelope {
		return envelope.FromRealtimePayload(envelope.RealtimePayload{
			MessageID: req.MessageID, CorrelationID: req.CorrelationID, OccurredAt: time.Now().UTC(),
			LoanID: req.LoanID, AmountCents: req.AmountCents, ValueDate: req.ValueDate, Reference: req.Reference,
			PSPID: req.PSPID, Provider: req.Provider,
		})
	})
}

// PostPaymentBook handles POST /v1/payments/book.
func (h *Handlers) PostPaymentBook(w http.ResponseWriter, r *http.Request) {
	h.intake(w, r, func(req domain.PaymentIntakeRequest) *envelope.Envelope {
		return envelope.FromBookPayload(envelope.BookPayload{
			MessageID: req.MessageID, CorrelationID: req.CorrelationID, OccurredAt: time.Now().UTC(),
			LoanID: req.LoanID, AmountCents: req.AmountCents, ValueDate: req.ValueDate, Reference: req.Reference,
		})
	})
}

// intake is the shared body of every channel endpoint: decode, build the
// channel-specific envelope, validate, score risk, derive the
// idempotency key, and post.
func (h *Handlers) intake(w http.ResponseWriter, r *http.Request, build func(domain.PaymentIntakeRequest) *envelope.Envelope) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, errkind.KindValidation, "method not allowed")
		return
	}

	tenantID, err := tenantFromRequest(r)
	if err != nil {
		writeErr(w, http.StatusUnauthorized, errkind.KindPolicy, err.Error())
		return
	}

	var req domain.PaymentIntakeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, errkind.KindValidation, "invalid json")
		return
	}
	req.CorrelationID = correlationID(r, req.CorrelationID)
	if req.MessageID == "" {
		req.MessageID = uuid.New().String()
	}

	env := build(req)
	env.Risk = riskPtr(envelope.ScoreRisk(env))
	envelope.DeriveIdempotencyKey(env)

	if err := envelope.Validate(env); err != nil {
		h.writeServiceErr(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	outstanding := waterfallOutstanding(req.Outstanding)
	result, err := h.ledger.PostPayment(ctx, tenantID, env, outstanding, nil)
	if err != nil {
		h.writeServiceErr(w, err)
		return
	}

	code := http.StatusOK
	if result.IsNew {
		code = http.StatusCreated
	}
	writeJSON(w, code, domain.PaymentPostedResponse{
		PaymentID: result.PaymentID, IsNew: result.IsNew, State: string(result.State),
	})
}

func riskPtr(r envelope.Risk) *envelope.Risk { return &r }

// GetPayment handles GET /v1/payments/{uuid}.
func (h *Handlers) GetPayment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, errkind.KindValidation, "method not allowed")
		return
	}
	tenantID, err := tenantFromRequest(r)
	if err != nil {
		writeErr(w, http.StatusUnauthorized, errkind.KindPolicy, err.Error())
		return
	}
	id, err := uuid.Parse(strings.TrimPrefix(r.URL.Path, "/v1/payments/"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, errkind.KindValidation, "invalid payment id")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	p, err := h.ledger.Get(ctx, tenantID, id)
	if err != nil {
		h.writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// PostReconciliation handles POST /v1/reconciliations.
func (h *Handlers) PostReconciliation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, errkind.KindValidation, "method not allowed")
		return
	}
	tenantID, err := tenantFromRequest(r)
	if err != nil {
		writeErr(w, http.StatusUnauthorized, errkind.KindPolicy, err.Error())
		return
	}
	var req domain.ReconciliationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, errkind.KindValidation, "invalid json")
		return
	}
	bankTotal, err := decimal.NewFromString(req.BankTotal)
	if err != nil {
		writeErr(w, http.StatusBadRequest, errkind.KindValidation, "bank_total must be a decimal string")
		return
	}
	sorTotal, err := decimal.NewFromString(req.SORTotal)
	if err != nil {
		writeErr(w, http.StatusBadRequest, errkind.KindValidation, "sor_total must be a decimal string")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	rec, err := h.reconcile.Record(ctx, tenantID, req.Channel, req.PeriodStart, req.PeriodEnd, bankTotal, sorTotal)
	if err != nil {
		h.writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, domain.ReconciliationResponse{
		ID: rec.ID, Status: rec.Status, Variance: rec.Variance.StringFixed(2),
	})
}

// GetReconciliation handles GET /v1/reconciliations/{uuid}.
func (h *Handlers) GetReconciliation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, errkind.KindValidation, "method not allowed")
		return
	}
	tenantID, err := tenantFromRequest(r)
	if err != nil {
		writeErr(w, http.StatusUnauthorized, errkind.KindPolicy, err.Error())
		return
	}
	id, err := uuid.Parse(strings.TrimPrefix(r.URL.Path, "/v1/reconciliations/"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, errkind.KindValidation, "invalid reconciliation id")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	rec, err := h.reconcile.Get(ctx, tenantID, id)
	if err != nil {
		h.writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// PostServicingRun handles POST /v1/servicing/runs.
func (h *Handlers) PostServicingRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, errkind.KindValidation, "method not allowed")
		return
	}
	tenantID, err := tenantFromRequest(r)
	if err != nil {
		writeErr(w, http.StatusUnauthorized, errkind.KindPolicy, err.Error())
		return
	}
	var req domain.ServicingRunRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, errkind.KindValidation, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	run, err := h.servicing.CreateRun(ctx, tenantID, servicing.StartRequest{
		ValuationDate: req.ValuationDate, LoanIDs: req.LoanIDs, DryRun: req.DryRun,
	})
	if err != nil {
		h.writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, runResponse(run))
}

// GetServicingRun handles GET /v1/servicing/runs/{uuid}.
func (h *Handlers) GetServicingRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, errkind.KindValidation, "method not allowed")
		return
	}
	tenantID, err := tenantFromRequest(r)
	if err != nil {
		writeErr(w, http.StatusUnauthorized, errkind.KindPolicy, err.Error())
		return
	}
	id, err := uuid.Parse(strings.TrimPrefix(r.URL.Path, "/v1/servicing/runs/"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, errkind.KindValidation, "invalid run id")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	run, err := h.servicing.Get(ctx, tenantID, id)
	if err != nil {
		h.writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runResponse(run))
}

func runResponse(run *servicing.Run) domain.ServicingRunResponse {
	return domain.ServicingRunResponse{
		ID: run.ID, Status: run.Status, TotalLoans: run.TotalLoans, LoansProcessed: run.LoansProcessed,
		EventsCreated: run.EventsCreated, ExceptionsCreated: run.ExceptionsCreated,
		ReconciliationStatus: run.ReconciliationStatus,
	}
}

// GetEventLogVerify handles GET /v1/admin/eventlog/verify, walking the
// caller's tenant event chain the same as every other handler — via
// tenantFromRequest and a tenant-scoped transaction. spec §4.10 reserves
// AdminScope for cross-tenant maintenance work; this endpoint only ever
// touches one tenant's chain, so it takes the ordinary path.
func (h *Handlers) GetEventLogVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, errkind.KindValidation, "method not allowed")
		return
	}
	tenantID, err := tenantFromRequest(r)
	if err != nil {
		writeErr(w, http.StatusUnauthorized, errkind.KindPolicy, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	var result *eventlog.VerifyResult
	err = tenant.ReadOnlyScope(ctx, h.db, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		result, err = eventlog.Verify(ctx, tx, tenantID)
		return err
	})
	if err != nil {
		h.writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetEventLogExport handles GET /v1/admin/eventlog/export?start=...&end=...
// (RFC3339 timestamps), dumping the tamper-evident event range of spec
// §4.6 for the caller's tenant. Tenant-scoped like verify above.
func (h *Handlers) GetEventLogExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, errkind.KindValidation, "method not allowed")
		return
	}
	tenantID, err := tenantFromRequest(r)
	if err != nil {
		writeErr(w, http.StatusUnauthorized, errkind.KindPolicy, err.Error())
		return
	}
	start, err := time.Parse(time.RFC3339, r.URL.Query().Get("start"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, errkind.KindValidation, "start must be an RFC3339 timestamp")
		return
	}
	end, err := time.Parse(time.RFC3339, r.URL.Query().Get("end"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, errkind.KindValidation, "end must be an RFC3339 timestamp")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	now := time.Now().UTC()
	var export *eventlog.Export
	err = tenant.ReadOnlyScope(ctx, h.db, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		export, err = eventlog.ExportRange(ctx, tx, tenantID, start, end, now)
		return err
	})
	if err != nil {
		h.writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, export)
}
