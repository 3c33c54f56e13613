package httpapi

import (
	"net/http"
	"os"
	"strconv"
)

// Router wires the payment-intake and maintenance surface, kept on the
// stdlib ServeMux the teacher used rather than a router library — no
// example in the pack reaches for one for a surface this small.
func Router(h *Handlers) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.Healthz)

	mux.HandleFunc("/v1/payments/ach", h.PostPaymentACH)
	mux.HandleFunc("/v1/payments/wire", h.PostPaymentWire)
	mux.HandleFunc("/v1/payments/check", h.PostPaymentCheck)
	mux.HandleFunc("/v1/payments/realtime", h.PostPaymentRealtime)
	mux.HandleFunc("/v1/payments/book", h.PostPaymentBook)
	mux.HandleFunc("/v1/payments/", h.GetPayment) // GET /v1/payments/{uuid}

	mux.HandleFunc("/v1/reconciliations", h.PostReconciliation)
	mux.HandleFunc("/v1/reconciliations/", h.GetReconciliation)

	mux.HandleFunc("/v1/servicing/runs", h.PostServicingRun)
	mux.HandleFunc("/v1/servicing/runs/", h.GetServicingRun)

	mux.HandleFunc("/v1/admin/eventlog/verify", h.GetEventLogVerify)
	mux.HandleFunc("/v1/admin/eventlog/export", h.GetEventLogExport)

	// Backpressure at the edge.
	// Prevents unbounded goroutine/pool queueing when DB is saturated.
	max := mustIntEnv("LEDGER_HTTP_MAX_INFLIGHT", 64)
	return withConcurrencyLimit(mux, max)
}

func mustIntEnv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func withConcurrencyLimit(next http.Handler, max int) http.Handler {
	if max <= 0 {
		max = 64
	}
	sem := make(chan struct{}, max)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case sem <- struct{}{}:
			defer func() { <-sem }()
			next.ServeHTTP(w, r)
		default:
			// Fast fail instead of queueing forever.
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"server busy"}`))
		}
	})
}
