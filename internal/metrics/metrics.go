// Package metrics wires the Prometheus registry used across the
// payment-posting pipeline, broker layer, and servicing engine, grounded
// on the promauto.NewCounter/NewHistogram/NewGauge idiom (spec §5's
// "metrics registry (concurrent-safe)").
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every counter/histogram/gauge the process exports.
type Registry struct {
	registerer prometheus.Registerer

	PaymentsPosted      *prometheus.CounterVec
	PaymentsDuplicate    prometheus.Counter
	PostingDuration      prometheus.Histogram
	OutboxPublished      *prometheus.CounterVec
	OutboxPublishFailed  *prometheus.CounterVec
	OutboxBacklog        prometheus.Gauge
	ConsumerProcessed    *prometheus.CounterVec
	ConsumerPoisoned     *prometheus.CounterVec
	ServicingRunsActive  prometheus.Gauge
	ServicingEventsWritten *prometheus.CounterVec
	ServicingExceptions  *prometheus.CounterVec
	ReconciliationVariance prometheus.Gauge
}

// New constructs a Registry backed by a fresh prometheus.Registry (not
// the global DefaultRegisterer), so tests can instantiate independent
// registries without collector-already-registered panics.
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		registerer: reg,
		PaymentsPosted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loanserve_payments_posted_total",
			Help: "Payments posted, labeled by channel and state.",
		}, []string{"channel", "state"}),
		PaymentsDuplicate: factory.NewCounter(prometheus.CounterOpts{
			Name: "loanserve_payments_duplicate_total",
			Help: "Idempotent retries that matched an existing payment.",
		}),
		PostingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "loanserve_posting_duration_seconds",
			Help:    "Time spent inside PostPayment's transaction.",
			Buckets: prometheus.DefBuckets,
		}),
		OutboxPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loanserve_outbox_published_total",
			Help: "Outbox messages successfully published, by event type.",
		}, []string{"event_type"}),
		OutboxPublishFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loanserve_outbox_publish_failed_total",
			Help: "Outbox publish attempts that failed, by event type.",
		}, []string{"event_type"}),
		OutboxBacklog: factory.NewGauge(prometheus.GaugeOpts{
			Name: "loanserve_outbox_backlog",
			Help: "Unpublished outbox rows observed on the last poll.",
		}),
		ConsumerProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loanserve_consumer_messages_processed_total",
			Help: "Consumer deliveries processed, by queue and outcome.",
		}, []string{"queue", "outcome"}),
		ConsumerPoisoned: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loanserve_consumer_poisoned_total",
			Help: "Deliveries rejected as poison messages, by queue.",
		}, []string{"queue"}),
		ServicingRunsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "loanserve_servicing_runs_active",
			Help: "Servicing runs currently in the running state.",
		}),
		ServicingEventsWritten: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loanserve_servicing_events_written_total",
			Help: "Servicing events written, by event type.",
		}, []string{"event_type"}),
		ServicingExceptions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loanserve_servicing_exceptions_total",
			Help: "Servicing exceptions raised, by severity.",
		}, []string{"severity"}),
		ReconciliationVariance: factory.NewGauge(prometheus.GaugeOpts{
			Name: "loanserve_reconciliation_variance_cents",
			Help: "Absolute value of the most recent reconciliation variance, in cents.",
		}),
	}
}

// Handler returns the /metrics HTTP handler for this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registerer.(prometheus.Gatherer), promhttp.HandlerOpts{})
}
