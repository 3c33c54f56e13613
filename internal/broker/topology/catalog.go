// Package topology declares the canonical broker topology of spec §4.1
// and applies/validates/migrates it against a live broker.
package topology

// QueueType mirrors amqp091-go's x-queue-type argument values.
type QueueType string

const (
	QueueTypeQuorum  QueueType = "quorum"
	QueueTypeClassic QueueType = "classic"
)

// ExchangeKind is the AMQP exchange type.
type ExchangeKind string

const (
	ExchangeTopic  ExchangeKind = "topic"
	ExchangeDirect ExchangeKind = "direct"
)

// Exchange is one declared exchange.
type Exchange struct {
	Name    string
	Kind    ExchangeKind
	Durable bool
}

// Queue is one declared queue with its canonical arguments.
type Queue struct {
	Name             string
	Type             QueueType
	DeliveryLimit    int // 0 ⇒ unset
	DeadLetterExchange string
	DeadLetterRoutingKey string
	MaxLength        int // 0 ⇒ unset
	TTLMillis        int // 0 ⇒ unset
	MaxPriority      int // 0 ⇒ unset; quorum queues must not set this
	Lazy             bool
}

// Binding ties a queue to an exchange with a routing key.
type Binding struct {
	Exchange   string
	Queue      string
	RoutingKey string
}

// Catalog is the full canonical topology. The default catalog below is
// a Go literal per spec §9's open question resolution (ownership of the
// canonical set lives in code, not an external file). internal/config
// reads TOPOLOGY_CATALOG_PATH, but no code loads a catalog from that
// path: cmd/topology always uses DefaultCatalog.
type Catalog struct {
	Exchanges []Exchange
	Queues    []Queue
	Bindings  []Binding
}

// DefaultCatalog is the representative surface of spec §4.1.
var DefaultCatalog = Catalog{
	Exchanges: []Exchange{
		{Name: "payments.topic", Kind: ExchangeTopic, Durable: true},
		{Name: "payments.dlq", Kind: ExchangeDirect, Durable: true},
		{Name: "documents.direct", Kind: ExchangeDirect, Durable: true},
		{Name: "dlx.main", Kind: ExchangeTopic, Durable: true},
		{Name: "audit.topic", Kind: ExchangeTopic, Durable: true},
		{Name: "notifications.topic", Kind: ExchangeTopic, Durable: true},
		{Name: "servicing.direct", Kind: ExchangeDirect, Durable: true},
		{Name: "settlement.topic", Kind: ExchangeTopic, Durable: true},
		{Name: "reconciliation.topic", Kind: ExchangeTopic, Durable: true},
		{Name: "escrow.direct", Kind: ExchangeDirect, Durable: true},
		{Name: "remit.topic", Kind: ExchangeTopic, Durable: true},
	},
	Queues: []Queue{
		{Name: "payments.intake", Type: QueueTypeQuorum, DeliveryLimit: 6, DeadLetterExchange: "dlx.main", DeadLetterRoutingKey: "dlq.payments"},
		{Name: "payments.processing", Type: QueueTypeQuorum, DeliveryLimit: 6, DeadLetterExchange: "dlx.main", DeadLetterRoutingKey: "dlq.payments"},
		{Name: "payments.reversal", Type: QueueTypeQuorum, DeliveryLimit: 6, DeadLetterExchange: "dlx.main", DeadLetterRoutingKey: "dlq.payments"},
		{Name: "payments.returned", Type: QueueTypeQuorum, DeliveryLimit: 6, DeadLetterExchange: "dlx.main", DeadLetterRoutingKey: "dlq.payments"},
		{Name: "investor.calculations", Type: QueueTypeQuorum, DeliveryLimit: 6, DeadLetterExchange: "dlx.main", DeadLetterRoutingKey: "dlq.investor"},
		{Name: "investor.clawback", Type: QueueTypeQuorum, DeliveryLimit: 6, DeadLetterExchange: "dlx.main", DeadLetterRoutingKey: "dlq.investor"},
		{Name: "q.forecast", Type: QueueTypeQuorum, DeliveryLimit: 6, DeadLetterExchange: "dlx.main", DeadLetterRoutingKey: "dlq.escrow"},
		{Name: "q.schedule.disbursement", Type: QueueTypeQuorum, DeliveryLimit: 6, DeadLetterExchange: "dlx.main", DeadLetterRoutingKey: "dlq.escrow"},
		{Name: "q.escrow.analysis", Type: QueueTypeQuorum, DeliveryLimit: 6, DeadLetterExchange: "dlx.main", DeadLetterRoutingKey: "dlq.escrow"},
		{Name: "q.remit.aggregate", Type: QueueTypeQuorum, DeliveryLimit: 6, DeadLetterExchange: "dlx.main", DeadLetterRoutingKey: "dlq.remit"},
		{Name: "q.remit.export", Type: QueueTypeQuorum, DeliveryLimit: 6, DeadLetterExchange: "dlx.main", DeadLetterRoutingKey: "dlq.remit"},
		{Name: "q.remit.settle", Type: QueueTypeQuorum, DeliveryLimit: 6, DeadLetterExchange: "dlx.main", DeadLetterRoutingKey: "dlq.remit"},
		{Name: "q.remit.events.audit", Type: QueueTypeClassic, Lazy: true},
		{Name: "notifications.email", Type: QueueTypeQuorum, DeliveryLimit: 6, DeadLetterExchange: "dlx.main", DeadLetterRoutingKey: "dlq.notifications"},
		{Name: "notifications.dashboard", Type: QueueTypeQuorum, DeliveryLimit: 6, DeadLetterExchange: "dlx.main", DeadLetterRoutingKey: "dlq.notifications"},
		{Name: "audit.events", Type: QueueTypeClassic, Lazy: true},
		{Name: "dlq.payments", Type: QueueTypeClassic},
		{Name: "dlq.investor", Type: QueueTypeClassic},
		// dlq.escrow is the one escrow dead-letter queue; an earlier draft
		// also bound q.escrow.dlq to the same dlq.escrow routing key,
		// which would have double-delivered every escrow dead letter.
		{Name: "dlq.escrow", Type: QueueTypeClassic},
		{Name: "dlq.remit", Type: QueueTypeClassic},
		{Name: "dlq.notifications", Type: QueueTypeClassic},
	},
	Bindings: []Binding{
		{Exchange: "payments.topic", Queue: "payments.intake", RoutingKey: "payment.posted"},
		{Exchange: "payments.topic", Queue: "payments.processing", RoutingKey: "payment.*"},
		{Exchange: "payments.topic", Queue: "payments.reversal", RoutingKey: "payment.reversed"},
		{Exchange: "payments.topic", Queue: "payments.returned", RoutingKey: "payment.returned"},
		{Exchange: "settlement.topic", Queue: "investor.calculations", RoutingKey: "investor.distributed"},
		{Exchange: "settlement.topic", Queue: "investor.clawback", RoutingKey: "investor.clawback"},
		{Exchange: "escrow.direct", Queue: "q.forecast", RoutingKey: "escrow.forecast"},
		{Exchange: "escrow.direct", Queue: "q.schedule.disbursement", RoutingKey: "escrow.disbursed"},
		{Exchange: "escrow.direct", Queue: "q.escrow.analysis", RoutingKey: "escrow.analysis"},
		{Exchange: "remit.topic", Queue: "q.remit.aggregate", RoutingKey: "remit.aggregate"},
		{Exchange: "remit.topic", Queue: "q.remit.export", RoutingKey: "remit.export"},
		{Exchange: "remit.topic", Queue: "q.remit.settle", RoutingKey: "remit.settle"},
		{Exchange: "audit.topic", Queue: "q.remit.events.audit", RoutingKey: "remit.#"},
		{Exchange: "notifications.topic", Queue: "notifications.email", RoutingKey: "notification.email"},
		{Exchange: "notifications.topic", Queue: "notifications.dashboard", RoutingKey: "notification.dashboard"},
		{Exchange: "audit.topic", Queue: "audit.events", RoutingKey: "#"},
		{Exchange: "dlx.main", Queue: "dlq.payments", RoutingKey: "dlq.payments"},
		{Exchange: "dlx.main", Queue: "dlq.investor", RoutingKey: "dlq.investor"},
		{Exchange: "dlx.main", Queue: "dlq.escrow", RoutingKey: "dlq.escrow"},
		{Exchange: "dlx.main", Queue: "dlq.remit", RoutingKey: "dlq.remit"},
		{Exchange: "dlx.main", Queue: "dlq.notifications", RoutingKey: "dlq.notifications"},
	},
}

// QuorumPriorityViolation names a queue that illegally combines a
// quorum type with a max-priority argument (spec §4.1's "legacy
// misconfiguration").
type QuorumPriorityViolation struct {
	QueueName string
}

// Validate checks the catalog itself for the quorum+max-priority
// prohibition, independent of any live broker state.
func (c Catalog) Validate() []QuorumPriorityViolation {
	var violations []QuorumPriorityViolation
	for _, q := range c.Queues {
		if q.Type == QueueTypeQuorum && q.MaxPriority > 0 {
			violations = append(violations, QuorumPriorityViolation{QueueName: q.Name})
		}
	}
	return violations
}
