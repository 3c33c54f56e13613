package topology

import (
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/loanserve/core/internal/broker"
)

// MigrationAction records what Manager.Apply did for one catalog queue:
// declared as-is, recreated or versioned after a precondition mismatch
// (spec §4.1), or skipped as a quorum+max-priority pair.
type MigrationAction struct {
	QueueName     string
	Action        string // "declared", "recreated", "versioned", "skipped_quorum_priority"
	VersionedName string // set when Action == "versioned"
}

// Manager declares and migrates the canonical topology against a live
// broker.
type Manager struct {
	conn    *broker.Connection
	catalog Catalog
	log     *zap.Logger
}

func NewManager(conn *broker.Connection, catalog Catalog, log *zap.Logger) *Manager {
	return &Manager{conn: conn, catalog: catalog, log: log}
}

// Apply declares every exchange, queue, and binding in the catalog,
// refusing quorum+max-priority pairs, and migrating queues whose live
// arguments mismatch the canonical set per spec §4.1's policy.
func (m *Manager) Apply() ([]MigrationAction, error) {
	var actions []MigrationAction

	ch, err := m.conn.Channel()
	if err != nil {
		return nil, err
	}
	defer ch.Close()

	for _, ex := range m.catalog.Exchanges {
		if err := ch.ExchangeDeclare(ex.Name, string(ex.Kind), ex.Durable, false, false, false, nil); err != nil {
			return actions, fmt.Errorf("topology: declare exchange %s: %w", ex.Name, err)
		}
	}

	for _, q := range m.catalog.Queues {
		if q.Type == QueueTypeQuorum && q.MaxPriority > 0 {
			m.log.Warn("refusing to declare quorum queue with max-priority", zap.String("queue", q.Name))
			actions = append(actions, MigrationAction{QueueName: q.Name, Action: "skipped_quorum_priority"})
			continue
		}

		action, err := m.declareOrMigrate(ch, q)
		if err != nil {
			return actions, err
		}
		actions = append(actions, action)
	}

	for _, b := range m.catalog.Bindings {
		if err := ch.QueueBind(b.Queue, b.RoutingKey, b.Exchange, false, nil); err != nil {
			return actions, fmt.Errorf("topology: bind %s to %s: %w", b.Queue, b.Exchange, err)
		}
	}

	return actions, nil
}

func (m *Manager) declareOrMigrate(ch *amqp.Channel, q Queue) (MigrationAction, error) {
	args := queueArgs(q)
	_, err := ch.QueueDeclare(q.Name, true, false, false, false, args)
	if err == nil {
		return MigrationAction{QueueName: q.Name, Action: "declared"}, nil
	}

	var amqpErr *amqp.Error
	if !errors.As(err, &amqpErr) || amqpErr.Code != amqp.PreconditionFailed {
		return MigrationAction{}, fmt.Errorf("topology: declare queue %s: %w", q.Name, err)
	}

	// The channel amqp091-go hands back after a declare failure is
	// already closed server-side; open a fresh one to inspect and fix up
	// the queue.
	ch2, err := m.conn.Channel()
	if err != nil {
		return MigrationAction{}, fmt.Errorf("topology: reopen channel after mismatch on %s: %w", q.Name, err)
	}
	defer ch2.Close()

	inspected, err := ch2.QueueInspect(q.Name)
	if err != nil {
		return MigrationAction{}, fmt.Errorf("topology: inspect %s: %w", q.Name, err)
	}

	if inspected.Messages == 0 && inspected.Consumers == 0 {
		if _, err := ch2.QueueDelete(q.Name, false, false, false); err != nil {
			return MigrationAction{}, fmt.Errorf("topology: delete empty mismatched queue %s: %w", q.Name, err)
		}
		if _, err := ch2.QueueDeclare(q.Name, true, false, false, false, args); err != nil {
			return MigrationAction{}, fmt.Errorf("topology: recreate %s: %w", q.Name, err)
		}
		if err := m.rebind(ch2, q.Name); err != nil {
			return MigrationAction{}, err
		}
		return MigrationAction{QueueName: q.Name, Action: "recreated"}, nil
	}

	versionedName := q.Name + ".v2"
	if _, err := ch2.QueueDeclare(versionedName, true, false, false, false, args); err != nil {
		return MigrationAction{}, fmt.Errorf("topology: declare versioned queue %s: %w", versionedName, err)
	}
	if err := m.rebind(ch2, versionedName); err != nil {
		return MigrationAction{}, err
	}
	m.log.Warn("queue precondition mismatch on non-empty queue; versioned",
		zap.String("queue", q.Name), zap.String("versioned_name", versionedName))
	return MigrationAction{QueueName: q.Name, Action: "versioned", VersionedName: versionedName}, nil
}

// rebind reapplies every catalog binding whose original target queue
// name matches, against the (possibly versioned) live queue name.
func (m *Manager) rebind(ch *amqp.Channel, liveName string) error {
	originalName := liveName
	if len(liveName) > 3 && liveName[len(liveName)-3:] == ".v2" {
		originalName = liveName[:len(liveName)-3]
	}
	for _, b := range m.catalog.Bindings {
		if b.Queue != originalName {
			continue
		}
		if err := ch.QueueBind(liveName, b.RoutingKey, b.Exchange, false, nil); err != nil {
			return fmt.Errorf("topology: rebind %s to %s: %w", liveName, b.Exchange, err)
		}
	}
	return nil
}

func queueArgs(q Queue) amqp.Table {
	args := amqp.Table{}
	if q.Type == QueueTypeQuorum {
		args["x-queue-type"] = "quorum"
	}
	if q.DeliveryLimit > 0 {
		args["x-delivery-limit"] = q.DeliveryLimit
	}
	if q.DeadLetterExchange != "" {
		args["x-dead-letter-exchange"] = q.DeadLetterExchange
	}
	if q.DeadLetterRoutingKey != "" {
		args["x-dead-letter-routing-key"] = q.DeadLetterRoutingKey
	}
	if q.MaxLength > 0 {
		args["x-max-length"] = q.MaxLength
	}
	if q.TTLMillis > 0 {
		args["x-message-ttl"] = q.TTLMillis
	}
	if q.MaxPriority > 0 {
		args["x-max-priority"] = q.MaxPriority
	}
	if q.Lazy {
		args["x-queue-mode"] = "lazy"
	}
	return args
}
