package topology_test

import (
	"testing"

	"github.com/loanserve/core/internal/broker/topology"
)

func TestDefaultCatalogHasNoQuorumPriorityViolations(t *testing.T) {
	violations := topology.DefaultCatalog.Validate()
	if len(violations) != 0 {
		t.Fatalf("expected no violations in the canonical catalog, got %+v", violations)
	}
}

// TestValidateCatchesQuorumPriorityMisconfiguration exercises spec §8
// scenario 6: a queue declared with quorum type and max-priority must be
// flagged, not silently accepted.
func TestValidateCatchesQuorumPriorityMisconfiguration(t *testing.T) {
	bad := topology.Catalog{
		Queues: []topology.Queue{
			{Name: "legacy.priority.queue", Type: topology.QueueTypeQuorum, MaxPriority: 5},
		},
	}
	violations := bad.Validate()
	if len(violations) != 1 || violations[0].QueueName != "legacy.priority.queue" {
		t.Fatalf("expected one violation for legacy.priority.queue, got %+v", violations)
	}
}

func TestEveryBindingReferencesADeclaredQueueAndExchange(t *testing.T) {
	queues := map[string]bool{}
	for _, q := range topology.DefaultCatalog.Queues {
		queues[q.Name] = true
	}
	exchanges := map[string]bool{}
	for _, e := range topology.DefaultCatalog.Exchanges {
		exchanges[e.Name] = true
	}
	for _, b := range topology.DefaultCatalog.Bindings {
		if !queues[b.Queue] {
			t.Errorf("binding references undeclared queue %s", b.Queue)
		}
		if !exchanges[b.Exchange] {
			t.Errorf("binding references undeclared exchange %s", b.Exchange)
		}
	}
}
