package topology

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Mismatch describes one discrepancy between the canonical catalog and
// the broker's live topology, as reported by the management HTTP API
// (spec §4.1's "validator mode").
type Mismatch struct {
	Kind   string // "missing_queue", "missing_exchange", "wrong_type", "wrong_argument", "quorum_priority"
	Name   string
	Detail string
}

// mgmtQueue is the subset of RabbitMQ's management API queue
// representation this validator reads.
type mgmtQueue struct {
	Name      string         `json:"name"`
	Type      string         `json:"type"`
	Arguments map[string]any `json:"arguments"`
}

type mgmtExchange struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Validator fetches live topology from the broker's management API and
// compares it to a Catalog without declaring anything.
type Validator struct {
	baseURL  string
	vhost    string
	username string
	password string
	client   *http.Client
}

func NewValidator(baseURL, vhost, username, password string) *Validator {
	return &Validator{
		baseURL: baseURL, vhost: vhost, username: username, password: password,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Validate compares the live broker topology to catalog and returns
// every mismatch found; a non-empty result means the caller should exit
// non-zero (spec §4.1/§6).
func (v *Validator) Validate(catalog Catalog) ([]Mismatch, error) {
	var mismatches []Mismatch

	liveExchanges, err := v.fetchExchanges()
	if err != nil {
		return nil, err
	}
	liveByName := make(map[string]mgmtExchange, len(liveExchanges))
	for _, e := range liveExchanges {
		liveByName[e.Name] = e
	}
	for _, ex := range catalog.Exchanges {
		live, ok := liveByName[ex.Name]
		if !ok {
			mismatches = append(mismatches, Mismatch{Kind: "missing_exchange", Name: ex.Name})
			continue
		}
		if live.Type != string(ex.Kind) {
			mismatches = append(mismatches, Mismatch{Kind: "wrong_type", Name: ex.Name,
				Detail: fmt.Sprintf("expected %s, got %s", ex.Kind, live.Type)})
		}
	}

	liveQueues, err := v.fetchQueues()
	if err != nil {
		return nil, err
	}
	liveQByName := make(map[string]mgmtQueue, len(liveQueues))
	for _, q := range liveQueues {
		liveQByName[q.Name] = q
	}
	for _, q := range catalog.Queues {
		if q.Type == QueueTypeQuorum && q.MaxPriority > 0 {
			mismatches = append(mismatches, Mismatch{Kind: "quorum_priority", Name: q.Name,
				Detail: "catalog itself declares a quorum queue with max-priority"})
		}
		live, ok := liveQByName[q.Name]
		if !ok {
			mismatches = append(mismatches, Mismatch{Kind: "missing_queue", Name: q.Name})
			continue
		}
		wantType := "classic"
		if q.Type == QueueTypeQuorum {
			wantType = "quorum"
		}
		if live.Type != "" && live.Type != wantType {
			mismatches = append(mismatches, Mismatch{Kind: "wrong_type", Name: q.Name,
				Detail: fmt.Sprintf("expected %s, got %s", wantType, live.Type)})
		}
		if liveMaxPriority, ok := live.Arguments["x-max-priority"]; ok && live.Type == "quorum" {
			mismatches = append(mismatches, Mismatch{Kind: "quorum_priority", Name: q.Name,
				Detail: fmt.Sprintf("live quorum queue carries x-max-priority=%v", liveMaxPriority)})
		}
		for key, want := range queueArgs(q) {
			if key == "x-queue-type" {
				continue
			}
			if got, ok := live.Arguments[key]; !ok || fmt.Sprint(got) != fmt.Sprint(want) {
				mismatches = append(mismatches, Mismatch{Kind: "wrong_argument", Name: q.Name,
					Detail: fmt.Sprintf("%s: expected %v, got %v", key, want, got)})
			}
		}
	}

	return mismatches, nil
}

func (v *Validator) fetchQueues() ([]mgmtQueue, error) {
	var queues []mgmtQueue
	if err := v.get(fmt.Sprintf("/api/queues/%s", url.PathEscape(v.vhost)), &queues); err != nil {
		return nil, err
	}
	return queues, nil
}

func (v *Validator) fetchExchanges() ([]mgmtExchange, error) {
	var exchanges []mgmtExchange
	if err := v.get(fmt.Sprintf("/api/exchanges/%s", url.PathEscape(v.vhost)), &exchanges); err != nil {
		return nil, err
	}
	return exchanges, nil
}

func (v *Validator) get(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, v.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("topology: build management request: %w", err)
	}
	req.SetBasicAuth(v.username, v.password)

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("topology: management request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("topology: management API returned %d for %s", resp.StatusCode, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("topology: decode management response: %w", err)
	}
	return nil
}
