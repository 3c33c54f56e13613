// Command dlq inspects and operates on the dead-letter queues declared
// by internal/broker/topology (spec §4.1's dlx.main fan-out) and on
// parked outbox_messages rows that never reached the broker at all, in
// the same subcommand-over-os.Args style as cmd/topology: list, inspect,
// reprocess, purge, analyze.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loanserve/core/internal/broker"
	"github.com/loanserve/core/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	sub := os.Args[1]
	args := os.Args[2:]

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}

	switch sub {
	case "list":
		runList(cfg)
	case "inspect":
		runInspect(cfg, args)
	case "reprocess":
		runReprocess(cfg, args)
	case "purge":
		runPurge(cfg, args)
	case "analyze":
		runAnalyze(cfg, args)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: dlq <command> [flags]

commands:
  list                                             queue depth per dead-letter queue
  inspect    -queue <name> [-count N]              peek messages without consuming them
  reprocess  -queue <name> -exchange <e> -routing-key <k> [-count N]
                                                    republish messages back onto their original route
  purge      -queue <name>                         discard every message on a dead-letter queue
  analyze    -queue <name> [-count N]               summarize x-death reasons across a queue
  analyze    -source outbox                        summarize parked outbox rows by event_type/last_error`)
}

// mgmtQueue is the subset of RabbitMQ's management API queue
// representation this command reads, same shape as
// internal/broker/topology.Validator's but with the message count this
// command actually needs.
type mgmtQueue struct {
	Name     string `json:"name"`
	Messages int    `json:"messages"`
}

func mgmtGet(cfg *config.Config, path string, out any) error {
	if cfg.BrokerMgmtURL == "" {
		return fmt.Errorf("BROKER_MGMT_URL is required")
	}
	username := envOr("BROKER_MGMT_USER", "guest")
	password := envOr("BROKER_MGMT_PASSWORD", "guest")

	req, err := http.NewRequest(http.MethodGet, cfg.BrokerMgmtURL+path, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(username, password)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("management API returned %d for %s", resp.StatusCode, path)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

var dlqQueues = []string{"dlq.payments", "dlq.investor", "dlq.escrow", "dlq.remit", "dlq.notifications"}

func runList(cfg *config.Config) {
	var queues []mgmtQueue
	if err := mgmtGet(cfg, fmt.Sprintf("/api/queues/%s", url.PathEscape(cfg.BrokerVHost)), &queues); err != nil {
		fmt.Fprintln(os.Stderr, "list:", err)
		os.Exit(1)
	}
	byName := make(map[string]int, len(queues))
	for _, q := range queues {
		byName[q.Name] = q.Messages
	}
	var total int
	for _, name := range dlqQueues {
		n := byName[name]
		total += n
		fmt.Printf("%-20s %d\n", name, n)
	}
	fmt.Printf("OK: %d messages across %d dead-letter queues\n", total, len(dlqQueues))
}

func dial(cfg *config.Config) *broker.Connection {
	if cfg.BrokerURL == "" {
		fmt.Fprintln(os.Stderr, "BROKER_URL is required")
		os.Exit(2)
	}
	conn, err := broker.Dial(cfg.BrokerURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "dial:", err)
		os.Exit(1)
	}
	return conn
}

func runInspect(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	queue := fs.String("queue", "", "dead-letter queue name")
	count := fs.Int("count", 10, "max messages to peek")
	fs.Parse(args)
	if *queue == "" {
		fmt.Fprintln(os.Stderr, "missing -queue")
		os.Exit(2)
	}

	conn := dial(cfg)
	defer conn.Close()
	ch, err := conn.Channel()
	if err != nil {
		fmt.Fprintln(os.Stderr, "channel:", err)
		os.Exit(1)
	}
	defer ch.Close()

	peeked := 0
	for i := 0; i < *count; i++ {
		d, ok, err := ch.Get(*queue, false)
		if err != nil {
			fmt.Fprintln(os.Stderr, "get:", err)
			os.Exit(1)
		}
		if !ok {
			break
		}
		peeked++
		fmt.Printf("--- message %d ---\n", peeked)
		fmt.Printf("x-death: %v\n", d.Headers["x-death"])
		fmt.Printf("body: %s\n", d.Body)
		// Inspect is read-only: requeue every peeked message so the
		// queue's contents are unchanged.
		_ = d.Nack(false, true)
	}
	fmt.Printf("OK: peeked %d messages on %s\n", peeked, *queue)
}

func runReprocess(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("reprocess", flag.ExitOnError)
	queue := fs.String("queue", "", "dead-letter queue name")
	exchange := fs.String("exchange", "", "exchange to republish onto")
	routingKey := fs.String("routing-key", "", "routing key to republish with")
	count := fs.Int("count", 1, "max messages to reprocess")
	fs.Parse(args)
	if *queue == "" || *exchange == "" || *routingKey == "" {
		fmt.Fprintln(os.Stderr, "missing -queue/-exchange/-routing-key")
		os.Exit(2)
	}

	conn := dial(cfg)
	defer conn.Close()
	ch, err := conn.Channel()
	if err != nil {
		fmt.Fprintln(os.Stderr, "channel:", err)
		os.Exit(1)
	}
	defer ch.Close()

	pub, err := broker.NewPublisher(conn)
	if err != nil {
		fmt.Fprintln(os.Stderr, "publisher:", err)
		os.Exit(1)
	}
	defer pub.Close()

	sent := 0
	for i := 0; i < *count; i++ {
		d, ok, err := ch.Get(*queue, false)
		if err != nil {
			fmt.Fprintln(os.Stderr, "get:", err)
			os.Exit(1)
		}
		if !ok {
			break
		}

		headers := amqp.Table{
			"x-reprocessed":     true,
			"x-reprocess-count": reprocessCount(d.Headers) + 1,
		}
		if v, ok := d.Headers["x-message-id"]; ok {
			headers["x-message-id"] = v
		}
		if v, ok := d.Headers["x-tenant-id"]; ok {
			headers["x-tenant-id"] = v
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = pub.PublishWithHeaders(ctx, *exchange, *routingKey, headers, d.Body, 5*time.Second)
		cancel()
		if err != nil {
			fmt.Fprintf(os.Stderr, "republish failed, leaving message on %s: %v\n", *queue, err)
			_ = d.Nack(false, true)
			continue
		}
		_ = d.Ack(false)
		sent++
	}
	fmt.Printf("OK: reprocessed %d/%d messages from %s onto %s/%s\n", sent, *count, *queue, *exchange, *routingKey)
}

func runPurge(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("purge", flag.ExitOnError)
	queue := fs.String("queue", "", "dead-letter queue name")
	fs.Parse(args)
	if *queue == "" {
		fmt.Fprintln(os.Stderr, "missing -queue")
		os.Exit(2)
	}

	conn := dial(cfg)
	defer conn.Close()
	ch, err := conn.Channel()
	if err != nil {
		fmt.Fprintln(os.Stderr, "channel:", err)
		os.Exit(1)
	}
	defer ch.Close()

	n, err := ch.QueuePurge(*queue, false)
	if err != nil {
		fmt.Fprintln(os.Stderr, "purge:", err)
		os.Exit(1)
	}
	fmt.Printf("OK: purged %d messages from %s\n", n, *queue)
}

func runAnalyze(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	source := fs.String("source", "queue", "\"queue\" (AMQP dead-letter queue) or \"outbox\" (parked outbox rows)")
	queue := fs.String("queue", "", "dead-letter queue name (source=queue)")
	count := fs.Int("count", 100, "max messages to sample (source=queue)")
	fs.Parse(args)

	if *source == "outbox" {
		runAnalyzeOutbox(cfg)
		return
	}
	if *queue == "" {
		fmt.Fprintln(os.Stderr, "missing -queue")
		os.Exit(2)
	}

	conn := dial(cfg)
	defer conn.Close()
	ch, err := conn.Channel()
	if err != nil {
		fmt.Fprintln(os.Stderr, "channel:", err)
		os.Exit(1)
	}
	defer ch.Close()

	reasons := make(map[string]int)
	sampled := 0
	for i := 0; i < *count; i++ {
		d, ok, err := ch.Get(*queue, false)
		if err != nil {
			fmt.Fprintln(os.Stderr, "get:", err)
			os.Exit(1)
		}
		if !ok {
			break
		}
		sampled++
		reasons[deathReason(d.Headers)]++
		_ = d.Nack(false, true)
	}

	for reason, n := range reasons {
		fmt.Printf("%-24s %d\n", reason, n)
	}
	fmt.Printf("OK: sampled %d messages on %s\n", sampled, *queue)
}

// runAnalyzeOutbox summarizes parked outbox_messages rows — ones that
// never reached the broker at all because the dispatcher exhausted
// MaxAttempts without a successful publish (spec §4.5's "row is parked,
// alert raised") — grouped by event_type and last_error per SPEC_FULL
// §10's supplemented DLQ-analyze feature.
func runAnalyzeOutbox(cfg *config.Config) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "db connect:", err)
		os.Exit(1)
	}
	defer pool.Close()

	maxAttempts := cfg.OutboxMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}

	rows, err := pool.Query(ctx, `
		SELECT event_type, coalesce(last_error, ''), count(*)
		FROM outbox_messages
		WHERE published_at IS NULL AND attempt_count >= $1
		GROUP BY event_type, coalesce(last_error, '')
		ORDER BY count(*) DESC`, maxAttempts)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	defer rows.Close()

	var total int
	for rows.Next() {
		var eventType, lastError string
		var n int
		if err := rows.Scan(&eventType, &lastError, &n); err != nil {
			fmt.Fprintln(os.Stderr, "scan:", err)
			os.Exit(1)
		}
		total += n
		fmt.Printf("%-28s %-48s %d\n", eventType, lastError, n)
	}
	if err := rows.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "rows:", err)
		os.Exit(1)
	}
	fmt.Printf("OK: %d parked outbox rows (attempt_count >= %d)\n", total, maxAttempts)
}

// reprocessCount reads the x-reprocess-count header a prior reprocess
// attempt may have stamped, so repeated operator reprocessing is visible
// in the count rather than always restarting at 1.
func reprocessCount(headers amqp.Table) int32 {
	switch v := headers["x-reprocess-count"].(type) {
	case int32:
		return v
	case int64:
		return int32(v)
	case int:
		return int32(v)
	default:
		return 0
	}
}

// deathReason pulls the most recent x-death entry's "reason" field, the
// field RabbitMQ sets to e.g. "rejected" or "expired" when it
// dead-letters a message.
func deathReason(headers amqp.Table) string {
	raw, ok := headers["x-death"]
	if !ok {
		return "unknown"
	}
	entries, ok := raw.([]interface{})
	if !ok || len(entries) == 0 {
		return "unknown"
	}
	entry, ok := entries[0].(amqp.Table)
	if !ok {
		return "unknown"
	}
	reason, _ := entry["reason"].(string)
	if reason == "" {
		return "unknown"
	}
	return reason
}
