// Package config loads process configuration from environment variables.
//
// There is no config file format: every setting is a 12-factor env var,
// following the convention of the server this package grew out of
// (LEDGER_DB_DSN, LEDGER_HTTP_ADDR, ...). Required variables fail fast at
// startup rather than surfacing as a nil-pointer deep in a handler.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// ErrMissingRequired is returned when a required environment variable is unset.
var ErrMissingRequired = errors.New("missing required environment variable")

// Config holds every setting the core service reads at startup.
type Config struct {
	DatabaseURL string
	TenantAdmin bool

	BrokerURL    string
	BrokerMgmtURL string
	BrokerVHost  string

	EncryptionKey string
	PIISalt       string

	HTTPAddr        string
	HTTPMaxInflight int

	DBMaxConns    int32
	DBStatementTimeout time.Duration

	OutboxPollInterval  time.Duration
	OutboxBatchSize     int
	OutboxMaxAttempts   int
	OutboxShardCount    int

	ConsumerDeliveryLimit int

	ServicingWorkerTimeout time.Duration
	ServicingPoolSize      int

	TopologyCatalogPath string

	LockoutThreshold           int
	LockoutWindowMinutes       int
	LockoutAutoUnlockMinutes   int

	MetricsAddr string
}

func mustEnv(key string) (string, error) {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingRequired, key)
	}
	return v, nil
}

func optEnv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func optIntEnv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func optDurationEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func optBoolEnv(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

// Load reads and validates configuration from the environment. Required
// settings (DATABASE_URL, BROKER_URL for anything that touches the
// broker) are caller-driven: Load never requires BROKER_URL itself since
// some entry points (the topology validator) substitute BROKER_MGMT_URL
// instead. Callers that need broker publish must check BrokerURL != "".
func Load() (*Config, error) {
	dbURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return nil, err
	}

	cpu := runtime.GOMAXPROCS(0)
	defMaxConns := clamp(cpu*4, 4, 50)

	cfg := &Config{
		DatabaseURL: dbURL,

		BrokerURL:     os.Getenv("BROKER_URL"),
		BrokerMgmtURL: os.Getenv("BROKER_MGMT_URL"),
		BrokerVHost:   optEnv("BROKER_VHOST", "/"),

		EncryptionKey: os.Getenv("ENCRYPTION_KEY"),
		PIISalt:       os.Getenv("PII_SALT"),

		HTTPAddr:        optEnv("LEDGER_HTTP_ADDR", ":8080"),
		HTTPMaxInflight: optIntEnv("LEDGER_HTTP_MAX_INFLIGHT", 64),

		DBMaxConns:         int32(optIntEnv("LEDGER_DB_MAX_CONNS", defMaxConns)),
		DBStatementTimeout: optDurationEnv("LEDGER_DB_STATEMENT_TIMEOUT", 30*time.Second),

		OutboxPollInterval: optDurationEnv("OUTBOX_POLL_INTERVAL", time.Second),
		OutboxBatchSize:    optIntEnv("OUTBOX_BATCH_SIZE", 100),
		OutboxMaxAttempts:  optIntEnv("OUTBOX_MAX_ATTEMPTS", 10),
		OutboxShardCount:   optIntEnv("OUTBOX_SHARD_COUNT", 1),

		ConsumerDeliveryLimit: optIntEnv("CONSUMER_DELIVERY_LIMIT", 6),

		ServicingWorkerTimeout: optDurationEnv("SERVICING_WORKER_TIMEOUT", 10*time.Minute),
		ServicingPoolSize:      optIntEnv("SERVICING_POOL_SIZE", clamp(cpu*2, 2, 32)),

		TopologyCatalogPath: os.Getenv("TOPOLOGY_CATALOG_PATH"),

		LockoutThreshold:         optIntEnv("LOCKOUT_THRESHOLD", 5),
		LockoutWindowMinutes:     optIntEnv("LOCKOUT_WINDOW_MINUTES", 15),
		LockoutAutoUnlockMinutes: optIntEnv("LOCKOUT_AUTO_UNLOCK_MINUTES", 30),

		MetricsAddr: optEnv("METRICS_ADDR", ":9090"),
	}

	cfg.TenantAdmin = optBoolEnv("LEDGER_ADMIN_PATH", false)

	return cfg, nil
}
