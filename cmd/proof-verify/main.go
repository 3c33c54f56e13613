// Command proof-verify checks a hash-chain export produced by GET
// /v1/admin/eventlog/export (internal/eventlog.Export) offline, without
// DB access. It checks that the first event links to the genesis hash,
// that every prev_event_hash equals the previous event's event_hash, that
// every event_hash is valid hex, and that the export's chain_valid flag
// is true. It does not recompute event hashes from event data and does
// not check export_hash, so it is not the full check that
// internal/eventlog.Verify runs in the database.
package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
)

type exportedEvent struct {
	ID            string          `json:"id"`
	EventType     string          `json:"event_type"`
	EventTime     string          `json:"event_time"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
	PrevEventHash string          `json:"prev_event_hash"`
	EventHash     string          `json:"event_hash"`
}

type export struct {
	StartDate   string          `json:"start_date"`
	EndDate     string          `json:"end_date"`
	TotalEvents int             `json:"total_events"`
	ChainValid  bool            `json:"chain_valid"`
	ExportedAt  string          `json:"exported_at"`
	Events      []exportedEvent `json:"events"`
	ExportHash  string          `json:"export_hash"`
}

// genesisHashHex is the hex form of internal/eventlog.GenesisHash, a
// fixed all-zero 32-byte sentinel: the expected prev_event_hash of the
// first event in any chain.
var genesisHashHex = hex.EncodeToString(make([]byte, 32))

func main() {
	inPath := flag.String("in", "", "JSON export from GET /v1/admin/eventlog/export")
	flag.Parse()

	if *inPath == "" {
		fmt.Fprintln(os.Stderr, "missing -in")
		os.Exit(2)
	}

	raw, err := os.ReadFile(*inPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(2)
	}

	var exp export
	if err := json.Unmarshal(raw, &exp); err != nil {
		fmt.Fprintln(os.Stderr, "parse:", err)
		os.Exit(2)
	}
	if len(exp.Events) == 0 {
		fmt.Fprintln(os.Stderr, "FAIL: empty export")
		os.Exit(1)
	}

	expectedPrev := genesisHashHex
	for i, ev := range exp.Events {
		if ev.PrevEventHash != expectedPrev {
			fmt.Fprintf(os.Stderr, "FAIL: prev_event_hash mismatch at index=%d id=%s\nexpected=%s\ngot=%s\n",
				i, ev.ID, expectedPrev, ev.PrevEventHash)
			os.Exit(1)
		}
		if _, err := hex.DecodeString(ev.EventHash); err != nil {
			fmt.Fprintf(os.Stderr, "FAIL: invalid event_hash hex at index=%d: %v\n", i, err)
			os.Exit(1)
		}
		expectedPrev = ev.EventHash
	}

	if !exp.ChainValid {
		fmt.Fprintln(os.Stderr, "FAIL: export's own chain_valid flag is false")
		os.Exit(1)
	}

	sum := sha256.Sum256(raw)
	fmt.Printf("OK: chain verified (%d events). head=%s file_sha256=%s\n",
		len(exp.Events), expectedPrev, hex.EncodeToString(sum[:]))
}
