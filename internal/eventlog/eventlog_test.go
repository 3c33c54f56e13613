package eventlog

import (
	"encoding/json"
	"testing"
	"time"
)

func TestComputeHashDeterministic(t *testing.T) {
	data := json.RawMessage(`{"b":2,"a":1}`)
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	h1, err := ComputeHash(GenesisHash, data, "corr-1", ts)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := ComputeHash(GenesisHash, data, "corr-1", ts)
	if err != nil {
		t.Fatal(err)
	}
	if string(h1) != string(h2) {
		t.Fatal("expected identical hash for identical inputs")
	}
}

func TestComputeHashKeyOrderIndependent(t *testing.T) {
	// Differently ordered but semantically identical JSON must hash the
	// same.
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	h1, err := ComputeHash(GenesisHash, json.RawMessage(`{"a":1,"b":2}`), "corr", ts)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := ComputeHash(GenesisHash, json.RawMessage(`{"b":2,"a":1}`), "corr", ts)
	if err != nil {
		t.Fatal(err)
	}
	if string(h1) != string(h2) {
		t.Fatal("expected key-order-independent hash")
	}
}

func TestComputeHashSensitiveToPrevHash(t *testing.T) {
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	data := json.RawMessage(`{"x":1}`)
	h1, _ := ComputeHash(GenesisHash, data, "corr", ts)
	other := make([]byte, 32)
	other[0] = 1
	h2, _ := ComputeHash(other, data, "corr", ts)
	if string(h1) == string(h2) {
		t.Fatal("expected different prev_hash to change the resulting hash")
	}
}

func TestGenesisHashIsAllZero(t *testing.T) {
	if len(GenesisHash) != 32 {
		t.Fatalf("expected 32-byte genesis hash, got %d", len(GenesisHash))
	}
	for _, b := range GenesisHash {
		if b != 0 {
			t.Fatalf("expected all-zero genesis hash, found non-zero byte")
		}
	}
}
