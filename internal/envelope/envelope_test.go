package envelope

import (
	"strings"
	"testing"
	"time"
)

func mkLoanID(s string) *string { return &s }

func TestIdempotencyKeyStableUnderCaseAndWhitespace(t *testing.T) {
	valueDate := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	k1 := IdempotencyKey(ChannelACH, "TRC-1", valueDate, 150000, mkLoanID("17"))
	k2 := IdempotencyKey(ChannelACH, "  trc-1 ", valueDate, 150000, mkLoanID("17"))
	if k1 != k2 {
		t.Fatalf("expected stable key under case/whitespace, got %s vs %s", k1, k2)
	}
}

func TestIdempotencyKeyDiffersOnAmount(t *testing.T) {
	valueDate := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	k1 := IdempotencyKey(ChannelACH, "TRC-1", valueDate, 150000, mkLoanID("17"))
	k2 := IdempotencyKey(ChannelACH, "TRC-1", valueDate, 150001, mkLoanID("17"))
	if k1 == k2 {
		t.Fatalf("expected different keys for different amounts")
	}
}

func TestIdempotencyKeyNoneLoan(t *testing.T) {
	valueDate := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	k1 := IdempotencyKey(ChannelWire, "ref", valueDate, 100, nil)
	k2 := IdempotencyKey(ChannelWire, "ref", valueDate, 100, mkLoanID(""))
	if k1 != k2 {
		t.Fatalf("expected nil loan id and empty loan id to hash the same 'none' bucket")
	}
}

func TestValidateACHRequiresRoutingAndAccount(t *testing.T) {
	e := FromACHPayload(ACHPayload{
		MessageID: "m1", CorrelationID: "c1",
		OccurredAt: time.Now(), AmountCents: 1000,
		ValueDate: time.Now(), Reference: "ref",
	})
	// Clear required fields to trigger validation failure.
	e.Payment.RoutingNumber = nil
	e.Payment.AccountMask = nil

	err := Validate(e)
	if err == nil {
		t.Fatal("expected validation error")
	}
	verr, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	joined := strings.Join(verr.Reasons, "; ")
	if !strings.Contains(joined, "routing") || !strings.Contains(joined, "account mask") {
		t.Fatalf("expected routing+account reasons, got %v", verr.Reasons)
	}
}

func TestValidateWireRequiresReference(t *testing.T) {
	e := FromWirePayload(WirePayload{
		MessageID: "m1", CorrelationID: "c1",
		OccurredAt: time.Now(), AmountCents: 500000,
		ValueDate: time.Now(), Reference: "",
	})
	if err := Validate(e); err == nil {
		t.Fatal("expected validation error for missing wire reference")
	}
}

func TestValidateUnknownLoanMarksRequiresReview(t *testing.T) {
	e := FromWirePayload(WirePayload{
		MessageID: "m1", CorrelationID: "c1",
		OccurredAt: time.Now(), AmountCents: 500000,
		ValueDate: time.Now(), Reference: "ref-1",
	})
	if err := Validate(e); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if !e.RequiresReview {
		t.Fatal("expected requires_review=true for unmatched loan")
	}
}

func TestScoreRiskUnmatchedWireScenario(t *testing.T) {
	e := FromWirePayload(WirePayload{
		MessageID: "m1", CorrelationID: "c1",
		OccurredAt: time.Now(), AmountCents: 500000,
		ValueDate: time.Now(), Reference: "ref-1",
	})
	risk := ScoreRisk(e)
	if risk.Score < 20 {
		t.Fatalf("expected risk score >= 20 for missing loan id, got %d", risk.Score)
	}
}

func TestScoreRiskCapsAt100(t *testing.T) {
	rc := "R01"
	e := FromACHPayload(ACHPayload{
		MessageID: "m1", CorrelationID: "c1",
		OccurredAt: time.Now(), AmountCents: 200_000_00,
		ValueDate: time.Now(), Reference: "ref-1",
		ReturnCode: &rc,
	})
	e.Payment.RoutingNumber = nil
	e.Payment.AccountMask = nil
	risk := ScoreRisk(e)
	if risk.Score > 100 {
		t.Fatalf("expected capped score, got %d", risk.Score)
	}
}

func TestValidateRejectsBadChannel(t *testing.T) {
	e := FromWirePayload(WirePayload{
		MessageID: "m1", CorrelationID: "c1",
		OccurredAt: time.Now(), AmountCents: 100,
		ValueDate: time.Now(), Reference: "ref",
	})
	e.Source.Channel = "smoke_signal"
	e.Payment.Method = "smoke_signal"
	if err := Validate(e); err == nil {
		t.Fatal("expected validation error for unknown channel")
	}
}

func TestValidateRejectsNonUSD(t *testing.T) {
	e := FromWirePayload(WirePayload{
		MessageID: "m1", CorrelationID: "c1",
		OccurredAt: time.Now(), AmountCents: 100,
		ValueDate: time.Now(), Reference: "ref",
	})
	e.Payment.Currency = "EUR"
	if err := Validate(e); err == nil {
		t.Fatal("expected validation error for non-USD currency")
	}
}
